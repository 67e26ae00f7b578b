package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softcam/config"
	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
	"github.com/ardnew/softcam/statuslink"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Gateway.Listen = "127.0.0.1:0"
	cfg.Link = config.ListenConfig{Enabled: true, Listen: "127.0.0.1:0"}
	cfg.Devices = []config.DeviceConfig{
		{
			Name:      "bars",
			Formats:   []string{"GREY"},
			MaxWidth:  16,
			MaxHeight: 16,
			Format:    &config.FormatConfig{Width: 16, Height: 16, PixelFormat: "GREY"},
			Pattern:   config.PatternConfig{Enabled: true, FPS: 200},
		},
		{
			Name:    "idle",
			Formats: []string{"YUYV"},
		},
	}
	return cfg
}

func start(t *testing.T, d *Daemon) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-d.Ready():
	case err := <-done:
		stop()
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		stop()
		t.Fatal("daemon not ready")
	}

	var stopped atomic.Bool
	cancel = func() error {
		if !stopped.CompareAndSwap(false, true) {
			return nil
		}
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return context.DeadlineExceeded
		}
	}
	t.Cleanup(func() { _ = cancel() })
	return cancel
}

func TestNew(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)
	defer d.Registry().Close()

	devs := d.Registry().Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, "bars", devs[0].Name)
	assert.Equal(t, device.StateConfigured, devs[0].State())
	assert.Equal(t, device.StateCreated, devs[1].State())
	assert.Len(t, d.generators, 1)
	assert.NotNil(t, d.Dispatcher())
	assert.NotNil(t, d.Metrics())
}

func TestNew_DefaultDevices(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Enabled = false
	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Registry().Close()

	assert.Equal(t, device.DefaultNumDevices, d.Registry().Len())
	for _, dev := range d.Registry().Devices() {
		f, err := dev.Format()
		require.NoError(t, err)
		assert.Equal(t, 1920*1080*2, f.SizeImage)
	}
	assert.Nil(t, d.gateway)
	assert.Nil(t, d.link)
}

func TestNew_Invalid(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.Policy = "sometimes"
	_, err := New(cfg)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	cfg = config.Default()
	cfg.Devices = []config.DeviceConfig{{
		Formats: []string{"GREY"}, MaxWidth: 8, MaxHeight: 8,
		Format: &config.FormatConfig{Width: 8, Height: 8, PixelFormat: "YUYV"},
	}}
	_, err = New(cfg)
	assert.ErrorIs(t, err, pkg.ErrInvalidFormat)
}

func TestRun(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	var hooked atomic.Bool
	d.AddHook("test", func(context.Context) error {
		hooked.Store(true)
		return nil
	})
	stop := start(t, d)

	gw := d.Addr(ListenerGateway)
	require.NotNil(t, gw)
	resp, err := http.Get("http://" + gw.String() + "/v1/devices")
	require.NoError(t, err)
	var snaps []device.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
	resp.Body.Close()
	require.Len(t, snaps, 2)
	assert.Equal(t, "bars", snaps[0].Name)

	link := d.Addr(ListenerLink)
	require.NotNil(t, link)
	dialCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := statuslink.Dial(dialCtx, link.String())
	require.NoError(t, err)
	defer c.Close()

	// The generator fills the queue while nobody streams.
	assert.Eventually(t, func() bool {
		s, err := c.Status(0)
		return err == nil && s.Queued == device.DefaultQueueCapacity
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, stop())
	assert.True(t, hooked.Load())
	assert.Zero(t, d.Registry().Len())
}

func TestRun_ListenError(t *testing.T) {
	cfg := testConfig()
	cfg.Link.Listen = "256.0.0.1:1"
	d, err := New(cfg)
	require.NoError(t, err)

	err = d.Run(context.Background())
	assert.Error(t, err)
	assert.Zero(t, d.Registry().Len())
}
