package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

func newRegistry(t *testing.T) (*device.Registry, device.ID) {
	t.Helper()
	r := device.NewRegistry()
	id, err := r.Create("front", device.Capabilities{
		Formats:       []device.PixelFormat{device.PixelFormatGrey},
		MaxResolution: device.Resolution{Width: 4, Height: 4},
	}, device.WithQueueCapacity(2), device.WithPolicy(device.PolicyDropOldest))
	require.NoError(t, err)
	return r, id
}

func TestCollector(t *testing.T) {
	ctx := context.Background()
	r, id := newRegistry(t)
	d, err := r.Lookup(id)
	require.NoError(t, err)
	_, err = d.SetFormat(device.NewFormat(4, 4, device.PixelFormatGrey))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = d.Push(ctx, make([]byte, 16), time.Time{})
		require.NoError(t, err)
	}

	c := NewCollector(r)
	// devices + nine per-device series
	assert.Equal(t, 10, testutil.CollectAndCount(c))

	expected := `
# HELP softcam_device_frames_dropped_total Queued frames evicted by drop-oldest
# TYPE softcam_device_frames_dropped_total counter
softcam_device_frames_dropped_total{device="0",name="front"} 1
# HELP softcam_device_queued_buffers Buffers holding a frame awaiting the consumer
# TYPE softcam_device_queued_buffers gauge
softcam_device_queued_buffers{device="0",name="front"} 2
# HELP softcam_devices Number of live devices
# TYPE softcam_devices gauge
softcam_devices 1
`
	err = testutil.CollectAndCompare(c, strings.NewReader(expected),
		"softcam_device_frames_dropped_total",
		"softcam_device_queued_buffers",
		"softcam_devices")
	assert.NoError(t, err)
}

func TestMetrics_Handler(t *testing.T) {
	r, _ := newRegistry(t)
	m := New(r)
	m.RecordRequest(device.OpStreamOn, pkg.CodeInvalidState)
	m.SessionOpened()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `softcam_control_requests_total{code="invalid-state",op="stream-on"} 1`)
	assert.Contains(t, text, "softcam_control_sessions 1")
	assert.Contains(t, text, "softcam_devices 1")
	assert.Contains(t, text, "go_goroutines")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest(device.OpGetStatus, pkg.CodeOK)
	m.SessionOpened()
	m.SessionClosed()
}
