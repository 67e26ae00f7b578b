package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

func TestColorBars(t *testing.T) {
	tests := []struct {
		format device.PixelFormat
		first  []byte // white
		last   []byte // black, last pixel(s) of the row
	}{
		{device.PixelFormatYUYV, []byte{235, 128, 235, 128}, []byte{16, 128, 16, 128}},
		{device.PixelFormatUYVY, []byte{128, 235, 128, 235}, []byte{128, 16, 128, 16}},
		{device.PixelFormatRGB24, []byte{255, 255, 255}, []byte{0, 0, 0}},
		{device.PixelFormatBGR24, []byte{255, 255, 255}, []byte{0, 0, 0}},
		{device.PixelFormatRGB32, []byte{255, 255, 255, 255}, []byte{0, 0, 0, 255}},
		{device.PixelFormatGrey, []byte{235}, []byte{16}},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			f := device.NewFormat(16, 3, tt.format)
			buf := make([]byte, f.SizeImage)
			require.NoError(t, ColorBars(f, 0, buf))

			for y := 0; y < f.Height; y++ {
				row := buf[y*f.BytesPerLine : (y+1)*f.BytesPerLine]
				assert.Equal(t, tt.first, row[:len(tt.first)], "row %d", y)
				assert.Equal(t, tt.last, row[len(row)-len(tt.last):], "row %d", y)
			}
		})
	}
}

func TestColorBars_Yellow(t *testing.T) {
	f := device.NewFormat(8, 1, device.PixelFormatRGB24)
	buf := make([]byte, f.SizeImage)
	require.NoError(t, ColorBars(f, 0, buf))
	assert.Equal(t, []byte{255, 255, 0}, buf[3:6])

	f = device.NewFormat(8, 1, device.PixelFormatBGR24)
	buf = make([]byte, f.SizeImage)
	require.NoError(t, ColorBars(f, 0, buf))
	assert.Equal(t, []byte{0, 255, 255}, buf[3:6])
}

func TestColorBars_Scroll(t *testing.T) {
	f := device.NewFormat(8, 1, device.PixelFormatGrey)
	a := make([]byte, f.SizeImage)
	b := make([]byte, f.SizeImage)
	require.NoError(t, ColorBars(f, 0, a))
	require.NoError(t, ColorBars(f, 1, b))
	assert.Equal(t, a[1:], b[:7])
	assert.Equal(t, a[0], b[7])
}

func TestColorBars_OddWidth(t *testing.T) {
	f := device.NewFormat(5, 2, device.PixelFormatYUYV)
	buf := make([]byte, f.SizeImage)
	require.NoError(t, ColorBars(f, 3, buf))
}

func TestColorBars_Errors(t *testing.T) {
	f := device.NewFormat(4, 4, device.PixelFormatGrey)
	assert.ErrorIs(t, ColorBars(f, 0, make([]byte, 3)), pkg.ErrFormatMismatch)

	f = device.Format{Width: 4, Height: 4, PixelFormat: device.FourCC('N', 'V', '1', '2'), BytesPerLine: 4, SizeImage: 16}
	assert.ErrorIs(t, ColorBars(f, 0, make([]byte, 16)), pkg.ErrInvalidFormat)
}

func TestGenerator(t *testing.T) {
	r := device.NewRegistry()
	id, err := r.Create("", device.Capabilities{
		Formats:       []device.PixelFormat{device.PixelFormatRGB24},
		MaxResolution: device.Resolution{Width: 32, Height: 32},
	}, device.WithPolicy(device.PolicyDropOldest))
	require.NoError(t, err)
	d, err := r.Lookup(id)
	require.NoError(t, err)

	g := NewGenerator(r, id, 500)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	// Unconfigured ticks are skipped
	assert.Eventually(t, func() bool {
		_, _, skipped := g.Stats()
		return skipped > 0
	}, 2*time.Second, 5*time.Millisecond)

	f, err := d.SetFormat(device.NewFormat(32, 32, device.PixelFormatRGB24))
	require.NoError(t, err)
	require.NoError(t, d.StreamOn())

	b, err := d.Dequeue(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, f.SizeImage, b.Length)
	assert.Len(t, b.Data, f.SizeImage)
	require.NoError(t, d.Release(b.Index))

	cancel()
	require.NoError(t, <-done)
	pushed, _, _ := g.Stats()
	assert.NotZero(t, pushed)
}

func TestGenerator_DeviceDestroyed(t *testing.T) {
	r := device.NewRegistry()
	id, err := r.Create("", device.Capabilities{
		Formats:       []device.PixelFormat{device.PixelFormatGrey},
		MaxResolution: device.Resolution{Width: 4, Height: 4},
	})
	require.NoError(t, err)

	g := NewGenerator(r, id, 200)
	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	require.NoError(t, r.Destroy(id, true))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, pkg.ErrNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after destroy")
	}
}
