// Package source produces synthetic frames for devices that have no real
// producer attached.
package source

import (
	"github.com/pkg/errors"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

type rgb struct{ r, g, b int }

// bars are the eight SMPTE-style colour bars, left to right.
var bars = [...]rgb{
	{255, 255, 255}, // white
	{255, 255, 0},   // yellow
	{0, 255, 255},   // cyan
	{0, 255, 0},     // green
	{255, 0, 255},   // magenta
	{255, 0, 0},     // red
	{0, 0, 255},     // blue
	{0, 0, 0},       // black
}

// yuv converts to BT.601 studio-swing YCbCr.
func (c rgb) yuv() (y, u, v byte) {
	y = byte(((66*c.r + 129*c.g + 25*c.b + 128) >> 8) + 16)
	u = byte(((-38*c.r - 74*c.g + 112*c.b + 128) >> 8) + 128)
	v = byte(((112*c.r - 94*c.g - 18*c.b + 128) >> 8) + 128)
	return y, u, v
}

// barAt returns the bar colour at column x, scrolled by shift columns.
func barAt(x, width int, shift uint64) rgb {
	col := (uint64(x) + shift) % uint64(width)
	return bars[col*uint64(len(bars))/uint64(width)]
}

// ColorBars fills buf with vertical colour bars for format f. Each frame
// scrolls the bars left by one column. buf must be exactly f.SizeImage
// bytes.
func ColorBars(f device.Format, frame uint64, buf []byte) error {
	if len(buf) != f.SizeImage || f.Width <= 0 || f.Height <= 0 {
		return errors.Wrapf(pkg.ErrFormatMismatch, "buffer %d bytes for %s", len(buf), f)
	}
	row := buf[:f.BytesPerLine]
	w := f.Width

	switch f.PixelFormat {
	case device.PixelFormatYUYV, device.PixelFormatUYVY:
		uyvy := f.PixelFormat == device.PixelFormatUYVY
		for x := 0; x < w; x += 2 {
			y0, u, v := barAt(x, w, frame).yuv()
			y1 := y0
			if x+1 < w {
				y1, _, _ = barAt(x+1, w, frame).yuv()
			}
			p := row[x*2:]
			if uyvy {
				p[0], p[1] = u, y0
				if x+1 < w {
					p[2], p[3] = v, y1
				}
			} else {
				p[0], p[1] = y0, u
				if x+1 < w {
					p[2], p[3] = y1, v
				}
			}
		}

	case device.PixelFormatRGB24, device.PixelFormatBGR24:
		bgr := f.PixelFormat == device.PixelFormatBGR24
		for x := 0; x < w; x++ {
			c := barAt(x, w, frame)
			p := row[x*3:]
			if bgr {
				p[0], p[1], p[2] = byte(c.b), byte(c.g), byte(c.r)
			} else {
				p[0], p[1], p[2] = byte(c.r), byte(c.g), byte(c.b)
			}
		}

	case device.PixelFormatRGB32:
		for x := 0; x < w; x++ {
			c := barAt(x, w, frame)
			p := row[x*4:]
			p[0], p[1], p[2], p[3] = byte(c.b), byte(c.g), byte(c.r), 0xFF
		}

	case device.PixelFormatGrey:
		for x := 0; x < w; x++ {
			row[x], _, _ = barAt(x, w, frame).yuv()
		}

	default:
		return errors.Wrapf(pkg.ErrInvalidFormat, "no pattern for %s", f.PixelFormat)
	}

	for y := 1; y < f.Height; y++ {
		copy(buf[y*f.BytesPerLine:(y+1)*f.BytesPerLine], row)
	}
	return nil
}
