package device

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/pkg"
)

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String returns the resolution as WIDTHxHEIGHT.
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Capabilities describes what a device can produce.
type Capabilities struct {
	Formats       []PixelFormat `json:"formats"`
	MaxResolution Resolution    `json:"max_resolution"`
}

// Validate checks that the capabilities advertise at least one known pixel
// format and a usable maximum resolution.
func (c *Capabilities) Validate() error {
	if len(c.Formats) == 0 {
		return errors.Wrap(pkg.ErrInvalidFormat, "no pixel formats")
	}
	for _, p := range c.Formats {
		if !p.IsKnown() {
			return errors.Wrapf(pkg.ErrInvalidFormat, "pixel format %s", p)
		}
	}
	if c.MaxResolution.Width <= 0 || c.MaxResolution.Height <= 0 ||
		c.MaxResolution.Width > MaxDimension || c.MaxResolution.Height > MaxDimension {
		return errors.Wrapf(pkg.ErrInvalidFormat, "max resolution %s", c.MaxResolution)
	}
	return nil
}

// Supports reports whether p is one of the advertised formats.
func (c *Capabilities) Supports(p PixelFormat) bool {
	for _, f := range c.Formats {
		if f == p {
			return true
		}
	}
	return false
}

// clone returns a deep copy so callers cannot alias the device's slice.
func (c Capabilities) clone() Capabilities {
	c.Formats = append([]PixelFormat(nil), c.Formats...)
	return c
}

// Format is a negotiated (or candidate) frame layout.
type Format struct {
	Width        int         `json:"width"`
	Height       int         `json:"height"`
	PixelFormat  PixelFormat `json:"pixel_format"`
	BytesPerLine int         `json:"bytes_per_line"`
	SizeImage    int         `json:"size_image"`
}

// NewFormat returns a format with BytesPerLine and SizeImage computed from
// the resolution and pixel format.
func NewFormat(width, height int, p PixelFormat) Format {
	f := Format{Width: width, Height: height, PixelFormat: p}
	f.BytesPerLine = width * p.BytesPerPixel()
	f.SizeImage = f.BytesPerLine * height
	return f
}

// String returns a compact description of the format.
func (f Format) String() string {
	return fmt.Sprintf("%dx%d %s bpl=%d size=%d",
		f.Width, f.Height, f.PixelFormat, f.BytesPerLine, f.SizeImage)
}

// negotiate validates candidate against caps. Zero BytesPerLine and
// SizeImage are filled in; non-zero values must be consistent.
func negotiate(caps *Capabilities, candidate Format) (Format, error) {
	if !candidate.PixelFormat.IsKnown() || !caps.Supports(candidate.PixelFormat) {
		return Format{}, errors.Wrapf(pkg.ErrInvalidFormat,
			"pixel format %s not supported", candidate.PixelFormat)
	}
	maxRes := caps.MaxResolution
	if candidate.Width <= 0 || candidate.Height <= 0 ||
		candidate.Width > maxRes.Width || candidate.Height > maxRes.Height {
		return Format{}, errors.Wrapf(pkg.ErrInvalidFormat,
			"resolution %dx%d outside 1x1..%s", candidate.Width, candidate.Height, maxRes)
	}

	switch candidate.PixelFormat {
	case PixelFormatYUYV, PixelFormatUYVY:
		// Two pixels share one chroma pair.
		if candidate.Width%2 != 0 {
			return Format{}, errors.Wrapf(pkg.ErrInvalidFormat,
				"width %d is odd for %s", candidate.Width, candidate.PixelFormat)
		}
	}

	want := NewFormat(candidate.Width, candidate.Height, candidate.PixelFormat)
	if candidate.BytesPerLine != 0 && candidate.BytesPerLine != want.BytesPerLine {
		return Format{}, errors.Wrapf(pkg.ErrFormatMismatch,
			"bytes per line %d, want %d", candidate.BytesPerLine, want.BytesPerLine)
	}
	if candidate.SizeImage != 0 && candidate.SizeImage != want.SizeImage {
		return Format{}, errors.Wrapf(pkg.ErrFormatMismatch,
			"size image %d, want %d", candidate.SizeImage, want.SizeImage)
	}
	return want, nil
}

// MarshalText encodes the pixel format by name.
func (p PixelFormat) MarshalText() ([]byte, error) {
	if !p.IsKnown() {
		return []byte(p.FourCC()), nil
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a pixel format name or four-character code.
func (p *PixelFormat) UnmarshalText(text []byte) error {
	s := string(text)
	if f, ok := ParsePixelFormat(s); ok {
		*p = f
		return nil
	}
	if len(s) == 4 {
		*p = FourCC(s[0], s[1], s[2], s[3])
		return nil
	}
	return errors.Wrapf(pkg.ErrInvalidFormat, "pixel format %q", s)
}
