package device

import "fmt"

// Registry and queue limits.
const (
	// DefaultMaxDevices is the default maximum number of devices a registry
	// holds at once.
	DefaultMaxDevices = 8

	// DefaultNumDevices is the number of devices created when no explicit
	// device list is configured.
	DefaultNumDevices = 4

	// DefaultQueueCapacity is the default number of buffers per device.
	DefaultQueueCapacity = 4

	// MaxQueueCapacity is the maximum number of buffers per device.
	MaxQueueCapacity = 32

	// MaxDimension bounds the width and height a capability may advertise.
	MaxDimension = 8192
)

// Identification strings reported by QueryCapabilities.
const (
	DriverName  = "softcam"
	BusInfoBase = "platform:softcam"
)

// Capability flags (videodev2 V4L2_CAP_* values).
const (
	CapVideoCapture uint32 = 0x00000001
	CapReadWrite    uint32 = 0x01000000
	CapStreaming    uint32 = 0x04000000
)

// PixelFormat is a four-character code identifying a pixel layout.
type PixelFormat uint32

// FourCC builds a PixelFormat from its four characters.
func FourCC(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Packed pixel formats (videodev2 V4L2_PIX_FMT_* values).
var (
	PixelFormatYUYV  = FourCC('Y', 'U', 'Y', 'V') // YUV 4:2:2, Y0 U Y1 V
	PixelFormatUYVY  = FourCC('U', 'Y', 'V', 'Y') // YUV 4:2:2, U Y0 V Y1
	PixelFormatRGB24 = FourCC('R', 'G', 'B', '3') // 24-bit RGB 8-8-8
	PixelFormatBGR24 = FourCC('B', 'G', 'R', '3') // 24-bit BGR 8-8-8
	PixelFormatRGB32 = FourCC('X', 'R', '2', '4') // 32-bit BGRX 8-8-8-8
	PixelFormatGrey  = FourCC('G', 'R', 'E', 'Y') // 8-bit greyscale
)

// pixelFormatInfo describes a known pixel format.
type pixelFormatInfo struct {
	format        PixelFormat
	name          string
	description   string
	bytesPerPixel int
}

var pixelFormats = [...]pixelFormatInfo{
	{PixelFormatYUYV, "YUYV", "YUYV 4:2:2", 2},
	{PixelFormatUYVY, "UYVY", "UYVY 4:2:2", 2},
	{PixelFormatRGB24, "RGB24", "24-bit RGB 8-8-8", 3},
	{PixelFormatBGR24, "BGR24", "24-bit BGR 8-8-8", 3},
	{PixelFormatRGB32, "RGB32", "32-bit BGRX 8-8-8-8", 4},
	{PixelFormatGrey, "GREY", "8-bit Greyscale", 1},
}

func lookupPixelFormat(p PixelFormat) (pixelFormatInfo, bool) {
	for _, info := range pixelFormats {
		if info.format == p {
			return info, true
		}
	}
	return pixelFormatInfo{}, false
}

// ParsePixelFormat returns the pixel format with the given name (for example
// "YUYV" or "RGB24"). Four-character codes such as "RGB3" are also accepted.
func ParsePixelFormat(name string) (PixelFormat, bool) {
	for _, info := range pixelFormats {
		if info.name == name || info.format.FourCC() == name {
			return info.format, true
		}
	}
	return 0, false
}

// PixelFormats returns all known pixel formats.
func PixelFormats() []PixelFormat {
	out := make([]PixelFormat, len(pixelFormats))
	for i, info := range pixelFormats {
		out[i] = info.format
	}
	return out
}

// IsKnown reports whether the pixel format is supported by the framework.
func (p PixelFormat) IsKnown() bool {
	_, ok := lookupPixelFormat(p)
	return ok
}

// BytesPerPixel returns the number of bytes one pixel occupies, or 0 for
// unknown formats.
func (p PixelFormat) BytesPerPixel() int {
	info, _ := lookupPixelFormat(p)
	return info.bytesPerPixel
}

// Description returns a human-readable format description.
func (p PixelFormat) Description() string {
	if info, ok := lookupPixelFormat(p); ok {
		return info.description
	}
	return "Unknown " + p.FourCC()
}

// FourCC returns the four-character code.
func (p PixelFormat) FourCC() string {
	return string([]byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)})
}

// String returns the format name.
func (p PixelFormat) String() string {
	if info, ok := lookupPixelFormat(p); ok {
		return info.name
	}
	return fmt.Sprintf("PixelFormat(0x%08X)", uint32(p))
}
