package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/pkg"
)

// Op is a control operation code.
type Op uint16

// Control operations. SetMode and GetStatus keep the numbers of the
// driver's private ioctls.
const (
	OpQueryCapabilities Op = iota + 1
	OpEnumFormat
	OpGetFormat
	OpSetFormat
	OpTryFormat
	OpStreamOn
	OpStreamOff
	OpDequeueBuffer
	OpReleaseBuffer

	OpSetMode   Op = 200
	OpGetStatus Op = 201
)

var opNames = map[Op]string{
	OpQueryCapabilities: "query-capabilities",
	OpEnumFormat:        "enum-format",
	OpGetFormat:         "get-format",
	OpSetFormat:         "set-format",
	OpTryFormat:         "try-format",
	OpStreamOn:          "stream-on",
	OpStreamOff:         "stream-off",
	OpDequeueBuffer:     "dequeue-buffer",
	OpReleaseBuffer:     "release-buffer",
	OpSetMode:           "set-mode",
	OpGetStatus:         "get-status",
}

// String returns the operation name.
func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint16(op))
}

// ParseOp returns the operation with the given name.
func ParseOp(name string) (Op, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for op, n := range opNames {
		if n == name {
			return op, nil
		}
	}
	return 0, errors.Wrapf(pkg.ErrUnsupported, "operation %q", name)
}

// MarshalText encodes the operation name.
func (op Op) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

// UnmarshalText decodes an operation name.
func (op *Op) UnmarshalText(text []byte) error {
	v, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*op = v
	return nil
}

// Request is a control request addressed to one device. Only the fields
// relevant to Op are read.
type Request struct {
	Op      Op
	Format  Format        // SetFormat, TryFormat
	Index   int           // EnumFormat, ReleaseBuffer
	Timeout time.Duration // DequeueBuffer; zero or less waits indefinitely
	Mode    int           // SetMode
}

// Response is the result of a control request. Only the field for the
// request's Op is set.
type Response struct {
	Op           Op                 `json:"op"`
	Capabilities *CapabilityInfo    `json:"capabilities,omitempty"`
	FormatDesc   *FormatDescription `json:"format_desc,omitempty"`
	Format       *Format            `json:"format,omitempty"`
	Buffer       *BufferInfo        `json:"buffer,omitempty"`
	StatusCode   *int               `json:"status_code,omitempty"`
	Snapshot     *Snapshot          `json:"snapshot,omitempty"`
}

// CapabilityInfo is the QueryCapabilities result.
type CapabilityInfo struct {
	Driver           string        `json:"driver"`
	Card             string        `json:"card"`
	BusInfo          string        `json:"bus_info"`
	Serial           string        `json:"serial"`
	SupportedFormats []PixelFormat `json:"supported_formats"`
	MaxResolution    Resolution    `json:"max_resolution"`
	Flags            uint32        `json:"flags"`
}

// FormatDescription is the EnumFormat result.
type FormatDescription struct {
	Index       int         `json:"index"`
	PixelFormat PixelFormat `json:"pixel_format"`
	Description string      `json:"description"`
}

// BufferInfo is the DequeueBuffer result. Data aliases device storage and
// is valid until the buffer is released.
type BufferInfo struct {
	Index     int       `json:"index"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Length    int       `json:"length"`
	Data      []byte    `json:"-"`
}
