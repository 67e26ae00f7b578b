package device

import (
	"github.com/pkg/errors"

	"github.com/ardnew/softcam/pkg"
)

// Pipeline is the device-specific controller behind the SetMode and
// GetStatus operations.
type Pipeline interface {
	// SetMode validates and applies a pipeline mode.
	SetMode(mode int) error

	// Status returns a status code describing the device.
	Status(s Snapshot) int
}

// MaxMode is the highest mode DefaultPipeline accepts.
const MaxMode = 255

// Status bits reported by DefaultPipeline.
const (
	StatusConfigured    = 1 << 0 // Format negotiated
	StatusStreaming     = 1 << 1 // Consumer side active
	StatusFramesPending = 1 << 2 // At least one frame queued
	StatusFramesDropped = 1 << 3 // Frames were evicted or rejected

	StatusModeShift = 8 // Bits 8-15 carry the current mode
	StatusModeMask  = 0xFF << StatusModeShift
)

// DefaultPipeline accepts modes 0..MaxMode and reports the device state as a
// bitmask.
type DefaultPipeline struct{}

// SetMode implements Pipeline.
func (DefaultPipeline) SetMode(mode int) error {
	if mode < 0 || mode > MaxMode {
		return errors.Wrapf(pkg.ErrInvalidParameter, "mode %d outside 0..%d", mode, MaxMode)
	}
	return nil
}

// Status implements Pipeline.
func (DefaultPipeline) Status(s Snapshot) int {
	var code int
	if s.State == StateConfigured || s.State == StateStreaming {
		code |= StatusConfigured
	}
	if s.State == StateStreaming {
		code |= StatusStreaming
	}
	if s.Queue.Queued > 0 {
		code |= StatusFramesPending
	}
	if s.Queue.Dropped > 0 || s.Queue.Rejected > 0 {
		code |= StatusFramesDropped
	}
	code |= (s.Mode << StatusModeShift) & StatusModeMask
	return code
}

// StatusMode extracts the mode from a DefaultPipeline status code.
func StatusMode(code int) int {
	return (code & StatusModeMask) >> StatusModeShift
}
