//go:build !profile

package prof

import (
	"io"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Enabled reports whether profiling support is compiled in.
const Enabled = false

// Profiling errors. Stubs return only ErrDisabled.
var (
	ErrCPUProfileActive    = errors.New("cpu profile already active")
	ErrCPUProfileNotActive = errors.New("cpu profile not active")
	ErrInvalidProfile      = errors.New("invalid profile")
	ErrDisabled            = errors.New("profiling not compiled in")
)

func StartCPU(string) error { return ErrDisabled }

func StartCPUWriter(io.Writer) error { return ErrDisabled }

func StopCPU() error { return ErrCPUProfileNotActive }

func IsCPUActive() bool { return false }

func Write(Profile, string) error { return ErrDisabled }

func WriteTo(Profile, io.Writer) error { return ErrDisabled }

func WriteToDebug(Profile, io.Writer, int) error { return ErrDisabled }

func SetBlockProfileRate(int) {}

func SetMutexProfileFraction(int) {}

// Register does nothing without the "profile" tag.
func Register(*mux.Router) {}

// Start returns ErrDisabled if either path is set.
func Start(cpuPath, heapPath string) (func() error, error) {
	if cpuPath != "" || heapPath != "" {
		return nil, ErrDisabled
	}
	return func() error { return nil }, nil
}
