//go:build profile

package prof

import (
	"io"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Enabled reports whether profiling support is compiled in.
const Enabled = true

// Profiling errors.
var (
	ErrCPUProfileActive    = errors.New("cpu profile already active")
	ErrCPUProfileNotActive = errors.New("cpu profile not active")
	ErrInvalidProfile      = errors.New("invalid profile")
	ErrDisabled            = errors.New("profiling not compiled in")
)

var (
	cpuMutex  sync.Mutex
	cpuFile   *os.File
	cpuActive bool
)

// StartCPU starts CPU profiling to the file at path.
func StartCPU(path string) error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuActive {
		return ErrCPUProfileActive
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "cpu profile")
	}
	if err := rpprof.StartCPUProfile(f); err != nil {
		f.Close()
		return errors.Wrap(err, "cpu profile")
	}
	cpuFile = f
	cpuActive = true
	return nil
}

// StartCPUWriter starts CPU profiling to w.
func StartCPUWriter(w io.Writer) error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if cpuActive {
		return ErrCPUProfileActive
	}
	if err := rpprof.StartCPUProfile(w); err != nil {
		return errors.Wrap(err, "cpu profile")
	}
	cpuActive = true
	return nil
}

// StopCPU stops CPU profiling. It returns ErrCPUProfileNotActive if no
// profile was running.
func StopCPU() error {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()

	if !cpuActive {
		return ErrCPUProfileNotActive
	}
	rpprof.StopCPUProfile()
	cpuActive = false
	if cpuFile != nil {
		err := cpuFile.Close()
		cpuFile = nil
		return errors.Wrap(err, "cpu profile")
	}
	return nil
}

// IsCPUActive reports whether a CPU profile is being recorded.
func IsCPUActive() bool {
	cpuMutex.Lock()
	defer cpuMutex.Unlock()
	return cpuActive
}

// Write writes a snapshot profile to the file at path.
func Write(profile Profile, path string) error {
	if profile == ProfileCPU {
		return errors.Wrap(ErrInvalidProfile, "cpu profiles use StartCPU/StopCPU")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "%s profile", profile)
	}
	if err := writeProfile(profile, f, 0); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "%s profile", profile)
}

// WriteTo writes a snapshot profile to w in protobuf form.
func WriteTo(profile Profile, w io.Writer) error {
	return WriteToDebug(profile, w, 0)
}

// WriteToDebug writes a snapshot profile with the given pprof debug level.
// Level 1 is human-readable.
func WriteToDebug(profile Profile, w io.Writer, debug int) error {
	if profile == ProfileCPU {
		return errors.Wrap(ErrInvalidProfile, "cpu profiles use StartCPU/StopCPU")
	}
	return writeProfile(profile, w, debug)
}

func writeProfile(profile Profile, w io.Writer, debug int) error {
	p := rpprof.Lookup(string(profile))
	if p == nil {
		return errors.Wrapf(ErrInvalidProfile, "%q", string(profile))
	}
	return p.WriteTo(w, debug)
}

// SetBlockProfileRate forwards to runtime.SetBlockProfileRate.
func SetBlockProfileRate(rate int) {
	runtime.SetBlockProfileRate(rate)
}

// SetMutexProfileFraction forwards to runtime.SetMutexProfileFraction.
func SetMutexProfileFraction(rate int) {
	runtime.SetMutexProfileFraction(rate)
}

// Register mounts the pprof handlers under /debug/pprof/ on r.
func Register(r *mux.Router) {
	s := r.PathPrefix("/debug/pprof").Subrouter()
	s.HandleFunc("/cmdline", pprof.Cmdline)
	s.HandleFunc("/profile", pprof.Profile)
	s.HandleFunc("/symbol", pprof.Symbol)
	s.HandleFunc("/trace", pprof.Trace)
	s.PathPrefix("/").HandlerFunc(pprof.Index)
}

// Start begins a CPU profile to cpuPath and returns a stop function that
// ends it and writes a heap profile to heapPath. Empty paths skip that
// profile.
func Start(cpuPath, heapPath string) (func() error, error) {
	if cpuPath != "" {
		if err := StartCPU(cpuPath); err != nil {
			return nil, err
		}
	}
	return func() error {
		var err error
		if cpuPath != "" {
			err = StopCPU()
		}
		if heapPath != "" {
			runtime.GC()
			if herr := Write(ProfileHeap, heapPath); err == nil {
				err = herr
			}
		}
		return err
	}, nil
}
