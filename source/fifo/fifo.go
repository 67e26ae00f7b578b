//go:build unix

package fifo

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

// pollInterval bounds how long a read or format wait blocks before ctx is
// checked again.
const pollInterval = 100 * time.Millisecond

// Suffix is appended to the device name to form the FIFO file name.
const Suffix = ".fifo"

// Feeder reads frames from a FIFO into one device.
type Feeder struct {
	registry *device.Registry
	injector *device.Injector
	id       device.ID
	path     string

	mutex sync.Mutex
	file  *os.File

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a feeder for device id with its FIFO at dir/name+Suffix.
func New(registry *device.Registry, id device.ID, dir, name string) *Feeder {
	return &Feeder{
		registry: registry,
		injector: device.NewInjector(registry),
		id:       id,
		path:     filepath.Join(dir, name+Suffix),
	}
}

// Path returns the FIFO path.
func (f *Feeder) Path() string { return f.path }

// Stats returns the number of frames injected and dropped.
func (f *Feeder) Stats() (frames, dropped uint64) {
	return f.frames.Load(), f.dropped.Load()
}

// Open creates the FIFO, replacing any existing file, and opens it. It is
// called by Run if needed.
func (f *Feeder) Open() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file != nil {
		return errors.Wrap(pkg.ErrInvalidState, "fifo already open")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errors.Wrap(err, "create fifo dir")
	}
	os.Remove(f.path)
	if err := syscall.Mkfifo(f.path, 0o666); err != nil {
		return errors.Wrapf(err, "mkfifo %s", f.path)
	}
	file, err := os.OpenFile(f.path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		os.Remove(f.path)
		return errors.Wrapf(err, "open %s", f.path)
	}
	f.file = file

	pkg.LogInfo(pkg.ComponentSource, "fifo ready",
		"device", f.id,
		"path", f.path)
	return nil
}

// Close closes and removes the FIFO.
func (f *Feeder) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	os.Remove(f.path)
	return errors.Wrap(err, "close fifo")
}

func (f *Feeder) handle() *os.File {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.file
}

// Run injects frames until ctx ends or the device is destroyed, then
// closes the FIFO.
func (f *Feeder) Run(ctx context.Context) error {
	if f.handle() == nil {
		if err := f.Open(); err != nil {
			return err
		}
	}
	defer f.Close()

	var buf []byte
	for {
		d, err := f.registry.Lookup(f.id)
		if err != nil {
			return errors.Wrap(err, "fifo feeder")
		}
		format, err := d.Format()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
			continue
		}
		if len(buf) != format.SizeImage {
			buf = make([]byte, format.SizeImage)
		}

		if err := f.readFull(ctx, buf); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if _, err := f.injector.Push(ctx, f.id, buf, time.Now()); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, pkg.ErrNotFound) {
				return errors.Wrap(err, "fifo feeder")
			}
			f.dropped.Add(1)
			pkg.LogDebug(pkg.ComponentSource, "fifo frame dropped",
				"device", f.id,
				"error", err)
			continue
		}
		f.frames.Add(1)
	}
}

// readFull reads exactly len(buf) bytes, polling so ctx is honoured.
func (f *Feeder) readFull(ctx context.Context, buf []byte) error {
	file := f.handle()
	if file == nil {
		return pkg.ErrClosed
	}
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		file.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := file.Read(buf[total:])
		total += n
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return errors.Wrap(err, "read fifo")
		}
	}
	return nil
}
