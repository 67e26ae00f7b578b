//go:build !unix

package fifo

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

const Suffix = ".fifo"

// Feeder is unavailable without named pipes.
type Feeder struct {
	id   device.ID
	path string
}

func New(_ *device.Registry, id device.ID, dir, name string) *Feeder {
	return &Feeder{id: id, path: filepath.Join(dir, name+Suffix)}
}

func (f *Feeder) Path() string { return f.path }

func (f *Feeder) Stats() (frames, dropped uint64) { return 0, 0 }

func (f *Feeder) Open() error {
	return errors.Wrap(pkg.ErrUnsupported, "named pipes")
}

func (f *Feeder) Close() error { return nil }

func (f *Feeder) Run(context.Context) error { return f.Open() }
