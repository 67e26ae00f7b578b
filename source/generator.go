package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

// DefaultFPS is the frame rate used when none is configured.
const DefaultFPS = 30

// Generator pushes colour-bar frames into one device at a fixed rate.
// Ticks are skipped while the device has no format, and the frame size
// follows format changes.
type Generator struct {
	registry *device.Registry
	injector *device.Injector
	id       device.ID
	interval time.Duration

	pushed  atomic.Uint64
	failed  atomic.Uint64
	skipped atomic.Uint64
}

// NewGenerator creates a generator for device id. fps below 1 selects
// DefaultFPS.
func NewGenerator(registry *device.Registry, id device.ID, fps int) *Generator {
	if fps < 1 {
		fps = DefaultFPS
	}
	return &Generator{
		registry: registry,
		injector: device.NewInjector(registry),
		id:       id,
		interval: time.Second / time.Duration(fps),
	}
}

// Stats returns the number of frames pushed, failed and skipped.
func (g *Generator) Stats() (pushed, failed, skipped uint64) {
	return g.pushed.Load(), g.failed.Load(), g.skipped.Load()
}

// Run generates frames until ctx ends or the device is destroyed.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	pkg.LogInfo(pkg.ComponentSource, "pattern generator started",
		"device", g.id,
		"interval", g.interval)

	var (
		buf    []byte
		frame  uint64
		format device.Format
	)
	for {
		select {
		case <-ctx.Done():
			pkg.LogInfo(pkg.ComponentSource, "pattern generator stopped",
				"device", g.id,
				"pushed", g.pushed.Load())
			return nil
		case <-ticker.C:
		}

		d, err := g.registry.Lookup(g.id)
		if err != nil {
			return errors.Wrap(err, "pattern generator")
		}
		f, err := d.Format()
		if err != nil {
			g.skipped.Add(1)
			continue
		}
		if f != format {
			format = f
			buf = make([]byte, f.SizeImage)
			pkg.LogDebug(pkg.ComponentSource, "pattern format changed",
				"device", g.id,
				"format", f.String())
		}
		if err := ColorBars(format, frame, buf); err != nil {
			g.failed.Add(1)
			continue
		}
		frame++

		if _, err := g.injector.Push(ctx, g.id, buf, time.Now()); err != nil {
			if ctx.Err() != nil {
				continue
			}
			g.failed.Add(1)
			if errors.Is(err, pkg.ErrNotFound) {
				return errors.Wrap(err, "pattern generator")
			}
			continue
		}
		g.pushed.Add(1)
	}
}
