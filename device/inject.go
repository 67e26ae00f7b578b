package device

import (
	"context"
	"time"

	"github.com/ardnew/softcam/pkg"
)

// Injector is the producer-side entry point. It looks a device up and
// pushes a frame into its queue; pushes to distinct devices share only the
// registry read lock.
type Injector struct {
	registry *Registry
}

// NewInjector creates an injector over registry.
func NewInjector(registry *Registry) *Injector {
	return &Injector{registry: registry}
}

// Push enqueues one frame on the device with the given ID and returns its
// sequence number. A zero timestamp is replaced with the current time.
func (in *Injector) Push(ctx context.Context, id ID, data []byte, ts time.Time) (uint64, error) {
	d, err := in.registry.Lookup(id)
	if err != nil {
		return 0, err
	}
	seq, err := d.Push(ctx, data, ts)
	if err != nil {
		pkg.LogDebug(pkg.ComponentInject, "push failed",
			"device", id,
			"bytes", len(data),
			"error", err)
		return 0, err
	}
	return seq, nil
}
