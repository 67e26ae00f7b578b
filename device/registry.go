package device

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/pkg"
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxDevices sets the maximum number of live devices.
func WithMaxDevices(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxDevices = n
		}
	}
}

// WithDeviceDefaults sets options applied to every created device before
// the options passed to Create.
func WithDeviceDefaults(opts ...DeviceOption) RegistryOption {
	return func(r *Registry) {
		r.defaults = append(r.defaults, opts...)
	}
}

// Registry owns the set of live devices.
//
// The registry mutex guards only the device map. It may be held while
// taking a device mutex, never the reverse, and never across a blocking
// device call.
type Registry struct {
	mutex      sync.RWMutex
	devices    map[ID]*Device
	nextID     ID
	maxDevices int
	defaults   []DeviceOption
	closed     bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		devices:    make(map[ID]*Device),
		maxDevices: DefaultMaxDevices,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxDevices returns the device limit.
func (r *Registry) MaxDevices() int {
	return r.maxDevices
}

// Create registers a new device and returns its ID. An empty name defaults
// to "softcam<ID>".
func (r *Registry) Create(name string, caps Capabilities, opts ...DeviceOption) (ID, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return 0, pkg.ErrClosed
	}
	if len(r.devices) >= r.maxDevices {
		return 0, errors.Wrapf(pkg.ErrCapacityExceeded, "%d devices", r.maxDevices)
	}
	if err := caps.Validate(); err != nil {
		return 0, err
	}

	cfg := defaultDeviceConfig()
	for _, opt := range r.defaults {
		opt(&cfg)
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := r.nextID
	if name == "" {
		name = fmt.Sprintf("%s%d", DriverName, id)
	}
	d, err := newDevice(id, name, caps, cfg)
	if err != nil {
		return 0, err
	}
	r.nextID++
	r.devices[id] = d

	pkg.LogInfo(pkg.ComponentRegistry, "device created",
		"device", id,
		"name", name,
		"formats", len(caps.Formats),
		"max", caps.MaxResolution.String())
	return id, nil
}

// Destroy removes a device. A streaming device is destroyed only when force
// is set. Blocked callers on the device fail with ErrCancelled.
func (r *Registry) Destroy(id ID, force bool) error {
	r.mutex.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mutex.Unlock()
		return errors.Wrapf(pkg.ErrNotFound, "device %d", id)
	}
	old, err := d.destroy(force)
	if err != nil {
		r.mutex.Unlock()
		return err
	}
	delete(r.devices, id)
	r.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentRegistry, "device destroyed",
		"device", id,
		"force", force)
	d.notify(old, StateDestroyed)
	return nil
}

// Lookup returns the device with the given ID.
func (r *Registry) Lookup(id ID) (*Device, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, errors.Wrapf(pkg.ErrNotFound, "device %d", id)
	}
	return d, nil
}

// Devices returns the live devices ordered by ID.
func (r *Registry) Devices() []*Device {
	r.mutex.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mutex.RUnlock()

	slices.SortFunc(out, func(a, b *Device) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of live devices.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.devices)
}

// Close force-destroys every device. Create fails afterwards.
func (r *Registry) Close() error {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return nil
	}
	r.closed = true
	devices := r.devices
	r.devices = make(map[ID]*Device)
	r.mutex.Unlock()

	type change struct {
		d   *Device
		old State
	}
	var changes []change
	for _, d := range devices {
		old, err := d.destroy(true)
		if err != nil {
			continue
		}
		changes = append(changes, change{d, old})
	}
	for _, c := range changes {
		c.d.notify(c.old, StateDestroyed)
	}

	pkg.LogInfo(pkg.ComponentRegistry, "registry closed",
		"devices", len(changes))
	return nil
}
