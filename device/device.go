package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ardnew/softcam/pkg"
)

// ID identifies a device within a registry. IDs are never reused.
type ID uint32

// String returns the decimal identifier.
func (id ID) String() string {
	return fmt.Sprintf("%d", uint32(id))
}

// State is the lifecycle state of a device.
type State uint8

// Device states.
const (
	StateCreated    State = iota // Registered, no format negotiated
	StateConfigured              // Format negotiated, not streaming
	StateStreaming               // Consumer side active
	StateDestroyed               // Removed from the registry
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateConfigured:
		return "Configured"
	case StateStreaming:
		return "Streaming"
	case StateDestroyed:
		return "Destroyed"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// MarshalText encodes the state in lower case.
func (s State) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText decodes a state name in any case.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateCreated; st <= StateDestroyed; st++ {
		if strings.EqualFold(st.String(), string(text)) {
			*s = st
			return nil
		}
	}
	return errors.Wrapf(pkg.ErrInvalidParameter, "state %q", text)
}

// StateSet is a set of states, used for operation preconditions.
type StateSet uint8

// States returns the set containing the given states.
func States(states ...State) StateSet {
	var set StateSet
	for _, s := range states {
		set |= 1 << s
	}
	return set
}

// LiveStates contains every state except StateDestroyed.
var LiveStates = States(StateCreated, StateConfigured, StateStreaming)

// Has reports whether s is in the set.
func (set StateSet) Has(s State) bool {
	return s < 8 && set&(1<<s) != 0
}

// String lists the states in the set.
func (set StateSet) String() string {
	var names []string
	for s := StateCreated; s <= StateDestroyed; s++ {
		if set.Has(s) {
			names = append(names, s.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Snapshot is a read-only view of a device.
type Snapshot struct {
	ID     ID         `json:"id"`
	Name   string     `json:"name"`
	Serial string     `json:"serial"`
	State  State      `json:"state"`
	Format *Format    `json:"format,omitempty"`
	Queue  QueueStats `json:"queue"`
	Mode   int        `json:"mode"`
}

// DeviceOption configures a device at creation.
type DeviceOption func(*deviceConfig)

type deviceConfig struct {
	queueCapacity int
	policy        Policy
	pipeline      Pipeline
	onStateChange func(id ID, old, new State)
}

func defaultDeviceConfig() deviceConfig {
	return deviceConfig{
		queueCapacity: DefaultQueueCapacity,
		policy:        PolicyBlock,
		pipeline:      DefaultPipeline{},
	}
}

// WithQueueCapacity sets the number of buffers.
func WithQueueCapacity(n int) DeviceOption {
	return func(c *deviceConfig) { c.queueCapacity = n }
}

// WithPolicy sets the backpressure policy.
func WithPolicy(p Policy) DeviceOption {
	return func(c *deviceConfig) { c.policy = p }
}

// WithPipeline sets the pipeline controller that handles SetMode and Status.
func WithPipeline(p Pipeline) DeviceOption {
	return func(c *deviceConfig) {
		if p != nil {
			c.pipeline = p
		}
	}
}

// WithOnStateChange sets the state change callback.
func WithOnStateChange(cb func(id ID, old, new State)) DeviceOption {
	return func(c *deviceConfig) { c.onStateChange = cb }
}

// Device is a virtual video-capture device.
//
// All mutable state, including the buffer queue, is guarded by one mutex.
// Callbacks run after the mutex is released.
type Device struct {
	// Immutable identity
	ID     ID
	Name   string
	Serial uuid.UUID

	caps Capabilities

	mutex     sync.Mutex
	state     State
	format    Format
	hasFormat bool
	mode      int
	queue     *Queue
	pipeline  Pipeline

	onStateChange func(id ID, old, new State)
}

func newDevice(id ID, name string, caps Capabilities, cfg deviceConfig) (*Device, error) {
	d := &Device{
		ID:            id,
		Name:          name,
		Serial:        uuid.New(),
		caps:          caps.clone(),
		state:         StateCreated,
		pipeline:      cfg.pipeline,
		onStateChange: cfg.onStateChange,
	}
	q, err := newQueue(&d.mutex, cfg.queueCapacity, cfg.policy)
	if err != nil {
		return nil, err
	}
	d.queue = q
	return d, nil
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}

// Capabilities returns a copy of the device capabilities.
func (d *Device) Capabilities() Capabilities {
	return d.caps.clone()
}

// Queue returns the device's buffer queue.
func (d *Device) Queue() *Queue {
	return d.queue
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(cb func(id ID, old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// setStateLocked changes the state and returns the previous one. The caller
// passes both to notify after unlocking.
func (d *Device) setStateLocked(newState State) State {
	old := d.state
	d.state = newState
	return old
}

func (d *Device) notify(old, newState State) {
	if old == newState {
		return
	}
	pkg.LogDebug(pkg.ComponentDevice, "device state changed",
		"device", d.ID,
		"from", old.String(),
		"to", newState.String())

	d.mutex.Lock()
	callback := d.onStateChange
	d.mutex.Unlock()
	if callback != nil {
		callback(d.ID, old, newState)
	}
}

// SetFormat negotiates a new format. It is allowed only before streaming.
// Zero BytesPerLine and SizeImage fields are computed. On success the device
// is Configured and its queue is reset to the new frame size, cancelling any
// blocked producer.
func (d *Device) SetFormat(candidate Format) (Format, error) {
	d.mutex.Lock()
	if d.state != StateCreated && d.state != StateConfigured {
		state := d.state
		d.mutex.Unlock()
		return Format{}, errors.Wrapf(pkg.ErrInvalidState, "set format while %s", state)
	}
	f, err := negotiate(&d.caps, candidate)
	if err != nil {
		d.mutex.Unlock()
		return Format{}, err
	}
	d.format = f
	d.hasFormat = true
	d.queue.resetLocked(f.SizeImage)
	old := d.setStateLocked(StateConfigured)
	d.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentDevice, "format negotiated",
		"device", d.ID,
		"format", f.String())
	d.notify(old, StateConfigured)
	return f, nil
}

// TryFormat validates candidate like SetFormat without changing the device.
func (d *Device) TryFormat(candidate Format) (Format, error) {
	if s := d.State(); s == StateDestroyed {
		return Format{}, errors.Wrapf(pkg.ErrInvalidState, "try format while %s", s)
	}
	return negotiate(&d.caps, candidate)
}

// Format returns the negotiated format.
func (d *Device) Format() (Format, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.hasFormat || d.state == StateDestroyed {
		return Format{}, errors.Wrapf(pkg.ErrInvalidState, "no format while %s", d.state)
	}
	return d.format, nil
}

// StreamOn starts the consumer side. Sequence numbering continues from the
// previous stream.
func (d *Device) StreamOn() error {
	d.mutex.Lock()
	if d.state != StateConfigured {
		state := d.state
		d.mutex.Unlock()
		return errors.Wrapf(pkg.ErrInvalidState, "stream on while %s", state)
	}
	old := d.setStateLocked(StateStreaming)
	d.mutex.Unlock()

	d.notify(old, StateStreaming)
	return nil
}

// StreamOff stops the consumer side and cancels every blocked call.
func (d *Device) StreamOff() error {
	d.mutex.Lock()
	if d.state != StateStreaming {
		state := d.state
		d.mutex.Unlock()
		return errors.Wrapf(pkg.ErrInvalidState, "stream off while %s", state)
	}
	old := d.setStateLocked(StateConfigured)
	d.queue.cancelWaitersLocked()
	d.mutex.Unlock()

	d.notify(old, StateConfigured)
	return nil
}

// Push enqueues one frame from the producer side and returns its sequence
// number. The frame must be exactly the negotiated SizeImage. A zero
// timestamp is replaced with the current time.
func (d *Device) Push(ctx context.Context, data []byte, ts time.Time) (uint64, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.state == StateDestroyed || !d.hasFormat {
		return 0, errors.Wrapf(pkg.ErrInvalidState, "push while %s", d.state)
	}
	if len(data) != d.format.SizeImage {
		return 0, errors.Wrapf(pkg.ErrFormatMismatch,
			"frame is %d bytes, format %s", len(data), d.format)
	}
	return d.queue.enqueueLocked(ctx, data, ts)
}

// Dequeue waits for the oldest queued frame. The device must be streaming.
// A timeout of zero or less waits without a deadline.
func (d *Device) Dequeue(ctx context.Context, timeout time.Duration) (Buffer, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.state != StateStreaming {
		return Buffer{}, errors.Wrapf(pkg.ErrInvalidState, "dequeue while %s", d.state)
	}
	return d.queue.dequeueLocked(ctx, timeout)
}

// Release returns a dequeued buffer to the device.
func (d *Device) Release(index int) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.state != StateConfigured && d.state != StateStreaming {
		return errors.Wrapf(pkg.ErrInvalidState, "release while %s", d.state)
	}
	return d.queue.releaseLocked(index)
}

// ReleaseFrame is Release for a buffer dequeued with sequence seq. It fails
// with ErrInvalidState once the buffer has been reused for another frame.
func (d *Device) ReleaseFrame(index int, seq uint64) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.state != StateConfigured && d.state != StateStreaming {
		return errors.Wrapf(pkg.ErrInvalidState, "release while %s", d.state)
	}
	return d.queue.releaseFrameLocked(index, seq)
}

// SetMode passes a pipeline mode to the pipeline controller.
// The controller runs with the device locked and must not call back into the
// device.
func (d *Device) SetMode(mode int) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.state == StateDestroyed {
		return errors.Wrapf(pkg.ErrInvalidState, "set mode while %s", d.state)
	}
	if err := d.pipeline.SetMode(mode); err != nil {
		return err
	}
	if d.mode != mode {
		pkg.LogInfo(pkg.ComponentDevice, "pipeline mode changed",
			"device", d.ID,
			"from", d.mode,
			"to", mode)
	}
	d.mode = mode
	return nil
}

// Status returns the pipeline controller's status code.
func (d *Device) Status() int {
	code, _ := d.StatusSnapshot()
	return code
}

// StatusSnapshot returns the status code together with the snapshot it was
// computed from.
func (d *Device) StatusSnapshot() (int, Snapshot) {
	d.mutex.Lock()
	snap := d.snapshotLocked()
	pipeline := d.pipeline
	d.mutex.Unlock()
	return pipeline.Status(snap), snap
}

// Snapshot returns a read-only view of the device.
func (d *Device) Snapshot() Snapshot {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.snapshotLocked()
}

func (d *Device) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:     d.ID,
		Name:   d.Name,
		Serial: d.Serial.String(),
		State:  d.state,
		Queue:  d.queue.statsLocked(),
		Mode:   d.mode,
	}
	if d.hasFormat {
		f := d.format
		s.Format = &f
	}
	return s
}

// destroy moves the device to Destroyed, cancelling waiters and releasing
// all buffers. A streaming device is destroyed only when force is set.
// The caller notifies with the returned state.
func (d *Device) destroy(force bool) (State, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	switch d.state {
	case StateDestroyed:
		return d.state, errors.Wrapf(pkg.ErrNotFound, "device %d destroyed", d.ID)
	case StateStreaming:
		if !force {
			return d.state, errors.Wrapf(pkg.ErrInvalidState, "device %d is streaming", d.ID)
		}
	}
	d.queue.closeLocked()
	d.hasFormat = false
	return d.setStateLocked(StateDestroyed), nil
}
