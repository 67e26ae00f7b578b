package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/pkg"
)

// Handler performs one control operation on a device whose state has
// already passed the route precondition.
type Handler func(ctx context.Context, d *Device, req *Request) (*Response, error)

type route struct {
	allowed StateSet
	handler Handler
}

// Dispatcher routes control requests to devices.
//
// Every request is checked in order: the operation must be known
// (ErrUnsupported), the device must exist (ErrNotFound) and its state must
// be allowed for the operation (ErrInvalidState). Devices repeat the state
// check under their own lock, so a request racing a state change still fails
// cleanly.
type Dispatcher struct {
	registry *Registry

	mutex  sync.RWMutex
	routes map[Op]route
}

// NewDispatcher creates a dispatcher with the standard operation table.
func NewDispatcher(registry *Registry) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		routes:   make(map[Op]route),
	}
	configured := States(StateConfigured, StateStreaming)

	d.Register(OpQueryCapabilities, LiveStates, queryCapabilities)
	d.Register(OpEnumFormat, LiveStates, enumFormat)
	d.Register(OpTryFormat, LiveStates, tryFormat)
	d.Register(OpSetMode, LiveStates, setMode)
	d.Register(OpGetStatus, LiveStates, getStatus)
	d.Register(OpGetFormat, configured, getFormat)
	d.Register(OpReleaseBuffer, configured, releaseBuffer)
	d.Register(OpSetFormat, States(StateCreated, StateConfigured), setFormat)
	d.Register(OpStreamOn, States(StateConfigured), streamOn)
	d.Register(OpStreamOff, States(StateStreaming), streamOff)
	d.Register(OpDequeueBuffer, States(StateStreaming), dequeueBuffer)
	return d
}

// Register installs or replaces the handler for op.
func (d *Dispatcher) Register(op Op, allowed StateSet, handler Handler) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.routes[op] = route{allowed: allowed, handler: handler}
}

// Allowed returns the states in which op may run.
func (d *Dispatcher) Allowed(op Op) (StateSet, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	r, ok := d.routes[op]
	return r.allowed, ok
}

// Dispatch performs req on the device with the given ID.
func (d *Dispatcher) Dispatch(ctx context.Context, id ID, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.Wrap(pkg.ErrInvalidParameter, "nil request")
	}

	d.mutex.RLock()
	r, ok := d.routes[req.Op]
	d.mutex.RUnlock()
	if !ok {
		return nil, errors.Wrapf(pkg.ErrUnsupported, "operation %s", req.Op)
	}

	dev, err := d.registry.Lookup(id)
	if err != nil {
		return nil, err
	}

	if state := dev.State(); !r.allowed.Has(state) {
		pkg.LogDebug(pkg.ComponentDispatch, "request rejected",
			"device", id,
			"op", req.Op.String(),
			"state", state.String())
		return nil, errors.Wrapf(pkg.ErrInvalidState, "%s while %s", req.Op, state)
	}

	resp, err := r.handler(ctx, dev, req)
	if err != nil {
		pkg.LogDebug(pkg.ComponentDispatch, "request failed",
			"device", id,
			"op", req.Op.String(),
			"error", err)
		return nil, err
	}
	if resp == nil {
		resp = &Response{}
	}
	resp.Op = req.Op
	return resp, nil
}

func queryCapabilities(_ context.Context, d *Device, _ *Request) (*Response, error) {
	caps := d.Capabilities()
	return &Response{Capabilities: &CapabilityInfo{
		Driver:           DriverName,
		Card:             d.Name,
		BusInfo:          fmt.Sprintf("%s-%d", BusInfoBase, d.ID),
		Serial:           d.Serial.String(),
		SupportedFormats: caps.Formats,
		MaxResolution:    caps.MaxResolution,
		Flags:            CapVideoCapture | CapReadWrite | CapStreaming,
	}}, nil
}

func enumFormat(_ context.Context, d *Device, req *Request) (*Response, error) {
	formats := d.caps.Formats
	if req.Index < 0 || req.Index >= len(formats) {
		return nil, errors.Wrapf(pkg.ErrInvalidParameter,
			"format index %d outside 0..%d", req.Index, len(formats)-1)
	}
	p := formats[req.Index]
	return &Response{FormatDesc: &FormatDescription{
		Index:       req.Index,
		PixelFormat: p,
		Description: p.Description(),
	}}, nil
}

func getFormat(_ context.Context, d *Device, _ *Request) (*Response, error) {
	f, err := d.Format()
	if err != nil {
		return nil, err
	}
	return &Response{Format: &f}, nil
}

func setFormat(_ context.Context, d *Device, req *Request) (*Response, error) {
	f, err := d.SetFormat(req.Format)
	if err != nil {
		return nil, err
	}
	return &Response{Format: &f}, nil
}

func tryFormat(_ context.Context, d *Device, req *Request) (*Response, error) {
	f, err := d.TryFormat(req.Format)
	if err != nil {
		return nil, err
	}
	return &Response{Format: &f}, nil
}

func streamOn(_ context.Context, d *Device, _ *Request) (*Response, error) {
	return nil, d.StreamOn()
}

func streamOff(_ context.Context, d *Device, _ *Request) (*Response, error) {
	return nil, d.StreamOff()
}

func dequeueBuffer(ctx context.Context, d *Device, req *Request) (*Response, error) {
	b, err := d.Dequeue(ctx, req.Timeout)
	if err != nil {
		return nil, err
	}
	return &Response{Buffer: &BufferInfo{
		Index:     b.Index,
		Sequence:  b.Sequence,
		Timestamp: b.Timestamp,
		Length:    b.Length,
		Data:      b.Data,
	}}, nil
}

func releaseBuffer(_ context.Context, d *Device, req *Request) (*Response, error) {
	return nil, d.Release(req.Index)
}

func setMode(_ context.Context, d *Device, req *Request) (*Response, error) {
	return nil, d.SetMode(req.Mode)
}

func getStatus(_ context.Context, d *Device, _ *Request) (*Response, error) {
	code, snap := d.StatusSnapshot()
	return &Response{StatusCode: &code, Snapshot: &snap}, nil
}
