// Package device implements virtual video-capture devices that broker frames
// between in-process producers and consumers.
//
// Each device owns a bounded buffer queue. A producer pushes raw frames
// through an [Injector]; a consumer negotiates a format, starts streaming and
// then dequeues and releases buffers through a [Dispatcher], the way a
// capture application drives a V4L2 device node.
//
// # Architecture
//
//   - [Registry] owns the live devices and allocates their IDs
//   - [Device] holds the negotiated [Format], lifecycle state and queue
//   - [Queue] is the fixed ring of buffers with a backpressure [Policy]
//   - [Dispatcher] checks operation preconditions and delegates to devices
//   - [Injector] is the producer-side entry point
//   - [Pipeline] handles the SetMode and GetStatus extension operations
//
// # Device States
//
//	Created → Configured ⇄ Streaming
//
// Any live state may move to Destroyed through [Registry.Destroy]; a
// streaming device requires force.
//
// # Buffers
//
// A buffer is Free, Queued or Held. Push moves a Free buffer to Queued,
// Dequeue moves the oldest Queued buffer to Held and Release returns it to
// Free. When no buffer is Free the queue policy decides: [PolicyBlock] waits,
// [PolicyDropOldest] evicts the oldest Queued frame, [PolicyReject] fails
// with ErrQueueFull. Sequence numbers start at 1 and increase for the
// lifetime of the device.
//
// # Concurrency
//
// Each device has one mutex guarding its state and queue. Blocked calls
// wait on channels outside the lock and are cancelled by StreamOff,
// SetFormat and Destroy. The registry lock is taken before a device lock,
// never after.
//
// # Example
//
//	reg := device.NewRegistry()
//	id, _ := reg.Create("cam", device.Capabilities{
//	    Formats:       []device.PixelFormat{device.PixelFormatYUYV},
//	    MaxResolution: device.Resolution{Width: 1920, Height: 1080},
//	})
//	disp := device.NewDispatcher(reg)
//	disp.Dispatch(ctx, id, &device.Request{
//	    Op:     device.OpSetFormat,
//	    Format: device.NewFormat(1920, 1080, device.PixelFormatYUYV),
//	})
//	disp.Dispatch(ctx, id, &device.Request{Op: device.OpStreamOn})
//	device.NewInjector(reg).Push(ctx, id, frame, time.Time{})
//	resp, _ := disp.Dispatch(ctx, id, &device.Request{Op: device.OpDequeueBuffer})
package device
