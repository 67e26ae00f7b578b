package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ardnew/softcam/pkg"
)

// BufferState is the ownership state of a buffer.
type BufferState uint8

// Buffer states. A released buffer returns to BufferFree.
const (
	BufferFree   BufferState = iota // Empty, available to the producer
	BufferQueued                    // Holds a frame awaiting the consumer
	BufferHeld                      // Dequeued, owned by the consumer
)

// String returns a human-readable buffer state.
func (s BufferState) String() string {
	switch s {
	case BufferFree:
		return "free"
	case BufferQueued:
		return "queued"
	case BufferHeld:
		return "held"
	default:
		return "unknown"
	}
}

// Policy selects what Enqueue does when no buffer is free.
type Policy uint8

// Backpressure policies.
const (
	PolicyBlock      Policy = iota // Wait for a free buffer
	PolicyDropOldest               // Evict the oldest queued frame
	PolicyReject                   // Fail with ErrQueueFull
)

// String returns the policy name as used in configuration.
func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDropOldest:
		return "drop-oldest"
	case PolicyReject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParsePolicy parses block, drop-oldest or reject.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block", "":
		return PolicyBlock, nil
	case "drop-oldest", "drop_oldest", "dropoldest":
		return PolicyDropOldest, nil
	case "reject":
		return PolicyReject, nil
	default:
		return PolicyBlock, errors.Wrapf(pkg.ErrInvalidParameter, "policy %q", s)
	}
}

// MarshalText encodes the policy name.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a policy name.
func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Buffer is one frame slot of a Queue.
//
// Buffers returned by Dequeue are copies of the queue's bookkeeping. Data
// aliases queue-owned storage and stays valid until the buffer is released
// or the queue is reset.
type Buffer struct {
	Index     int
	State     BufferState
	Sequence  uint64
	Timestamp time.Time
	Length    int
	Data      []byte
}

// QueueStats is a snapshot of queue occupancy and lifetime counters.
type QueueStats struct {
	Capacity int    `json:"capacity"`
	Policy   Policy `json:"policy"`
	Queued   int    `json:"queued"`
	Held     int    `json:"held"`
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Released uint64 `json:"released"`
	Dropped  uint64 `json:"dropped"`
	Rejected uint64 `json:"rejected"`
	Sequence uint64 `json:"sequence"` // Last assigned sequence number
}

// Queue is a bounded ring of frame buffers brokering frames from one
// producer side to one consumer side.
//
// A queue owned by a Device shares the device's mutex, so every mutation of
// the device's buffers happens under the device lock.
type Queue struct {
	mutex *sync.Mutex

	buffers   []Buffer
	queued    []int // Indices of queued buffers, oldest first
	policy    Policy
	frameSize int
	sequence  uint64
	closed    bool

	// changed is closed and replaced whenever a buffer becomes free or
	// queued; cancel is closed and replaced to cancel current waiters.
	changed chan struct{}
	cancel  chan struct{}

	enqueued uint64
	dequeued uint64
	released uint64
	dropped  uint64
	rejected uint64
}

// NewQueue creates a standalone queue with its own lock.
// The frame size is zero until Reset is called.
func NewQueue(capacity int, policy Policy) (*Queue, error) {
	return newQueue(&sync.Mutex{}, capacity, policy)
}

func newQueue(mutex *sync.Mutex, capacity int, policy Policy) (*Queue, error) {
	if capacity < 1 || capacity > MaxQueueCapacity {
		return nil, errors.Wrapf(pkg.ErrInvalidParameter,
			"queue capacity %d outside 1..%d", capacity, MaxQueueCapacity)
	}
	if policy > PolicyReject {
		return nil, errors.Wrapf(pkg.ErrInvalidParameter, "policy %d", policy)
	}
	q := &Queue{
		mutex:   mutex,
		buffers: make([]Buffer, capacity),
		queued:  make([]int, 0, capacity),
		policy:  policy,
		changed: make(chan struct{}),
		cancel:  make(chan struct{}),
	}
	for i := range q.buffers {
		q.buffers[i].Index = i
	}
	return q, nil
}

// Capacity returns the number of buffers.
func (q *Queue) Capacity() int {
	return len(q.buffers)
}

// Policy returns the backpressure policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.queued)
}

// Held returns the number of buffers held by consumers.
func (q *Queue) Held() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.countLocked(BufferHeld)
}

// FrameSize returns the exact byte length every enqueued frame must have.
func (q *Queue) FrameSize() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.frameSize
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() QueueStats {
	return QueueStats{
		Capacity: len(q.buffers),
		Policy:   q.policy,
		Queued:   len(q.queued),
		Held:     q.countLocked(BufferHeld),
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Released: q.released,
		Dropped:  q.dropped,
		Rejected: q.rejected,
		Sequence: q.sequence,
	}
}

// Reset cancels all waiters, returns every buffer to free and sets the
// frame size. Sequence numbering continues.
func (q *Queue) Reset(frameSize int) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.resetLocked(frameSize)
}

func (q *Queue) resetLocked(frameSize int) {
	q.cancelWaitersLocked()
	for i := range q.buffers {
		q.buffers[i] = Buffer{Index: i}
	}
	q.queued = q.queued[:0]
	q.frameSize = frameSize
	q.broadcastLocked()
}

// CancelWaiters makes every call currently blocked in Enqueue or Dequeue
// return ErrCancelled. Calls made afterwards are unaffected.
func (q *Queue) CancelWaiters() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.cancelWaitersLocked()
}

func (q *Queue) cancelWaitersLocked() {
	close(q.cancel)
	q.cancel = make(chan struct{})
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Close cancels all waiters and releases all buffers. Subsequent operations
// fail with ErrClosed.
func (q *Queue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.closeLocked()
}

func (q *Queue) closeLocked() {
	if q.closed {
		return
	}
	q.closed = true
	q.cancelWaitersLocked()
	for i := range q.buffers {
		q.buffers[i] = Buffer{Index: i}
	}
	q.queued = q.queued[:0]
	q.broadcastLocked()
}

// Enqueue copies data into a free buffer and marks it queued, returning
// the assigned sequence number. When no buffer is free the queue policy
// applies. A zero timestamp is replaced with the current time.
func (q *Queue) Enqueue(ctx context.Context, data []byte, ts time.Time) (uint64, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.enqueueLocked(ctx, data, ts)
}

// enqueueLocked must be called with the lock held. It releases the lock
// while blocked.
func (q *Queue) enqueueLocked(ctx context.Context, data []byte, ts time.Time) (uint64, error) {
	cancel := q.cancel
	for {
		if q.closed {
			return 0, pkg.ErrClosed
		}
		if isDone(cancel) {
			return 0, errors.Wrap(pkg.ErrCancelled, "enqueue")
		}
		if q.frameSize == 0 {
			return 0, errors.Wrap(pkg.ErrInvalidState, "queue has no frame size")
		}
		if len(data) != q.frameSize {
			return 0, errors.Wrapf(pkg.ErrFormatMismatch,
				"frame is %d bytes, want %d", len(data), q.frameSize)
		}

		index := q.freeIndexLocked()
		if index < 0 {
			switch q.policy {
			case PolicyReject:
				q.rejected++
				return 0, errors.Wrapf(pkg.ErrQueueFull, "%d buffers in use", len(q.buffers))

			case PolicyDropOldest:
				if len(q.queued) == 0 {
					q.rejected++
					return 0, errors.Wrap(pkg.ErrQueueFull, "all buffers held by consumer")
				}
				index = q.popLocked()
				pkg.LogDebug(pkg.ComponentQueue, "evicted oldest frame",
					"index", index,
					"sequence", q.buffers[index].Sequence)
				q.buffers[index].State = BufferFree
				q.dropped++

			default:
				changed := q.changed
				q.mutex.Unlock()
				err := waitFor(ctx, changed, cancel, nil)
				q.mutex.Lock()
				if err != nil {
					return 0, errors.Wrap(err, "enqueue")
				}
				continue
			}
		}

		if ts.IsZero() {
			ts = time.Now()
		}
		b := &q.buffers[index]
		if cap(b.Data) < q.frameSize {
			b.Data = make([]byte, q.frameSize)
		}
		b.Data = b.Data[:q.frameSize]
		copy(b.Data, data)
		q.sequence++
		b.Sequence = q.sequence
		b.Timestamp = ts
		b.Length = len(data)
		b.State = BufferQueued
		q.queued = append(q.queued, index)
		q.enqueued++
		q.broadcastLocked()
		return b.Sequence, nil
	}
}

// Dequeue waits for the oldest queued buffer and marks it held. A timeout
// of zero or less waits until a buffer arrives, the waiters are cancelled,
// or ctx ends.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Buffer, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.dequeueLocked(ctx, timeout)
}

// dequeueLocked must be called with the lock held. It releases the lock
// while blocked.
func (q *Queue) dequeueLocked(ctx context.Context, timeout time.Duration) (Buffer, error) {
	cancel := q.cancel
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		if q.closed {
			return Buffer{}, pkg.ErrClosed
		}
		if isDone(cancel) {
			return Buffer{}, errors.Wrap(pkg.ErrCancelled, "dequeue")
		}
		if len(q.queued) > 0 {
			b := &q.buffers[q.popLocked()]
			b.State = BufferHeld
			q.dequeued++
			return *b, nil
		}

		changed := q.changed
		q.mutex.Unlock()
		err := waitFor(ctx, changed, cancel, deadline)
		q.mutex.Lock()
		if err != nil {
			return Buffer{}, errors.Wrap(err, "dequeue")
		}
	}
}

// TryDequeue returns the oldest queued buffer without waiting, or
// ErrQueueEmpty.
func (q *Queue) TryDequeue() (Buffer, error) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return Buffer{}, pkg.ErrClosed
	}
	if len(q.queued) == 0 {
		return Buffer{}, pkg.ErrQueueEmpty
	}
	b := &q.buffers[q.popLocked()]
	b.State = BufferHeld
	q.dequeued++
	return *b, nil
}

// Release returns a held buffer to free.
func (q *Queue) Release(index int) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.releaseLocked(index)
}

func (q *Queue) releaseLocked(index int) error {
	if q.closed {
		return pkg.ErrClosed
	}
	if index < 0 || index >= len(q.buffers) {
		return errors.Wrapf(pkg.ErrNotFound, "buffer %d", index)
	}
	b := &q.buffers[index]
	if b.State != BufferHeld {
		return errors.Wrapf(pkg.ErrInvalidState, "buffer %d is %s", index, b.State)
	}
	b.State = BufferFree
	b.Length = 0
	q.released++
	q.broadcastLocked()
	return nil
}

// ReleaseFrame releases index only while it still holds the frame with
// sequence seq. A buffer freed by a reset and refilled since is left alone.
func (q *Queue) ReleaseFrame(index int, seq uint64) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.releaseFrameLocked(index, seq)
}

func (q *Queue) releaseFrameLocked(index int, seq uint64) error {
	if index >= 0 && index < len(q.buffers) {
		b := &q.buffers[index]
		if b.State == BufferHeld && b.Sequence != seq {
			return errors.Wrapf(pkg.ErrInvalidState, "buffer %d holds frame %d, not %d", index, b.Sequence, seq)
		}
	}
	return q.releaseLocked(index)
}

// freeIndexLocked returns the lowest free buffer index, or -1.
func (q *Queue) freeIndexLocked() int {
	for i := range q.buffers {
		if q.buffers[i].State == BufferFree {
			return i
		}
	}
	return -1
}

// popLocked removes and returns the oldest queued index.
func (q *Queue) popLocked() int {
	index := q.queued[0]
	copy(q.queued, q.queued[1:])
	q.queued = q.queued[:len(q.queued)-1]
	return index
}

func (q *Queue) countLocked(state BufferState) int {
	n := 0
	for i := range q.buffers {
		if q.buffers[i].State == state {
			n++
		}
	}
	return n
}

// waitFor blocks until changed is closed, the waiter is cancelled, the
// deadline fires or ctx ends. A nil deadline never fires.
func waitFor(ctx context.Context, changed, cancel <-chan struct{}, deadline <-chan time.Time) error {
	select {
	case <-changed:
		return nil
	case <-cancel:
		return pkg.ErrCancelled
	case <-deadline:
		return pkg.ErrTimeout
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return pkg.ErrTimeout
		}
		return errors.Wrap(pkg.ErrCancelled, ctx.Err().Error())
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
