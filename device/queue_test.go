package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softcam/pkg"
)

const testFrameSize = 16

func newTestQueue(t *testing.T, capacity int, policy Policy) *Queue {
	t.Helper()
	q, err := NewQueue(capacity, policy)
	require.NoError(t, err)
	q.Reset(testFrameSize)
	return q
}

func frame(b byte) []byte {
	data := make([]byte, testFrameSize)
	for i := range data {
		data[i] = b
	}
	return data
}

func TestNewQueue_Invalid(t *testing.T) {
	_, err := NewQueue(0, PolicyBlock)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	_, err = NewQueue(MaxQueueCapacity+1, PolicyBlock)
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	_, err = NewQueue(4, Policy(9))
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"block", PolicyBlock, false},
		{"", PolicyBlock, false},
		{"drop-oldest", PolicyDropOldest, false},
		{"DROP_OLDEST", PolicyDropOldest, false},
		{"reject", PolicyReject, false},
		{"lossy", PolicyBlock, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotEqual(t, "unknown", got.String())
		})
	}
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 4, PolicyBlock)

	for i := byte(1); i <= 3; i++ {
		seq, err := q.Enqueue(ctx, frame(i), time.Time{})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	assert.Equal(t, 3, q.Len())

	for i := byte(1); i <= 3; i++ {
		b, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), b.Sequence)
		assert.Equal(t, BufferHeld, b.State)
		assert.Equal(t, testFrameSize, b.Length)
		assert.Equal(t, i, b.Data[0])
		assert.False(t, b.Timestamp.IsZero())
		require.NoError(t, q.Release(b.Index))
	}

	stats := q.Stats()
	assert.Equal(t, uint64(3), stats.Enqueued)
	assert.Equal(t, uint64(3), stats.Dequeued)
	assert.Equal(t, uint64(3), stats.Released)
	assert.Zero(t, stats.Held)
	assert.Zero(t, stats.Queued)
}

func TestQueue_CopiesData(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2, PolicyBlock)

	data := frame(7)
	_, err := q.Enqueue(ctx, data, time.Time{})
	require.NoError(t, err)
	data[0] = 99

	b, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte(7), b.Data[0])
}

func TestQueue_FormatMismatch(t *testing.T) {
	q := newTestQueue(t, 2, PolicyBlock)

	_, err := q.Enqueue(context.Background(), make([]byte, testFrameSize-1), time.Time{})
	assert.ErrorIs(t, err, pkg.ErrFormatMismatch)
	assert.Zero(t, q.Len())
	assert.Zero(t, q.Stats().Sequence)
}

func TestQueue_NoFrameSize(t *testing.T) {
	q, err := NewQueue(2, PolicyBlock)
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), nil, time.Time{})
	assert.ErrorIs(t, err, pkg.ErrInvalidState)
}

func TestQueue_Reject(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2, PolicyReject)

	_, err := q.Enqueue(ctx, frame(1), time.Time{})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, frame(2), time.Time{})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, frame(3), time.Time{})
	assert.ErrorIs(t, err, pkg.ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Stats().Rejected)

	b, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), b.Sequence)
}

func TestQueue_DropOldest(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 4, PolicyDropOldest)

	for i := byte(1); i <= 6; i++ {
		_, err := q.Enqueue(ctx, frame(i), time.Time{})
		require.NoError(t, err)
	}

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, 4, stats.Queued)

	for want := uint64(3); want <= 6; want++ {
		b, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, b.Sequence)
		assert.Equal(t, byte(want), b.Data[0])
	}
}

func TestQueue_DropOldestAllHeld(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2, PolicyDropOldest)

	for i := byte(1); i <= 2; i++ {
		_, err := q.Enqueue(ctx, frame(i), time.Time{})
		require.NoError(t, err)
		_, err = q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
	}

	_, err := q.Enqueue(ctx, frame(3), time.Time{})
	assert.ErrorIs(t, err, pkg.ErrQueueFull)
	assert.Equal(t, 2, q.Held())
}

func TestQueue_BlockUntilRelease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 1, PolicyBlock)

	_, err := q.Enqueue(ctx, frame(1), time.Time{})
	require.NoError(t, err)
	b, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, frame(2), time.Time{})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Enqueue returned before release: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, q.Release(b.Index))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not unblock after release")
	}
	assert.Equal(t, 1, q.Len())
}

func TestQueue_DequeueTimeout(t *testing.T) {
	q := newTestQueue(t, 2, PolicyBlock)

	start := time.Now()
	_, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, pkg.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_DequeueContext(t *testing.T) {
	q := newTestQueue(t, 2, PolicyBlock)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx, 0)
	assert.ErrorIs(t, err, pkg.ErrTimeout)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = q.Dequeue(ctx, 0)
	assert.ErrorIs(t, err, pkg.ErrCancelled)
}

func TestQueue_DequeueWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2, PolicyBlock)

	result := make(chan Buffer, 1)
	go func() {
		b, err := q.Dequeue(ctx, 0)
		if err == nil {
			result <- b
		}
		close(result)
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := q.Enqueue(ctx, frame(5), time.Time{})
	require.NoError(t, err)

	select {
	case b, ok := <-result:
		require.True(t, ok)
		assert.Equal(t, uint64(1), b.Sequence)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake")
	}
}

func TestQueue_CancelWaiters(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 1, PolicyBlock)

	var wg sync.WaitGroup
	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := q.Dequeue(ctx, 0)
		errs <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.CancelWaiters()
	wg.Wait()
	assert.ErrorIs(t, <-errs, pkg.ErrCancelled)

	// Later calls are not affected
	_, err := q.Enqueue(ctx, frame(1), time.Time{})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
}

func TestQueue_Release(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2, PolicyBlock)

	assert.ErrorIs(t, q.Release(-1), pkg.ErrNotFound)
	assert.ErrorIs(t, q.Release(2), pkg.ErrNotFound)
	assert.ErrorIs(t, q.Release(0), pkg.ErrInvalidState)

	_, err := q.Enqueue(ctx, frame(1), time.Time{})
	require.NoError(t, err)
	assert.ErrorIs(t, q.Release(0), pkg.ErrInvalidState, "queued buffer")

	b, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Release(b.Index))
	assert.ErrorIs(t, q.Release(b.Index), pkg.ErrInvalidState, "double release")
}

func TestQueue_ReleaseFrame(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2, PolicyBlock)

	_, err := q.Enqueue(ctx, frame(1), time.Time{})
	require.NoError(t, err)
	stale, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	// The reset frees buffer 0 and the next frame reuses it.
	q.Reset(testFrameSize)
	_, err = q.Enqueue(ctx, frame(2), time.Time{})
	require.NoError(t, err)
	current, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, stale.Index, current.Index)

	assert.ErrorIs(t, q.ReleaseFrame(stale.Index, stale.Sequence), pkg.ErrInvalidState)
	assert.Equal(t, 1, q.Held())
	assert.Equal(t, byte(2), current.Data[0])

	require.NoError(t, q.ReleaseFrame(current.Index, current.Sequence))
	assert.ErrorIs(t, q.ReleaseFrame(current.Index, current.Sequence), pkg.ErrInvalidState)
	assert.ErrorIs(t, q.ReleaseFrame(5, 1), pkg.ErrNotFound)
}

func TestQueue_ResetKeepsSequence(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2, PolicyBlock)

	_, err := q.Enqueue(ctx, frame(1), time.Time{})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	q.Reset(8)
	assert.Zero(t, q.Len())
	assert.Zero(t, q.Held())
	assert.Equal(t, 8, q.FrameSize())

	seq, err := q.Enqueue(ctx, make([]byte, 8), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
}

func TestQueue_Close(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 1, PolicyBlock)

	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx, 0)
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	assert.ErrorIs(t, <-errs, pkg.ErrCancelled)

	_, err := q.Enqueue(ctx, frame(1), time.Time{})
	assert.ErrorIs(t, err, pkg.ErrClosed)
	_, err = q.Dequeue(ctx, time.Millisecond)
	assert.ErrorIs(t, err, pkg.ErrClosed)
	assert.ErrorIs(t, q.Release(0), pkg.ErrClosed)
	q.Close()
}

func TestQueue_TryDequeue(t *testing.T) {
	q := newTestQueue(t, 2, PolicyBlock)

	_, err := q.TryDequeue()
	assert.ErrorIs(t, err, pkg.ErrQueueEmpty)

	_, err = q.Enqueue(context.Background(), frame(1), time.Time{})
	require.NoError(t, err)
	b, err := q.TryDequeue()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), b.Sequence)
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	const frames = 200
	ctx := context.Background()
	q := newTestQueue(t, 3, PolicyBlock)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < frames; i++ {
			if _, err := q.Enqueue(ctx, frame(byte(i)), time.Time{}); err != nil {
				t.Errorf("Enqueue(%d): %v", i, err)
				return
			}
		}
	}()

	var last uint64
	for i := 0; i < frames; i++ {
		b, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.Greater(t, b.Sequence, last)
		last = b.Sequence
		require.NoError(t, q.Release(b.Index))
	}
	wg.Wait()

	assert.Equal(t, uint64(frames), last)
	assert.Zero(t, q.Stats().Dropped)
}
