package audio

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/smallnest/ringbuffer"
)

const frameHeader = 4

// FrameQueue holds encoded frames between the capture loop and the transport
// writer. Pushes never block: when the ring is full the oldest frames are
// dropped until the new one fits.
type FrameQueue struct {
	mu      sync.Mutex
	ring    *ringbuffer.RingBuffer
	ready   chan struct{}
	closed  bool
	frames  int
	dropped int
	hdr     [frameHeader]byte
}

// NewFrameQueue creates a queue holding up to capacity bytes of frames.
func NewFrameQueue(capacity int) *FrameQueue {
	return &FrameQueue{
		ring:  ringbuffer.New(capacity),
		ready: make(chan struct{}, 1),
	}
}

// SendFrame enqueues a copy of frame.
func (q *FrameQueue) SendFrame(frame []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	need := frameHeader + len(frame)
	if need > q.ring.Capacity() {
		q.dropped++
		return
	}
	for q.ring.Free() < need {
		q.discardLocked()
	}

	binary.LittleEndian.PutUint32(q.hdr[:], uint32(len(frame)))
	_, _ = q.ring.Write(q.hdr[:])
	if len(frame) > 0 {
		_, _ = q.ring.Write(frame)
	}
	q.frames++

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Next blocks until a frame is available. It returns io.EOF once the queue is
// closed and drained.
func (q *FrameQueue) Next(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if !q.ring.IsEmpty() {
			frame := q.popLocked()
			q.mu.Unlock()
			return frame, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len is the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames
}

// Dropped reports how many frames were discarded for lack of room.
func (q *FrameQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close wakes any waiting reader. Frames already queued can still be drained.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *FrameQueue) popLocked() []byte {
	_, _ = io.ReadFull(q.ring, q.hdr[:])
	size := int(binary.LittleEndian.Uint32(q.hdr[:]))
	frame := make([]byte, size)
	if size > 0 {
		_, _ = io.ReadFull(q.ring, frame)
	}
	q.frames--
	return frame
}

func (q *FrameQueue) discardLocked() {
	q.popLocked()
	q.dropped++
}
