package anpr

import "sync/atomic"

// Frame is one captured image handed from a camera worker to the
// processing loop.
type Frame struct {
	CameraID  int
	Data      []byte
	Width     int
	Height    int
	Timestamp int64 // unix nanos
}

// FrameBus is a bounded, many-producer/one-consumer mailbox. When full,
// Push drops the incoming frame and counts the drop rather than blocking
// the producer.
type FrameBus struct {
	ch      chan Frame
	dropped atomic.Int64
}

// NewFrameBus constructs a FrameBus with the given capacity. A capacity of
// 0 or less is treated as 1.
func NewFrameBus(capacity int) *FrameBus {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameBus{ch: make(chan Frame, capacity)}
}

// Push attempts to enqueue a frame without blocking. It reports whether the
// frame was accepted; a false return means the bus was full and the frame
// was dropped.
func (b *FrameBus) Push(f Frame) bool {
	select {
	case b.ch <- f:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Frames exposes the receive side for the single consumer.
func (b *FrameBus) Frames() <-chan Frame {
	return b.ch
}

// Dropped returns the running count of frames dropped due to backpressure.
func (b *FrameBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes the underlying channel. Callers must ensure no further Push
// calls occur after Close.
func (b *FrameBus) Close() {
	close(b.ch)
}
