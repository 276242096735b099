// Package framebuffer holds the latest camera frame for a texture. It is a
// single-slot mailbox: publishing replaces the held frame and a slow reader
// only ever sees the newest one.
package framebuffer

import (
	"sync"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

// Sink is notified once per published frame
type Sink interface {
	FrameAvailable()
}

// Stats counts buffer traffic
type Stats struct {
	Published  uint64
	Superseded uint64 // replaced before anyone acquired them
	Acquired   uint64
}

// Buffer is the single-slot frame holder
type Buffer struct {
	sink Sink

	mu       sync.Mutex
	current  *types.Frame
	consumed bool
	stats    Stats
	closed   bool
}

// New creates a buffer that notifies sink
func New(sink Sink) *Buffer {
	return &Buffer{sink: sink}
}

// Publish stores frame, retaining it, and drops the previously held frame.
// It returns false when the buffer was reset for good.
func (b *Buffer) Publish(frame *types.Frame) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	prev := b.current
	if prev != nil && !b.consumed {
		b.stats.Superseded++
	}
	b.current = frame.Retain()
	b.consumed = false
	b.stats.Published++
	b.mu.Unlock()

	prev.Release()
	if b.sink != nil {
		b.sink.FrameAvailable()
	}
	return true
}

// Peek returns the held frame with an extra reference the caller must
// Release, so its Data stays intact across later publishes. Unlike Acquire
// it does not mark the frame as rendered.
func (b *Buffer) Peek() *types.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current.Retain()
}

// Acquire returns the held frame with an extra reference the caller must
// Release. It returns nil when nothing is held.
func (b *Buffer) Acquire() *types.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil
	}
	if !b.consumed {
		b.consumed = true
		b.stats.Acquired++
	}
	return b.current.Retain()
}

// Reset drops the held frame. When final is set later publishes are refused.
func (b *Buffer) Reset(final bool) {
	b.mu.Lock()
	prev := b.current
	b.current = nil
	if final {
		b.closed = true
	}
	b.mu.Unlock()

	prev.Release()
}

// Stats returns a snapshot of the counters
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
