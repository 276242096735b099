package types

import (
	"sync/atomic"
	"time"
)

// PixelFormat identifies the layout of Frame.Data
type PixelFormat int

// PixelFormat constants (values match the capture daemon's shared memory header)
const (
	FormatJPEG PixelFormat = 0
	FormatNV12 PixelFormat = 1
	FormatRGB  PixelFormat = 2
	FormatGray PixelFormat = 4
)

// String returns the format name
func (f PixelFormat) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatNV12:
		return "nv12"
	case FormatRGB:
		return "rgb"
	case FormatGray:
		return "gray"
	default:
		return "unknown"
	}
}

// Frame represents a single decoded camera frame with metadata
type Frame struct {
	Seq       uint64      // Sequential frame number assigned by the device
	Timestamp time.Time   // Capture timestamp
	Width     int         // Width of Data in pixels (sensor orientation)
	Height    int         // Height of Data in pixels (sensor orientation)
	Rotation  int         // Clockwise rotation in degrees needed to display upright
	Format    PixelFormat // Pixel layout of Data
	Data      []byte      // Pixel data, never modified after the frame is handed out

	refs    atomic.Int32
	release func()
}

// NewPooledFrame gives f one reference held by the producer. release runs once
// the last reference is dropped, so the producer can recycle Data.
func NewPooledFrame(f *Frame, release func()) *Frame {
	f.release = release
	f.refs.Store(1)
	return f
}

// Retain adds a reference to the frame
func (f *Frame) Retain() *Frame {
	if f != nil {
		f.refs.Add(1)
	}
	return f
}

// Release drops a reference. Frames created without NewPooledFrame have no
// release hook and are reclaimed by the garbage collector.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	if f.refs.Add(-1) == 0 && f.release != nil {
		f.release()
	}
}

// Refs returns the current reference count
func (f *Frame) Refs() int32 {
	return f.refs.Load()
}
