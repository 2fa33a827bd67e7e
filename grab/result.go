package grab

import (
	"sync/atomic"

	"github.com/nasa-jpl/instacam/pfnc"
)

// Result is one delivered frame: a reference to a filled buffer plus the
// bookkeeping the grab engine adds.  Results must be released; a Result
// whose buffer was incomplete is still a Result, with GrabSucceeded false.
type Result struct {
	buf      *Buffer
	released atomic.Bool
	skipped  int
	context  int
}

// NewResult wraps a filled buffer, taking one reference on it
func NewResult(b *Buffer) *Result {
	b.retain()
	return &Result{buf: b}
}

// Clone returns a second handle on the same buffer.  Both must be released.
func (r *Result) Clone() *Result {
	r.buf.retain()
	return &Result{buf: r.buf, skipped: r.skipped, context: r.context}
}

// Release gives up this handle.  It is safe to call more than once.
func (r *Result) Release() {
	if r == nil {
		return
	}
	if r.released.CompareAndSwap(false, true) {
		r.buf.unref()
	}
}

// Released reports whether Release has been called on this handle
func (r *Result) Released() bool {
	return r.released.Load()
}

// GrabSucceeded is true when the buffer holds a complete image
func (r *Result) GrabSucceeded() bool {
	return r.buf.Meta.Status == Succeeded
}

// Status returns the raw completion state
func (r *Result) Status() Status {
	return r.buf.Meta.Status
}

// ErrorCode is the device's error code for a failed grab, 0 otherwise
func (r *Result) ErrorCode() uint32 {
	return r.buf.Meta.ErrorCode
}

// ErrorDescription is a human readable reason for a failed grab
func (r *Result) ErrorDescription() string {
	return r.buf.Meta.ErrorDescription
}

// Width in pixels
func (r *Result) Width() int {
	return r.buf.Meta.Width
}

// Height in pixels
func (r *Result) Height() int {
	return r.buf.Meta.Height
}

// OffsetX is the left edge of the AOI on the sensor
func (r *Result) OffsetX() int {
	return r.buf.Meta.OffsetX
}

// OffsetY is the top edge of the AOI on the sensor
func (r *Result) OffsetY() int {
	return r.buf.Meta.OffsetY
}

// PaddingX is the number of padding bytes at the end of each row
func (r *Result) PaddingX() int {
	return r.buf.Meta.PaddingX
}

// PixelFormat of the payload
func (r *Result) PixelFormat() pfnc.PixelFormat {
	return r.buf.Meta.PixelFormat
}

// Buffer returns the payload.  The slice aliases pooled memory and must not
// be used after Release.
func (r *Result) Buffer() []byte {
	return r.buf.Payload()
}

// PayloadSize is the number of valid bytes
func (r *Result) PayloadSize() int {
	return len(r.buf.Payload())
}

// BlockID is the device's frame counter
func (r *Result) BlockID() uint64 {
	return r.buf.Meta.BlockID
}

// TimeStamp is the device tick count of the exposure
func (r *Result) TimeStamp() uint64 {
	return r.buf.Meta.Timestamp
}

// BufferID identifies the pooled buffer behind this result
func (r *Result) BufferID() int {
	return r.buf.ID
}

// NumberOfSkippedImages is the count of results dropped from the output
// queue since the previous delivery
func (r *Result) NumberOfSkippedImages() int {
	return r.skipped
}

// CameraContext is the context value of the camera that produced this result
func (r *Result) CameraContext() int {
	return r.context
}

// SetCameraContext is used by the grab engine to tag results
func (r *Result) SetCameraContext(c int) {
	r.context = c
}
