/*Package grab holds the moving parts between a camera's stream and its consumer.

Buffers are owned by a Pool.  A device fills a buffer, the grab engine wraps
it in a reference counted Result and pushes it into a Queue whose behavior is
set by a Strategy.  The consumer releases the Result when done, which returns
the buffer to the pool (or straight back to the device, when grabbing).

A buffer that is never released is never reused.  Holding results for too
long starves the device of buffers and stalls acquisition; it never
corrupts data.
*/
package grab

import (
	"sync/atomic"

	"github.com/nasa-jpl/instacam/pfnc"
)

// Status is the completion state of a filled buffer
type Status int

const (
	// Idle means the buffer has not been filled
	Idle Status = iota

	// Succeeded means the buffer holds a complete image
	Succeeded

	// Failed means the transfer was incomplete or corrupted; the buffer
	// still carries metadata and whatever data arrived
	Failed

	// Canceled means the buffer was flushed out of the device's input
	// queue without being filled
	Canceled
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case Canceled:
		return "Canceled"
	}
	return "Unknown"
}

// Meta is the description a device attaches to a buffer when it fills it
type Meta struct {
	Width       int
	Height      int
	OffsetX     int
	OffsetY     int
	PaddingX    int
	PixelFormat pfnc.PixelFormat

	// PayloadSize is the number of valid bytes in the buffer
	PayloadSize int

	// BlockID is the frame counter assigned by the device
	BlockID uint64

	// Timestamp is the device tick count when the frame was exposed
	Timestamp uint64

	Status           Status
	ErrorCode        uint32
	ErrorDescription string
}

// Buffer is a block of memory a device writes one frame into
type Buffer struct {
	// Meta is set by the device on completion
	Meta Meta

	// ID is stable for the life of the pool, 0-based
	ID int

	data []byte
	pool *Pool
	refs atomic.Int32
}

// NewBuffer allocates a standalone buffer which belongs to no pool
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Bytes is the whole allocation, which the device writes into
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Payload is the valid part of the allocation
func (b *Buffer) Payload() []byte {
	n := b.Meta.PayloadSize
	if n > len(b.data) || n < 0 {
		n = len(b.data)
	}
	return b.data[:n]
}

// Size is the allocation size in bytes
func (b *Buffer) Size() int {
	return len(b.data)
}

// Reset clears the completion metadata so the buffer can be queued again
func (b *Buffer) Reset() {
	b.Meta = Meta{}
}

func (b *Buffer) retain() {
	b.refs.Add(1)
}

// unref drops a reference and hands the buffer back to its pool on the last one
func (b *Buffer) unref() {
	if b.refs.Add(-1) == 0 && b.pool != nil {
		b.pool.Put(b)
	}
}
