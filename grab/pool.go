package grab

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by Get after Close
var ErrPoolClosed = errors.New("buffer pool is closed")

// Recycler is offered every buffer whose last reference was dropped.  If it
// returns true it has taken the buffer (e.g. queued it on a device) and the
// buffer stays on lease; otherwise the buffer goes back on the free list.
type Recycler func(*Buffer) bool

// BufferFactory supplies the memory behind a pool's buffers.  AllocateBuffer
// is called once for each buffer the pool creates and must return at least
// size bytes; FreeBuffer is called once for each of them after the pool is
// closed and the buffer has come back.
type BufferFactory interface {
	AllocateBuffer(size, id int) ([]byte, error)
	FreeBuffer(data []byte, id int)
}

// Pool is a fixed-capacity set of equally sized buffers.  Buffers are
// allocated lazily up to maxSize and reused after that; when all of them are
// on lease, Get blocks until one comes back.  It is concurrent safe.
// Pools must be created with NewPool.
type Pool struct {
	maxSize int          // maximum number of buffers, == cap(free)
	bufSize int          // bytes per buffer
	free    chan *Buffer // buffers not on lease
	mu      sync.Mutex
	onLease int
	size    int // number of buffers allocated
	recycle Recycler
	factory BufferFactory // nil allocates with make
	closed  bool
}

// NewPool returns a pool which will hold up to maxSize buffers of bufSize bytes
func NewPool(maxSize, bufSize int) *Pool {
	return NewPoolWithFactory(maxSize, bufSize, nil)
}

// NewPoolWithFactory is NewPool with the buffers' memory coming from f
func NewPoolWithFactory(maxSize, bufSize int, f BufferFactory) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		maxSize: maxSize,
		bufSize: bufSize,
		free:    make(chan *Buffer, maxSize),
		factory: f,
	}
}

// SetRecycler installs (or with nil, removes) the hook consulted when a
// buffer is released
func (p *Pool) SetRecycler(r Recycler) {
	p.mu.Lock()
	p.recycle = r
	p.mu.Unlock()
}

// Get leases a buffer, blocking until one is available or ctx is done
func (p *Pool) Get(ctx context.Context) (*Buffer, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	// short circuit: a free buffer is waiting
	select {
	case b := <-p.free:
		p.onLease++
		p.mu.Unlock()
		b.Reset()
		return b, nil
	default:
	}
	// not all allocated yet, make one
	if p.size < p.maxSize {
		id := p.size
		data := []byte(nil)
		if p.factory == nil {
			data = make([]byte, p.bufSize)
		} else {
			var err error
			data, err = p.factory.AllocateBuffer(p.bufSize, id)
			if err == nil && len(data) < p.bufSize {
				p.factory.FreeBuffer(data, id)
				err = fmt.Errorf("%d bytes allocated for a %d byte buffer", len(data), p.bufSize)
			}
			if err != nil {
				p.mu.Unlock()
				return nil, fmt.Errorf("allocating buffer %d: %w", id, err)
			}
		}
		b := &Buffer{ID: id, data: data, pool: p}
		p.size++
		p.onLease++
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	// all are out, wait for one to come back
	select {
	case b := <-p.free:
		p.mu.Lock()
		p.onLease++
		p.mu.Unlock()
		b.Reset()
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryGet leases a buffer if one can be had without blocking.  ok is false
// when all are on lease; err reports a closed pool or a failed allocation.
func (p *Pool) TryGet() (b *Buffer, ok bool, err error) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b, err = p.Get(ctx)
	if errors.Is(err, context.Canceled) {
		return nil, false, nil
	}
	return b, err == nil, err
}

// Put returns a buffer to the pool.  The recycler, if any, gets first claim.
// Result.Release calls Put; consumers of results never need to.
func (p *Pool) Put(b *Buffer) {
	p.mu.Lock()
	rec := p.recycle
	p.mu.Unlock()
	if rec != nil && rec(b) {
		return
	}
	p.mu.Lock()
	p.onLease--
	if p.closed && p.factory != nil {
		f := p.factory
		p.mu.Unlock()
		f.FreeBuffer(b.data, b.ID)
		return
	}
	// never blocks, the channel holds every buffer the pool can make
	p.free <- b
	p.mu.Unlock()
}

// Close makes further Gets fail.  Buffers on lease may still be returned.
// With a factory, the free buffers are freed now and the others as they
// come back.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.recycle = nil
	var idle []*Buffer
drain:
	for p.factory != nil {
		select {
		case b := <-p.free:
			idle = append(idle, b)
		default:
			break drain
		}
	}
	f := p.factory
	p.mu.Unlock()
	for _, b := range idle {
		f.FreeBuffer(b.data, b.ID)
	}
}

// MaxSize is the most buffers this pool will ever allocate
func (p *Pool) MaxSize() int {
	return p.maxSize
}

// BufferSize is the size of each buffer in bytes
func (p *Pool) BufferSize() int {
	return p.bufSize
}

// Size returns the number of buffers allocated so far
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Active returns the number of buffers currently on lease
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLease
}
