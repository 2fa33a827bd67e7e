package instant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/grab"
)

// GrabLoop selects who calls RetrieveResult
type GrabLoop int

const (
	// GrabLoopProvidedByUser means the caller loops on RetrieveResult
	GrabLoopProvidedByUser GrabLoop = iota

	// GrabLoopProvidedByInstantCamera means a goroutine owned by the camera
	// retrieves results and hands them to the image event handlers
	GrabLoopProvidedByInstantCamera
)

// TimeoutHandling selects what a blocking call does when its time is up
type TimeoutHandling int

const (
	// TimeoutReturn returns a nil result (or false) and no error
	TimeoutReturn TimeoutHandling = iota

	// TimeoutError returns an error matching camera.ErrTimeout
	TimeoutError
)

// ErrStopGrabbing may be returned by an image event handler to end grabbing
// after the current result.  It is how a handler on the camera's grab loop
// stops the loop it runs on.
var ErrStopGrabbing = errors.New("stop grabbing requested by handler")

// GrabOptions configure StartGrabbing.  The zero value grabs one by one,
// without limit, in pull mode.
type GrabOptions struct {
	Strategy grab.Strategy
	Loop     GrabLoop

	// MaxImages stops grabbing once this many results have been retrieved,
	// 0 for no limit
	MaxImages int
}

// session is one run of the grab engine
type session struct {
	opts    GrabOptions
	context int
	stream  camera.Stream
	pool    *grab.Pool
	out     *grab.Queue
	cancel  context.CancelFunc

	engineDone chan struct{}
	loopDone   chan struct{} // nil in pull mode

	mu       sync.Mutex
	stopping bool

	retrieved atomic.Int64
	inFlight  atomic.Int32 // UpcomingImage buffers queued and not yet filled
}

func (s *session) limitReached() bool {
	return s.opts.MaxImages > 0 && s.retrieved.Load() >= int64(s.opts.MaxImages)
}

// SetMaxNumBuffer sets the number of buffers the next grab session
// allocates.  It cannot change while grabbing.
func (c *Camera) SetMaxNumBuffer(n int) error {
	if n < 1 {
		return fmt.Errorf("MaxNumBuffer must be at least 1, not %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Grabbing {
		return pkgerrors.Wrap(camera.ErrAlreadyGrabbing, "MaxNumBuffer cannot change while grabbing")
	}
	c.maxNumBuffer = n
	return nil
}

// SetBufferFactory makes the next grab sessions take their buffer memory
// from f; nil goes back to the default allocation.  Every buffer a session
// allocates is freed through f after grabbing stops and the last result
// holding it is released.
func (c *Camera) SetBufferFactory(f grab.BufferFactory) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Grabbing {
		return pkgerrors.Wrap(camera.ErrAlreadyGrabbing, "the buffer factory cannot change while grabbing")
	}
	c.bufferFactory = f
	return nil
}

// MaxNumBuffer returns the buffer count of a grab session
func (c *Camera) MaxNumBuffer() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxNumBuffer
}

// SetOutputQueueSize sets the bound of the LatestImages strategy.  It can
// change while grabbing; shrinking drops the oldest waiting results, which
// are reported as skipped.
func (c *Camera) SetOutputQueueSize(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > c.maxNumBuffer {
		return fmt.Errorf("OutputQueueSize must be within 1..%d, not %d", c.maxNumBuffer, n)
	}
	c.outputQueueSize = n
	if c.g != nil && c.g.opts.Strategy == grab.LatestImages {
		if dropped := c.g.out.SetCapacity(n); dropped > 0 && c.watcher != nil {
			c.watcher.dropped(c, dropped)
		}
	}
	return nil
}

// OutputQueueSize returns the LatestImages bound
func (c *Camera) OutputQueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputQueueSize
}

// StartGrabbing opens the camera if needed, allocates buffers for the
// current payload size, and starts acquisition
func (c *Camera) StartGrabbing(opts GrabOptions) error {
	c.grabMu.Lock()
	defer c.grabMu.Unlock()

	switch c.State() {
	case Grabbing:
		return camera.ErrAlreadyGrabbing
	case Attached:
		if err := c.Open(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	st, dev := c.state, c.dev
	maxBuf, queueSize, ctxVal, factory := c.maxNumBuffer, c.outputQueueSize, c.cameraContext, c.bufferFactory
	c.mu.Unlock()
	switch st {
	case Removed:
		return camera.ErrDeviceRemoved
	case Detached:
		return camera.ErrNoDevice
	case Destroyed:
		return errDestroyed
	}
	if opts.Strategy == grab.UpcomingImage && dev.Info().DeviceClass == camera.ClassUSB {
		return pkgerrors.Wrap(camera.ErrNotSupported, "the UpcomingImage strategy cannot be used with USB devices")
	}

	if err := c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnGrabStart }); err != nil {
		return err
	}

	nm := dev.NodeMap()
	nm.Integer("TLParamsLocked").TrySetValue(1)
	payload, err := nm.Integer("PayloadSize").Value()
	if err != nil {
		nm.Integer("TLParamsLocked").TrySetValue(0)
		return pkgerrors.Wrap(err, "reading the payload size")
	}

	s := &session{
		opts:       opts,
		context:    ctxVal,
		stream:     dev.Stream(),
		pool:       grab.NewPoolWithFactory(maxBuf, int(payload), factory),
		out:        grab.NewQueue(opts.Strategy.QueueCapacity(queueSize)),
		engineDone: make(chan struct{}),
	}
	if err := s.stream.Open(); err != nil {
		nm.Integer("TLParamsLocked").TrySetValue(0)
		return pkgerrors.Wrap(err, "opening the stream")
	}
	if opts.Strategy != grab.UpcomingImage {
		for i := 0; i < maxBuf; i++ {
			b, ok, err := s.pool.TryGet()
			if err != nil {
				s.pool.Close()
				for _, b := range s.stream.Flush() {
					s.pool.Put(b)
				}
				s.stream.Close()
				nm.Integer("TLParamsLocked").TrySetValue(0)
				return pkgerrors.Wrap(err, "allocating grab buffers")
			}
			if !ok {
				break
			}
			if err := s.stream.QueueBuffer(b); err != nil {
				s.pool.Put(b)
				break
			}
		}
	}
	// released buffers go straight back to the device, except for
	// UpcomingImage, where RetrieveResult queues them one at a time
	s.pool.SetRecycler(func(b *grab.Buffer) bool {
		if opts.Strategy == grab.UpcomingImage {
			return false
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopping {
			return false
		}
		return s.stream.QueueBuffer(b) == nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go c.engine(ctx, s)
	if err := nm.Command("AcquisitionStart").Execute(); err != nil {
		c.teardown(s)
		nm.Integer("TLParamsLocked").TrySetValue(0)
		return pkgerrors.Wrap(err, "starting acquisition")
	}
	if opts.Loop == GrabLoopProvidedByInstantCamera {
		s.loopDone = make(chan struct{})
		go c.grabLoop(ctx, s)
	}

	c.mu.Lock()
	c.g = s
	c.state = Grabbing
	c.mu.Unlock()
	return c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnGrabStarted })
}

// engine moves filled buffers from the stream into the output queue
func (c *Camera) engine(ctx context.Context, s *session) {
	defer close(s.engineDone)
	for {
		b, err := s.stream.RetrieveBuffer(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// wake the consumer; it reports the removal or the stop
			s.out.Close()
			if !errors.Is(err, camera.ErrDeviceRemoved) {
				c.grabError(s, err)
			}
			return
		}
		if s.opts.Strategy == grab.UpcomingImage {
			s.inFlight.Add(-1)
		}
		r := grab.NewResult(b)
		r.SetCameraContext(s.context)
		c.grabbed.Add(1)
		if !r.GrabSucceeded() {
			c.failed.Add(1)
		}
		n := s.out.Push(r)
		if w := c.arrivalWatcher(); w != nil {
			w.arrived(c, n)
		}
	}
}

func (c *Camera) grabError(s *session, err error) {
	c.logf("camera %s: grab engine stopped: %v", c.DeviceInfo(), err)
	c.config.Dispatch(func(h *ConfigurationHandler) error {
		if h.OnGrabError != nil {
			h.OnGrabError(c, err)
		}
		return nil
	})
	go c.stopSession(s)
}

// grabLoop is the push mode consumer
func (c *Camera) grabLoop(ctx context.Context, s *session) {
	defer close(s.loopDone)
	for {
		r, err := c.next(ctx, s)
		if err != nil {
			return
		}
		herr := c.dispatchImage(r)
		r.Release()
		if errors.Is(herr, ErrStopGrabbing) || s.limitReached() {
			// StopGrabbing waits for this goroutine, so it cannot run here
			go c.stopSession(s)
			return
		}
		if herr != nil {
			c.logf("camera %s: image event handler: %v", c.DeviceInfo(), herr)
		}
	}
}

// next pops the next result of s
func (c *Camera) next(ctx context.Context, s *session) (*grab.Result, error) {
	if s.opts.Strategy == grab.UpcomingImage {
		// frames filled for an earlier request that timed out are older
		// than this one
		s.out.Flush()
		if s.inFlight.Load() == 0 {
			b, err := s.pool.Get(ctx)
			if err != nil {
				if errors.Is(err, grab.ErrPoolClosed) {
					return nil, c.stoppedErr()
				}
				return nil, err
			}
			s.inFlight.Add(1)
			if err := s.stream.QueueBuffer(b); err != nil {
				s.inFlight.Add(-1)
				s.pool.Put(b)
				return nil, err
			}
		}
	}
	r, err := s.out.Pop(ctx)
	if err != nil {
		if errors.Is(err, grab.ErrQueueClosed) {
			return nil, c.stoppedErr()
		}
		return nil, err
	}
	c.retrieved.Add(1)
	s.retrieved.Add(1)
	return r, nil
}

func (c *Camera) stoppedErr() error {
	if c.IsCameraDeviceRemoved() {
		return camera.ErrDeviceRemoved
	}
	return camera.ErrNotGrabbing
}

func (c *Camera) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.g
}

// RetrieveResult waits up to timeout for the next result.  A zero timeout
// polls.  When the time is up the result is nil and, with TimeoutError, the
// error matches camera.ErrTimeout.  Device removal and retrieving while not
// grabbing are always errors.
//
// The image event handlers see the result before it is returned.  The caller
// must Release it.
func (c *Camera) RetrieveResult(timeout time.Duration, th TimeoutHandling) (*grab.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	r, err := c.RetrieveResultContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		if th == TimeoutReturn {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(camera.ErrTimeout, "no grab result within %v", timeout)
	}
	return r, err
}

// RetrieveResultContext is RetrieveResult bounded by a context instead of a
// timeout.  It returns ctx.Err() when ctx is done first.
func (c *Camera) RetrieveResultContext(ctx context.Context) (*grab.Result, error) {
	s := c.current()
	if s == nil {
		return nil, c.stoppedErr()
	}
	if s.loopDone != nil {
		return nil, errors.New("results are delivered by the camera's grab loop")
	}
	r, err := c.next(ctx, s)
	if err != nil {
		return nil, err
	}
	herr := c.dispatchImage(r)
	stop := s.limitReached() || errors.Is(herr, ErrStopGrabbing)
	if stop {
		if err := c.stopSession(s); err != nil {
			c.logf("camera %s: stopping after the last image: %v", c.DeviceInfo(), err)
		}
	}
	if herr != nil && !errors.Is(herr, ErrStopGrabbing) {
		r.Release()
		return nil, herr
	}
	return r, nil
}

// StopGrabbing stops acquisition, waits for the grab loop to finish its
// current dispatch, and frees the buffers.  Results the caller still holds
// stay valid until released.
func (c *Camera) StopGrabbing() error {
	s := c.current()
	if s == nil {
		return nil
	}
	return c.stopSession(s)
}

func (c *Camera) stopSession(s *session) error {
	c.grabMu.Lock()
	defer c.grabMu.Unlock()
	c.mu.Lock()
	if c.g != s {
		c.mu.Unlock()
		return nil
	}
	dev := c.dev
	c.mu.Unlock()

	var errs []error
	if err := c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnGrabStop }); err != nil {
		errs = append(errs, err)
	}
	nm := dev.NodeMap()
	nm.Command("AcquisitionStop").TryExecute()
	c.teardown(s)
	nm.Integer("TLParamsLocked").TrySetValue(0)

	c.mu.Lock()
	c.g = nil
	if c.state == Grabbing {
		c.state = Open
	}
	c.mu.Unlock()
	if err := c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnGrabStopped }); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// teardown stops the goroutines of s and returns every buffer to its pool
func (c *Camera) teardown(s *session) {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.pool.Close()
	s.cancel()
	<-s.engineDone
	s.out.Close()
	if s.loopDone != nil {
		<-s.loopDone
	}
	for _, b := range s.stream.Flush() {
		s.pool.Put(b)
	}
	s.stream.Close()
	c.skipped.Add(s.out.Skipped())
	if w := c.arrivalWatcher(); w != nil {
		w.stopped(c)
	}
}

// GrabOne grabs a single image.  If the camera is not grabbing, it grabs
// one by one with a limit of one image, so grabbing stops again by itself.
func (c *Camera) GrabOne(timeout time.Duration, th TimeoutHandling) (*grab.Result, error) {
	started := false
	if !c.IsGrabbing() {
		if err := c.StartGrabbing(GrabOptions{Strategy: grab.OneByOne, MaxImages: 1}); err != nil {
			return nil, err
		}
		started = true
	}
	r, err := c.RetrieveResult(timeout, th)
	if started && r == nil {
		c.StopGrabbing()
	}
	return r, err
}

// CanWaitForFrameTriggerReady reports whether the device can tell when it
// is ready for the next frame trigger
func (c *Camera) CanWaitForFrameTriggerReady() bool {
	_, ok := c.Device().(camera.FrameTriggerWaiter)
	return ok && c.IsOpen()
}

// WaitForFrameTriggerReady waits up to timeout for the camera to accept a
// frame trigger.  It returns false when the time is up under TimeoutReturn.
func (c *Camera) WaitForFrameTriggerReady(timeout time.Duration, th TimeoutHandling) (bool, error) {
	w, ok := c.Device().(camera.FrameTriggerWaiter)
	if !ok {
		return false, pkgerrors.Wrap(camera.ErrNotSupported, "the device cannot report trigger readiness")
	}
	if !c.IsGrabbing() {
		return false, c.stoppedErr()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := w.WaitForFrameTriggerReady(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		if th == TimeoutReturn {
			return false, nil
		}
		return false, pkgerrors.Wrapf(camera.ErrTimeout, "camera not ready for a trigger within %v", timeout)
	}
	return err == nil, err
}

// ExecuteSoftwareTrigger fires the device's software trigger
func (c *Camera) ExecuteSoftwareTrigger() error {
	return c.NodeMap().Command("TriggerSoftware").Execute()
}

// Stats are counters over the camera's life plus the current session's state
type Stats struct {
	// Grabbed counts results the engine received, Failed those of them
	// that were incomplete
	Grabbed, Failed uint64

	// Retrieved counts results handed to the consumer
	Retrieved uint64

	// Skipped counts results dropped by the grab strategy
	Skipped uint64

	// Queued is the number of results waiting in the output queue
	Queued int

	// BuffersInUse is the number of session buffers that are not free
	BuffersInUse int

	Grabbing bool
}

// Stats returns the camera's counters
func (c *Camera) Stats() Stats {
	st := Stats{
		Grabbed:   c.grabbed.Load(),
		Failed:    c.failed.Load(),
		Retrieved: c.retrieved.Load(),
		Skipped:   c.skipped.Load(),
	}
	if s := c.current(); s != nil {
		st.Skipped += s.out.Skipped()
		st.Queued = s.out.Len()
		st.BuffersInUse = s.pool.Active()
		st.Grabbing = true
	}
	return st
}
