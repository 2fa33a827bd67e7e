package instant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/tl"
)

// watcher is told about every change to a camera's output queue
type watcher interface {
	// arrived reports one new result, and the number of older ones the
	// strategy dropped for it
	arrived(c *Camera, dropped int)
	dropped(c *Camera, n int)
	stopped(c *Camera)
}

func (c *Camera) arrivalWatcher() watcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watcher
}

func (c *Camera) setWatcher(w watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watcher = w
}

// Array drives several cameras as one.  RetrieveResult returns results in
// the order they arrived, whichever camera they came from; tell them apart
// with CameraContext.
type Array struct {
	cams  []*Camera
	index map[*Camera]int

	mu       sync.Mutex
	arrivals []int // camera index per waiting result, oldest first
	notify   chan struct{}
}

// NewArray returns an array of n cameras with no devices attached
func NewArray(n int) *Array {
	a := &Array{index: make(map[*Camera]int), notify: make(chan struct{}, 1)}
	for i := 0; i < n; i++ {
		c := New()
		a.cams = append(a.cams, c)
		a.index[c] = i
	}
	return a
}

// NewArrayFromRuntime creates an array over up to max devices that match
// any of filters, attaching them in enumeration order.  Camera i gets the
// camera context i.
func NewArrayFromRuntime(rt *tl.Runtime, max int, filters ...camera.DeviceInfo) (*Array, error) {
	infos, err := rt.EnumerateDevices(filters...)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, camera.ErrNoDevice
	}
	if max > 0 && len(infos) > max {
		infos = infos[:max]
	}
	a := NewArray(len(infos))
	for i, info := range infos {
		dev, err := rt.CreateDevice(info)
		if err != nil {
			a.DestroyDevice()
			return nil, err
		}
		if err := a.cams[i].Attach(dev); err != nil {
			a.DestroyDevice()
			return nil, err
		}
		a.cams[i].SetCameraContext(i)
	}
	return a, nil
}

// Len is the number of cameras
func (a *Array) Len() int {
	return len(a.cams)
}

// At returns camera i
func (a *Array) At(i int) *Camera {
	return a.cams[i]
}

// each runs fn on every camera and joins the failures
func (a *Array) each(fn func(i int, c *Camera) error) error {
	var errs []error
	for i, c := range a.cams {
		if err := fn(i, c); err != nil {
			errs = append(errs, pkgerrors.Wrapf(err, "camera %d", i))
		}
	}
	return errors.Join(errs...)
}

// Open opens every camera
func (a *Array) Open() error {
	return a.each(func(_ int, c *Camera) error { return c.Open() })
}

// Close closes every camera
func (a *Array) Close() error {
	return a.each(func(_ int, c *Camera) error { return c.Close() })
}

// DestroyDevice destroys every camera's device
func (a *Array) DestroyDevice() error {
	return a.each(func(_ int, c *Camera) error { return c.DestroyDevice() })
}

// IsOpen reports whether any camera is open
func (a *Array) IsOpen() bool {
	for _, c := range a.cams {
		if c.IsOpen() {
			return true
		}
	}
	return false
}

// IsGrabbing reports whether any camera is grabbing
func (a *Array) IsGrabbing() bool {
	for _, c := range a.cams {
		if c.IsGrabbing() {
			return true
		}
	}
	return false
}

// StartGrabbing starts every camera with the same options.  If one fails the
// ones already started are stopped again.
func (a *Array) StartGrabbing(opts GrabOptions) error {
	if opts.Strategy == grab.UpcomingImage {
		return pkgerrors.Wrap(camera.ErrNotSupported, "camera arrays cannot use the UpcomingImage strategy")
	}
	a.mu.Lock()
	a.arrivals = nil
	a.mu.Unlock()
	for i, c := range a.cams {
		if opts.Loop == GrabLoopProvidedByUser {
			c.setWatcher(a)
		}
		if err := c.StartGrabbing(opts); err != nil {
			a.StopGrabbing()
			return pkgerrors.Wrapf(err, "camera %d", i)
		}
	}
	return nil
}

// StopGrabbing stops every camera
func (a *Array) StopGrabbing() error {
	err := a.each(func(_ int, c *Camera) error {
		err := c.StopGrabbing()
		c.setWatcher(nil)
		return err
	})
	a.wake()
	return err
}

// RetrieveResult waits up to timeout for the next result from any camera,
// with the same timeout handling as Camera.RetrieveResult
func (a *Array) RetrieveResult(timeout time.Duration, th TimeoutHandling) (*grab.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	r, err := a.RetrieveResultContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		if th == TimeoutReturn {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(camera.ErrTimeout, "no grab result from %d cameras within %v", len(a.cams), timeout)
	}
	return r, err
}

// RetrieveResultContext is RetrieveResult bounded by a context
func (a *Array) RetrieveResultContext(ctx context.Context) (*grab.Result, error) {
	for {
		a.mu.Lock()
		if len(a.arrivals) > 0 {
			i := a.arrivals[0]
			a.arrivals = a.arrivals[1:]
			a.mu.Unlock()
			r, err := a.cams[i].RetrieveResult(0, TimeoutReturn)
			if errors.Is(err, camera.ErrNotGrabbing) {
				continue
			}
			if err != nil {
				return nil, pkgerrors.Wrapf(err, "camera %d", i)
			}
			if r != nil {
				return r, nil
			}
			continue
		}
		a.mu.Unlock()
		if !a.IsGrabbing() {
			return nil, camera.ErrNotGrabbing
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.notify:
		}
	}
}

func (a *Array) wake() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// removeOldest drops the n oldest entries of camera i.  a.mu must be held.
func (a *Array) removeOldest(i, n int) {
	out := a.arrivals[:0]
	for _, j := range a.arrivals {
		if j == i && n > 0 {
			n--
			continue
		}
		out = append(out, j)
	}
	a.arrivals = out
}

func (a *Array) arrived(c *Camera, dropped int) {
	a.mu.Lock()
	i := a.index[c]
	a.removeOldest(i, dropped)
	a.arrivals = append(a.arrivals, i)
	a.mu.Unlock()
	a.wake()
}

func (a *Array) dropped(c *Camera, n int) {
	a.mu.Lock()
	a.removeOldest(a.index[c], n)
	a.mu.Unlock()
}

// stopped forgets the results of a camera whose session ended.  A removed
// camera keeps one entry so that the removal is reported by RetrieveResult.
func (a *Array) stopped(c *Camera) {
	gone := c.IsCameraDeviceRemoved()
	a.mu.Lock()
	i := a.index[c]
	a.removeOldest(i, len(a.arrivals))
	if gone {
		a.arrivals = append(a.arrivals, i)
	}
	a.mu.Unlock()
	a.wake()
}

// String lists the array's devices
func (a *Array) String() string {
	s := fmt.Sprintf("array of %d cameras", len(a.cams))
	for i, c := range a.cams {
		s += fmt.Sprintf("\n  %d: %s", i, c.DeviceInfo())
	}
	return s
}
