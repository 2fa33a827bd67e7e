package emulator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/grab"
)

// ErrInUse is returned by Open when another Device holds the same camera open
var ErrInUse = errors.New("device is opened by another instance")

// Device is one emulated camera.  It implements camera.Device,
// camera.FrameTriggerWaiter, and camera.Destroyer.
type Device struct {
	t     *Transport
	s     *slot
	id    uuid.UUID
	sfnc2 bool

	nm, tlnm *genicam.NodeMap
	access   map[string]genicam.Access // access of each feature while open
	factory  []byte                    // feature stream of the factory settings

	events     chan camera.Event
	removed    chan struct{}
	removeOnce sync.Once

	mu         sync.Mutex
	info       camera.DeviceInfo
	open       bool
	destroyed  bool
	streamOpen bool
	acquiring  bool
	stopAcq    context.CancelFunc
	acqDone    chan struct{}
	queued     []*grab.Buffer
	filled     []*grab.Buffer
	frameID    uint64
	delivered  uint64
	epoch      time.Time

	filledReady chan struct{} // a buffer was filled
	bufReady    chan struct{} // a buffer was queued
	triggers    chan struct{} // a pending frame trigger
}

func newDevice(t *Transport, s *slot) *Device {
	d := &Device{
		t:           t,
		s:           s,
		id:          uuid.New(),
		sfnc2:       t.sfnc2(),
		info:        s.info,
		events:      make(chan camera.Event, eventQueueDepth),
		removed:     make(chan struct{}),
		filledReady: make(chan struct{}, 1),
		bufReady:    make(chan struct{}, 1),
		triggers:    make(chan struct{}, 1),
		epoch:       time.Now(),
	}
	d.buildNodeMaps()

	// capture the factory settings while every feature has its open access,
	// then close the map until Open
	buf := &bytes.Buffer{}
	if err := genicam.Save(buf, d.nm); err == nil {
		d.factory = buf.Bytes()
	}
	d.access = make(map[string]genicam.Access)
	for _, name := range d.nm.Names() {
		d.access[name] = d.nm.Access(name)
		d.nm.SetAccess(name, genicam.NA)
	}
	return d
}

// events beyond this many unread are dropped
const eventQueueDepth = 64

// ID is unique per Device value, even for the same camera re-created after
// a replug
func (d *Device) ID() uuid.UUID {
	return d.id
}

// Info describes the camera
func (d *Device) Info() camera.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// NodeMap is the camera's feature map
func (d *Device) NodeMap() *genicam.NodeMap {
	return d.nm
}

// TLNodeMap is the transport layer's feature map for this device
func (d *Device) TLNodeMap() *genicam.NodeMap {
	return d.tlnm
}

// Stream returns the device's stream grabber
func (d *Device) Stream() camera.Stream {
	return stream{d}
}

// Events delivers camera events
func (d *Device) Events() <-chan camera.Event {
	return d.events
}

// Removed is closed when the camera is unplugged
func (d *Device) Removed() <-chan struct{} {
	return d.removed
}

func (d *Device) isRemoved() bool {
	select {
	case <-d.removed:
		return true
	default:
		return false
	}
}

// Open makes the camera's features available and loads the startup user set
func (d *Device) Open() error {
	if d.isRemoved() {
		return camera.ErrDeviceRemoved
	}
	if err := d.t.claim(d); err != nil {
		return err
	}
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		d.t.release(d)
		return errors.New("device has been destroyed")
	}
	if d.open {
		d.mu.Unlock()
		return nil
	}
	d.open = true
	d.epoch = time.Now()
	d.mu.Unlock()

	for name, a := range d.access {
		d.nm.SetAccess(name, a)
	}
	d.tlnm.StoreAt("DeviceAccessStatus", "", "Busy")

	// the startup set survives power cycles, like the set itself
	if b, ok, err := d.t.opts.UserSets.Load(d.info.SerialNumber, DefaultSetKey); err == nil && ok {
		set := string(b)
		d.nm.StoreAt(d.userSetDefaultNode(), "", set)
		if set != "Default" {
			if err := d.loadUserSet(set); err != nil {
				return fmt.Errorf("loading startup user set %s: %w", set, err)
			}
		}
	}
	return nil
}

// Close stops acquisition and makes the features unavailable
func (d *Device) Close() error {
	d.stopAcquisition()
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return nil
	}
	d.open = false
	d.streamOpen = false
	d.queued, d.filled = nil, nil
	d.mu.Unlock()

	if !d.isRemoved() {
		for name := range d.access {
			d.nm.SetAccess(name, genicam.NA)
		}
		d.tlnm.StoreAt("DeviceAccessStatus", "", "ReadWrite")
	}
	d.t.release(d)
	return nil
}

// IsOpen reports whether Open has been called without Close
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Destroy closes the device and detaches it from the transport
func (d *Device) Destroy() error {
	err := d.Close()
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()
	d.t.forget(d)
	return err
}

// remove simulates unplugging: every blocking call and feature access fails
// with camera.ErrDeviceRemoved from now on
func (d *Device) remove() {
	d.removeOnce.Do(func() {
		d.nm.Invalidate(camera.ErrDeviceRemoved)
		d.tlnm.Invalidate(camera.ErrDeviceRemoved)
		close(d.removed)
	})
}

func (d *Device) fireEvent(event string, frameID uint64) {
	if d.selectedValue("EventNotification", event) == "Off" {
		return
	}
	data, idNode, tsNode := d.eventNodes(event)
	ts := d.ticks()
	if d.nm.StoreAt(idNode, "", int64(frameID)) != nil {
		return
	}
	d.nm.StoreAt(tsNode, "", int64(ts))
	select {
	case d.events <- camera.Event{Name: event, Nodes: []string{data, idNode, tsNode}, Timestamp: ts}:
	default:
	}
}

// ticks is the device clock, nanoseconds since Open
func (d *Device) ticks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint64(time.Since(d.epoch).Nanoseconds())
}

func (d *Device) startAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return camera.ErrNotOpen
	}
	if d.acquiring {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.stopAcq = cancel
	d.acqDone = make(chan struct{})
	d.acquiring = true
	// drop a stale trigger from a previous acquisition
	select {
	case <-d.triggers:
	default:
	}
	go d.acquire(ctx, d.enumValue("AcquisitionMode") == "SingleFrame", d.acqDone)
	return nil
}

func (d *Device) stopAcquisition() error {
	d.mu.Lock()
	if d.stopAcq == nil {
		d.mu.Unlock()
		return nil
	}
	d.stopAcq()
	d.stopAcq = nil
	done := d.acqDone
	d.acquiring = false
	d.mu.Unlock()
	<-done
	return nil
}

func (d *Device) isAcquiring() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquiring
}

func (d *Device) frameTriggered() bool {
	return d.selectedValue("TriggerMode", "FrameStart") == "On"
}

// trigger fires a frame trigger from source.  A trigger while the previous
// one is still pending is lost and reported as an overrun.
func (d *Device) trigger(source string) {
	if !d.isAcquiring() || !d.frameTriggered() || d.selectedValue("TriggerSource", "FrameStart") != source {
		return
	}
	select {
	case d.triggers <- struct{}{}:
	default:
		d.fireEvent(EventOverrun, d.currentFrameID())
	}
}

func (d *Device) currentFrameID() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameID
}

// action executes an action command addressed to this device
func (d *Device) action(deviceKey, groupKey, groupMask uint32) bool {
	if !d.IsOpen() || d.isRemoved() {
		return false
	}
	if uint32(d.intValue("ActionDeviceKey")) != deviceKey ||
		uint32(d.intValue("ActionGroupKey")) != groupKey ||
		uint32(d.intValue("ActionGroupMask"))&groupMask == 0 {
		return false
	}
	d.trigger("Action1")
	return true
}

// acquire is the camera's exposure loop
func (d *Device) acquire(ctx context.Context, singleFrame bool, done chan struct{}) {
	defer close(done)
	lim := rate.NewLimiter(rate.Inf, 1)
	for {
		if d.frameTriggered() {
			select {
			case <-ctx.Done():
				return
			case <-d.removed:
				return
			case <-d.triggers:
			}
		} else {
			if fps := d.frameRate(); fps > 0 {
				lim.SetLimit(rate.Limit(fps))
			} else {
				lim.SetLimit(rate.Inf)
			}
			if err := lim.Wait(ctx); err != nil {
				return
			}
			// in free run the camera waits for a buffer rather than lose frames
			if !d.waitBuffer(ctx) {
				return
			}
		}

		d.mu.Lock()
		d.frameID++
		id := d.frameID
		var b *grab.Buffer
		if len(d.queued) > 0 {
			b = d.queued[0]
			d.queued[0] = nil
			d.queued = d.queued[1:]
		}
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			if b != nil {
				d.requeueFront(b)
			}
			return
		case <-d.removed:
			return
		case <-time.After(d.exposure()):
		}
		if b == nil {
			d.fireEvent(EventOverrun, id)
			continue
		}
		d.fill(b, id)
		d.fireEvent(EventExposureEnd, id)
		d.complete(b)

		if singleFrame {
			d.mu.Lock()
			d.acquiring = false
			d.mu.Unlock()
			return
		}
	}
}

func (d *Device) waitBuffer(ctx context.Context) bool {
	for {
		d.mu.Lock()
		n := len(d.queued)
		d.mu.Unlock()
		if n > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-d.removed:
			return false
		case <-d.bufReady:
		}
	}
}

func (d *Device) requeueFront(b *grab.Buffer) {
	d.mu.Lock()
	d.queued = append([]*grab.Buffer{b}, d.queued...)
	d.mu.Unlock()
}

func (d *Device) complete(b *grab.Buffer) {
	d.mu.Lock()
	d.filled = append(d.filled, b)
	d.mu.Unlock()
	signal(d.filledReady)
}

func signal(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// fill writes one frame into b
func (d *Device) fill(b *grab.Buffer, id uint64) {
	w, h := int(d.intValue("Width")), int(d.intValue("Height"))
	pf := d.pixelFormat()
	size := pf.ImageSize(w, h)
	b.Meta = grab.Meta{
		Width:       w,
		Height:      h,
		OffsetX:     int(d.intValue("OffsetX")),
		OffsetY:     int(d.intValue("OffsetY")),
		PixelFormat: pf,
		PayloadSize: size,
		BlockID:     id,
		Timestamp:   d.ticks(),
		Status:      grab.Succeeded,
	}
	if size > b.Size() {
		b.Meta.Status = grab.Failed
		b.Meta.PayloadSize = 0
		b.Meta.ErrorCode = ErrCodeBufferTooSmall
		b.Meta.ErrorDescription = fmt.Sprintf("payload of %d bytes does not fit a buffer of %d", size, b.Size())
		return
	}
	render(b.Bytes()[:size], w, h, pf, d.enumValue("TestImageSelector"), id, d.brightness())
	d.autoAdjust()

	d.mu.Lock()
	d.delivered++
	n := d.delivered
	d.mu.Unlock()
	if every := d.t.opts.FailEvery; every > 0 && n%uint64(every) == 0 {
		b.Meta.Status = grab.Failed
		b.Meta.PayloadSize = size / 2
		b.Meta.ErrorCode = ErrCodeIncomplete
		b.Meta.ErrorDescription = errDescIncomplete
	}
}

// ErrCodeBufferTooSmall is reported when the payload outgrew the queued buffer
const ErrCodeBufferTooSmall = 0xE1000013

// WaitForFrameTriggerReady blocks until the camera is acquiring, has a buffer
// to expose into, and has no trigger pending
func (d *Device) WaitForFrameTriggerReady(ctx context.Context) error {
	tick := time.NewTicker(200 * time.Microsecond)
	defer tick.Stop()
	for {
		d.mu.Lock()
		ready := d.acquiring && len(d.queued) > 0 && len(d.triggers) == 0
		d.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-d.removed:
			return camera.ErrDeviceRemoved
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// stream adapts the device to camera.Stream
type stream struct {
	d *Device
}

func (s stream) Open() error {
	d := s.d
	if d.isRemoved() {
		return camera.ErrDeviceRemoved
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return camera.ErrNotOpen
	}
	d.streamOpen = true
	return nil
}

func (s stream) Close() error {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queued)+len(d.filled) > 0 {
		return fmt.Errorf("stream still holds %d buffers, flush it before closing", len(d.queued)+len(d.filled))
	}
	d.streamOpen = false
	return nil
}

func (s stream) QueueBuffer(b *grab.Buffer) error {
	d := s.d
	if d.isRemoved() {
		return camera.ErrDeviceRemoved
	}
	d.mu.Lock()
	if !d.streamOpen {
		d.mu.Unlock()
		return errors.New("stream is not open")
	}
	b.Reset()
	d.queued = append(d.queued, b)
	d.mu.Unlock()
	signal(d.bufReady)
	return nil
}

func (s stream) RetrieveBuffer(ctx context.Context) (*grab.Buffer, error) {
	d := s.d
	for {
		d.mu.Lock()
		if len(d.filled) > 0 {
			b := d.filled[0]
			d.filled[0] = nil
			d.filled = d.filled[1:]
			d.mu.Unlock()
			return b, nil
		}
		d.mu.Unlock()
		select {
		case <-d.removed:
			return nil, camera.ErrDeviceRemoved
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.filledReady:
		}
	}
}

func (s stream) Flush() []*grab.Buffer {
	d := s.d
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.filled
	for _, b := range d.queued {
		b.Meta.Status = grab.Canceled
		out = append(out, b)
	}
	d.queued, d.filled = nil, nil
	return out
}
