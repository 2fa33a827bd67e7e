/*Package instant is the instant camera: one device session plus its grab
engine, driven by handler chains.

A Camera moves through

	Detached -> Attached -> Open -> (Grabbing <-> Open)* -> Attached -> Detached

and fires a before/after pair of configuration events for every transition.
Unplugging the device moves an open camera to Removed at any time and fires
OnCameraDeviceRemoved instead of the close events.

Results are consumed in one of two ways.  In pull mode the caller loops on
RetrieveResult.  In push mode (GrabLoopProvidedByInstantCamera) a goroutine
owned by the camera retrieves results and hands them to the image event
handlers.  Either way the image event handlers see every delivered result,
in order.

Handlers may run concurrently with the caller and with the handlers of other
cameras; guard shared state accordingly.
*/
package instant

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/grab"
)

// State is the lifecycle state of a Camera
type State int

const (
	// Detached means no device is attached
	Detached State = iota

	// Attached means a device is attached but closed
	Attached

	// Open means the device is open and not grabbing
	Open

	// Grabbing means the grab engine is running
	Grabbing

	// Removed means the device was unplugged while open.  Only Close,
	// DetachDevice, and DestroyDevice are useful now.
	Removed

	// Destroyed means Destroy was called.  The camera cannot be used again.
	Destroyed
)

func (s State) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Attached:
		return "Attached"
	case Open:
		return "Open"
	case Grabbing:
		return "Grabbing"
	case Removed:
		return "Removed"
	case Destroyed:
		return "Destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	// DefaultMaxNumBuffer is the number of buffers a grab session allocates
	DefaultMaxNumBuffer = 10

	// DefaultOutputQueueSize is the output queue bound used by LatestImages
	DefaultOutputQueueSize = 1
)

// Camera is an instant camera.  Create it with New or NewWithDevice.
type Camera struct {
	id  uuid.UUID
	log *log.Logger

	config *dispatch.Registry[*ConfigurationHandler]
	images *dispatch.Registry[*ImageEventHandler]
	events *dispatch.Registry[*eventBinding]

	// grabMu serializes the transitions into and out of Grabbing
	grabMu sync.Mutex

	mu              sync.Mutex
	dev             camera.Device
	state           State
	cameraContext   int
	maxNumBuffer    int
	outputQueueSize int
	bufferFactory   grab.BufferFactory
	watchStop       chan struct{}
	g               *session // non-nil while grabbing
	watcher         watcher  // set by an Array while it grabs

	grabbed, retrieved, failed, skipped atomic.Uint64
}

// New returns a camera with no device attached
func New() *Camera {
	return &Camera{
		id:              uuid.New(),
		log:             log.Default(),
		config:          dispatch.New[*ConfigurationHandler](dispatch.AbortOnError),
		images:          dispatch.New[*ImageEventHandler](dispatch.AbortOnError),
		events:          dispatch.New[*eventBinding](dispatch.AbortOnError),
		maxNumBuffer:    DefaultMaxNumBuffer,
		outputQueueSize: DefaultOutputQueueSize,
	}
}

// NewWithDevice returns a camera with dev attached
func NewWithDevice(dev camera.Device) (*Camera, error) {
	c := New()
	if err := c.Attach(dev); err != nil {
		return nil, err
	}
	return c, nil
}

// ID is unique to this Camera value
func (c *Camera) ID() uuid.UUID {
	return c.id
}

// SetLogger replaces the logger used by the camera's goroutines.  nil
// silences them.
func (c *Camera) SetLogger(l *log.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = l
}

func (c *Camera) logf(format string, args ...interface{}) {
	c.mu.Lock()
	l := c.log
	c.mu.Unlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// State returns the lifecycle state
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsAttached reports whether a device is attached
func (c *Camera) IsAttached() bool {
	s := c.State()
	return s != Detached && s != Destroyed
}

// IsOpen reports whether the device is open
func (c *Camera) IsOpen() bool {
	s := c.State()
	return s == Open || s == Grabbing
}

// IsGrabbing reports whether the grab engine is running
func (c *Camera) IsGrabbing() bool {
	return c.State() == Grabbing
}

// IsCameraDeviceRemoved reports whether the attached device was unplugged
func (c *Camera) IsCameraDeviceRemoved() bool {
	c.mu.Lock()
	dev := c.dev
	c.mu.Unlock()
	return removed(dev)
}

func removed(dev camera.Device) bool {
	if dev == nil {
		return false
	}
	select {
	case <-dev.Removed():
		return true
	default:
		return false
	}
}

// Device returns the attached device, or nil
func (c *Camera) Device() camera.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev
}

// DeviceInfo describes the attached device
func (c *Camera) DeviceInfo() camera.DeviceInfo {
	if dev := c.Device(); dev != nil {
		return dev.Info()
	}
	return camera.DeviceInfo{}
}

var empty = genicam.NewNodeMap()

// NodeMap is the device's feature map.  Without a device it is an empty map,
// so that every feature reports itself invalid.
func (c *Camera) NodeMap() *genicam.NodeMap {
	if dev := c.Device(); dev != nil {
		return dev.NodeMap()
	}
	return empty
}

// TLNodeMap is the transport layer's feature map for the device
func (c *Camera) TLNodeMap() *genicam.NodeMap {
	if dev := c.Device(); dev != nil {
		return dev.TLNodeMap()
	}
	return empty
}

// IsUSB reports whether the device is a USB device
func (c *Camera) IsUSB() bool {
	return c.DeviceInfo().DeviceClass == camera.ClassUSB
}

// IsGigE reports whether the device is a GigE device
func (c *Camera) IsGigE() bool {
	return c.DeviceInfo().DeviceClass == camera.ClassGigE
}

// SetCameraContext sets the value stamped on every result of this camera,
// used to tell cameras apart when results are aggregated
func (c *Camera) SetCameraContext(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cameraContext = v
}

// CameraContext returns the value set with SetCameraContext
func (c *Camera) CameraContext() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraContext
}

// Version is a three part version number
type Version struct {
	Major, Minor, Patch int
}

// Sfnc2_0_0 is the first SFNC version with the current feature names
var Sfnc2_0_0 = Version{2, 0, 0}

// ParseVersion parses "major.minor.patch"; missing parts are zero
func ParseVersion(s string) (Version, error) {
	var v Version
	parts := strings.SplitN(strings.TrimSpace(s), ".", 3)
	dst := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("malformed version %q", s)
		}
		*dst[i] = n
	}
	return v, nil
}

// Less orders versions
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// SfncVersion is the feature naming convention the device follows, zero
// if the device does not say or is not open
func (c *Camera) SfncVersion() Version {
	s, err := c.NodeMap().Str("DeviceSFNCVersion").Value()
	if err != nil {
		return Version{}
	}
	v, _ := ParseVersion(s)
	return v
}

// Attach attaches dev, destroying any device attached before
func (c *Camera) Attach(dev camera.Device) error {
	if dev == nil {
		return camera.ErrNoDevice
	}
	switch c.State() {
	case Destroyed:
		return errDestroyed
	case Detached:
	default:
		if err := c.DestroyDevice(); err != nil {
			return err
		}
	}
	if err := c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnAttach }); err != nil {
		return err
	}
	c.mu.Lock()
	c.dev = dev
	c.state = Attached
	c.mu.Unlock()
	return c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnAttached })
}

var errDestroyed = fmt.Errorf("instant camera has been destroyed")

// Open opens the attached device and starts watching it for events and
// removal.  Opening an open camera does nothing.
func (c *Camera) Open() error {
	c.mu.Lock()
	st, dev := c.state, c.dev
	c.mu.Unlock()
	switch st {
	case Open, Grabbing:
		return nil
	case Removed:
		return camera.ErrDeviceRemoved
	case Detached:
		return camera.ErrNoDevice
	case Destroyed:
		return errDestroyed
	}
	if err := c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnOpen }); err != nil {
		return err
	}
	if err := dev.Open(); err != nil {
		return pkgerrors.Wrapf(err, "opening %s", dev.Info())
	}
	stop := make(chan struct{})
	c.mu.Lock()
	c.state = Open
	c.watchStop = stop
	c.mu.Unlock()
	go c.watch(dev, stop)
	return c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnOpened })
}

// watch delivers device events to the camera event handlers and handles
// removal, until stop is closed
func (c *Camera) watch(dev camera.Device, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-dev.Removed():
			c.handleRemoval(dev)
			return
		case ev := <-dev.Events():
			if err := c.dispatchCameraEvent(ev.Nodes); err != nil {
				c.logf("camera %s: camera event %s: %v", dev.Info(), ev.Name, err)
			}
		}
	}
}

func (c *Camera) handleRemoval(dev camera.Device) {
	c.grabMu.Lock()
	c.mu.Lock()
	if c.dev != dev || (c.state != Open && c.state != Grabbing) {
		c.mu.Unlock()
		c.grabMu.Unlock()
		return
	}
	s := c.g
	c.g = nil
	c.state = Removed
	c.mu.Unlock()
	if s != nil {
		c.teardown(s)
	}
	c.grabMu.Unlock()

	c.logf("camera %s: device removed", dev.Info())
	if err := c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnCameraDeviceRemoved }); err != nil {
		c.logf("camera %s: device removal handler: %v", dev.Info(), err)
	}
}

// Close stops grabbing and closes the device.  Closing a closed camera does
// nothing.
func (c *Camera) Close() error {
	if err := c.StopGrabbing(); err != nil {
		return err
	}
	c.mu.Lock()
	st, dev := c.state, c.dev
	c.mu.Unlock()
	if st != Open && st != Removed {
		return nil
	}
	if err := c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnClose }); err != nil {
		return err
	}
	c.mu.Lock()
	if c.watchStop != nil {
		close(c.watchStop)
		c.watchStop = nil
	}
	c.state = Attached
	c.mu.Unlock()
	if err := dev.Close(); err != nil && st != Removed {
		return pkgerrors.Wrapf(err, "closing %s", dev.Info())
	}
	return c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnClosed })
}

// DetachDevice closes the camera and hands the device back to the caller
func (c *Camera) DetachDevice() (camera.Device, error) {
	if err := c.Close(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	st, dev := c.state, c.dev
	c.mu.Unlock()
	if st != Attached {
		return nil, nil
	}
	if err := c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnDetach }); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.dev = nil
	c.state = Detached
	c.mu.Unlock()
	return dev, c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnDetached })
}

// DestroyDevice closes and detaches the device, then destroys it.  This is
// the way out of the Removed state.
func (c *Camera) DestroyDevice() error {
	if !c.IsAttached() {
		return nil
	}
	if err := c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnDestroy }); err != nil {
		return err
	}
	dev, err := c.DetachDevice()
	if err != nil {
		return err
	}
	if d, ok := dev.(camera.Destroyer); ok {
		if err := d.Destroy(); err != nil {
			return pkgerrors.Wrapf(err, "destroying %s", dev.Info())
		}
	}
	return c.fire(func(h *ConfigurationHandler) func(*Camera) error { return h.OnDestroyed })
}

// Destroy destroys the device and releases every handler the camera owns.
// The camera cannot be used afterwards.
func (c *Camera) Destroy() error {
	err := c.DestroyDevice()
	c.config.Clear()
	c.images.Clear()
	c.events.Clear()
	c.mu.Lock()
	c.state = Destroyed
	c.mu.Unlock()
	return err
}
