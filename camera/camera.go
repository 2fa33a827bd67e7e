/*Package camera describes the contracts between an instant camera and the
devices and transports beneath it.

A Transport enumerates and creates Devices.  A Device carries two node maps
(the camera's features and the transport layer's), a Stream that fills
buffers, a channel of camera events, and a removal signal.  Nothing here does
I/O; see package emulator for a software implementation and package instant
for the façade applications use.
*/
package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/grab"
)

var (
	// ErrDeviceRemoved is returned by every blocking call and feature access
	// once the physical device is gone.  Branch on it to reconnect.
	ErrDeviceRemoved = errors.New("device has been removed")

	// ErrTimeout is returned when a wait exceeds its timeout and the caller
	// asked for timeouts to be errors
	ErrTimeout = errors.New("timed out")

	// ErrNotOpen is returned when an operation needs an open device
	ErrNotOpen = errors.New("device is not open")

	// ErrNotGrabbing is returned when an operation needs a running grab
	ErrNotGrabbing = errors.New("camera is not grabbing")

	// ErrAlreadyGrabbing is returned by StartGrabbing during a grab and by
	// settings that cannot change during one
	ErrAlreadyGrabbing = errors.New("camera is already grabbing")

	// ErrNotSupported is returned for features this device class lacks
	ErrNotSupported = errors.New("not supported by this device")

	// ErrNoDevice is returned when no device matches an enumeration
	ErrNoDevice = errors.New("no matching device found")
)

// Device classes
const (
	ClassGigE      = "GigE"
	ClassUSB       = "USB"
	ClassEmulation = "Emulation"
)

// DeviceInfo identifies a device without opening it.  It doubles as an
// enumeration filter: a zero field matches anything.
type DeviceInfo struct {
	SerialNumber    string `json:"serialNumber"`
	ModelName       string `json:"modelName"`
	VendorName      string `json:"vendorName"`
	DeviceClass     string `json:"deviceClass"`
	DeviceVersion   string `json:"deviceVersion"`
	UserDefinedName string `json:"userDefinedName"`
	FriendlyName    string `json:"friendlyName"`

	// FullName is unique per transport
	FullName string `json:"fullName"`

	// IPAddress and SubnetAddress are set for network devices
	IPAddress     string `json:"ipAddress,omitempty"`
	SubnetAddress string `json:"subnetAddress,omitempty"`
}

// Matches reports whether every non-empty field of filter equals the
// corresponding field of d
func (d DeviceInfo) Matches(filter DeviceInfo) bool {
	pairs := [][2]string{
		{filter.SerialNumber, d.SerialNumber},
		{filter.ModelName, d.ModelName},
		{filter.VendorName, d.VendorName},
		{filter.DeviceClass, d.DeviceClass},
		{filter.DeviceVersion, d.DeviceVersion},
		{filter.UserDefinedName, d.UserDefinedName},
		{filter.FriendlyName, d.FriendlyName},
		{filter.FullName, d.FullName},
		{filter.IPAddress, d.IPAddress},
		{filter.SubnetAddress, d.SubnetAddress},
	}
	for _, p := range pairs {
		if p[0] != "" && p[0] != p[1] {
			return false
		}
	}
	return true
}

func (d DeviceInfo) String() string {
	parts := []string{d.ModelName}
	if d.SerialNumber != "" {
		parts = append(parts, "("+d.SerialNumber+")")
	}
	if d.UserDefinedName != "" {
		parts = append(parts, fmt.Sprintf("%q", d.UserDefinedName))
	}
	return strings.Join(parts, " ")
}

// Event is a message sent by a device, e.g. the end of an exposure.  By the
// time it is received the device has updated the listed nodes of its node
// map with the event's data.
type Event struct {
	// Name of the event, e.g. "ExposureEnd"
	Name string

	// Nodes are the features carrying the event's data, e.g.
	// "EventExposureEndFrameID"
	Nodes []string

	// Timestamp is the device tick count of the event
	Timestamp uint64
}

// Stream moves buffers between a host and a device.  Buffers are queued
// empty and come back filled, in order, from RetrieveBuffer.
type Stream interface {
	// Open prepares the stream for buffers of the current payload size
	Open() error

	// Close releases the stream.  Queued buffers must be flushed first.
	Close() error

	// QueueBuffer hands an empty buffer to the device
	QueueBuffer(b *grab.Buffer) error

	// RetrieveBuffer waits for the next filled buffer.  It returns ctx.Err()
	// when ctx is done and ErrDeviceRemoved when the device goes away.
	RetrieveBuffer(ctx context.Context) (*grab.Buffer, error)

	// Flush returns every queued buffer which has not been filled, with
	// status grab.Canceled
	Flush() []*grab.Buffer
}

// Device is one camera as seen through its transport layer
type Device interface {
	Info() DeviceInfo

	Open() error
	Close() error
	IsOpen() bool

	// NodeMap holds the camera's features.  Most are unavailable until Open.
	NodeMap() *genicam.NodeMap

	// TLNodeMap holds the transport layer's features for this device, such
	// as HeartbeatTimeout
	TLNodeMap() *genicam.NodeMap

	Stream() Stream

	// Events delivers camera events while the device is open and event
	// notification is enabled for them
	Events() <-chan Event

	// Removed is closed when the device is physically removed
	Removed() <-chan struct{}
}

// FrameTriggerWaiter is implemented by devices that can report when they are
// ready to accept a frame trigger
type FrameTriggerWaiter interface {
	// WaitForFrameTriggerReady blocks until the device can be triggered or
	// ctx is done
	WaitForFrameTriggerReady(ctx context.Context) error
}

// Destroyer is implemented by devices which hold transport resources beyond
// Close.  After Destroy the device must not be used.
type Destroyer interface {
	Destroy() error
}

// Transport is a transport layer: a family of devices reached the same way
type Transport interface {
	// Name is the device class this transport serves
	Name() string

	// EnumerateDevices lists the devices currently reachable
	EnumerateDevices() ([]DeviceInfo, error)

	// CreateDevice returns a closed Device for an enumerated device
	CreateDevice(info DeviceInfo) (Device, error)

	// Close releases the transport.  Devices it created become unusable.
	Close() error
}

// ActionCommander is implemented by transports that can broadcast action
// commands.  Every device on the subnet whose device key and group key match,
// and whose group mask shares a bit with groupMask, executes the action.
type ActionCommander interface {
	IssueActionCommand(deviceKey, groupKey, groupMask uint32, subnet string) error
}

// AllGroupMask addresses every group
const AllGroupMask uint32 = 0xffffffff
