/*Package emulator is a software camera transport.

Every device it creates behaves like a small machine vision camera: a node map
with image format, acquisition, trigger, event, and user set features; free
running acquisition paced by the frame rate feature; software and action
triggers; exposure end and overrun events; and incomplete frames on demand.
Devices can be unplugged and plugged back in with Remove and Replug, which is
what the device removal handling is tested against.

Serial numbers are 0815-0000, 0815-0001, and so on.
*/
package emulator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/pfnc"
)

// Options configure a Transport.  The zero value is one GigE camera.
type Options struct {
	// Count is the number of cameras, default 1
	Count int

	// Class is the device class the cameras claim, camera.ClassGigE by
	// default.  Only GigE cameras have action commands and a heartbeat.
	Class string

	// ModelName defaults to "Emulation"
	ModelName string

	// SensorWidth and SensorHeight default to 640x480
	SensorWidth, SensorHeight int

	// PixelFormats are the formats offered, the first is the default.
	// Default Mono8, Mono12, Mono16, BayerRG8, RGB8, BGR8.
	PixelFormats []pfnc.PixelFormat

	// SfncVersion selects the feature names: below 2.0.0 the cameras use
	// the older names (GainRaw, ExposureTimeRaw, ExposureEndEventFrameID)
	// and offer the EventOverrun event.  Default 2.0.0.
	SfncVersion string

	// FailEvery delivers every Nth frame incomplete, 0 never
	FailEvery int

	// UserSets stores user sets, default a MemStore.  The transport closes it.
	UserSets UserSetStore

	// Subnet is the first three octets of the cameras' addresses,
	// default "192.168.0"
	Subnet string
}

func (o *Options) fill() {
	if o.Count < 1 {
		o.Count = 1
	}
	if o.Class == "" {
		o.Class = camera.ClassGigE
	}
	if o.ModelName == "" {
		o.ModelName = "Emulation"
	}
	if o.SensorWidth < minAOI {
		o.SensorWidth = 640
	}
	if o.SensorHeight < minAOI {
		o.SensorHeight = 480
	}
	if len(o.PixelFormats) == 0 {
		o.PixelFormats = []pfnc.PixelFormat{pfnc.Mono8, pfnc.Mono12, pfnc.Mono16, pfnc.BayerRG8, pfnc.RGB8, pfnc.BGR8}
	}
	if o.SfncVersion == "" {
		o.SfncVersion = "2.0.0"
	}
	if o.UserSets == nil {
		o.UserSets = NewMemStore()
	}
	if o.Subnet == "" {
		o.Subnet = "192.168.0"
	}
}

// slot is one physical camera, which may be plugged in or not and may have
// any number of Device values created for it
type slot struct {
	info    camera.DeviceInfo
	present bool
	devs    []*Device
	openBy  *Device
}

// Transport implements camera.Transport and camera.ActionCommander
type Transport struct {
	opts   Options
	mu     sync.Mutex
	slots  []*slot
	closed bool
}

// New creates a transport with opts.Count cameras plugged in
func New(opts Options) *Transport {
	opts.fill()
	t := &Transport{opts: opts}
	for i := 0; i < opts.Count; i++ {
		serial := fmt.Sprintf("0815-%04d", i)
		info := camera.DeviceInfo{
			SerialNumber:  serial,
			ModelName:     opts.ModelName,
			VendorName:    "instacam",
			DeviceClass:   opts.Class,
			DeviceVersion: opts.ModelName + " " + firmwareVersion,
			FriendlyName:  fmt.Sprintf("%s (%s)", opts.ModelName, serial),
			FullName:      fmt.Sprintf("%s#%s", strings.ToLower(opts.Class), serial),
		}
		if opts.Class == camera.ClassGigE {
			info.IPAddress = fmt.Sprintf("%s.%d", opts.Subnet, 10+i)
			info.SubnetAddress = opts.Subnet + ".0"
		}
		t.slots = append(t.slots, &slot{info: info, present: true})
	}
	return t
}

func (t *Transport) sfnc2() bool {
	major, _, _ := strings.Cut(t.opts.SfncVersion, ".")
	n, err := strconv.Atoi(major)
	return err != nil || n >= 2
}

// Name is the device class of the transport's cameras
func (t *Transport) Name() string {
	return t.opts.Class
}

// EnumerateDevices lists the cameras plugged in
func (t *Transport) EnumerateDevices() ([]camera.DeviceInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errTransportClosed
	}
	var out []camera.DeviceInfo
	for _, s := range t.slots {
		if s.present {
			out = append(out, s.info)
		}
	}
	return out, nil
}

var errTransportClosed = errors.New("emulator transport is closed")

func (t *Transport) find(serial string) (*slot, error) {
	for _, s := range t.slots {
		if s.info.SerialNumber == serial {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: no emulated camera %s", camera.ErrNoDevice, serial)
}

// CreateDevice creates a closed Device for a plugged in camera, matched by
// full name or serial number.  With neither given, the first camera plugged
// in is used.
func (t *Transport) CreateDevice(info camera.DeviceInfo) (camera.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errTransportClosed
	}
	if info.FullName == "" && info.SerialNumber == "" {
		for _, s := range t.slots {
			if s.present {
				d := newDevice(t, s)
				s.devs = append(s.devs, d)
				return d, nil
			}
		}
		return nil, fmt.Errorf("%w: no emulated camera is plugged in", camera.ErrNoDevice)
	}
	for _, s := range t.slots {
		if (info.FullName != "" && info.FullName == s.info.FullName) ||
			(info.FullName == "" && info.SerialNumber == s.info.SerialNumber) {
			if !s.present {
				return nil, fmt.Errorf("%w: %s is unplugged", camera.ErrNoDevice, s.info.SerialNumber)
			}
			d := newDevice(t, s)
			s.devs = append(s.devs, d)
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", camera.ErrNoDevice, info)
}

// Device returns the most recently created, not yet destroyed Device for a
// serial number
func (t *Transport) Device(serial string) (*Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.find(serial)
	if err != nil {
		return nil, err
	}
	if len(s.devs) == 0 {
		return nil, fmt.Errorf("%w: no device created for %s", camera.ErrNoDevice, serial)
	}
	return s.devs[len(s.devs)-1], nil
}

// claim gives d exclusive access to its camera
func (t *Transport) claim(d *Device) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d.s.openBy != nil && d.s.openBy != d {
		return ErrInUse
	}
	d.s.openBy = d
	return nil
}

func (t *Transport) release(d *Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d.s.openBy == d {
		d.s.openBy = nil
	}
}

func (t *Transport) forget(d *Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, o := range d.s.devs {
		if o == d {
			d.s.devs = append(d.s.devs[:i], d.s.devs[i+1:]...)
			break
		}
	}
}

// Remove unplugs a camera.  Its devices report removal and it disappears
// from enumeration until Replug.
func (t *Transport) Remove(serial string) error {
	t.mu.Lock()
	s, err := t.find(serial)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	s.present = false
	s.openBy = nil
	devs := append([]*Device(nil), s.devs...)
	t.mu.Unlock()
	for _, d := range devs {
		d.remove()
	}
	return nil
}

// Replug plugs a removed camera back in.  Devices created before the removal
// stay dead; create a new one.
func (t *Transport) Replug(serial string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.find(serial)
	if err != nil {
		return err
	}
	s.present = true
	return nil
}

// IssueActionCommand triggers every open camera on the subnet whose action
// keys match.  An empty subnet addresses all cameras.
func (t *Transport) IssueActionCommand(deviceKey, groupKey, groupMask uint32, subnet string) error {
	if t.opts.Class != camera.ClassGigE {
		return fmt.Errorf("%w: action commands need GigE devices", camera.ErrNotSupported)
	}
	t.mu.Lock()
	var devs []*Device
	for _, s := range t.slots {
		if s.openBy != nil && (subnet == "" || subnet == s.info.SubnetAddress) {
			devs = append(devs, s.openBy)
		}
	}
	t.mu.Unlock()
	for _, d := range devs {
		d.action(deviceKey, groupKey, groupMask)
	}
	return nil
}

// Close unplugs every camera and closes the user set store
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var devs []*Device
	for _, s := range t.slots {
		devs = append(devs, s.devs...)
	}
	t.mu.Unlock()
	for _, d := range devs {
		d.stopAcquisition()
		d.remove()
	}
	return t.opts.UserSets.Close()
}
