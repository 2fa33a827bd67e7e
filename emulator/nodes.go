package emulator

import (
	"fmt"
	"math"
	"time"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/pfnc"
)

// event names and the nodes carrying their data depend on the SFNC
// generation the device implements
const (
	EventExposureEnd = "ExposureEnd"
	EventOverrun     = "EventOverrun"
)

// Incomplete-frame error reported by FailEvery
const (
	ErrCodeIncomplete = 0xE1000014
	errDescIncomplete = "The buffer was incompletely grabbed: packets were lost on the way from the camera"
)

// eventNodes returns the data category and data nodes of an event
func (d *Device) eventNodes(event string) (data, frameID, timestamp string) {
	if d.sfnc2 {
		return "Event" + event + "Data", "Event" + event + "FrameID", "Event" + event + "Timestamp"
	}
	return event + "EventData", event + "EventFrameID", event + "EventTimestamp"
}

// name of a feature that was renamed between SFNC generations
func (d *Device) sfncName(v2, v1 string) string {
	if d.sfnc2 {
		return v2
	}
	return v1
}

func (d *Device) buildNodeMaps() {
	o := d.t.opts
	w, h := int64(o.SensorWidth), int64(o.SensorHeight)
	nm := genicam.NewNodeMap()

	formats := make([]string, len(o.PixelFormats))
	for i, pf := range o.PixelFormats {
		formats[i] = pf.String()
	}
	events := []string{EventExposureEnd}
	notify := []string{"Off", "On"}
	if !d.sfnc2 {
		events = append(events, EventOverrun)
		notify = []string{"Off", "GenICamEvent"}
	}
	userSets := []string{"Default", "UserSet1", "UserSet2", "UserSet3"}

	nm.MustAdd(
		genicam.Node{Name: "Root", Kind: genicam.KindCategory, Access: genicam.RO,
			Children: []string{"DeviceControl", "ImageFormatControl", "AcquisitionControl", "AnalogControl", "AutoFunctionControl", "EventControl", "UserSetControl"}},

		// device control
		genicam.Node{Name: "DeviceControl", Kind: genicam.KindCategory, Access: genicam.RO,
			Children: []string{"DeviceVendorName", "DeviceModelName", "DeviceSerialNumber", "DeviceFirmwareVersion", "DeviceUserID", "DeviceTemperature"}},
		genicam.Node{Name: "DeviceVendorName", Kind: genicam.KindString, Access: genicam.RO, Value: d.info.VendorName},
		genicam.Node{Name: "DeviceModelName", Kind: genicam.KindString, Access: genicam.RO, Value: d.info.ModelName},
		genicam.Node{Name: "DeviceSerialNumber", Kind: genicam.KindString, Access: genicam.RO, Value: d.info.SerialNumber},
		genicam.Node{Name: "DeviceVersion", Kind: genicam.KindString, Access: genicam.RO, Value: d.info.DeviceVersion},
		genicam.Node{Name: "DeviceFirmwareVersion", Kind: genicam.KindString, Access: genicam.RO, Value: firmwareVersion},
		genicam.Node{Name: "DeviceSFNCVersion", Kind: genicam.KindString, Access: genicam.RO, Value: o.SfncVersion},
		genicam.Node{Name: "DeviceUserID", Kind: genicam.KindString, Access: genicam.RW, Value: d.info.UserDefinedName,
			OnWrite: func(v interface{}) error {
				d.mu.Lock()
				d.info.UserDefinedName = v.(string)
				d.mu.Unlock()
				return nil
			}},
		genicam.Node{Name: "DeviceTemperature", Kind: genicam.KindFloat, Access: genicam.RO, Unit: "C", FMin: -40, FMax: 125,
			Get: func() interface{} {
				// warms up over the first minutes after opening
				up := float64(d.ticks()) / float64(time.Minute)
				return 25 + 15*(1-math.Exp(-up/3))
			}},

		// image format
		genicam.Node{Name: "ImageFormatControl", Kind: genicam.KindCategory, Access: genicam.RO,
			Children: []string{"SensorWidth", "SensorHeight", "WidthMax", "HeightMax", "Width", "Height", "OffsetX", "OffsetY", "PixelFormat", "TestImageSelector"}},
		genicam.Node{Name: "SensorWidth", Kind: genicam.KindInteger, Access: genicam.RO, Min: w, Max: w, Value: w},
		genicam.Node{Name: "SensorHeight", Kind: genicam.KindInteger, Access: genicam.RO, Min: h, Max: h, Value: h},
		genicam.Node{Name: "WidthMax", Kind: genicam.KindInteger, Access: genicam.RO, Max: w,
			Get: func() interface{} { return w - d.intValue("OffsetX") }},
		genicam.Node{Name: "HeightMax", Kind: genicam.KindInteger, Access: genicam.RO, Max: h,
			Get: func() interface{} { return h - d.intValue("OffsetY") }},
		genicam.Node{Name: "Width", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true,
			Min: minAOI, Max: w, Inc: 4, Value: w - w%4,
			OnWrite: func(v interface{}) error {
				return d.nm.SetIntRange("OffsetX", 0, w-v.(int64))
			}},
		genicam.Node{Name: "Height", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true,
			Min: minAOI, Max: h, Inc: 2, Value: h - h%2,
			OnWrite: func(v interface{}) error {
				return d.nm.SetIntRange("OffsetY", 0, h-v.(int64))
			}},
		genicam.Node{Name: "OffsetX", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true,
			Max: w % 4, Inc: 2,
			OnWrite: func(v interface{}) error {
				return d.nm.SetIntRange("Width", minAOI, w-v.(int64))
			}},
		genicam.Node{Name: "OffsetY", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true,
			Max: h % 2, Inc: 2,
			OnWrite: func(v interface{}) error {
				return d.nm.SetIntRange("Height", minAOI, h-v.(int64))
			}},
		genicam.Node{Name: "PixelFormat", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: formats, Value: formats[0]},
		genicam.Node{Name: "PayloadSize", Kind: genicam.KindInteger, Access: genicam.RO, Max: math.MaxInt32,
			Get: func() interface{} { return int64(d.payloadSize()) }},
		genicam.Node{Name: "TestImageSelector", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: []string{"Off", "Testimage1", "Testimage2"}, Value: "Off"},

		// acquisition
		genicam.Node{Name: "AcquisitionControl", Kind: genicam.KindCategory, Access: genicam.RO,
			Children: []string{"AcquisitionMode", "AcquisitionStart", "AcquisitionStop", "TriggerSelector", "TriggerMode", "TriggerSource", "TriggerSoftware"}},
		genicam.Node{Name: "AcquisitionMode", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: []string{"Continuous", "SingleFrame"}, Value: "Continuous"},
		genicam.Node{Name: "AcquisitionStart", Kind: genicam.KindCommand, Access: genicam.WO, OnExecute: d.startAcquisition},
		genicam.Node{Name: "AcquisitionStop", Kind: genicam.KindCommand, Access: genicam.WO, OnExecute: d.stopAcquisition},
		genicam.Node{Name: "AcquisitionFrameRateEnable", Kind: genicam.KindBoolean, Access: genicam.RW, Streamable: true},
		genicam.Node{Name: d.sfncName("AcquisitionFrameRate", "AcquisitionFrameRateAbs"), Kind: genicam.KindFloat,
			Access: genicam.RW, Streamable: true, Unit: "Hz", FMin: 0.1, FMax: 1000, Value: 100.0},
		genicam.Node{Name: "ResultingFrameRate", Kind: genicam.KindFloat, Access: genicam.RO, Unit: "Hz", FMax: math.MaxFloat64,
			Get: func() interface{} { return d.resultingFrameRate() }},
		genicam.Node{Name: "TriggerSelector", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: []string{"FrameStart", "AcquisitionStart"}, Value: "FrameStart"},
		genicam.Node{Name: "TriggerMode", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: []string{"Off", "On"}, Value: "Off", Selector: "TriggerSelector"},
		genicam.Node{Name: "TriggerSource", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: d.triggerSources(), Value: "Software", Selector: "TriggerSelector"},
		genicam.Node{Name: "TriggerSoftware", Kind: genicam.KindCommand, Access: genicam.WO,
			OnExecute: func() error { d.trigger("Software"); return nil }},
		genicam.Node{Name: "TLParamsLocked", Kind: genicam.KindInteger, Access: genicam.RW, Max: 1,
			OnWrite: func(v interface{}) error { return d.lockAOI(v.(int64) == 1) }},

		// exposure and gain
		genicam.Node{Name: "AnalogControl", Kind: genicam.KindCategory, Access: genicam.RO,
			Children: []string{"ExposureAuto", "GainAuto", d.exposureNode(), d.gainNode()}},
		genicam.Node{Name: "AutoFunctionControl", Kind: genicam.KindCategory, Access: genicam.RO,
			Children: d.autoFunctionNodes()},
		genicam.Node{Name: "ExposureAuto", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: []string{"Off", "Once", "Continuous"}, Value: "Off"},
		genicam.Node{Name: "GainAuto", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: []string{"Off", "Once", "Continuous"}, Value: "Off"},
	)
	if d.sfnc2 {
		nm.MustAdd(
			genicam.Node{Name: "ExposureTime", Kind: genicam.KindFloat, Access: genicam.RW, Streamable: true,
				Unit: "us", FMin: 10, FMax: 1e7, Value: defaultExposureUs},
			genicam.Node{Name: "Gain", Kind: genicam.KindFloat, Access: genicam.RW, Streamable: true,
				Unit: "dB", FMin: 0, FMax: 24},
			genicam.Node{Name: "AutoTargetBrightness", Kind: genicam.KindFloat, Access: genicam.RW, Streamable: true,
				FMin: 0.05, FMax: 0.95, Value: 0.3},
			genicam.Node{Name: "AutoExposureTimeLowerLimit", Kind: genicam.KindFloat, Access: genicam.RW, Streamable: true,
				Unit: "us", FMin: 10, FMax: 1e7, Value: 100.0},
			genicam.Node{Name: "AutoExposureTimeUpperLimit", Kind: genicam.KindFloat, Access: genicam.RW, Streamable: true,
				Unit: "us", FMin: 10, FMax: 1e7, Value: 100000.0},
		)
	} else {
		nm.MustAdd(
			genicam.Node{Name: "ExposureTimeRaw", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true,
				Min: 10, Max: 1000000, Value: int64(defaultExposureUs)},
			genicam.Node{Name: "GainRaw", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true,
				Min: 0, Max: 511},
			genicam.Node{Name: "AutoTargetValue", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true,
				Min: 10, Max: 245, Value: int64(77)},
			genicam.Node{Name: "AutoExposureTimeAbsLowerLimit", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true,
				Min: 10, Max: 1000000, Value: int64(100)},
			genicam.Node{Name: "AutoExposureTimeAbsUpperLimit", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true,
				Min: 10, Max: 1000000, Value: int64(100000)},
		)
	}

	// events
	nm.MustAdd(
		genicam.Node{Name: "EventControl", Kind: genicam.KindCategory, Access: genicam.RO,
			Children: []string{"EventSelector", "EventNotification"}},
		genicam.Node{Name: "EventSelector", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: events, Value: events[0]},
		genicam.Node{Name: "EventNotification", Kind: genicam.KindEnumeration, Access: genicam.RW, Streamable: true,
			Entries: notify, Value: "Off", Selector: "EventSelector"},
	)
	for _, ev := range events {
		data, frameID, ts := d.eventNodes(ev)
		nm.MustAdd(
			genicam.Node{Name: data, Kind: genicam.KindCategory, Access: genicam.RO, Children: []string{frameID, ts}},
			genicam.Node{Name: frameID, Kind: genicam.KindInteger, Access: genicam.RO, Max: math.MaxInt64},
			genicam.Node{Name: ts, Kind: genicam.KindInteger, Access: genicam.RO, Max: math.MaxInt64},
		)
	}

	// user sets
	nm.MustAdd(
		genicam.Node{Name: "UserSetControl", Kind: genicam.KindCategory, Access: genicam.RO,
			Children: []string{"UserSetSelector", "UserSetLoad", "UserSetSave", d.userSetDefaultNode()}},
		genicam.Node{Name: "UserSetSelector", Kind: genicam.KindEnumeration, Access: genicam.RW,
			Entries: userSets, Value: "Default"},
		genicam.Node{Name: "UserSetLoad", Kind: genicam.KindCommand, Access: genicam.WO,
			OnExecute: func() error { return d.loadUserSet(d.enumValue("UserSetSelector")) }},
		genicam.Node{Name: "UserSetSave", Kind: genicam.KindCommand, Access: genicam.WO,
			OnExecute: func() error { return d.saveUserSet(d.enumValue("UserSetSelector")) }},
		genicam.Node{Name: d.userSetDefaultNode(), Kind: genicam.KindEnumeration, Access: genicam.RW,
			Entries: userSets, Value: "Default",
			OnWrite: func(v interface{}) error {
				return d.t.opts.UserSets.Save(d.info.SerialNumber, DefaultSetKey, []byte(v.(string)))
			}},
	)

	// action commands exist on network devices only
	if d.info.DeviceClass == camera.ClassGigE {
		nm.MustAdd(
			genicam.Node{Name: "ActionDeviceKey", Kind: genicam.KindInteger, Access: genicam.WO, Max: math.MaxUint32},
			genicam.Node{Name: "ActionGroupKey", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true, Max: math.MaxUint32},
			genicam.Node{Name: "ActionGroupMask", Kind: genicam.KindInteger, Access: genicam.RW, Streamable: true, Max: math.MaxUint32},
		)
	}

	tl := genicam.NewNodeMap()
	tl.MustAdd(
		genicam.Node{Name: "DeviceID", Kind: genicam.KindString, Access: genicam.RO, Value: d.id.String()},
		genicam.Node{Name: "DeviceAccessStatus", Kind: genicam.KindEnumeration, Access: genicam.RO,
			Entries: []string{"ReadWrite", "Busy", "NoAccess"}, Value: "ReadWrite"},
	)
	if d.info.DeviceClass == camera.ClassGigE {
		tl.MustAdd(genicam.Node{Name: "HeartbeatTimeout", Kind: genicam.KindInteger, Access: genicam.RW,
			Unit: "ms", Min: 500, Max: 12000, Value: 3000})
	}
	d.nm, d.tlnm = nm, tl
}

const (
	minAOI            = 16
	defaultExposureUs = 1000.0
	firmwareVersion   = "1.0.0"
)

func (d *Device) exposureNode() string { return d.sfncName("ExposureTime", "ExposureTimeRaw") }

func (d *Device) gainNode() string { return d.sfncName("Gain", "GainRaw") }

func (d *Device) autoFunctionNodes() []string {
	lo, hi := d.autoExposureLimitNodes()
	return []string{d.autoTargetNode(), lo, hi}
}

func (d *Device) userSetDefaultNode() string {
	return d.sfncName("UserSetDefault", "UserSetDefaultSelector")
}

func (d *Device) triggerSources() []string {
	if d.info.DeviceClass == camera.ClassGigE {
		return []string{"Software", "Line1", "Action1"}
	}
	return []string{"Software", "Line1"}
}

// intValue reads an unselected integer without access checks
func (d *Device) intValue(name string) int64 {
	v, err := d.nm.ValueAt(name, "")
	if err != nil {
		return 0
	}
	i, _ := v.(int64)
	return i
}

func (d *Device) floatValue(name string) float64 {
	v, err := d.nm.ValueAt(name, "")
	if err != nil {
		return 0
	}
	f, _ := v.(float64)
	return f
}

func (d *Device) enumValue(name string) string {
	return d.selectedValue(name, "")
}

func (d *Device) selectedValue(name, selector string) string {
	v, err := d.nm.ValueAt(name, selector)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (d *Device) pixelFormat() pfnc.PixelFormat {
	pf, err := pfnc.Parse(d.enumValue("PixelFormat"))
	if err != nil {
		return pfnc.Mono8
	}
	return pf
}

func (d *Device) payloadSize() int {
	return d.pixelFormat().ImageSize(int(d.intValue("Width")), int(d.intValue("Height")))
}

func (d *Device) exposure() time.Duration {
	var us float64
	if d.sfnc2 {
		us = d.floatValue("ExposureTime")
	} else {
		us = float64(d.intValue("ExposureTimeRaw"))
	}
	return time.Duration(us * float64(time.Microsecond))
}

// frameRate is the free-run limit, 0 when frames come as fast as exposures allow
func (d *Device) frameRate() float64 {
	v, err := d.nm.ValueAt("AcquisitionFrameRateEnable", "")
	if err != nil || v != true {
		return 0
	}
	return d.floatValue(d.sfncName("AcquisitionFrameRate", "AcquisitionFrameRateAbs"))
}

func (d *Device) resultingFrameRate() float64 {
	exp := d.exposure().Seconds()
	max := math.Inf(1)
	if exp > 0 {
		max = 1 / exp
	}
	if r := d.frameRate(); r > 0 && r < max {
		return r
	}
	return max
}

// gainFactor converts the gain feature to a linear multiplier
func (d *Device) gainFactor() float64 {
	var db float64
	if d.sfnc2 {
		db = d.floatValue("Gain")
	} else {
		// 511 raw steps span 24 dB
		db = float64(d.intValue("GainRaw")) * 24 / 511
	}
	return math.Pow(10, db/20)
}

// lockAOI makes the features that set the payload size read only while the
// stream is running
func (d *Device) lockAOI(lock bool) error {
	a := genicam.RW
	if lock {
		a = genicam.RO
	}
	for _, name := range []string{"Width", "Height", "OffsetX", "OffsetY", "PixelFormat"} {
		if err := d.nm.SetAccess(name, a); err != nil {
			return fmt.Errorf("locking %s: %w", name, err)
		}
	}
	return nil
}
