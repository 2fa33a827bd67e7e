package emulator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/pfnc"
)

func openDevice(t *testing.T, tr *Transport, serial string) *Device {
	t.Helper()
	cd, err := tr.CreateDevice(camera.DeviceInfo{SerialNumber: serial})
	if err != nil {
		t.Fatal(err)
	}
	d := cd.(*Device)
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// startStream queues n buffers of the current payload size and starts acquisition
func startStream(t *testing.T, d *Device, n int) camera.Stream {
	t.Helper()
	size, err := d.NodeMap().Integer("PayloadSize").Value()
	if err != nil {
		t.Fatal(err)
	}
	s := d.Stream()
	if err := s.Open(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if err := s.QueueBuffer(grab.NewBuffer(int(size))); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.NodeMap().Command("AcquisitionStart").Execute(); err != nil {
		t.Fatal(err)
	}
	return s
}

func retrieve(t *testing.T, s camera.Stream) *grab.Buffer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := s.RetrieveBuffer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestEnumerate(t *testing.T) {
	tr := New(Options{Count: 3})
	defer tr.Close()
	infos, err := tr.EnumerateDevices()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, i := range infos {
		got = append(got, i.SerialNumber+" "+i.IPAddress)
	}
	want := []string{"0815-0000 192.168.0.10", "0815-0001 192.168.0.11", "0815-0002 192.168.0.12"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("enumeration mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateDeviceWithoutFilterTakesFirstPresent(t *testing.T) {
	tr := New(Options{Count: 2})
	defer tr.Close()
	if err := tr.Remove("0815-0000"); err != nil {
		t.Fatal(err)
	}
	d, err := tr.CreateDevice(camera.DeviceInfo{})
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Info().SerialNumber; got != "0815-0001" {
		t.Errorf("empty filter created %s", got)
	}
	tr.Remove("0815-0001")
	if _, err := tr.CreateDevice(camera.DeviceInfo{}); !errors.Is(err, camera.ErrNoDevice) {
		t.Errorf("empty filter with nothing plugged in gave %v", err)
	}
}

func TestFeaturesUnavailableUntilOpen(t *testing.T) {
	tr := New(Options{})
	defer tr.Close()
	cd, err := tr.CreateDevice(camera.DeviceInfo{SerialNumber: "0815-0000"})
	if err != nil {
		t.Fatal(err)
	}
	d := cd.(*Device)
	if _, err := d.NodeMap().Integer("Width").Value(); !errors.Is(err, genicam.ErrNotAvailable) {
		t.Errorf("Width before Open gave %v, want ErrNotAvailable", err)
	}
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if w, err := d.NodeMap().Integer("Width").Value(); err != nil || w != 640 {
		t.Errorf("Width = %d, %v; want 640", w, err)
	}
	if st, _ := d.TLNodeMap().Enum("DeviceAccessStatus").Value(); st != "Busy" {
		t.Errorf("DeviceAccessStatus = %s, want Busy", st)
	}
}

func TestExclusiveOpen(t *testing.T) {
	tr := New(Options{})
	defer tr.Close()
	openDevice(t, tr, "0815-0000")
	cd, err := tr.CreateDevice(camera.DeviceInfo{SerialNumber: "0815-0000"})
	if err != nil {
		t.Fatal(err)
	}
	if err := cd.Open(); !errors.Is(err, ErrInUse) {
		t.Errorf("second Open gave %v, want ErrInUse", err)
	}
}

func TestFreeRunFillsBuffersInOrder(t *testing.T) {
	tr := New(Options{SensorWidth: 64, SensorHeight: 48})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	s := startStream(t, d, 4)
	var last uint64
	for i := 0; i < 4; i++ {
		b := retrieve(t, s)
		if b.Meta.Status != grab.Succeeded {
			t.Fatalf("frame %d status %v: %s", i, b.Meta.Status, b.Meta.ErrorDescription)
		}
		if b.Meta.Width != 64 || b.Meta.Height != 48 || b.Meta.PixelFormat != pfnc.Mono8 {
			t.Errorf("frame %d meta %+v", i, b.Meta)
		}
		if len(b.Payload()) != 64*48 {
			t.Errorf("payload %d bytes, want %d", len(b.Payload()), 64*48)
		}
		if b.Meta.BlockID <= last {
			t.Errorf("block IDs not increasing: %d after %d", b.Meta.BlockID, last)
		}
		last = b.Meta.BlockID
	}
	d.NodeMap().Command("AcquisitionStop").Execute()
	if left := s.Flush(); len(left) != 0 {
		t.Errorf("%d buffers left after retrieving all of them", len(left))
	}
}

// autoFrames grabs until the auto function named reads Off, and returns the
// mean gray level of the last frame
func autoFrames(t *testing.T, d *Device, auto string, max int) (float64, int) {
	t.Helper()
	s := startStream(t, d, 1)
	defer d.NodeMap().Command("AcquisitionStop").Execute()
	for n := 1; n <= max; n++ {
		b := retrieve(t, s)
		var sum int
		for _, v := range b.Payload() {
			sum += int(v)
		}
		mean := float64(sum) / float64(len(b.Payload())) / 255
		if mode, _ := d.NodeMap().Enum(auto).Value(); mode == "Off" {
			return mean, n
		}
		if err := s.QueueBuffer(b); err != nil {
			t.Fatal(err)
		}
	}
	t.Fatalf("%s still running after %d frames", auto, max)
	return 0, 0
}

func TestExposureAutoOnce(t *testing.T) {
	tr := New(Options{SensorWidth: 32, SensorHeight: 32})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	nm := d.NodeMap()
	if err := nm.Enum("ExposureAuto").SetValue("Once"); err != nil {
		t.Fatal(err)
	}
	mean, n := autoFrames(t, d, "ExposureAuto", 30)
	if mean < 0.25 || mean > 0.35 {
		t.Errorf("mean level %.3f after %d frames, want about 0.3", mean, n)
	}
	if us, _ := nm.Float("ExposureTime").Value(); us >= defaultExposureUs {
		t.Errorf("exposure went from %g to %g us for a darker target", defaultExposureUs, us)
	}
}

func TestGainAutoOnceSfnc1(t *testing.T) {
	tr := New(Options{SensorWidth: 32, SensorHeight: 32, SfncVersion: "1.5.0"})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	nm := d.NodeMap()
	// too dark for the target, and exposure is left alone
	if err := nm.Integer("ExposureTimeRaw").SetValue(200); err != nil {
		t.Fatal(err)
	}
	if err := nm.Enum("GainAuto").SetValue("Once"); err != nil {
		t.Fatal(err)
	}
	mean, n := autoFrames(t, d, "GainAuto", 30)
	if mean < 0.25 || mean > 0.35 {
		t.Errorf("mean level %.3f after %d frames, want about 0.3", mean, n)
	}
	if raw, _ := nm.Integer("GainRaw").Value(); raw == 0 {
		t.Error("gain was not raised")
	}
	if raw, _ := nm.Integer("ExposureTimeRaw").Value(); raw != 200 {
		t.Errorf("gain auto changed the exposure to %d", raw)
	}
}

func TestGainAutoOnceCannotDarken(t *testing.T) {
	tr := New(Options{SensorWidth: 32, SensorHeight: 32})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	nm := d.NodeMap()
	// the default frame is brighter than the target and gain is at 0 dB
	if err := nm.Enum("GainAuto").SetValue("Once"); err != nil {
		t.Fatal(err)
	}
	s := startStream(t, d, 1)
	for i := 0; i < 5; i++ {
		if err := s.QueueBuffer(retrieve(t, s)); err != nil {
			t.Fatal(err)
		}
	}
	nm.Command("AcquisitionStop").Execute()
	if mode, _ := nm.Enum("GainAuto").Value(); mode != "Once" {
		t.Errorf("GainAuto = %s, want it still running", mode)
	}
}

func TestFreeRunWaitsForBuffers(t *testing.T) {
	tr := New(Options{SensorWidth: 32, SensorHeight: 32})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	s := startStream(t, d, 1)
	b := retrieve(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.RetrieveBuffer(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("retrieve with no buffer queued gave %v", err)
	}
	if err := s.QueueBuffer(b); err != nil {
		t.Fatal(err)
	}
	b2 := retrieve(t, s)
	if b2.Meta.BlockID != 2 {
		t.Errorf("frame after starvation has block ID %d, want 2", b2.Meta.BlockID)
	}
}

func TestSoftwareTrigger(t *testing.T) {
	tr := New(Options{SensorWidth: 32, SensorHeight: 32})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	nm := d.NodeMap()
	if err := nm.Enum("TriggerSelector").SetValue("FrameStart"); err != nil {
		t.Fatal(err)
	}
	if err := nm.Enum("TriggerMode").SetValue("On"); err != nil {
		t.Fatal(err)
	}
	s := startStream(t, d, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.RetrieveBuffer(ctx); err == nil {
		t.Fatal("a frame arrived without a trigger")
	}

	wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
	defer wcancel()
	if err := d.WaitForFrameTriggerReady(wctx); err != nil {
		t.Fatal(err)
	}
	if err := nm.Command("TriggerSoftware").Execute(); err != nil {
		t.Fatal(err)
	}
	if b := retrieve(t, s); b.Meta.Status != grab.Succeeded {
		t.Errorf("triggered frame status %v", b.Meta.Status)
	}
}

func TestFailEvery(t *testing.T) {
	tr := New(Options{SensorWidth: 32, SensorHeight: 32, FailEvery: 2})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	s := startStream(t, d, 4)
	var statuses []grab.Status
	for i := 0; i < 4; i++ {
		b := retrieve(t, s)
		statuses = append(statuses, b.Meta.Status)
		if b.Meta.Status == grab.Failed && b.Meta.ErrorCode != ErrCodeIncomplete {
			t.Errorf("failed frame error code %#x", b.Meta.ErrorCode)
		}
	}
	want := []grab.Status{grab.Succeeded, grab.Failed, grab.Succeeded, grab.Failed}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Errorf("statuses (-want +got):\n%s", diff)
	}
}

func TestExposureEndEvent(t *testing.T) {
	tr := New(Options{SensorWidth: 32, SensorHeight: 32})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	nm := d.NodeMap()
	if err := nm.Enum("EventSelector").SetValue(EventExposureEnd); err != nil {
		t.Fatal(err)
	}
	if err := nm.Enum("EventNotification").SetValue("On"); err != nil {
		t.Fatal(err)
	}
	s := startStream(t, d, 1)
	b := retrieve(t, s)
	select {
	case ev := <-d.Events():
		if ev.Name != EventExposureEnd {
			t.Errorf("event %s, want %s", ev.Name, EventExposureEnd)
		}
		if diff := cmp.Diff([]string{"EventExposureEndData", "EventExposureEndFrameID", "EventExposureEndTimestamp"}, ev.Nodes); diff != "" {
			t.Errorf("event nodes (-want +got):\n%s", diff)
		}
		id, err := nm.Integer("EventExposureEndFrameID").Value()
		if err != nil || uint64(id) != b.Meta.BlockID {
			t.Errorf("event frame ID %d, %v; frame was %d", id, err, b.Meta.BlockID)
		}
	case <-time.After(time.Second):
		t.Fatal("no exposure end event")
	}
}

func TestSfnc1Names(t *testing.T) {
	tr := New(Options{SfncVersion: "1.5.0"})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	nm := d.NodeMap()
	for _, name := range []string{"GainRaw", "ExposureTimeRaw", "AcquisitionFrameRateAbs", "ExposureEndEventFrameID", "UserSetDefaultSelector"} {
		if !nm.Has(name) {
			t.Errorf("SFNC 1 device lacks %s", name)
		}
	}
	if nm.Has("Gain") {
		t.Error("SFNC 1 device has Gain")
	}
	if !nm.Enum("EventNotification").CanSetValue("GenICamEvent") {
		t.Error("SFNC 1 event notification should be GenICamEvent")
	}
}

func TestAOILockedDuringGrab(t *testing.T) {
	tr := New(Options{})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	nm := d.NodeMap()
	if err := nm.Integer("TLParamsLocked").SetValue(1); err != nil {
		t.Fatal(err)
	}
	if err := nm.Integer("Width").SetValue(320); !errors.Is(err, genicam.ErrNotWritable) {
		t.Errorf("Width write while locked gave %v", err)
	}
	if err := nm.Integer("TLParamsLocked").SetValue(0); err != nil {
		t.Fatal(err)
	}
	if err := nm.Integer("Width").SetValue(320); err != nil {
		t.Error(err)
	}
	if _, max, _, err := nm.Integer("OffsetX").Range(); err != nil || max != 320 {
		t.Errorf("OffsetX max = %d, %v; want 320", max, err)
	}
}

func TestRemoval(t *testing.T) {
	tr := New(Options{SensorWidth: 32, SensorHeight: 32})
	defer tr.Close()
	d := openDevice(t, tr, "0815-0000")
	s := startStream(t, d, 1)
	retrieve(t, s)

	if err := tr.Remove("0815-0000"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-d.Removed():
	default:
		t.Fatal("Removed not closed")
	}
	if _, err := s.RetrieveBuffer(context.Background()); !errors.Is(err, camera.ErrDeviceRemoved) {
		t.Errorf("retrieve after removal gave %v", err)
	}
	if _, err := d.NodeMap().Integer("Width").Value(); !errors.Is(err, camera.ErrDeviceRemoved) {
		t.Errorf("feature access after removal gave %v", err)
	}
	if infos, _ := tr.EnumerateDevices(); len(infos) != 0 {
		t.Errorf("removed camera still enumerated: %v", infos)
	}
	if _, err := tr.CreateDevice(camera.DeviceInfo{SerialNumber: "0815-0000"}); !errors.Is(err, camera.ErrNoDevice) {
		t.Errorf("creating an unplugged camera gave %v", err)
	}

	if err := tr.Replug("0815-0000"); err != nil {
		t.Fatal(err)
	}
	d.Destroy()
	d2 := openDevice(t, tr, "0815-0000")
	if d2.ID() == d.ID() {
		t.Error("replugged device has the old ID")
	}
}

func TestUserSetsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usersets.db")
	store, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	tr := New(Options{UserSets: store})
	d := openDevice(t, tr, "0815-0000")
	nm := d.NodeMap()
	if err := nm.Integer("Width").SetValue(320); err != nil {
		t.Fatal(err)
	}
	if err := nm.Enum("PixelFormat").SetValue("Mono12"); err != nil {
		t.Fatal(err)
	}
	if err := nm.Enum("UserSetSelector").SetValue("UserSet1"); err != nil {
		t.Fatal(err)
	}
	if err := nm.Command("UserSetSave").Execute(); err != nil {
		t.Fatal(err)
	}
	if err := nm.Enum("UserSetDefault").SetValue("UserSet1"); err != nil {
		t.Fatal(err)
	}
	d.Close()
	tr.Close()

	// a fresh transport on the same file starts in UserSet1
	store, err = NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	tr = New(Options{UserSets: store})
	defer tr.Close()
	d = openDevice(t, tr, "0815-0000")
	nm = d.NodeMap()
	if w, _ := nm.Integer("Width").Value(); w != 320 {
		t.Errorf("Width = %d after reopening, want 320", w)
	}
	if pf, _ := nm.Enum("PixelFormat").Value(); pf != "Mono12" {
		t.Errorf("PixelFormat = %s after reopening, want Mono12", pf)
	}

	// the Default set restores the factory settings
	nm.Enum("UserSetSelector").SetValue("Default")
	if err := nm.Command("UserSetLoad").Execute(); err != nil {
		t.Fatal(err)
	}
	if w, _ := nm.Integer("Width").Value(); w != 640 {
		t.Errorf("Width = %d after loading Default, want 640", w)
	}
	if err := nm.Command("UserSetSave").Execute(); !errors.Is(err, genicam.ErrNotWritable) {
		t.Errorf("saving Default gave %v", err)
	}
}

func TestActionCommand(t *testing.T) {
	tr := New(Options{Count: 2, SensorWidth: 32, SensorHeight: 32})
	defer tr.Close()
	var streams []camera.Stream
	for _, serial := range []string{"0815-0000", "0815-0001"} {
		d := openDevice(t, tr, serial)
		nm := d.NodeMap()
		nm.Integer("ActionDeviceKey").SetValue(0x4711)
		nm.Integer("ActionGroupKey").SetValue(1)
		nm.Integer("ActionGroupMask").SetValue(1)
		nm.Enum("TriggerMode").SetValue("On")
		nm.Enum("TriggerSource").SetValue("Action1")
		streams = append(streams, startStream(t, d, 1))
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := d.WaitForFrameTriggerReady(ctx); err != nil {
			t.Fatal(err)
		}
		cancel()
	}
	// wrong group key reaches nobody
	if err := tr.IssueActionCommand(0x4711, 2, camera.AllGroupMask, ""); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := streams[0].RetrieveBuffer(ctx); err == nil {
		t.Fatal("an action command with the wrong group key triggered a frame")
	}

	if err := tr.IssueActionCommand(0x4711, 1, camera.AllGroupMask, "192.168.0.0"); err != nil {
		t.Fatal(err)
	}
	for _, s := range streams {
		retrieve(t, s)
	}

	usb := New(Options{Class: camera.ClassUSB})
	defer usb.Close()
	if err := usb.IssueActionCommand(1, 1, 1, ""); !errors.Is(err, camera.ErrNotSupported) {
		t.Errorf("USB action command gave %v", err)
	}
}
