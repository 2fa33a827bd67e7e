package tl_test

import (
	"errors"
	"testing"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/tl"
)

func runtime(t *testing.T) *tl.Runtime {
	t.Helper()
	r, err := tl.Initialize(
		emulator.New(emulator.Options{Count: 2}),
		emulator.New(emulator.Options{Count: 1, Class: camera.ClassUSB, ModelName: "UsbEmu"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Terminate() })
	return r
}

func TestInitializeRejectsDuplicateClasses(t *testing.T) {
	_, err := tl.Initialize(emulator.New(emulator.Options{}), emulator.New(emulator.Options{}))
	if err == nil {
		t.Fatal("two GigE transports were accepted")
	}
	if _, err := tl.Initialize(); err == nil {
		t.Fatal("no transports was accepted")
	}
}

func TestEnumerateFilters(t *testing.T) {
	r := runtime(t)
	all, err := r.EnumerateDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("enumerated %d devices, want 3", len(all))
	}
	usb, _ := r.EnumerateDevices(camera.DeviceInfo{DeviceClass: camera.ClassUSB})
	if len(usb) != 1 || usb[0].ModelName != "UsbEmu" {
		t.Errorf("USB filter gave %v", usb)
	}
	either, _ := r.EnumerateDevices(
		camera.DeviceInfo{SerialNumber: "0815-0001", DeviceClass: camera.ClassGigE},
		camera.DeviceInfo{ModelName: "UsbEmu"},
	)
	if len(either) != 2 {
		t.Errorf("two filters matched %d devices, want 2", len(either))
	}
}

func TestCreateDevice(t *testing.T) {
	r := runtime(t)
	d, err := r.CreateFirstDevice(camera.DeviceInfo{DeviceClass: camera.ClassUSB})
	if err != nil {
		t.Fatal(err)
	}
	if d.Info().DeviceClass != camera.ClassUSB {
		t.Errorf("created %s, want a USB device", d.Info())
	}
	if _, err := r.CreateDevice(camera.DeviceInfo{DeviceClass: camera.ClassGigE}); err == nil {
		t.Error("an ambiguous filter created a device")
	}
	if _, err := r.CreateFirstDevice(camera.DeviceInfo{SerialNumber: "nope"}); !errors.Is(err, camera.ErrNoDevice) {
		t.Errorf("no match gave %v, want ErrNoDevice", err)
	}
}

func TestTerminate(t *testing.T) {
	r := runtime(t)
	if err := r.Terminate(); err != nil {
		t.Fatal(err)
	}
	if err := r.Terminate(); err != nil {
		t.Errorf("second Terminate gave %v", err)
	}
	if _, err := r.EnumerateDevices(); !errors.Is(err, tl.ErrTerminated) {
		t.Errorf("enumerate after Terminate gave %v", err)
	}
}

func TestActionCommandSkipsUnsupportedTransports(t *testing.T) {
	r := runtime(t)
	if err := r.IssueActionCommand(1, 1, camera.AllGroupMask, ""); err != nil {
		t.Errorf("action command with a GigE transport present gave %v", err)
	}
	usbOnly, err := tl.Initialize(emulator.New(emulator.Options{Class: camera.ClassUSB}))
	if err != nil {
		t.Fatal(err)
	}
	defer usbOnly.Terminate()
	if err := usbOnly.IssueActionCommand(1, 1, 1, ""); !errors.Is(err, camera.ErrNotSupported) {
		t.Errorf("action command without GigE gave %v", err)
	}
}
