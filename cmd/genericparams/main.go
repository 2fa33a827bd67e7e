// genericparams reads and writes camera features through the generic
// parameter views: integers, floats, enumerations and strings.
package main

import (
	"fmt"

	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/pfnc"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

func run() error {
	opts := emulator.Options{Count: util.EnvInt("INSTACAM_CAMEMU", 1)}
	if util.EnvBool("INSTACAM_SFNC1") {
		opts.SfncVersion = "1.5.0"
	}
	rt, err := tl.Initialize(emulator.New(opts))
	if err != nil {
		return err
	}
	defer rt.Terminate()
	dev, err := rt.CreateFirstDevice()
	if err != nil {
		return err
	}
	cam, err := instant.NewWithDevice(dev)
	if err != nil {
		return err
	}
	defer cam.Destroy()
	if err := cam.Open(); err != nil {
		return err
	}
	defer cam.Close()
	nm := cam.NodeMap()

	// string features, read only
	for _, name := range []string{"DeviceVendorName", "DeviceModelName", "DeviceFirmwareVersion"} {
		s, err := nm.Str(name).Value()
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", name, s)
	}

	// the offsets go to their minimum first so the AOI can grow
	fmt.Println("OffsetX          :", tryMin(nm.Integer("OffsetX")))
	fmt.Println("OffsetY          :", tryMin(nm.Integer("OffsetY")))

	// a width and height off the increment are corrected instead of refused
	width, height := nm.Integer("Width"), nm.Integer("Height")
	if err := width.SetValueCorrected(202, genicam.Nearest); err != nil {
		return err
	}
	if err := height.SetValueCorrected(101, genicam.Nearest); err != nil {
		return err
	}
	w, _ := width.Value()
	h, _ := height.Value()
	fmt.Println("Width            :", w)
	fmt.Println("Height           :", h)

	pf := nm.Enum("PixelFormat")
	old, err := pf.Value()
	if err != nil {
		return err
	}
	fmt.Println("Old PixelFormat  :", old)
	if pf.CanSetValue(pfnc.Mono8.String()) {
		if err := pf.SetValue(pfnc.Mono8.String()); err != nil {
			return err
		}
		fmt.Println("New PixelFormat  :", pfnc.Mono8)
	}

	// some cameras have no auto gain, some have it but not Off
	if ok, err := nm.Enum("GainAuto").TrySetValue("Off"); err != nil {
		return err
	} else if ok {
		fmt.Println("GainAuto         : Off")
	}

	// newer cameras have a float gain, older ones a raw integer
	if gain := nm.Float("Gain"); gain.IsValid() {
		if err := gain.SetValuePercentOfRange(50); err != nil {
			return err
		}
		v, _ := gain.Value()
		min, max, _ := gain.Range()
		fmt.Printf("Gain (50%%)       : %g (Min: %g; Max: %g)\n", v, min, max)
	} else {
		raw := nm.Integer("GainRaw")
		if err := raw.SetValuePercentOfRange(50); err != nil {
			return err
		}
		v, _ := raw.Value()
		min, max, inc, _ := raw.Range()
		fmt.Printf("Gain (50%%)       : %d (Min: %d; Max: %d; Inc: %d)\n", v, min, max, inc)
	}
	return nil
}

func tryMin(p genicam.IntegerParam) string {
	ok, err := p.TrySetToMinimum()
	switch {
	case err != nil:
		return err.Error()
	case !ok:
		return "not writable"
	}
	v, _ := p.Value()
	return fmt.Sprint(v)
}

func main() {
	util.Exit(run())
}
