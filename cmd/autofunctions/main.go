// autofunctions runs the exposure and gain auto functions once and
// continuously.  A Once function switches itself back to Off when it has
// reached the target brightness; if it does not within a number of frames,
// the sample turns it off and carries on.
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

// maxFrames bounds how long a Once function may take
const maxFrames = 100

var errAutoTimeout = errors.New("auto function did not finish")

type names struct {
	exposure, gain, target string
}

func featureNames(cam *instant.Camera) names {
	if cam.SfncVersion().Less(instant.Sfnc2_0_0) {
		return names{"ExposureTimeRaw", "GainRaw", "AutoTargetValue"}
	}
	return names{"ExposureTime", "Gain", "AutoTargetBrightness"}
}

// value reads any feature as text
func value(nm *genicam.NodeMap, name string) string {
	v, err := nm.ValueString(name)
	if err != nil {
		return err.Error()
	}
	return v
}

// setExposure writes the exposure time in microseconds to whichever of the
// float or the raw feature the camera has
func setExposure(nm *genicam.NodeMap, fn names, us float64) error {
	if fn.exposure == "ExposureTimeRaw" {
		return nm.Integer(fn.exposure).SetValue(int64(us))
	}
	return nm.Float(fn.exposure).SetValue(us)
}

// once sets auto to Once and grabs until the camera sets it back to Off
func once(cam *instant.Camera, auto string) (int, error) {
	nm := cam.NodeMap()
	if err := nm.Enum(auto).SetValue("Once"); err != nil {
		return 0, err
	}
	if err := cam.StartGrabbing(instant.GrabOptions{}); err != nil {
		return 0, err
	}
	defer cam.StopGrabbing()
	for n := 1; n <= maxFrames; n++ {
		res, err := cam.RetrieveResult(5*time.Second, instant.TimeoutError)
		if err != nil {
			return n, err
		}
		res.Release()
		mode, err := nm.Enum(auto).Value()
		if err != nil {
			return n, err
		}
		if mode == "Off" {
			return n, nil
		}
	}
	return maxFrames, fmt.Errorf("%w: %s after %d frames", errAutoTimeout, auto, maxFrames)
}

// continuous leaves auto on for a number of frames, printing the feature it
// drives
func continuous(cam *instant.Camera, auto, driven string, frames int) error {
	nm := cam.NodeMap()
	if err := nm.Enum(auto).SetValue("Continuous"); err != nil {
		return err
	}
	defer nm.Enum(auto).SetValue("Off")
	if err := cam.StartGrabbing(instant.GrabOptions{MaxImages: frames}); err != nil {
		return err
	}
	for cam.IsGrabbing() {
		res, err := cam.RetrieveResult(5*time.Second, instant.TimeoutError)
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", driven, value(nm, driven))
		res.Release()
	}
	return nil
}

// report prints the outcome of a Once run.  A timeout is not fatal: the
// function is switched off by hand and the sample goes on.
func report(cam *instant.Camera, auto string, n int, err error) error {
	nm := cam.NodeMap()
	switch {
	case errors.Is(err, errAutoTimeout):
		fmt.Println("Timeout:", err)
		return nm.Enum(auto).SetValue("Off")
	case err != nil:
		return err
	}
	fmt.Printf("%s went back to Off after %d frames\n", auto, n)
	return nil
}

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
	fmt.Println("Using device", cam.DeviceInfo().ModelName)

	nm := cam.NodeMap()
	if !nm.Enum("ExposureAuto").IsValid() || !nm.Enum("GainAuto").IsValid() {
		fmt.Println("This camera does not support auto functions.")
		return nil
	}
	fn := featureNames(cam)
	fmt.Printf("%s = %s\n", fn.target, value(nm, fn.target))

	fmt.Println("\nExposureAuto Once")
	fmt.Printf("%s before: %s\n", fn.exposure, value(nm, fn.exposure))
	n, err := once(cam, "ExposureAuto")
	if err := report(cam, "ExposureAuto", n, err); err != nil {
		return err
	}
	fmt.Printf("%s after: %s\n", fn.exposure, value(nm, fn.exposure))

	// darken the scene by a short exposure and let the gain make up for it
	fmt.Println("\nGainAuto Once")
	if err := setExposure(nm, fn, 300); err != nil {
		return err
	}
	fmt.Printf("%s before: %s\n", fn.gain, value(nm, fn.gain))
	n, err = once(cam, "GainAuto")
	if err := report(cam, "GainAuto", n, err); err != nil {
		return err
	}
	fmt.Printf("%s after: %s\n", fn.gain, value(nm, fn.gain))

	fmt.Println("\nExposureAuto Continuous")
	if err := continuous(cam, "ExposureAuto", fn.exposure, 10); err != nil {
		return err
	}

	// with the gain at its minimum, a brighter than wanted scene is out of
	// reach for GainAuto and the Once run times out
	fmt.Println("\nGainAuto Once, out of reach")
	if err := nm.SetValueString(fn.gain, "0"); err != nil {
		return err
	}
	if err := setExposure(nm, fn, 5000); err != nil {
		return err
	}
	n, err = once(cam, "GainAuto")
	return report(cam, "GainAuto", n, err)
}

func main() {
	util.Exit(run())
}
