// deviceremoval detects that a camera was unplugged while grabbing, then
// waits for it to come back and reconnects.  The emulated camera is pulled
// and replugged by the program itself.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

// loopCounterInitialValue bounds the time spent waiting for the removal
const loopCounterInitialValue = 600

func spinner(msg string) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
}

func run() error {
	tr := emulator.New(emulator.Options{Count: util.EnvInt("INSTACAM_CAMEMU", 1)})
	rt, err := tl.Initialize(tr)
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
	serial := cam.DeviceInfo().SerialNumber

	cam.RegisterConfiguration(instant.ConfigurationEventPrinter(os.Stdout), dispatch.Append, dispatch.RegistryOwns)
	removed := make(chan struct{}, 1)
	cam.RegisterConfiguration(&instant.ConfigurationHandler{
		OnCameraDeviceRemoved: func(c *instant.Camera) error {
			fmt.Println("OnCameraDeviceRemoved called.")
			select {
			case removed <- struct{}{}:
			default:
			}
			return nil
		},
	}, dispatch.Append, dispatch.RegistryOwns)

	if err := cam.Open(); err != nil {
		return err
	}
	// a short heartbeat makes a GigE camera notice the removal quickly
	if hb := cam.TLNodeMap().Integer("HeartbeatTimeout"); hb.IsWritable() {
		if err := hb.SetValueCorrected(1000, genicam.Nearest); err != nil {
			return err
		}
	}

	if err := cam.StartGrabbing(instant.GrabOptions{Loop: instant.GrabLoopProvidedByInstantCamera}); err != nil {
		return err
	}

	sp, err := spinner("Please disconnect the device")
	if err != nil {
		return err
	}
	sp.Start()
	go func() {
		time.Sleep(500 * time.Millisecond)
		tr.Remove(serial)
	}()
	loop := loopCounterInitialValue
	for ; loop > 0 && !cam.IsCameraDeviceRemoved(); loop-- {
		time.Sleep(10 * time.Millisecond)
	}
	if !cam.IsCameraDeviceRemoved() {
		sp.StopFailMessage("timed out waiting for the removal")
		sp.StopFail()
		return errors.New("the device was not removed")
	}
	select {
	case <-removed:
	case <-time.After(time.Second):
	}
	sp.StopMessage("The camera has been removed from the computer.")
	sp.Stop()

	if cam.IsGrabbing() {
		return errors.New("a removed camera is still grabbing")
	}
	if _, err := cam.NodeMap().Integer("Width").Value(); errors.Is(err, camera.ErrDeviceRemoved) {
		fmt.Println("Feature access fails as expected:", err)
	}

	sp, err = spinner("Waiting for the device to come back")
	if err != nil {
		return err
	}
	sp.Start()
	go func() {
		time.Sleep(time.Second)
		tr.Replug(serial)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = cam.Reconnect(ctx, rt, instant.ReconnectOptions{
		Notify: func(err error, next time.Duration) {
			sp.Message(fmt.Sprintf("not found, retrying in %v", next.Round(time.Millisecond)))
		},
	})
	if err != nil {
		sp.StopFailMessage(err.Error())
		sp.StopFail()
		return err
	}
	sp.StopMessage("Reconnected to " + cam.DeviceInfo().String())
	sp.Stop()

	res, err := cam.GrabOne(5*time.Second, instant.TimeoutError)
	if err != nil {
		return err
	}
	fmt.Println("Grabbed block", res.BlockID(), "after reconnecting")
	res.Release()
	return nil
}

func main() {
	util.Exit(run())
}
