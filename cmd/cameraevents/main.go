// cameraevents receives exposure end and overrun events from the camera.
// One handler serves several nodes, told apart by the user ID given at
// registration.  The event data nodes are named differently before SFNC 2.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

// user IDs telling the events apart
const (
	eventExposureEnd           = 100
	eventFrameStartOvertrigger = 200
)

const countOfImagesToGrab = 5

// sampleCameraEventHandler prints the events it is registered for
func sampleCameraEventHandler() *instant.CameraEventHandler {
	return &instant.CameraEventHandler{
		OnCameraEvent: func(c *instant.Camera, userID int, node string) error {
			fmt.Printf("OnCameraEvent event for device %s\n", c.DeviceInfo().ModelName)
			switch userID {
			case eventExposureEnd:
				v, err := c.NodeMap().ValueString(node)
				if err != nil {
					return err
				}
				fmt.Println("Exposure End event. FrameID:", v)
			case eventFrameStartOvertrigger:
				fmt.Println("Event overrun on", node)
			}
			return nil
		},
	}
}

func run() error {
	sfnc := "2.0.0"
	if util.EnvBool("INSTACAM_SFNC1") {
		sfnc = "1.5.0"
	}
	tr := emulator.New(emulator.Options{Count: util.EnvInt("INSTACAM_CAMEMU", 1), SfncVersion: sfnc})
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

	cam.RegisterConfiguration(instant.SoftwareTriggerConfiguration(), dispatch.ReplaceAll, dispatch.RegistryOwns)
	cam.RegisterConfiguration(instant.ConfigurationEventPrinter(os.Stdout), dispatch.Append, dispatch.RegistryOwns)
	cam.RegisterImageEventHandler(instant.ImageEventPrinter(os.Stdout), dispatch.Append, dispatch.RegistryOwns)
	if err := cam.Open(); err != nil {
		return err
	}

	handler := sampleCameraEventHandler()
	printer := instant.CameraEventPrinter(os.Stdout)
	var frameID, overrun string
	if cam.SfncVersion().Less(instant.Version{Major: 2}) {
		frameID = "ExposureEndEventFrameID"
		overrun = "EventOverrunEventFrameID"
	} else {
		frameID = "EventExposureEndFrameID"
	}
	cam.RegisterCameraEventHandler(handler, frameID, eventExposureEnd, dispatch.ReplaceAll, dispatch.CallerOwns)
	cam.RegisterCameraEventHandler(printer, frameID, eventExposureEnd, dispatch.Append, dispatch.RegistryOwns)
	if overrun != "" {
		cam.RegisterCameraEventHandler(handler, overrun, eventFrameStartOvertrigger, dispatch.Append, dispatch.CallerOwns)
	}

	nm := cam.NodeMap()
	events := []string{emulator.EventExposureEnd}
	if overrun != "" {
		events = append(events, emulator.EventOverrun)
	}
	for _, ev := range events {
		if err := nm.Enum("EventSelector").SetValue(ev); err != nil {
			return err
		}
		if ok, err := nm.Enum("EventNotification").TrySetValue("On", "GenICamEvent"); err != nil || !ok {
			return fmt.Errorf("enabling %s events: %v", ev, err)
		}
	}

	err = cam.StartGrabbing(instant.GrabOptions{Strategy: grab.OneByOne, MaxImages: countOfImagesToGrab})
	if err != nil {
		return err
	}
	for cam.IsGrabbing() {
		if ok, err := cam.WaitForFrameTriggerReady(time.Second, instant.TimeoutError); err != nil {
			return err
		} else if ok {
			if err := cam.ExecuteSoftwareTrigger(); err != nil {
				return err
			}
		}
		res, err := cam.RetrieveResult(5*time.Second, instant.TimeoutError)
		if err != nil {
			return err
		}
		res.Release()
	}

	// events are delivered asynchronously
	time.Sleep(100 * time.Millisecond)
	for _, ev := range events {
		nm.Enum("EventSelector").SetValue(ev)
		nm.Enum("EventNotification").SetValue("Off")
	}
	cam.DeregisterCameraEventHandler(handler, frameID)
	return nil
}

func main() {
	util.Exit(run())
}
