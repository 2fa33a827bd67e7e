// grabstrategies shows how each grab strategy fills the output queue.
// Images are triggered by software so that it is known how many frames the
// camera has taken when results are retrieved.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

// triggerImages takes n images, waiting for the camera to be ready for each
func triggerImages(cam *instant.Camera, n int) error {
	for i := 0; i < n; i++ {
		if _, err := cam.WaitForFrameTriggerReady(time.Second, instant.TimeoutError); err != nil {
			return err
		}
		if err := cam.ExecuteSoftwareTrigger(); err != nil {
			return err
		}
	}
	// let the last frame reach the output queue
	time.Sleep(50 * time.Millisecond)
	return nil
}

// drain retrieves every waiting result
func drain(cam *instant.Camera) (int, error) {
	n := 0
	for {
		res, err := cam.RetrieveResult(0, instant.TimeoutReturn)
		if err != nil || res == nil {
			return n, err
		}
		n++
		res.Release()
	}
}

func oneByOne(cam *instant.Camera) error {
	fmt.Println("Grab using the GrabStrategy_OneByOne default strategy:")
	if err := cam.StartGrabbing(instant.GrabOptions{Strategy: grab.OneByOne}); err != nil {
		return err
	}
	defer cam.StopGrabbing()
	if err := triggerImages(cam, 3); err != nil {
		return err
	}
	fmt.Println("Results waiting:", cam.Stats().Queued)
	n, err := drain(cam)
	fmt.Printf("Retrieved %d grab results from the output queue.\n\n", n)
	return err
}

func latestImageOnly(cam *instant.Camera) error {
	fmt.Println("Grab using strategy GrabStrategy_LatestImageOnly:")
	if err := cam.StartGrabbing(instant.GrabOptions{Strategy: grab.LatestImageOnly}); err != nil {
		return err
	}
	defer cam.StopGrabbing()
	if err := triggerImages(cam, 3); err != nil {
		return err
	}
	// only the last image is kept, the others were skipped
	fmt.Println("A grab result waits in the output queue:", cam.Stats().Queued == 1)
	res, err := cam.RetrieveResult(0, instant.TimeoutError)
	if err != nil {
		return err
	}
	fmt.Printf("Skipped %d images.\n\n", res.NumberOfSkippedImages())
	res.Release()
	return nil
}

func latestImages(cam *instant.Camera) error {
	fmt.Println("Grab using strategy GrabStrategy_LatestImages:")
	if err := cam.SetOutputQueueSize(2); err != nil {
		return err
	}
	if err := cam.StartGrabbing(instant.GrabOptions{Strategy: grab.LatestImages}); err != nil {
		return err
	}
	defer cam.StopGrabbing()
	if err := triggerImages(cam, 3); err != nil {
		return err
	}
	first := true
	for {
		res, err := cam.RetrieveResult(0, instant.TimeoutReturn)
		if err != nil {
			return err
		}
		if res == nil {
			break
		}
		if first {
			fmt.Printf("Skipped %d image.\n", res.NumberOfSkippedImages())
			first = false
		}
		fmt.Println("Retrieved block", res.BlockID())
		res.Release()
	}

	// with an output queue size of 1 the strategy behaves like
	// LatestImageOnly; the size can be changed while grabbing
	if err := cam.SetOutputQueueSize(1); err != nil {
		return err
	}
	if err := triggerImages(cam, 2); err != nil {
		return err
	}
	res, err := cam.RetrieveResult(0, instant.TimeoutError)
	if err != nil {
		return err
	}
	fmt.Printf("Output queue size 1: skipped %d images.\n\n", res.NumberOfSkippedImages())
	res.Release()
	return nil
}

func upcomingImage(cam *instant.Camera) error {
	fmt.Println("Grab using the GrabStrategy_UpcomingImage strategy:")
	// the upcoming image strategy needs a free running camera: a buffer is
	// queued by each RetrieveResult call
	if err := cam.Close(); err != nil {
		return err
	}
	cam.RegisterConfiguration(instant.AcquireContinuousConfiguration(), dispatch.ReplaceAll, dispatch.RegistryOwns)
	err := cam.StartGrabbing(instant.GrabOptions{Strategy: grab.UpcomingImage})
	if err != nil {
		return err
	}
	defer cam.StopGrabbing()
	time.Sleep(50 * time.Millisecond)
	fmt.Println("Nothing grabbed before the request:", cam.Stats().Queued == 0)
	res, err := cam.RetrieveResult(5*time.Second, instant.TimeoutError)
	if err != nil {
		return err
	}
	fmt.Println("Retrieved the upcoming image, block", res.BlockID())
	res.Release()
	return nil
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

	cam.RegisterConfiguration(instant.SoftwareTriggerConfiguration(), dispatch.ReplaceAll, dispatch.RegistryOwns)
	cam.RegisterConfiguration(instant.ConfigurationEventPrinter(os.Stdout), dispatch.Append, dispatch.RegistryOwns)
	cam.RegisterImageEventHandler(instant.ImageEventPrinter(os.Stdout), dispatch.Append, dispatch.RegistryOwns)

	if err := cam.Open(); err != nil {
		return err
	}
	fmt.Println("Using device", cam.DeviceInfo().ModelName)
	if err := cam.SetMaxNumBuffer(15); err != nil {
		return err
	}
	if !cam.CanWaitForFrameTriggerReady() {
		return fmt.Errorf("this sample can only be used with cameras that can be queried whether they are ready to accept the next frame trigger")
	}

	for _, demo := range []func(*instant.Camera) error{oneByOne, latestImageOnly, latestImages} {
		if err := demo(cam); err != nil {
			return err
		}
	}
	if cam.IsUSB() {
		fmt.Println("GrabStrategy_UpcomingImage is not supported by USB cameras:",
			cam.StartGrabbing(instant.GrabOptions{Strategy: grab.UpcomingImage}) != nil)
		return nil
	}
	if err := upcomingImage(cam); err != nil && err != camera.ErrNotSupported {
		return err
	}
	return nil
}

func main() {
	util.Exit(run())
}
