// grabloopthread hands grab results to image event handlers from the
// camera's own grab loop.  Type t and enter to trigger an image, e and enter
// to exit.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

// sampleImageHandler is called on the grab loop for every result
func sampleImageHandler() *instant.ImageEventHandler {
	return &instant.ImageEventHandler{
		OnImageGrabbed: func(c *instant.Camera, r *grab.Result) error {
			fmt.Println("OnImageGrabbed called.")
			return nil
		},
	}
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
	cam.RegisterImageEventHandler(sampleImageHandler(), dispatch.Append, dispatch.RegistryOwns)

	if err := cam.Open(); err != nil {
		return err
	}
	if !cam.CanWaitForFrameTriggerReady() {
		return fmt.Errorf("this sample can only be used with cameras that can be queried whether they are ready to accept the next frame trigger")
	}

	err = cam.StartGrabbing(instant.GrabOptions{Strategy: grab.OneByOne, Loop: instant.GrabLoopProvidedByInstantCamera})
	if err != nil {
		return err
	}
	defer cam.StopGrabbing()

	fmt.Println("Enter \"t\" to trigger the camera or \"e\" to exit and press enter? (t/e)")
	in := bufio.NewScanner(os.Stdin)
	if util.EnvBool("INSTACAM_NOWAIT") {
		in = bufio.NewScanner(strings.NewReader("t\nt\ne\n"))
	}
	for in.Scan() {
		switch strings.TrimSpace(in.Text()) {
		case "t", "T":
			// the camera may not be ready yet when keys are hit quickly
			ok, err := cam.WaitForFrameTriggerReady(time.Second, instant.TimeoutError)
			if err != nil {
				return err
			}
			if ok {
				if err := cam.ExecuteSoftwareTrigger(); err != nil {
					return err
				}
			}
		case "e", "E":
			// give the grab loop time to print the last image
			time.Sleep(100 * time.Millisecond)
			return nil
		}
	}
	return in.Err()
}

func main() {
	util.Exit(run())
}
