// grab demonstrates grabbing images in pull mode: the caller loops on
// RetrieveResult and releases every result it gets.
package main

import (
	"fmt"
	"time"

	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

// countOfImagesToGrab is the number of images to grab
const countOfImagesToGrab = 100

func run() error {
	tr := emulator.New(emulator.Options{Count: util.EnvInt("INSTACAM_CAMEMU", 1), FailEvery: 37})
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
	fmt.Println("Using device", cam.DeviceInfo().ModelName)

	// the parameter MaxNumBuffer can be used to control the count of buffers
	// allocated for grabbing
	if err := cam.SetMaxNumBuffer(5); err != nil {
		return err
	}

	// grabbing stops by itself after countOfImagesToGrab images
	err = cam.StartGrabbing(instant.GrabOptions{MaxImages: countOfImagesToGrab})
	if err != nil {
		return err
	}
	for cam.IsGrabbing() {
		res, err := cam.RetrieveResult(5*time.Second, instant.TimeoutError)
		if err != nil {
			return err
		}
		if res == nil {
			break
		}
		if res.GrabSucceeded() {
			fmt.Println("SizeX:", res.Width())
			fmt.Println("SizeY:", res.Height())
			if buf := res.Buffer(); len(buf) > 0 {
				fmt.Println("Gray value of first pixel:", buf[0])
			}
			fmt.Println()
		} else {
			fmt.Printf("Error: %#x %s\n", res.ErrorCode(), res.ErrorDescription())
		}
		res.Release()
	}
	return nil
}

func main() {
	util.Exit(run())
}
