// multiplecameras grabs from several cameras at once through a camera
// array.  Results come back in the order they arrived, tagged with the
// camera context of the camera that took them.
package main

import (
	"fmt"
	"time"

	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

const (
	countOfImagesToGrab = 10

	// maxCamerasToUse limits the number of cameras used for grabbing
	maxCamerasToUse = 2
)

func run() error {
	tr := emulator.New(emulator.Options{Count: util.EnvInt("INSTACAM_CAMEMU", 2)})
	rt, err := tl.Initialize(tr)
	if err != nil {
		return err
	}
	defer rt.Terminate()

	cams, err := instant.NewArrayFromRuntime(rt, maxCamerasToUse)
	if err != nil {
		return err
	}
	defer cams.DestroyDevice()
	fmt.Println(cams)

	if err := cams.StartGrabbing(instant.GrabOptions{}); err != nil {
		return err
	}
	defer cams.StopGrabbing()

	seen := make([]int, cams.Len())
	for i := 0; i < countOfImagesToGrab && cams.IsGrabbing(); i++ {
		res, err := cams.RetrieveResult(5*time.Second, instant.TimeoutError)
		if err != nil {
			return err
		}
		ctx := res.CameraContext()
		seen[ctx]++
		fmt.Println("Using device", cams.At(ctx).DeviceInfo().ModelName, cams.At(ctx).DeviceInfo().SerialNumber)
		if res.GrabSucceeded() {
			fmt.Println("GrabSucceeded:", res.GrabSucceeded())
			fmt.Println("SizeX:", res.Width())
			fmt.Println("SizeY:", res.Height())
			if buf := res.Buffer(); len(buf) > 0 {
				fmt.Println("Gray value of first pixel:", buf[0])
			}
		} else {
			fmt.Printf("Error: %#x %s\n", res.ErrorCode(), res.ErrorDescription())
		}
		fmt.Println()
		res.Release()
	}
	fmt.Println("Images per camera:", util.IntSliceToCSV(seen))
	return nil
}

func main() {
	util.Exit(run())
}
