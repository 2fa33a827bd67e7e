// actioncommand triggers several GigE cameras at the same moment with an
// action command broadcast on their subnet.
package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

const maxCamerasToUse = 4

func run() error {
	tr := emulator.New(emulator.Options{Count: util.EnvInt("INSTACAM_CAMEMU", 2)})
	rt, err := tl.Initialize(tr)
	if err != nil {
		return err
	}
	defer rt.Terminate()

	cams, err := instant.NewArrayFromRuntime(rt, maxCamerasToUse, camera.DeviceInfo{DeviceClass: camera.ClassGigE})
	if err != nil {
		return err
	}
	defer cams.DestroyDevice()
	fmt.Println(cams)

	// every camera shares the device and group key, each owns one bit of the mask
	deviceKey := rand.Uint32()
	groupKey := uint32(0x112233)
	indices := make([]int, cams.Len())
	for i := 0; i < cams.Len(); i++ {
		indices[i] = i
		cams.At(i).RegisterConfiguration(
			instant.ActionTriggerConfiguration(deviceKey, groupKey, util.BitMask(i)),
			dispatch.ReplaceAll, dispatch.RegistryOwns)
	}
	if err := cams.Open(); err != nil {
		return err
	}
	subnet := cams.At(0).DeviceInfo().SubnetAddress

	if err := cams.StartGrabbing(instant.GrabOptions{}); err != nil {
		return err
	}
	defer cams.StopGrabbing()

	mask := util.BitMask(indices...)
	fmt.Printf("Issuing action command to %d cameras (group mask %#x)\n", cams.Len(), mask)
	for i := 0; i < cams.Len(); i++ {
		fmt.Printf("  camera %d in group: %v\n", i, util.GetBit(mask, uint(i)))
	}
	if err := rt.IssueActionCommand(deviceKey, groupKey, camera.AllGroupMask, subnet); err != nil {
		return err
	}

	for i := 0; i < cams.Len(); i++ {
		res, err := cams.RetrieveResult(5*time.Second, instant.TimeoutError)
		if err != nil {
			return err
		}
		ctx := res.CameraContext()
		info := cams.At(ctx).DeviceInfo()
		fmt.Printf("Image from camera %d (%s, %s)\n", ctx, info.ModelName, info.IPAddress)
		if res.GrabSucceeded() {
			fmt.Println("SizeX:", res.Width())
			fmt.Println("SizeY:", res.Height())
			fmt.Println("TimeStamp:", res.TimeStamp())
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
