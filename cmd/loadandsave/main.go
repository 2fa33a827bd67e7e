// loadandsave writes the camera's features to a feature stream file and
// reads them back, checking every value written.
package main

import (
	"fmt"
	"os"

	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/genicam"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

// filename is the name of the feature stream file
const filename = "NodeMap.pfs"

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
	fmt.Println("Using device", cam.DeviceInfo().ModelName)
	if err := cam.Open(); err != nil {
		return err
	}

	fmt.Printf("Saving camera's node map to file %s...\n", filename)
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := genicam.Save(f, cam.NodeMap()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	// change something so the load has an effect
	width := cam.NodeMap().Integer("Width")
	if _, err := width.TrySetToMinimum(); err != nil {
		return err
	}
	w, _ := width.Value()
	fmt.Println("Width changed to", w)

	fmt.Printf("Reading file back to camera's node map...\n")
	f, err = os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := genicam.Load(f, cam.NodeMap(), true); err != nil {
		return err
	}
	w, _ = width.Value()
	fmt.Println("Width restored to", w)
	return cam.Close()
}

func main() {
	util.Exit(run())
}
