// imageconverter grabs one color image and converts it for display and
// storage: RGB8 for a PNG and Mono8 next to the raw frame in a FITS file.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/imgconv"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/pfnc"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

func run() error {
	rt, err := tl.Initialize(emulator.New(emulator.Options{
		Count:        1,
		PixelFormats: []pfnc.PixelFormat{pfnc.BayerRG8, pfnc.Mono8},
	}))
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

	res, err := cam.GrabOne(5*time.Second, instant.TimeoutError)
	if err != nil {
		return err
	}
	defer res.Release()
	if !res.GrabSucceeded() {
		return fmt.Errorf("grab failed: %#x %s", res.ErrorCode(), res.ErrorDescription())
	}
	fmt.Printf("Grabbed %dx%d %s\n", res.Width(), res.Height(), res.PixelFormat())

	color := imgconv.Converter{OutputPixelFormat: pfnc.RGB8}
	if !color.IsSupportedInputFormat(res.PixelFormat()) {
		return fmt.Errorf("%w: %s", imgconv.ErrUnsupportedFormat, res.PixelFormat())
	}
	rgb, err := color.ConvertResult(res)
	if err != nil {
		return err
	}
	if err := imgconv.SaveImage("GrabbedImage.png", rgb); err != nil {
		return err
	}
	fmt.Println("Saved GrabbedImage.png")

	raw, err := imgconv.FromResult(res)
	if err != nil {
		return err
	}
	mono, err := imgconv.Converter{}.Convert(raw)
	if err != nil {
		return err
	}
	f, err := os.Create("GrabbedImage.fits")
	if err != nil {
		return err
	}
	defer f.Close()
	cards := append(imgconv.ResultCards(res), fitsio.Card{Name: "INSTRUME", Value: cam.DeviceInfo().ModelName})
	if err := imgconv.WriteFITS(f, cards, mono, rgb); err != nil {
		return err
	}
	fmt.Println("Saved GrabbedImage.fits")
	return f.Close()
}

func main() {
	util.Exit(run())
}
