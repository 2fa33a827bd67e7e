// usersets saves the camera's settings to a user set, restores them and
// makes the set the one the camera boots with.  The emulated cameras keep
// their user sets in a database file, so a second run finds them again.
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

func run() error {
	path := os.Getenv("INSTACAM_USERSETS")
	if path == "" {
		path = "usersets.db"
	}
	store, err := emulator.NewBoltStore(path)
	if err != nil {
		return err
	}
	// the transport closes the store
	rt, err := tl.Initialize(emulator.New(emulator.Options{Count: 1, UserSets: store}))
	if err != nil {
		store.Close()
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
	nm := cam.NodeMap()

	// older cameras name the boot set selector differently
	defaultNode := "UserSetDefault"
	if cam.SfncVersion().Less(instant.Sfnc2_0_0) {
		defaultNode = "UserSetDefaultSelector"
	}
	boot := nm.Enum(defaultNode)
	old, err := boot.Value()
	if err != nil {
		return err
	}
	fmt.Println("Camera boots with user set", old)

	sel := nm.Enum("UserSetSelector")
	width := nm.Integer("Width")
	w, _ := width.Value()
	fmt.Println("Width in the factory settings:", w)

	// start from the factory settings, change one feature and keep it
	if err := sel.SetValue("Default"); err != nil {
		return err
	}
	if err := nm.Command("UserSetLoad").Execute(); err != nil {
		return err
	}
	if err := width.SetValueCorrected(w/2, genicam.Down); err != nil {
		return err
	}
	if err := sel.SetValue("UserSet1"); err != nil {
		return err
	}
	if err := nm.Command("UserSetSave").Execute(); err != nil {
		return err
	}
	saved, _ := width.Value()
	fmt.Println("Width saved to UserSet1:", saved)

	// go back to the factory settings, then load the set again
	if err := sel.SetValue("Default"); err != nil {
		return err
	}
	if err := nm.Command("UserSetLoad").Execute(); err != nil {
		return err
	}
	w, _ = width.Value()
	fmt.Println("Width after loading Default:", w)
	if err := sel.SetValue("UserSet1"); err != nil {
		return err
	}
	if err := nm.Command("UserSetLoad").Execute(); err != nil {
		return err
	}
	w, _ = width.Value()
	fmt.Println("Width after loading UserSet1:", w)

	if err := boot.SetValue("UserSet1"); err != nil {
		return err
	}
	fmt.Println("Camera now boots with UserSet1, settings stored in", path)
	return nil
}

func main() {
	util.Exit(run())
}
