// bufferfactory grabs with buffers whose memory comes from the caller
// instead of the camera.  The factory carves every buffer out of one slab
// and prints each allocation and release.
package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/instant"
	"github.com/nasa-jpl/instacam/tl"
	"github.com/nasa-jpl/instacam/util"
)

const (
	countOfImagesToGrab = 5
	maxNumBuffer        = 4
)

// slab hands out fixed slots of one allocation.  The slot is picked by the
// buffer id, which a pool keeps below its buffer count.
type slab struct {
	mu    sync.Mutex
	mem   []byte
	slot  int
	inUse map[int]bool
}

func (s *slab) AllocateBuffer(size, id int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem == nil || s.slot < size {
		if len(s.inUse) > 0 {
			return nil, fmt.Errorf("slab of %d byte slots is in use, cannot grow it to %d", s.slot, size)
		}
		s.slot = size
		s.mem = make([]byte, size*maxNumBuffer)
		s.inUse = map[int]bool{}
	}
	if id >= maxNumBuffer || s.inUse[id] {
		return nil, fmt.Errorf("no slot for buffer %d", id)
	}
	s.inUse[id] = true
	fmt.Printf("Created buffer %d, %d bytes\n", id, size)
	return s.mem[id*s.slot : id*s.slot+size : id*s.slot+size], nil
}

func (s *slab) FreeBuffer(data []byte, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inUse, id)
	fmt.Printf("Freed buffer %d, %d bytes\n", id, len(data))
}

func run() error {
	rt, err := tl.Initialize(emulator.New(emulator.Options{Count: util.EnvInt("INSTACAM_CAMEMU", 1)}))
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

	if err := cam.SetBufferFactory(&slab{}); err != nil {
		return err
	}
	if err := cam.SetMaxNumBuffer(maxNumBuffer); err != nil {
		return err
	}
	if err := cam.StartGrabbing(instant.GrabOptions{MaxImages: countOfImagesToGrab}); err != nil {
		return err
	}
	for cam.IsGrabbing() {
		res, err := cam.RetrieveResult(5*time.Second, instant.TimeoutError)
		if err != nil {
			return err
		}
		if res.GrabSucceeded() {
			fmt.Println("SizeX:", res.Width())
			fmt.Println("SizeY:", res.Height())
			fmt.Println("Gray value of first pixel:", res.Buffer()[0])
		} else {
			fmt.Println("Error:", res.ErrorCode(), res.ErrorDescription())
		}
		res.Release()
	}
	return nil
}

func main() {
	util.Exit(run())
}
