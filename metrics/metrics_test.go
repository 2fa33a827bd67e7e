package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/instant"
)

func TestCollector(t *testing.T) {
	tr := emulator.New(emulator.Options{SensorWidth: 32, SensorHeight: 32})
	defer tr.Close()
	dev, err := tr.CreateDevice(camera.DeviceInfo{SerialNumber: "0815-0000"})
	if err != nil {
		t.Fatal(err)
	}
	cam, err := instant.NewWithDevice(dev)
	if err != nil {
		t.Fatal(err)
	}
	cam.SetLogger(nil)
	defer cam.Destroy()

	col := NewCollector(cam, instant.New())
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(col); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		r, err := cam.GrabOne(time.Second, instant.TimeoutError)
		if err != nil {
			t.Fatal(err)
		}
		r.Release()
	}

	want := `
# HELP instacam_camera_retrieved_total Grab results handed to the consumer.
# TYPE instacam_camera_retrieved_total counter
instacam_camera_retrieved_total{model="Emulation",serial="0815-0000"} 2
# HELP instacam_camera_grabbing 1 while the camera is grabbing.
# TYPE instacam_camera_grabbing gauge
instacam_camera_grabbing{model="Emulation",serial="0815-0000"} 0
# HELP instacam_camera_device_removed 1 if the attached device was unplugged.
# TYPE instacam_camera_device_removed gauge
instacam_camera_device_removed{model="Emulation",serial="0815-0000"} 0
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(want),
		"instacam_camera_retrieved_total", "instacam_camera_grabbing", "instacam_camera_device_removed")
	if err != nil {
		t.Error(err)
	}

	// the detached camera is not reported
	if n := testutil.CollectAndCount(col, "instacam_camera_grabbing"); n != 1 {
		t.Errorf("%d grabbing series, want 1", n)
	}
	col.Remove(cam)
	if n := testutil.CollectAndCount(col); n != 0 {
		t.Errorf("%d series after removing the camera", n)
	}
}
