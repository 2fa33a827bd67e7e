package instant

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/instacam/camera"
	"github.com/nasa-jpl/instacam/dispatch"
	"github.com/nasa-jpl/instacam/emulator"
	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/tl"
)

func newArray(t *testing.T, n int) (*Array, *emulator.Transport) {
	t.Helper()
	tr := newTransport(t, emulator.Options{Count: n})
	rt, err := tl.Initialize(tr)
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewArrayFromRuntime(rt, n)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < a.Len(); i++ {
		a.At(i).SetLogger(nil)
		a.At(i).RegisterConfiguration(SoftwareTriggerConfiguration(), dispatch.ReplaceAll, dispatch.RegistryOwns)
	}
	t.Cleanup(func() {
		a.DestroyDevice()
		rt.Terminate()
	})
	return a, tr
}

func pending(a *Array) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.arrivals)
}

func TestArrayFromRuntime(t *testing.T) {
	a, _ := newArray(t, 3)
	if a.Len() != 3 {
		t.Fatalf("%d cameras", a.Len())
	}
	for i := 0; i < a.Len(); i++ {
		if got := a.At(i).CameraContext(); got != i {
			t.Errorf("camera %d has context %d", i, got)
		}
	}
	if a.At(0).DeviceInfo().SerialNumber == a.At(1).DeviceInfo().SerialNumber {
		t.Error("two cameras share a device")
	}
}

func TestArrayResultsInArrivalOrder(t *testing.T) {
	a, _ := newArray(t, 3)
	if err := a.Open(); err != nil {
		t.Fatal(err)
	}
	if err := a.StartGrabbing(GrabOptions{}); err != nil {
		t.Fatal(err)
	}
	if !a.IsGrabbing() {
		t.Fatal("array is not grabbing")
	}
	order := []int{2, 0, 1, 0}
	for k, i := range order {
		trigger(t, a.At(i))
		waitFor(t, "the result to arrive", func() bool { return pending(a) == k+1 })
	}
	var got []int
	for range order {
		r, err := a.RetrieveResult(time.Second, TimeoutError)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, r.CameraContext())
		r.Release()
	}
	if diff := cmp.Diff(order, got); diff != "" {
		t.Errorf("camera contexts (-want +got):\n%s", diff)
	}

	r, err := a.RetrieveResult(20*time.Millisecond, TimeoutReturn)
	if r != nil || err != nil {
		t.Errorf("idle array gave %v, %v", r, err)
	}
	if _, err := a.RetrieveResult(20*time.Millisecond, TimeoutError); !errors.Is(err, camera.ErrTimeout) {
		t.Errorf("TimeoutError gave %v", err)
	}

	if err := a.StopGrabbing(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.RetrieveResult(0, TimeoutReturn); !errors.Is(err, camera.ErrNotGrabbing) {
		t.Errorf("retrieving from a stopped array gave %v", err)
	}
}

func TestArrayLatestImageOnly(t *testing.T) {
	a, _ := newArray(t, 2)
	if err := a.StartGrabbing(GrabOptions{Strategy: grab.LatestImageOnly}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		trigger(t, a.At(0))
	}
	waitFor(t, "two skipped images", func() bool { return a.At(0).Stats().Skipped == 2 })
	trigger(t, a.At(1))
	waitFor(t, "two results", func() bool { return pending(a) == 2 })

	r, err := a.RetrieveResult(time.Second, TimeoutError)
	if err != nil {
		t.Fatal(err)
	}
	if r.CameraContext() != 0 || r.BlockID() != 3 || r.NumberOfSkippedImages() != 2 {
		t.Errorf("first result: camera %d block %d skipped %d", r.CameraContext(), r.BlockID(), r.NumberOfSkippedImages())
	}
	r.Release()
	r, err = a.RetrieveResult(time.Second, TimeoutError)
	if err != nil {
		t.Fatal(err)
	}
	if r.CameraContext() != 1 {
		t.Errorf("second result from camera %d", r.CameraContext())
	}
	r.Release()
}

func TestArrayRefusesUpcomingImage(t *testing.T) {
	a, _ := newArray(t, 2)
	if err := a.StartGrabbing(GrabOptions{Strategy: grab.UpcomingImage}); !errors.Is(err, camera.ErrNotSupported) {
		t.Errorf("StartGrabbing returned %v", err)
	}
	if a.IsGrabbing() {
		t.Error("array is grabbing")
	}
}

func TestArrayReportsRemoval(t *testing.T) {
	a, tr := newArray(t, 2)
	if err := a.StartGrabbing(GrabOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := tr.Remove(a.At(1).DeviceInfo().SerialNumber); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "removal", func() bool { return a.At(1).State() == Removed })
	if _, err := a.RetrieveResult(time.Second, TimeoutError); !errors.Is(err, camera.ErrDeviceRemoved) {
		t.Errorf("RetrieveResult returned %v", err)
	}
	// the other camera carries on
	trigger(t, a.At(0))
	r, err := a.RetrieveResult(time.Second, TimeoutError)
	if err != nil {
		t.Fatal(err)
	}
	if r.CameraContext() != 0 {
		t.Errorf("result from camera %d", r.CameraContext())
	}
	r.Release()
}

func TestActionCommandTriggersArray(t *testing.T) {
	tr := newTransport(t, emulator.Options{Count: 2})
	rt, err := tl.Initialize(tr)
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Terminate()
	a, err := NewArrayFromRuntime(rt, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer a.DestroyDevice()
	for i := 0; i < a.Len(); i++ {
		a.At(i).SetLogger(nil)
		a.At(i).RegisterConfiguration(ActionTriggerConfiguration(4711, 1, 0xffffffff), dispatch.ReplaceAll, dispatch.RegistryOwns)
	}
	if err := a.StartGrabbing(GrabOptions{}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < a.Len(); i++ {
		if _, err := a.At(i).WaitForFrameTriggerReady(time.Second, TimeoutError); err != nil {
			t.Fatal(err)
		}
	}
	if err := rt.IssueActionCommand(4711, 1, 0xffffffff, ""); err != nil {
		t.Fatal(err)
	}
	seen := map[int]bool{}
	for i := 0; i < a.Len(); i++ {
		r, err := a.RetrieveResult(time.Second, TimeoutError)
		if err != nil {
			t.Fatal(err)
		}
		seen[r.CameraContext()] = true
		r.Release()
	}
	if diff := cmp.Diff(map[int]bool{0: true, 1: true}, seen); diff != "" {
		t.Errorf("cameras triggered (-want +got):\n%s", diff)
	}
}
