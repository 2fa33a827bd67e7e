package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nasa-jpl/instacam/util"
)

func ExampleSetBit_msb() {
	out := util.SetBit(0, 7, true)
	fmt.Printf("%08b\n", out)
	// Output: 10000000
}

func ExampleSetBit_lsb() {
	out := util.SetBit(255, 0, false)
	fmt.Printf("%08b\n", out)
	// Output: 11111110
}

func ExampleBitMask() {
	fmt.Printf("%#x\n", util.BitMask(0, 2, 3))
	// Output: 0xd
}

func TestGetBit(t *testing.T) {
	if !util.GetBit(0b100, 2) || util.GetBit(0b100, 1) {
		t.Error("GetBit misread 0b100")
	}
}

func TestIntSliceToCSV(t *testing.T) {
	inp := []int{1, 2, 3}
	expected := "1,2,3"
	out := util.IntSliceToCSV(inp)
	if expected != out {
		t.Errorf("expected %s got %s", expected, out)
	}
}

func TestAllElementsNumbers(t *testing.T) {
	for s, want := range map[string]bool{"1.5": true, "25": true, "25ms": false, "": false, "-1": false} {
		if got := util.AllElementsNumbers(s); got != want {
			t.Errorf("AllElementsNumbers(%q) = %v", s, got)
		}
	}
}

func TestClamp(t *testing.T) {
	var got []float64
	for _, x := range []float64{-1, 0, 4.5, 10, 11} {
		got = append(got, util.Clamp(x, 0, 10))
	}
	if diff := cmp.Diff([]float64{0, 0, 4.5, 10, 10}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("INSTACAM_TEST_N", "3")
	if got := util.EnvInt("INSTACAM_TEST_N", 1); got != 3 {
		t.Errorf("got %d", got)
	}
	t.Setenv("INSTACAM_TEST_N", "three")
	if got := util.EnvInt("INSTACAM_TEST_N", 1); got != 1 {
		t.Errorf("malformed value gave %d", got)
	}
}
