package pfnc

import (
	"fmt"
	"testing"
)

func ExamplePixelFormat_BytesPerPixel() {
	fmt.Println(Mono8.BytesPerPixel(), Mono12.BytesPerPixel(), RGB8.BytesPerPixel(), BGRa8.BytesPerPixel())
	// Output: 1 2 3 4
}

func TestParseRoundTrips(t *testing.T) {
	for _, p := range Known() {
		got, err := Parse(p.String())
		if err != nil {
			t.Fatal(err)
		}
		if got != p {
			t.Errorf("expected %v got %v", p, got)
		}
	}
	if _, err := Parse("mono8"); err != nil {
		t.Errorf("expected case insensitive parse, got %v", err)
	}
	if _, err := Parse("YUV422"); err == nil {
		t.Error("expected unknown format to fail")
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		p                     PixelFormat
		mono, bayer, color    bool
		channels, valid, size int
	}{
		{Mono8, true, false, false, 1, 8, 12},
		{Mono16, true, false, false, 1, 16, 24},
		{BayerRG8, false, true, true, 1, 8, 12},
		{RGB8, false, false, true, 3, 8, 36},
	}
	for _, tt := range tests {
		if tt.p.IsMono() != tt.mono || tt.p.IsBayer() != tt.bayer || tt.p.IsColor() != tt.color {
			t.Errorf("%v: wrong classification", tt.p)
		}
		if tt.p.Channels() != tt.channels {
			t.Errorf("%v: expected %d channels got %d", tt.p, tt.channels, tt.p.Channels())
		}
		if tt.p.ValidBits() != tt.valid {
			t.Errorf("%v: expected %d valid bits got %d", tt.p, tt.valid, tt.p.ValidBits())
		}
		if s := tt.p.ImageSize(4, 3); s != tt.size {
			t.Errorf("%v: expected 4x3 image of %d bytes, got %d", tt.p, tt.size, s)
		}
	}
}
