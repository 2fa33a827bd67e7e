package emulator

import (
	"encoding/binary"

	"github.com/nasa-jpl/instacam/pfnc"
)

// render draws a test image into dst, which is exactly one payload long.
//
// Off draws a gradient that scrolls one pixel per frame, Testimage1 a fixed
// horizontal ramp and Testimage2 a diagonal ramp that moves with the frame
// counter.  Bayer formats carry the mono pattern, so a demosaic of them is
// gray.  Multi-byte samples are little endian and scaled to the format's
// valid bits.
func render(dst []byte, w, h int, pf pfnc.PixelFormat, pattern string, frame uint64, brightness float64) {
	bpp := pf.BytesPerPixel()
	ch := pf.Channels()
	maxVal := float64(uint32(1)<<uint(pf.ValidBits()) - 1)
	sample := func(x, y, c int) float64 {
		var v float64
		switch pattern {
		case "Testimage1":
			v = float64(x) / float64(w)
		case "Testimage2":
			v = float64((x+y+int(frame))%256) / 256
		default:
			v = float64((y+int(frame))%h) / float64(h)
		}
		// color formats get a different ramp per channel
		if ch > 1 {
			v = float64((int(v*255)+85*c)%256) / 256
		}
		v *= brightness
		if v > 1 {
			v = 1
		}
		return v * maxVal
	}

	i := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case ch == 1 && bpp == 1:
				dst[i] = byte(sample(x, y, 0))
				i++
			case ch == 1:
				binary.LittleEndian.PutUint16(dst[i:], uint16(sample(x, y, 0)))
				i += 2
			default:
				for c := 0; c < ch; c++ {
					dst[i+c] = byte(sample(x, y, c))
				}
				i += bpp
			}
		}
	}
}
