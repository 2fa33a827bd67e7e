package imgconv

import (
	"encoding/binary"
	"fmt"

	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/pfnc"
)

// BitAlignment places the significant bits of a mono sample that is
// widened to 16 bits
type BitAlignment int

const (
	// MsbAligned scales samples to the full 16 bit range
	MsbAligned BitAlignment = iota

	// LsbAligned keeps the camera's values, e.g. 0..4095 for Mono12
	LsbAligned
)

// Converter converts images to OutputPixelFormat.  The zero value converts
// to Mono8.  It is safe for concurrent use.
type Converter struct {
	OutputPixelFormat  pfnc.PixelFormat
	OutputBitAlignment BitAlignment
}

var outputs = map[pfnc.PixelFormat]bool{
	pfnc.Mono8: true, pfnc.Mono16: true, pfnc.RGB8: true, pfnc.BGR8: true, pfnc.RGBa8: true, pfnc.BGRa8: true,
}

func (c Converter) output() pfnc.PixelFormat {
	if c.OutputPixelFormat == pfnc.Undefined {
		return pfnc.Mono8
	}
	return c.OutputPixelFormat
}

// IsSupportedInputFormat reports whether images in pf can be converted
func (c Converter) IsSupportedInputFormat(pf pfnc.PixelFormat) bool {
	return pf.IsMono() || pf.IsBayer() || pf.Channels() >= 3
}

// IsSupportedOutputFormat reports whether pf can be produced
func (c Converter) IsSupportedOutputFormat(pf pfnc.PixelFormat) bool {
	return outputs[pf]
}

// ImageHasDestinationFormat reports whether im is already in the output
// format, so that converting it would only copy
func (c Converter) ImageHasDestinationFormat(im *Image) bool {
	return im.Format == c.output() && (c.OutputBitAlignment == MsbAligned || im.Format.ValidBits() == 16 || !im.Format.IsMono())
}

// ConvertResult converts the pixels of a grab result
func (c Converter) ConvertResult(r *grab.Result) (*Image, error) {
	im, err := FromResult(r)
	if err != nil {
		return nil, err
	}
	return c.Convert(im)
}

// Convert returns im in the output format.  The result never shares memory
// with im.
func (c Converter) Convert(im *Image) (*Image, error) {
	out := c.output()
	if !c.IsSupportedOutputFormat(out) {
		return nil, fmt.Errorf("%w: cannot convert to %s", ErrUnsupportedFormat, out)
	}
	if !c.IsSupportedInputFormat(im.Format) {
		return nil, fmt.Errorf("%w: cannot convert from %s", ErrUnsupportedFormat, im.Format)
	}
	if im.Format == out && c.ImageHasDestinationFormat(im) {
		return &Image{Width: im.Width, Height: im.Height, Format: out, Pix: append([]byte(nil), im.Packed()...)}, nil
	}

	dst := NewImage(im.Width, im.Height, out)
	px := c.sampler(im)
	bpp := out.BytesPerPixel()
	for y := 0; y < im.Height; y++ {
		row := dst.Row(y)
		for x := 0; x < im.Width; x++ {
			r, g, b := px(x, y)
			p := row[x*bpp:]
			switch out {
			case pfnc.Mono8:
				p[0] = byte(luma(r, g, b) >> 8)
			case pfnc.Mono16:
				v := luma(r, g, b)
				if c.OutputBitAlignment == LsbAligned && im.Format.IsMono() {
					v >>= uint(16 - im.Format.ValidBits())
				}
				binary.LittleEndian.PutUint16(p, v)
			case pfnc.RGB8, pfnc.RGBa8:
				p[0], p[1], p[2] = byte(r>>8), byte(g>>8), byte(b>>8)
			case pfnc.BGR8, pfnc.BGRa8:
				p[0], p[1], p[2] = byte(b>>8), byte(g>>8), byte(r>>8)
			}
		}
	}
	return dst, nil
}

// luma weighs color channels per ITU-R BT.601.  Gray input passes through.
func luma(r, g, b uint16) uint16 {
	if r == g && g == b {
		return r
	}
	return uint16((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

// sampler returns a function reading 16 bit RGB at x, y
func (c Converter) sampler(im *Image) func(x, y int) (r, g, b uint16) {
	switch {
	case im.Format.IsMono():
		return func(x, y int) (uint16, uint16, uint16) {
			v := im.gray16(x, y)
			return v, v, v
		}
	case im.Format.IsBayer():
		return bayerSampler(im)
	}
	bpp := im.Format.BytesPerPixel()
	bgr := im.Format == pfnc.BGR8 || im.Format == pfnc.BGRa8
	return func(x, y int) (uint16, uint16, uint16) {
		p := im.Row(y)[x*bpp:]
		r, g, b := p[0], p[1], p[2]
		if bgr {
			r, b = b, r
		}
		return widen(r), widen(g), widen(b)
	}
}

func widen(v byte) uint16 {
	return uint16(v)<<8 | uint16(v)
}

// bayer channel indices
const (
	red = iota
	green
	blue
)

// bayerOrigin gives the color of the top left pixel and of its right
// neighbour
func bayerOrigin(pf pfnc.PixelFormat) (first, second int) {
	switch pf {
	case pfnc.BayerRG8:
		return red, green
	case pfnc.BayerGR8:
		return green, red
	case pfnc.BayerBG8:
		return blue, green
	default: // GB
		return green, blue
	}
}

// bayerSampler demosaics by averaging the nearest samples of each color in
// the 3x3 neighbourhood
func bayerSampler(im *Image) func(x, y int) (uint16, uint16, uint16) {
	first, second := bayerOrigin(im.Format)
	colorAt := func(x, y int) int {
		even := y%2 == 0
		switch {
		case even && x%2 == 0:
			return first
		case even:
			return second
		}
		// odd rows swap in the remaining color: green where the even row
		// had red or blue, and the other of red/blue where it had green
		c := first
		if x%2 == 1 {
			c = second
		}
		if c == green {
			if first == red || second == red {
				return blue
			}
			return red
		}
		return green
	}
	return func(x, y int) (uint16, uint16, uint16) {
		var sum [3]uint32
		var n [3]uint32
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				xx, yy := x+dx, y+dy
				if xx < 0 || yy < 0 || xx >= im.Width || yy >= im.Height {
					continue
				}
				c := colorAt(xx, yy)
				sum[c] += uint32(im.Row(yy)[xx])
				n[c]++
			}
		}
		// the pixel's own color is exact
		own := colorAt(x, y)
		sum[own], n[own] = uint32(im.Row(y)[x]), 1
		var out [3]uint16
		for c := range out {
			if n[c] > 0 {
				out[c] = widen(byte(sum[c] / n[c]))
			}
		}
		return out[red], out[green], out[blue]
	}
}
