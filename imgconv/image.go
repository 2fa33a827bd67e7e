/*Package imgconv converts camera images between pixel formats and writes
them to disk.

An Image is a copy of a grab result's pixels that outlives the result.  A
Converter turns any supported input format (mono, Bayer, RGB, BGR) into
Mono8, Mono16, RGB8, BGR8, RGBa8, or BGRa8.  Images can be viewed as Go
image.Image values and encoded as PNG, JPEG, FITS, or raw bytes.
*/
package imgconv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/pfnc"
)

// ErrUnsupportedFormat is returned for pixel formats a function cannot handle
var ErrUnsupportedFormat = errors.New("unsupported pixel format")

// Image is a row-major image in a PFNC pixel format.  Multi-byte samples
// are little endian, as cameras deliver them.
type Image struct {
	Width, Height int

	// PaddingX is the number of unused bytes at the end of each row
	PaddingX int

	Format pfnc.PixelFormat
	Pix    []byte
}

// NewImage allocates a blank image
func NewImage(width, height int, pf pfnc.PixelFormat) *Image {
	return &Image{Width: width, Height: height, Format: pf, Pix: make([]byte, pf.ImageSize(width, height))}
}

// FromResult copies the pixels of a successful grab result
func FromResult(r *grab.Result) (*Image, error) {
	if !r.GrabSucceeded() {
		return nil, fmt.Errorf("grab result %d failed: %s", r.BlockID(), r.ErrorDescription())
	}
	im := &Image{
		Width:    r.Width(),
		Height:   r.Height(),
		PaddingX: r.PaddingX(),
		Format:   r.PixelFormat(),
	}
	buf := r.Buffer()
	if need := im.Stride() * im.Height; len(buf) < need {
		return nil, fmt.Errorf("grab result %d holds %d bytes, %dx%d %s needs %d",
			r.BlockID(), len(buf), im.Width, im.Height, im.Format, need)
	}
	im.Pix = append([]byte(nil), buf[:im.Stride()*im.Height]...)
	return im, nil
}

// Stride is the number of bytes from one row to the next
func (im *Image) Stride() int {
	return im.Width*im.Format.BytesPerPixel() + im.PaddingX
}

// Row returns the pixel bytes of row y, padding excluded
func (im *Image) Row(y int) []byte {
	off := y * im.Stride()
	return im.Pix[off : off+im.Width*im.Format.BytesPerPixel()]
}

// Packed returns the pixels without row padding
func (im *Image) Packed() []byte {
	if im.PaddingX == 0 {
		return im.Pix[:im.Format.ImageSize(im.Width, im.Height)]
	}
	out := make([]byte, 0, im.Format.ImageSize(im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		out = append(out, im.Row(y)...)
	}
	return out
}

// gray16 returns the sample at x, y of a mono image scaled to 16 bits
func (im *Image) gray16(x, y int) uint16 {
	row := im.Row(y)
	if im.Format.BytesPerPixel() == 1 {
		v := uint16(row[x])
		return v<<8 | v
	}
	v := binary.LittleEndian.Uint16(row[2*x:])
	return v << uint(16-im.Format.ValidBits())
}

// Go returns a copy of the image as a standard library image: *image.Gray
// for Mono8, *image.Gray16 for the deeper mono formats, and *image.RGBA for
// everything else.  Bayer images are demosaiced.
func (im *Image) Go() (image.Image, error) {
	rect := image.Rect(0, 0, im.Width, im.Height)
	switch {
	case im.Format == pfnc.Mono8:
		return &image.Gray{Pix: append([]byte(nil), im.Packed()...), Stride: im.Width, Rect: rect}, nil
	case im.Format.IsMono():
		out := image.NewGray16(rect)
		for y := 0; y < im.Height; y++ {
			for x := 0; x < im.Width; x++ {
				out.SetGray16(x, y, color.Gray16{Y: im.gray16(x, y)})
			}
		}
		return out, nil
	}
	rgb := im
	if im.Format != pfnc.RGBa8 {
		var err error
		rgb, err = Converter{OutputPixelFormat: pfnc.RGBa8}.Convert(im)
		if err != nil {
			return nil, err
		}
	}
	out := &image.RGBA{Pix: append([]byte(nil), rgb.Packed()...), Stride: 4 * im.Width, Rect: rect}
	// the alpha channel is unused by cameras
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out, nil
}
