package imgconv

import (
	"fmt"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"
	pkgerrors "github.com/pkg/errors"

	"github.com/nasa-jpl/instacam/grab"
	"github.com/nasa-jpl/instacam/pfnc"
)

// FileFormat is an on-disk image encoding
type FileFormat int

const (
	// Raw is the packed pixel bytes with no header
	Raw FileFormat = iota
	PNG
	JPEG
	FITS
)

func (f FileFormat) String() string {
	switch f {
	case Raw:
		return "raw"
	case PNG:
		return "png"
	case JPEG:
		return "jpg"
	case FITS:
		return "fits"
	}
	return fmt.Sprintf("FileFormat(%d)", int(f))
}

// ParseFileFormat accepts a file extension or format name, with or without
// the dot
func ParseFileFormat(s string) (FileFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "raw", "bin":
		return Raw, nil
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "fits", "fit", "fts":
		return FITS, nil
	}
	return Raw, fmt.Errorf("unknown image file format %q", s)
}

// JPEGQuality is used by Encode for JPEG output
var JPEGQuality = 90

// Encode writes im to w in format f
func Encode(w io.Writer, im *Image, f FileFormat) error {
	switch f {
	case Raw:
		_, err := w.Write(im.Packed())
		return err
	case FITS:
		return WriteFITS(w, nil, im)
	case PNG, JPEG:
		g, err := im.Go()
		if err != nil {
			return err
		}
		if f == PNG {
			return png.Encode(w, g)
		}
		return jpeg.Encode(w, g, &jpeg.Options{Quality: JPEGQuality})
	}
	return fmt.Errorf("unknown image file format %v", f)
}

// SaveImage writes im to path in the format given by the file extension
func SaveImage(path string, im *Image) error {
	f, err := ParseFileFormat(filepath.Ext(path))
	if err != nil {
		return err
	}
	fid, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(fid, im, f); err != nil {
		fid.Close()
		return pkgerrors.Wrapf(err, "saving %s", path)
	}
	return fid.Close()
}

// SaveResult copies a grab result and saves it with SaveImage
func SaveResult(path string, r *grab.Result) error {
	im, err := FromResult(r)
	if err != nil {
		return err
	}
	return SaveImage(path, im)
}

// ResultCards describes a grab result as FITS header cards
func ResultCards(r *grab.Result) []fitsio.Card {
	return []fitsio.Card{
		{Name: "PIXFMT", Value: r.PixelFormat().String(), Comment: "PFNC pixel format"},
		{Name: "BLOCKID", Value: int(r.BlockID()), Comment: "frame number from the device"},
		{Name: "TIMESTMP", Value: int(r.TimeStamp()), Comment: "device tick count at exposure"},
		{Name: "OFFSETX", Value: r.OffsetX()},
		{Name: "OFFSETY", Value: r.OffsetY()},
		{Name: "CAMCTX", Value: r.CameraContext(), Comment: "camera context"},
		{Name: "SKIPPED", Value: r.NumberOfSkippedImages(), Comment: "images dropped before this one"},
	}
}

// WriteFITS streams imgs to w as one 16 bit FITS image.  Several images, or
// a color image, form a cube with one plane per image and channel; all
// images must share a size.  Mono samples are scaled to 16 bits.
func WriteFITS(w io.Writer, metadata []fitsio.Card, imgs ...*Image) error {
	if len(imgs) == 0 {
		return fmt.Errorf("no images to write")
	}
	width, height := imgs[0].Width, imgs[0].Height
	var planes [][]uint16
	for i, im := range imgs {
		if im.Width != width || im.Height != height {
			return fmt.Errorf("image %d is %dx%d, image 0 is %dx%d", i, im.Width, im.Height, width, height)
		}
		p, err := fitsPlanes(im)
		if err != nil {
			return pkgerrors.Wrapf(err, "image %d", i)
		}
		planes = append(planes, p...)
	}

	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(planes) > 1 {
		dims = append(dims, len(planes))
	}
	hdu := fitsio.NewImage(16, dims)
	defer hdu.Close()
	if err := hdu.Header().Append(metadata...); err != nil {
		return err
	}

	ints := make([]int16, 0, width*height*len(planes))
	for _, p := range planes {
		for _, v := range p {
			ints = append(ints, int16(int32(v)-32768))
		}
	}
	if err := hdu.Write(ints); err != nil {
		return err
	}
	return fits.Write(hdu)
}

// fitsPlanes splits im into 16 bit planes, one for mono and three (R, G,
// B) for color
func fitsPlanes(im *Image) ([][]uint16, error) {
	if im.Format.IsMono() {
		p := make([]uint16, 0, im.Width*im.Height)
		for y := 0; y < im.Height; y++ {
			for x := 0; x < im.Width; x++ {
				p = append(p, im.gray16(x, y))
			}
		}
		return [][]uint16{p}, nil
	}
	rgb, err := Converter{OutputPixelFormat: pfnc.RGB8}.Convert(im)
	if err != nil {
		return nil, err
	}
	planes := make([][]uint16, 3)
	for c := range planes {
		planes[c] = make([]uint16, 0, im.Width*im.Height)
	}
	for i, v := range rgb.Pix {
		planes[i%3] = append(planes[i%3], widen(v))
	}
	return planes, nil
}
