package camera

import (
	"errors"
	"fmt"
	"io"

	"github.com/astrogo/fitsio"
)

// ErrNoFrames is returned by WriteFits when it is given nothing to write
var ErrNoFrames = errors.New("no frames to write")

// WriteFits streams a fits file to w.  Each frame holds width*height unsigned
// 16-bit pixels, row major; more than one frame makes a cube.
func WriteFits(w io.Writer, metadata []fitsio.Card, width, height int, frames ...[]uint16) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	npix := width * height
	for i, f := range frames {
		if len(f) < npix {
			return fmt.Errorf("frame %d holds %d pixels, need %dx%d", i, len(f), width, height)
		}
	}
	metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(frames) > 1 {
		dims = append(dims, len(frames))
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	// FITS has no unsigned 16-bit type; offset by BZERO
	ints := make([]int16, npix*len(frames))
	offset := 0
	for _, f := range frames {
		for idx, v := range f[:npix] {
			ints[offset+idx] = int16(int32(v) - 32768)
		}
		offset += npix
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
