package camera

import (
	"errors"
	"image"
	"io"

	"github.com/astrogo/fitsio"
)

// ErrEmptyFrame is generated when a frame without pixels is encoded
var ErrEmptyFrame = errors.New("frame has no pixels")

// WriteFits streams f to w as a single 16-bit FITS image.  The unsigned
// pixels are stored offset by BZERO = 32768, and the frame's metadata cards
// are appended to the primary header.
func WriteFits(w io.Writer, f Frame) error {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Width*f.Height {
		return ErrEmptyFrame
	}
	metadata := make([]fitsio.Card, 0, len(f.Metadata)+2)
	metadata = append(metadata, f.Metadata...)
	metadata = append(metadata,
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0})

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{f.Width, f.Height})
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	n := f.Width * f.Height
	ints := make([]int16, n)
	for idx := 0; idx < n; idx++ {
		ints[idx] = int16(f.Pix[idx] - 32768)
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// Gray16 returns the frame as an image.Gray16, with big endian pixels
func (f Frame) Gray16() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for i, px := range f.Pix[:f.Width*f.Height] {
		img.Pix[2*i] = uint8(px >> 8)
		img.Pix[2*i+1] = uint8(px)
	}
	return img
}

// Gray8 returns the frame truncated to 8 bits for quick-look formats
func (f Frame) Gray8() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for i, px := range f.Pix[:f.Width*f.Height] {
		img.Pix[i] = uint8(px / 256)
	}
	return img
}
