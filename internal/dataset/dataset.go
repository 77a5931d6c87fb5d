package dataset

import (
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/facesampler/internal/npy"
)

// Channels is the number of color channels in every sample.
const Channels = 3

// Label is the class of a source video.
type Label string

const (
	Real Label = "real"
	Fake Label = "fake"
)

// Labels lists the labels in processing order.
var Labels = []Label{Real, Fake}

// Code is the integer stored in y: 1 for real, 0 for fake.
func (l Label) Code() int64 {
	if l == Real {
		return 1
	}
	return 0
}

// Sample is a normalized face crop in height x width x channel order, values in [0,1].
type Sample struct {
	Width  int
	Height int
	Pix    []float32
}

// At returns the value of channel c at (x, y).
func (s Sample) At(x, y, c int) float32 {
	return s.Pix[(y*s.Width+x)*Channels+c]
}

// ErrShape is returned when a sample does not match the dataset dimensions.
var ErrShape = errors.New("sample shape does not match dataset")

// Dataset holds the parallel X and y sequences built by a sampling pass.
type Dataset struct {
	Width  int
	Height int
	X      []Sample
	Y      []int64
}

// New returns an empty dataset for samples of the given size.
func New(width, height int) *Dataset {
	return &Dataset{Width: width, Height: height}
}

// Append adds one sample and its label code. X and Y always grow together.
func (d *Dataset) Append(s Sample, label Label) error {
	if s.Width != d.Width || s.Height != d.Height || len(s.Pix) != d.Width*d.Height*Channels {
		return fmt.Errorf("%w: got %dx%d (%d values), want %dx%d", ErrShape, s.Width, s.Height, len(s.Pix), d.Width, d.Height)
	}
	d.X = append(d.X, s)
	d.Y = append(d.Y, label.Code())
	return nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.X) }

// Counts returns the number of real and fake samples.
func (d *Dataset) Counts() (real, fake int) {
	for _, v := range d.Y {
		if v == Real.Code() {
			real++
		} else {
			fake++
		}
	}
	return real, fake
}

// Save writes X as a float32 (n, height, width, 3) array and y as an int64 (n,) array.
func (d *Dataset) Save(xPath, yPath string) error {
	n := d.Len()
	flat := make([]float32, 0, n*d.Width*d.Height*Channels)
	for _, s := range d.X {
		flat = append(flat, s.Pix...)
	}

	err := npy.CreateFile(xPath, func(w io.Writer) error {
		return npy.WriteFloat32(w, []int{n, d.Height, d.Width, Channels}, flat)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", xPath, err)
	}

	err = npy.CreateFile(yPath, func(w io.Writer) error {
		return npy.WriteInt64(w, []int{n}, d.Y)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", yPath, err)
	}
	return nil
}

// Load reads a dataset previously written by Save.
func Load(xPath, yPath string) (*Dataset, error) {
	var (
		xh   npy.Header
		flat []float32
		y    []int64
	)
	err := npy.OpenFile(xPath, func(r io.Reader) (err error) {
		xh, flat, err = npy.ReadFloat32(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", xPath, err)
	}
	if len(xh.Shape) != 4 || xh.Shape[3] != Channels {
		return nil, fmt.Errorf("read %s: expected (n, h, w, %d) array, got shape %v", xPath, Channels, xh.Shape)
	}

	var yh npy.Header
	err = npy.OpenFile(yPath, func(r io.Reader) (err error) {
		yh, y, err = npy.ReadInt64(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", yPath, err)
	}
	if len(yh.Shape) != 1 || yh.Shape[0] != xh.Shape[0] {
		return nil, fmt.Errorf("label array shape %v does not match %d samples", yh.Shape, xh.Shape[0])
	}

	n, h, w := xh.Shape[0], xh.Shape[1], xh.Shape[2]
	d := New(w, h)
	size := w * h * Channels
	d.X = make([]Sample, n)
	for i := range d.X {
		d.X[i] = Sample{Width: w, Height: h, Pix: flat[i*size : (i+1)*size]}
	}
	d.Y = y
	return d, nil
}
