package sampler

import (
	"errors"
	"fmt"
	"image"

	"github.com/andresmejia3/facesampler/internal/dataset"
	"golang.org/x/image/draw"
)

// ChannelOrder selects the channel layout of stored samples.
type ChannelOrder string

const (
	// BGR matches arrays produced by OpenCV-based tooling.
	BGR ChannelOrder = "bgr"
	RGB ChannelOrder = "rgb"
)

// ErrNilFrame is returned when a decoder hands back no image.
var ErrNilFrame = errors.New("nil frame")

// Normalize crops box out of frame, resizes it to width x height and scales the
// channels to [0,1]. The box is clipped to the frame first; ok is false when the
// clipped box has no area.
func Normalize(frame image.Image, box image.Rectangle, width, height int, order ChannelOrder) (dataset.Sample, bool, error) {
	if frame == nil {
		return dataset.Sample{}, false, ErrNilFrame
	}
	if width <= 0 || height <= 0 {
		return dataset.Sample{}, false, fmt.Errorf("invalid output size %dx%d", width, height)
	}

	src := box.Intersect(frame.Bounds())
	if src.Dx() <= 0 || src.Dy() <= 0 {
		return dataset.Sample{}, false, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), frame, src, draw.Src, nil)

	r, b := 0, 2
	if order == BGR {
		r, b = 2, 0
	}

	pix := make([]float32, width*height*dataset.Channels)
	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < width; x++ {
			in := row[x*4:]
			out := pix[(y*width+x)*dataset.Channels:]
			out[r] = float32(in[0]) / 255
			out[1] = float32(in[1]) / 255
			out[b] = float32(in[2]) / 255
		}
	}
	return dataset.Sample{Width: width, Height: height, Pix: pix}, true, nil
}
