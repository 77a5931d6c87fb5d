// Package vision adapts OpenCV (gocv) video decoding and YuNet face detection to the
// sampler's Opener and Detector interfaces.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/andresmejia3/facesampler/internal/sampler"
	"github.com/andresmejia3/facesampler/internal/utils"
	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when a seek+read yields no image.
var ErrEmptyFrame = errors.New("empty frame")

// CaptureOpener opens video files with OpenCV.
type CaptureOpener struct {
	// ProbeFallback asks ffprobe for the frame count when the container does not report one.
	ProbeFallback bool
	Ctx           context.Context
}

// Open implements sampler.Opener.
func (o CaptureOpener) Open(path string) (sampler.Video, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open %s: capture not opened", path)
	}

	frames := int(vc.Get(gocv.VideoCaptureFrameCount))
	if frames <= 0 && o.ProbeFallback {
		ctx := o.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		frames = utils.ProbeFrameCount(ctx, path)
	}

	return &Capture{vc: vc, frames: frames, mat: gocv.NewMat()}, nil
}

// Capture is an open video file.
type Capture struct {
	vc     *gocv.VideoCapture
	frames int
	mat    gocv.Mat
}

// FrameCount returns the number of frames reported when the file was opened.
func (c *Capture) FrameCount() int { return c.frames }

// Frame seeks to index and decodes that frame.
func (c *Capture) Frame(index int) (image.Image, error) {
	c.vc.Set(gocv.VideoCapturePosFrames, float64(index))
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, ErrEmptyFrame
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return img, nil
}

// Close releases the decoder and the frame buffer.
func (c *Capture) Close() error {
	matErr := c.mat.Close()
	return errors.Join(c.vc.Close(), matErr)
}
