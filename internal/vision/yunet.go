package vision

import (
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/facesampler/internal/types"
	"gocv.io/x/gocv"
)

// yunetScoreCol is the column holding the confidence in each YuNet output row:
// x, y, w, h, five landmark pairs, score.
const yunetScoreCol = 14

// YuNet detects faces with OpenCV's FaceDetectorYN.
type YuNet struct {
	detector gocv.FaceDetectorYN
	size     image.Point
	faces    gocv.Mat
}

// NewYuNet loads the ONNX model at modelPath.
func NewYuNet(modelPath string) (*YuNet, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("yunet model: %w", err)
	}
	size := image.Pt(320, 320)
	return &YuNet{
		detector: gocv.NewFaceDetectorYN(modelPath, "", size),
		size:     size,
		faces:    gocv.NewMat(),
	}, nil
}

// Detect implements sampler.Detector.
func (y *YuNet) Detect(frame image.Image, threshold float64) ([]types.Detection, error) {
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	if size := image.Pt(mat.Cols(), mat.Rows()); size != y.size {
		y.detector.SetInputSize(size)
		y.size = size
	}
	y.detector.SetScoreThreshold(float32(threshold))
	y.detector.Detect(mat, &y.faces)

	var out []types.Detection
	for r := 0; r < y.faces.Rows(); r++ {
		score := float64(y.faces.GetFloatAt(r, yunetScoreCol))
		if score < threshold {
			continue
		}
		x0 := int(y.faces.GetFloatAt(r, 0))
		y0 := int(y.faces.GetFloatAt(r, 1))
		w := int(y.faces.GetFloatAt(r, 2))
		h := int(y.faces.GetFloatAt(r, 3))
		out = append(out, types.Detection{
			Box:        image.Rect(x0, y0, x0+w, y0+h),
			Confidence: score,
		})
	}
	return out, nil
}

// Close releases the model.
func (y *YuNet) Close() error {
	y.faces.Close()
	y.detector.Close()
	return nil
}
