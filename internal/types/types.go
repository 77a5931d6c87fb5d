package types

import "image"

// Detection is a single face returned by a detector backend.
type Detection struct {
	Box        image.Rectangle // (x0,y0)-(x1,y1) in frame pixel coordinates
	Confidence float64
}
