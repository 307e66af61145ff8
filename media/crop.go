package media

import (
	"bytes"
	"image"
	"log"

	"github.com/disintegration/imaging"
)

// CropDetection extracts the bounding box region of a detection from a JPEG
// frame, re-encoded as JPEG. The box is clamped to the frame bounds. Returns
// nil when the detection has no box, the clamped region is degenerate, or the
// frame cannot be decoded.
func CropDetection(frame []byte, det *Detection) []byte {
	if det == nil || det.BBox == nil {
		return nil
	}

	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		log.Printf("crop: failed to decode frame: %v", err)
		return nil
	}

	bounds := img.Bounds()
	x1 := clampInt(int(det.BBox.X1), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(det.BBox.Y1), bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(det.BBox.X2), bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(det.BBox.Y2), bounds.Min.Y, bounds.Max.Y)
	if x2 <= x1 || y2 <= y1 {
		return nil
	}

	cropped := imaging.Crop(img, image.Rect(x1, y1, x2, y2))

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		log.Printf("crop: failed to encode region: %v", err)
		return nil
	}
	return buf.Bytes()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
