package media

import "math"

// ConfidenceThreshold is the minimum detector confidence for a detection to
// be reported.
const ConfidenceThreshold = 0.40

// LatencyWarnThresholdMs is the single-frame inference time above which the
// detector logs a slowness warning.
const LatencyWarnThresholdMs = 300

// cocoLabels maps the COCO class indices the detector is allowed to report
// to their label names. All other classes are discarded.
var cocoLabels = map[int]string{
	0:  "person",
	2:  "car",
	15: "cat",
	16: "dog",
	28: "package", // COCO "suitcase", close enough for porch deliveries
}

// BBox is a detection bounding box in pixel coordinates, rounded to two
// decimal places.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is a single classified object in a frame.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       *BBox   `json:"bbox,omitempty"`
}

// Match is a face gallery identification result.
type Match struct {
	Name       string  `json:"name"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
}

// ValidationError reports an enrollment image that cannot be used, for
// example because it contains no face or more than one.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// roundConfidence rounds a detector confidence to four decimal places.
func roundConfidence(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// roundCoord rounds a bounding box coordinate to two decimal places.
func roundCoord(v float64) float64 {
	return math.Round(v*100) / 100
}

// BestPerson returns the highest-confidence person detection, or nil when the
// frame contains none.
func BestPerson(detections []Detection) *Detection {
	var best *Detection
	for i := range detections {
		if detections[i].Label != "person" {
			continue
		}
		if best == nil || detections[i].Confidence > best.Confidence {
			best = &detections[i]
		}
	}
	return best
}

// HasLabel reports whether any detection carries the given label.
func HasLabel(detections []Detection, label string) bool {
	for _, d := range detections {
		if d.Label == label {
			return true
		}
	}
	return false
}
