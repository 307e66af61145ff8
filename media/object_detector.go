package media

import (
	"context"
	"image"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

const (
	detectorInputSize   = 640
	detectorNMSThresh   = 0.45
	detectorScaleFactor = 1.0 / 255.0
)

type detectJob struct {
	frame []byte
	reply chan []Detection
}

// ObjectDetector classifies frames with a YOLO network loaded through the
// OpenCV DNN module. The network is not safe for concurrent use, so all
// inference runs on a single worker goroutine fed by a bounded queue.
type ObjectDetector struct {
	net     gocv.Net
	enabled bool

	jobs     chan detectJob
	stop     chan struct{}
	wg       sync.WaitGroup
	degraded atomic.Bool
}

// NewObjectDetector loads the YOLO model and starts the inference worker.
// A missing or unreadable model disables the detector: every frame then
// yields zero detections.
func NewObjectDetector(modelPath string, queueSize int) *ObjectDetector {
	d := &ObjectDetector{
		jobs: make(chan detectJob, queueSize),
		stop: make(chan struct{}),
	}

	if modelPath == "" {
		log.Println("detect: model path is empty, disabling object detector")
		return d
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		log.Printf("detect: ERROR loading network model: %s", modelPath)
		return d
	}
	log.Printf("detect: successfully loaded object detection model")

	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)
	if cudaBackendErr == nil && cudaTargetErr == nil {
		log.Println("detect: set backend/target to CUDA")
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		log.Println("detect: set backend/target to CPU (default)")
	}

	d.net = net
	d.enabled = true

	d.wg.Add(1)
	go d.worker()
	return d
}

// Detect runs object detection on a JPEG frame. An undecodable frame yields
// an empty result rather than an error. Blocks until the worker picks up the
// job or ctx is cancelled.
func (d *ObjectDetector) Detect(ctx context.Context, frame []byte) ([]Detection, error) {
	if d == nil || !d.enabled || len(frame) == 0 {
		return []Detection{}, nil
	}

	job := detectJob{frame: frame, reply: make(chan []Detection, 1)}
	select {
	case d.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.stop:
		return []Detection{}, nil
	}

	select {
	case result := <-job.reply:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Degraded reports whether the most recent inference exceeded the latency
// warning threshold.
func (d *ObjectDetector) Degraded() bool {
	return d != nil && d.degraded.Load()
}

// Close stops the worker and releases the network.
func (d *ObjectDetector) Close() {
	if d == nil {
		return
	}
	close(d.stop)
	d.wg.Wait()
	if d.enabled {
		d.net.Close()
		d.enabled = false
		log.Println("detect: closed network")
	}
}

func (d *ObjectDetector) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.jobs:
			job.reply <- d.run(job.frame)
		case <-d.stop:
			return
		}
	}
}

func (d *ObjectDetector) run(frame []byte) []Detection {
	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil || img.Empty() {
		log.Println("detect: frame could not be decoded, skipping")
		return []Detection{}
	}
	defer img.Close()

	start := time.Now()
	detections := d.infer(img)
	elapsed := time.Since(start)

	if elapsed.Milliseconds() > LatencyWarnThresholdMs {
		log.Printf("detect: slow inference: %dms for %d detection(s)", elapsed.Milliseconds(), len(detections))
		d.degraded.Store(true)
	} else {
		d.degraded.Store(false)
	}

	return detections
}

func (d *ObjectDetector) infer(img gocv.Mat) []Detection {
	imgW := float64(img.Cols())
	imgH := float64(img.Rows())

	blob := gocv.BlobFromImage(img, detectorScaleFactor, image.Pt(detectorInputSize, detectorInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// output shape is [1, 4+classes, anchors]; reshape to 2D for access
	sizes := output.Size()
	if len(sizes) != 3 || sizes[0] != 1 {
		log.Printf("detect: unexpected output matrix dimensions: %v", sizes)
		return []Detection{}
	}
	rows := sizes[1]
	anchors := sizes[2]

	data := output.Reshape(1, rows)
	defer data.Close()

	scaleX := imgW / detectorInputSize
	scaleY := imgH / detectorInputSize

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	for i := 0; i < anchors; i++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 4; c < rows; c++ {
			score := data.GetFloatAt(c, i)
			if score > bestScore {
				bestScore = score
				bestClass = c - 4
			}
		}
		if bestScore < ConfidenceThreshold {
			continue
		}
		if _, ok := cocoLabels[bestClass]; !ok {
			continue
		}

		cx := float64(data.GetFloatAt(0, i)) * scaleX
		cy := float64(data.GetFloatAt(1, i)) * scaleY
		w := float64(data.GetFloatAt(2, i)) * scaleX
		h := float64(data.GetFloatAt(3, i)) * scaleY

		boxes = append(boxes, image.Rect(int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)))
		scores = append(scores, bestScore)
		classIDs = append(classIDs, bestClass)
	}

	if len(boxes) == 0 {
		return []Detection{}
	}

	keep := gocv.NMSBoxes(boxes, scores, ConfidenceThreshold, detectorNMSThresh)

	results := []Detection{}
	for _, idx := range keep {
		box := boxes[idx]
		x1 := clampCoord(float64(box.Min.X), imgW)
		y1 := clampCoord(float64(box.Min.Y), imgH)
		x2 := clampCoord(float64(box.Max.X), imgW)
		y2 := clampCoord(float64(box.Max.Y), imgH)
		results = append(results, Detection{
			Label:      cocoLabels[classIDs[idx]],
			Confidence: roundConfidence(float64(scores[idx])),
			BBox: &BBox{
				X1: roundCoord(x1),
				Y1: roundCoord(y1),
				X2: roundCoord(x2),
				Y2: roundCoord(y2),
			},
		})
	}
	return results
}

func clampCoord(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
