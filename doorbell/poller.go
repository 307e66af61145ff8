package doorbell

import (
	"context"
	"log"
	"time"
)

// Event kinds reported by the camera.
const (
	KindMotion = "motion"
	KindRing   = "ring"
)

// Occurrence is a single motion or ring event on a camera.
type Occurrence struct {
	ID         int64
	Kind       string
	RecordedAt time.Time
}

// Upstream is the slice of the camera cloud API the poller needs.
type Upstream interface {
	History(ctx context.Context, cameraID string) ([]Occurrence, error)
	DownloadRecording(ctx context.Context, occurrenceID int64) ([]byte, error)
	BatteryLevel(ctx context.Context, cameraID string) (int, error)
}

// FrameExtractor turns a downloaded recording into a single JPEG frame.
type FrameExtractor func(video []byte) ([]byte, error)

// Poller detects new events on one camera by change-detecting the newest
// history entry. The first poll only records a baseline so events from before
// startup are never re-processed.
type Poller struct {
	upstream   Upstream
	cameraID   string
	retries    int
	retryDelay time.Duration
	extract    FrameExtractor

	baselined bool
	lastSeen  int64
}

func NewPoller(upstream Upstream, cameraID string, retries int, retryDelay time.Duration, extract FrameExtractor) *Poller {
	return &Poller{
		upstream:   upstream,
		cameraID:   cameraID,
		retries:    retries,
		retryDelay: retryDelay,
		extract:    extract,
	}
}

// Poll checks for a new event. Returns nil when nothing new happened,
// including on the baseline-setting first call. A camera with an empty
// history is not an error.
func (p *Poller) Poll(ctx context.Context) (*Occurrence, error) {
	history, err := p.upstream.History(ctx, p.cameraID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	newest := history[0]

	if !p.baselined {
		p.baselined = true
		p.lastSeen = newest.ID
		log.Printf("poll(%s): baseline set at event %d", p.cameraID, newest.ID)
		return nil, nil
	}

	if newest.ID == p.lastSeen {
		return nil, nil
	}
	p.lastSeen = newest.ID
	return &newest, nil
}

// FetchFrame downloads the recording for an occurrence and extracts a frame,
// retrying with a fixed delay while the recording is still being transcoded.
// Returns nil when every attempt fails; the caller records the event without
// imagery.
func (p *Poller) FetchFrame(ctx context.Context, occurrenceID int64) []byte {
	for attempt := 1; attempt <= p.retries; attempt++ {
		video, err := p.upstream.DownloadRecording(ctx, occurrenceID)
		if err == nil {
			frame, extractErr := p.extract(video)
			if extractErr == nil {
				return frame
			}
			log.Printf("poll(%s): frame extraction failed for event %d: %v", p.cameraID, occurrenceID, extractErr)
		} else {
			log.Printf("poll(%s): recording %d not ready (attempt %d/%d): %v", p.cameraID, occurrenceID, attempt, p.retries, err)
		}

		if attempt == p.retries {
			break
		}
		select {
		case <-time.After(p.retryDelay):
		case <-ctx.Done():
			return nil
		}
	}
	log.Printf("poll(%s): giving up on frame for event %d after %d attempts", p.cameraID, occurrenceID, p.retries)
	return nil
}

// Battery returns the camera's battery percentage.
func (p *Poller) Battery(ctx context.Context) (int, error) {
	return p.upstream.BatteryLevel(ctx, p.cameraID)
}

// CameraID returns the identifier of the camera being polled.
func (p *Poller) CameraID() string {
	return p.cameraID
}
