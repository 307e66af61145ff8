package pipeline

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/camden-git/watchtowerbackend/database"
	"github.com/camden-git/watchtowerbackend/doorbell"
	"github.com/camden-git/watchtowerbackend/media"
	"github.com/camden-git/watchtowerbackend/realtime"
)

// errorDelay is how long a coordinator backs off after a cycle fails.
const errorDelay = 5 * time.Second

// EventSource yields new camera occurrences and their frames.
type EventSource interface {
	Poll(ctx context.Context) (*doorbell.Occurrence, error)
	FetchFrame(ctx context.Context, occurrenceID int64) []byte
	CameraID() string
}

// Detector classifies objects in a frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]media.Detection, error)
}

// Identifier matches a face in a frame against the enrolled gallery.
type Identifier interface {
	Identify(frame []byte) *media.Match
}

// Actuator operates the door lock.
type Actuator interface {
	Unlock(ctx context.Context) bool
}

// EventStore persists processed events and their imagery.
type EventStore interface {
	WriteEvent(ev *database.Event, detections []database.Detection) (int64, error)
	SaveThumbnail(frame []byte, recordedAt string) string
}

// AutoUnlockFunc reports whether a matched person may trigger the actuator.
type AutoUnlockFunc func(name string) bool

// AlertSink delivers notifications about processed events.
type AlertSink interface {
	Notify(ctx context.Context, category, caption string, photo []byte)
}

// Broadcaster pushes persisted-event summaries to live dashboard clients.
type Broadcaster interface {
	Broadcast(summary realtime.EventSummary)
}

// Coordinator runs the capture pipeline for one camera: poll, fetch frame,
// detect, identify, decide the door action, persist, then alert. A nil
// actuator turns the camera into watch-only: events are still classified and
// persisted but never unlock the door.
type Coordinator struct {
	source     EventSource
	detector   Detector
	identifier Identifier
	actuator   Actuator
	store      EventStore
	canUnlock  AutoUnlockFunc
	alerts     AlertSink
	hub        Broadcaster

	pollInterval time.Duration
	cooldown     time.Duration

	mu         sync.Mutex
	lastUnlock time.Time
	now        func() time.Time
}

func NewCoordinator(source EventSource, detector Detector, identifier Identifier, actuator Actuator,
	store EventStore, canUnlock AutoUnlockFunc, alerts AlertSink, hub Broadcaster,
	pollInterval, cooldown time.Duration) *Coordinator {
	return &Coordinator{
		source:       source,
		detector:     detector,
		identifier:   identifier,
		actuator:     actuator,
		store:        store,
		canUnlock:    canUnlock,
		alerts:       alerts,
		hub:          hub,
		pollInterval: pollInterval,
		cooldown:     cooldown,
		now:          time.Now,
	}
}

// Run polls until ctx is cancelled. Cancellation is honored between cycles;
// a cycle already past frame capture runs to completion so its event is
// never lost. Cycle failures are logged and retried after a fixed delay.
func (c *Coordinator) Run(ctx context.Context) {
	log.Printf("pipeline(%s): started (interval=%s, cooldown=%s)", c.source.CameraID(), c.pollInterval, c.cooldown)

	for {
		if err := c.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("pipeline(%s): cycle failed: %v", c.source.CameraID(), err)
			select {
			case <-time.After(errorDelay):
			case <-ctx.Done():
			}
		}

		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			log.Printf("pipeline(%s): shutting down", c.source.CameraID())
			return
		}
	}
	log.Printf("pipeline(%s): shutting down", c.source.CameraID())
}

// cycle processes at most one new occurrence. A panic inside the cycle is
// converted to an error so one bad frame cannot kill the loop.
func (c *Coordinator) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pipeline cycle: %v", r)
		}
	}()

	occ, err := c.source.Poll(ctx)
	if err != nil {
		return err
	}
	if occ == nil {
		return nil
	}

	cameraID := c.source.CameraID()
	recordedAt := c.now().UTC().Format(database.TimeLayout)
	log.Printf("pipeline(%s): processing event (recording_id=%d, kind=%s)", cameraID, occ.ID, occ.Kind)

	if remaining := c.cooldownRemaining(); remaining > 0 {
		log.Printf("pipeline(%s): cooldown active (%ds remaining), unlock will be skipped for event %d",
			cameraID, int(remaining.Seconds()), occ.ID)
	}

	frame := c.source.FetchFrame(ctx, occ.ID)
	if frame == nil {
		log.Printf("pipeline(%s): could not get frame from recording %d, skipping", cameraID, occ.ID)
		return nil
	}

	// once the frame is captured the occurrence is already consumed from the
	// source, so the rest of the cycle must not be aborted by a shutdown
	// request or the event would be lost
	ctx = context.WithoutCancel(ctx)

	thumbnailPath := c.store.SaveThumbnail(frame, recordedAt)

	detections, err := c.detector.Detect(ctx, frame)
	if err != nil {
		return fmt.Errorf("detection failed for event %d: %w", occ.ID, err)
	}

	match := c.identify(frame, detections)

	// the door action is decided before anything is persisted
	unlockGranted := false
	doorAction := "none"
	if match != nil {
		log.Printf("pipeline(%s): authorized person detected: %s", cameraID, match.Name)
		if c.dispatchUnlock(ctx, match.Name) {
			unlockGranted = true
			doorAction = "unlocked"
		}
	}

	ev := &database.Event{
		CameraID:      cameraID,
		RecordedAt:    recordedAt,
		RecordingID:   stringPtr(strconv.FormatInt(occ.ID, 10)),
		EventType:     occ.Kind,
		UnlockGranted: unlockGranted,
		DoorAction:    doorAction,
	}
	if match != nil {
		ev.PersonName = stringPtr(match.Name)
		ev.FaceConfidence = floatPtr(match.Confidence)
		ev.FaceDistance = floatPtr(match.Distance)
	}
	if thumbnailPath != "" {
		ev.ThumbnailPath = stringPtr(thumbnailPath)
	}

	eventID, err := c.store.WriteEvent(ev, toStoredDetections(detections))
	if err != nil {
		return fmt.Errorf("failed to persist event %d: %w", occ.ID, err)
	}
	log.Printf("pipeline(%s): event persisted: event_id=%d", cameraID, eventID)

	// alerting strictly after persistence
	c.sendAlert(ctx, detections, match, unlockGranted, frame)

	if c.hub != nil {
		c.hub.Broadcast(realtime.EventSummary{
			Type:        "event",
			EventID:     eventID,
			CameraID:    cameraID,
			Kind:        occ.Kind,
			PersonName:  ev.PersonName,
			DoorAction:  doorAction,
			ObjectCount: len(detections),
			Timestamp:   recordedAt,
		})
	}
	return nil
}

// identify runs face matching on the best person crop, falling back to the
// full frame when the crop is degenerate. No person detection means no
// identification at all.
func (c *Coordinator) identify(frame []byte, detections []media.Detection) *media.Match {
	best := media.BestPerson(detections)
	if best == nil {
		return nil
	}
	if crop := media.CropDetection(frame, best); crop != nil {
		return c.identifier.Identify(crop)
	}
	return c.identifier.Identify(frame)
}

// dispatchUnlock sends the unlock command if the camera has an actuator, the
// person allows auto-unlock, and the cooldown window has passed. The cooldown
// timestamp advances only on actuator success, so a failed unlock leaves the
// next event free to retry.
func (c *Coordinator) dispatchUnlock(ctx context.Context, name string) bool {
	if c.actuator == nil {
		return false
	}
	if c.canUnlock != nil && !c.canUnlock(name) {
		log.Printf("pipeline(%s): auto-unlock disabled for %s", c.source.CameraID(), name)
		return false
	}

	c.mu.Lock()
	if remaining := c.cooldown - c.now().Sub(c.lastUnlock); !c.lastUnlock.IsZero() && remaining > 0 {
		c.mu.Unlock()
		log.Printf("pipeline(%s): face matched (%s) but cooldown active (%ds remaining)",
			c.source.CameraID(), name, int(remaining.Seconds()))
		return false
	}
	c.mu.Unlock()

	if !c.actuator.Unlock(ctx) {
		log.Printf("pipeline(%s): unlock command returned failure", c.source.CameraID())
		return false
	}

	c.mu.Lock()
	c.lastUnlock = c.now()
	c.mu.Unlock()
	log.Printf("pipeline(%s): door unlocked for %s", c.source.CameraID(), name)
	return true
}

func (c *Coordinator) cooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastUnlock.IsZero() {
		return 0
	}
	remaining := c.cooldown - c.now().Sub(c.lastUnlock)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *Coordinator) sendAlert(ctx context.Context, detections []media.Detection, match *media.Match, unlockGranted bool, frame []byte) {
	if c.alerts == nil {
		return
	}
	category, caption := ClassifyAlert(c.source.CameraID(), detections, match, unlockGranted)
	if category == "" {
		return
	}
	c.alerts.Notify(ctx, category, caption, frame)
}

// ClassifyAlert picks the alert category and caption for a processed event.
// An unlock outranks everything else; a recognized person who did not trigger
// an unlock stays silent. Frames with no relevant objects still announce the
// motion so a missed classification is not a missed visitor.
func ClassifyAlert(cameraID string, detections []media.Detection, match *media.Match, unlockGranted bool) (string, string) {
	switch {
	case unlockGranted:
		return "unlock", fmt.Sprintf("Door unlocked for %s (%s)", match.Name, cameraID)
	case match != nil:
		return "", ""
	case media.HasLabel(detections, "person"):
		return "stranger", fmt.Sprintf("Unrecognized person at %s", cameraID)
	case len(detections) > 0:
		return "motion", fmt.Sprintf("Motion at %s: %s", cameraID, summarizeLabels(detections))
	default:
		return "motion", fmt.Sprintf("Motion at %s (no objects identified)", cameraID)
	}
}

func summarizeLabels(detections []media.Detection) string {
	counts := map[string]int{}
	order := []string{}
	for _, d := range detections {
		if counts[d.Label] == 0 {
			order = append(order, d.Label)
		}
		counts[d.Label]++
	}
	out := ""
	for i, label := range order {
		if i > 0 {
			out += ", "
		}
		if counts[label] > 1 {
			out += fmt.Sprintf("%dx %s", counts[label], label)
		} else {
			out += label
		}
	}
	return out
}

func toStoredDetections(detections []media.Detection) []database.Detection {
	out := make([]database.Detection, 0, len(detections))
	for _, d := range detections {
		stored := database.Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
		}
		if d.BBox != nil {
			stored.BBoxX1 = floatPtr(d.BBox.X1)
			stored.BBoxY1 = floatPtr(d.BBox.Y1)
			stored.BBoxX2 = floatPtr(d.BBox.X2)
			stored.BBoxY2 = floatPtr(d.BBox.Y2)
		}
		out = append(out, stored)
	}
	return out
}

func stringPtr(s string) *string  { return &s }
func floatPtr(f float64) *float64 { return &f }
