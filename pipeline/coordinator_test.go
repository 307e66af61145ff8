package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/watchtowerbackend/database"
	"github.com/camden-git/watchtowerbackend/doorbell"
	"github.com/camden-git/watchtowerbackend/media"
)

type fakeSource struct {
	occurrences []*doorbell.Occurrence
	frames      map[int64][]byte
}

func (f *fakeSource) Poll(ctx context.Context) (*doorbell.Occurrence, error) {
	if len(f.occurrences) == 0 {
		return nil, nil
	}
	occ := f.occurrences[0]
	f.occurrences = f.occurrences[1:]
	return occ, nil
}

func (f *fakeSource) FetchFrame(ctx context.Context, occurrenceID int64) []byte {
	return f.frames[occurrenceID]
}

func (f *fakeSource) CameraID() string { return "front_door" }

type fakeDetector struct {
	detections []media.Detection
}

func (f *fakeDetector) Detect(ctx context.Context, frame []byte) ([]media.Detection, error) {
	return f.detections, nil
}

type fakeIdentifier struct {
	match *media.Match
	calls int
}

func (f *fakeIdentifier) Identify(frame []byte) *media.Match {
	f.calls++
	return f.match
}

type fakeActuator struct {
	succeed bool
	calls   int
}

func (f *fakeActuator) Unlock(ctx context.Context) bool {
	f.calls++
	return f.succeed
}

type storedEvent struct {
	event      *database.Event
	detections []database.Detection
}

type fakeStore struct {
	events []storedEvent
	log    *[]string
}

func (f *fakeStore) WriteEvent(ev *database.Event, detections []database.Detection) (int64, error) {
	f.events = append(f.events, storedEvent{event: ev, detections: detections})
	if f.log != nil {
		*f.log = append(*f.log, "persist")
	}
	return int64(len(f.events)), nil
}

func (f *fakeStore) SaveThumbnail(frame []byte, recordedAt string) string {
	return "thumbnails/" + recordedAt + ".jpg"
}

type fakeAlerts struct {
	categories []string
	log        *[]string
}

func (f *fakeAlerts) Notify(ctx context.Context, category, caption string, photo []byte) {
	f.categories = append(f.categories, category)
	if f.log != nil {
		*f.log = append(*f.log, "alert")
	}
}

func personDetection(conf float64) media.Detection {
	return media.Detection{
		Label:      "person",
		Confidence: conf,
		BBox:       &media.BBox{X1: 10, Y1: 10, X2: 50, Y2: 90},
	}
}

func newTestCoordinator(source *fakeSource, detector *fakeDetector, identifier *fakeIdentifier,
	actuator Actuator, store *fakeStore, alerts *fakeAlerts) *Coordinator {
	var sink AlertSink
	if alerts != nil {
		sink = alerts
	}
	return NewCoordinator(source, detector, identifier, actuator, store, nil, sink, nil,
		time.Millisecond, time.Minute)
}

func TestCycleMatchedFaceUnlocksAndPersists(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 101, Kind: doorbell.KindMotion}},
		frames:      map[int64][]byte{101: []byte("not-a-real-jpeg")},
	}
	detector := &fakeDetector{detections: []media.Detection{personDetection(0.91)}}
	identifier := &fakeIdentifier{match: &media.Match{Name: "alice", Distance: 0.31, Confidence: 0.69}}
	actuator := &fakeActuator{succeed: true}
	store := &fakeStore{}
	alerts := &fakeAlerts{}

	c := newTestCoordinator(source, detector, identifier, actuator, store, alerts)
	require.NoError(t, c.cycle(context.Background()))

	require.Len(t, store.events, 1)
	ev := store.events[0].event
	assert.Equal(t, "front_door", ev.CameraID)
	assert.Equal(t, "motion", ev.EventType)
	require.NotNil(t, ev.RecordingID)
	assert.Equal(t, "101", *ev.RecordingID)

	// an unlock implies both the action and the identity are recorded
	assert.True(t, ev.UnlockGranted)
	assert.Equal(t, "unlocked", ev.DoorAction)
	require.NotNil(t, ev.PersonName)
	assert.Equal(t, "alice", *ev.PersonName)
	require.NotNil(t, ev.FaceDistance)
	assert.InDelta(t, 0.31, *ev.FaceDistance, 1e-9)
	require.NotNil(t, ev.FaceConfidence)
	assert.InDelta(t, 0.69, *ev.FaceConfidence, 1e-9)

	require.Len(t, store.events[0].detections, 1)
	assert.Equal(t, "person", store.events[0].detections[0].Label)
	require.NotNil(t, store.events[0].detections[0].BBoxX1)

	assert.Equal(t, 1, actuator.calls)
	assert.Equal(t, []string{"unlock"}, alerts.categories)
}

func TestCycleCooldownAllowsOneUnlock(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{
			{ID: 1, Kind: doorbell.KindMotion},
			{ID: 2, Kind: doorbell.KindMotion},
		},
		frames: map[int64][]byte{1: []byte("f1"), 2: []byte("f2")},
	}
	detector := &fakeDetector{detections: []media.Detection{personDetection(0.9)}}
	identifier := &fakeIdentifier{match: &media.Match{Name: "alice", Distance: 0.2, Confidence: 0.8}}
	actuator := &fakeActuator{succeed: true}
	store := &fakeStore{}

	c := newTestCoordinator(source, detector, identifier, actuator, store, nil)
	now := time.Unix(10000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.cycle(context.Background()))
	now = now.Add(10 * time.Second) // inside the 1m window
	require.NoError(t, c.cycle(context.Background()))

	assert.Equal(t, 1, actuator.calls, "second matched event inside cooldown must not unlock")

	// both events are persisted; the second still carries the identity
	require.Len(t, store.events, 2)
	second := store.events[1].event
	assert.False(t, second.UnlockGranted)
	assert.Equal(t, "none", second.DoorAction)
	require.NotNil(t, second.PersonName)
	assert.Equal(t, "alice", *second.PersonName)
}

func TestCycleCooldownExpiryAllowsNextUnlock(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{
			{ID: 1, Kind: doorbell.KindMotion},
			{ID: 2, Kind: doorbell.KindMotion},
		},
		frames: map[int64][]byte{1: []byte("f1"), 2: []byte("f2")},
	}
	detector := &fakeDetector{detections: []media.Detection{personDetection(0.9)}}
	identifier := &fakeIdentifier{match: &media.Match{Name: "alice", Distance: 0.2, Confidence: 0.8}}
	actuator := &fakeActuator{succeed: true}
	store := &fakeStore{}

	c := newTestCoordinator(source, detector, identifier, actuator, store, nil)
	now := time.Unix(10000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.cycle(context.Background()))
	now = now.Add(61 * time.Second)
	require.NoError(t, c.cycle(context.Background()))

	assert.Equal(t, 2, actuator.calls)
	assert.True(t, store.events[1].event.UnlockGranted)
}

func TestCycleFrameFetchFailureWritesNothing(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 7, Kind: doorbell.KindRing}},
		frames:      map[int64][]byte{}, // no frame available
	}
	store := &fakeStore{}
	c := newTestCoordinator(source, &fakeDetector{}, &fakeIdentifier{}, nil, store, nil)

	require.NoError(t, c.cycle(context.Background()))
	assert.Empty(t, store.events)
}

func TestCycleActuatorFailureRecordedNotGranted(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{
			{ID: 1, Kind: doorbell.KindMotion},
			{ID: 2, Kind: doorbell.KindMotion},
		},
		frames: map[int64][]byte{1: []byte("f1"), 2: []byte("f2")},
	}
	detector := &fakeDetector{detections: []media.Detection{personDetection(0.9)}}
	identifier := &fakeIdentifier{match: &media.Match{Name: "alice", Distance: 0.2, Confidence: 0.8}}
	actuator := &fakeActuator{succeed: false}
	store := &fakeStore{}

	c := newTestCoordinator(source, detector, identifier, actuator, store, nil)
	require.NoError(t, c.cycle(context.Background()))

	ev := store.events[0].event
	assert.False(t, ev.UnlockGranted)
	assert.Equal(t, "none", ev.DoorAction)
	require.NotNil(t, ev.PersonName)

	// a failed unlock must not start the cooldown window
	require.NoError(t, c.cycle(context.Background()))
	assert.Equal(t, 2, actuator.calls)
}

func TestCycleWatchOnlyCameraNeverUnlocks(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 1, Kind: doorbell.KindMotion}},
		frames:      map[int64][]byte{1: []byte("f1")},
	}
	detector := &fakeDetector{detections: []media.Detection{personDetection(0.9)}}
	identifier := &fakeIdentifier{match: &media.Match{Name: "alice", Distance: 0.2, Confidence: 0.8}}
	store := &fakeStore{}

	c := newTestCoordinator(source, detector, identifier, nil, store, nil)
	require.NoError(t, c.cycle(context.Background()))

	ev := store.events[0].event
	assert.False(t, ev.UnlockGranted)
	assert.Equal(t, "none", ev.DoorAction)
	require.NotNil(t, ev.PersonName, "identity is still recorded on watch-only cameras")
}

func TestCycleAutoUnlockDisabled(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 1, Kind: doorbell.KindMotion}},
		frames:      map[int64][]byte{1: []byte("f1")},
	}
	detector := &fakeDetector{detections: []media.Detection{personDetection(0.9)}}
	identifier := &fakeIdentifier{match: &media.Match{Name: "bob", Distance: 0.2, Confidence: 0.8}}
	actuator := &fakeActuator{succeed: true}
	store := &fakeStore{}

	c := NewCoordinator(source, detector, identifier, actuator, store,
		func(name string) bool { return false }, nil, nil, time.Millisecond, time.Minute)
	require.NoError(t, c.cycle(context.Background()))

	assert.Equal(t, 0, actuator.calls)
	assert.False(t, store.events[0].event.UnlockGranted)
}

func TestCycleNoPersonSkipsIdentification(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 1, Kind: doorbell.KindMotion}},
		frames:      map[int64][]byte{1: []byte("f1")},
	}
	detector := &fakeDetector{detections: []media.Detection{
		{Label: "cat", Confidence: 0.8, BBox: &media.BBox{X1: 1, Y1: 1, X2: 5, Y2: 5}},
	}}
	identifier := &fakeIdentifier{match: &media.Match{Name: "alice"}}
	store := &fakeStore{}

	c := newTestCoordinator(source, detector, identifier, nil, store, nil)
	require.NoError(t, c.cycle(context.Background()))

	assert.Equal(t, 0, identifier.calls)
	assert.Nil(t, store.events[0].event.PersonName)
}

func TestCyclePersistsBeforeAlerting(t *testing.T) {
	var order []string
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 1, Kind: doorbell.KindMotion}},
		frames:      map[int64][]byte{1: []byte("f1")},
	}
	detector := &fakeDetector{detections: []media.Detection{personDetection(0.9)}}
	store := &fakeStore{log: &order}
	alerts := &fakeAlerts{log: &order}

	c := newTestCoordinator(source, detector, &fakeIdentifier{}, nil, store, alerts)
	require.NoError(t, c.cycle(context.Background()))

	assert.Equal(t, []string{"persist", "alert"}, order)
}

func TestCycleRecognizedWithoutUnlockSendsNoAlert(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 1, Kind: doorbell.KindMotion}},
		frames:      map[int64][]byte{1: []byte("f1")},
	}
	detector := &fakeDetector{detections: []media.Detection{personDetection(0.9)}}
	identifier := &fakeIdentifier{match: &media.Match{Name: "alice", Distance: 0.2, Confidence: 0.8}}
	store := &fakeStore{}
	alerts := &fakeAlerts{}

	// watch-only camera: identity recorded, no unlock, no notification
	c := newTestCoordinator(source, detector, identifier, nil, store, alerts)
	require.NoError(t, c.cycle(context.Background()))

	require.Len(t, store.events, 1)
	require.NotNil(t, store.events[0].event.PersonName)
	assert.Empty(t, alerts.categories)
}

func TestCycleNoObjectsStillAlerts(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 1, Kind: doorbell.KindMotion}},
		frames:      map[int64][]byte{1: []byte("f1")},
	}
	store := &fakeStore{}
	alerts := &fakeAlerts{}

	c := newTestCoordinator(source, &fakeDetector{}, &fakeIdentifier{}, nil, store, alerts)
	require.NoError(t, c.cycle(context.Background()))

	require.Len(t, store.events, 1)
	assert.Empty(t, store.events[0].detections)
	assert.Equal(t, []string{"motion"}, alerts.categories)
}

func TestClassifyAlert(t *testing.T) {
	person := []media.Detection{personDetection(0.9)}
	cat := []media.Detection{{Label: "cat", Confidence: 0.7}}

	cases := []struct {
		name       string
		detections []media.Detection
		match      *media.Match
		granted    bool
		category   string
	}{
		{"unlock wins", person, &media.Match{Name: "alice"}, true, "unlock"},
		{"unmatched person is a stranger", person, nil, false, "stranger"},
		{"recognized person without unlock stays silent", person, &media.Match{Name: "alice"}, false, ""},
		{"animal only", cat, nil, false, "motion"},
		{"no objects identified still announces motion", nil, nil, false, "motion"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			category, _ := ClassifyAlert("front_door", tc.detections, tc.match, tc.granted)
			assert.Equal(t, tc.category, category)
		})
	}
}

// ctxSensitiveDetector fails the way the real detector does when its context
// is cancelled.
type ctxSensitiveDetector struct {
	detections []media.Detection
}

func (d *ctxSensitiveDetector) Detect(ctx context.Context, frame []byte) ([]media.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.detections, nil
}

func TestCycleShutdownAfterCaptureStillPersists(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 1, Kind: doorbell.KindMotion}},
		frames:      map[int64][]byte{1: []byte("f1")},
	}
	detector := &ctxSensitiveDetector{detections: []media.Detection{personDetection(0.9)}}
	store := &fakeStore{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // shutdown already requested when the cycle runs

	c := newTestCoordinator(source, detector, &fakeIdentifier{}, nil, store, nil)
	require.NoError(t, c.cycle(ctx))

	require.Len(t, store.events, 1, "a captured occurrence must survive shutdown")
	require.Len(t, store.events[0].detections, 1)
}

func TestCycleRecoversFromPanic(t *testing.T) {
	source := &fakeSource{
		occurrences: []*doorbell.Occurrence{{ID: 1, Kind: doorbell.KindMotion}},
		frames:      map[int64][]byte{1: []byte("f1")},
	}
	c := newTestCoordinator(source, &panickyDetector{}, &fakeIdentifier{}, nil, &fakeStore{}, nil)

	err := c.cycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

type panickyDetector struct{}

func (p *panickyDetector) Detect(ctx context.Context, frame []byte) ([]media.Detection, error) {
	panic("model blew up")
}
