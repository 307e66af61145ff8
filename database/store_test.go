package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := InitDB(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, filepath.Join(dir, "thumbnails"))
	require.NoError(t, err)
	return store
}

func f64(v float64) *float64 { return &v }
func str(s string) *string   { return &s }

func sampleEvent(cameraID string) *Event {
	return &Event{
		CameraID:   cameraID,
		RecordedAt: time.Now().UTC().Format(TimeLayout),
		EventType:  "motion",
	}
}

func TestWriteEventRoundTrip(t *testing.T) {
	store := newTestStore(t)

	ev := sampleEvent("front_door")
	ev.RecordingID = str("555001")
	ev.PersonName = str("alice")
	ev.FaceConfidence = f64(0.72)
	ev.FaceDistance = f64(0.28)
	ev.UnlockGranted = true
	ev.DoorAction = "unlocked"
	ev.ThumbnailPath = str("thumbnails/t.jpg")

	detections := []Detection{
		{Label: "person", Confidence: 0.91, BBoxX1: f64(10.5), BBoxY1: f64(20.25), BBoxX2: f64(110), BBoxY2: f64(300)},
		{Label: "dog", Confidence: 0.55, BBoxX1: f64(1), BBoxY1: f64(2), BBoxX2: f64(3), BBoxY2: f64(4)},
	}

	id, err := store.WriteEvent(ev, detections)
	require.NoError(t, err)
	require.Positive(t, id)

	got, err := store.GetEventByID(id)
	require.NoError(t, err)
	assert.Equal(t, "front_door", got.CameraID)
	assert.Equal(t, "motion", got.EventType)
	require.NotNil(t, got.PersonName)
	assert.Equal(t, "alice", *got.PersonName)
	require.NotNil(t, got.FaceConfidence)
	assert.InDelta(t, 0.72, *got.FaceConfidence, 1e-9)
	require.NotNil(t, got.FaceDistance)
	assert.InDelta(t, 0.28, *got.FaceDistance, 1e-9)
	assert.True(t, got.UnlockGranted)
	assert.Equal(t, "unlocked", got.DoorAction)

	require.Len(t, got.Detections, 2)
	assert.Equal(t, "person", got.Detections[0].Label)
	assert.Equal(t, "dog", got.Detections[1].Label)
	require.NotNil(t, got.Detections[0].BBoxX1)
	assert.InDelta(t, 10.5, *got.Detections[0].BBoxX1, 1e-9)
}

func TestWriteEventNullableFields(t *testing.T) {
	store := newTestStore(t)

	ev := sampleEvent("front_door")
	ev.DoorAction = "none"
	id, err := store.WriteEvent(ev, []Detection{
		{Label: "person", Confidence: 0.5}, // no bbox at all
	})
	require.NoError(t, err)

	got, err := store.GetEventByID(id)
	require.NoError(t, err)
	assert.Nil(t, got.PersonName)
	assert.Nil(t, got.FaceConfidence)
	assert.Nil(t, got.FaceDistance)
	assert.Nil(t, got.ThumbnailPath)
	assert.False(t, got.UnlockGranted)

	require.Len(t, got.Detections, 1)
	assert.Nil(t, got.Detections[0].BBoxX1)
	assert.Nil(t, got.Detections[0].BBoxY1)
	assert.Nil(t, got.Detections[0].BBoxX2)
	assert.Nil(t, got.Detections[0].BBoxY2)
}

func TestWriteEventDetectionOrderPreserved(t *testing.T) {
	store := newTestStore(t)

	detections := make([]Detection, 10)
	for i := range detections {
		detections[i] = Detection{Label: fmt.Sprintf("label_%02d", i), Confidence: 0.9}
	}
	id, err := store.WriteEvent(sampleEvent("front_door"), detections)
	require.NoError(t, err)

	got, err := store.GetEventByID(id)
	require.NoError(t, err)
	require.Len(t, got.Detections, 10)
	for i, d := range got.Detections {
		assert.Equal(t, fmt.Sprintf("label_%02d", i), d.Label)
	}
}

func TestGetEventByIDNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetEventByID(9999)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestWriteEventConcurrent(t *testing.T) {
	store := newTestStore(t)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ev := sampleEvent(fmt.Sprintf("camera_%d", n%2))
			_, err := store.WriteEvent(ev, []Detection{{Label: "person", Confidence: 0.8}})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	events, err := store.ListRecentEvents(100, 0)
	require.NoError(t, err)
	assert.Len(t, events, writers)
}

func TestListFilteredEventsByLabel(t *testing.T) {
	store := newTestStore(t)

	_, err := store.WriteEvent(sampleEvent("front_door"), []Detection{{Label: "person", Confidence: 0.9}})
	require.NoError(t, err)
	_, err = store.WriteEvent(sampleEvent("front_door"), []Detection{{Label: "cat", Confidence: 0.7}})
	require.NoError(t, err)
	_, err = store.WriteEvent(sampleEvent("front_door"), nil)
	require.NoError(t, err)

	events, err := store.ListFilteredEvents(EventFilter{DateRange: "all", Label: "cat", Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, events[0].Detections, 1)
	assert.Equal(t, "cat", events[0].Detections[0].Label)

	events, err = store.ListFilteredEvents(EventFilter{DateRange: "all", Label: "all", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestListFilteredEventsInvalidFilter(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ListFilteredEvents(EventFilter{DateRange: "yesterday", Label: "all", Limit: 10})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = store.ListFilteredEvents(EventFilter{DateRange: "all", Label: "unicorn", Limit: 10})
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = store.ListFilteredEvents(EventFilter{DateRange: "all", Label: "all", Limit: 0})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestListFilteredEventsPagination(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		ev := sampleEvent("front_door")
		ev.RecordedAt = base.Add(time.Duration(i) * time.Minute).Format(TimeLayout)
		_, err := store.WriteEvent(ev, nil)
		require.NoError(t, err)
	}

	page1, err := store.ListFilteredEvents(EventFilter{DateRange: "all", Label: "all", Limit: 2, Offset: 0})
	require.NoError(t, err)
	page2, err := store.ListFilteredEvents(EventFilter{DateRange: "all", Label: "all", Limit: 2, Offset: 2})
	require.NoError(t, err)

	require.Len(t, page1, 2)
	require.Len(t, page2, 2)
	// newest first, no overlap between pages
	assert.Greater(t, page1[0].RecordedAt, page1[1].RecordedAt)
	assert.NotEqual(t, page1[1].ID, page2[0].ID)
}

func TestListEventsForDate(t *testing.T) {
	store := newTestStore(t)

	ev := sampleEvent("front_door")
	ev.RecordedAt = "2026-08-15T09:30:00"
	ev.ThumbnailPath = str("thumbnails/a.jpg")
	_, err := store.WriteEvent(ev, nil)
	require.NoError(t, err)

	// same day but no thumbnail: excluded from timelapse material
	ev2 := sampleEvent("front_door")
	ev2.RecordedAt = "2026-08-15T10:00:00"
	_, err = store.WriteEvent(ev2, nil)
	require.NoError(t, err)

	events, err := store.ListEventsForDate("2026-08-15")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = store.ListEventsForDate("2026-08-16")
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = store.ListEventsForDate("not-a-date")
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestCountEventsToday(t *testing.T) {
	store := newTestStore(t)

	ev := sampleEvent("front_door")
	_, err := store.WriteEvent(ev, nil)
	require.NoError(t, err)

	old := sampleEvent("front_door")
	old.RecordedAt = "2020-01-01T00:00:00"
	_, err = store.WriteEvent(old, nil)
	require.NoError(t, err)

	count, err := store.CountEventsToday()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// A failed detection insert must roll back the whole write: no event row and
// no earlier detection rows may survive.
func TestWriteEventRollsBackOnDetectionFailure(t *testing.T) {
	store := newTestStore(t)

	_, err := store.DB.Exec(`
		CREATE TRIGGER reject_label BEFORE INSERT ON detections
		WHEN NEW.label = 'rejected' BEGIN
			SELECT RAISE(ABORT, 'rejected label');
		END`)
	require.NoError(t, err)

	_, err = store.WriteEvent(sampleEvent("front_door"), []Detection{
		{Label: "person", Confidence: 0.9},
		{Label: "rejected", Confidence: 0.5},
	})
	require.Error(t, err)

	var events, detections int
	require.NoError(t, store.DB.QueryRow("SELECT COUNT(*) FROM events").Scan(&events))
	require.NoError(t, store.DB.QueryRow("SELECT COUNT(*) FROM detections").Scan(&detections))
	assert.Zero(t, events, "event row must not survive a failed detection insert")
	assert.Zero(t, detections)
}

// A freshly recorded event must land in the "today" projections. The writer
// stamps recorded_at in UTC, so the queries must compare against SQLite's UTC
// clock rather than the host timezone.
func TestTodayProjectionsMatchWriterClock(t *testing.T) {
	store := newTestStore(t)

	ev := sampleEvent("front_door")
	ev.RecordedAt = time.Now().UTC().Format(TimeLayout)
	_, err := store.WriteEvent(ev, nil)
	require.NoError(t, err)

	count, err := store.CountEventsToday()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "an event recorded seconds ago must count as today")

	events, err := store.ListFilteredEvents(EventFilter{DateRange: "today", Label: "all", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestErrInvalidFilterIsDistinguishable(t *testing.T) {
	err := fmt.Errorf("%w: something", ErrInvalidFilter)
	assert.True(t, errors.Is(err, ErrInvalidFilter))
}
