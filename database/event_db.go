package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// TimeLayout is the canonical recorded_at format (UTC, second precision). All
// date-scoped queries compare against SQLite's 'now', which is also UTC.
const TimeLayout = "2006-01-02T15:04:05"

// ErrInvalidFilter marks malformed feed filter parameters; handlers map it to
// a 400 response rather than a server error.
var ErrInvalidFilter = errors.New("invalid event filter")

type Event struct {
	ID             int64       `json:"id"`
	CameraID       string      `json:"camera_id"`
	RecordedAt     string      `json:"recorded_at"`
	EventType      string      `json:"event_type"`
	RecordingID    *string     `json:"recording_id,omitempty"`
	PersonName     *string     `json:"person_name,omitempty"`
	FaceConfidence *float64    `json:"face_confidence,omitempty"`
	FaceDistance   *float64    `json:"face_distance,omitempty"`
	UnlockGranted  bool        `json:"unlock_granted"`
	DoorAction     string      `json:"door_action"`
	ThumbnailPath  *string     `json:"thumbnail_path,omitempty"`
	AlertSent      bool        `json:"alert_sent"`
	CreatedAt      string      `json:"created_at"`
	Detections     []Detection `json:"detections"`
}

// Detection is one classified object instance attached to an event. The four
// bbox coordinates are nullable as a unit: either all present or all absent.
type Detection struct {
	ID         int64    `json:"id"`
	EventID    int64    `json:"event_id"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	BBoxX1     *float64 `json:"bbox_x1"`
	BBoxY1     *float64 `json:"bbox_y1"`
	BBoxX2     *float64 `json:"bbox_x2"`
	BBoxY2     *float64 `json:"bbox_y2"`
}

var allowedDateRanges = map[string]bool{"all": true, "today": true, "7d": true, "30d": true}

var allowedFilterLabels = map[string]bool{
	"all": true, "person": true, "car": true, "cat": true, "dog": true, "package": true,
}

// EventFilter narrows the event feed by date range and detection label.
type EventFilter struct {
	DateRange string // all | today | 7d | 30d
	Label     string // all | person | car | cat | dog | package
	Limit     int
	Offset    int
}

func (f EventFilter) validate() error {
	if !allowedDateRanges[f.DateRange] {
		return fmt.Errorf("%w: unknown date range %q", ErrInvalidFilter, f.DateRange)
	}
	if !allowedFilterLabels[f.Label] {
		return fmt.Errorf("%w: unknown label %q", ErrInvalidFilter, f.Label)
	}
	if f.Limit <= 0 || f.Offset < 0 {
		return fmt.Errorf("%w: limit must be positive and offset non-negative", ErrInvalidFilter)
	}
	return nil
}

// WriteEvent inserts one event row and its detection rows in a single
// transaction: either all rows land or none do. Detections are stored in the
// order given and read back in that order. Safe to call concurrently from
// multiple pipeline coordinators.
func (s *Store) WriteEvent(ev *Event, detections []Detection) (int64, error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for WriteEvent: %w", err)
	}
	defer tx.Rollback()

	queryBuilder := psql.Insert("events").
		Columns(
			"camera_id", "recorded_at", "event_type", "recording_id",
			"person_name", "face_confidence", "face_distance",
			"unlock_granted", "door_action", "thumbnail_path",
		).
		Values(
			ev.CameraID, ev.RecordedAt, ev.EventType, ev.RecordingID,
			ev.PersonName, ev.FaceConfidence, ev.FaceDistance,
			boolToInt(ev.UnlockGranted), ev.DoorAction, ev.ThumbnailPath,
		).
		Suffix("RETURNING id")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for WriteEvent: %w", err)
	}

	var eventID int64
	if err := tx.QueryRow(sqlStr, args...).Scan(&eventID); err != nil {
		return 0, fmt.Errorf("failed to insert event (camera=%s): %w", ev.CameraID, err)
	}

	for _, d := range detections {
		detBuilder := psql.Insert("detections").
			Columns("event_id", "label", "confidence", "bbox_x1", "bbox_y1", "bbox_x2", "bbox_y2").
			Values(eventID, d.Label, d.Confidence, d.BBoxX1, d.BBoxY1, d.BBoxX2, d.BBoxY2)
		detStr, detArgs, err := detBuilder.ToSql()
		if err != nil {
			return 0, fmt.Errorf("failed to build SQL for detection insert: %w", err)
		}
		if _, err := tx.Exec(detStr, detArgs...); err != nil {
			return 0, fmt.Errorf("failed to insert detection (label=%s) for event %d: %w", d.Label, eventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event %d: %w", eventID, err)
	}
	return eventID, nil
}

// GetEventByID retrieves a single event with its detections in insertion
// order. Returns sql.ErrNoRows if the event does not exist.
func (s *Store) GetEventByID(eventID int64) (Event, error) {
	queryBuilder := psql.Select(eventColumns()...).
		From("events").
		Where(sq.Eq{"id": eventID}).
		Limit(1)
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return Event{}, fmt.Errorf("failed to build SQL for GetEventByID: %w", err)
	}

	ev, err := scanEventRow(s.DB.QueryRow(sqlStr, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return Event{}, sql.ErrNoRows
		}
		return Event{}, fmt.Errorf("failed to query or scan event %d: %w", eventID, err)
	}

	ev.Detections, err = s.listDetections(ev.ID)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ListRecentEvents returns events ordered by recorded_at descending, each with
// its nested detections.
func (s *Store) ListRecentEvents(limit, offset int) ([]Event, error) {
	queryBuilder := psql.Select(eventColumns()...).
		From("events").
		OrderBy("recorded_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	return s.queryEvents(queryBuilder, "ListRecentEvents")
}

// ListFilteredEvents applies a validated date-range and label filter on top of
// the recent feed. Unknown filter values yield ErrInvalidFilter.
func (s *Store) ListFilteredEvents(filter EventFilter) ([]Event, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}

	queryBuilder := psql.Select(eventColumns("e")...).
		From("events e").
		OrderBy("e.recorded_at DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset))

	switch filter.DateRange {
	case "today":
		queryBuilder = queryBuilder.Where("date(e.recorded_at) = date('now')")
	case "7d":
		queryBuilder = queryBuilder.Where("e.recorded_at >= datetime('now', '-7 days')")
	case "30d":
		queryBuilder = queryBuilder.Where("e.recorded_at >= datetime('now', '-30 days')")
	}

	if filter.Label != "all" {
		queryBuilder = queryBuilder.Where(
			"EXISTS (SELECT 1 FROM detections d WHERE d.event_id = e.id AND d.label = ?)",
			filter.Label,
		)
	}

	return s.queryEvents(queryBuilder, "ListFilteredEvents")
}

// CountEventsToday returns the number of events recorded since UTC midnight.
func (s *Store) CountEventsToday() (int, error) {
	queryBuilder := psql.Select("COUNT(*)").
		From("events").
		Where("date(recorded_at) = date('now')")
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for CountEventsToday: %w", err)
	}
	var count int
	if err := s.DB.QueryRow(sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count today's events: %w", err)
	}
	return count, nil
}

// ListEventsForDate returns the day's events oldest-first, thumbnails only,
// for timelapse export.
func (s *Store) ListEventsForDate(date string) ([]Event, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("%w: bad date %q", ErrInvalidFilter, date)
	}
	queryBuilder := psql.Select(eventColumns()...).
		From("events").
		Where("date(recorded_at) = ?", date).
		Where("thumbnail_path IS NOT NULL").
		OrderBy("recorded_at ASC")
	return s.queryEvents(queryBuilder, "ListEventsForDate")
}

func eventColumns(prefix ...string) []string {
	cols := []string{
		"id", "camera_id", "recorded_at", "event_type", "recording_id",
		"person_name", "face_confidence", "face_distance",
		"unlock_granted", "door_action", "thumbnail_path", "alert_sent", "created_at",
	}
	if len(prefix) == 0 {
		return cols
	}
	prefixed := make([]string, len(cols))
	for i, c := range cols {
		prefixed[i] = prefix[0] + "." + c
	}
	return prefixed
}

func scanEventRow(scanner interface {
	Scan(dest ...interface{}) error
}) (Event, error) {
	var ev Event
	var recordingID, personName, thumbnailPath sql.NullString
	var faceConfidence, faceDistance sql.NullFloat64
	var unlockGranted, alertSent int

	err := scanner.Scan(
		&ev.ID, &ev.CameraID, &ev.RecordedAt, &ev.EventType, &recordingID,
		&personName, &faceConfidence, &faceDistance,
		&unlockGranted, &ev.DoorAction, &thumbnailPath, &alertSent, &ev.CreatedAt,
	)
	if err != nil {
		return Event{}, err
	}

	if recordingID.Valid {
		ev.RecordingID = &recordingID.String
	}
	if personName.Valid {
		ev.PersonName = &personName.String
	}
	if thumbnailPath.Valid {
		ev.ThumbnailPath = &thumbnailPath.String
	}
	if faceConfidence.Valid {
		ev.FaceConfidence = &faceConfidence.Float64
	}
	if faceDistance.Valid {
		ev.FaceDistance = &faceDistance.Float64
	}
	ev.UnlockGranted = unlockGranted != 0
	ev.AlertSent = alertSent != 0
	ev.Detections = []Detection{}
	return ev, nil
}

func (s *Store) queryEvents(queryBuilder sq.SelectBuilder, op string) ([]Event, error) {
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for %s: %w", op, err)
	}
	rows, err := s.DB.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s query: %w", op, err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			log.Printf("Error scanning event row: %v", err)
			continue
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return events, fmt.Errorf("error iterating event rows: %w", err)
	}

	for i := range events {
		events[i].Detections, err = s.listDetections(events[i].ID)
		if err != nil {
			return events, err
		}
	}
	return events, nil
}

// listDetections reads the detections for one event in insertion order.
func (s *Store) listDetections(eventID int64) ([]Detection, error) {
	queryBuilder := psql.Select("id", "event_id", "label", "confidence", "bbox_x1", "bbox_y1", "bbox_x2", "bbox_y2").
		From("detections").
		Where(sq.Eq{"event_id": eventID}).
		OrderBy("id ASC")
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for listDetections: %w", err)
	}
	rows, err := s.DB.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections for event %d: %w", eventID, err)
	}
	defer rows.Close()

	detections := []Detection{}
	for rows.Next() {
		var d Detection
		var x1, y1, x2, y2 sql.NullFloat64
		if err := rows.Scan(&d.ID, &d.EventID, &d.Label, &d.Confidence, &x1, &y1, &x2, &y2); err != nil {
			log.Printf("Error scanning detection row: %v", err)
			continue
		}
		if x1.Valid {
			d.BBoxX1 = &x1.Float64
		}
		if y1.Valid {
			d.BBoxY1 = &y1.Float64
		}
		if x2.Valid {
			d.BBoxX2 = &x2.Float64
		}
		if y2.Valid {
			d.BBoxY2 = &y2.Float64
		}
		detections = append(detections, d)
	}
	if err = rows.Err(); err != nil {
		return detections, fmt.Errorf("error iterating detection rows: %w", err)
	}
	return detections, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
