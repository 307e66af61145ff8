package database

import (
	"fmt"
	"log"
)

// Stats is the headline summary shown on the dashboard.
type Stats struct {
	TotalEvents   int `json:"total_events"`
	TodayEvents   int `json:"today_events"`
	KnownVisits   int `json:"known_visits"` // events with a matched person
	UnlocksTotal  int `json:"unlocks_total"`
	StrangerCount int `json:"stranger_count"` // person detected, no match
}

// HourlyBucket is one cell of the hour-of-day histogram.
type HourlyBucket struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// LabelCount is the per-label detection breakdown.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// DailyCount is one day of the event timeline.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// GetStats aggregates counters across the whole events table.
func (s *Store) GetStats() (Stats, error) {
	var stats Stats

	row := s.DB.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN date(recorded_at) = date('now') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN person_name IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(unlock_granted), 0)
		FROM events`)
	if err := row.Scan(&stats.TotalEvents, &stats.TodayEvents, &stats.KnownVisits, &stats.UnlocksTotal); err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate event stats: %w", err)
	}

	// strangers: a person was in frame but nobody matched
	row = s.DB.QueryRow(`
		SELECT COUNT(*)
		FROM events e
		WHERE e.person_name IS NULL
		  AND EXISTS (SELECT 1 FROM detections d WHERE d.event_id = e.id AND d.label = 'person')`)
	if err := row.Scan(&stats.StrangerCount); err != nil {
		return Stats{}, fmt.Errorf("failed to count stranger events: %w", err)
	}

	return stats, nil
}

// GetHourlyHistogram returns event counts bucketed by hour of day over the
// trailing N days. Hours with no events are omitted.
func (s *Store) GetHourlyHistogram(days int) ([]HourlyBucket, error) {
	rows, err := s.DB.Query(`
		SELECT CAST(strftime('%H', recorded_at) AS INTEGER) AS hour, COUNT(*)
		FROM events
		WHERE recorded_at >= datetime('now', ?)
		GROUP BY hour
		ORDER BY hour ASC`, fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly histogram: %w", err)
	}
	defer rows.Close()

	buckets := []HourlyBucket{}
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			log.Printf("Error scanning hourly bucket: %v", err)
			continue
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// GetDetectionBreakdown returns detection counts per label over the trailing
// N days, most common first.
func (s *Store) GetDetectionBreakdown(days int) ([]LabelCount, error) {
	rows, err := s.DB.Query(`
		SELECT d.label, COUNT(*)
		FROM detections d
		JOIN events e ON e.id = d.event_id
		WHERE e.recorded_at >= datetime('now', ?)
		GROUP BY d.label
		ORDER BY COUNT(*) DESC`, fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, fmt.Errorf("failed to query detection breakdown: %w", err)
	}
	defer rows.Close()

	counts := []LabelCount{}
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			log.Printf("Error scanning label count: %v", err)
			continue
		}
		counts = append(counts, lc)
	}
	return counts, rows.Err()
}

// GetDailyTimeline returns per-day event counts over the trailing N days,
// oldest first.
func (s *Store) GetDailyTimeline(days int) ([]DailyCount, error) {
	rows, err := s.DB.Query(`
		SELECT date(recorded_at) AS day, COUNT(*)
		FROM events
		WHERE recorded_at >= datetime('now', ?)
		GROUP BY day
		ORDER BY day ASC`, fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily timeline: %w", err)
	}
	defer rows.Close()

	counts := []DailyCount{}
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			log.Printf("Error scanning daily count: %v", err)
			continue
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}

// GetPeakHours returns the busiest hours of day over the trailing N days,
// highest count first, at most limit rows.
func (s *Store) GetPeakHours(days, limit int) ([]HourlyBucket, error) {
	rows, err := s.DB.Query(`
		SELECT CAST(strftime('%H', recorded_at) AS INTEGER) AS hour, COUNT(*) AS n
		FROM events
		WHERE recorded_at >= datetime('now', ?)
		GROUP BY hour
		ORDER BY n DESC, hour ASC
		LIMIT ?`, fmt.Sprintf("-%d days", days), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query peak hours: %w", err)
	}
	defer rows.Close()

	buckets := []HourlyBucket{}
	for rows.Next() {
		var b HourlyBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			log.Printf("Error scanning peak hour: %v", err)
			continue
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
