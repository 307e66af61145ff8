package handlers

import (
	"log"
	"net/http"

	"github.com/camden-git/watchtowerbackend/database"
)

type AnalyticsHandler struct {
	Store *database.Store
}

// Stats serves headline counters for the dashboard landing page.
func (ah *AnalyticsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := ah.Store.GetStats()
	if err != nil {
		log.Printf("Error computing stats: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "stats_failed", "Failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HourlyHeatmap serves event counts bucketed by hour of day.
func (ah *AnalyticsHandler) HourlyHeatmap(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7, 1, 365)
	buckets, err := ah.Store.GetHourlyHistogram(days)
	if err != nil {
		log.Printf("Error computing hourly heatmap: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "heatmap_failed", "Failed to compute hourly heatmap")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": days, "hours": buckets})
}

// DetectionBreakdown serves per-label detection counts.
func (ah *AnalyticsHandler) DetectionBreakdown(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7, 1, 365)
	breakdown, err := ah.Store.GetDetectionBreakdown(days)
	if err != nil {
		log.Printf("Error computing detection breakdown: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "breakdown_failed", "Failed to compute detection breakdown")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": days, "labels": breakdown})
}

// DailyTimeline serves per-day event counts.
func (ah *AnalyticsHandler) DailyTimeline(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30, 1, 365)
	timeline, err := ah.Store.GetDailyTimeline(days)
	if err != nil {
		log.Printf("Error computing daily timeline: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "timeline_failed", "Failed to compute daily timeline")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": days, "timeline": timeline})
}

// PeakHours serves the busiest hours of day over the window.
func (ah *AnalyticsHandler) PeakHours(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30, 1, 365)
	limit := queryInt(r, "limit", 3, 1, 24)
	peaks, err := ah.Store.GetPeakHours(days, limit)
	if err != nil {
		log.Printf("Error computing peak hours: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "peaks_failed", "Failed to compute peak hours")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": days, "peak_hours": peaks})
}
