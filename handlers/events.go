package handlers

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/watchtowerbackend/database"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type EventHandler struct {
	Store *database.Store
}

// ListEvents serves the paginated event feed with optional date range and
// object type filters. has_next is a lookahead heuristic: one extra row is
// fetched to decide whether another page exists.
func (eh *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1, 1, 1<<30)
	limit := queryInt(r, "limit", defaultPageSize, 1, maxPageSize)

	filter := database.EventFilter{
		DateRange: queryString(r, "date_range", "all"),
		Label:     queryString(r, "object_type", "all"),
		Limit:     limit + 1,
		Offset:    (page - 1) * limit,
	}

	events, err := eh.Store.ListFilteredEvents(filter)
	if err != nil {
		if errors.Is(err, database.ErrInvalidFilter) {
			WriteAPIError(w, http.StatusBadRequest, "invalid_filter", err.Error())
			return
		}
		log.Printf("Error listing events: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "list_failed", "Failed to list events")
		return
	}

	hasNext := len(events) > limit
	if hasNext {
		events = events[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":   events,
		"page":     page,
		"limit":    limit,
		"has_next": hasNext,
	})
}

// Summary serves the dashboard headline widget: today's event count and the
// most recent event.
func (eh *EventHandler) Summary(w http.ResponseWriter, r *http.Request) {
	todayCount, err := eh.Store.CountEventsToday()
	if err != nil {
		log.Printf("Error counting today's events: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "summary_failed", "Failed to build summary")
		return
	}

	recent, err := eh.Store.ListRecentEvents(1, 0)
	if err != nil {
		log.Printf("Error loading latest event: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "summary_failed", "Failed to build summary")
		return
	}

	var lastEvent interface{}
	if len(recent) > 0 {
		lastEvent = recent[0]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"today_count": todayCount,
		"last_event":  lastEvent,
	})
}

// GetEvent serves a single event with its nested detections.
func (eh *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "event_id"), 10, 64)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "Event id must be an integer")
		return
	}

	event, err := eh.Store.GetEventByID(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			WriteAPIError(w, http.StatusNotFound, "not_found", "Event not found")
			return
		}
		log.Printf("Error getting event %d: %v", id, err)
		WriteAPIError(w, http.StatusInternalServerError, "get_failed", "Failed to retrieve event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}
