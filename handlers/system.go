package handlers

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/camden-git/watchtowerbackend/alert"
	"github.com/camden-git/watchtowerbackend/config"
	"github.com/camden-git/watchtowerbackend/doorbell"
)

type SystemHandler struct {
	DB      *sql.DB
	Pollers []*doorbell.Poller
	Alerter *alert.Alerter
}

// Health reports process liveness and database reachability.
func (sh *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := sh.DB.Ping(); err != nil {
		log.Printf("Health check: database ping failed: %v", err)
		WriteAPIError(w, http.StatusServiceUnavailable, "db_unreachable", "Database is not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Battery serves the battery percentage of every configured camera. A camera
// that cannot be queried reports null rather than failing the whole response.
func (sh *SystemHandler) Battery(w http.ResponseWriter, r *http.Request) {
	levels := map[string]interface{}{}
	for _, p := range sh.Pollers {
		level, err := p.Battery(r.Context())
		if err != nil {
			log.Printf("Error querying battery for %s: %v", p.CameraID(), err)
			levels[p.CameraID()] = nil
			continue
		}
		levels[p.CameraID()] = level
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batteries": levels})
}

// MuteAlerts suppresses notifications until unmuted.
func (sh *SystemHandler) MuteAlerts(w http.ResponseWriter, r *http.Request) {
	sh.Alerter.Mute()
	writeJSON(w, http.StatusOK, map[string]bool{"muted": true})
}

// UnmuteAlerts re-enables notifications.
func (sh *SystemHandler) UnmuteAlerts(w http.ResponseWriter, r *http.Request) {
	sh.Alerter.Unmute()
	writeJSON(w, http.StatusOK, map[string]bool{"muted": false})
}

// AlertStatus reports the current mute state.
func (sh *SystemHandler) AlertStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"muted": sh.Alerter.Muted()})
}

// ReloadConfig re-reads the .env file and reports validation warnings. Only
// settings read per-request pick up new values; pipeline timing changes still
// need a restart.
func (sh *SystemHandler) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := config.Reload()
	if err != nil {
		log.Printf("Error reloading config: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "reload_failed", "Failed to reload configuration")
		return
	}
	warnings := cfg.Validate()
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "reloaded", "warnings": warnings})
}
