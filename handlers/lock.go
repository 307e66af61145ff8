package handlers

import (
	"net/http"

	"github.com/camden-git/watchtowerbackend/lock"
)

type LockHandler struct {
	Controller *lock.Controller
}

// Unlock sends a manual unlock command from the dashboard.
func (lh *LockHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	if !lh.Controller.Unlock(r.Context()) {
		WriteAPIError(w, http.StatusBadGateway, "unlock_failed", "Lock did not accept the unlock command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// Lock sends a manual lock command from the dashboard.
func (lh *LockHandler) Lock(w http.ResponseWriter, r *http.Request) {
	if !lh.Controller.Lock(r.Context()) {
		WriteAPIError(w, http.StatusBadGateway, "lock_failed", "Lock did not accept the lock command")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

// Status serves the raw device status from the lock vendor API.
func (lh *LockHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := lh.Controller.Status(r.Context())
	if status == nil {
		WriteAPIError(w, http.StatusBadGateway, "lock_unreachable", "Could not query lock status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
