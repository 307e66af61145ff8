package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/camden-git/watchtowerbackend/media"
	"github.com/camden-git/watchtowerbackend/models"
	"github.com/camden-git/watchtowerbackend/repository"
)

const maxEnrollmentUpload = 10 << 20 // 10 MiB

type PeopleHandler struct {
	Repo     repository.PersonRepositoryInterface
	Matcher  *media.FaceMatcher
	FacesDir string
}

// ListPeople serves the catalog of enrolled persons with their photo listings.
func (ph *PeopleHandler) ListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := ph.Repo.ListAll()
	if err != nil {
		log.Printf("Error listing people: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "list_failed", "Failed to list people")
		return
	}
	writeJSON(w, http.StatusOK, people)
}

// GetPerson serves one catalog entry by slug name.
func (ph *PeopleHandler) GetPerson(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "person_name")
	person, err := ph.Repo.GetByName(name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, "not_found", "Person not found")
			return
		}
		log.Printf("Error getting person '%s': %v", name, err)
		WriteAPIError(w, http.StatusInternalServerError, "get_failed", "Failed to retrieve person")
		return
	}
	writeJSON(w, http.StatusOK, person)
}

// EnrollPerson accepts a multipart upload (name + photo) and enrolls the face.
// The image must contain exactly one face; anything else is a 400.
func (ph *PeopleHandler) EnrollPerson(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxEnrollmentUpload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_form", "Expected multipart form with name and photo")
		return
	}

	displayName := strings.TrimSpace(r.FormValue("name"))
	if displayName == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_name", "Field 'name' is required")
		return
	}
	slug := models.SlugifyName(displayName)
	if slug == "" {
		WriteAPIError(w, http.StatusBadRequest, "invalid_name", "Name contains no usable characters")
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "missing_photo", "Field 'photo' is required")
		return
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(io.LimitReader(file, maxEnrollmentUpload))
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "unreadable_photo", "Could not read uploaded photo")
		return
	}

	filename, err := ph.Matcher.Enroll(slug, imageBytes)
	if err != nil {
		var vErr *media.ValidationError
		if errors.As(err, &vErr) {
			WriteAPIError(w, http.StatusBadRequest, "invalid_enrollment_image", vErr.Reason)
			return
		}
		log.Printf("Error enrolling '%s': %v", slug, err)
		WriteAPIError(w, http.StatusInternalServerError, "enroll_failed", "Failed to enroll face")
		return
	}

	person, err := ph.Repo.UpsertByName(slug, displayName)
	if err != nil {
		log.Printf("Error cataloging '%s' after enrollment: %v", slug, err)
		WriteAPIError(w, http.StatusInternalServerError, "catalog_failed", "Face stored but cataloging failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"person":   person,
		"filename": filename,
	})
}

// DeletePerson removes the catalog entry and every enrollment image, then
// reloads the gallery so the identity can no longer match.
func (ph *PeopleHandler) DeletePerson(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "person_name")
	if err := ph.Repo.Delete(name); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, "not_found", "Person not found")
			return
		}
		log.Printf("Error deleting person '%s': %v", name, err)
		WriteAPIError(w, http.StatusInternalServerError, "delete_failed", "Failed to delete person")
		return
	}

	if err := ph.Matcher.Reload(); err != nil {
		log.Printf("Error reloading gallery after deleting '%s': %v", name, err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "name": name})
}

// SetAutoUnlock toggles whether a matched face may unlock the door.
func (ph *PeopleHandler) SetAutoUnlock(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "person_name")

	var payload struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Enabled == nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Expected JSON body with boolean 'enabled'")
		return
	}

	if err := ph.Repo.SetAutoUnlock(name, *payload.Enabled); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, "not_found", "Person not found")
			return
		}
		log.Printf("Error toggling auto-unlock for '%s': %v", name, err)
		WriteAPIError(w, http.StatusInternalServerError, "toggle_failed", "Failed to update auto-unlock")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "auto_unlock": *payload.Enabled})
}

// ServePhoto streams one enrollment image. The filename must be a bare name
// inside the enrollment directory; traversal attempts are rejected.
func (ph *PeopleHandler) ServePhoto(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		WriteAPIError(w, http.StatusBadRequest, "invalid_filename", "Invalid photo filename")
		return
	}

	path := filepath.Join(ph.FacesDir, filename)
	if _, err := os.Stat(path); err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Photo not found")
		return
	}
	http.ServeFile(w, r, path)
}
