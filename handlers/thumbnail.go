package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

type ThumbnailHandler struct {
	ThumbnailsDir string
}

// ServeThumbnail streams a stored event thumbnail. Only bare filenames inside
// the thumbnails directory are allowed; any traversal attempt is a 400.
func (th *ThumbnailHandler) ServeThumbnail(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		WriteAPIError(w, http.StatusBadRequest, "invalid_filename", "Invalid thumbnail filename")
		return
	}

	path := filepath.Join(th.ThumbnailsDir, filename)
	if _, err := os.Stat(path); err != nil {
		WriteAPIError(w, http.StatusNotFound, "not_found", "Thumbnail not found")
		return
	}
	http.ServeFile(w, r, path)
}
