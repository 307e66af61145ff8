package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/watchtowerbackend/database"
)

type TimelapseHandler struct {
	Store         *database.Store
	ThumbnailsDir string
}

// Generate builds a timelapse MP4 from one day's event thumbnails via ffmpeg
// and streams it back. 404 when the day has no thumbnails, 500 when encoding
// fails.
func (tl *TimelapseHandler) Generate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	events, err := tl.Store.ListEventsForDate(date)
	if err != nil {
		if errors.Is(err, database.ErrInvalidFilter) {
			WriteAPIError(w, http.StatusBadRequest, "invalid_date", "Date must be YYYY-MM-DD")
			return
		}
		log.Printf("Error listing events for timelapse %s: %v", date, err)
		WriteAPIError(w, http.StatusInternalServerError, "list_failed", "Failed to list events for date")
		return
	}

	frames := []string{}
	for _, ev := range events {
		if ev.ThumbnailPath == nil {
			continue
		}
		path := filepath.Join(tl.ThumbnailsDir, filepath.Base(*ev.ThumbnailPath))
		if _, err := os.Stat(path); err == nil {
			frames = append(frames, path)
		}
	}
	if len(frames) == 0 {
		WriteAPIError(w, http.StatusNotFound, "no_frames", "No thumbnails recorded for that date")
		return
	}

	workDir, err := os.MkdirTemp("", "timelapse-")
	if err != nil {
		log.Printf("Error creating timelapse work dir: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "encode_failed", "Failed to generate timelapse")
		return
	}
	defer os.RemoveAll(workDir)

	listPath := filepath.Join(workDir, "frames.txt")
	listFile, err := os.Create(listPath)
	if err != nil {
		log.Printf("Error creating timelapse frame list: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "encode_failed", "Failed to generate timelapse")
		return
	}
	for _, frame := range frames {
		fmt.Fprintf(listFile, "file '%s'\nduration 0.5\n", frame)
	}
	listFile.Close()

	outPath := filepath.Join(workDir, "timelapse.mp4")
	cmd := exec.CommandContext(r.Context(), "ffmpeg",
		"-y", "-f", "concat", "-safe", "0", "-i", listPath,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264", "-pix_fmt", "yuv420p", outPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		log.Printf("ffmpeg failed for timelapse %s: %v\n%s", date, err, output)
		WriteAPIError(w, http.StatusInternalServerError, "encode_failed", "ffmpeg failed to encode timelapse")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="timelapse-%s.mp4"`, date))
	http.ServeFile(w, r, outPath)
}
