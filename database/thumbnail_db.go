package database

import (
	"bytes"
	"log"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// SaveThumbnail encodes a frame to a JPEG in the thumbnail directory, named
// by the sanitized event timestamp. Thumbnail failures are non-fatal: any
// decode or disk error is logged and yields "", and the owning event write
// proceeds without a thumbnail.
func (s *Store) SaveThumbnail(frame []byte, recordedAt string) string {
	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		log.Printf("failed to decode frame for thumbnail (recorded_at=%s): %v", recordedAt, err)
		return ""
	}

	safeTS := sanitizeTimestamp(recordedAt)
	path := filepath.Join(s.ThumbnailsDir, safeTS+".jpg")

	if err := imaging.Save(img, path, imaging.JPEGQuality(85)); err != nil {
		log.Printf("failed to save thumbnail to %s: %v", path, err)
		return ""
	}
	return path
}

// sanitizeTimestamp makes an ISO timestamp safe for filesystem use.
func sanitizeTimestamp(ts string) string {
	replacer := strings.NewReplacer(":", "-", ".", "-")
	return replacer.Replace(ts)
}
