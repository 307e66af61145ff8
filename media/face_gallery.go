package media

import (
	"fmt"
	"image"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

const (
	locatorInputSize  = 300
	locatorConfThresh = 0.5
	embeddingSize     = 112
)

type galleryEntry struct {
	name      string
	embedding []float32
}

// FaceMatcher identifies persons against a gallery of enrolled face images.
// Face location and embedding run on DNN models that are not safe for
// concurrent use; a mutex serializes inference. The gallery itself is held
// behind an atomic pointer so Reload never blocks Identify.
type FaceMatcher struct {
	locator  gocv.Net
	embedder gocv.Net
	enabled  bool

	mu        sync.Mutex
	facesDir  string
	tolerance float64
	gallery   atomic.Pointer[[]galleryEntry]
}

// NewFaceMatcher loads the face location and embedding models and performs an
// initial gallery load from facesDir. Missing models disable matching: every
// identification then returns no match.
func NewFaceMatcher(locatorConfigPath, locatorModelPath, embeddingModelPath, facesDir string, tolerance float64) *FaceMatcher {
	m := &FaceMatcher{facesDir: facesDir, tolerance: tolerance}
	empty := []galleryEntry{}
	m.gallery.Store(&empty)

	if locatorModelPath == "" || embeddingModelPath == "" {
		log.Println("faces: model path is empty, disabling face matching")
		return m
	}

	locator := gocv.ReadNet(locatorModelPath, locatorConfigPath)
	if locator.Empty() {
		log.Printf("faces: ERROR loading face location model: %s", locatorModelPath)
		return m
	}
	embedder := gocv.ReadNet(embeddingModelPath, "")
	if embedder.Empty() {
		log.Printf("faces: ERROR loading face embedding model: %s", embeddingModelPath)
		locator.Close()
		return m
	}
	log.Println("faces: successfully loaded face location and embedding models")

	for _, net := range []*gocv.Net{&locator, &embedder} {
		if net.SetPreferableBackend(gocv.NetBackendCUDA) != nil || net.SetPreferableTarget(gocv.NetTargetCUDA) != nil {
			net.SetPreferableBackend(gocv.NetBackendDefault)
			net.SetPreferableTarget(gocv.NetTargetCPU)
		}
	}

	m.locator = locator
	m.embedder = embedder
	m.enabled = true

	if err := m.Reload(); err != nil {
		log.Printf("faces: initial gallery load failed: %v", err)
	}
	return m
}

// Close releases both networks.
func (m *FaceMatcher) Close() {
	if m == nil || !m.enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locator.Close()
	m.embedder.Close()
	m.enabled = false
	log.Println("faces: closed networks")
}

// GalleryNames returns the distinct enrolled names in the current gallery.
func (m *FaceMatcher) GalleryNames() []string {
	entries := *m.gallery.Load()
	seen := map[string]bool{}
	names := []string{}
	for _, e := range entries {
		if !seen[e.name] {
			seen[e.name] = true
			names = append(names, e.name)
		}
	}
	sort.Strings(names)
	return names
}

// Identify matches every located face in the frame against the gallery and
// returns the globally closest enrolled person. Returns nil when the gallery
// is empty, no face is found, or no face comes within the tolerance. An
// undecodable frame is treated as containing no face.
func (m *FaceMatcher) Identify(frame []byte) *Match {
	if m == nil || !m.enabled {
		return nil
	}
	entries := *m.gallery.Load()
	if len(entries) == 0 {
		return nil
	}
	return matchAnyFace(m.embedFaces(frame), entries, m.tolerance)
}

// Enroll validates an enrollment image, stores it under facesDir as
// "{slug}_{n}.jpg", and reloads the gallery. Images with no face or more
// than one face are rejected with a ValidationError.
func (m *FaceMatcher) Enroll(slug string, imageBytes []byte) (string, error) {
	if m == nil || !m.enabled {
		return "", fmt.Errorf("face matching is disabled")
	}

	img, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil || img.Empty() {
		return "", &ValidationError{Reason: "image could not be decoded"}
	}
	defer img.Close()

	m.mu.Lock()
	faces := m.locateFaces(img)
	m.mu.Unlock()

	switch {
	case len(faces) == 0:
		return "", &ValidationError{Reason: "no face found in image"}
	case len(faces) > 1:
		return "", &ValidationError{Reason: fmt.Sprintf("expected exactly one face, found %d", len(faces))}
	}

	filename, err := nextEnrollmentFilename(m.facesDir, slug)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.facesDir, filename)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return "", fmt.Errorf("failed to encode enrollment image: %w", err)
	}
	defer buf.Close()
	if err := os.WriteFile(path, buf.GetBytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write enrollment image %s: %w", path, err)
	}

	if err := m.Reload(); err != nil {
		return filename, fmt.Errorf("enrolled %s but gallery reload failed: %w", filename, err)
	}
	log.Printf("faces: enrolled %s", filename)
	return filename, nil
}

// Reload rebuilds the gallery from the enrollment directory and swaps it in
// atomically. Images where no single face can be embedded are skipped with a
// warning rather than failing the whole load.
func (m *FaceMatcher) Reload() error {
	if m == nil || !m.enabled {
		return nil
	}

	dirEntries, err := os.ReadDir(m.facesDir)
	if err != nil {
		if os.IsNotExist(err) {
			empty := []galleryEntry{}
			m.gallery.Store(&empty)
			return nil
		}
		return fmt.Errorf("failed to read enrollment directory %s: %w", m.facesDir, err)
	}

	entries := []galleryEntry{}
	for _, de := range dirEntries {
		if de.IsDir() || !enrollmentExt(de.Name()) {
			continue
		}
		path := filepath.Join(m.facesDir, de.Name())
		img := gocv.IMRead(path, gocv.IMReadColor)
		if img.Empty() {
			log.Printf("faces: skipping unreadable enrollment image %s", path)
			continue
		}

		m.mu.Lock()
		faces := m.locateFaces(img)
		var embedding []float32
		if len(faces) > 0 {
			embedding = m.embedRegion(img, largestFace(faces))
		}
		m.mu.Unlock()
		img.Close()

		if embedding == nil {
			log.Printf("faces: no usable face in enrollment image %s, skipping", path)
			continue
		}
		entries = append(entries, galleryEntry{name: slugFromFilename(de.Name()), embedding: embedding})
	}

	m.gallery.Store(&entries)
	log.Printf("faces: gallery loaded with %d embedding(s) across %d person(s)", len(entries), len(m.GalleryNames()))
	return nil
}

// embedFaces decodes a frame and embeds every located face.
func (m *FaceMatcher) embedFaces(frame []byte) [][]float32 {
	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil || img.Empty() {
		return nil
	}
	defer img.Close()

	m.mu.Lock()
	defer m.mu.Unlock()

	embeddings := [][]float32{}
	for _, face := range m.locateFaces(img) {
		if embedding := m.embedRegion(img, face); embedding != nil {
			embeddings = append(embeddings, embedding)
		}
	}
	return embeddings
}

// locateFaces runs the SSD face locator. Caller must hold mu.
func (m *FaceMatcher) locateFaces(img gocv.Mat) []image.Rectangle {
	imgW := float32(img.Cols())
	imgH := float32(img.Rows())

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(locatorInputSize, locatorInputSize),
		gocv.NewScalar(104.0, 177.0, 123.0, 0), false, false)
	defer blob.Close()

	m.locator.SetInput(blob, "")
	output := m.locator.Forward("")
	defer output.Close()

	sizes := output.Size()
	if len(sizes) != 4 || sizes[2] == 0 {
		return nil
	}
	numDetections := sizes[2]

	data := output.Reshape(1, numDetections)
	defer data.Close()

	var faces []image.Rectangle
	for i := 0; i < numDetections; i++ {
		confidence := data.GetFloatAt(i, 2)
		if confidence < locatorConfThresh {
			continue
		}
		xMin := int(max(0, data.GetFloatAt(i, 3)*imgW))
		yMin := int(max(0, data.GetFloatAt(i, 4)*imgH))
		xMax := int(min(imgW, data.GetFloatAt(i, 5)*imgW))
		yMax := int(min(imgH, data.GetFloatAt(i, 6)*imgH))
		if xMax > xMin && yMax > yMin {
			faces = append(faces, image.Rect(xMin, yMin, xMax, yMax))
		}
	}
	return faces
}

// embedRegion extracts an L2-normalized embedding for a face region. Caller
// must hold mu.
func (m *FaceMatcher) embedRegion(img gocv.Mat, region image.Rectangle) []float32 {
	face := img.Region(region)
	defer face.Close()

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(face, &rgb, gocv.ColorBGRToRGB)

	blob := gocv.BlobFromImage(rgb, 1.0/255.0, image.Pt(embeddingSize, embeddingSize),
		gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	m.embedder.SetInput(blob, "")
	output := m.embedder.Forward("")
	defer output.Close()

	flat := output.Reshape(1, 1)
	defer flat.Close()

	embedding := make([]float32, flat.Cols())
	for i := range embedding {
		embedding[i] = flat.GetFloatAt(0, i)
	}
	return normalizeEmbedding(embedding)
}

// matchAnyFace picks the best match across all face embeddings from one
// frame: the single face/entry pair with the smallest distance wins, so an
// enrolled person is still recognized when a larger stranger face is also in
// view.
func matchAnyFace(embeddings [][]float32, entries []galleryEntry, tolerance float64) *Match {
	var best *Match
	for _, embedding := range embeddings {
		match := closestMatch(embedding, entries, tolerance)
		if match != nil && (best == nil || match.Distance < best.Distance) {
			best = match
		}
	}
	return best
}

// closestMatch finds the gallery entry nearest to the embedding. The search
// is global: the single closest entry across all persons wins, and only if
// its distance is within tolerance.
func closestMatch(embedding []float32, entries []galleryEntry, tolerance float64) *Match {
	bestDist := math.Inf(1)
	bestName := ""
	for _, e := range entries {
		dist := cosineDistance(embedding, e.embedding)
		if dist < bestDist {
			bestDist = dist
			bestName = e.name
		}
	}
	if bestName == "" || bestDist > tolerance {
		return nil
	}
	return &Match{
		Name:       bestName,
		Distance:   roundConfidence(bestDist),
		Confidence: roundConfidence(1 - bestDist),
	}
}

// cosineDistance is 1 minus the dot product of two unit-length embeddings.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

func normalizeEmbedding(embedding []float32) []float32 {
	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return embedding
	}
	for i := range embedding {
		embedding[i] = float32(float64(embedding[i]) / norm)
	}
	return embedding
}

func largestFace(faces []image.Rectangle) image.Rectangle {
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Dx()*f.Dy() > best.Dx()*best.Dy() {
			best = f
		}
	}
	return best
}

// nextEnrollmentFilename picks the lowest unused index for "{slug}_{n}.jpg".
func nextEnrollmentFilename(facesDir, slug string) (string, error) {
	entries, err := os.ReadDir(facesDir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read enrollment directory %s: %w", facesDir, err)
	}

	used := map[int]bool{}
	for _, e := range entries {
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		idx := strings.LastIndex(stem, "_")
		if idx <= 0 || stem[:idx] != slug {
			continue
		}
		if n, err := strconv.Atoi(stem[idx+1:]); err == nil {
			used[n] = true
		}
	}
	n := 1
	for used[n] {
		n++
	}
	return fmt.Sprintf("%s_%d.jpg", slug, n), nil
}

func slugFromFilename(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	idx := strings.LastIndex(stem, "_")
	if idx <= 0 {
		return stem
	}
	return stem[:idx]
}

func enrollmentExt(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".bmp":
		return true
	}
	return false
}
