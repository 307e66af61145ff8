package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/facette/natsort"
	"gorm.io/gorm"

	"github.com/camden-git/watchtowerbackend/models"
)

var enrollmentExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true,
}

// PersonRepository handles database operations for enrolled persons. The
// catalog is a cache of the enrollment directory: SyncFromDisk backfills rows
// for face images that exist on disk but were never cataloged.
type PersonRepository struct {
	DB       *gorm.DB
	FacesDir string
}

// NewPersonRepository creates a new instance of PersonRepository
func NewPersonRepository(db *gorm.DB, facesDir string) *PersonRepository {
	return &PersonRepository{DB: db, FacesDir: facesDir}
}

// UpsertByName creates a person with the given slug name, or updates the
// display name if the slug already exists.
func (r *PersonRepository) UpsertByName(name, displayName string) (*models.Person, error) {
	var person models.Person
	err := r.DB.Where("name = ?", name).First(&person).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		person = models.Person{
			Name:        name,
			DisplayName: displayName,
			AutoUnlock:  true,
			CreatedAt:   time.Now().Unix(),
		}
		if err := r.DB.Create(&person).Error; err != nil {
			return nil, fmt.Errorf("failed to create person %s: %w", name, err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to look up person %s: %w", name, err)
	default:
		if displayName != "" && displayName != person.DisplayName {
			person.DisplayName = displayName
			if err := r.DB.Model(&person).Update("display_name", displayName).Error; err != nil {
				return nil, fmt.Errorf("failed to update person %s: %w", name, err)
			}
		}
	}
	r.attachPhotos(&person)
	return &person, nil
}

// GetByName retrieves a person by slug name. Returns gorm.ErrRecordNotFound
// when absent.
func (r *PersonRepository) GetByName(name string) (*models.Person, error) {
	var person models.Person
	err := r.DB.Where("name = ?", name).First(&person).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get person %s: %w", name, err)
	}
	r.attachPhotos(&person)
	return &person, nil
}

// ListAll retrieves all persons ordered by name, with photo listings from disk.
func (r *PersonRepository) ListAll() ([]models.Person, error) {
	var persons []models.Person
	if err := r.DB.Order("name ASC").Find(&persons).Error; err != nil {
		return nil, fmt.Errorf("failed to list persons: %w", err)
	}
	for i := range persons {
		r.attachPhotos(&persons[i])
	}
	return persons, nil
}

// SetAutoUnlock toggles whether a matched face may trigger the lock actuator.
func (r *PersonRepository) SetAutoUnlock(name string, enabled bool) error {
	result := r.DB.Model(&models.Person{}).Where("name = ?", name).Update("auto_unlock", enabled)
	if result.Error != nil {
		return fmt.Errorf("failed to set auto_unlock for %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes a person and all of their enrollment images on disk. The
// caller must reload the face gallery afterwards so the deleted identity can
// no longer match.
func (r *PersonRepository) Delete(name string) error {
	result := r.DB.Where("name = ?", name).Delete(&models.Person{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete person %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	for _, photo := range r.listPhotos(name) {
		path := filepath.Join(r.FacesDir, photo)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove enrollment image %s: %w", path, err)
		}
	}
	return nil
}

// SyncFromDisk creates catalog rows for any enrollment images found on disk
// but not yet cataloged. Returns the number of persons backfilled.
func (r *PersonRepository) SyncFromDisk() (int, error) {
	entries, err := os.ReadDir(r.FacesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read enrollment directory %s: %w", r.FacesDir, err)
	}

	seen := map[string]bool{}
	created := 0
	for _, entry := range entries {
		if entry.IsDir() || !enrollmentExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		name := nameFromFilename(entry.Name())
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		var count int64
		if err := r.DB.Model(&models.Person{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return created, fmt.Errorf("failed to check catalog for %s: %w", name, err)
		}
		if count > 0 {
			continue
		}
		person := models.Person{
			Name:        name,
			DisplayName: displayNameFromSlug(name),
			AutoUnlock:  true,
			CreatedAt:   time.Now().Unix(),
		}
		if err := r.DB.Create(&person).Error; err != nil {
			return created, fmt.Errorf("failed to backfill person %s: %w", name, err)
		}
		created++
	}
	return created, nil
}

// attachPhotos fills the transient photo fields from the enrollment directory.
func (r *PersonRepository) attachPhotos(person *models.Person) {
	photos := r.listPhotos(person.Name)
	person.Photos = photos
	person.PhotoCount = len(photos)
}

// listPhotos returns the person's enrollment image filenames in natural order
// (alice_2 before alice_10).
func (r *PersonRepository) listPhotos(name string) []string {
	entries, err := os.ReadDir(r.FacesDir)
	if err != nil {
		return nil
	}
	photos := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !enrollmentExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		if nameFromFilename(entry.Name()) == name {
			photos = append(photos, entry.Name())
		}
	}
	natsort.Sort(photos)
	return photos
}

// nameFromFilename derives the slug from an enrollment filename: everything
// before the final underscore of "{slug}_{n}.{ext}".
func nameFromFilename(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	idx := strings.LastIndex(stem, "_")
	if idx <= 0 {
		return stem
	}
	return stem[:idx]
}

func displayNameFromSlug(slug string) string {
	parts := strings.Split(slug, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
