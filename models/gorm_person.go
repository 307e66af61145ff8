package models

import (
	"strings"
	"unicode"
)

// Person represents an enrolled household member using GORM.
// It corresponds to the 'persons' table. The name is a normalized slug
// (lowercase, underscores, alnum-only) that also keys the enrollment image
// files on disk ({slug}_{n}.jpg).
type Person struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	DisplayName string `json:"display_name"`
	AutoUnlock  bool   `gorm:"not null;default:true" json:"auto_unlock"`
	CreatedAt   int64  `gorm:"not null" json:"created_at"` // Unix timestamp

	// populated from disk by the repository, not persisted
	PhotoCount int      `gorm:"-" json:"photo_count"`
	Photos     []string `gorm:"-" json:"photos,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Person) TableName() string {
	return "persons"
}

// SlugifyName normalizes a human name to the on-disk slug form: lowercase,
// spaces to underscores, everything else non-alphanumeric stripped.
func SlugifyName(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	lowered = strings.ReplaceAll(lowered, " ", "_")
	var b strings.Builder
	for _, r := range lowered {
		if r == '_' || unicode.IsLower(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
