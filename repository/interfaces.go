package repository

import "github.com/camden-git/watchtowerbackend/models"

// PersonRepositoryInterface defines the contract for person catalog operations
type PersonRepositoryInterface interface {
	UpsertByName(name, displayName string) (*models.Person, error)
	GetByName(name string) (*models.Person, error)
	ListAll() ([]models.Person, error)
	SetAutoUnlock(name string, enabled bool) error
	Delete(name string) error
	SyncFromDisk() (int, error)
}
