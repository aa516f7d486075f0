// Package store holds the canonical copy of each profile. Writes are
// conditional on the version the caller read, so two submissions racing on
// the same snapshot cannot both commit.
package store

import (
	"context"
	"time"

	"cis/internal/profile/models"
)

// Record is a stored profile and its write version. Version 0 means the
// profile has never been stored.
type Record struct {
	Profile   *models.Profile
	Version   int64
	UpdatedAt time.Time
}

// Store is implemented by the memory and postgres stores.
type Store interface {
	// Find returns sentinel.ErrNotFound when userID has no profile.
	Find(ctx context.Context, userID string) (*Record, error)
	// Save writes p if the stored version still equals expectedVersion and
	// returns the new version. A lost race returns sentinel.ErrConflict.
	Save(ctx context.Context, p *models.Profile, expectedVersion int64) (int64, error)
}
