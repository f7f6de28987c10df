package repository

import (
	"context"
	"errors"

	"partner-auth-plane/internal/directory/domain"
)

// ErrHasPartners is returned by Delete while auth partners still reference
// the directory.
var ErrHasPartners = errors.New("directory still has auth partners")

// Repository defines persistence for directories. Lookup methods return
// (nil, nil) when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Directory, error)
	GetByName(ctx context.Context, name string) (*domain.Directory, error)
	List(ctx context.Context) ([]*domain.Directory, error)
	Create(ctx context.Context, d *domain.Directory) error
	Update(ctx context.Context, d *domain.Directory) error
	// RotateSecret replaces the cookie secret key, invalidating every
	// outstanding claim token of the directory.
	RotateSecret(ctx context.Context, id, secret string) error
	// Delete removes the directory; returns ErrHasPartners while partner
	// rows still reference it.
	Delete(ctx context.Context, id string) error
}
