package repository

import (
	"context"

	"partner-auth-plane/internal/audit/domain"
)

// Repository defines persistence for auth events.
type Repository interface {
	Save(ctx context.Context, e *domain.AuthEvent) error
	ListByDirectory(ctx context.Context, directoryID string, limit, offset int32) ([]*domain.AuthEvent, error)
}
