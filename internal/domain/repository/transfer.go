package repository

import (
	"context"

	"migrator/internal/domain/entity"
)

// Transfer copies the documents of one job from source to destination.
// Retrying within a job is the implementation's business.
type Transfer interface {
	Transfer(ctx context.Context, job *entity.Job) error
}
