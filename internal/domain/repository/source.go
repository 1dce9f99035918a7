package repository

import (
	"context"

	"migrator/internal/domain/entity"
)

// Source is the document store being migrated from.
type Source interface {
	// Discover lists collections matching names (single name, wildcard pattern or
	// comma-separated list) with their sub-collections. No match is an empty result.
	Discover(ctx context.Context, names string) ([]entity.Index, error)
	// Count returns the number of documents of one sub-collection.
	Count(ctx context.Context, collection, subcollection string) (int64, error)
}
