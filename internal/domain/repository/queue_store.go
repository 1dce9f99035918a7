package repository

import "context"

// QueueStore is the shared key-value store used for cross-process coordination.
// Every method is atomic with respect to every other method on the same store.
// Failures are returned as *apperr.StoreError.
type QueueStore interface {
	// ListPopFront removes and returns the first element of the list at key.
	// ok is false when the list is empty or absent.
	ListPopFront(ctx context.Context, key string) (value string, ok bool, err error)
	// ListPushBack appends value to the list at key.
	ListPushBack(ctx context.Context, key, value string) error
	// HashSet writes field=value and reports how many fields were newly created (0 or 1).
	HashSet(ctx context.Context, key, field, value string) (created int64, err error)
	// HashGet reads one field. ok is false when the field is absent.
	HashGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	HashDelete(ctx context.Context, key, field string) error
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	HashValues(ctx context.Context, key string) ([]string, error)
	// DeleteKey removes the key entirely. Missing keys are not an error.
	DeleteKey(ctx context.Context, key string) error
	Close(ctx context.Context) error
}
