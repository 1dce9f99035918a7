// Package apperr holds the error taxonomy shared by the coordinator and its adapters.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when a filter or comparator has the wrong shape,
	// or a module reference cannot be resolved.
	ErrConfiguration = errors.New("configuration error")

	// ErrStoreUnavailable is returned when an operation against the shared store fails.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSourceQuery is returned when discovery or counting against the source system fails.
	ErrSourceQuery = errors.New("source query failed")

	// ErrInvalidJob is returned when a job cannot be built from its parts or its id.
	ErrInvalidJob = errors.New("invalid job")
)

// ConfigurationError describes a rejected set* call.
type ConfigurationError struct {
	Setting string // "index_filter", "type_filter", "index_comparator", ...
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Setting != "" {
		return fmt.Sprintf("configuration error for %s: %s", e.Setting, e.Reason)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// StoreError wraps a failed shared-store operation.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// SourceQueryError wraps a failed discovery or count query.
type SourceQueryError struct {
	Op    string // "discover" or "count"
	Index string
	Type  string
	Err   error
}

func (e *SourceQueryError) Error() string {
	switch {
	case e.Type != "":
		return fmt.Sprintf("source %s %s/%s: %v", e.Op, e.Index, e.Type, e.Err)
	case e.Index != "":
		return fmt.Sprintf("source %s %s: %v", e.Op, e.Index, e.Err)
	default:
		return fmt.Sprintf("source %s: %v", e.Op, e.Err)
	}
}

func (e *SourceQueryError) Unwrap() error {
	return e.Err
}

func (e *SourceQueryError) Is(target error) bool {
	return target == ErrSourceQuery
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(setting, reason string) error {
	return &ConfigurationError{Setting: setting, Reason: reason}
}

// NewStoreError creates a StoreError. A nil err yields nil.
func NewStoreError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

// NewSourceQueryError creates a SourceQueryError. A nil err yields nil.
func NewSourceQueryError(op, index, typ string, err error) error {
	if err == nil {
		return nil
	}
	return &SourceQueryError{Op: op, Index: index, Type: typ, Err: err}
}

func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func IsSourceQuery(err error) bool {
	return errors.Is(err, ErrSourceQuery)
}

func IsInvalidJob(err error) bool {
	return errors.Is(err, ErrInvalidJob)
}
