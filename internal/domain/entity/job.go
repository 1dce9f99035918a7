package entity

import (
	"fmt"
	"strings"

	"migrator/internal/domain/apperr"
)

// JobIDSeparator joins collection and sub-collection into a job id.
// Neither name may contain it.
const JobIDSeparator = ":"

// Job is one (collection, sub-collection) unit of migration work.
type Job struct {
	Collection    string `json:"collection" bson:"collection"`
	Subcollection string `json:"subcollection" bson:"subcollection"`
	Count         int64  `json:"count" bson:"count"`
}

// NewJob validates both names and returns a job with an unset count.
func NewJob(collection, subcollection string) (*Job, error) {
	if err := validateName("collection", collection); err != nil {
		return nil, err
	}
	if err := validateName("subcollection", subcollection); err != nil {
		return nil, err
	}
	return &Job{
		Collection:    collection,
		Subcollection: subcollection,
	}, nil
}

// NewJobWithCount is NewJob followed by setting the count.
func NewJobWithCount(collection, subcollection string, count int64) (*Job, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d for %s%s%s", apperr.ErrInvalidJob, count, collection, JobIDSeparator, subcollection)
	}
	job, err := NewJob(collection, subcollection)
	if err != nil {
		return nil, err
	}
	job.Count = count
	return job, nil
}

// ParseJobID splits an id produced by Job.ID back into its parts.
func ParseJobID(id string) (collection, subcollection string, err error) {
	collection, subcollection, ok := strings.Cut(id, JobIDSeparator)
	if !ok || collection == "" || subcollection == "" || strings.Contains(subcollection, JobIDSeparator) {
		return "", "", fmt.Errorf("%w: malformed job id %q", apperr.ErrInvalidJob, id)
	}
	return collection, subcollection, nil
}

// JobFromEntry rebuilds a job from a stored id and its count.
func JobFromEntry(id string, count int64) (*Job, error) {
	collection, subcollection, err := ParseJobID(id)
	if err != nil {
		return nil, err
	}
	return NewJobWithCount(collection, subcollection, count)
}

func (j *Job) ID() string {
	return j.Collection + JobIDSeparator + j.Subcollection
}

// Equal reports whether both jobs have the same id.
func (j *Job) Equal(other *Job) bool {
	if j == nil || other == nil {
		return j == other
	}
	return j.ID() == other.ID()
}

func (j *Job) String() string {
	return fmt.Sprintf("%s (%d)", j.ID(), j.Count)
}

func validateName(field, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s name is empty", apperr.ErrInvalidJob, field)
	}
	if strings.Contains(name, JobIDSeparator) {
		return fmt.Errorf("%w: %s name %q contains separator %q", apperr.ErrInvalidJob, field, name, JobIDSeparator)
	}
	return nil
}
