package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"migrator/internal/domain/apperr"
	"migrator/internal/domain/entity"
	"migrator/internal/domain/repository"
	"migrator/internal/infrastructure/metrics"
)

// DefaultSubcollection is the single sub-collection reported for every
// collection when no type field is configured.
const DefaultSubcollection = "_doc"

// Source discovers collections in one database. Sub-collections are the distinct
// string values of typeField.
type Source struct {
	db        *mongo.Database
	typeField string
}

var _ repository.Source = (*Source)(nil)

func NewSource(db *mongo.Database, typeField string) *Source {
	return &Source{
		db:        db,
		typeField: typeField,
	}
}

// Discover lists matching collections in name order. System collections are never returned.
func (s *Source) Discover(ctx context.Context, names string) ([]entity.Index, error) {
	metrics.IncSourceQuery("discover")

	pattern, err := NamePattern(names)
	if err != nil {
		return nil, apperr.NewSourceQueryError("discover", names, "", err)
	}
	filter := bson.M{"name": bson.M{
		"$regex": primitive.Regex{Pattern: pattern},
		"$not":   primitive.Regex{Pattern: `^system\.`},
	}}
	collections, err := s.db.ListCollectionNames(ctx, filter)
	if err != nil {
		metrics.IncError("mongo_source", "discover_error")
		return nil, apperr.NewSourceQueryError("discover", names, "", err)
	}
	sort.Strings(collections)

	indices := make([]entity.Index, 0, len(collections))
	for _, name := range collections {
		subs, err := s.subcollections(ctx, name)
		if err != nil {
			metrics.IncError("mongo_source", "discover_types_error")
			return nil, apperr.NewSourceQueryError("discover", name, "", err)
		}
		indices = append(indices, entity.Index{Name: name, Subcollections: subs})
	}
	return indices, nil
}

func (s *Source) subcollections(ctx context.Context, collection string) ([]string, error) {
	if s.typeField == "" {
		return []string{DefaultSubcollection}, nil
	}

	values, err := s.db.Collection(collection).Distinct(ctx, s.typeField, bson.D{})
	if err != nil {
		return nil, err
	}
	subs := make([]string, 0, len(values))
	for _, v := range values {
		if str, ok := v.(string); ok && str != "" {
			subs = append(subs, str)
		}
	}
	sort.Strings(subs)
	return subs, nil
}

func (s *Source) Count(ctx context.Context, collection, subcollection string) (int64, error) {
	metrics.IncSourceQuery("count")

	filter := bson.M{}
	if s.typeField != "" {
		filter[s.typeField] = subcollection
	}
	count, err := s.db.Collection(collection).CountDocuments(ctx, filter)
	if err != nil {
		metrics.IncError("mongo_source", "count_error")
		return 0, apperr.NewSourceQueryError("count", collection, subcollection, err)
	}
	return count, nil
}

// NamePattern turns a names argument ("users", "logs-*", "a,b*") into an anchored
// regular expression. Only '*' is special.
func NamePattern(names string) (string, error) {
	parts := strings.Split(names, ",")
	alts := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(part), `\*`, ".*"))
	}
	if len(alts) == 0 {
		return "", fmt.Errorf("empty names %q", names)
	}
	return "^(?:" + strings.Join(alts, "|") + ")$", nil
}
