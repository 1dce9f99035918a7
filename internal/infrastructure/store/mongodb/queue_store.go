package mongodb

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"migrator/internal/domain/apperr"
	"migrator/internal/domain/repository"
	"migrator/internal/infrastructure/metrics"
)

// QueueStore keeps lists and hashes as documents so that MongoDB can serve as the
// shared store. A list element is {key, seq, value}; popping is a FindOneAndDelete
// on the lowest seq. A hash field is {_id: key\x00field, key, field, value}; an
// upsert reports whether the field was created.
//
// Elements pushed concurrently by different processes are popped in seq order,
// which may differ from the order the pushes returned.
type QueueStore struct {
	itemsCol *mongo.Collection
	seqCol   *mongo.Collection
	hashCol  *mongo.Collection
	logger   zerolog.Logger
}

var _ repository.QueueStore = (*QueueStore)(nil)

type listItem struct {
	Key   string `bson:"key"`
	Seq   int64  `bson:"seq"`
	Value string `bson:"value"`
}

type hashField struct {
	ID    string `bson:"_id"`
	Key   string `bson:"key"`
	Field string `bson:"field"`
	Value string `bson:"value"`
}

func NewQueueStore(db *mongo.Database, prefix string, logger zerolog.Logger) *QueueStore {
	items := db.Collection(prefix + "queue_items")
	hashes := db.Collection(prefix + "hash_fields")

	_, _ = items.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{bson.E{Key: "key", Value: 1}, bson.E{Key: "seq", Value: 1}},
	})
	_, _ = hashes.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{bson.E{Key: "key", Value: 1}},
	})

	return &QueueStore{
		itemsCol: items,
		seqCol:   db.Collection(prefix + "queue_seq"),
		hashCol:  hashes,
		logger:   logger.With().Str("component", "mongodb_store").Logger(),
	}
}

func hashFieldID(key, field string) string {
	return key + "\x00" + field
}

func (s *QueueStore) ListPopFront(ctx context.Context, key string) (string, bool, error) {
	metrics.IncStoreOp("mongodb", "pop")

	opts := options.FindOneAndDelete().SetSort(bson.D{bson.E{Key: "seq", Value: 1}})
	var item listItem
	err := s.itemsCol.FindOneAndDelete(ctx, bson.M{"key": key}, opts).Decode(&item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, s.fail("pop", key, err)
	}
	return item.Value, true, nil
}

func (s *QueueStore) ListPushBack(ctx context.Context, key, value string) error {
	metrics.IncStoreOp("mongodb", "push")

	seq, err := s.nextSeq(ctx, key)
	if err != nil {
		return s.fail("push", key, err)
	}
	_, err = s.itemsCol.InsertOne(ctx, listItem{Key: key, Seq: seq, Value: value})
	if err != nil {
		return s.fail("push", key, err)
	}
	return nil
}

// nextSeq never resets, even after DeleteKey, so seq stays monotonic per key.
func (s *QueueStore) nextSeq(ctx context.Context, key string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.seqCol.FindOneAndUpdate(ctx,
		bson.M{"_id": key},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

func (s *QueueStore) HashSet(ctx context.Context, key, field, value string) (int64, error) {
	metrics.IncStoreOp("mongodb", "hset")

	update := bson.M{
		"$set":         bson.M{"value": value},
		"$setOnInsert": bson.M{"key": key, "field": field},
	}
	res, err := s.hashCol.UpdateOne(ctx,
		bson.M{"_id": hashFieldID(key, field)},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return 0, s.fail("hset", key, err)
	}
	return res.UpsertedCount, nil
}

func (s *QueueStore) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	metrics.IncStoreOp("mongodb", "hget")

	var doc hashField
	err := s.hashCol.FindOne(ctx, bson.M{"_id": hashFieldID(key, field)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, s.fail("hget", key, err)
	}
	return doc.Value, true, nil
}

func (s *QueueStore) HashDelete(ctx context.Context, key, field string) error {
	metrics.IncStoreOp("mongodb", "hdel")

	_, err := s.hashCol.DeleteOne(ctx, bson.M{"_id": hashFieldID(key, field)})
	if err != nil {
		return s.fail("hdel", key, err)
	}
	return nil
}

func (s *QueueStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	metrics.IncStoreOp("mongodb", "hgetall")

	fields, err := s.findFields(ctx, key)
	if err != nil {
		return nil, s.fail("hgetall", key, err)
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f.Field] = f.Value
	}
	return out, nil
}

func (s *QueueStore) HashValues(ctx context.Context, key string) ([]string, error) {
	metrics.IncStoreOp("mongodb", "hvals")

	fields, err := s.findFields(ctx, key)
	if err != nil {
		return nil, s.fail("hvals", key, err)
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Value)
	}
	return out, nil
}

func (s *QueueStore) DeleteKey(ctx context.Context, key string) error {
	metrics.IncStoreOp("mongodb", "del")

	if _, err := s.itemsCol.DeleteMany(ctx, bson.M{"key": key}); err != nil {
		return s.fail("del", key, err)
	}
	if _, err := s.hashCol.DeleteMany(ctx, bson.M{"key": key}); err != nil {
		return s.fail("del", key, err)
	}
	return nil
}

// Close is a no-op; the client is owned by whoever connected it.
func (s *QueueStore) Close(context.Context) error {
	return nil
}

func (s *QueueStore) findFields(ctx context.Context, key string) ([]hashField, error) {
	cur, err := s.hashCol.Find(ctx, bson.M{"key": key})
	if err != nil {
		return nil, err
	}
	defer closeCursor(ctx, cur, s.logger)

	var result []hashField
	for cur.Next(ctx) {
		var doc hashField
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, cur.Err()
}

func (s *QueueStore) fail(op, key string, err error) error {
	metrics.IncError("mongo_queue_store", op+"_error")
	return apperr.NewStoreError(op, key, err)
}

type cursorCloser interface {
	Close(ctx context.Context) error
}

// closeCursor releases cur; a failure is logged and counted but does not
// change the result of the read that used it.
func closeCursor(ctx context.Context, cur cursorCloser, logger zerolog.Logger) {
	if err := cur.Close(ctx); err != nil {
		metrics.IncError("mongodb_store", "cursor_close")
		logger.Warn().Err(err).Msg("close cursor failed")
	}
}
