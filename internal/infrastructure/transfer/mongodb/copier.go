package mongodb

import (
	"context"
	"fmt"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"migrator/internal/domain/entity"
	"migrator/internal/domain/repository"
	"migrator/internal/infrastructure/metrics"
)

const defaultBatchSize = 500

// Copier copies one job's documents between two databases, keeping _id.
// Documents already present in the destination are replaced, so a job can be re-run.
type Copier struct {
	src       *mongo.Database
	dst       *mongo.Database
	typeField string
	batchSize int
}

var _ repository.Transfer = (*Copier)(nil)

func NewCopier(src, dst *mongo.Database, typeField string, batchSize int) *Copier {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Copier{
		src:       src,
		dst:       dst,
		typeField: typeField,
		batchSize: batchSize,
	}
}

func (c *Copier) Transfer(ctx context.Context, job *entity.Job) error {
	filter := bson.M{}
	if c.typeField != "" {
		filter[c.typeField] = job.Subcollection
	}

	cur, err := c.src.Collection(job.Collection).Find(ctx, filter, options.Find().SetBatchSize(int32(c.batchSize)))
	if err != nil {
		metrics.IncError("mongo_copier", "find_error")
		return fmt.Errorf("read %s: %w", job.ID(), err)
	}
	defer func() {
		err := cur.Close(ctx)
		if err != nil {
			log.Printf("close cursor err: %s", err)
		}
	}()

	dst := c.dst.Collection(job.Collection)
	batch := make([]mongo.WriteModel, 0, c.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := dst.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false))
		batch = batch[:0]
		return err
	}

	for cur.Next(ctx) {
		// cur.Current is reused by the next batch
		doc := make(bson.Raw, len(cur.Current))
		copy(doc, cur.Current)
		if err := doc.Validate(); err != nil {
			return fmt.Errorf("decode %s: %w", job.ID(), err)
		}
		id := doc.Lookup("_id")
		batch = append(batch, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": id}).
			SetReplacement(doc).
			SetUpsert(true))
		if len(batch) >= c.batchSize {
			if err := flush(); err != nil {
				metrics.IncError("mongo_copier", "write_error")
				return fmt.Errorf("write %s: %w", job.ID(), err)
			}
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("read %s: %w", job.ID(), err)
	}
	if err := flush(); err != nil {
		metrics.IncError("mongo_copier", "write_error")
		return fmt.Errorf("write %s: %w", job.ID(), err)
	}
	return nil
}
