package mongodb

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"migrator/internal/domain/entity"
)

func TestNewCopier_DefaultBatchSize(t *testing.T) {
	c := NewCopier(nil, nil, "_type", 0)
	require.Equal(t, defaultBatchSize, c.batchSize)
}

func TestCopier_Transfer(t *testing.T) {
	uri := os.Getenv("MIGRATOR_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MIGRATOR_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	src := client.Database("migrator_cp_src_" + suffix)
	dst := client.Database("migrator_cp_dst_" + suffix)
	t.Cleanup(func() {
		_ = src.Drop(context.Background())
		_ = dst.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	docs := []interface{}{
		bson.M{"_id": 1, "_type": "t1"},
		bson.M{"_id": 2, "_type": "t1"},
		bson.M{"_id": 3, "_type": "t2"},
	}
	_, err = src.Collection("A").InsertMany(ctx, docs)
	require.NoError(t, err)

	job, err := entity.NewJob("A", "t1")
	require.NoError(t, err)

	copier := NewCopier(src, dst, "_type", 1)
	require.NoError(t, copier.Transfer(ctx, job))
	require.NoError(t, copier.Transfer(ctx, job), "re-running a job replaces documents")

	n, err := dst.Collection("A").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}
