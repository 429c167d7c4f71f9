package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/myh0420/crawlerframework/internal/crawltypes"
)

// MongoStorage is an alternate Storage plugin writing every
// CrawlResult as a document to a MongoDB collection. It sorts ahead
// of JSONStorage in the dispatcher chain, so when Mongo is configured
// it is the primary backend and the file output only catches results
// Mongo fails to save.
type MongoStorage struct {
	logger     *slog.Logger
	uri        string
	database   string
	collection string

	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStorage builds a MongoStorage; the connection is opened in
// Initialize, not here, so construction never blocks on the network.
func NewMongoStorage(uri, database, collection string, logger *slog.Logger) *MongoStorage {
	return &MongoStorage{
		logger:     logger.With("component", "mongo_storage"),
		uri:        uri,
		database:   database,
		collection: collection,
	}
}

func (s *MongoStorage) Name() string  { return "mongodb" }
func (s *MongoStorage) Priority() int { return 10 }

func (s *MongoStorage) Initialize(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return fmt.Errorf("mongodb ping: %w", err)
	}

	s.client = client
	s.coll = client.Database(s.database).Collection(s.collection)
	return nil
}

func (s *MongoStorage) Save(ctx context.Context, result *crawltypes.CrawlResult) error {
	doc := map[string]any{
		"url":          result.Request.URL.String(),
		"depth":        result.Request.Depth,
		"processed_at": result.ProcessedAt,
	}
	if result.Download != nil {
		doc["status_code"] = result.Download.StatusCode
		doc["content_type"] = result.Download.ContentType
	}
	if result.Parse != nil {
		doc["title"] = result.Parse.Title
		doc["links"] = result.Parse.Links
		doc["images"] = result.Parse.Images
		for k, v := range result.Parse.ExtractedData {
			doc[k] = v
		}
	}

	saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.coll.InsertOne(saveCtx, doc); err != nil {
		return fmt.Errorf("mongodb insert: %w", err)
	}
	return nil
}

func (s *MongoStorage) SaveStatistics(ctx context.Context, stats map[string]int64) error {
	statsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	doc := map[string]any{"_id": "statistics", "stats": stats, "updated_at": time.Now()}
	upsert := true
	_, err := s.coll.Database().Collection("crawl_statistics").ReplaceOne(
		statsCtx,
		map[string]any{"_id": "statistics"},
		doc,
		&options.ReplaceOptions{Upsert: &upsert},
	)
	if err != nil {
		return fmt.Errorf("mongodb statistics upsert: %w", err)
	}
	return nil
}

func (s *MongoStorage) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
