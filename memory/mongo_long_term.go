package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// MongoLongTermConfig configures the MongoDB-backed long-term store.
type MongoLongTermConfig struct {
	URI        string
	Database   string
	Collection string
	// Dimension is the fixed embedding dimensionality enforced on writes
	// and queries.
	Dimension int
	// ConnectTimeout bounds the initial ping. Defaults to 10s.
	ConnectTimeout time.Duration
}

type mongoMemoryDoc struct {
	ID           string    `bson:"_id"`
	SessionID    string    `bson:"session_id"`
	Kind         string    `bson:"kind"`
	Text         string    `bson:"text"`
	Embedding    []float32 `bson:"embedding"`
	Importance   float64   `bson:"importance"`
	Tags         []string  `bson:"tags,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
	LastAccessed time.Time `bson:"last_accessed"`
}

// MongoLongTermStore persists memory items in MongoDB. Candidate rows
// are narrowed by metadata filter in the database and ranked by cosine
// similarity in process.
type MongoLongTermStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	config MongoLongTermConfig
	logger *zap.Logger
}

// NewMongoLongTermStore connects, verifies reachability, and ensures the
// metadata indexes used by Search filters.
func NewMongoLongTermStore(ctx context.Context, config MongoLongTermConfig, logger *zap.Logger) (*MongoLongTermStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.Collection == "" {
		config.Collection = "memories"
	}

	client, err := mongo.Connect(options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, types.StoreUnavailable("connect mongodb", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, types.StoreUnavailable("ping mongodb", err)
	}

	store := &MongoLongTermStore{
		client: client,
		coll:   client.Database(config.Database).Collection(config.Collection),
		config: config,
		logger: logger.With(zap.String("component", "long_term_mongo")),
	}
	if err := store.ensureIndexes(ctx); err != nil {
		store.logger.Warn("index creation failed, continuing without", zap.Error(err))
	}
	return store, nil
}

func (s *MongoLongTermStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "importance", Value: -1}}},
	})
	return err
}

func (s *MongoLongTermStore) Upsert(ctx context.Context, item types.MemoryItem) error {
	if len(item.Embedding) != s.config.Dimension {
		return types.NewError(types.ErrDimensionMismatch,
			"embedding dimension does not match store")
	}
	if item.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "memory item requires an id")
	}

	doc := mongoMemoryDoc{
		ID:           item.ID,
		SessionID:    item.SessionID,
		Kind:         string(item.Kind),
		Text:         item.Text,
		Embedding:    item.Embedding,
		Importance:   item.Importance,
		Tags:         item.Tags,
		CreatedAt:    item.CreatedAt,
		LastAccessed: item.LastAccessed,
	}
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"_id": item.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return types.StoreUnavailable("upsert memory item", err)
	}
	return nil
}

func (s *MongoLongTermStore) Search(ctx context.Context, query []float32, k int, filter Filter) ([]types.ScoredItem, error) {
	if len(query) != s.config.Dimension {
		return nil, types.NewError(types.ErrDimensionMismatch,
			"query dimension does not match store")
	}
	if k <= 0 {
		return nil, nil
	}

	match := bson.M{}
	if filter.SessionID != "" {
		match["session_id"] = filter.SessionID
	}
	if filter.Kind != "" {
		match["kind"] = string(filter.Kind)
	}
	if filter.MinImportance > 0 {
		match["importance"] = bson.M{"$gte": filter.MinImportance}
	}

	cursor, err := s.coll.Find(ctx, match)
	if err != nil {
		return nil, types.StoreUnavailable("search memory items", err)
	}
	defer cursor.Close(ctx)

	var scored []types.ScoredItem
	for cursor.Next(ctx) {
		var doc mongoMemoryDoc
		if err := cursor.Decode(&doc); err != nil {
			s.logger.Warn("skipping undecodable memory doc", zap.Error(err))
			continue
		}
		if len(doc.Embedding) != s.config.Dimension {
			continue
		}
		scored = append(scored, types.ScoredItem{
			Item:  docToItem(doc),
			Score: cosineSimilarity(query, doc.Embedding),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, types.StoreUnavailable("search memory items", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Item.LastAccessed.After(scored[j].Item.LastAccessed)
	})
	if len(scored) > k {
		scored = scored[:k]
	}

	s.touchAsync(scored)
	return scored, nil
}

// touchAsync bumps LastAccessed on returned items without blocking the
// request path. Failures only log.
func (s *MongoLongTermStore) touchAsync(results []types.ScoredItem) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Item.ID
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.coll.UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": ids}},
			bson.M{"$set": bson.M{"last_accessed": time.Now().UTC()}},
		)
		if err != nil {
			s.logger.Warn("last_accessed update failed", zap.Error(err))
		}
	}()
}

func (s *MongoLongTermStore) Get(ctx context.Context, id string) (types.MemoryItem, error) {
	var doc mongoMemoryDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.MemoryItem{}, types.NewError(types.ErrItemNotFound, "memory item not found: "+id)
	}
	if err != nil {
		return types.MemoryItem{}, types.StoreUnavailable("get memory item", err)
	}
	return docToItem(doc), nil
}

func (s *MongoLongTermStore) Delete(ctx context.Context, id string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return types.StoreUnavailable("delete memory item", err)
	}
	return nil
}

func (s *MongoLongTermStore) Dimension() int { return s.config.Dimension }

func (s *MongoLongTermStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return types.StoreUnavailable("ping", err)
	}
	return nil
}

func (s *MongoLongTermStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func docToItem(doc mongoMemoryDoc) types.MemoryItem {
	return types.MemoryItem{
		ID:           doc.ID,
		SessionID:    doc.SessionID,
		Kind:         types.MemoryKind(doc.Kind),
		Text:         doc.Text,
		Embedding:    doc.Embedding,
		Importance:   doc.Importance,
		Tags:         doc.Tags,
		CreatedAt:    doc.CreatedAt,
		LastAccessed: doc.LastAccessed,
	}
}

var _ LongTermStore = (*MongoLongTermStore)(nil)
