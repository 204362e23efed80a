package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/downfa11-org/packrat/pkg/types"
	"github.com/downfa11-org/packrat/util"
)

// mongo server error code for "collection already exists"
const codeNamespaceExists = 48

type MongoConfig struct {
	URI        string
	Database   string
	Username   string
	Password   string
	AuthSource string
	Timeout    time.Duration
	// OffsetTopics restricts which topics may hold cursors; empty allows any.
	OffsetTopics []string
}

// MongoStore keeps one collection per topic plus the reserved _offsets collection.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	offsets *mongo.Collection
	timeout time.Duration
	allowed map[string]struct{}

	mu    sync.RWMutex
	known map[string]struct{}

	logger *zap.Logger
}

func NewMongoStore(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	logger = util.Component(logger, "mongo_store")

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Username != "" {
		source := cfg.AuthSource
		if source == "" {
			source = cfg.Database
		}
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: source,
		})
	}
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout)
		opts.SetServerSelectionTimeout(cfg.Timeout)
	}

	logger.Info("connecting to mongodb", zap.String("database", cfg.Database), zap.String("user", cfg.Username))
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:  client,
		db:      db,
		offsets: db.Collection(OffsetsNamespace),
		timeout: cfg.Timeout,
		known:   make(map[string]struct{}),
		logger:  logger,
	}
	if len(cfg.OffsetTopics) > 0 {
		s.allowed = make(map[string]struct{}, len(cfg.OffsetTopics))
		for _, t := range cfg.OffsetTopics {
			s.allowed[t] = struct{}{}
		}
	}
	return s, nil
}

func (s *MongoStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ---- namespaces ----

func (s *MongoStore) refreshNamespaces(ctx context.Context) error {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.known[n] = struct{}{}
	}
	return nil
}

func (s *MongoStore) hasNamespace(ctx context.Context, topic string) (bool, error) {
	if topic == "" || topic == OffsetsNamespace {
		return false, nil
	}
	s.mu.RLock()
	_, ok := s.known[topic]
	s.mu.RUnlock()
	if ok {
		return true, nil
	}

	if err := s.refreshNamespaces(ctx); err != nil {
		return false, err
	}
	s.mu.RLock()
	_, ok = s.known[topic]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MongoStore) requireNamespace(ctx context.Context, topic string) error {
	ok, err := s.hasNamespace(ctx, topic)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: topic '%s' doesn't exist", ErrUnknownTopic, topic)
	}
	return nil
}

func (s *MongoStore) Provision(ctx context.Context, topic string) error {
	if topic == "" || topic == OffsetsNamespace || strings.HasPrefix(topic, "system.") {
		return fmt.Errorf("invalid namespace name %q", topic)
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	err := s.db.CreateCollection(ctx, topic)
	var cmdErr mongo.CommandError
	if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists) {
		return fmt.Errorf("create collection %q: %w", topic, err)
	}
	if err == nil {
		s.logger.Info("provisioned namespace", zap.String("topic", topic))
	}

	s.mu.Lock()
	s.known[topic] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MongoStore) Namespaces(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": bson.M{"$ne": OffsetsNamespace}})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	out := names[:0]
	for _, n := range names {
		if !strings.HasPrefix(n, "system.") {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}

// ---- records ----

func (s *MongoStore) Persist(ctx context.Context, topic string, header types.Header, payload any) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.requireNamespace(ctx, topic); err != nil {
		return err
	}

	key := header.UniqueKey()
	doc := bson.D{
		{Key: "_id", Value: key},
		{Key: "uniqueKey", Value: key},
		{Key: "groupId", Value: header.GroupID},
		{Key: "emitterId", Value: header.EmitterID},
		{Key: "sessionTimestamp", Value: header.SessionTimestamp},
		{Key: "recordTimestamp", Value: header.RecordTimestamp},
		{Key: "version", Value: header.Version},
		{Key: "topic", Value: topic},
		{Key: "payload", Value: payload},
	}
	if _, err := s.db.Collection(topic).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s in %q", ErrDuplicateRecord, key, topic)
		}
		return fmt.Errorf("insert %s into %q: %w", key, topic, err)
	}
	return nil
}

// ---- offsets ----

func cursorID(topic string, partition int32) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}

func (s *MongoStore) checkOffsetTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic name", ErrUnknownTopic)
	}
	if s.allowed == nil {
		return nil
	}
	if _, ok := s.allowed[topic]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	return nil
}

func (s *MongoStore) GetOffset(ctx context.Context, topic string, partition int32) (int64, error) {
	if err := s.checkOffsetTopic(topic); err != nil {
		return 0, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	id := cursorID(topic, partition)
	for attempt := 0; attempt < 2; attempt++ {
		var c types.Cursor
		err := s.offsets.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
		if err == nil {
			return c.Offset, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("read cursor %s: %w", id, err)
		}

		_, err = s.offsets.InsertOne(ctx, bson.D{
			{Key: "_id", Value: id},
			{Key: "topic", Value: topic},
			{Key: "partition", Value: partition},
			{Key: "offset", Value: int64(0)},
		})
		if err == nil {
			return 0, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("seed cursor %s: %w", id, err)
		}
		// lost the seeding race; read what the winner stored
	}
	return 0, fmt.Errorf("read cursor %s: concurrent seeding did not settle", id)
}

func (s *MongoStore) UpdateOffset(ctx context.Context, topic string, partition int32, candidate int64) (bool, error) {
	if err := s.checkOffsetTopic(topic); err != nil {
		return false, err
	}
	if candidate <= 0 {
		return false, nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	id := cursorID(topic, partition)
	res, err := s.offsets.UpdateOne(ctx,
		bson.M{"_id": id, "offset": bson.M{"$lt": candidate}},
		bson.M{
			"$set":         bson.M{"offset": candidate},
			"$setOnInsert": bson.M{"topic": topic, "partition": partition},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		// the upsert collides with an existing cursor that is already >= candidate
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("update cursor %s: %w", id, err)
	}

	applied := res.ModifiedCount > 0 || res.UpsertedCount > 0
	if applied {
		s.logger.Debug("set new offset",
			zap.String("topic", topic), zap.Int32("partition", partition), zap.Int64("offset", candidate))
	}
	return applied, nil
}

// ---- queries ----

func (s *MongoStore) distinctStrings(ctx context.Context, topic, field string, filter any) ([]string, error) {
	values, err := s.db.Collection(topic).Distinct(ctx, field, filter)
	if err != nil {
		return nil, fmt.Errorf("distinct %s in %q: %w", field, topic, err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *MongoStore) Emitters(ctx context.Context, topic string) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.requireNamespace(ctx, topic); err != nil {
		return nil, err
	}
	return s.distinctStrings(ctx, topic, "emitterId", bson.D{})
}

func (s *MongoStore) Sessions(ctx context.Context, topic, emitterID string) ([]int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.requireNamespace(ctx, topic); err != nil {
		return nil, err
	}

	values, err := s.db.Collection(topic).Distinct(ctx, "sessionTimestamp", bson.M{"emitterId": emitterID})
	if err != nil {
		return nil, fmt.Errorf("distinct sessions in %q: %w", topic, err)
	}
	// numbers may come back as int32 or int64 depending on the writer
	out := make([]int64, 0, len(values))
	for _, v := range values {
		switch n := v.(type) {
		case int64:
			out = append(out, n)
		case int32:
			out = append(out, int64(n))
		case float64:
			out = append(out, int64(n))
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *MongoStore) SessionRecords(ctx context.Context, topic, emitterID string, session int64) ([]types.Record, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if err := s.requireNamespace(ctx, topic); err != nil {
		return nil, err
	}

	cur, err := s.db.Collection(topic).Find(ctx,
		bson.M{"emitterId": emitterID, "sessionTimestamp": session},
		options.Find().SetSort(bson.D{{Key: "recordTimestamp", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find session records in %q: %w", topic, err)
	}
	out := []types.Record{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode session records in %q: %w", topic, err)
	}
	return out, nil
}

func (s *MongoStore) Groups(ctx context.Context) (map[string][]string, error) {
	topics, err := s.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	out := make(map[string][]string, len(topics))
	for _, topic := range topics {
		groups, err := s.distinctStrings(ctx, topic, "groupId", bson.D{})
		if err != nil {
			return nil, err
		}
		out[topic] = groups
	}
	return out, nil
}

func (s *MongoStore) EmittersForGroup(ctx context.Context, groupID string) (map[string][]string, error) {
	topics, err := s.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	out := make(map[string][]string, len(topics))
	for _, topic := range topics {
		emitters, err := s.distinctStrings(ctx, topic, "emitterId", bson.M{"groupId": groupID})
		if err != nil {
			return nil, err
		}
		out[topic] = emitters
	}
	return out, nil
}
