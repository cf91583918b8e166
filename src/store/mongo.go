package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/leadpulse/realtime/src/types"
)

// ErrNotStarted is returned by store operations before Start has succeeded.
var ErrNotStarted = errors.New("store: not started")

// MongoStore backs the engine's persistence boundary with MongoDB: the
// unread snapshot comes from the leads collection and delivered
// notifications are appended to a history collection. It implements both
// SyncLoader and HistoryRecorder.
type MongoStore struct {
	cfg    *MongoConfig
	logger zerolog.Logger

	client *mongo.Client
	db     *mongo.Database

	mu     sync.RWMutex
	active bool
}

// NewMongoStore creates a Mongo-backed store. Call Start before use.
func NewMongoStore(cfg *MongoConfig, logger zerolog.Logger) *MongoStore {
	return &MongoStore{
		cfg:    cfg,
		logger: logger.With().Str("component", "mongo-store").Logger(),
	}
}

// Start connects to MongoDB and verifies the connection.
func (s *MongoStore) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.cfg.URI))
	if err != nil {
		return err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return err
	}

	s.mu.Lock()
	s.client = client
	s.db = client.Database(s.cfg.Database)
	s.active = true
	s.mu.Unlock()

	s.logger.Info().Str("database", s.cfg.Database).Msg("mongo store started")
	return nil
}

// Stop disconnects from MongoDB.
func (s *MongoStore) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.active = false
	client := s.client
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Disconnect(ctx)
}

// Available reports whether the store is connected.
func (s *MongoStore) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// LoadUnread returns the IDs of leads with unread activity visible to the
// user: admins see every unread lead, other users only leads assigned or
// co-assigned to them. Unknown users get an empty set.
func (s *MongoStore) LoadUnread(ctx context.Context, userID string) ([]string, error) {
	if !s.Available() {
		return nil, ErrNotStarted
	}

	var user struct {
		Role string `bson:"role"`
	}
	err := s.db.Collection("users").FindOne(ctx, bson.M{"email": userID}).Decode(&user)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	filter := bson.M{"whatsapp_has_unread": true}
	if user.Role != "admin" {
		filter = bson.M{
			"whatsapp_has_unread": true,
			"$or": bson.A{
				bson.M{"assigned_to": userID},
				bson.M{"co_assignees": userID},
			},
		}
	}

	opts := options.Find().SetProjection(bson.M{"lead_id": 1})
	cur, err := s.db.Collection(s.cfg.LeadsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			LeadID string `bson:"lead_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		if doc.LeadID != "" {
			ids = append(ids, doc.LeadID)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug().Str("user_id", userID).Int("unread", len(ids)).Msg("unread snapshot loaded")
	return ids, nil
}

// Append inserts a history document for a delivered notification.
func (s *MongoStore) Append(ctx context.Context, userID string, n types.Notification) error {
	if !s.Available() {
		return ErrNotStarted
	}

	doc := bson.M{
		"notification_id":   uuid.New().String(),
		"user_id":           userID,
		"notification_type": string(n.Type),
		"entity_id":         n.EntityID,
		"created_at":        time.Now().UTC(),
		"read_at":           nil,
		"original":          n,
	}
	if n.Payload != nil {
		doc["entity_name"] = n.Payload.EntityName
		doc["message_preview"] = n.Payload.Preview
		doc["message_id"] = n.Payload.MessageID
		doc["direction"] = n.Payload.Direction
	}

	_, err := s.db.Collection(s.cfg.HistoryCollection).InsertOne(ctx, doc)
	return err
}
