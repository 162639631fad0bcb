// Package docstore is the MongoDB-backed document store: conversations,
// messages, users, failed imports, and file metadata. It is the single
// source of truth the indexer writes to and the search engine's lexical
// leg reads from.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

const (
	collConversations  = "conversations"
	collMessages       = "messages"
	collUsers          = "users"
	collFailedImports  = "failed_imports"
	collFiles          = "files"
)

// Store wraps a MongoDB database handle with the collection-specific
// operations the indexer and search engine need.
type Store struct {
	db *mongo.Database

	indexOnce sync.Once
	indexErr  error
}

// Connect dials MongoDB at url and returns a Store bound to database.
func Connect(ctx context.Context, url, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{db: client.Database(database)}, nil
}

// NewFromDatabase builds a Store over an already-connected database
// handle, used by tests against an in-memory or mocked driver.
func NewFromDatabase(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Database returns the underlying database handle, so callers that own a
// sibling collection in the same database (the Job Store's "uploads"
// collection) can share one connection.
func (s *Store) Database() *mongo.Database {
	return s.db
}

// EnsureIndexes creates every index the document store relies on, exactly
// once per process, per spec.md §6.3: a full-text index on messages.text,
// secondary indexes on messages.conversation_id/ts/username, and unique
// indexes on conversations.id and users.username.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	s.indexOnce.Do(func() {
		s.indexErr = s.createIndexes(ctx)
	})
	return s.indexErr
}

func (s *Store) createIndexes(ctx context.Context) error {
	messageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "text", Value: "text"}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}}},
		{Keys: bson.D{{Key: "ts", Value: 1}}},
		{Keys: bson.D{{Key: "username", Value: 1}}},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "ts", Value: 1}, {Key: "text_hash", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("dedupe_key"),
		},
	}
	if _, err := s.db.Collection(collMessages).Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}

	if _, err := s.db.Collection(collConversations).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create conversation index: %w", err)
	}

	if _, err := s.db.Collection(collUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create user index: %w", err)
	}

	return nil
}

// TextHash returns the stable duplicate-detection hash for a message
// body, combined with (conversation_id, ts) by UpsertMessages to form
// the dedupe key; dedupeFields folds system_action into its input.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// UpsertConversation inserts or updates a conversation by id.
func (s *Store) UpsertConversation(ctx context.Context, c slackmodel.Conversation) error {
	_, err := s.db.Collection(collConversations).ReplaceOne(
		ctx,
		bson.M{"_id": c.ID},
		c,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", c.ID, err)
	}
	return nil
}

// dedupeFields mirrors the unique index on messages: (conversation_id, ts,
// text_hash[, system_action]). system_action is folded into the hash
// input rather than a distinct field so the index stays three-part.
func dedupeFields(m slackmodel.Message) (string, time.Time, string) {
	hashInput := m.Text
	if m.SystemAction != "" {
		hashInput = m.SystemAction + "\x00" + m.Text
	}
	return m.ConversationID, m.TS, TextHash(hashInput)
}

// UpsertMessages inserts a batch of messages, skipping ones that already
// exist under the (conversation_id, ts, text-hash) dedupe key so re-runs
// on the same extract tree are idempotent.
func (s *Store) UpsertMessages(ctx context.Context, messages []slackmodel.Message) (inserted int, err error) {
	if len(messages) == 0 {
		return 0, nil
	}

	coll := s.db.Collection(collMessages)
	models := make([]mongo.WriteModel, 0, len(messages))
	for _, m := range messages {
		convID, ts, hash := dedupeFields(m)
		doc := bson.M{}
		raw, marshalErr := bson.Marshal(m)
		if marshalErr != nil {
			return inserted, fmt.Errorf("marshal message for %s at %s: %w", convID, ts, marshalErr)
		}
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return inserted, fmt.Errorf("unmarshal message doc: %w", err)
		}
		doc["text_hash"] = hash

		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"conversation_id": convID, "ts": ts, "text_hash": hash}).
			SetUpdate(bson.M{"$setOnInsert": doc}).
			SetUpsert(true))
	}

	result, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return inserted, fmt.Errorf("bulk upsert %d messages: %w", len(messages), err)
	}
	return int(result.UpsertedCount), nil
}

// UpsertUser applies $min/$max on first_seen/last_seen, $addToSet on the
// conversation list, and $inc on message count for one username's
// activity in one conversation.
func (s *Store) UpsertUser(ctx context.Context, username, conversationID string, seenAt time.Time) error {
	if username == "" {
		return nil
	}
	_, err := s.db.Collection(collUsers).UpdateOne(
		ctx,
		bson.M{"_id": username},
		bson.M{
			"$min":      bson.M{"first_seen": seenAt},
			"$max":      bson.M{"last_seen": seenAt},
			"$addToSet": bson.M{"conversations": conversationID},
			"$inc":      bson.M{"message_count": 1},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", username, err)
	}
	return nil
}

// InsertFailedImport records a single unrecoverable parse or write
// failure without blocking job advancement.
func (s *Store) InsertFailedImport(ctx context.Context, f slackmodel.FailedImport) error {
	_, err := s.db.Collection(collFailedImports).InsertOne(ctx, f)
	if err != nil {
		return fmt.Errorf("insert failed import %s: %w", f.ID, err)
	}
	return nil
}

// UpsertFile records attachment metadata surfaced by the export.
func (s *Store) UpsertFile(ctx context.Context, f slackmodel.File) error {
	_, err := s.db.Collection(collFiles).ReplaceOne(
		ctx, bson.M{"_id": f.ID}, f, options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert file %s: %w", f.ID, err)
	}
	return nil
}

// CountMessages returns the total message count, used by testable
// properties that assert dual-write parity with the vector store.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(collMessages).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// StreamMessages iterates every message in (conversation_id, ts) order,
// the deterministic order the training phase requires, invoking fn for
// each batch of at most batchSize messages.
func (s *Store) StreamMessages(ctx context.Context, batchSize int, fn func([]slackmodel.Message) error) error {
	cursor, err := s.db.Collection(collMessages).Find(
		ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "conversation_id", Value: 1}, {Key: "ts", Value: 1}}),
	)
	if err != nil {
		return fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	batch := make([]slackmodel.Message, 0, batchSize)
	for cursor.Next(ctx) {
		var m slackmodel.Message
		if err := cursor.Decode(&m); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		batch = append(batch, m)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// TextSearch runs a $text query against messages.text and returns the
// top limit results ordered by the store's relevance score, descending.
func (s *Store) TextSearch(ctx context.Context, query string, limit int) ([]ScoredMessage, error) {
	if query == "" {
		return nil, nil
	}

	cursor, err := s.db.Collection(collMessages).Find(
		ctx,
		bson.M{"$text": bson.M{"$search": query}},
		options.Find().
			SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
			SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
			SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("text search %q: %w", query, err)
	}
	defer cursor.Close(ctx)

	var results []ScoredMessage
	for cursor.Next(ctx) {
		var doc struct {
			slackmodel.Message `bson:",inline"`
			Score              float64 `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode text search result: %w", err)
		}
		results = append(results, ScoredMessage{Message: doc.Message, Score: doc.Score})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate text search results: %w", err)
	}
	return results, nil
}

// ScoredMessage pairs a Message with its raw lexical relevance score.
type ScoredMessage struct {
	Message slackmodel.Message
	Score   float64
}

// Clear truncates the given collections. Used by the admin clear
// operations; callers are responsible for truncating the vector store in
// lock-step to preserve the dual-write invariant.
func (s *Store) Clear(ctx context.Context, collections ...string) error {
	for _, name := range collections {
		if _, err := s.db.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("clear collection %s: %w", name, err)
		}
	}
	return nil
}

// ClearAll truncates every document-store collection this package owns.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.Clear(ctx, collMessages, collConversations, collUsers, collFailedImports, collFiles)
}

// ListConversations returns conversations ordered by id, used by the
// read-only HTTP views.
func (s *Store) ListConversations(ctx context.Context) ([]slackmodel.Conversation, error) {
	cursor, err := s.db.Collection(collConversations).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var out []slackmodel.Conversation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return out, nil
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*slackmodel.Conversation, error) {
	var c slackmodel.Conversation
	err := s.db.Collection(collConversations).FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &c, nil
}

// ConversationMessages paginates messages within one conversation,
// optionally filtered by a free-text query, ordered by ts ascending.
func (s *Store) ConversationMessages(ctx context.Context, conversationID, query string, page, pageSize int) ([]slackmodel.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if query != "" {
		filter["$text"] = bson.M{"$search": query}
	}
	if page < 1 {
		page = 1
	}
	cursor, err := s.db.Collection(collMessages).Find(
		ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "ts", Value: 1}}).
			SetSkip(int64((page-1)*pageSize)).
			SetLimit(int64(pageSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for conversation %s: %w", conversationID, err)
	}
	defer cursor.Close(ctx)

	var out []slackmodel.Message
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode conversation messages: %w", err)
	}
	return out, nil
}
