// Package pgstore implements docstore.Store on Postgres: documents live as
// JSONB rows in a single table and snapshot subscriptions are fanned out
// over Redis Pub/Sub so every instance re-reads and pushes after a write.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/aport/chat-api/internal/docstore"
)

const channelPrefix = "docstore:"

// Schema creates the documents table. Applied by the server at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	seq        BIGSERIAL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection_seq_idx ON documents (collection, seq);
`

// Store is a Postgres-backed document store. With a nil Redis client change
// notifications stay in-process, which is enough for a single instance.
type Store struct {
	db    *sqlx.DB
	redis *redis.Client

	mu   sync.Mutex
	subs map[string][]*subscription

	ctx    context.Context
	cancel context.CancelFunc
	pubsub *redis.PubSub
}

// New creates the store and, when Redis is available, starts the cross-
// instance notification listener.
func New(db *sqlx.DB, redisClient *redis.Client) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:     db,
		redis:  redisClient,
		subs:   make(map[string][]*subscription),
		ctx:    ctx,
		cancel: cancel,
	}
	if redisClient != nil {
		s.pubsub = redisClient.PSubscribe(ctx, channelPrefix+"*")
		go s.listen()
	}
	return s
}

// Init applies the schema.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// Close tears down the notification listener and all subscriptions.
func (s *Store) Close() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	return decodeDocument(id, raw)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)
	args := []interface{}{q.Collection}

	for _, f := range q.Filters {
		if f.Op != "" && f.Op != "==" {
			return nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
		args = append(args, fmt.Sprintf("%v", f.Value))
		fmt.Fprintf(&sb, ` AND data->>%s = $%d`, quoteLiteral(f.Field), len(args))
	}

	switch {
	case q.OrderBy == "":
		sb.WriteString(` ORDER BY seq`)
	case isTimestampField(q.OrderBy):
		fmt.Fprintf(&sb, ` ORDER BY (data->>%s)::timestamptz`, quoteLiteral(q.OrderBy))
	default:
		fmt.Fprintf(&sb, ` ORDER BY data->>%s`, quoteLiteral(q.OrderBy))
	}
	if q.Desc {
		sb.WriteString(` DESC`)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryxContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []docstore.Document
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := decodeDocument(id, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (s *Store) Insert(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	id := uuid.NewString()
	data, err := s.encodeFields(ctx, fields)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`,
		collection, id, data)
	if err != nil {
		return "", err
	}
	s.publish(ctx, collection)
	return id, nil
}

func (s *Store) Upsert(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error {
	data, err := s.encodeFields(ctx, fields)
	if err != nil {
		return err
	}

	var query string
	if merge {
		// JSONB || keeps fields the write does not mention.
		query = `
			INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
			ON CONFLICT (collection, id)
			DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`
	} else {
		query = `
			INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
			ON CONFLICT (collection, id)
			DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	}
	if _, err := s.db.ExecContext(ctx, query, collection, id, data); err != nil {
		return err
	}
	s.publish(ctx, collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return err
	}
	s.publish(ctx, collection)
	return nil
}

func (s *Store) Subscribe(ctx context.Context, collection string) (docstore.Subscription, error) {
	sub := &subscription{
		store:      s,
		collection: collection,
		ch:         make(chan []docstore.Document, 1),
	}

	s.mu.Lock()
	s.subs[collection] = append(s.subs[collection], sub)
	s.mu.Unlock()

	sub.refresh(ctx)
	return sub, nil
}

// encodeFields resolves ServerTimestamp sentinels against the database
// clock and renders the document as JSON.
func (s *Store) encodeFields(ctx context.Context, fields map[string]interface{}) ([]byte, error) {
	resolved := make(map[string]interface{}, len(fields))
	var serverNow time.Time

	for k, v := range fields {
		if v == docstore.ServerTimestamp {
			if serverNow.IsZero() {
				if err := s.db.GetContext(ctx, &serverNow, `SELECT now()`); err != nil {
					return nil, err
				}
			}
			resolved[k] = serverNow.Format(time.RFC3339Nano)
			continue
		}
		if t, ok := v.(time.Time); ok {
			resolved[k] = t.Format(time.RFC3339Nano)
			continue
		}
		resolved[k] = v
	}
	return json.Marshal(resolved)
}

// publish notifies subscribers, locally and across instances via Redis.
func (s *Store) publish(ctx context.Context, collection string) {
	s.notifyLocal(collection)
	if s.redis != nil {
		if err := s.redis.Publish(ctx, channelPrefix+collection, "1").Err(); err != nil {
			log.Warn().Err(err).Str("collection", collection).Msg("Failed to publish docstore change")
		}
	}
}

func (s *Store) notifyLocal(collection string) {
	s.mu.Lock()
	subs := append([]*subscription(nil), s.subs[collection]...)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.refresh(s.ctx)
	}
}

// listen consumes Redis change notifications published by other instances.
func (s *Store) listen() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.pubsub.Channel():
			if !ok {
				return
			}
			s.notifyLocal(strings.TrimPrefix(msg.Channel, channelPrefix))
		}
	}
}

func (s *Store) unsubscribe(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[sub.collection]
	for i, candidate := range list {
		if candidate == sub {
			s.subs[sub.collection] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

type subscription struct {
	store      *Store
	collection string
	ch         chan []docstore.Document
	closeOnce  sync.Once
	mu         sync.Mutex
	closed     bool
}

func (s *subscription) Snapshots() <-chan []docstore.Document { return s.ch }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.store.unsubscribe(s)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}

// refresh re-queries the collection and delivers the snapshot, replacing
// any undelivered one.
func (s *subscription) refresh(ctx context.Context) {
	docs, err := s.store.Query(ctx, docstore.Query{Collection: s.collection})
	if err != nil {
		log.Warn().Err(err).Str("collection", s.collection).Msg("Snapshot refresh failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- docs:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

// decodeDocument unmarshals a JSONB row payload into a Document.
func decodeDocument(id string, raw []byte) (*docstore.Document, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return &docstore.Document{ID: id, Fields: fields}, nil
}

func isTimestampField(field string) bool {
	switch field {
	case "timestamp", "ban_start_time":
		return true
	}
	return false
}

// quoteLiteral renders a field name as a SQL string literal for JSONB
// lookups. Field names come from code, never from callers.
func quoteLiteral(field string) string {
	return "'" + strings.ReplaceAll(field, "'", "''") + "'"
}
