// Package memstore is an in-process docstore.Store. It backs every test and
// is the server default when no DATABASE_URL is configured.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aport/chat-api/internal/docstore"
)

type record struct {
	fields map[string]interface{}
	seq    int64
}

// Store keeps collections in maps guarded by one mutex. Snapshot order is
// insertion order, matching the stable ordering real stores give a
// subscription without an explicit order-by.
type Store struct {
	mu   sync.Mutex
	cols map[string]map[string]*record
	subs map[string][]*subscription
	seq  int64
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's authoritative clock. Tests use this to
// control server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		cols: make(map[string]map[string]*record),
		subs: make(map[string][]*subscription),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.cols[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return &docstore.Document{ID: id, Fields: cloneFields(rec.fields)}, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.snapshotLocked(q.Collection)

	filtered := docs[:0]
	for _, d := range docs {
		if matches(&d, q.Filters) {
			filtered = append(filtered, d)
		}
	}
	docs = filtered

	if q.OrderBy != "" {
		field := q.OrderBy
		sort.SliceStable(docs, func(i, j int) bool {
			less := fieldLess(&docs[i], &docs[j], field)
			if q.Desc {
				return !less
			}
			return less
		})
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (s *Store) Insert(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	s.writeLocked(collection, id, fields, false)
	s.mu.Unlock()

	s.notify(collection)
	return id, nil
}

func (s *Store) Upsert(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error {
	s.mu.Lock()
	s.writeLocked(collection, id, fields, merge)
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if col, ok := s.cols[collection]; ok {
		delete(col, id)
	}
	s.mu.Unlock()

	s.notify(collection)
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
	initial := s.snapshotLocked(collection)
	s.mu.Unlock()

	sub.push(initial)
	return sub, nil
}

// writeLocked applies an insert or upsert under the store mutex.
func (s *Store) writeLocked(collection, id string, fields map[string]interface{}, merge bool) {
	col, ok := s.cols[collection]
	if !ok {
		col = make(map[string]*record)
		s.cols[collection] = col
	}

	resolved := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if v == docstore.ServerTimestamp {
			resolved[k] = s.now()
			continue
		}
		resolved[k] = v
	}

	rec, exists := col[id]
	if exists && merge {
		for k, v := range resolved {
			rec.fields[k] = v
		}
		return
	}

	s.seq++
	seq := s.seq
	if exists {
		seq = rec.seq // overwrite keeps creation order
	}
	col[id] = &record{fields: resolved, seq: seq}
}

func (s *Store) snapshotLocked(collection string) []docstore.Document {
	col := s.cols[collection]
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return col[ids[i]].seq < col[ids[j]].seq })

	docs := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, docstore.Document{ID: id, Fields: cloneFields(col[id].fields)})
	}
	return docs
}

func (s *Store) notify(collection string) {
	s.mu.Lock()
	subs := append([]*subscription(nil), s.subs[collection]...)
	snap := s.snapshotLocked(collection)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.push(snap)
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

// push delivers a snapshot, replacing any undelivered one so a stalled
// consumer only ever sees the latest state.
func (s *subscription) push(docs []docstore.Document) {
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

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func matches(d *docstore.Document, filters []docstore.Filter) bool {
	for _, f := range filters {
		if !fieldEqual(d.Fields[f.Field], f.Value) {
			return false
		}
	}
	return true
}

func fieldEqual(a, b interface{}) bool {
	if at, ok := a.(time.Time); ok {
		if bt, ok2 := b.(time.Time); ok2 {
			return at.Equal(bt)
		}
		return false
	}
	return a == b
}

func fieldLess(a, b *docstore.Document, field string) bool {
	if at, ok := docstore.FieldTime(a, field); ok {
		if bt, ok2 := docstore.FieldTime(b, field); ok2 {
			return at.Before(bt)
		}
	}
	return docstore.FieldString(a, field) < docstore.FieldString(b, field)
}
