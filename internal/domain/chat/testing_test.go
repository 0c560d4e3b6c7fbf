package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aport/chat-api/internal/docstore"
	"github.com/aport/chat-api/internal/docstore/memstore"
	"github.com/aport/chat-api/internal/identity"
)

// fakeClock drives both the service clock and the store's server
// timestamps in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{t: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var errStoreDown = errors.New("store unavailable")

// flakyStore wraps a real store and fails selected operations, for the
// fail-open and fallback paths.
type flakyStore struct {
	docstore.Store
	failGet    bool
	failQuery  bool
	failInsert bool
	failUpsert bool
}

func (f *flakyStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if f.failGet {
		return nil, errStoreDown
	}
	return f.Store.Get(ctx, collection, id)
}

func (f *flakyStore) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if f.failQuery {
		return nil, errStoreDown
	}
	return f.Store.Query(ctx, q)
}

func (f *flakyStore) Insert(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	if f.failInsert {
		return "", errStoreDown
	}
	return f.Store.Insert(ctx, collection, fields)
}

func (f *flakyStore) Upsert(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error {
	if f.failUpsert {
		return errStoreDown
	}
	return f.Store.Upsert(ctx, collection, id, fields, merge)
}

// newTestService builds a service over a fresh memstore with a shared
// fake clock starting at a known instant.
func newTestService(t *testing.T, user identity.Static) (*Service, *memstore.Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memstore.New(memstore.WithClock(clock.Now))
	svc := NewService(store, user, WithClock(clock.Now))
	return svc, store, clock
}

// openSession creates a session and registers cleanup.
func openSession(t *testing.T, svc *Service) *Session {
	t.Helper()
	sess, err := svc.NewSession(context.Background())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { sess.Close(context.Background()) })
	return sess
}

// waitUpdate reads session updates until one of the wanted type arrives.
func waitUpdate(t *testing.T, sess *Session, updateType string) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-sess.Updates():
			if !ok {
				t.Fatalf("updates channel closed while waiting for %q", updateType)
			}
			if u.Type == updateType {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q update", updateType)
		}
	}
}
