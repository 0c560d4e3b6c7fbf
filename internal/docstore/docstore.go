// Package docstore defines the document-store port the chat core is built
// against: per-document CRUD, filtered queries, merge upserts and push
// snapshot subscriptions. Implementations live in memstore (in-process) and
// pgstore (Postgres + Redis fan-out).
package docstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no document exists under the id.
var ErrNotFound = errors.New("document not found")

// Document is a schemaless record in a collection.
type Document struct {
	ID     string
	Fields map[string]interface{}
}

// Filter is an equality-style predicate on a document field.
type Filter struct {
	Field string
	Op    string // only "==" is required by the core
	Value interface{}
}

// Query describes a filtered, ordered, limited read of a collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Subscription delivers the full current contents of a collection after
// every change. The first snapshot arrives shortly after subscribing. Slow
// consumers are coalesced to the latest snapshot rather than blocked.
type Subscription interface {
	Snapshots() <-chan []Document
	Close() error
}

// Store is the document-store collaborator. Every call is a suspension
// point; implementations must honor ctx cancellation on blocking paths.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	// Insert creates a document with a store-assigned id.
	Insert(ctx context.Context, collection string, fields map[string]interface{}) (string, error)
	// Upsert writes a document under a caller-chosen id. With merge=true,
	// fields absent from the write are left untouched.
	Upsert(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error
	Delete(ctx context.Context, collection, id string) error
	Subscribe(ctx context.Context, collection string) (Subscription, error)
}

type serverTimestamp struct{}

// ServerTimestamp is a sentinel field value resolved to the store's own
// clock at write time, so timestamps never depend on the caller's clock.
var ServerTimestamp = serverTimestamp{}

// FieldString reads a string field, tolerating missing values.
func FieldString(d *Document, key string) string {
	if d == nil {
		return ""
	}
	if s, ok := d.Fields[key].(string); ok {
		return s
	}
	return ""
}

// FieldBool reads a boolean field, tolerating missing values.
func FieldBool(d *Document, key string) bool {
	if d == nil {
		return false
	}
	if b, ok := d.Fields[key].(bool); ok {
		return b
	}
	return false
}

// FieldInt reads a numeric field. JSON round-trips render numbers as
// float64, so both representations are accepted.
func FieldInt(d *Document, key string) (int64, bool) {
	if d == nil {
		return 0, false
	}
	switch v := d.Fields[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// FieldTime reads a timestamp field. Stores keep native time.Time values
// in memory and RFC3339 strings inside JSONB, so both are accepted.
func FieldTime(d *Document, key string) (time.Time, bool) {
	if d == nil {
		return time.Time{}, false
	}
	switch v := d.Fields[key].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
