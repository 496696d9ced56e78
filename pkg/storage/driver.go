// Package storage
package storage

import (
	"context"
	"time"
)

// Record is the opaque envelope the durable store persists. Engines own
// their payload schemas; the store only knows ids, bytes, and timestamps.
type Record struct {
	// ID is the record key, namespaced by the owning engine
	// (e.g. "conversation/<uuid>", "fact/<uuid>").
	ID string `json:"id"`

	// Data is the JSON payload.
	Data []byte `json:"data"`

	// UpdatedAt is the last write time, stamped by the driver.
	UpdatedAt time.Time `json:"updated_at"`
}

// Driver defines the interface for the durable store backing the chat core.
// All methods honor context cancellation before touching the backend so a
// canceled operation either fully applies or not at all.
type Driver interface {
	// Get retrieves a record by id. Returns NotFoundError if absent.
	Get(ctx context.Context, id string) (*Record, error)

	// Put stores a record, overwriting any existing record with the same id.
	Put(ctx context.Context, record *Record) error

	// Delete removes a record by id. Deleting an absent record is a no-op.
	Delete(ctx context.Context, id string) error

	// List returns all records whose id starts with prefix, ordered by id.
	List(ctx context.Context, prefix string) ([]*Record, error)

	// RunTransaction executes fn atomically. If fn returns an error, no
	// writes made through the Tx are applied.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Close closes the store and releases any resources.
	Close() error
}

// Tx is the transactional view handed to RunTransaction callbacks.
type Tx interface {
	Get(id string) (*Record, error)
	Put(record *Record) error
	Delete(id string) error
	List(prefix string) ([]*Record, error)
}
