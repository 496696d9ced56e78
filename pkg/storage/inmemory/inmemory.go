// Package inmemory provides a map-backed storage driver, used for tests and
// for running without a database file.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/recall/pkg/storage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu guards the record map. RunTransaction holds the write lock for the
	// whole callback, which gives transactions single-writer semantics.
	mu sync.RWMutex

	records map[string]*storage.Record
}

// NewDriver creates a new in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		records: make(map[string]*storage.Record),
	}
}

// Get retrieves a record by id.
func (d *Driver) Get(ctx context.Context, id string) (*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}

	return copyRecord(rec), nil
}

// Put stores a record, overwriting any existing one with the same id.
func (d *Driver) Put(ctx context.Context, record *storage.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record == nil || record.ID == "" {
		return errors.New("cannot store record without an id")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	stored := copyRecord(record)
	stored.UpdatedAt = time.Now().UTC()
	d.records[record.ID] = stored

	return nil
}

// Delete removes a record. Deleting an absent record is a no-op.
func (d *Driver) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.records, id)
	return nil
}

// List returns all records with the given id prefix, ordered by id.
func (d *Driver) List(ctx context.Context, prefix string) ([]*storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*storage.Record
	for id, rec := range d.records {
		if strings.HasPrefix(id, prefix) {
			out = append(out, copyRecord(rec))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RunTransaction executes fn under the write lock with staged writes.
// Nothing is applied unless fn returns nil.
func (d *Driver) RunTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tx := &memTx{
		driver:  d,
		staged:  make(map[string]*storage.Record),
		deleted: make(map[string]bool),
	}

	if err := fn(tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

// Count returns the number of records in the store.
func (d *Driver) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

// memTx stages writes against the driver's map so a failed callback leaves
// no partial state. The driver's write lock is held for the Tx lifetime.
type memTx struct {
	driver  *Driver
	staged  map[string]*storage.Record
	deleted map[string]bool
}

func (t *memTx) Get(id string) (*storage.Record, error) {
	if t.deleted[id] {
		return nil, storage.NotFoundError{ID: id}
	}
	if rec, ok := t.staged[id]; ok {
		return copyRecord(rec), nil
	}
	rec, ok := t.driver.records[id]
	if !ok {
		return nil, storage.NotFoundError{ID: id}
	}
	return copyRecord(rec), nil
}

func (t *memTx) Put(record *storage.Record) error {
	if record == nil || record.ID == "" {
		return errors.New("cannot store record without an id")
	}
	stored := copyRecord(record)
	stored.UpdatedAt = time.Now().UTC()
	t.staged[record.ID] = stored
	delete(t.deleted, record.ID)
	return nil
}

func (t *memTx) Delete(id string) error {
	t.deleted[id] = true
	delete(t.staged, id)
	return nil
}

func (t *memTx) List(prefix string) ([]*storage.Record, error) {
	seen := make(map[string]*storage.Record)
	for id, rec := range t.driver.records {
		if strings.HasPrefix(id, prefix) && !t.deleted[id] {
			seen[id] = rec
		}
	}
	for id, rec := range t.staged {
		if strings.HasPrefix(id, prefix) {
			seen[id] = rec
		}
	}

	out := make([]*storage.Record, 0, len(seen))
	for _, rec := range seen {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) commit() {
	for id := range t.deleted {
		delete(t.driver.records, id)
	}
	for id, rec := range t.staged {
		t.driver.records[id] = rec
	}
}

// copyRecord returns a copy so callers can't mutate store-held state.
func copyRecord(rec *storage.Record) *storage.Record {
	out := *rec
	out.Data = make([]byte, len(rec.Data))
	copy(out.Data, rec.Data)
	return &out
}
