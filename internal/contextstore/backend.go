package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"ctxlink/internal/storage"
)

// Backend persists contexts
type Backend interface {
	Load(ctx context.Context) ([]Context, error)
	Put(ctx context.Context, c Context) error
	Close() error
}

// MemoryBackend keeps contexts in memory
type MemoryBackend struct {
	mu       sync.Mutex
	contexts map[string]Context
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{contexts: make(map[string]Context)}
}

// Load implements Backend
func (m *MemoryBackend) Load(_ context.Context) ([]Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put implements Backend
func (m *MemoryBackend) Put(_ context.Context, c Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[c.ID] = c
	return nil
}

// Close implements Backend
func (m *MemoryBackend) Close() error { return nil }

// SQLiteBackend stores contexts as compressed JSON in the ctxlink database
type SQLiteBackend struct {
	db *storage.DB
}

// NewSQLiteBackend wraps an open database
func NewSQLiteBackend(db *storage.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Load implements Backend
func (b *SQLiteBackend) Load(ctx context.Context) ([]Context, error) {
	rows, err := b.db.ListContexts(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Context, 0, len(rows))
	for _, row := range rows {
		var c Context
		if err := json.Unmarshal(row.Payload, &c); err != nil {
			return nil, fmt.Errorf("context %s: %w", row.ID, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Put implements Backend
func (b *SQLiteBackend) Put(ctx context.Context, c Context) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return b.db.PutContext(ctx, storage.ContextRow{
		ID:             c.ID,
		ConversationID: c.ConversationID,
		CommitHash:     c.CommitHash,
		Timestamp:      c.Timestamp,
		Payload:        payload,
	})
}

// Get reads a single context without loading the whole store
func (b *SQLiteBackend) Get(ctx context.Context, id string) (Context, bool, error) {
	row, found, err := b.db.GetContext(ctx, id)
	if err != nil || !found {
		return Context{}, false, err
	}
	var c Context
	if err := json.Unmarshal(row.Payload, &c); err != nil {
		return Context{}, false, fmt.Errorf("context %s: %w", row.ID, err)
	}
	return c, true, nil
}

// Close implements Backend
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
