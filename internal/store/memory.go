package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps tables in process memory. Used for dry runs and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	tables  map[Table][]byte
	saveErr error
	saves   map[Table]int
}

func NewMemory() *MemoryBackend {
	return &MemoryBackend{tables: make(map[Table][]byte), saves: make(map[Table]int)}
}

func (b *MemoryBackend) Load(_ context.Context, table Table) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.tables[table]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Save(_ context.Context, table Table, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.tables[table] = append([]byte(nil), data...)
	b.saves[table]++
	return nil
}

// FailSaves makes every following Save return err until called with nil.
func (b *MemoryBackend) FailSaves(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saveErr = err
}

// Put seeds raw table data.
func (b *MemoryBackend) Put(table Table, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[table] = append([]byte(nil), data...)
}

// Saves returns how many successful writes table received.
func (b *MemoryBackend) Saves(table Table) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves[table]
}

func (b *MemoryBackend) Close() error { return nil }
