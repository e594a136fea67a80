package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend stores each table as <dir>/<table>.json. Existing
// history.json, alerts.json and configs.json files in the legacy layout are
// converted by the Store on load. Writes go through a temp file and a rename.
type FileBackend struct {
	dir string
}

// NewFile creates dir if needed.
func NewFile(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(table Table) string {
	return filepath.Join(b.dir, string(table)+".json")
}

func (b *FileBackend) Load(_ context.Context, table Table) ([]byte, error) {
	data, err := os.ReadFile(b.path(table))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path(table), err)
	}
	return data, nil
}

func (b *FileBackend) Save(_ context.Context, table Table, data []byte) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "    "); err != nil {
		pretty.Reset()
		pretty.Write(data)
	}

	tmp, err := os.CreateTemp(b.dir, string(table)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", table, err)
	}
	if _, err := tmp.Write(pretty.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", table, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", table, err)
	}
	if err := os.Rename(tmp.Name(), b.path(table)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", b.path(table), err)
	}
	return nil
}

func (b *FileBackend) Close() error { return nil }
