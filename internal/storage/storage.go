// Package storage holds document binaries. Metadata and audit state live in
// the store; this layer only moves bytes, keyed by the path recorded on the
// document at upload time.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("blob not found")

// Blobs is implemented by the filesystem store and the in-memory store.
type Blobs interface {
	// Save stores data and returns the path used to load it later.
	Save(ctx context.Context, documentID, filename string, data []byte) (string, error)
	Load(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// FS stores blobs under root/<document-id>/<filename>.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, fmt.Errorf("storage: root directory required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FS{root: abs}, nil
}

func (f *FS) Save(ctx context.Context, documentID, filename string, data []byte) (string, error) {
	name := sanitizeFilename(filename)
	rel := filepath.Join(documentID, name)
	full, err := f.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: create dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write blob: %w", err)
	}
	return rel, nil
}

func (f *FS) Load(ctx context.Context, path string) ([]byte, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read blob: %w", err)
	}
	return data, nil
}

func (f *FS) Delete(ctx context.Context, path string) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete blob: %w", err)
	}
	// Drop the per-document directory when it is empty; ignore failures.
	_ = os.Remove(filepath.Dir(full))
	return nil
}

// resolve joins path under root and refuses anything that escapes it.
func (f *FS) resolve(path string) (string, error) {
	full := filepath.Join(f.root, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: invalid path %q", path)
	}
	return full, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == ".." {
		return "document.pdf"
	}
	return name
}

// Memory keeps blobs in a map; used by tests.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemoryBlobs() *Memory {
	return &Memory{m: make(map[string][]byte)}
}

func (m *Memory) Save(ctx context.Context, documentID, filename string, data []byte) (string, error) {
	path := documentID + "/" + sanitizeFilename(filename)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[path] = append([]byte(nil), data...)
	return path, nil
}

func (m *Memory) Load(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.m[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, path)
	return nil
}
