package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	QueryFile    = "query_history.json"
	SecurityFile = "security_events.json"
)

// FileStore keeps each collection as a JSON array on disk, oldest first.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) InsertQuery(_ context.Context, rec Record) error {
	rec.prepare()
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSON(filepath.Join(s.dir, QueryFile), rec)
}

func (s *FileStore) InsertSecurityEvent(_ context.Context, ev SecurityEvent) error {
	ev.prepare()
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSON(filepath.Join(s.dir, SecurityFile), ev)
}

func (s *FileStore) ListQueries(_ context.Context, page, pageSize int) (Page, error) {
	page, pageSize = NormalizePaging(page, pageSize)

	s.mu.Lock()
	records, err := readJSON[Record](filepath.Join(s.dir, QueryFile))
	s.mu.Unlock()
	if err != nil {
		return Page{}, err
	}

	out := Page{Items: []Record{}, Page: page, PageSize: pageSize, Total: len(records)}
	offset := (page - 1) * pageSize
	for i := len(records) - 1 - offset; i >= 0 && len(out.Items) < pageSize; i-- {
		out.Items = append(out.Items, records[i])
	}
	return out, nil
}

func (s *FileStore) RecentOutcomes(_ context.Context, limit int) ([]Outcome, error) {
	if limit < 1 {
		return []Outcome{}, nil
	}
	s.mu.Lock()
	records, err := readJSON[Record](filepath.Join(s.dir, QueryFile))
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]Outcome, 0, min(limit, len(records)))
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i].outcome())
	}
	return out, nil
}

func (s *FileStore) SecurityEvents(_ context.Context) ([]SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readJSON[SecurityEvent](filepath.Join(s.dir, SecurityFile))
}

func readJSON[T any](path string) ([]T, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(raw) == 0 {
		return []T{}, nil
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return items, nil
}

// appendJSON rewrites the array with item appended. The new content is
// written to a temp file and renamed into place.
func appendJSON[T any](path string, item T) error {
	items, err := readJSON[T](path)
	if err != nil {
		return err
	}
	items = append(items, item)

	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
