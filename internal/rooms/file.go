package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the in-memory semantics of MemoryStore and additionally
// persists the history map as a single JSON document after every mutation.
// The file is replaced via write-temp-then-rename so readers never observe a
// partial document. Metadata stays in memory only.
type FileStore struct {
	*MemoryStore

	path    string
	writeMu sync.Mutex
}

func NewFileStore(path, defaultRoomID string, maxMessages int) (*FileStore, error) {
	s := &FileStore{
		MemoryStore: NewMemoryStore(defaultRoomID, maxMessages),
		path:        path,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var hist map[string][]Event
	if err := json.Unmarshal(raw, &hist); err != nil {
		return fmt.Errorf("history file %s: %w", s.path, err)
	}
	s.seedHistory(hist)
	return nil
}

func (s *FileStore) save() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	raw, err := json.MarshalIndent(s.snapshotHistory(), "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".history-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) RegisterRoom(ctx context.Context, room string) error {
	if err := s.MemoryStore.RegisterRoom(ctx, room); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) RecordEvent(ctx context.Context, room string, ev Event) error {
	if err := s.MemoryStore.RecordEvent(ctx, room, ev); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) RemoveRoomIfEmpty(ctx context.Context, room string) error {
	if err := s.MemoryStore.RemoveRoomIfEmpty(ctx, room); err != nil {
		return err
	}
	return s.save()
}
