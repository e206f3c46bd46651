package rooms

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps history and metadata in process memory. Lifetime equals
// process lifetime; there is no persistence.
type MemoryStore struct {
	mu          sync.Mutex
	history     map[string][]Event
	userRooms   map[string]map[string]*Metadata
	defaultRoom string
	defaultMeta *Metadata
	maxMessages int
}

func NewMemoryStore(defaultRoomID string, maxMessages int) *MemoryStore {
	s := &MemoryStore{
		history:     map[string][]Event{defaultRoomID: {}},
		userRooms:   map[string]map[string]*Metadata{},
		defaultRoom: defaultRoomID,
		defaultMeta: defaultRoomMetadata(defaultRoomID),
		maxMessages: maxMessages,
	}
	return s
}

func (s *MemoryStore) RegisterRoom(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(room)
	return nil
}

func (s *MemoryStore) registerLocked(room string) {
	if _, ok := s.history[room]; !ok {
		s.history[room] = []Event{}
	}
}

func (s *MemoryStore) RecordEvent(_ context.Context, room string, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(room)
	msgs := append(s.history[room], ev)
	if overflow := len(msgs) - s.maxMessages; overflow > 0 {
		msgs = msgs[overflow:]
	}
	s.history[room] = msgs
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, room string, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.history[room]
	if limit >= 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Event, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) ListRooms(_ context.Context) ([]RoomInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RoomInfo, 0, len(s.history))
	for name, msgs := range s.history {
		out = append(out, RoomInfo{Name: name, Messages: len(msgs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) RemoveRoomIfEmpty(_ context.Context, room string) error {
	if room == s.defaultRoom {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if msgs, ok := s.history[room]; ok && len(msgs) == 0 {
		delete(s.history, room)
	}
	return nil
}

func (s *MemoryStore) CreateMetadata(_ context.Context, userID, roomName, description string) (*Metadata, error) {
	if roomName == "" {
		return nil, ErrEmptyRoomName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userRooms[userID]; !ok {
		s.userRooms[userID] = map[string]*Metadata{}
	}
	now := time.Now().UTC()
	m := &Metadata{
		RoomID:      NewRoomID(),
		RoomName:    roomName,
		UserID:      userID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Description: description,
	}
	s.userRooms[userID][m.RoomID] = m
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, userID, roomID string) (*Metadata, error) {
	if roomID == s.defaultRoom {
		cp := *s.defaultMeta
		return &cp, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.userRooms[userID][roomID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, ErrRoomNotFound
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, userID, roomID string, roomName, description *string) (*Metadata, error) {
	if roomID == s.defaultRoom {
		return nil, ErrSystemRoom
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.userRooms[userID][roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if roomName != nil && *roomName != "" {
		m.RoomName = *roomName
	}
	if description != nil {
		m.Description = *description
	}
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) DeleteMetadata(_ context.Context, userID, roomID string) (bool, error) {
	if roomID == s.defaultRoom {
		return false, ErrSystemRoom
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userRooms[userID][roomID]; ok {
		delete(s.userRooms[userID], roomID)
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) ListUserRooms(_ context.Context, userID string) ([]Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Metadata{*s.defaultMeta}
	rest := make([]Metadata, 0, len(s.userRooms[userID]))
	for _, m := range s.userRooms[userID] {
		rest = append(rest, *m)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].RoomID < rest[j].RoomID })
	return append(out, rest...), nil
}

// snapshotHistory and seedHistory support the file-backed store, which
// reuses the in-memory semantics and persists the history map wholesale.
func (s *MemoryStore) snapshotHistory() map[string][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Event, len(s.history))
	for room, msgs := range s.history {
		cp := make([]Event, len(msgs))
		copy(cp, msgs)
		out[room] = cp
	}
	return out
}

func (s *MemoryStore) seedHistory(hist map[string][]Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for room, msgs := range hist {
		cp := make([]Event, len(msgs))
		copy(cp, msgs)
		s.history[room] = cp
	}
}
