package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisHistoryKeyPrefix = "chat:hist:"
	redisMetaKeyPrefix    = "chat:meta:"
	redisRoomSetKey       = "chat:rooms"
)

// RedisStore persists history and metadata in Redis. Each room's transcript
// is a list keyed by room id, capped with LTRIM so Redis itself enforces the
// FIFO window.
type RedisStore struct {
	rdc         *redis.Client
	defaultRoom string
	maxMessages int
}

func NewRedisStore(rdc *redis.Client, defaultRoomID string, maxMessages int) *RedisStore {
	return &RedisStore{
		rdc:         rdc,
		defaultRoom: defaultRoomID,
		maxMessages: maxMessages,
	}
}

func (s *RedisStore) RegisterRoom(ctx context.Context, room string) error {
	return s.rdc.SAdd(ctx, redisRoomSetKey, room).Err()
}

func (s *RedisStore) RecordEvent(ctx context.Context, room string, ev Event) error {
	if err := s.RegisterRoom(ctx, room); err != nil {
		return err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := redisHistoryKeyPrefix + room
	if err := s.rdc.RPush(ctx, key, raw).Err(); err != nil {
		return err
	}
	return s.rdc.LTrim(ctx, key, int64(-s.maxMessages), -1).Err()
}

func (s *RedisStore) Messages(ctx context.Context, room string, limit int) ([]Event, error) {
	if limit == 0 {
		return []Event{}, nil
	}
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := s.rdc.LRange(ctx, redisHistoryKeyPrefix+room, start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			zap.L().Warn("rooms.redis_bad_event", zap.String("room", room), zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisStore) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	names, err := s.rdc.SMembers(ctx, redisRoomSetKey).Result()
	if err != nil {
		return nil, err
	}
	seen := false
	for _, n := range names {
		if n == s.defaultRoom {
			seen = true
			break
		}
	}
	if !seen {
		names = append(names, s.defaultRoom)
	}
	sort.Strings(names)
	out := make([]RoomInfo, 0, len(names))
	for _, name := range names {
		n, err := s.rdc.LLen(ctx, redisHistoryKeyPrefix+name).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, RoomInfo{Name: name, Messages: int(n)})
	}
	return out, nil
}

func (s *RedisStore) RemoveRoomIfEmpty(ctx context.Context, room string) error {
	if room == s.defaultRoom {
		return nil
	}
	n, err := s.rdc.LLen(ctx, redisHistoryKeyPrefix+room).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if err := s.rdc.SRem(ctx, redisRoomSetKey, room).Err(); err != nil {
		return err
	}
	return s.rdc.Del(ctx, redisHistoryKeyPrefix+room).Err()
}

func (s *RedisStore) CreateMetadata(ctx context.Context, userID, roomName, description string) (*Metadata, error) {
	if roomName == "" {
		return nil, ErrEmptyRoomName
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
	if err := s.putMetadata(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *RedisStore) putMetadata(ctx context.Context, m *Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.rdc.HSet(ctx, redisMetaKeyPrefix+m.UserID, m.RoomID, raw).Err()
}

func (s *RedisStore) GetMetadata(ctx context.Context, userID, roomID string) (*Metadata, error) {
	if roomID == s.defaultRoom {
		return defaultRoomMetadata(s.defaultRoom), nil
	}
	raw, err := s.rdc.HGet(ctx, redisMetaKeyPrefix+userID, roomID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *RedisStore) UpdateMetadata(ctx context.Context, userID, roomID string, roomName, description *string) (*Metadata, error) {
	if roomID == s.defaultRoom {
		return nil, ErrSystemRoom
	}
	m, err := s.GetMetadata(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if roomName != nil && *roomName != "" {
		m.RoomName = *roomName
	}
	if description != nil {
		m.Description = *description
	}
	m.UpdatedAt = time.Now().UTC()
	if err := s.putMetadata(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *RedisStore) DeleteMetadata(ctx context.Context, userID, roomID string) (bool, error) {
	if roomID == s.defaultRoom {
		return false, ErrSystemRoom
	}
	n, err := s.rdc.HDel(ctx, redisMetaKeyPrefix+userID, roomID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) ListUserRooms(ctx context.Context, userID string) ([]Metadata, error) {
	out := []Metadata{*defaultRoomMetadata(s.defaultRoom)}
	all, err := s.rdc.HGetAll(ctx, redisMetaKeyPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	rest := make([]Metadata, 0, len(all))
	for _, raw := range all {
		var m Metadata
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			zap.L().Warn("rooms.redis_bad_metadata", zap.String("user", userID), zap.Error(err))
			continue
		}
		rest = append(rest, m)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].RoomID < rest[j].RoomID })
	return append(out, rest...), nil
}
