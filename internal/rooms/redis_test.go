package rooms

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEvent(id, from, text string) Event {
	return Event{
		Type:      EventTypeMessage,
		MessageID: id,
		From:      from,
		Message:   text,
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestRedisStoreRecordEvent(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	s := NewRedisStore(rdc, "public", 3)
	ev := fixedEvent("m-1", "alice", "hi")

	mock.ExpectSAdd("chat:rooms", "public").SetVal(1)
	mock.ExpectRPush("chat:hist:public", mustJSON(t, ev)).SetVal(1)
	mock.ExpectLTrim("chat:hist:public", -3, -1).SetVal("OK")

	require.NoError(t, s.RecordEvent(context.Background(), "public", ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreMessages(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	s := NewRedisStore(rdc, "public", 200)
	ev1 := fixedEvent("m-1", "alice", "hi")
	ev2 := fixedEvent("m-2", "bob", "yo")

	mock.ExpectLRange("chat:hist:public", -2, -1).SetVal([]string{
		string(mustJSON(t, ev1)),
		"{corrupt",
		string(mustJSON(t, ev2)),
	})

	msgs, err := s.Messages(context.Background(), "public", 2)
	require.NoError(t, err)
	// Corrupt entries are skipped, not fatal.
	require.Len(t, msgs, 2)
	assert.Equal(t, "m-1", msgs[0].MessageID)
	assert.Equal(t, "m-2", msgs[1].MessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreMessagesFullWindowAndZero(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	s := NewRedisStore(rdc, "public", 200)

	none, err := s.Messages(context.Background(), "public", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	mock.ExpectLRange("chat:hist:public", 0, -1).SetVal([]string{})
	all, err := s.Messages(context.Background(), "public", -1)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreListRoomsIncludesDefault(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	s := NewRedisStore(rdc, "public", 200)

	mock.ExpectSMembers("chat:rooms").SetVal([]string{"lobby"})
	mock.ExpectLLen("chat:hist:lobby").SetVal(2)
	mock.ExpectLLen("chat:hist:public").SetVal(0)

	list, err := s.ListRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []RoomInfo{
		{Name: "lobby", Messages: 2},
		{Name: "public", Messages: 0},
	}, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreRemoveRoomIfEmpty(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	s := NewRedisStore(rdc, "public", 200)

	// Default room is never removed; no commands issued.
	require.NoError(t, s.RemoveRoomIfEmpty(context.Background(), "public"))

	mock.ExpectLLen("chat:hist:busy").SetVal(4)
	require.NoError(t, s.RemoveRoomIfEmpty(context.Background(), "busy"))

	mock.ExpectLLen("chat:hist:empty").SetVal(0)
	mock.ExpectSRem("chat:rooms", "empty").SetVal(1)
	mock.ExpectDel("chat:hist:empty").SetVal(1)
	require.NoError(t, s.RemoveRoomIfEmpty(context.Background(), "empty"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreGetMetadata(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	s := NewRedisStore(rdc, "public", 200)

	meta, err := s.GetMetadata(context.Background(), "anyone", "public")
	require.NoError(t, err)
	assert.Equal(t, SystemUserID, meta.UserID)

	stored := Metadata{RoomID: "room-abc12345", RoomName: "Team", UserID: "alice"}
	mock.ExpectHGet("chat:meta:alice", "room-abc12345").SetVal(string(mustJSON(t, stored)))
	got, err := s.GetMetadata(context.Background(), "alice", "room-abc12345")
	require.NoError(t, err)
	assert.Equal(t, "Team", got.RoomName)

	mock.ExpectHGet("chat:meta:alice", "room-missing").RedisNil()
	_, err = s.GetMetadata(context.Background(), "alice", "room-missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreDeleteMetadata(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	s := NewRedisStore(rdc, "public", 200)

	_, err := s.DeleteMetadata(context.Background(), "alice", "public")
	assert.ErrorIs(t, err, ErrSystemRoom)

	mock.ExpectHDel("chat:meta:alice", "room-abc12345").SetVal(1)
	deleted, err := s.DeleteMetadata(context.Background(), "alice", "room-abc12345")
	require.NoError(t, err)
	assert.True(t, deleted)

	mock.ExpectHDel("chat:meta:alice", "room-gone").SetVal(0)
	deleted, err = s.DeleteMetadata(context.Background(), "alice", "room-gone")
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreListUserRooms(t *testing.T) {
	rdc, mock := redismock.NewClientMock()
	s := NewRedisStore(rdc, "public", 200)

	m1 := Metadata{RoomID: "room-bbb", RoomName: "Two", UserID: "alice"}
	m2 := Metadata{RoomID: "room-aaa", RoomName: "One", UserID: "alice"}
	mock.ExpectHGetAll("chat:meta:alice").SetVal(map[string]string{
		"room-bbb": string(mustJSON(t, m1)),
		"room-aaa": string(mustJSON(t, m2)),
	})

	list, err := s.ListUserRooms(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "public", list[0].RoomID)
	assert.Equal(t, "room-aaa", list[1].RoomID)
	assert.Equal(t, "room-bbb", list[2].RoomID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
