package rooms

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, "public", 3), mock
}

func TestPostgresStoreMigrate(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chat_rooms").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO chat_rooms").
		WithArgs("public").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRecordEventTrimsToCap(t *testing.T) {
	s, mock := newPostgresMock(t)
	ev := fixedEvent("m-1", "alice", "hi")

	mock.ExpectExec("INSERT INTO chat_rooms").
		WithArgs("public").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO chat_events").
		WithArgs("public", "m-1", EventTypeMessage,
			sql.NullString{String: "alice", Valid: true}, "hi", ev.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM chat_events").
		WithArgs("public", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.RecordEvent(context.Background(), "public", ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRecordEventEmptySenderIsNull(t *testing.T) {
	s, mock := newPostgresMock(t)
	ev := fixedEvent("m-1", "", "streamed text")

	mock.ExpectExec("INSERT INTO chat_rooms").
		WithArgs("public").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO chat_events").
		WithArgs("public", "m-1", EventTypeMessage,
			sql.NullString{}, "streamed text", ev.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM chat_events").
		WithArgs("public", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.RecordEvent(context.Background(), "public", ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMessagesReversesToOldestFirst(t *testing.T) {
	s, mock := newPostgresMock(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"message_id", "event_type", "from_user", "message", "event_ts"}).
		AddRow("m-2", EventTypeMessage, "bob", "yo", ts).
		AddRow("m-1", EventTypeMessage, nil, "hi", ts)
	mock.ExpectQuery("SELECT message_id, event_type, from_user, message, event_ts").
		WithArgs("public", 2).
		WillReturnRows(rows)

	msgs, err := s.Messages(context.Background(), "public", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m-1", msgs[0].MessageID)
	assert.Empty(t, msgs[0].From)
	assert.Equal(t, "m-2", msgs[1].MessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMessagesNegativeLimitUsesCap(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectQuery("SELECT message_id, event_type, from_user, message, event_ts").
		WithArgs("public", 3).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "event_type", "from_user", "message", "event_ts"}))

	msgs, err := s.Messages(context.Background(), "public", -1)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListRooms(t *testing.T) {
	s, mock := newPostgresMock(t)

	rows := sqlmock.NewRows([]string{"room_id", "count"}).
		AddRow("lobby", 2).
		AddRow("public", 0)
	mock.ExpectQuery("SELECT r.room_id, COUNT").WillReturnRows(rows)

	list, err := s.ListRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []RoomInfo{
		{Name: "lobby", Messages: 2},
		{Name: "public", Messages: 0},
	}, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRemoveRoomIfEmpty(t *testing.T) {
	s, mock := newPostgresMock(t)

	// Default room: no statement issued.
	require.NoError(t, s.RemoveRoomIfEmpty(context.Background(), "public"))

	mock.ExpectExec("DELETE FROM chat_rooms").
		WithArgs("lobby").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.RemoveRoomIfEmpty(context.Background(), "lobby"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMetadataLifecycle(t *testing.T) {
	s, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO chat_room_metadata").
		WithArgs("alice", sqlmock.AnyArg(), "Team", "standup", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	m, err := s.CreateMetadata(ctx, "alice", "Team", "standup")
	require.NoError(t, err)
	assert.NotEmpty(t, m.RoomID)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT room_name, description, created_at, updated_at").
		WithArgs("alice", m.RoomID).
		WillReturnRows(sqlmock.NewRows([]string{"room_name", "description", "created_at", "updated_at"}).
			AddRow("Team", "standup", ts, ts))
	got, err := s.GetMetadata(ctx, "alice", m.RoomID)
	require.NoError(t, err)
	assert.Equal(t, "Team", got.RoomName)

	mock.ExpectQuery("SELECT room_name, description, created_at, updated_at").
		WithArgs("alice", m.RoomID).
		WillReturnRows(sqlmock.NewRows([]string{"room_name", "description", "created_at", "updated_at"}).
			AddRow("Team", "standup", ts, ts))
	mock.ExpectExec("UPDATE chat_room_metadata").
		WithArgs("alice", m.RoomID, "Renamed", "standup", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	newName := "Renamed"
	updated, err := s.UpdateMetadata(ctx, "alice", m.RoomID, &newName, nil)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.RoomName)

	mock.ExpectExec("DELETE FROM chat_room_metadata").
		WithArgs("alice", m.RoomID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	deleted, err := s.DeleteMetadata(ctx, "alice", m.RoomID)
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMetadataNotFoundAndGuards(t *testing.T) {
	s, mock := newPostgresMock(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT room_name, description, created_at, updated_at").
		WithArgs("alice", "room-missing").
		WillReturnRows(sqlmock.NewRows([]string{"room_name", "description", "created_at", "updated_at"}))
	_, err := s.GetMetadata(ctx, "alice", "room-missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	name := "x"
	_, err = s.UpdateMetadata(ctx, "alice", "public", &name, nil)
	assert.ErrorIs(t, err, ErrSystemRoom)

	_, err = s.DeleteMetadata(ctx, "alice", "public")
	assert.ErrorIs(t, err, ErrSystemRoom)

	_, err = s.CreateMetadata(ctx, "alice", "", "")
	assert.ErrorIs(t, err, ErrEmptyRoomName)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListUserRooms(t *testing.T) {
	s, mock := newPostgresMock(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT room_id, room_name, description, created_at, updated_at").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"room_id", "room_name", "description", "created_at", "updated_at"}).
			AddRow("room-aaa", "One", "", ts, ts))

	list, err := s.ListUserRooms(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "public", list[0].RoomID)
	assert.Equal(t, "room-aaa", list[1].RoomID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
