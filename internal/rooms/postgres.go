package rooms

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists history and metadata in Postgres. The room id acts
// as the partition column of chat_events; rows are ordered by insertion and
// trimmed back to the per-room cap after every append.
type PostgresStore struct {
	db          *sql.DB
	defaultRoom string
	maxMessages int
}

func NewPostgresStore(db *sql.DB, defaultRoomID string, maxMessages int) *PostgresStore {
	return &PostgresStore{
		db:          db,
		defaultRoom: defaultRoomID,
		maxMessages: maxMessages,
	}
}

// Migrate creates the schema and seeds the default room.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS chat_rooms (
	    room_id TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS chat_events (
	    id          BIGSERIAL PRIMARY KEY,
	    room_id     TEXT NOT NULL,
	    message_id  TEXT NOT NULL,
	    event_type  TEXT NOT NULL,
	    from_user   TEXT,
	    message     TEXT NOT NULL,
	    event_ts    TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS chat_events_room_idx ON chat_events (room_id, id);
	CREATE TABLE IF NOT EXISTS chat_room_metadata (
	    user_id     TEXT NOT NULL,
	    room_id     TEXT NOT NULL,
	    room_name   TEXT NOT NULL,
	    description TEXT NOT NULL DEFAULT '',
	    created_at  TIMESTAMPTZ NOT NULL,
	    updated_at  TIMESTAMPTZ NOT NULL,
	    PRIMARY KEY (user_id, room_id)
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return s.RegisterRoom(ctx, s.defaultRoom)
}

func (s *PostgresStore) RegisterRoom(ctx context.Context, room string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_rooms (room_id) VALUES ($1) ON CONFLICT (room_id) DO NOTHING`, room)
	return err
}

func (s *PostgresStore) RecordEvent(ctx context.Context, room string, ev Event) error {
	if err := s.RegisterRoom(ctx, room); err != nil {
		return err
	}
	var from sql.NullString
	if ev.From != "" {
		from = sql.NullString{String: ev.From, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_events (room_id, message_id, event_type, from_user, message, event_ts)
		      VALUES ($1, $2, $3, $4, $5, $6)`,
		room, ev.MessageID, ev.Type, from, ev.Message, ev.Timestamp)
	if err != nil {
		return err
	}
	// Evict oldest rows beyond the cap.
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM chat_events
		  WHERE room_id = $1
		    AND id NOT IN (SELECT id FROM chat_events WHERE room_id = $1 ORDER BY id DESC LIMIT $2)`,
		room, s.maxMessages)
	return err
}

func (s *PostgresStore) Messages(ctx context.Context, room string, limit int) ([]Event, error) {
	if limit < 0 {
		limit = s.maxMessages
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, event_type, from_user, message, event_ts
		   FROM chat_events WHERE room_id = $1 ORDER BY id DESC LIMIT $2`,
		room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var from sql.NullString
		var ts time.Time
		if err := rows.Scan(&ev.MessageID, &ev.Type, &from, &ev.Message, &ts); err != nil {
			return nil, err
		}
		ev.From = from.String
		ev.Timestamp = ts
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest-first from the query; return oldest->newest.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context) ([]RoomInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.room_id, COUNT(e.id)
		   FROM chat_rooms r LEFT JOIN chat_events e ON e.room_id = r.room_id
		  GROUP BY r.room_id ORDER BY r.room_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoomInfo
	for rows.Next() {
		var ri RoomInfo
		if err := rows.Scan(&ri.Name, &ri.Messages); err != nil {
			return nil, err
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RemoveRoomIfEmpty(ctx context.Context, room string) error {
	if room == s.defaultRoom {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_rooms
		  WHERE room_id = $1
		    AND NOT EXISTS (SELECT 1 FROM chat_events WHERE room_id = $1)`,
		room)
	return err
}

func (s *PostgresStore) CreateMetadata(ctx context.Context, userID, roomName, description string) (*Metadata, error) {
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_room_metadata (user_id, room_id, room_name, description, created_at, updated_at)
		      VALUES ($1, $2, $3, $4, $5, $6)`,
		m.UserID, m.RoomID, m.RoomName, m.Description, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) GetMetadata(ctx context.Context, userID, roomID string) (*Metadata, error) {
	if roomID == s.defaultRoom {
		return defaultRoomMetadata(s.defaultRoom), nil
	}
	m := &Metadata{UserID: userID, RoomID: roomID}
	err := s.db.QueryRowContext(ctx,
		`SELECT room_name, description, created_at, updated_at
		   FROM chat_room_metadata WHERE user_id = $1 AND room_id = $2`,
		userID, roomID).Scan(&m.RoomName, &m.Description, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, userID, roomID string, roomName, description *string) (*Metadata, error) {
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
	_, err = s.db.ExecContext(ctx,
		`UPDATE chat_room_metadata SET room_name = $3, description = $4, updated_at = $5
		  WHERE user_id = $1 AND room_id = $2`,
		userID, roomID, m.RoomName, m.Description, m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) DeleteMetadata(ctx context.Context, userID, roomID string) (bool, error) {
	if roomID == s.defaultRoom {
		return false, ErrSystemRoom
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_room_metadata WHERE user_id = $1 AND room_id = $2`, userID, roomID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) ListUserRooms(ctx context.Context, userID string) ([]Metadata, error) {
	out := []Metadata{*defaultRoomMetadata(s.defaultRoom)}
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, room_name, description, created_at, updated_at
		   FROM chat_room_metadata WHERE user_id = $1 ORDER BY room_id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		m := Metadata{UserID: userID}
		if err := rows.Scan(&m.RoomID, &m.RoomName, &m.Description, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
