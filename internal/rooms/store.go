package rooms

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// EventTypeMessage is the only event type currently persisted.
	EventTypeMessage = "message"

	// SystemUserID owns the default room's metadata.
	SystemUserID = "system"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrSystemRoom    = errors.New("cannot modify system room")
	ErrEmptyRoomName = errors.New("room name is required")
)

// Event is one persisted transcript entry. Events are append-only and only
// ever removed in bulk by the per-room cap.
type Event struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	From      string    `json:"from,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomInfo is the listing shape exposed to clients: room name plus the
// retained event count.
type RoomInfo struct {
	Name     string `json:"name"`
	Messages int    `json:"messages"`
}

// Metadata describes a user-created room. The default room has synthetic
// metadata owned by SystemUserID.
type Metadata struct {
	RoomID      string    `json:"roomId"`
	RoomName    string    `json:"roomName"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Description string    `json:"description"`
}

// Store is the pluggable room history + metadata backend.
//
// History semantics shared by every implementation:
//   - RegisterRoom is idempotent.
//   - RecordEvent registers the room, appends, then evicts oldest-first
//     until the per-room cap is satisfied.
//   - Messages returns the most recent limit events oldest->newest;
//     limit < 0 returns the full retained window.
//   - RemoveRoomIfEmpty is a no-op for the default room and for rooms that
//     still retain events.
type Store interface {
	RegisterRoom(ctx context.Context, room string) error
	RecordEvent(ctx context.Context, room string, ev Event) error
	Messages(ctx context.Context, room string, limit int) ([]Event, error)
	ListRooms(ctx context.Context) ([]RoomInfo, error)
	RemoveRoomIfEmpty(ctx context.Context, room string) error

	CreateMetadata(ctx context.Context, userID, roomName, description string) (*Metadata, error)
	GetMetadata(ctx context.Context, userID, roomID string) (*Metadata, error)
	UpdateMetadata(ctx context.Context, userID, roomID string, roomName, description *string) (*Metadata, error)
	DeleteMetadata(ctx context.Context, userID, roomID string) (bool, error)
	ListUserRooms(ctx context.Context, userID string) ([]Metadata, error)
}

// NewRoomID generates an opaque room identifier.
func NewRoomID() string {
	return "room-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewMessageID generates a message identifier shared by all frames of one
// logical message.
func NewMessageID() string {
	return "m-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func defaultRoomMetadata(roomID string) *Metadata {
	now := time.Now().UTC()
	return &Metadata{
		RoomID:      roomID,
		RoomName:    "Public Chat",
		UserID:      SystemUserID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Description: "Default public room",
	}
}
