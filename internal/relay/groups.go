package relay

import (
	"errors"
	"strings"
)

// Room ids are namespaced into the transport's flat group namespace with a
// fixed prefix so user rooms cannot collide with system groups. The mapping
// is a naming convention, not a security boundary.
const (
	roomGroupPrefix = "room_"
	sysGroupPrefix  = "sys_"

	// SysRoomsGroup receives room-directory change notifications.
	SysRoomsGroup = "sys_rooms"
)

// ErrReservedRoomID rejects room ids that would land in the system group
// namespace.
var ErrReservedRoomID = errors.New("room id uses a reserved prefix")

func AsRoomGroup(roomID string) string {
	return roomGroupPrefix + roomID
}

// RoomIDFromGroup inverts AsRoomGroup. Returns false for system or foreign
// group names.
func RoomIDFromGroup(group string) (string, bool) {
	if strings.HasPrefix(group, roomGroupPrefix) {
		return group[len(roomGroupPrefix):], true
	}
	return "", false
}

func ValidateRoomID(roomID string) error {
	if strings.HasPrefix(roomID, sysGroupPrefix) {
		return ErrReservedRoomID
	}
	return nil
}
