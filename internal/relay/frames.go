package relay

import "chatrelay/internal/rooms"

// Frame type values on the server->client wire.
const (
	FrameTypeSystem  = "system"
	FrameTypeMessage = "message"
	FrameTypeAck     = "ack"
)

// FrameData is the inner payload of a group broadcast frame.
type FrameData struct {
	MessageID    string           `json:"messageId,omitempty"`
	Message      string           `json:"message,omitempty"`
	From         string           `json:"from,omitempty"`
	Streaming    bool             `json:"streaming,omitempty"`
	StreamingEnd bool             `json:"streamingEnd,omitempty"`
	RoomID       string           `json:"roomId,omitempty"`
	Type         string           `json:"type,omitempty"`
	Rooms        []rooms.RoomInfo `json:"rooms,omitempty"`
}

// OutboundFrame is the wire-level broadcast envelope. Constructed fresh per
// send, never persisted.
type OutboundFrame struct {
	Type       string    `json:"type"`
	From       string    `json:"from"`
	Group      string    `json:"group"`
	DataType   string    `json:"dataType"`
	Data       FrameData `json:"data"`
	FromUserID string    `json:"fromUserId,omitempty"`
}

func groupFrame(group string, data FrameData, fromUserID string) OutboundFrame {
	return OutboundFrame{
		Type:       FrameTypeMessage,
		From:       "group",
		Group:      group,
		DataType:   "json",
		Data:       data,
		FromUserID: fromUserID,
	}
}
