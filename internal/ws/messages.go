package ws

import "encoding/json"

// Client->server command envelope. One JSON frame per websocket message.
type ClientCommand struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Group string          `json:"group,omitempty"`
	AckID int64           `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Command type values accepted from clients.
const (
	CmdEvent       = "event"
	CmdSendToGroup = "sendToGroup"
	CmdJoinGroup   = "joinGroup"
	CmdLeaveGroup  = "leaveGroup"
	CmdSequenceAck = "sequenceAck"
)

// MessageData is the data payload of event and sendToGroup commands.
type MessageData struct {
	Message string `json:"message"`
	From    string `json:"from,omitempty"`
	Group   string `json:"group,omitempty"`
	NoEcho  bool   `json:"noEcho,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// AckFrame acknowledges joinGroup/leaveGroup, correlated by the
// client-supplied ack id.
type AckFrame struct {
	Type    string `json:"type"`
	AckID   int64  `json:"ackId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SystemFrame is sent once after a successful handshake.
type SystemFrame struct {
	Type         string `json:"type"`
	Event        string `json:"event"`
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId,omitempty"`
	Subprotocol  string `json:"subprotocol,omitempty"`
}
