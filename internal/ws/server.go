package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second // must be < pongWait

	maxMessageSize = 1 << 20
)

// Subprotocols the handshake accepts; anything else is rejected and the
// connection closed immediately.
var supportedSubprotocols = []string{
	"json.reliable.webpubsub.azure.v1",
	"json.webpubsub.azure.v1",
}

// Server is the self-hosted transport adapter: it accepts websocket
// connections, negotiates the subprotocol, decodes the command envelope and
// forwards decoded events into the relay service.
type Server struct {
	reg            *registry.Registry
	svc            *relay.Service
	publicEndpoint string
	upgrader       websocket.Upgrader
}

func NewServer(reg *registry.Registry, publicEndpoint string) *Server {
	return &Server{
		reg:            reg,
		publicEndpoint: strings.TrimRight(publicEndpoint, "/"),
		upgrader: websocket.Upgrader{
			Subprotocols:    supportedSubprotocols,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true }, // dev-only
		},
	}
}

// Bind attaches the relay service. Must be called before Handle serves
// traffic; split from the constructor because service and transport
// reference each other.
func (s *Server) Bind(svc *relay.Service) { s.svc = svc }

// ---------------------------------------------------------------------------
//  relay.Transport
// ---------------------------------------------------------------------------

func (s *Server) SendToGroup(ctx context.Context, group string, frame relay.OutboundFrame, excludeIDs []string) []registry.SendResult {
	payload, err := json.Marshal(frame)
	if err != nil {
		zap.L().Error("ws.marshal_frame", zap.Error(err))
		return nil
	}
	return s.reg.SendToGroup(ctx, group, payload, excludeIDs)
}

func (s *Server) AddToGroup(_ context.Context, connectionID, group string) error {
	return s.reg.AddToGroup(connectionID, group)
}

func (s *Server) RemoveFromGroup(_ context.Context, connectionID, group string) error {
	s.reg.RemoveFromGroup(connectionID, group)
	return nil
}

func (s *Server) Negotiate(context.Context, string) (string, error) {
	return s.publicEndpoint + "/ws", nil
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *Server) Handle(ginCtx *gin.Context) {
	if !s.subprotocolOffered(ginCtx.Request) {
		zap.L().Warn("ws.subprotocol_rejected",
			zap.Strings("offered", websocket.Subprotocols(ginCtx.Request)))
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "unsupported subprotocol"})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(maxMessageSize)

	connectionID := "conn-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	client := &registry.ClientContext{
		ConnectionID: connectionID,
		Query:        ginCtx.Request.URL.RawQuery,
	}
	wsConn := &clientConn{rawConn: rawConn}

	ctx := context.Background()
	s.svc.Emit(ctx, relay.KindConnecting, relay.Event{Client: client})

	if err := s.reg.Add(connectionID, client, wsConn); err != nil {
		zap.L().Error("ws.register", zap.String("conn", connectionID), zap.Error(err))
		rawConn.Close()
		return
	}

	s.svc.Emit(ctx, relay.KindConnected, relay.Event{Client: client})

	_ = wsConn.writeJSON(SystemFrame{
		Type:         relay.FrameTypeSystem,
		Event:        "connected",
		ConnectionID: connectionID,
		UserID:       client.UserID,
		Subprotocol:  rawConn.Subprotocol(),
	})

	go s.reader(client, wsConn)
	go s.pinger(wsConn)
}

func (s *Server) subprotocolOffered(r *http.Request) bool {
	for _, offered := range websocket.Subprotocols(r) {
		for _, supported := range supportedSubprotocols {
			if offered == supported {
				return true
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *Server) reader(client *registry.ClientContext, conn *clientConn) {
	connectionID := client.ConnectionID
	ctx := context.Background()

	defer func() {
		// Cleanup runs exactly once regardless of how the connection
		// closed: close the socket (stops the pinger on a peer that
		// stopped ponging), deregister (prunes group memberships),
		// then notify.
		conn.rawConn.Close()
		s.reg.Remove(connectionID)
		s.svc.Emit(ctx, relay.KindDisconnected, relay.Event{Client: client})
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.rawConn.ReadMessage()
		if err != nil {
			return // client closed or errored
		}

		var cmd ClientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			zap.L().Warn("ws.invalid_json", zap.String("conn", connectionID))
			continue
		}
		s.handleCommand(ctx, client, conn, cmd)
	}
}

func (s *Server) handleCommand(ctx context.Context, client *registry.ClientContext, conn *clientConn, cmd ClientCommand) {
	switch cmd.Type {
	case CmdEvent:
		var data MessageData
		if len(cmd.Data) > 0 {
			if err := json.Unmarshal(cmd.Data, &data); err != nil {
				zap.L().Warn("ws.bad_event_data", zap.Error(err))
				return
			}
		}
		if strings.TrimSpace(data.Message) == "" {
			return
		}
		s.svc.Emit(ctx, relay.KindEventMessage, relay.Event{
			Client: client,
			Name:   cmd.Event,
			Data:   cmd.Data,
		})

	case CmdSendToGroup:
		var data MessageData
		if len(cmd.Data) > 0 {
			if err := json.Unmarshal(cmd.Data, &data); err != nil {
				zap.L().Warn("ws.bad_message_data", zap.Error(err))
				return
			}
		}
		if strings.TrimSpace(data.Message) == "" {
			return
		}
		s.relayGroupMessage(ctx, client, data)

	case CmdJoinGroup:
		ack := AckFrame{Type: relay.FrameTypeAck, AckID: cmd.AckID, Success: true}
		if cmd.Group == "" {
			ack.Success = false
			ack.Error = "Group name is required"
		} else if err := s.reg.AddToGroup(client.ConnectionID, cmd.Group); err != nil {
			ack.Success = false
			ack.Error = err.Error()
		} else {
			if roomID, ok := relay.RoomIDFromGroup(cmd.Group); ok {
				if err := s.svc.Store().RegisterRoom(ctx, roomID); err != nil {
					zap.L().Warn("ws.register_room", zap.String("room", roomID), zap.Error(err))
				}
			}
			s.svc.NotifyRoomsChanged(ctx)
		}
		_ = conn.writeJSON(ack)

	case CmdLeaveGroup:
		ack := AckFrame{Type: relay.FrameTypeAck, AckID: cmd.AckID, Success: true}
		if cmd.Group == "" {
			ack.Success = false
			ack.Error = "Group name is required"
		} else {
			s.reg.RemoveFromGroup(client.ConnectionID, cmd.Group)
			if roomID, ok := relay.RoomIDFromGroup(cmd.Group); ok {
				if err := s.svc.Store().RemoveRoomIfEmpty(ctx, roomID); err != nil {
					zap.L().Warn("ws.remove_room", zap.String("room", roomID), zap.Error(err))
				}
			}
			s.svc.NotifyRoomsChanged(ctx)
		}
		_ = conn.writeJSON(ack)

	case CmdSequenceAck:
		// No reliable-delivery bookkeeping in self-host mode.

	default:
		zap.L().Warn("ws.unknown_command", zap.String("type", cmd.Type))
	}
}

// relayGroupMessage fans a client-originated group message out to the
// group, recording it in the room transcript when the group maps to a room.
func (s *Server) relayGroupMessage(ctx context.Context, client *registry.ClientContext, data MessageData) {
	frameData := relay.FrameData{
		Message: data.Message,
		From:    data.From,
	}
	if roomID, ok := relay.RoomIDFromGroup(data.Group); ok {
		frameData.RoomID = roomID
		s.svc.RecordClientMessage(ctx, roomID, data.From, data.Message)
	}

	var exclude []string
	if data.NoEcho {
		exclude = []string{client.ConnectionID}
	}
	s.SendToGroup(ctx, data.Group, relay.OutboundFrame{
		Type:       relay.FrameTypeMessage,
		From:       "group",
		Group:      data.Group,
		DataType:   "json",
		Data:       frameData,
		FromUserID: data.From,
	}, exclude)
}

func (s *Server) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.ping(); err != nil {
			conn.rawConn.Close()
			return
		}
	}
}
