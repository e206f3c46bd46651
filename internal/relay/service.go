package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatrelay/internal/registry"
	"chatrelay/internal/rooms"
)

// EventKind tags a lifecycle event dispatched to registered handlers.
type EventKind int

const (
	KindConnecting EventKind = iota
	KindConnected
	KindDisconnected
	KindEventMessage
	KindError
)

func (k EventKind) String() string {
	switch k {
	case KindConnecting:
		return "connecting"
	case KindConnected:
		return "connected"
	case KindDisconnected:
		return "disconnected"
	case KindEventMessage:
		return "event_message"
	case KindError:
		return "error"
	}
	return "unknown"
}

// Event is the fixed-shape payload handed to handlers. Name and Data are
// set for KindEventMessage only, Err for KindError only.
type Event struct {
	Client *registry.ClientContext
	Name   string
	Data   json.RawMessage
	Err    error
}

// Handler is one registered callback. Returned errors are logged and never
// propagated; a handler failure must not take down the relay.
type Handler func(ctx context.Context, ev Event) error

// Transport binds the relay to a network boundary. Both the self-hosted
// socket server and the managed-service client satisfy it, keeping the
// orchestration below transport-agnostic.
type Transport interface {
	SendToGroup(ctx context.Context, group string, frame OutboundFrame, excludeIDs []string) []registry.SendResult
	AddToGroup(ctx context.Context, connectionID, group string) error
	RemoveFromGroup(ctx context.Context, connectionID, group string) error
	Negotiate(ctx context.Context, userID string) (string, error)
}

// Service is the orchestration core: group membership, group broadcast and
// chunked streaming fan-out over an abstract transport, with a bounded
// transcript per room.
type Service struct {
	log         *zap.Logger
	store       rooms.Store
	transport   Transport
	defaultRoom string

	// Pacing between streamed fragments; keeps rapid token arrival
	// visually distinct in interactive clients.
	streamDelay time.Duration

	mu       sync.Mutex
	handlers map[EventKind][]Handler
}

type Option func(*Service)

func WithStreamDelay(d time.Duration) Option {
	return func(s *Service) { s.streamDelay = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(transport Transport, store rooms.Store, defaultRoomID string, opts ...Option) *Service {
	s := &Service{
		log:         zap.L(),
		store:       store,
		transport:   transport,
		defaultRoom: defaultRoomID,
		streamDelay: 50 * time.Millisecond,
		handlers:    make(map[EventKind][]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() rooms.Store   { return s.store }
func (s *Service) DefaultRoom() string  { return s.defaultRoom }
func (s *Service) Transport() Transport { return s.transport }

// On registers a handler for one event kind. Handlers run in registration
// order.
func (s *Service) On(kind EventKind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = append(s.handlers[kind], h)
}

// Emit dispatches an event to every handler registered for its kind.
// Handler errors and panics are logged and swallowed.
func (s *Service) Emit(ctx context.Context, kind EventKind, ev Event) {
	s.mu.Lock()
	hs := make([]Handler, len(s.handlers[kind]))
	copy(hs, s.handlers[kind])
	s.mu.Unlock()

	for _, h := range hs {
		s.invoke(ctx, kind, h, ev)
	}
}

func (s *Service) invoke(ctx context.Context, kind EventKind, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("relay.handler_panic",
				zap.Stringer("kind", kind), zap.Any("panic", r))
		}
	}()
	if err := h(ctx, ev); err != nil {
		s.log.Warn("relay.handler_error", zap.Stringer("kind", kind), zap.Error(err))
	}
}

// SendToGroup broadcasts one non-streaming message to a room and records it
// in the transcript. Persistence failures are logged, not propagated.
func (s *Service) SendToGroup(ctx context.Context, roomID, message string, excludeIDs []string, fromUserID string) ([]registry.SendResult, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	group := AsRoomGroup(roomID)
	messageID := rooms.NewMessageID()

	s.record(ctx, roomID, rooms.Event{
		Type:      rooms.EventTypeMessage,
		MessageID: messageID,
		From:      fromUserID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})

	frame := groupFrame(group, FrameData{
		MessageID: messageID,
		Message:   message,
		From:      fromUserID,
		RoomID:    roomID,
	}, fromUserID)
	return s.transport.SendToGroup(ctx, group, frame, excludeIDs), nil
}

// StreamingToGroup drains stream into a series of fragment frames sharing
// one message id, terminated by an explicit end marker, and persists the
// concatenated text as a single transcript event. The end marker is sent
// even when the producer fails or the context is cancelled mid-stream.
func (s *Service) StreamingToGroup(ctx context.Context, roomID string, stream TokenStream, excludeIDs []string, fromUserID string) (string, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return "", err
	}
	group := AsRoomGroup(roomID)
	messageID := rooms.NewMessageID()

	if c, ok := stream.(interface{ Close() }); ok {
		defer c.Close()
	}

	var (
		full      []byte
		completed bool
	)
	defer func() {
		// Detached from ctx so the marker still goes out after
		// cancellation. The transcript event is recorded after the
		// marker, and only when the producer ran to exhaustion.
		eosCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		eos := groupFrame(group, FrameData{
			MessageID:    messageID,
			From:         fromUserID,
			Streaming:    true,
			StreamingEnd: true,
			RoomID:       roomID,
		}, fromUserID)
		s.transport.SendToGroup(eosCtx, group, eos, excludeIDs)
		if completed {
			s.record(eosCtx, roomID, rooms.Event{
				Type:      rooms.EventTypeMessage,
				MessageID: messageID,
				From:      fromUserID,
				Message:   string(full),
				Timestamp: time.Now().UTC(),
			})
		}
	}()

	for {
		token, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return string(full), err
		}
		full = append(full, token...)

		frame := groupFrame(group, FrameData{
			MessageID: messageID,
			Message:   token,
			From:      fromUserID,
			Streaming: true,
			RoomID:    roomID,
		}, fromUserID)
		s.transport.SendToGroup(ctx, group, frame, excludeIDs)

		if s.streamDelay > 0 {
			select {
			case <-time.After(s.streamDelay):
			case <-ctx.Done():
				return string(full), ctx.Err()
			}
		}
	}

	completed = true
	return string(full), nil
}

// AddToGroup joins a connection to a room, registers the room in the
// history store and notifies the room directory.
func (s *Service) AddToGroup(ctx context.Context, connectionID, roomID string) error {
	if err := ValidateRoomID(roomID); err != nil {
		return err
	}
	if err := s.transport.AddToGroup(ctx, connectionID, AsRoomGroup(roomID)); err != nil {
		return err
	}
	if err := s.store.RegisterRoom(ctx, roomID); err != nil {
		s.log.Warn("relay.register_room_failed", zap.String("room", roomID), zap.Error(err))
	}
	s.NotifyRoomsChanged(ctx)
	return nil
}

// RemoveFromGroup leaves a room and opportunistically drops it from the
// history store if it retained no events.
func (s *Service) RemoveFromGroup(ctx context.Context, connectionID, roomID string) error {
	if err := s.transport.RemoveFromGroup(ctx, connectionID, AsRoomGroup(roomID)); err != nil {
		return err
	}
	if err := s.store.RemoveRoomIfEmpty(ctx, roomID); err != nil {
		s.log.Warn("relay.remove_room_failed", zap.String("room", roomID), zap.Error(err))
	}
	s.NotifyRoomsChanged(ctx)
	return nil
}

// RecordClientMessage persists a client-originated group message to the
// room transcript. Best-effort, used by transport adapters that fan the
// message out themselves.
func (s *Service) RecordClientMessage(ctx context.Context, roomID, fromUserID, message string) {
	s.record(ctx, roomID, rooms.Event{
		Type:      rooms.EventTypeMessage,
		MessageID: rooms.NewMessageID(),
		From:      fromUserID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// NotifyRoomsChanged broadcasts the current room directory to the system
// group. Best-effort: failures are logged and swallowed.
func (s *Service) NotifyRoomsChanged(ctx context.Context) {
	list, err := s.store.ListRooms(ctx)
	if err != nil {
		s.log.Debug("relay.rooms_changed_list_failed", zap.Error(err))
		return
	}
	frame := groupFrame(SysRoomsGroup, FrameData{
		Type:  "rooms-changed",
		Rooms: list,
	}, "")
	s.transport.SendToGroup(ctx, SysRoomsGroup, frame, nil)
}

func (s *Service) record(ctx context.Context, roomID string, ev rooms.Event) {
	if err := s.store.RecordEvent(ctx, roomID, ev); err != nil {
		s.log.Warn("relay.record_event_failed", zap.String("room", roomID), zap.Error(err))
	}
}
