// Package chat wires the chat-specific behavior onto the relay: joining the
// requested room on connect, relaying user prompts to the AI and streaming
// the reply back to the room.
package chat

import (
	"context"
	"encoding/json"
	"net/url"

	"go.uber.org/zap"

	"chatrelay/internal/ai"
	"chatrelay/internal/relay"
	"chatrelay/internal/rooms"
	"chatrelay/internal/tasks"
)

// Streamer produces the AI reply stream for a prompt plus history.
type Streamer interface {
	ChatStream(ctx context.Context, prompt string, history []ai.Message) relay.TokenStream
}

const sendToAIEvent = "sendToAI"

type sendToAIPayload struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId"`
}

// RegisterHandlers attaches the chat event handlers to the relay service.
func RegisterHandlers(svc *relay.Service, streamer Streamer, tracker *tasks.Tracker, log *zap.Logger) {
	registerLifecycle(svc, tracker, log)

	svc.On(relay.KindEventMessage, func(ctx context.Context, ev relay.Event) error {
		payload, ok := decodeSendToAI(ev)
		if !ok {
			return nil
		}
		return handleSendToAI(ctx, svc, streamer, tracker, log, ev.Client.ConnectionID, ev.Client.UserID, payload)
	})
}

// RegisterBasicHandlers wires the room lifecycle without an AI backend.
// Prompts are still relayed to the room, they just get no reply.
func RegisterBasicHandlers(svc *relay.Service, tracker *tasks.Tracker, log *zap.Logger) {
	registerLifecycle(svc, tracker, log)

	svc.On(relay.KindEventMessage, func(ctx context.Context, ev relay.Event) error {
		payload, ok := decodeSendToAI(ev)
		if !ok {
			return nil
		}
		_, err := svc.SendToGroup(ctx, payload.RoomID, payload.Message, []string{ev.Client.ConnectionID}, ev.Client.UserID)
		return err
	})
}

func registerLifecycle(svc *relay.Service, tracker *tasks.Tracker, log *zap.Logger) {
	svc.On(relay.KindConnecting, func(_ context.Context, ev relay.Event) error {
		// Placeholder for a future auth hook.
		if ev.Client.UserID == "" {
			ev.Client.UserID = "You"
		}
		return nil
	})

	svc.On(relay.KindConnected, func(ctx context.Context, ev relay.Event) error {
		roomID := roomFromQuery(ev.Client.Query, svc.DefaultRoom())
		if err := svc.AddToGroup(ctx, ev.Client.ConnectionID, roomID); err != nil {
			return err
		}
		log.Info("client connected",
			zap.String("conn", ev.Client.ConnectionID),
			zap.String("user", ev.Client.UserID),
			zap.String("room", roomID))
		return nil
	})

	svc.On(relay.KindDisconnected, func(_ context.Context, ev relay.Event) error {
		tracker.CancelAll(ev.Client.ConnectionID)
		log.Info("client disconnected", zap.String("conn", ev.Client.ConnectionID))
		return nil
	})
}

func decodeSendToAI(ev relay.Event) (sendToAIPayload, bool) {
	var payload sendToAIPayload
	if ev.Name != sendToAIEvent {
		return payload, false
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return payload, false
	}
	if payload.Message == "" || payload.RoomID == "" {
		return payload, false
	}
	return payload, true
}

func handleSendToAI(ctx context.Context, svc *relay.Service, streamer Streamer, tracker *tasks.Tracker, log *zap.Logger, connectionID, userID string, payload sendToAIPayload) error {
	// Broadcast the user's message to the room first; the sender already
	// rendered it locally.
	if _, err := svc.SendToGroup(ctx, payload.RoomID, payload.Message, []string{connectionID}, userID); err != nil {
		return err
	}

	history := conversationHistory(ctx, svc, payload.RoomID, payload.Message)
	log.Debug("starting AI stream",
		zap.String("room", payload.RoomID), zap.Int("history", len(history)))

	// Scheduled on the tracker so an in-flight stream is cancelled when
	// the requesting client disconnects.
	tracker.Schedule(context.Background(), connectionID, func(taskCtx context.Context) {
		stream := streamer.ChatStream(taskCtx, payload.Message, history)
		if _, err := svc.StreamingToGroup(taskCtx, payload.RoomID, stream, nil, ""); err != nil {
			log.Warn("AI stream ended with error",
				zap.String("room", payload.RoomID), zap.Error(err))
		}
	})
	return nil
}

// conversationHistory rebuilds the model conversation from the room
// transcript, dropping the just-broadcast prompt so it is not doubled.
func conversationHistory(ctx context.Context, svc *relay.Service, roomID, prompt string) []ai.Message {
	events, err := svc.Store().Messages(ctx, roomID, -1)
	if err != nil {
		return nil
	}
	history := make([]ai.Message, 0, len(events))
	for _, ev := range events {
		if ev.Type != rooms.EventTypeMessage || ev.Message == "" {
			continue
		}
		history = append(history, ai.Message{
			Role:    ai.RoleForSender(ev.From),
			Content: ev.Message,
		})
	}
	if n := len(history); n > 0 && history[n-1].Role == "user" && history[n-1].Content == prompt {
		history = history[:n-1]
	}
	return history
}

func roomFromQuery(rawQuery, defaultRoomID string) string {
	if vals, err := url.ParseQuery(rawQuery); err == nil {
		if roomID := vals.Get("roomId"); roomID != "" {
			return roomID
		}
	}
	return defaultRoomID
}
