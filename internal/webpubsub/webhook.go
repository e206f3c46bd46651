package webpubsub

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatrelay/internal/registry"
	"chatrelay/internal/relay"
)

const (
	ceTypeConnect      = "azure.webpubsub.sys.connect"
	ceTypeConnected    = "azure.webpubsub.sys.connected"
	ceTypeDisconnected = "azure.webpubsub.sys.disconnected"
	ceTypeUserPrefix   = "azure.webpubsub.user."
)

type connectBody struct {
	Query map[string][]string `json:"query"`
}

// WebhookHandler translates CloudEvents callbacks from the service into
// relay lifecycle events. The service delivers these synchronously over
// HTTP, so the handler only hands decoded events to the relay and returns.
func WebhookHandler(c *Client, svc *relay.Service) gin.HandlerFunc {
	return func(ginCtx *gin.Context) {
		if ginCtx.Request.Method == http.MethodOptions {
			// Abuse protection handshake.
			if ginCtx.GetHeader("WebHook-Request-Origin") != "" {
				ginCtx.Header("WebHook-Allowed-Origin", "*")
				ginCtx.Status(http.StatusOK)
			} else {
				ginCtx.Status(http.StatusBadRequest)
			}
			return
		}

		ceType := ginCtx.GetHeader("ce-type")
		connectionID := ginCtx.GetHeader("ce-connectionid")
		userID := ginCtx.GetHeader("ce-userid")
		if ceType == "" || connectionID == "" {
			ginCtx.Status(http.StatusBadRequest)
			return
		}

		ctx := ginCtx.Request.Context()
		switch {
		case ceType == ceTypeConnect:
			var body connectBody
			if err := ginCtx.ShouldBindJSON(&body); err != nil {
				zap.L().Debug("webpubsub.connect_body", zap.Error(err))
			}
			client := &registry.ClientContext{
				ConnectionID: connectionID,
				UserID:       userID,
				Query:        encodeQuery(body.Query),
			}
			svc.Emit(ctx, relay.KindConnecting, relay.Event{Client: client})
			c.addClient(client)
			if client.UserID == userID {
				ginCtx.Status(http.StatusNoContent)
			} else {
				ginCtx.JSON(http.StatusOK, gin.H{"userId": client.UserID})
			}

		case ceType == ceTypeConnected:
			client, ok := c.getClient(connectionID)
			if !ok {
				ginCtx.Status(http.StatusNotFound)
				return
			}
			svc.Emit(ctx, relay.KindConnected, relay.Event{Client: client})
			ginCtx.Status(http.StatusNoContent)

		case ceType == ceTypeDisconnected:
			client, ok := c.getClient(connectionID)
			if !ok {
				ginCtx.Status(http.StatusNotFound)
				return
			}
			svc.Emit(ctx, relay.KindDisconnected, relay.Event{Client: client})
			c.removeClient(connectionID)
			ginCtx.Status(http.StatusNoContent)

		case strings.HasPrefix(ceType, ceTypeUserPrefix):
			client, ok := c.getClient(connectionID)
			if !ok {
				ginCtx.Status(http.StatusNotFound)
				return
			}
			eventName := ginCtx.GetHeader("ce-eventName")
			if eventName == "" {
				eventName = ceType[len(ceTypeUserPrefix):]
			}
			payload, err := io.ReadAll(ginCtx.Request.Body)
			if err != nil {
				ginCtx.Status(http.StatusBadRequest)
				return
			}
			svc.Emit(ctx, relay.KindEventMessage, relay.Event{
				Client: client,
				Name:   eventName,
				Data:   json.RawMessage(payload),
			})
			ginCtx.Status(http.StatusNoContent)

		default:
			ginCtx.Status(http.StatusNoContent)
		}
	}
}

func encodeQuery(q map[string][]string) string {
	if len(q) == 0 {
		return ""
	}
	return url.Values(q).Encode()
}
