package roomhandler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/relay"
	"chatrelay/internal/rooms"
)

// Hard ceiling on history reads regardless of the requested limit.
const maxMessagesLimit = 500

type Handler struct {
	store rooms.Store
	svc   *relay.Service
}

func New(store rooms.Store, svc *relay.Service) *Handler {
	return &Handler{store: store, svc: svc}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/api/rooms", h.list)
	r.POST("/api/rooms", h.create)
	r.GET("/api/rooms/:id", h.get)
	r.PUT("/api/rooms/:id", h.update)
	r.DELETE("/api/rooms/:id", h.delete)
	r.GET("/api/rooms/:id/messages", h.messages)
	r.GET("/api/negotiate", h.negotiate)
}

// userID scopes room metadata by caller identity. No auth here; the header
// is trusted as-is.
func userID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader("X-User-Id")); id != "" {
		return id
	}
	return "anonymous"
}

func (h *Handler) list(c *gin.Context) {
	uid := userID(c)
	list, err := h.store.ListUserRooms(c.Request.Context(), uid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": list, "user_id": uid})
}

func (h *Handler) create(c *gin.Context) {
	var body CreateRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	// Room ids are always server-generated.
	if body.RoomID != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Explicit roomId not allowed; omit roomId to create"})
		return
	}
	roomName := strings.TrimSpace(body.RoomName)
	if roomName == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "roomName is required"})
		return
	}
	m, err := h.store.CreateMetadata(c.Request.Context(), userID(c), roomName, strings.TrimSpace(body.Description))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to create room"})
		return
	}
	c.Header("Location", "/api/rooms/"+m.RoomID)
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) get(c *gin.Context) {
	m, err := h.store.GetMetadata(c.Request.Context(), userID(c), c.Param("id"))
	if errors.Is(err, rooms.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get room"})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *Handler) update(c *gin.Context) {
	var body UpdateRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Request body required"})
		return
	}
	m, err := h.store.UpdateMetadata(c.Request.Context(), userID(c), c.Param("id"), body.RoomName, body.Description)
	switch {
	case errors.Is(err, rooms.ErrSystemRoom):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Cannot update system room"})
	case errors.Is(err, rooms.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Room not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to update room"})
	default:
		c.JSON(http.StatusOK, m)
	}
}

func (h *Handler) delete(c *gin.Context) {
	_, err := h.store.DeleteMetadata(c.Request.Context(), userID(c), c.Param("id"))
	switch {
	case errors.Is(err, rooms.ErrSystemRoom):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Cannot delete system room"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to delete room"})
	default:
		// Idempotent: success even if the room was already gone.
		c.JSON(http.StatusOK, gin.H{"message": "Room deleted (idempotent)"})
	}
}

func (h *Handler) messages(c *gin.Context) {
	var q MessagesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	limit := q.Limit
	if limit > maxMessagesLimit {
		limit = maxMessagesLimit
	}
	msgs, err := h.store.Messages(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to retrieve messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// negotiate returns the URL a client should use to open its transport
// connection: the local relay endpoint in self-host mode or a signed
// service access URL in managed mode.
func (h *Handler) negotiate(c *gin.Context) {
	url, err := h.svc.Transport().Negotiate(c.Request.Context(), userID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Negotiation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
