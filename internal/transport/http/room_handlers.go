package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/codesync/internal/core"
)

// RoomHandlers provides read-only HTTP handlers over the in-memory room store.
type RoomHandlers struct {
	rooms *core.RoomStore
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(rooms *core.RoomStore, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms: rooms,
		log:   logger,
	}
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID            string  `json:"id"`
	Subscribers   int     `json:"subscribers"`
	ContentLength int     `json:"content_length"`
	HasContent    bool    `json:"has_content"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
	Content       *string `json:"content,omitempty"`
}

func roomResponse(info core.RoomInfo) RoomResponse {
	resp := RoomResponse{
		ID:            info.ID,
		Subscribers:   info.Subscribers,
		ContentLength: info.ContentLength,
		HasContent:    info.HasContent,
	}
	if !info.UpdatedAt.IsZero() {
		resp.UpdatedAt = info.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// ListRooms handles listing every known room.
// GET /api/rooms
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	infos := h.rooms.List()

	response := make([]RoomResponse, 0, len(infos))
	for _, info := range infos {
		response = append(response, roomResponse(info))
	}

	h.log.Debug().Int("room_count", len(response)).Msg("rooms listed")
	c.JSON(http.StatusOK, response)
}

// GetRoom returns one room including its current buffer.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	id := c.Param("id")

	room, ok := h.rooms.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}

	resp := roomResponse(room.Info())
	if content, has := room.Content(); has {
		resp.Content = &content
	}
	c.JSON(http.StatusOK, resp)
}
