package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/realtime"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/rooms"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	Password    string `json:"password"`
	MeetLink    string `json:"meet_link"`
}

type joinRoomRequest struct {
	Password string `json:"password"`
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type roomViewResponse struct {
	Room        *rooms.Room     `json:"room"`
	Messages    []rooms.Message `json:"messages"`
	Members     []rooms.Member  `json:"members"`
	IsLoading   bool            `json:"is_loading"`
	IsAdmin     bool            `json:"is_admin"`
	IsConnected bool            `json:"is_connected"`
	Error       string          `json:"error,omitempty"`
}

func newRoomViewResponse(view rooms.View) roomViewResponse {
	response := roomViewResponse{
		Room:        view.Room,
		Messages:    view.Messages,
		Members:     view.Members,
		IsLoading:   view.IsLoading,
		IsAdmin:     view.IsAdmin,
		IsConnected: view.IsConnected,
	}
	if view.Err != nil {
		response.Error = roomErrorCode(view.Err)
	}
	return response
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	user := currentUser(c)
	var request createRoomRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	room, err := h.rooms.CreateRoom(c.Request.Context(), rooms.RoomInput{
		Name:        request.Name,
		Description: request.Description,
		IsPrivate:   request.IsPrivate,
		Password:    request.Password,
		MeetLink:    request.MeetLink,
	}, user.ID)
	if err != nil {
		h.respondRoomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *httpHandler) handleGetRoom(c *gin.Context) {
	aggregator, ok := h.mountAggregator(c)
	if !ok {
		return
	}
	defer aggregator.Close()

	view := aggregator.View()
	if view.Err != nil {
		h.respondRoomError(c, view.Err)
		return
	}
	c.JSON(http.StatusOK, newRoomViewResponse(view))
}

func (h *httpHandler) handleJoinRoom(c *gin.Context) {
	user := currentUser(c)
	var request joinRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	member, err := h.rooms.JoinRoom(c.Request.Context(), c.Param("id"), user.ID, request.Password)
	if err != nil {
		h.respondRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *httpHandler) handlePostMessage(c *gin.Context) {
	user := currentUser(c)
	var request postMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	message, err := h.rooms.PostMessage(c.Request.Context(), c.Param("id"), user.ID, request.Content)
	if err != nil {
		h.respondRoomError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h *httpHandler) handleLeaveRoom(c *gin.Context) {
	aggregator, ok := h.mountAggregator(c)
	if !ok {
		return
	}
	defer aggregator.Close()
	c.JSON(http.StatusOK, gin.H{"success": aggregator.LeaveRoom(c.Request.Context())})
}

func (h *httpHandler) handleDeleteRoom(c *gin.Context) {
	aggregator, ok := h.mountAggregator(c)
	if !ok {
		return
	}
	defer aggregator.Close()
	c.JSON(http.StatusOK, gin.H{"success": aggregator.DeleteRoom(c.Request.Context())})
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	user := currentUser(c)
	removed, err := h.rooms.RemoveMemberAsAdmin(c.Request.Context(), c.Param("id"), user.ID, c.Param("userId"))
	if err != nil {
		if errors.Is(err, rooms.ErrNotRoomAdmin) || errors.Is(err, rooms.ErrNotRoomMember) {
			c.JSON(http.StatusForbidden, gin.H{"success": false})
			return
		}
		h.logger.Warn("remove member failed", zap.String("room_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": removed > 0})
}

// mountAggregator opens a room view for the caller and runs its initial refresh. The caller must
// close the returned aggregator.
func (h *httpHandler) mountAggregator(c *gin.Context) (*rooms.Aggregator, bool) {
	roomID := strings.TrimSpace(c.Param("id"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return nil, false
	}
	aggregator, err := rooms.NewAggregator(c.Request.Context(), rooms.AggregatorConfig{
		RoomID:    roomID,
		User:      currentUser(c),
		Backend:   h.rooms,
		Transport: h.transport,
		Logger:    h.logger,
	})
	if err != nil {
		h.logger.Error("room aggregator mount failed", zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime_unavailable"})
		return nil, false
	}
	return aggregator, true
}

func (h *httpHandler) respondRoomError(c *gin.Context, err error) {
	code := roomErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rooms.ErrInvalidRoomInput):
		status = http.StatusBadRequest
	case errors.Is(err, rooms.ErrNotRoomMember), errors.Is(err, rooms.ErrNotRoomAdmin), errors.Is(err, rooms.ErrInvalidRoomPassword):
		status = http.StatusForbidden
	default:
		h.logger.Error("room request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}

func roomErrorCode(err error) string {
	var subscriptionErr *realtime.SubscriptionError
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, rooms.ErrInvalidRoomInput):
		return "invalid_room_input"
	case errors.Is(err, rooms.ErrNotRoomMember):
		return "not_room_member"
	case errors.Is(err, rooms.ErrNotRoomAdmin):
		return "not_room_admin"
	case errors.Is(err, rooms.ErrInvalidRoomPassword):
		return "invalid_room_password"
	case errors.As(err, &subscriptionErr):
		return "realtime_" + strings.ToLower(string(subscriptionErr.Status))
	default:
		return "room_request_failed"
	}
}
