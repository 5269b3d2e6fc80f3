package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/realtime"
	"github.com/GaneshTappiti/notesmary-mobile-sub001/internal/rooms"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	streamTypeStatus = "status"
	streamTypeChange = "change"
	streamTypeView   = "view"
	streamTypeAction = "action"

	roomActionRefresh = "refresh"
	roomActionLeave   = "leave"
	roomActionDelete  = "delete"
)

type streamMessage struct {
	Type    string                `json:"type"`
	Status  realtime.Status       `json:"status,omitempty"`
	Error   string                `json:"error,omitempty"`
	Event   *realtime.ChangeEvent `json:"event,omitempty"`
	View    *roomViewResponse     `json:"view,omitempty"`
	Action  string                `json:"action,omitempty"`
	Success *bool                 `json:"success,omitempty"`
}

type roomCommand struct {
	Action string `json:"action"`
}

// handleRealtime streams raw change events for one table scope over a websocket.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	cfg, err := parseChannelQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_channel"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	session := newWSSession(conn, h.logger)
	go session.writePump()

	name := "ws-" + cfg.Table + "-" + uuid.NewString()
	channel, err := h.transport.Subscribe(c.Request.Context(), name, cfg, realtime.Handlers{
		OnChange: func(event realtime.ChangeEvent) {
			session.enqueue(streamMessage{Type: streamTypeChange, Event: &event})
		},
		OnStatus: func(status realtime.Status, cause error) {
			message := streamMessage{Type: streamTypeStatus, Status: status}
			if cause != nil {
				message.Error = cause.Error()
			}
			session.enqueue(message)
			if status != realtime.StatusSubscribed {
				session.close()
			}
		},
	})
	if err != nil {
		h.logger.Warn("realtime subscribe failed", zap.String("table", cfg.Table), zap.Error(err))
		session.enqueue(streamMessage{Type: streamTypeStatus, Status: realtime.StatusChannelError, Error: err.Error()})
		session.close()
		return
	}
	defer channel.Close()

	session.readPump(nil)
}

// handleRoomLive runs a room view for the caller for as long as the websocket stays open and
// pushes the full view after every change.
func (h *httpHandler) handleRoomLive(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("id"))
	user := currentUser(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	session := newWSSession(conn, h.logger)
	go session.writePump()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	dirty := make(chan struct{}, 1)
	aggregator, err := rooms.NewAggregator(ctx, rooms.AggregatorConfig{
		RoomID:    roomID,
		User:      user,
		Backend:   h.rooms,
		Transport: h.transport,
		Logger:    h.logger,
		OnChange: func(rooms.View) {
			select {
			case dirty <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		h.logger.Warn("room live mount failed", zap.String("room_id", roomID), zap.Error(err))
		session.enqueue(streamMessage{Type: streamTypeStatus, Status: realtime.StatusChannelError, Error: err.Error()})
		session.close()
		return
	}
	defer aggregator.Close()

	go func() {
		for {
			select {
			case <-session.done:
				return
			case <-dirty:
				view := newRoomViewResponse(aggregator.View())
				session.enqueue(streamMessage{Type: streamTypeView, View: &view})
			}
		}
	}()

	session.readPump(func(raw []byte) {
		var command roomCommand
		if err := json.Unmarshal(raw, &command); err != nil {
			return
		}
		success := false
		switch command.Action {
		case roomActionRefresh:
			success = aggregator.Refresh(ctx) == nil
		case roomActionLeave:
			success = aggregator.LeaveRoom(ctx)
		case roomActionDelete:
			success = aggregator.DeleteRoom(ctx)
		default:
			return
		}
		session.enqueue(streamMessage{Type: streamTypeAction, Action: command.Action, Success: &success})
	})
}

func parseChannelQuery(c *gin.Context) (realtime.ChannelConfig, error) {
	cfg := realtime.ChannelConfig{
		Table:  strings.TrimSpace(c.Query("table")),
		Schema: strings.TrimSpace(c.Query("schema")),
	}
	if raw := strings.TrimSpace(c.Query("event")); raw != "" {
		event, err := realtime.ParseEventType(raw)
		if err != nil {
			return realtime.ChannelConfig{}, err
		}
		cfg.Event = event
	}
	if raw := strings.TrimSpace(c.Query("filter")); raw != "" {
		filter, err := realtime.ParseFilter(raw)
		if err != nil {
			return realtime.ChannelConfig{}, err
		}
		cfg.Filter = filter
	}
	if cfg.Table == "" {
		return realtime.ChannelConfig{}, realtime.ErrInvalidChannelConfig
	}
	return cfg, nil
}
