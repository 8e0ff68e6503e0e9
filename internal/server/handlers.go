package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jamespud/barrage-rush-sub001/internal/model"
)

// sendRequest is the HTTP fallback body for clients without a data socket.
type sendRequest struct {
	UserID   int64  `json:"userId"`
	Content  string `json:"content"`
	Color    string `json:"color"`
	Size     int    `json:"size"`
	Position string `json:"position"`
}

func roomIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "invalid room id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleSend(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == 0 {
		// Gateways forward the authenticated user here.
		req.UserID, _ = strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	}
	if req.UserID == 0 || req.Content == "" {
		respondError(c, http.StatusBadRequest, "missing user or content")
		return
	}

	id, err := s.ids.NextID()
	if err != nil {
		s.logger.Error("id generation failed", "error", err)
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}

	msg := &model.DanmakuMessage{
		ID:        id,
		RoomID:    roomID,
		UserID:    req.UserID,
		Content:   req.Content,
		Color:     req.Color,
		Size:      req.Size,
		Position:  req.Position,
		Timestamp: model.Millis(time.Now()),
	}

	sent, err := s.producer.Publish(c.Request.Context(), msg)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid message")
		return
	}
	if !sent {
		respondError(c, http.StatusInternalServerError, "delivery failed")
		return
	}
	respondOK(c, gin.H{"messageId": strconv.FormatUint(id, 10)})
}

func (s *Server) handleRecent(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, err := s.cache.Latest(c.Request.Context(), roomID, limit)
	if err != nil {
		s.logger.Warn("recent cache read failed", "room_id", roomID, "error", err)
	}
	if len(msgs) == 0 && s.history != nil {
		msgs, err = s.history.FindRecentByRoom(c.Request.Context(), roomID, limit)
		if err != nil {
			s.logger.Error("history read failed", "room_id", roomID, "error", err)
			respondError(c, http.StatusInternalServerError, "internal error")
			return
		}
	}
	if msgs == nil {
		msgs = []*model.DanmakuMessage{}
	}
	respondOK(c, msgs)
}

func (s *Server) handleOnlineCount(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	count, err := s.registry.RoomOnlineCount(c.Request.Context(), roomID)
	if err != nil {
		s.logger.Error("online count read failed", "room_id", roomID, "error", err)
		respondError(c, http.StatusInternalServerError, "internal error")
		return
	}
	respondOK(c, gin.H{"roomId": roomID, "online": count})
}
