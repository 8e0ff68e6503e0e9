package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jamespud/barrage-rush-sub001/internal/model"
	"github.com/jamespud/barrage-rush-sub001/internal/registry"
	"github.com/jamespud/barrage-rush-sub001/internal/ws"
)

// handleDataSocket terminates a viewer's data channel. The first connection
// creates the session; a client reconnecting with its session id reattaches
// instead. Frames received on the socket are published as messages.
func (s *Server) handleDataSocket(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	userID, _ := strconv.ParseInt(c.Query("userId"), 10, 64)
	if userID == 0 {
		respondError(c, http.StatusBadRequest, "missing user id")
		return
	}

	sess, err := s.attachSession(c, roomID, userID)
	if err != nil {
		respondError(c, http.StatusBadRequest, "unknown session")
		return
	}

	sock, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("data socket upgrade failed", "room_id", roomID, "error", err)
		return
	}

	channelID := uuid.NewString()
	if err := s.registry.SetDataChannel(c.Request.Context(), sess.SessionID, channelID); err != nil {
		s.logger.Error("attaching data channel failed",
			"session_id", sess.SessionID, "error", err)
		sock.Close()
		return
	}

	conn := ws.NewConn(channelID, sock)
	s.manager.RegisterLocal(roomID, conn)
	if _, err := s.registry.IncrRoomOnline(c.Request.Context(), roomID); err != nil {
		s.logger.Warn("online counter increment failed", "room_id", roomID, "error", err)
	}
	s.logger.Info("data channel opened",
		"room_id", roomID, "user_id", userID, "session_id", sess.SessionID)

	s.readDataFrames(c.Request.Context(), sock, sess, roomID, userID)

	s.manager.UnregisterLocal(roomID, channelID)
	conn.Close()
	ctx := c.Request.Context()
	if _, err := s.registry.DecrRoomOnline(ctx, roomID); err != nil {
		s.logger.Warn("online counter decrement failed", "room_id", roomID, "error", err)
	}
	if err := s.registry.SetOnline(ctx, sess.SessionID, false); err != nil {
		s.logger.Warn("marking session offline failed",
			"session_id", sess.SessionID, "error", err)
	}
	s.logger.Info("data channel closed",
		"room_id", roomID, "session_id", sess.SessionID)
}

// attachSession resolves the session a data socket belongs to, creating one
// when the client has none yet.
func (s *Server) attachSession(c *gin.Context, roomID, userID int64) (*model.UserSession, error) {
	if sessionID := c.Query("sessionId"); sessionID != "" {
		sess, err := s.registry.Get(c.Request.Context(), sessionID)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, registry.ErrNotFound) {
			return nil, err
		}
		// Stale id from a previous run; fall through and start fresh.
	}

	sess := &model.UserSession{
		UserID:   userID,
		RoomID:   roomID,
		Nickname: c.Query("nickname"),
		Avatar:   c.Query("avatar"),
		IP:       c.ClientIP(),
	}
	if err := s.registry.Create(c.Request.Context(), sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Server) readDataFrames(ctx context.Context, sock *websocket.Conn, sess *model.UserSession, roomID, userID int64) {
	for {
		_, frame, err := sock.ReadMessage()
		if err != nil {
			return
		}

		id, err := s.ids.NextID()
		if err != nil {
			s.logger.Error("id generation failed", "session_id", sess.SessionID, "error", err)
			continue
		}
		msg := &model.DanmakuMessage{
			ID:        id,
			RoomID:    roomID,
			UserID:    userID,
			Content:   string(frame),
			Timestamp: model.Millis(time.Now()),
		}
		if _, err := s.producer.Publish(ctx, msg); err != nil {
			s.logger.Warn("socket publish rejected",
				"session_id", sess.SessionID, "error", err)
		}
	}
}

// handleHeartbeatSocket terminates a viewer's heartbeat channel. The session
// is created here when the heartbeat channel connects first; every frame
// received refreshes liveness and the reply is a plain pong.
func (s *Server) handleHeartbeatSocket(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	userID, _ := strconv.ParseInt(c.Query("userId"), 10, 64)

	var sess *model.UserSession
	if sessionID := c.Query("sessionId"); sessionID != "" {
		var err error
		sess, err = s.registry.Get(c.Request.Context(), sessionID)
		if err != nil {
			if !errors.Is(err, registry.ErrNotFound) || userID == 0 {
				respondError(c, http.StatusBadRequest, "unknown session")
				return
			}
			sess = nil
		}
	}
	if sess == nil {
		if userID == 0 {
			respondError(c, http.StatusBadRequest, "missing session or user id")
			return
		}
		sess = &model.UserSession{UserID: userID, RoomID: roomID, IP: c.ClientIP()}
		if err := s.registry.Create(c.Request.Context(), sess); err != nil {
			s.logger.Error("creating session failed", "room_id", roomID, "error", err)
			respondError(c, http.StatusInternalServerError, "internal error")
			return
		}
	}

	sock, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("heartbeat socket upgrade failed", "session_id", sess.SessionID, "error", err)
		return
	}
	defer sock.Close()

	channelID := uuid.NewString()
	ctx := c.Request.Context()
	if err := s.registry.SetHeartbeatChannel(ctx, sess.SessionID, channelID); err != nil {
		s.logger.Error("attaching heartbeat channel failed",
			"session_id", sess.SessionID, "error", err)
		return
	}
	s.logger.Info("heartbeat channel opened", "session_id", sess.SessionID)

	for {
		if _, _, err := sock.ReadMessage(); err != nil {
			return
		}
		if err := s.manager.UpdateHeartbeat(ctx, sess.SessionID); err != nil {
			s.logger.Warn("heartbeat touch failed", "session_id", sess.SessionID, "error", err)
			continue
		}
		sock.WriteMessage(websocket.TextMessage, []byte("pong"))
	}
}
