// server/ws.go
package server

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/network"
	"github.com/partyround/backbone/session"
)

type dispatchFunc func(ctx context.Context, sess *session.Session, data []byte) error

func (s *Server) handleAdminSocket(c *gin.Context) {
	s.acceptSocket(c, s.dispatcher.DispatchAdmin)
}

func (s *Server) handleUserSocket(c *gin.Context) {
	s.acceptSocket(c, s.dispatcher.DispatchUser)
}

// acceptSocket validates the room, upgrades and pumps frames into the
// dispatcher until the connection dies. Invalid rooms are rejected with a
// policy-violation close frame after the upgrade so websocket clients see
// a reasoned close instead of a failed handshake.
func (s *Server) acceptSocket(c *gin.Context, dispatch dispatchFunc) {
	roomCode := c.Param("roomCode")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Warnf("upgrade failed for room %s: %v", roomCode, err)
		return
	}
	wsConn := network.NewWSConnection(conn)

	if !roomCodePattern.MatchString(roomCode) {
		wsConn.CloseWithReason(websocket.ClosePolicyViolation, "invalid room code")
		return
	}
	exists, err := s.rooms.Exists(c.Request.Context(), roomCode)
	if err != nil {
		logger.Log.Errorf("room lookup failed for %s: %v", roomCode, err)
		wsConn.CloseWithReason(websocket.CloseInternalServerErr, "room lookup failed")
		return
	}
	if !exists {
		wsConn.CloseWithReason(websocket.ClosePolicyViolation, "room not found")
		return
	}

	s.pump(c.Request.Context(), roomCode, wsConn, dispatch)
}

// pump is the per-connection read loop. The session starts anonymous; the
// join and reconnect handlers bind it to a participant id.
func (s *Server) pump(ctx context.Context, roomCode string, conn network.Connection, dispatch dispatchFunc) {
	sess := session.NewSession("", roomCode, conn)

	if s.mon != nil {
		s.mon.IncOnlineSessions()
	}
	logger.Log.Infof("connection accepted. room=%s remote=%s", roomCode, conn.RemoteAddr())

	defer func() {
		if s.mon != nil {
			s.mon.DecOnlineSessions()
		}
		if sess.ID != "" {
			s.registry.Unregister(sess.ID)
		}
		conn.Close()
		logger.Log.Infof("connection closed. room=%s id=%s", roomCode, sess.ID)
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, context.Canceled) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Log.Debugf("read ended for room %s: %v", roomCode, err)
			}
			return
		}

		if s.mon != nil {
			s.mon.IncMessagesReceived()
		}
		// Dispatch errors were already answered on the wire; the loop
		// keeps reading so one bad frame does not cost the connection.
		_ = dispatch(ctx, sess, data)
	}
}
