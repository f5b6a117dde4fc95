// server/server.go
package server

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/partyround/backbone/broadcast"
	"github.com/partyround/backbone/config"
	"github.com/partyround/backbone/dispatch"
	"github.com/partyround/backbone/logger"
	"github.com/partyround/backbone/models"
	"github.com/partyround/backbone/monitor"
	"github.com/partyround/backbone/persistence"
	"github.com/partyround/backbone/session"
	"github.com/partyround/backbone/timer"
)

var roomCodePattern = regexp.MustCompile(`^\d{6}$`)

// Server owns the HTTP surface: the room-creation endpoint, the health
// probe and the two websocket entry points. Game semantics live in the
// dispatcher and the aggregation service; the server only accepts, pumps
// and tears down connections.
type Server struct {
	cfg         config.ServerConfig
	rooms       persistence.RoomStore
	registry    *session.Registry
	dispatcher  *dispatch.Dispatcher
	broadcaster *broadcast.Broadcaster
	mon         *monitor.Monitor
	timers      *timer.Manager

	engine   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(cfg config.ServerConfig, rooms persistence.RoomStore, registry *session.Registry,
	dispatcher *dispatch.Dispatcher, broadcaster *broadcast.Broadcaster, mon *monitor.Monitor, timers *timer.Manager) *Server {

	s := &Server{
		cfg:         cfg,
		rooms:       rooms,
		registry:    registry,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		mon:         mon,
		timers:      timers,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/rooms", s.handleCreateRoom)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/ws/game/admin/:roomCode", s.handleAdminSocket)
	engine.GET("/ws/game/user/:roomCode", s.handleUserSocket)

	s.engine = engine
	return s
}

// Start blocks serving HTTP. The heartbeat sweep is armed first so every
// accepted connection is covered from the start.
func (s *Server) Start() error {
	if s.cfg.PingInterval > 0 {
		s.timers.Schedule(s.cfg.PingInterval, s.cfg.PingInterval, s.sweepHeartbeats)
	}
	logger.Log.Infof("server listening on %s", s.cfg.HTTPAddress)
	return s.engine.Run(s.cfg.HTTPAddress)
}

// handleCreateRoom mints a room and its administrator credential. The
// administrator id returned here is the secret the admin socket later
// presents in its join message.
func (s *Server) handleCreateRoom(c *gin.Context) {
	roomCode, err := s.rooms.GenerateUniqueRoomCode(c.Request.Context())
	if err != nil {
		logger.Log.Errorf("room code generation failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room capacity exhausted"})
		return
	}

	administratorID := uuid.NewString()
	if err := s.rooms.CreateRoom(c.Request.Context(), roomCode, administratorID); err != nil {
		logger.Log.Errorf("room creation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room creation failed"})
		return
	}

	if s.mon != nil {
		s.mon.IncRoomsCreated()
	}
	logger.Log.Infof("room %s created for administrator %s", roomCode, administratorID)
	c.JSON(http.StatusCreated, gin.H{
		"roomCode":        roomCode,
		"administratorId": administratorID,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sweepHeartbeats pings every open session and tells each room's
// participants the current headcount. Sessions whose ping fails are torn
// down here rather than waiting for the next read error.
func (s *Server) sweepHeartbeats() {
	ctx := context.Background()

	byRoom := make(map[string][]*session.Session)
	for _, sess := range s.registry.GetAllOpenSessions() {
		if err := sess.Conn.Ping(); err != nil {
			logger.Log.Warnf("ping failed for session %s, closing: %v", sess.ID, err)
			s.registry.CloseSession(sess.ID)
			s.registry.Unregister(sess.ID)
			continue
		}
		byRoom[sess.RoomCode] = append(byRoom[sess.RoomCode], sess)
	}

	for roomCode, sessions := range byRoom {
		count, err := s.rooms.GetUserCount(ctx, roomCode)
		if err != nil {
			logger.Log.Warnf("heartbeat headcount for room %s: %v", roomCode, err)
			continue
		}
		s.broadcaster.BroadcastJSON(sessions, models.NewHeartbeatMessage(roomCode, count), roomCode)
	}
}
