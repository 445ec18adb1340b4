package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BioHazard786/Pairline/internal/api"
	"github.com/BioHazard786/Pairline/internal/hub"
	"github.com/BioHazard786/Pairline/internal/matchmaker"
	"github.com/BioHazard786/Pairline/internal/presence"
	"github.com/BioHazard786/Pairline/internal/version"
	"github.com/gin-gonic/gin"
)

func (s *Server) registerRoutes(g *gin.Engine) {
	g.GET("/health", s.health)
	g.GET("/ws", gin.WrapF(hub.ServeWs(s.hub)))
	g.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	r := g.Group("/api")
	r.POST("/login", s.login)
	r.POST("/logout", s.logout)
	r.POST("/heartbeat", s.heartbeat)
	r.GET("/presence", s.presence)

	r.POST("/queue", s.enqueue)
	r.POST("/queue/pair", s.tryPair)
	r.DELETE("/queue/:participant_id", s.cancel)

	r.GET("/rooms/:room_id", s.room)
	r.POST("/rooms/:room_id/leave", s.leave)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{Status: "ok", Version: version.Version})
}

func (s *Server) login(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.registry.Login(req.Name)
	switch {
	case errors.Is(err, presence.ErrNameTaken):
		s.metrics.Login("taken")
	case errors.Is(err, presence.ErrInvalidName):
		s.metrics.Login("invalid")
	case err == nil:
		s.metrics.Login("ok")
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.LoginResponse{ParticipantID: p.ID, Name: p.Name})
}

func (s *Server) logout(c *gin.Context) {
	req, ok := bindParticipant(c)
	if !ok {
		return
	}
	if err := s.matchmaker.Cancel(c.Request.Context(), req.ParticipantID); err != nil {
		slog.Warn("failed to dequeue on logout", "participant_id", req.ParticipantID, "error", err)
	}
	s.registry.Logout(req.ParticipantID)
	c.Status(http.StatusNoContent)
}

func (s *Server) heartbeat(c *gin.Context) {
	req, ok := bindParticipant(c)
	if !ok {
		return
	}
	if err := s.registry.Touch(req.ParticipantID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) presence(c *gin.Context) {
	c.JSON(http.StatusOK, api.PresenceResponse{Online: s.registry.Online()})
}

func (s *Server) enqueue(c *gin.Context) {
	req, ok := bindParticipant(c)
	if !ok {
		return
	}
	p, found := s.registry.Lookup(req.ParticipantID)
	if !found {
		writeError(c, presence.ErrUnknownParticipant)
		return
	}
	_ = s.registry.Touch(p.ID)

	entry := matchmaker.WaitingEntry{ParticipantID: p.ID, DisplayName: p.Name}
	if err := s.matchmaker.Enqueue(c.Request.Context(), entry); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) tryPair(c *gin.Context) {
	req, ok := bindParticipant(c)
	if !ok {
		return
	}
	_ = s.registry.Touch(req.ParticipantID)

	room, err := s.matchmaker.TryPair(c.Request.Context(), req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.PairResponse{Paired: room != nil, Room: room})
}

func (s *Server) cancel(c *gin.Context) {
	if err := s.matchmaker.Cancel(c.Request.Context(), c.Param("participant_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) room(c *gin.Context) {
	room, err := s.matchmaker.Room(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (s *Server) leave(c *gin.Context) {
	req, ok := bindParticipant(c)
	if !ok {
		return
	}
	if err := s.matchmaker.Leave(c.Request.Context(), c.Param("room_id"), req.ParticipantID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bindParticipant(c *gin.Context) (api.ParticipantRequest, bool) {
	var req api.ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ParticipantID == "" {
		abort(c, http.StatusBadRequest, "participant_id is required")
		return req, false
	}
	return req, true
}

// writeError maps domain errors to status codes. Retryable store failures
// become 503 so clients back off and retry.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, matchmaker.ErrRetryable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, presence.ErrNameTaken):
		status = http.StatusConflict
	case errors.Is(err, presence.ErrInvalidName), errors.Is(err, matchmaker.ErrInvalidParticipant):
		status = http.StatusBadRequest
	case errors.Is(err, matchmaker.ErrRoomNotFound), errors.Is(err, presence.ErrUnknownParticipant):
		status = http.StatusNotFound
	case errors.Is(err, matchmaker.ErrNotMember):
		status = http.StatusForbidden
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	abort(c, status, err.Error())
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, api.ErrorResponse{Error: msg})
}
