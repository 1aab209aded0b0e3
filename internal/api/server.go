// Package api exposes the giveaway service over HTTP.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"giveaway/internal/giveaway"
)

const defaultPageSize = 50

// Server routes HTTP requests to the giveaway service.
type Server struct {
	svc    *giveaway.Service
	secret []byte
	logger *zap.Logger
}

// NewServer builds a Server. Mutating routes require a token signed with secret.
func NewServer(svc *giveaway.Service, secret []byte, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, secret: secret, logger: logger}
}

// Router returns the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)

	r.GET("/state", s.getState)
	r.GET("/fees", s.getFees)
	r.GET("/tokens", s.getTokens)
	r.GET("/events", s.listEvents)
	r.GET("/events/to-finalize", s.listToFinalize)
	r.GET("/events/:id", s.getEvent)
	r.GET("/events/:id/payouts", s.listPayouts)

	auth := r.Group("/", s.authenticate)
	auth.POST("/events", s.createEvent)
	auth.POST("/events/:id/participants", s.insertParticipants)
	auth.POST("/events/:id/finalize", s.finalize)
	auth.POST("/events/:id/distribute", s.distribute)
	auth.POST("/events/:id/close", s.closeEvent)
	auth.POST("/transfers/results", s.transferResult)
	auth.PUT("/admin/active", s.setActive)
	auth.POST("/admin/tokens", s.whitelistToken)
	return r
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Info("http request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)),
	)
}

// fail writes err with a status derived from the service error kind.
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, giveaway.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, giveaway.ErrNoAccess):
		return http.StatusForbidden
	case errors.Is(err, giveaway.ErrNotInitialized),
		errors.Is(err, giveaway.ErrAlreadyInitialized),
		errors.Is(err, giveaway.ErrInactive),
		errors.Is(err, giveaway.ErrWrongStatus),
		errors.Is(err, giveaway.ErrWindowClosed),
		errors.Is(err, giveaway.ErrTooEarly),
		errors.Is(err, giveaway.ErrNoParticipants),
		errors.Is(err, giveaway.ErrShortSeed),
		errors.Is(err, giveaway.ErrPayoutsPending):
		return http.StatusConflict
	case giveaway.IsPrecondition(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func eventID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return 0, false
	}
	return id, true
}

// page reads from and limit query parameters.
func page(c *gin.Context, defaultLimit uint64) (uint64, uint64, bool) {
	from, err := queryUint(c, "from", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return 0, 0, false
	}
	limit, err := queryUint(c, "limit", defaultLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, 0, false
	}
	return from, limit, true
}

func queryUint(c *gin.Context, key string, fallback uint64) (uint64, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
