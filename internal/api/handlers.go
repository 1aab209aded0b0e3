package api

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"giveaway/internal/model"
)

type createEventRequest struct {
	Event   model.EventInput `json:"event"`
	Deposit string           `json:"deposit" binding:"required"`
}

type participantsRequest struct {
	Participants []common.Address `json:"participants" binding:"required"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (s *Server) getState(c *gin.Context) {
	state, err := s.svc.State(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) getFees(c *gin.Context) {
	balances, err := s.svc.FeeBalances(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make(map[string]string, len(balances))
	for _, currency := range balances.Currencies() {
		out[currency] = balances.Get(currency).String()
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getTokens(c *gin.Context) {
	tokens, err := s.svc.WhitelistedTokens(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (s *Server) listEvents(c *gin.Context) {
	from, limit, ok := page(c, defaultPageSize)
	if !ok {
		return
	}
	events, err := s.svc.Events(c.Request.Context(), from, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) listToFinalize(c *gin.Context) {
	from, limit, ok := page(c, defaultPageSize)
	if !ok {
		return
	}
	events, err := s.svc.EventsToFinalize(c.Request.Context(), from, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) getEvent(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	event, err := s.svc.Event(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) listPayouts(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	from, limit, ok := page(c, defaultPageSize)
	if !ok {
		return
	}
	payouts, err := s.svc.Payouts(c.Request.Context(), id, from, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payouts)
}

func (s *Server) createEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	deposit, ok := new(big.Int).SetString(strings.TrimSpace(req.Deposit), 10)
	if !ok || deposit.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deposit"})
		return
	}
	id, err := s.svc.CreateEvent(c.Request.Context(), callerOf(c), req.Event, deposit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) insertParticipants(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	var req participantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added, err := s.svc.InsertParticipants(c.Request.Context(), callerOf(c), id, req.Participants)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (s *Server) finalize(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	payouts, err := s.svc.Finalize(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, payouts)
}

func (s *Server) distribute(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	from, limit, ok := page(c, 0)
	if !ok {
		return
	}
	batch, err := s.svc.Distribute(c.Request.Context(), id, from, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) closeEvent(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	if err := s.svc.Close(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// transferResult accepts batch reports from the transfer facility only.
func (s *Server) transferResult(c *gin.Context) {
	state, err := s.svc.State(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if !strings.EqualFold(callerOf(c).Hex(), state.TransferFacility) {
		c.JSON(http.StatusForbidden, gin.H{"error": "caller is not the transfer facility"})
		return
	}
	var result model.TransferResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.OnTransferResult(c.Request.Context(), result); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) setActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.SetActive(c.Request.Context(), callerOf(c), req.Active); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) whitelistToken(c *gin.Context) {
	var meta model.TokenMeta
	if err := c.ShouldBindJSON(&meta); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.WhitelistToken(c.Request.Context(), callerOf(c), meta); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
