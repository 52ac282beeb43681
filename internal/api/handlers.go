package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vigilstack/vigil-heal/internal/ledger"
	"github.com/vigilstack/vigil-heal/internal/orchestrator"
	"github.com/vigilstack/vigil-heal/internal/service"
	"github.com/vigilstack/vigil-heal/internal/utils"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	report, err := s.svc.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

type healthCheckRequest struct {
	Probes []string `json:"probes"`
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	var req healthCheckRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	snap, err := s.svc.HealthCheck(c.Request.Context(), req.Probes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

type recoverRequest struct {
	IssueKey string `json:"issue_key" binding:"required"`
	Action   string `json:"action"`
}

func (s *Server) handleRecover(c *gin.Context) {
	var req recoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attempt, err := s.svc.Recover(c.Request.Context(), req.IssueKey, req.Action)
	if err != nil {
		if errors.Is(err, orchestrator.ErrAttemptInFlight) {
			c.JSON(http.StatusAccepted, gin.H{
				"status":    "coalesced",
				"issue_key": req.IssueKey,
			})
			return
		}
		status := http.StatusBadRequest
		if errors.Is(err, orchestrator.ErrIssueNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "completed",
		"attempt": attempt,
	})
}

func (s *Server) handleIssues(c *gin.Context) {
	list, err := s.svc.Issues(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": list})
}

func (s *Server) handleHistory(c *gin.Context) {
	from, to, err := utils.ParseTimeRange(c.Query("from"), c.Query("to"), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attempts, err := s.svc.History(c.Request.Context(), ledger.Filter{
		IssueKey: c.Query("issue_key"),
		From:     from,
		To:       to,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func (s *Server) handleConfig(c *gin.Context) {
	var upd service.ConfigUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.svc.UpdateConfig(upd); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, utils.ErrConfig) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
