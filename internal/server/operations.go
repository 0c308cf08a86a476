package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gigledger/internal/observability/logger"
	"github.com/smallbiznis/gigledger/internal/reconciliation"
	"go.uber.org/zap"
)

type runReconciliationRequest struct {
	ProjectIDs   []string   `json:"projectIds"`
	Since        *time.Time `json:"since"`
	LookbackDays int        `json:"lookbackDays"`
	DryRun       bool       `json:"dryRun"`
	BatchSize    int        `json:"batchSize"`
}

func (s *Server) GetNotificationStage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"stage": s.gateway.Stage()}})
}

// RunReconciliation scans projects and backfills missing notifications. An empty
// body scans every project.
func (s *Server) RunReconciliation(c *gin.Context) {
	var req runReconciliationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	if req.BatchSize < 0 || req.LookbackDays < 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	opts := reconciliation.Options{
		DryRun:    req.DryRun,
		BatchSize: req.BatchSize,
	}
	for _, id := range req.ProjectIDs {
		if id = strings.TrimSpace(id); id != "" {
			opts.ProjectIDs = append(opts.ProjectIDs, id)
		}
	}
	switch {
	case req.Since != nil:
		opts.Since = *req.Since
	case req.LookbackDays > 0:
		opts.Since = s.clock.Now().AddDate(0, 0, -req.LookbackDays)
	}

	ctx := c.Request.Context()
	report, err := s.reconciler.Run(ctx, opts)
	if err != nil && report.ProjectsScanned == 0 {
		AbortWithError(c, err)
		return
	}
	if err != nil {
		logger.FromContext(ctx).Warn("reconciliation.partial", zap.String("run_id", report.RunID), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) GetReconciliationRun(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	report, err := s.reconciler.GetRun(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) SweepAutopay(c *gin.Context) {
	ctx := c.Request.Context()
	summary, err := s.autopay.Sweep(ctx)
	if err != nil && summary.Scanned == 0 {
		AbortWithError(c, err)
		return
	}
	if err != nil {
		logger.FromContext(ctx).Warn("autopay.sweep_partial", zap.Int("errors", summary.Errors), zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// RunSchedulerJob forces one scheduler job outside its interval.
func (s *Server) RunSchedulerJob(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	name := strings.TrimSpace(c.Param("name"))
	if err := s.scheduler.RunJob(c.Request.Context(), name); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"job": name, "status": "completed"}})
}
