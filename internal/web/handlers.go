package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/obbstream/internal/pipeline"
)

const defaultRunsLimit = 20

// handleRoot reports basic service information
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "running",
		"service": ServiceName,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleStart starts a pipeline, replacing any running one
func (s *Server) handleStart(c *gin.Context) {
	var cfg pipeline.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	if err := s.pipeline.StartPipeline(c.Request.Context(), cfg); err != nil {
		if pipeline.IsKind(err, pipeline.KindConfiguration) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.LogError("Failed to start pipeline", err, "input", cfg.InputURL)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to start pipeline: " + err.Error(),
		})
		return
	}

	status := s.pipeline.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Pipeline started",
		"run_id":  status.RunID,
	})
}

// handleStop stops the running pipeline
func (s *Server) handleStop(c *gin.Context) {
	stopped, err := s.pipeline.StopPipeline(c.Request.Context())
	if err != nil {
		s.LogError("Failed to stop pipeline", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to stop pipeline: " + err.Error(),
		})
		return
	}

	if !stopped {
		c.JSON(http.StatusOK, gin.H{
			"status":  "warning",
			"message": "No pipeline is running",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Pipeline stopped",
	})
}

// handleStatus reports pipeline state and the latest metrics. metrics is
// null until a pipeline has run.
func (s *Server) handleStatus(c *gin.Context) {
	status := s.pipeline.Status()

	label := "stopped"
	if status.Running {
		label = "running"
	}

	resp := gin.H{
		"status":        label,
		"is_processing": status.Running,
		"state":         status.State,
		"metrics":       status.Metrics,
	}
	if status.RunID != "" {
		resp["run_id"] = status.RunID
	}
	if status.LastError != "" {
		resp["last_error"] = status.LastError
	}
	c.JSON(http.StatusOK, resp)
}

// handleListRuns lists recent pipeline runs, newest first
func (s *Server) handleListRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Run history not available",
		})
		return
	}

	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.LogError("Failed to list runs", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleGetRun returns one pipeline run
func (s *Server) handleGetRun(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Run history not available",
		})
		return
	}

	id := c.Param("id")
	run, err := s.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		s.LogError("Failed to get run", err, "run_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get run"})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, run)
}
