package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lakegate/lakegate/internal/actions"
	"github.com/lakegate/lakegate/internal/gateway"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"gatewayId": s.cfg.Gateway.ID(),
	})
}

func (s *Server) handlePush(c *gin.Context) {
	var req gateway.SyncPush
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "VALIDATION_ERROR"})
		return
	}

	res, err := s.cfg.Gateway.Push(c.Request.Context(), &req, clientIdentity(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handlePull(c *gin.Context) {
	var req gateway.SyncPull
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "VALIDATION_ERROR"})
		return
	}

	res, err := s.cfg.Gateway.Pull(c.Request.Context(), &req, s.rulesContext(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleActions(c *gin.Context) {
	var req struct {
		Actions []actions.Action `json:"actions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "VALIDATION_ERROR"})
		return
	}

	res, err := s.cfg.Actions.Dispatch(c.Request.Context(), req.Actions, s.rulesContext(c))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCheckpointManifest(c *gin.Context) {
	data, err := s.cfg.Store.Get(c.Request.Context(), s.cfg.Checkpoints.ManifestKey())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleCheckpointChunk(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, errorBody{Error: "chunk index must be a non-negative integer", Code: "VALIDATION_ERROR", Field: "index"})
		return
	}

	data, err := s.cfg.Store.Get(c.Request.Context(), s.cfg.Checkpoints.ChunkKey(index))
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleAdminFlush(c *gin.Context) {
	var req struct {
		Table string `json:"table"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "VALIDATION_ERROR"})
			return
		}
	}

	var (
		res *flushResult
		err error
	)
	if req.Table != "" {
		res, err = s.flushTable(c, req.Table)
	} else {
		res, err = s.flushAll(c)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

type flushResult struct {
	Deltas    int    `json:"deltas"`
	Bytes     int    `json:"bytes"`
	ObjectKey string `json:"objectKey,omitempty"`
	Format    string `json:"format,omitempty"`
}

func (s *Server) flushAll(c *gin.Context) (*flushResult, error) {
	res, err := s.cfg.Gateway.FlushNow(c.Request.Context())
	if err != nil {
		return nil, err
	}

	return &flushResult{Deltas: res.Deltas, Bytes: res.Bytes, ObjectKey: res.ObjectKey, Format: res.Format}, nil
}

func (s *Server) flushTable(c *gin.Context, table string) (*flushResult, error) {
	res, err := s.cfg.Gateway.FlushTableNow(c.Request.Context(), table)
	if err != nil {
		return nil, err
	}

	return &flushResult{Deltas: res.Deltas, Bytes: res.Bytes, ObjectKey: res.ObjectKey, Format: res.Format}, nil
}

func (s *Server) handleAdminMaintain(c *gin.Context) {
	report, err := s.cfg.Scheduler.RunOnce(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) handleAdminStats(c *gin.Context) {
	stats := s.cfg.Gateway.Stats()

	tables := make(map[string]gin.H, len(stats.Tables))
	for name, t := range stats.Tables {
		tables[name] = gin.H{"count": t.Count, "bytes": t.Bytes}
	}

	c.JSON(http.StatusOK, gin.H{
		"gatewayId":      s.cfg.Gateway.ID(),
		"logSize":        stats.LogSize,
		"estimatedBytes": stats.EstimatedBytes,
		"createdAt":      stats.CreatedAt,
		"tables":         tables,
	})
}
