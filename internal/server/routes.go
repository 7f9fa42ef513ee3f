package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/v1", s.identity())
	{
		v1.POST("/sync/push", s.handlePush)
		v1.POST("/sync/pull", s.handlePull)
		v1.GET("/sync/stream", s.handleStream)

		if s.cfg.Actions != nil {
			v1.POST("/actions", s.handleActions)
		}
		if s.cfg.Checkpoints != nil && s.cfg.Store != nil {
			v1.GET("/checkpoint", s.handleCheckpointManifest)
			v1.GET("/checkpoint/chunks/:index", s.handleCheckpointChunk)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/flush", s.handleAdminFlush)
			if s.cfg.Scheduler != nil {
				admin.POST("/maintain", s.handleAdminMaintain)
			}
			admin.GET("/stats", s.handleAdminStats)
		}
	}
}
