// Package http exposes a small read-only status API next to the realtime
// core: liveness and the counters an operator wants at a glance. The
// administrative console proper lives outside this process.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/novcord/server/internal/app"
	"github.com/novcord/server/internal/config"
	"github.com/novcord/server/internal/domain"
	"github.com/novcord/server/internal/voice"
)

type statsResponse struct {
	Status        string          `json:"status"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Online        int             `json:"online"`
	Sessions      int             `json:"sessions"`
	OnlineUsers   []domain.UserID `json:"online_users"`
	Voice         voice.Stats     `json:"voice"`
}

func SetupRouter(cfg *config.Config, reg *app.Registry, relay *voice.Relay) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	started := time.Now()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, statsResponse{
			Status:        "ok",
			UptimeSeconds: int64(time.Since(started).Seconds()),
			Online:        reg.OnlineCount(),
			Sessions:      reg.SessionCount(),
			OnlineUsers:   reg.SnapshotOnline(),
			Voice:         relay.Stats(),
		})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
