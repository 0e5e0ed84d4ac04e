package rendezvous

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lessonlive/meetmesh/internal/config"
)

func SetupRouter(cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctl := &Controller{
		Hub:       hub,
		ReadLimit: cfg.ReadLimit,
		// Generous enough for trickle-ICE bursts in a large mesh.
		Limit: NewLimiter(120, time.Second),
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/meetings", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Meetings())
	})
	r.GET("/ws", ctl.HandleWS)

	log.Info().Str("module", "rendezvous").Msg("router setup")
	return r
}
