package http

import (
	"context"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Dispatch/internal/app"
	"github.com/dkeye/Dispatch/internal/config"
)

const sessionName = "DispatchSessions"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a long-lived id used to
// label its event stream.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, d *app.Dashboard) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	// Rate limits key on the peer address; forwarded headers are ignored.
	if err := r.SetTrustedProxies(nil); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("set trusted proxies")
	}
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 12, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{d: d}
	r.Use(h.restoreOperator)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")

	r.GET("/healthz", h.health)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.GET("", h.authStatus)
	authGroup.POST("/login", Limit(NewRateLimiter(5, time.Minute)), h.login)
	authGroup.POST("/logout", h.requireOperator, h.logout)

	op := api.Group("", h.requireOperator)

	calls := op.Group("/calls")
	calls.GET("", h.listCalls)
	calls.GET("/active", h.activeCalls)
	calls.POST("/initialize", h.initializeCall)
	calls.GET("/:id", h.callDetails)
	calls.GET("/:id/transcript", h.callTranscript)
	calls.POST("/:id/cancel", h.cancelCall)
	calls.POST("/:id/retry", h.retryCall)
	calls.POST("/:id/watch", h.watchCall)
	calls.DELETE("/:id/watch", h.unwatchCall)

	op.GET("/analytics", h.analytics)
	op.GET("/alerts", h.alerts)

	sess := op.Group("/session")
	sess.GET("", h.sessionSnapshot)
	sess.POST("/start", Limit(NewRateLimiter(10, time.Minute)), h.startCall)
	sess.POST("/end", h.endCall)
	sess.POST("/clear-error", h.clearError)
	sess.POST("/devices", h.checkDevices)

	op.GET("/events", func(c *gin.Context) {
		h.events(ctx, c)
	})

	return r
}
