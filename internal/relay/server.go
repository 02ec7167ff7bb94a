package relay

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/auth"
	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/store"
)

// NewServer builds the relay HTTP server: account endpoints, call
// history, health and the signaling websocket.
func NewServer(hub *Hub, st store.Store, jwt *auth.JWTConfig, cfg config.RelayConfig, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	handlers := NewHandlers(st, jwt, logger)

	router.GET("/healthz", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	api := router.Group("/api")
	{
		api.POST("/register", handlers.Register)
		api.POST("/login", handlers.Login)

		authed := api.Group("", AuthMiddleware(jwt, logger))
		authed.GET("/calls", handlers.ListCalls)
	}

	// The websocket handler authenticates on its own.
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, jwt, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
