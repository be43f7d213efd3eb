package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/haven/internal/auth"
	"github.com/vovakirdan/haven/internal/config"
	havenlog "github.com/vovakirdan/haven/internal/log"
	"github.com/vovakirdan/haven/internal/store"
)

// NewServer builds the HTTP server: REST endpoints under /api and the
// WebSocket bridge at /ws.
func NewServer(authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	logger = havenlog.OrNop(logger)
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	apiHandlers := NewAPIHandlers(authService, logger)
	authGroup := router.Group("/api/auth")
	authGroup.POST("/register", apiHandlers.Register)
	authGroup.POST("/login", apiHandlers.Login)
	authGroup.POST("/verify", apiHandlers.Verify)

	roomHandlers := NewRoomHandlers(st, logger)
	userHandlers := NewUserHandlers(st, logger)
	protected := router.Group("/api", AuthMiddleware(authService, logger))
	protected.GET("/chatrooms/:peer", roomHandlers.GetChatroom)
	protected.GET("/chatrooms/:peer/messages", roomHandlers.ListMessages)
	protected.GET("/directory", userHandlers.Directory)

	// gin's writer refuses the hijack after the upgrade, so /ws stays outside it.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(authService, st, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
