package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"loancheck-backend/internal/documents"
	"loancheck-backend/internal/shared/config"
	"loancheck-backend/internal/shared/metrics"
	"loancheck-backend/internal/shared/server/middleware"
	"loancheck-backend/internal/shared/server/respond"
	"loancheck-backend/internal/uploads"
	"loancheck-backend/internal/verifications"
)

// RouterDeps carries the handlers wired by bootstrap.
type RouterDeps struct {
	Config              config.Config
	DocumentHandler     *documents.Handler
	VerificationHandler *verifications.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	if deps.VerificationHandler != nil {
		deps.VerificationHandler.RegisterRoutes(api)
	}
	uploads.RegisterRoutes(api)

	r.GET("/metrics", metrics.Handler())

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
