package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/extraction"
	"github.com/your-org/facegate/internal/identity"
	"github.com/your-org/facegate/internal/labeling"
	"github.com/your-org/facegate/internal/promotion"
)

type RouterConfig struct {
	APIKeys        []string
	MaxUploadBytes int64
	Actors         *auth.Actors
	Engine         *extraction.Engine
	Labels         *labeling.Service
	Promotion      *promotion.Service
	Identity       *identity.Service
	Hub            *ws.Hub
	// Checks are pinged by /readyz.
	Checks map[string]handlers.Pinger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())
	if cfg.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = cfg.MaxUploadBytes
	}

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKeys...))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Everything below acts on behalf of a user
	user := v1.Group("")
	user.Use(cfg.Actors.Middleware(), BodyLimitMiddleware(cfg.MaxUploadBytes))

	// Extraction jobs and labeling
	extH := handlers.NewExtractionHandler(cfg.Engine, cfg.Labels, cfg.Promotion, cfg.MaxUploadBytes)
	user.POST("/extractions", extH.Start)
	user.GET("/extractions", extH.List)
	user.GET("/extractions/:id", extH.Get)
	user.GET("/extractions/:id/clusters", extH.Clusters)
	user.GET("/extractions/:id/clusters/:cluster/faces/:index", extH.Crop)
	user.POST("/extractions/:id/clusters/:cluster/labels", extH.ProposeLabel)
	user.POST("/extractions/:id/complete", extH.Complete)

	// Faces
	faceH := handlers.NewFaceHandler(cfg.Identity, cfg.Labels, cfg.Promotion, cfg.MaxUploadBytes)
	user.POST("/faces", faceH.Upload)
	user.GET("/faces", faceH.List)
	user.GET("/faces/:id", faceH.Get)
	user.GET("/faces/:id/image", faceH.Image)
	user.POST("/faces/:id/labels", faceH.ProposeLabel)
	user.POST("/faces/:id/verify", faceH.Verify)
	user.DELETE("/faces/:id", faceH.Deactivate)

	// Persons
	personH := handlers.NewPersonHandler(cfg.Identity, cfg.MaxUploadBytes)
	user.POST("/employees", personH.EnrollEmployee)
	user.POST("/visitors", personH.EnrollVisitor)
	user.GET("/persons/:type", personH.List)
	user.GET("/persons/:type/:id", personH.Get)
	user.DELETE("/persons/:type/:id", personH.Delete)
	user.POST("/recognize", personH.Recognize)

	// Users
	userH := handlers.NewUserHandler(cfg.Identity, cfg.Actors)
	user.GET("/users/me", userH.Me)
	user.GET("/users", userH.List)
	user.POST("/users", userH.Create)
	user.PUT("/users/:id/role", userH.ChangeRole)
	user.PUT("/users/:id/capabilities", userH.SetCapabilities)

	return r
}
