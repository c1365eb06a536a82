package api

import (
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/animerec/internal/api/handler"
	"github.com/timmy/animerec/internal/api/middleware"
	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/config"
)

// Dependencies are the services the HTTP layer is built on. Pipeline may be
// nil, which leaves the admin routes unregistered.
type Dependencies struct {
	Recommender handler.Recommender
	Views       handler.ViewTracker
	Accounts    handler.AccountManager
	Verifier    auth.TokenVerifier
	Pipeline    *handler.PipelineHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.ServerConfig, deps *Dependencies) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.CORS))

	cookieName := cfg.Cookie.Name
	if cookieName == "" {
		cookieName = "access_token"
	}
	cookie := cfg.Cookie
	cookie.Name = cookieName
	requireAuth := middleware.RequireAuth(deps.Verifier, cookieName)

	healthHandler := handler.NewHealthHandler()
	recommendationHandler := handler.NewRecommendationHandler(deps.Recommender)
	animeHandler := handler.NewAnimeHandler(deps.Views)
	userHandler := handler.NewUserHandler(deps.Accounts, cookie)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api", healthHandler.Root)

	anime := r.Group("/api/anime", requireAuth)
	{
		anime.POST("/recommendation", recommendationHandler.Recommend)
		anime.POST("/getAnime", animeHandler.GetAnime)
		anime.GET("/history", animeHandler.History)
	}

	v1 := r.Group("/api/v1", requireAuth)
	{
		v1.POST("/recommendations", recommendationHandler.RecommendV1)
	}

	users := r.Group("/api/users")
	{
		users.POST("/signup", userHandler.Signup)
		users.POST("/login", userHandler.Login)
		users.POST("/logout", userHandler.Logout)
		users.GET("/home", userHandler.Home)
		users.DELETE("/me", requireAuth, userHandler.Delete)
		users.POST("/delete", requireAuth, userHandler.Delete)
	}

	if deps.Pipeline != nil && cfg.AdminToken != "" {
		admin := r.Group("/api/admin", middleware.AdminToken(cfg.AdminToken))
		{
			admin.POST("/pipeline/ingest", deps.Pipeline.TriggerIngest)
			admin.POST("/pipeline/transform", deps.Pipeline.TriggerTransform)
			admin.GET("/pipeline/status", deps.Pipeline.Status)
		}
	}

	if cfg.StaticDir != "" {
		staticHandler := handler.NewStaticHandler(cfg.StaticDir)
		r.Static("/static", filepath.Join(cfg.StaticDir, "static"))
		r.GET("/", staticHandler.Index)
		r.GET("/:page", staticHandler.Page)
	}

	return r
}
