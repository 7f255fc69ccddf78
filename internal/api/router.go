package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/slidefix/internal/api/handler"
	"github.com/timmy/slidefix/internal/api/middleware"
	"github.com/timmy/slidefix/internal/config"
	"github.com/timmy/slidefix/internal/logger"
	"github.com/timmy/slidefix/internal/metrics"
)

// Deps holds what the routes are served from. Archiver, Strategies, DBPing
// and Gatherer may be nil.
type Deps struct {
	Processor  handler.Processor
	Archiver   handler.Archiver
	Cache      handler.CacheAdmin
	Strategies handler.StrategyReporter
	Validator  handler.ValidatorReporter
	DBPing     handler.Pinger

	CacheDefaults handler.CacheDefaults
	Gatherer      prometheus.Gatherer
	Metrics       *metrics.Metrics
	Logger        *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps, mode string, cors config.CORSConfig) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log, deps.Metrics))
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler(deps.DBPing)
	processHandler := handler.NewProcessHandler(deps.Processor, deps.Archiver)
	cacheHandler := handler.NewCacheHandler(deps.Cache, deps.CacheDefaults)
	statsHandler := handler.NewStatsHandler(deps.Strategies, deps.Validator)

	r.GET("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		// Documents
		v1.POST("/process", processHandler.Process)
		v1.POST("/validate", processHandler.Validate)

		// Cache
		v1.GET("/cache/stats", cacheHandler.Stats)
		v1.POST("/cache/expire", cacheHandler.Expire)

		// Components
		v1.GET("/strategies", statsHandler.Strategies)
		v1.GET("/validator/stats", statsHandler.Validator)
	}

	return r
}
