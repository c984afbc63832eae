// Package httpapi exposes the triage pipeline, history, statistics and the
// knowledge base over HTTP and serves the web frontend.
package httpapi

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Skufu/GoTriage/internal/history"
	"github.com/Skufu/GoTriage/internal/knowledge"
	"github.com/Skufu/GoTriage/internal/metrics"
	"github.com/Skufu/GoTriage/internal/triage"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type QueryProcessor interface {
	Process(ctx context.Context, q triage.Query) triage.Result
}

// Info is reported by GET /api/info.
type Info struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Features    []string `json:"features"`
	DataSources []string `json:"data_sources"`
	LLMProvider string   `json:"llm_provider"`
	Model       string   `json:"model"`
	MockMode    bool     `json:"mock_mode"`
	Knowledge   string   `json:"knowledge_source"`
	Storage     string   `json:"storage_backend"`
}

type Deps struct {
	Triage    QueryProcessor
	Knowledge knowledge.Repository
	// Store may be nil; history and stats then report empty results.
	Store history.Store
	// DB may be nil when no database is configured.
	DB      HealthChecker
	Metrics *metrics.Collector
	Logger  *zap.Logger
	Info    Info

	StaticDir      string
	MaxBodyBytes   int64
	AllowedOrigins []string
	StatsLimit     int
	// TrustedProxies lists peers whose X-Forwarded-For is honoured. Empty
	// means the client IP is always the direct peer.
	TrustedProxies []string
}

func NewRouter(d Deps) *gin.Engine {
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}
	if d.StatsLimit <= 0 {
		d.StatsLimit = 1000
	}
	if len(d.AllowedOrigins) == 0 {
		d.AllowedOrigins = []string{"*"}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(d.TrustedProxies); err != nil {
		d.Logger.Warn("invalid trusted proxies, trusting none", zap.Strings("proxies", d.TrustedProxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(
		recovery(d.Logger),
		requestLogger(d.Logger),
		limitBodySize(d.MaxBodyBytes),
		cors.New(cors.Config{
			AllowOrigins: d.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization", sourceChannelHeader},
			MaxAge:       12 * time.Hour,
		}),
	)
	if d.Metrics != nil {
		router.Use(instrument(d.Metrics))
		router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	if d.StaticDir != "" {
		router.Static("/static", d.StaticDir)
		router.StaticFile("/", filepath.Join(d.StaticDir, "index.html"))
		router.StaticFile("/styles.css", filepath.Join(d.StaticDir, "styles.css"))
		router.StaticFile("/app.js", filepath.Join(d.StaticDir, "app.js"))
	}

	h := &handlers{
		triage:     d.Triage,
		repo:       d.Knowledge,
		store:      d.Store,
		db:         d.DB,
		info:       d.Info,
		statsLimit: d.StatsLimit,
		log:        d.Logger,
	}

	router.GET("/healthz", h.healthz)
	router.GET("/readyz", h.readyz)

	api := router.Group("/api")
	api.GET("/info", h.apiInfo)
	api.POST("/medical/query", h.medicalQuery)
	api.POST("/medical/structured", h.structuredQuery)
	api.GET("/history", h.listHistory)
	api.GET("/stats", h.stats)
	api.GET("/diseases", h.listDiseases)
	api.GET("/diseases/search", h.searchDiseases)
	api.GET("/diseases/:id", h.getDisease)
	api.GET("/guidelines", h.listGuidelines)

	router.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "route not found")
	})

	return router
}
