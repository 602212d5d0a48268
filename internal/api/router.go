// Package api exposes the billing core over HTTP.
package api

import (
	"context"
	"time"

	"propiq-billing/internal/account"
	"propiq-billing/internal/analysis"
	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/common/observability"
	"propiq-billing/internal/ledger"
	"propiq-billing/internal/reconciler"
	"propiq-billing/internal/webhook"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports backing store health for /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the router dispatches to. Observability may be nil.
type Deps struct {
	Store         Pinger
	Ledger        *ledger.Ledger
	Accounts      *account.Service
	Analysis      *analysis.Service
	Verifier      *webhook.Verifier
	Processor     *webhook.Processor
	Reconciler    *reconciler.Reconciler
	Observability *observability.Observability
	Logger        logger.Logger
	AdminToken    string
	CORSOrigins   []string
}

type Server struct {
	deps   Deps
	logger logger.Logger
}

// NewRouter builds the gin engine with every billing route.
func NewRouter(deps Deps) *gin.Engine {
	s := &Server{deps: deps, logger: deps.Logger.WithFields(map[string]interface{}{"component": "api"})}

	router := gin.New()
	router.Use(gin.Recovery(), s.observe())
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: deps.CORSOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/health", s.health)
	router.GET("/ready", s.ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/stripe-webhook", s.stripeWebhook)

	api := router.Group("/api")
	api.POST("/users", s.signup)
	api.GET("/users/:id/usage", s.usage)
	api.GET("/users/:id/access", s.access)
	api.GET("/users/:id/analyses", s.listAnalyses)
	api.POST("/analyses", s.analyze)

	admin := router.Group("/admin")
	admin.Use(s.requireAdmin())
	admin.POST("/reconcile", s.reconcile)
	admin.POST("/reconcile/stale", s.reconcileStale)

	return router
}
