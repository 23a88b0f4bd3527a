package httpapi

import (
	"net/http"

	"taskdesk/pkg/config"
	"taskdesk/pkg/health"
	"taskdesk/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	fx.Provide(NewEngine, provideHandler),
	fx.Invoke(registerHealthEndpoint, registerMetricsEndpoint),
)

// NewEngine builds the gin engine shared by every route module. Routes under
// the returned engine get error rendering; identity is enforced per group.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Error())
	return r
}

func provideHandler(r *gin.Engine) http.Handler {
	return r
}

func registerHealthEndpoint(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

// registerMetricsEndpoint serves the default prometheus registry, which holds
// the otel instruments and the gorm pool collectors.
func registerMetricsEndpoint(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
