package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/vault-client-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var Module = fx.Module("health", fx.Provide(ProvideHealth))

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	checkTimeout = 2 * time.Second
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

type check func(ctx context.Context) error

type health struct {
	checks map[string]check
}

type HealthParams struct {
	fx.In
	DB    *gorm.DB      `optional:"true"`
	Redis *redis.Client `optional:"true"`
	Vault *vault.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	h := &health{checks: map[string]check{}}

	if p.DB != nil {
		h.checks[p.DB.Name()] = func(ctx context.Context) error {
			sqlDB, err := p.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if p.Redis != nil {
		h.checks["redis"] = func(ctx context.Context) error {
			return p.Redis.Ping(ctx).Err()
		}
	}
	if p.Vault != nil {
		h.checks["vault"] = func(ctx context.Context) error {
			_, err := p.Vault.System.ReadHealthStatus(ctx)
			return err
		}
	}

	return h
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  statusHealthy,
		Message: "OK",
	})
}

// Readiness pings every dependency concurrently and answers 503 when one of
// them fails.
func (h *health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		deps = make([]Dependency, 0, len(h.checks))
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, fn := range h.checks {
		g.Go(func() error {
			dep := Dependency{Name: name, Status: statusHealthy, Message: "OK"}
			if err := fn(gctx); err != nil {
				dep.Status, dep.Message = statusUnhealthy, err.Error()
			}
			mu.Lock()
			deps = append(deps, dep)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	this := &Health{Status: statusHealthy, Message: "OK", Deps: deps}
	code := http.StatusOK
	for _, dep := range deps {
		if dep.Status != statusHealthy {
			this.Status, this.Message = statusUnhealthy, "one or more dependencies are unavailable"
			code = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(code, this)
}
