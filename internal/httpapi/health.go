package httpapi

import (
	"net/http"
	"time"

	"esign-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

func (h Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HealthzDetailed reports per-dependency health. Any failed check flips
// the overall status to degraded with a 503 so load balancers can react.
func (h Handlers) HealthzDetailed(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if h.DB != nil {
		start := time.Now()
		if err := utils.HealthCheck(ctx, h.DB, 2*time.Second); err != nil {
			checks["database"] = gin.H{"status": "down", "error": err.Error()}
			healthy = false
		} else {
			checks["database"] = gin.H{"status": "ok", "latency_ms": float64(time.Since(start).Microseconds()) / 1000}
		}
	} else {
		checks["database"] = gin.H{"status": "not configured"}
		healthy = false
	}

	if h.Storage != nil {
		probe := []byte("ok")
		path, err := h.Storage.Save(ctx, ".healthz", "probe", probe)
		if err == nil {
			err = h.Storage.Delete(ctx, path)
		}
		if err != nil {
			checks["storage"] = gin.H{"status": "down", "error": err.Error()}
			healthy = false
		} else {
			checks["storage"] = gin.H{"status": "ok"}
		}
	} else {
		checks["storage"] = gin.H{"status": "not configured"}
		healthy = false
	}

	if h.Redis != nil {
		start := time.Now()
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			// The limiter fails open, so a Redis outage degrades rather
			// than breaks signing.
			checks["redis"] = gin.H{"status": "down", "error": err.Error()}
		} else {
			checks["redis"] = gin.H{"status": "ok", "latency_ms": float64(time.Since(start).Microseconds()) / 1000}
		}
	} else {
		checks["redis"] = gin.H{"status": "disabled"}
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "checks": checks})
}
