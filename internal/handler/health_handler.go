package handler

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/openclaw/geminipool/internal/service"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/gin-gonic/gin"
)

// HealthHandler 健康与状态端点。不暴露任何密钥信息。
type HealthHandler struct {
	identity *service.IdentityService
	gateway  *service.GatewayService

	startedAt time.Time
	proc      *process.Process
}

// NewHealthHandler 创建健康检查处理器。
func NewHealthHandler(identity *service.IdentityService, gateway *service.GatewayService) *HealthHandler {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &HealthHandler{
		identity:  identity,
		gateway:   gateway,
		startedAt: time.Now(),
		proc:      proc,
	}
}

// Healthz GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
	accounts, err := h.identity.GetReadyAccounts(c.Request.Context())
	poolTotal := len(accounts)
	cooldowns := h.gateway.Cooldowns().Snapshot()

	status := gin.H{
		"status":     "ok",
		"uptime_sec": int64(time.Since(h.startedAt).Seconds()),
		"pool": gin.H{
			"active":   poolTotal - len(cooldowns),
			"cooldown": len(cooldowns),
			"total":    poolTotal,
		},
		"runtime": h.runtimeStats(),
	}
	if err != nil {
		status["status"] = "degraded"
		status["pool"] = gin.H{"active": 0, "cooldown": len(cooldowns), "total": 0}
	}
	c.JSON(http.StatusOK, status)
}

func (h *HealthHandler) runtimeStats() gin.H {
	stats := gin.H{
		"goroutines": runtime.NumGoroutine(),
	}
	if h.proc != nil {
		if cpu, err := h.proc.CPUPercent(); err == nil {
			stats["cpu_percent"] = cpu
		}
		if mem, err := h.proc.MemoryInfo(); err == nil && mem != nil {
			stats["rss_bytes"] = mem.RSS
		}
	}
	return stats
}
