package main

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/service"
)

// Application 装配完成的应用：HTTP 服务、后台任务与退出清理。
type Application struct {
	Config      *config.Config
	Server      *http.Server
	Reactivator *service.ReactivatorService
	Identity    *service.IdentityService
	Cleanup     func()
}

// provideCleanup 聚合退出时的清理动作，逆依赖顺序执行。
func provideCleanup(
	db *sql.DB,
	reactivator *service.ReactivatorService,
) func() {
	return func() {
		cleanupSteps := []struct {
			name string
			fn   func() error
		}{
			{"ReactivatorService", func() error {
				if reactivator != nil {
					reactivator.Stop()
				}
				return nil
			}},
			{"Database", func() error {
				return db.Close()
			}},
		}

		for _, step := range cleanupSteps {
			if err := step.fn(); err != nil {
				log.Printf("[Cleanup] %s failed: %v", step.name, err)
				// Continue with remaining cleanup steps even if one fails
			} else {
				log.Printf("[Cleanup] %s succeeded", step.name)
			}
		}
	}
}
