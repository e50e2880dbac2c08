package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/openclaw/geminipool/internal/pkg/logger"
)

func main() {
	// 配置加载前先有一个可用的引导 logger
	logger.InitBootstrap()

	app, err := initializeApplication()
	if err != nil {
		log.Fatalf("[Server] initialize failed: %v", err)
	}
	defer app.Cleanup()

	if err := logger.Init(logger.OptionsFromConfig(app.Config.Log)); err != nil {
		log.Fatalf("[Server] logger init failed: %v", err)
	}
	defer logger.Sync()

	if tz := app.Config.Timezone; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			time.Local = loc
		} else {
			log.Printf("[Server] invalid timezone %q, keeping system default: %v", tz, err)
		}
	}

	// 预热账号缓存；失败不阻塞启动，首个请求会同步加载
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := app.Identity.Warm(warmCtx); err != nil {
		log.Printf("[Server] identity warmup failed: %v", err)
	}
	warmCancel()

	app.Reactivator.Start()

	go func() {
		log.Printf("[Server] listening on %s", app.Server.Addr)
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Server] listen failed: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	stop()

	log.Printf("[Server] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] graceful shutdown failed: %v", err)
	}
	log.Printf("[Server] stopped")
}
