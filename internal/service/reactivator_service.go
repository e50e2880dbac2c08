package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/openclaw/geminipool/internal/config"
	"github.com/robfig/cron/v3"
)

// ReactivatorService 周期性清除持久层的账号耗尽标记。
//
// 这是唯一的持久化恢复路径：exhausted_at 早于冷却窗口的账号被翻回
// active=true 并清空 exhausted_at。运行期冷却（CooldownRegistry）
// 读时自清，不经过持久层。
type ReactivatorService struct {
	accountRepo AccountRepository
	identity    *IdentityService
	cfg         *config.Config

	cron *cron.Cron

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewReactivatorService 创建后台复活任务。
func NewReactivatorService(accountRepo AccountRepository, identity *IdentityService, cfg *config.Config) *ReactivatorService {
	return &ReactivatorService{
		accountRepo: accountRepo,
		identity:    identity,
		cfg:         cfg,
	}
}

// Start 启动定时任务。重复调用无效果。
func (s *ReactivatorService) Start() {
	if s == nil || s.accountRepo == nil {
		return
	}
	s.startOnce.Do(func() {
		interval := s.cfg.Gateway.ReactivatorInterval()
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		c := cron.New()
		_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.runOnce() })
		if err != nil {
			log.Printf("[Reactivator] schedule failed: %v", err)
			return
		}
		c.Start()
		s.cron = c
		log.Printf("[Reactivator] started interval=%s cooldown=%s", interval, s.cfg.Gateway.ExhaustionCooldown())
	})
}

// Stop 停止定时任务并等待在跑的一轮结束。
func (s *ReactivatorService) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			ctx := s.cron.Stop()
			<-ctx.Done()
		}
		log.Printf("[Reactivator] stopped")
	})
}

func (s *ReactivatorService) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.accountRepo.ReactivateExhaustedAccounts(ctx, s.cfg.Gateway.ExhaustionCooldown())
	if err != nil {
		log.Printf("[Reactivator] reactivate failed: %v", err)
		return
	}
	if count > 0 {
		log.Printf("[Reactivator] reactivated %d account(s)", count)
		// 让下一次读取看到复活后的账号
		if s.identity != nil {
			s.identity.Invalidate()
		}
	}
}
