package service

import (
	"context"
	"sync"
	"time"

	"github.com/openclaw/geminipool/internal/config"
)

// fakeAccountRepo 内存账号仓储，记录全部写操作供断言。
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts []*Account

	getErr error

	updates     []recordedUpdate
	statsDeltas map[string]AccountStatsDelta
}

type recordedUpdate struct {
	email  string
	update AccountUpdate
}

func newFakeAccountRepo(accounts ...*Account) *fakeAccountRepo {
	return &fakeAccountRepo{
		accounts:    accounts,
		statsDeltas: make(map[string]AccountStatsDelta),
	}
}

func (f *fakeAccountRepo) GetActiveAccounts(ctx context.Context) ([]*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make([]*Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccountRepo) UpdateAccount(ctx context.Context, email string, update *AccountUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, recordedUpdate{email: email, update: *update})
	for _, a := range f.accounts {
		if a.Email != email {
			continue
		}
		if update.AccessToken != nil {
			a.AccessToken = *update.AccessToken
		}
		if update.RefreshToken != nil {
			a.RefreshToken = *update.RefreshToken
		}
		if update.ExpiresAt != nil {
			a.ExpiresAt = *update.ExpiresAt
		}
		if update.LastUsedAt != nil {
			t := *update.LastUsedAt
			a.LastUsedAt = &t
		}
		if update.Active != nil {
			a.Active = *update.Active
		}
		if update.ClearExhaustedAt {
			a.ExhaustedAt = nil
		} else if update.ExhaustedAt != nil {
			t := *update.ExhaustedAt
			a.ExhaustedAt = &t
		}
	}
	return nil
}

func (f *fakeAccountRepo) IncrementAccountStats(ctx context.Context, email string, delta AccountStatsDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.statsDeltas[email]
	cur.Successful += delta.Successful
	cur.Failed += delta.Failed
	cur.Tokens += delta.Tokens
	f.statsDeltas[email] = cur
	return nil
}

func (f *fakeAccountRepo) ReactivateExhaustedAccounts(ctx context.Context, cooldown time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-cooldown)
	var count int64
	for _, a := range f.accounts {
		if a.ExhaustedAt != nil && a.ExhaustedAt.Before(cutoff) {
			a.Active = true
			a.ExhaustedAt = nil
			count++
		}
	}
	return count, nil
}

func (f *fakeAccountRepo) statsFor(email string) AccountStatsDelta {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statsDeltas[email]
}

// lastDeactivation 返回最近一次将该账号置为停用的更新。
func (f *fakeAccountRepo) lastDeactivation(email string) *AccountUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.updates) - 1; i >= 0; i-- {
		u := f.updates[i]
		if u.email == email && u.update.Active != nil && !*u.update.Active {
			return &u.update
		}
	}
	return nil
}

func (f *fakeAccountRepo) tokenUpdateCount(email string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, u := range f.updates {
		if u.email == email && u.update.AccessToken != nil {
			n++
		}
	}
	return n
}

// fakeRequestLogRepo 记录写入的请求日志。
type fakeRequestLogRepo struct {
	mu      sync.Mutex
	entries []*RequestLogEntry
}

func (f *fakeRequestLogRepo) AddRequestLog(ctx context.Context, entry *RequestLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeRequestLogRepo) all() []*RequestLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*RequestLogEntry, len(f.entries))
	copy(out, f.entries)
	return out
}

// testGatewayConfig 引擎测试基准配置：错峰归零，回退链固定。
func testGatewayConfig() *config.Config {
	return &config.Config{
		Gateway: config.GatewayConfig{
			MaxAttempts:                5,
			InterIdentityStagger:       0,
			BaseRetryDelaySeconds:      2,
			MaxRetryDelaySeconds:       60,
			JitterFactor:               0,
			RateLimitMax:               60,
			RateLimitWindowSeconds:     60,
			ConcurrencyCap:             3,
			IdentityCacheTTLSeconds:    5,
			TokenRefreshMarginSeconds:  300,
			ExhaustionCooldownMinutes:  60,
			ReactivatorIntervalMinutes: 5,
			ProbeMarginSeconds:         120,
			MinProbeIntervalSeconds:    30,
			DefaultModel:               "gemini-2.5-flash",
			FallbackModel:              "gemini-2.5-pro",
			FallbackModelV2:            "gemini-3.1-pro",
			MaxBodySizeMB:              50,
		},
		Upstream: config.UpstreamConfig{
			BaseURL:              "https://cloudcode-pa.googleapis.com",
			UnaryTimeoutSeconds:  30,
			StreamTimeoutSeconds: 120,
		},
	}
}

func freshAccount(email string) *Account {
	return &Account{
		Email:        email,
		AccessToken:  "ya29." + email,
		RefreshToken: "1//refresh-" + email,
		ExpiresAt:    time.Now().Add(time.Hour),
		ProjectID:    "proj-" + email,
		Active:       true,
	}
}
