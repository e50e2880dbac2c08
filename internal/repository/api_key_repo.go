package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/service"
)

type apiKeyRepository struct {
	db     *sql.DB
	driver string
}

// NewAPIKeyRepository 创建客户端凭证仓储。
func NewAPIKeyRepository(db *sql.DB, cfg *config.Config) service.APIKeyRepository {
	return &apiKeyRepository{db: db, driver: cfg.Database.Driver}
}

// ValidateKeyDigest 按摘要判断凭证是否存在且启用。查不到按无效处理，不是错误。
func (r *apiKeyRepository) ValidateKeyDigest(ctx context.Context, digest string) (bool, error) {
	query := rebind(r.driver, "SELECT active FROM api_keys WHERE digest = ?")
	var active bool
	err := r.db.QueryRowContext(ctx, query, digest).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate key digest: %w", err)
	}
	return active, nil
}

// TouchKeyUsage 累加使用计数并刷新最近使用时间。
func (r *apiKeyRepository) TouchKeyUsage(ctx context.Context, digest string) error {
	query := rebind(r.driver, `UPDATE api_keys SET
		total_calls = total_calls + 1,
		last_used_at = ?
		WHERE digest = ?`)
	if _, err := r.db.ExecContext(ctx, query, time.Now(), digest); err != nil {
		return fmt.Errorf("touch key usage: %w", err)
	}
	return nil
}
