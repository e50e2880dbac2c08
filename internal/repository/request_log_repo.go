package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/service"
)

type requestLogRepository struct {
	db     *sql.DB
	driver string
}

// NewRequestLogRepository 创建请求日志仓储。
func NewRequestLogRepository(db *sql.DB, cfg *config.Config) service.RequestLogRepository {
	return &requestLogRepository{db: db, driver: cfg.Database.Driver}
}

func (r *requestLogRepository) AddRequestLog(ctx context.Context, entry *service.RequestLogEntry) error {
	query := rebind(r.driver, `INSERT INTO request_logs
		(id, account_email, model, prompt, response, system_instruction, total_tokens, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.AccountEmail,
		entry.Model,
		entry.Prompt,
		entry.Response,
		entry.SystemInstruction,
		entry.TotalTokens,
		entry.Success,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert request log: %w", err)
	}
	return nil
}
