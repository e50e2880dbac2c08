package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/service"
)

type accountRepository struct {
	db     *sql.DB
	driver string
}

// NewAccountRepository 创建账号仓储。
func NewAccountRepository(db *sql.DB, cfg *config.Config) service.AccountRepository {
	return &accountRepository{db: db, driver: cfg.Database.Driver}
}

const accountColumns = `email, access_token, refresh_token, expires_at, project_id, paid_tier,
	active, last_used_at, exhausted_at, successful_calls, failed_calls, tokens_consumed,
	created_at, updated_at`

// GetActiveAccounts 返回启用账号，last_used_at 为空的排最前（从未用过的优先轮换）。
func (r *accountRepository) GetActiveAccounts(ctx context.Context) ([]*service.Account, error) {
	query := rebind(r.driver, `SELECT `+accountColumns+`
		FROM accounts
		WHERE active = ?
		ORDER BY last_used_at IS NOT NULL, last_used_at ASC`)

	rows, err := r.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("query active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*service.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func scanAccount(rows *sql.Rows) (*service.Account, error) {
	var (
		account     service.Account
		expiresAt   sql.NullTime
		lastUsedAt  sql.NullTime
		exhaustedAt sql.NullTime
	)
	err := rows.Scan(
		&account.Email,
		&account.AccessToken,
		&account.RefreshToken,
		&expiresAt,
		&account.ProjectID,
		&account.PaidTier,
		&account.Active,
		&lastUsedAt,
		&exhaustedAt,
		&account.SuccessfulCalls,
		&account.FailedCalls,
		&account.TokensConsumed,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if expiresAt.Valid {
		account.ExpiresAt = expiresAt.Time
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		account.LastUsedAt = &t
	}
	if exhaustedAt.Valid {
		t := exhaustedAt.Time
		account.ExhaustedAt = &t
	}
	return &account, nil
}

// UpdateAccount 按 email 应用部分更新，nil 字段不触碰对应列。
func (r *accountRepository) UpdateAccount(ctx context.Context, email string, update *service.AccountUpdate) error {
	if update == nil {
		return nil
	}

	var (
		sets []string
		args []any
	)
	if update.AccessToken != nil {
		sets = append(sets, "access_token = ?")
		args = append(args, *update.AccessToken)
	}
	if update.RefreshToken != nil {
		sets = append(sets, "refresh_token = ?")
		args = append(args, *update.RefreshToken)
	}
	if update.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, *update.ExpiresAt)
	}
	if update.ProjectID != nil {
		sets = append(sets, "project_id = ?")
		args = append(args, *update.ProjectID)
	}
	if update.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, *update.Active)
	}
	if update.LastUsedAt != nil {
		sets = append(sets, "last_used_at = ?")
		args = append(args, *update.LastUsedAt)
	}
	if update.ClearExhaustedAt {
		sets = append(sets, "exhausted_at = NULL")
	} else if update.ExhaustedAt != nil {
		sets = append(sets, "exhausted_at = ?")
		args = append(args, *update.ExhaustedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now())
	args = append(args, email)

	query := rebind(r.driver, "UPDATE accounts SET "+strings.Join(sets, ", ")+" WHERE email = ?")
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update account %s: %w", email, err)
	}
	return nil
}

// IncrementAccountStats 原子累加计数器，避免读-改-写竞争。
func (r *accountRepository) IncrementAccountStats(ctx context.Context, email string, delta service.AccountStatsDelta) error {
	query := rebind(r.driver, `UPDATE accounts SET
		successful_calls = successful_calls + ?,
		failed_calls = failed_calls + ?,
		tokens_consumed = tokens_consumed + ?,
		updated_at = ?
		WHERE email = ?`)
	_, err := r.db.ExecContext(ctx, query, delta.Successful, delta.Failed, delta.Tokens, time.Now(), email)
	if err != nil {
		return fmt.Errorf("increment account stats %s: %w", email, err)
	}
	return nil
}

// ReactivateExhaustedAccounts 将耗尽标记早于冷却窗口的账号翻回启用态。
func (r *accountRepository) ReactivateExhaustedAccounts(ctx context.Context, cooldown time.Duration) (int64, error) {
	cutoff := time.Now().Add(-cooldown)
	query := rebind(r.driver, `UPDATE accounts SET
		active = ?,
		exhausted_at = NULL,
		updated_at = ?
		WHERE exhausted_at IS NOT NULL AND exhausted_at < ?`)
	result, err := r.db.ExecContext(ctx, query, true, time.Now(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("reactivate exhausted accounts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reactivate rows affected: %w", err)
	}
	return affected, nil
}
