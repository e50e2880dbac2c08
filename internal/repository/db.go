// Package repository implements the storage contract over database/sql.
package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openclaw/geminipool/internal/config"

	// 数据库驱动
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// schema 启动时幂等建表。三张表对应账号、客户端凭证与请求日志。
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		email TEXT PRIMARY KEY,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMP,
		project_id TEXT NOT NULL DEFAULT '',
		paid_tier BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_used_at TIMESTAMP,
		exhausted_at TIMESTAMP,
		successful_calls BIGINT NOT NULL DEFAULT 0,
		failed_calls BIGINT NOT NULL DEFAULT 0,
		tokens_consumed BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_active_lru ON accounts (active, last_used_at)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		digest TEXT PRIMARY KEY,
		prefix TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		total_calls BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		last_used_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS request_logs (
		id TEXT PRIMARY KEY,
		account_email TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL DEFAULT '',
		response TEXT NOT NULL DEFAULT '',
		system_instruction TEXT NOT NULL DEFAULT '',
		total_tokens BIGINT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_logs_created ON request_logs (created_at)`,
}

// NewDB 打开数据库连接并完成建表。连接由应用退出时的 cleanup 关闭。
func NewDB(cfg *config.Config) (*sql.DB, error) {
	driver := cfg.Database.Driver
	if driver == config.DatabaseDriverSQLite {
		// modernc 驱动注册名为 sqlite
		driver = "sqlite"
	}

	db, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := bootstrapSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func bootstrapSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

// rebind 把 ? 占位符按驱动改写：postgres 用 $1..$N，sqlite 原样。
func rebind(driver, query string) string {
	if driver != config.DatabaseDriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
