package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/openclaw/geminipool/internal/config"
	"github.com/openclaw/geminipool/internal/service"
	"github.com/stretchr/testify/require"
)

func TestAddRequestLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	cfg := &config.Config{Database: config.DatabaseConfig{Driver: config.DatabaseDriverSQLite}}
	repo := NewRequestLogRepository(db, cfg)

	now := time.Now()
	mock.ExpectExec(`INSERT INTO request_logs`).
		WithArgs("id-1", "a@x.com", "gemini-2.5-flash", "hi", "hello", "sys", int64(7), true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.AddRequestLog(context.Background(), &service.RequestLogEntry{
		ID:                "id-1",
		AccountEmail:      "a@x.com",
		Model:             "gemini-2.5-flash",
		Prompt:            "hi",
		Response:          "hello",
		SystemInstruction: "sys",
		TotalTokens:       7,
		Success:           true,
		CreatedAt:         now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
