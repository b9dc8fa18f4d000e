package audit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestNewRetentionWorker(t *testing.T) {
	worker := NewRetentionWorker(nil, 30*24*time.Hour, 0, nil)
	require.NotNil(t, worker)
	assert.Equal(t, 30*24*time.Hour, worker.retention)
	assert.Equal(t, 24*time.Hour, worker.interval)
}

func TestRetentionWorker_DisabledReturns(t *testing.T) {
	worker := NewRetentionWorker(nil, 0, time.Hour, nil)

	done := make(chan struct{})
	go func() {
		worker.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled worker should return immediately")
	}
}

func TestRetentionWorker_CleanupSQLite(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Append(ctx, &RequestEvent{ID: "old", Actor: "a", Method: "POST", Path: "/x", Outcome: "success", CreatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Append(ctx, &RequestEvent{ID: "new", Actor: "a", Method: "POST", Path: "/x", Outcome: "success", CreatedAt: now}))

	worker := NewRetentionWorker(store, 24*time.Hour, time.Hour, nil)
	assert.Equal(t, int64(1), worker.cleanup(ctx))

	got, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = store.Get(ctx, "new")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// The shared lab deployment runs on PostgreSQL; check the statement the
// postgres dialector issues for the retention delete.
func TestDeleteOlderThan_Postgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "request_events" WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectCommit()

	n, err := NewStore(db).DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
