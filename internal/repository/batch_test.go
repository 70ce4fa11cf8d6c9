package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/testhelpers"
)

func newBatchRepo(t *testing.T) (*repository.BatchRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	repo := repository.NewBatchRepository(db, testhelpers.NewTestLogger())
	return repo, mock, func() { db.Close() }
}

func batchRows(batchUUID uuid.UUID) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "batch_uuid", "task_name", "file_path", "task_id",
		"total_jobs", "completed_jobs", "failed_jobs", "status",
		"created_at", "updated_at", "completed_at",
		"writeback_triggered", "writeback_completed_at",
	}).AddRow(
		int64(1), batchUUID.String(), pipeline.OfficialRedirectYamato.String(), "sheets/owryt-tracking.xlsx", "",
		3, 1, 0, "processing",
		now, now, nil,
		false, nil,
	)
}

func TestBatchRepository_Create(t *testing.T) {
	repo, mock, closeDB := newBatchRepo(t)
	defer closeDB()

	mock.ExpectQuery("INSERT INTO tracking_batches").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	batch := &models.Batch{Kind: pipeline.OfficialRedirectYamato, FilePath: "sheets/owryt-tracking.xlsx"}
	err := repo.Create(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, int64(1), batch.ID)
	assert.NotEqual(t, uuid.Nil, batch.BatchUUID)
	assert.Equal(t, models.BatchPending, batch.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepository_GetByToken_FullUUID(t *testing.T) {
	repo, mock, closeDB := newBatchRepo(t)
	defer closeDB()

	batchUUID := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM tracking_batches WHERE batch_uuid =").
		WithArgs(batchUUID).
		WillReturnRows(batchRows(batchUUID))

	batch, err := repo.GetByToken(context.Background(), batchUUID.String())
	require.NoError(t, err)
	assert.Equal(t, batchUUID, batch.BatchUUID)
	assert.Equal(t, pipeline.OfficialRedirectYamato, batch.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepository_GetByToken_ShortToken(t *testing.T) {
	repo, mock, closeDB := newBatchRepo(t)
	defer closeDB()

	batchUUID := uuid.New()
	short := batchUUID.String()[:8]
	mock.ExpectQuery("SELECT (.+) FROM tracking_batches WHERE batch_uuid::text LIKE").
		WithArgs(short + "%").
		WillReturnRows(batchRows(batchUUID))

	batch, err := repo.GetByToken(context.Background(), short)
	require.NoError(t, err)
	assert.Equal(t, short, batch.ShortID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepository_GetByToken_BadToken(t *testing.T) {
	repo, _, closeDB := newBatchRepo(t)
	defer closeDB()

	_, err := repo.GetByToken(context.Background(), "not-a-token")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestBatchRepository_UpdateAggregate(t *testing.T) {
	repo, mock, closeDB := newBatchRepo(t)
	defer closeDB()

	now := time.Now()
	mock.ExpectExec("UPDATE tracking_batches").
		WithArgs(int64(1), 3, 1, "partial", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateAggregate(context.Background(), 1, 3, 1, models.BatchPartial, &now)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepository_MarkWritebackTriggered_NotFound(t *testing.T) {
	repo, mock, closeDB := newBatchRepo(t)
	defer closeDB()

	mock.ExpectExec("UPDATE tracking_batches SET writeback_triggered").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkWritebackTriggered(context.Background(), 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
