package writeback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/webdav"
)

type fakeBatchStore struct {
	batch       *models.Batch
	completedAt *time.Time
}

func (f *fakeBatchStore) GetByUUID(_ context.Context, batchUUID uuid.UUID) (*models.Batch, error) {
	if f.batch == nil || f.batch.BatchUUID != batchUUID {
		return nil, repository.ErrNotFound
	}
	clone := *f.batch
	return &clone, nil
}

func (f *fakeBatchStore) SetWritebackCompletedAt(_ context.Context, _ int64, at time.Time) error {
	f.completedAt = &at
	return nil
}

type fakeJobStore struct {
	jobs []models.Job
}

func (f *fakeJobStore) ListByBatch(_ context.Context, _ int64) ([]models.Job, error) {
	return f.jobs, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (f *fakeAudit) Record(_ context.Context, entry *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

// fakeFileStore serves a workbook and fails the first lockedFailures
// downloads with ErrLocked.
type fakeFileStore struct {
	content        []byte
	lockedFailures int
	downloads      int
	uploads        int
	uploaded       []byte
}

func (f *fakeFileStore) Download(_ context.Context, _ string) ([]byte, error) {
	f.downloads++
	if f.downloads <= f.lockedFailures {
		return nil, fmt.Errorf("download sheet: %w", webdav.ErrLocked)
	}
	return f.content, nil
}

func (f *fakeFileStore) Upload(_ context.Context, _ string, content []byte) error {
	f.uploads++
	f.uploaded = content
	return nil
}

func testWorkbook(t *testing.T, rows int) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetCellValue(sheet, "A1", "tracking_number"))
	require.NoError(t, f.SetCellValue(sheet, "B1", "url"))
	require.NoError(t, f.SetCellValue(sheet, "C1", "result"))
	for i := 0; i < rows; i++ {
		cell := fmt.Sprintf("B%d", i+2)
		require.NoError(t, f.SetCellValue(sheet, cell, fmt.Sprintf("https://tracking.example.com/%d", i)))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func cellValue(t *testing.T, content []byte, cell string) string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue(f.GetSheetName(0), cell)
	require.NoError(t, err)
	return v
}

func testCoordinator(batches *fakeBatchStore, jobs *fakeJobStore, files *fakeFileStore) (*Coordinator, *fakeAudit) {
	audit := &fakeAudit{}
	cfg := config.TrackingConfig{
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
	}
	return NewCoordinator(batches, jobs, audit, files, cfg, logger.NewNop()), audit
}

func testBatch(filePath string, total int) *models.Batch {
	return &models.Batch{
		ID:        1,
		BatchUUID: uuid.New(),
		Kind:      pipeline.OfficialRedirectYamato,
		FilePath:  filePath,
		TotalJobs: total,
		Status:    models.BatchPartial,
	}
}

func TestWritebackBatch_WritesPayloadsAtRowOffsets(t *testing.T) {
	batch := testBatch("sheets/owryt-tracking.xlsx", 3)
	batches := &fakeBatchStore{batch: batch}
	jobs := &fakeJobStore{jobs: []models.Job{
		{Index: 0, Status: models.JobCompleted, WritebackPayload: "delivered｜｜｜08/25"},
		{Index: 1, Status: models.JobFailed, ErrorMessage: "timeout"},
		{Index: 2, Status: models.JobCompleted, WritebackPayload: "in transit｜｜｜08/26"},
	}}
	files := &fakeFileStore{content: testWorkbook(t, 3)}
	coordinator, audit := testCoordinator(batches, jobs, files)

	result, err := coordinator.WritebackBatch(context.Background(), batch.BatchUUID, true)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 2, result.Written)

	require.NotNil(t, files.uploaded)
	assert.Equal(t, "delivered｜｜｜08/25", cellValue(t, files.uploaded, "C2"))
	assert.Empty(t, cellValue(t, files.uploaded, "C3"))
	assert.Equal(t, "in transit｜｜｜08/26", cellValue(t, files.uploaded, "C4"))

	// Final run stamps completion.
	assert.NotNil(t, batches.completedAt)

	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].Success)
	assert.Equal(t, models.OpExcelWriteback, audit.entries[0].OperationType)
}

func TestWritebackBatch_RetriesWhileLocked(t *testing.T) {
	batch := testBatch("sheets/owryt-tracking.xlsx", 1)
	batches := &fakeBatchStore{batch: batch}
	jobs := &fakeJobStore{jobs: []models.Job{
		{Index: 0, Status: models.JobCompleted, WritebackPayload: "delivered"},
	}}
	files := &fakeFileStore{content: testWorkbook(t, 1), lockedFailures: 2}
	coordinator, audit := testCoordinator(batches, jobs, files)

	result, err := coordinator.WritebackBatch(context.Background(), batch.BatchUUID, false)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 3, files.downloads)
	assert.Equal(t, 1, files.uploads)

	// One success entry, not one per attempt.
	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].Success)

	// Milestone runs never stamp completion.
	assert.Nil(t, batches.completedAt)
}

func TestWritebackBatch_GivesUpAfterRetryBudget(t *testing.T) {
	batch := testBatch("sheets/owryt-tracking.xlsx", 1)
	batches := &fakeBatchStore{batch: batch}
	jobs := &fakeJobStore{jobs: []models.Job{
		{Index: 0, Status: models.JobCompleted, WritebackPayload: "delivered"},
	}}
	files := &fakeFileStore{content: testWorkbook(t, 1), lockedFailures: 10}
	coordinator, audit := testCoordinator(batches, jobs, files)

	_, err := coordinator.WritebackBatch(context.Background(), batch.BatchUUID, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, webdav.ErrLocked)

	// MaxRetries retries plus the first attempt.
	assert.Equal(t, 4, files.downloads)
	assert.Nil(t, batches.completedAt)

	require.Len(t, audit.entries, 1)
	assert.False(t, audit.entries[0].Success)
}

func TestWritebackBatch_NonLockedErrorFailsFast(t *testing.T) {
	batch := testBatch("sheets/owryt-tracking.xlsx", 1)
	batches := &fakeBatchStore{batch: batch}
	jobs := &fakeJobStore{jobs: []models.Job{
		{Index: 0, Status: models.JobCompleted, WritebackPayload: "delivered"},
	}}
	files := &fakeFileStore{content: []byte("not a workbook")}
	coordinator, _ := testCoordinator(batches, jobs, files)

	_, err := coordinator.WritebackBatch(context.Background(), batch.BatchUUID, false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, webdav.ErrLocked))
	assert.Equal(t, 1, files.downloads)
}

func TestWritebackBatch_SkipsBatchWithoutDocument(t *testing.T) {
	batch := testBatch("", 1)
	batches := &fakeBatchStore{batch: batch}
	files := &fakeFileStore{}
	coordinator, audit := testCoordinator(batches, &fakeJobStore{}, files)

	result, err := coordinator.WritebackBatch(context.Background(), batch.BatchUUID, true)
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, result.Status)
	assert.Zero(t, files.downloads)
	require.Len(t, audit.entries, 1)
	assert.True(t, audit.entries[0].Success)
}

func TestWritebackBatch_NoPayloadsYet(t *testing.T) {
	batch := testBatch("sheets/owryt-tracking.xlsx", 2)
	batches := &fakeBatchStore{batch: batch}
	jobs := &fakeJobStore{jobs: []models.Job{
		{Index: 0, Status: models.JobPending},
		{Index: 1, Status: models.JobFailed, ErrorMessage: "timeout"},
	}}
	files := &fakeFileStore{content: testWorkbook(t, 2)}
	coordinator, _ := testCoordinator(batches, jobs, files)

	result, err := coordinator.WritebackBatch(context.Background(), batch.BatchUUID, false)
	require.NoError(t, err)

	assert.Equal(t, StatusNoData, result.Status)
	assert.Zero(t, files.downloads)
}
