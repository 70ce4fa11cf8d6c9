package tracking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/config"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/logger"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/models"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/pipeline"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/repository"
	"github.com/zhujiansamuel/Yamaguchi-platform-sub001/internal/scheduler"
)

// memStore is an in-memory BatchStore + JobStore with the same transition
// semantics as the SQL repositories.
type memStore struct {
	mu          sync.Mutex
	batches     map[int64]*models.Batch
	jobs        map[int64]*models.Job
	nextBatchID int64
	nextJobID   int64
}

func newMemStore() *memStore {
	return &memStore{
		batches: make(map[int64]*models.Batch),
		jobs:    make(map[int64]*models.Job),
	}
}

func (m *memStore) Create(_ context.Context, batch *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBatchID++
	batch.ID = m.nextBatchID
	batch.BatchUUID = uuid.New()
	batch.CreatedAt = time.Now()
	clone := *batch
	m.batches[batch.ID] = &clone
	return nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch, ok := m.batches[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *batch
	return &clone, nil
}

func (m *memStore) GetByUUID(ctx context.Context, batchUUID uuid.UUID) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, batch := range m.batches {
		if batch.BatchUUID == batchUUID {
			clone := *batch
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetByToken(_ context.Context, token string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, batch := range m.batches {
		if batch.BatchUUID.String() == token || batch.BatchUUID.String()[:8] == token {
			clone := *batch
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetLatestByFilePath(_ context.Context, filePath string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Batch
	for _, batch := range m.batches {
		if batch.FilePath != filePath {
			continue
		}
		if latest == nil || batch.ID > latest.ID {
			latest = batch
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (m *memStore) List(_ context.Context, _ repository.ListFilter) ([]models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Batch
	for _, batch := range m.batches {
		out = append(out, *batch)
	}
	return out, nil
}

func (m *memStore) ListStalePending(_ context.Context, cutoff time.Time) ([]models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Batch
	for _, batch := range m.batches {
		if !batch.Status.Terminal() && batch.CreatedAt.Before(cutoff) {
			out = append(out, *batch)
		}
	}
	return out, nil
}

func (m *memStore) SetTotalJobs(_ context.Context, batchID int64, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[batchID].TotalJobs = total
	return nil
}

func (m *memStore) UpdateAggregate(_ context.Context, batchID int64, completed, failed int, status models.BatchStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.batches[batchID]
	batch.CompletedJobs = completed
	batch.FailedJobs = failed
	batch.Status = status
	if batch.CompletedAt == nil && completedAt != nil {
		batch.CompletedAt = completedAt
	}
	return nil
}

func (m *memStore) MarkWritebackTriggered(_ context.Context, batchID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[batchID].WritebackTriggered = true
	return nil
}

func (m *memStore) CreateJobs(_ context.Context, batchID int64, specs []models.JobSpec) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Job, 0, len(specs))
	for _, spec := range specs {
		m.nextJobID++
		job := &models.Job{
			ID:        m.nextJobID,
			BatchID:   batchID,
			CustomID:  spec.CustomID,
			TargetURL: spec.TargetURL,
			Index:     spec.Index,
			Status:    models.JobPending,
			CreatedAt: time.Now(),
		}
		m.jobs[job.ID] = job
		out = append(out, *job)
	}
	return out, nil
}

func (m *memStore) CreateCompanion(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID++
	job.ID = m.nextJobID
	job.Companion = true
	job.Status = models.JobPending
	job.CreatedAt = time.Now()
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memStore) FindByCustomID(_ context.Context, customID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.CustomID == customID {
			clone := *job
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) FindByProviderJobID(_ context.Context, providerJobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ProviderJobID == providerJobID && providerJobID != "" {
			clone := *job
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ExistsByCustomID(_ context.Context, customID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.CustomID == customID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SetProviderJobID(_ context.Context, jobID int64, providerJobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].ProviderJobID = providerJobID
	return nil
}

func (m *memStore) ListByBatch(_ context.Context, batchID int64) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Job
	for _, job := range m.jobs {
		if job.BatchID == batchID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memStore) MarkTerminal(_ context.Context, jobID int64, status models.JobStatus, errMsg, payload string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if job.Status != models.JobPending {
		return false, nil
	}
	now := time.Now()
	job.Status = status
	job.ErrorMessage = errMsg
	job.WritebackPayload = payload
	job.CompletedAt = &now
	return true, nil
}

func (m *memStore) SetRedirect(_ context.Context, jobID int64, redirectCustomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return repository.ErrNotFound
	}
	job.RedirectCustomID = redirectCustomID
	return nil
}

type scheduledWriteback struct {
	batchUUID uuid.UUID
	final     bool
	delay     time.Duration
}

type scheduledPublish struct {
	payload scheduler.PublishPayload
	delay   time.Duration
}

type fakeScheduler struct {
	mu         sync.Mutex
	writebacks []scheduledWriteback
	publishes  []scheduledPublish
}

func (f *fakeScheduler) ScheduleWriteback(_ context.Context, batchUUID uuid.UUID, final bool, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writebacks = append(f.writebacks, scheduledWriteback{batchUUID, final, delay})
	return nil
}

func (f *fakeScheduler) SchedulePublish(_ context.Context, payload scheduler.PublishPayload, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes = append(f.publishes, scheduledPublish{payload, delay})
	return nil
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

func (f *fakeAudit) byOperation(op models.AuditOperation) []models.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range f.entries {
		if e.OperationType == op {
			out = append(out, e)
		}
	}
	return out
}

func testTrackingConfig() config.TrackingConfig {
	return config.TrackingConfig{
		MilestoneSize:  10,
		WritebackDelay: 5 * time.Second,
		PublishStagger: 2 * time.Second,
	}
}

func newTestService(t *testing.T) (*Service, *memStore, *fakeScheduler, *fakeAudit) {
	t.Helper()
	store := newMemStore()
	sched := &fakeScheduler{}
	audit := &fakeAudit{}
	svc := NewService(store, store, audit, sched, nil, testTrackingConfig(), logger.NewNop())
	return svc, store, sched, audit
}

func seedBatch(t *testing.T, svc *Service, filePath string, n int) (*models.Batch, []models.Job) {
	t.Helper()
	ctx := context.Background()
	seeds := make([]Seed, n)
	for i := range seeds {
		seeds[i] = Seed{TargetURL: fmt.Sprintf("https://tracking.example.com/%d", i), Index: i}
	}
	batch, err := svc.Dispatch(ctx, pipeline.OfficialRedirectYamato, filePath, seeds)
	require.NoError(t, err)
	jobs, err := svc.jobs.ListByBatch(ctx, batch.ID)
	require.NoError(t, err)
	return batch, jobs
}

func jobByIndex(t *testing.T, jobs []models.Job, index int) *models.Job {
	t.Helper()
	for i := range jobs {
		if jobs[i].Index == index && !jobs[i].Companion {
			return &jobs[i]
		}
	}
	t.Fatalf("no job with index %d", index)
	return nil
}

func TestDispatch_CreatesJobsAndStaggersPublishes(t *testing.T) {
	svc, store, sched, audit := newTestService(t)
	ctx := context.Background()

	batch, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 3)

	assert.Equal(t, 3, batch.TotalJobs)
	assert.Len(t, jobs, 3)
	for _, job := range jobs {
		expected := pipeline.OfficialRedirectYamato.CustomID(batch.ShortID(), job.Index)
		assert.Equal(t, expected, job.CustomID)
		assert.Equal(t, models.JobPending, job.Status)
	}

	require.Len(t, sched.publishes, 3)
	assert.Equal(t, time.Duration(0), sched.publishes[0].delay)
	assert.Equal(t, 2*time.Second, sched.publishes[1].delay)
	assert.Equal(t, 4*time.Second, sched.publishes[2].delay)

	assert.Len(t, audit.byOperation(models.OpBatchDispatched), 1)

	stored, err := store.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPending, stored.Status)
}

func TestDispatch_RejectsFileWithBatchInFlight(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 2)

	_, err := svc.Dispatch(ctx, pipeline.OfficialRedirectYamato, "sheets/owryt-tracking.xlsx",
		[]Seed{{TargetURL: "https://tracking.example.com/x", Index: 0}})
	assert.ErrorIs(t, err, ErrBatchInFlight)
}

func TestMarkCompleted_DuplicateIsNoOp(t *testing.T) {
	svc, store, sched, _ := newTestService(t)
	ctx := context.Background()

	batch, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 2)
	job := jobByIndex(t, jobs, 0)

	require.NoError(t, svc.MarkCompleted(ctx, job, "delivered"))
	require.NoError(t, svc.MarkCompleted(ctx, job, "delivered-again"))

	stored, err := store.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CompletedJobs)

	storedJob, err := store.FindByCustomID(ctx, job.CustomID)
	require.NoError(t, err)
	assert.Equal(t, "delivered", storedJob.WritebackPayload)

	// Not complete yet, so nothing scheduled.
	assert.Empty(t, sched.writebacks)
}

func TestBatchLifecycle_MixedOutcomes(t *testing.T) {
	svc, store, sched, _ := newTestService(t)
	ctx := context.Background()

	batch, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 3)

	require.NoError(t, svc.MarkCompleted(ctx, jobByIndex(t, jobs, 0), "delivered｜｜｜08/25"))
	require.NoError(t, svc.MarkFailed(ctx, jobByIndex(t, jobs, 1), "timeout"))
	require.NoError(t, svc.MarkCompleted(ctx, jobByIndex(t, jobs, 2), "in transit｜｜｜08/26"))

	stored, err := store.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPartial, stored.Status)
	assert.Equal(t, 2, stored.CompletedJobs)
	assert.Equal(t, 1, stored.FailedJobs)
	assert.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.WritebackTriggered)

	require.Len(t, sched.writebacks, 1)
	assert.True(t, sched.writebacks[0].final)
	assert.Equal(t, 5*time.Second, sched.writebacks[0].delay)
	assert.Equal(t, stored.BatchUUID, sched.writebacks[0].batchUUID)
}

func TestBatchLifecycle_MilestonesThenFinal(t *testing.T) {
	svc, _, sched, _ := newTestService(t)
	ctx := context.Background()

	_, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 25)

	for i := 0; i < 25; i++ {
		require.NoError(t, svc.MarkCompleted(ctx, jobByIndex(t, jobs, i), "ok"))
	}

	// Milestones at 10 and 20, final at 25.
	require.Len(t, sched.writebacks, 3)
	assert.False(t, sched.writebacks[0].final)
	assert.False(t, sched.writebacks[1].final)
	assert.True(t, sched.writebacks[2].final)
}

func TestWriteback_SkippedWithoutDocument(t *testing.T) {
	svc, store, sched, audit := newTestService(t)
	ctx := context.Background()

	batch, jobs := seedBatch(t, svc, "", 1)
	require.NoError(t, svc.MarkCompleted(ctx, jobByIndex(t, jobs, 0), "ok"))

	stored, err := store.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, stored.Status)

	assert.Empty(t, sched.writebacks)
	assert.Len(t, audit.byOperation(models.OpWritebackSkipped), 1)
}

func TestHandleCallback_Completed(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	batch, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 1)
	job := jobByIndex(t, jobs, 0)

	err := svc.HandleCallback(ctx, Callback{
		CustomID:      job.CustomID,
		ProviderJobID: "prov-42",
		Status:        CallbackCompleted,
		Fields:        []string{"delivered", "08/25 10:00", "Tokyo"},
	})
	require.NoError(t, err)

	storedJob, err := store.FindByCustomID(ctx, job.CustomID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, storedJob.Status)
	assert.Equal(t, "delivered｜｜｜08/25 10:00｜｜｜Tokyo", storedJob.WritebackPayload)
	assert.Equal(t, "prov-42", storedJob.ProviderJobID)

	stored, err := store.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, stored.Status)
}

func TestHandleCallback_ResolvesByProviderJobID(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 1)
	job := jobByIndex(t, jobs, 0)
	require.NoError(t, store.SetProviderJobID(ctx, job.ID, "prov-7"))

	err := svc.HandleCallback(ctx, Callback{
		ProviderJobID: "prov-7",
		Status:        CallbackFailed,
		ErrorMessage:  "page not reachable",
	})
	require.NoError(t, err)

	storedJob, err := store.FindByCustomID(ctx, job.CustomID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, storedJob.Status)
	assert.Equal(t, "page not reachable", storedJob.ErrorMessage)
}

func TestHandleCallback_Unresolved(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.HandleCallback(context.Background(), Callback{
		CustomID: "owryt-nothing-0000",
		Status:   CallbackCompleted,
		Fields:   []string{"x"},
	})
	assert.ErrorIs(t, err, ErrUnresolvedCallback)
}

func TestHandleCallback_RedirectSpawnsCompanion(t *testing.T) {
	svc, store, sched, _ := newTestService(t)
	ctx := context.Background()

	batch, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 2)
	job := jobByIndex(t, jobs, 0)

	err := svc.HandleCallback(ctx, Callback{
		CustomID:    job.CustomID,
		Status:      CallbackRedirected,
		RedirectURL: "https://jp-post.example.com/track/999",
	})
	require.NoError(t, err)

	companionID := pipeline.CompanionCustomID(pipeline.OfficialRedirectYamato, job.CustomID)

	source, err := store.FindByCustomID(ctx, job.CustomID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRedirected, source.Status)
	assert.Equal(t, companionID, source.RedirectCustomID)

	companion, err := store.FindByCustomID(ctx, companionID)
	require.NoError(t, err)
	assert.True(t, companion.Companion)
	assert.Equal(t, job.Index, companion.Index)
	assert.Equal(t, "https://jp-post.example.com/track/999", companion.TargetURL)

	// Companion publish goes out immediately.
	var companionPublished bool
	for _, p := range sched.publishes {
		if p.payload.CustomID == companionID {
			companionPublished = true
			assert.Equal(t, time.Duration(0), p.delay)
		}
	}
	assert.True(t, companionPublished)

	// Redirected job alone does not complete the batch.
	stored, err := store.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchPending, stored.Status)
	assert.Equal(t, 0, stored.CompletedJobs)

	// Companion completion flows back through the redirect.
	require.NoError(t, svc.HandleCallback(ctx, Callback{
		CustomID: companionID,
		Status:   CallbackCompleted,
		Fields:   []string{"delivered"},
	}))
	require.NoError(t, svc.MarkCompleted(ctx, jobByIndex(t, jobs, 1), "ok"))

	stored, err = store.GetByID(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, stored.Status)
	assert.Equal(t, 2, stored.CompletedJobs)
}

func TestHandleCallback_DuplicateRedirectIsStable(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	_, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 1)
	job := jobByIndex(t, jobs, 0)

	cb := Callback{
		CustomID:    job.CustomID,
		Status:      CallbackRedirected,
		RedirectURL: "https://jp-post.example.com/track/999",
	}
	require.NoError(t, svc.HandleCallback(ctx, cb))
	require.NoError(t, svc.HandleCallback(ctx, cb))

	all, err := store.ListByBatch(ctx, job.BatchID)
	require.NoError(t, err)
	companions := 0
	for _, j := range all {
		if j.Companion {
			companions++
		}
	}
	assert.Equal(t, 1, companions)
}

func TestSummarize(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	batch, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 3)
	require.NoError(t, svc.MarkCompleted(ctx, jobByIndex(t, jobs, 0), "ok"))
	require.NoError(t, svc.MarkFailed(ctx, jobByIndex(t, jobs, 1), "timeout"))

	summary, err := svc.Summarize(ctx, batch.ShortID())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalJobs)
	assert.Equal(t, 1, summary.CompletedJobs)
	assert.Equal(t, 1, summary.FailedJobs)
	assert.Equal(t, 1, summary.PendingJobs)
	assert.False(t, summary.IsCompleted)
	assert.Equal(t, []string{jobByIndex(t, jobs, 2).CustomID}, summary.PendingCustomIDs)
	assert.Equal(t, []string{jobByIndex(t, jobs, 1).CustomID}, summary.FailedCustomIDs)
	assert.InDelta(t, 33.3, summary.CompletionPercentage, 0.1)
}

func TestSummarize_RedirectedPendingUntilCompanionCompletes(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	batch, jobs := seedBatch(t, svc, "sheets/owryt-tracking.xlsx", 2)
	job := jobByIndex(t, jobs, 0)

	require.NoError(t, svc.HandleCallback(ctx, Callback{
		CustomID:    job.CustomID,
		Status:      CallbackRedirected,
		RedirectURL: "https://jp-post.example.com/track/999",
	}))

	// Companion has not completed: the redirected job's id is still pending,
	// and the list agrees with the derived pending count.
	summary, err := svc.Summarize(ctx, batch.ShortID())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.PendingJobs)
	assert.ElementsMatch(t,
		[]string{job.CustomID, jobByIndex(t, jobs, 1).CustomID},
		summary.PendingCustomIDs)
	assert.Len(t, summary.PendingCustomIDs, summary.PendingJobs)

	companionID := pipeline.CompanionCustomID(pipeline.OfficialRedirectYamato, job.CustomID)
	require.NoError(t, svc.HandleCallback(ctx, Callback{
		CustomID: companionID,
		Status:   CallbackCompleted,
		Fields:   []string{"delivered"},
	}))

	summary, err = svc.Summarize(ctx, batch.ShortID())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CompletedJobs)
	assert.Equal(t, []string{jobByIndex(t, jobs, 1).CustomID}, summary.PendingCustomIDs)
	assert.Len(t, summary.PendingCustomIDs, summary.PendingJobs)
}
