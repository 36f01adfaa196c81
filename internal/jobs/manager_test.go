package jobs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/tablegen/internal/models"
	"github.com/maltedev/tablegen/internal/queue"
	"github.com/maltedev/tablegen/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type extractorFunc func(ctx context.Context, urls []string) []models.ProductRecord

func (f extractorFunc) ExtractBatch(ctx context.Context, urls []string) []models.ProductRecord {
	return f(ctx, urls)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishTableGenerated(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

type statusObserver struct {
	mu       sync.Mutex
	statuses []models.JobStatus
}

func (o *statusObserver) ObserveJob(status models.JobStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func echoExtractor(ctx context.Context, urls []string) []models.ProductRecord {
	rows := make([]models.ProductRecord, 0, len(urls))
	for _, u := range urls {
		if u == "https://bad.example" {
			rows = append(rows, models.ProductRecord{URL: u, Error: "fetch failed"})
			continue
		}
		rows = append(rows, models.ProductRecord{URL: u, Name: "Item"})
	}
	return rows
}

func newTestManager(t *testing.T, ex Extractor, opts ...Option) (*Manager, *storage.JobStore, *queue.InMemoryQueue) {
	t.Helper()
	store, err := storage.NewJobStore(filepath.Join(t.TempDir(), "jobs.json"))
	require.NoError(t, err)
	q := queue.NewInMemoryQueue(10)
	return NewManager(store, ex, q, nil, opts...), store, q
}

func TestCreateJobQueuesPendingJob(t *testing.T) {
	ctx := context.Background()
	m, _, q := newTestManager(t, extractorFunc(echoExtractor))

	job, err := m.CreateJob(ctx, models.TableRequest{URLs: []string{"https://a.example"}})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 1, q.Size())

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = m.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestWorkerCompletesJob(t *testing.T) {
	publisher := new(MockPublisher)
	observer := &statusObserver{}
	m, _, q := newTestManager(t, extractorFunc(echoExtractor), WithPublisher(publisher), WithObserver(observer))

	publisher.On("PublishTableGenerated", mock.Anything, mock.MatchedBy(func(job *models.Job) bool {
		return job.Status == models.JobCompleted && job.RowCount == 2 && job.ErrorCount == 1
	})).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := m.CreateJob(ctx, models.TableRequest{
		URLs: []string{"https://a.example", "https://bad.example"},
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		m.StartWorker(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := m.GetJob(context.Background(), job.ID)
		return err == nil && got.Status == models.JobCompleted
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, got.Rows, 2)
	assert.Equal(t, 1, got.ErrorCount)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	require.NoError(t, q.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}

	publisher.AssertExpectations(t)
	observer.mu.Lock()
	assert.Equal(t, []models.JobStatus{models.JobCompleted}, observer.statuses)
	observer.mu.Unlock()
}

func TestProcessJobCancelledMarksFailed(t *testing.T) {
	observer := &statusObserver{}
	ctx, cancel := context.WithCancel(context.Background())

	m, store, _ := newTestManager(t, extractorFunc(func(_ context.Context, urls []string) []models.ProductRecord {
		cancel()
		return []models.ProductRecord{models.NewErrorRecord(urls[0], context.Canceled)}
	}), WithObserver(observer))

	job, err := m.CreateJob(context.Background(), models.TableRequest{URLs: []string{"https://a.example"}})
	require.NoError(t, err)

	m.processJob(ctx, job.ID)

	got, err := store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, context.Canceled.Error(), got.Error)
	assert.Empty(t, got.Rows)
	assert.Equal(t, []models.JobStatus{models.JobFailed}, observer.statuses)
}

func TestProcessJobSkipsFinishedAndMissing(t *testing.T) {
	calls := 0
	m, store, _ := newTestManager(t, extractorFunc(func(_ context.Context, urls []string) []models.ProductRecord {
		calls++
		return nil
	}))
	ctx := context.Background()

	finished := &models.Job{ID: "done", Status: models.JobCompleted, CreatedAt: time.Now()}
	require.NoError(t, store.Create(ctx, finished))

	m.processJob(ctx, "done")
	m.processJob(ctx, "missing")
	assert.Zero(t, calls)
}

func TestRecoverRequeuesUnfinishedJobs(t *testing.T) {
	m, store, q := newTestManager(t, extractorFunc(echoExtractor))
	ctx := context.Background()

	for id, status := range map[string]models.JobStatus{
		"p": models.JobPending,
		"r": models.JobRunning,
		"c": models.JobCompleted,
		"f": models.JobFailed,
	} {
		require.NoError(t, store.Create(ctx, &models.Job{ID: id, Status: status, CreatedAt: time.Now()}))
	}

	n, err := m.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, q.Size())
}

func TestCreateJobQueueFull(t *testing.T) {
	store, err := storage.NewJobStore(filepath.Join(t.TempDir(), "jobs.json"))
	require.NoError(t, err)
	q := queue.NewInMemoryQueue(1)
	m := NewManager(store, extractorFunc(echoExtractor), q, nil)
	ctx := context.Background()

	_, err = m.CreateJob(ctx, models.TableRequest{URLs: []string{"https://a.example"}})
	require.NoError(t, err)

	_, err = m.CreateJob(ctx, models.TableRequest{URLs: []string{"https://b.example"}})
	require.ErrorIs(t, err, queue.ErrQueueFull)

	jobs, err := m.ListJobs(ctx, 0)
	require.NoError(t, err)
	statuses := map[models.JobStatus]int{}
	for _, j := range jobs {
		statuses[j.Status]++
	}
	assert.Equal(t, map[models.JobStatus]int{models.JobPending: 1, models.JobFailed: 1}, statuses)
}
