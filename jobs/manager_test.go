package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mikkicon/bellflow/mocks"
	"github.com/Mikkicon/bellflow/models"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newJob(id, user string, status models.JobStatus, updated time.Time) *models.ScrapeJob {
	j := models.NewScrapeJob(id, "threads", "https://www.threads.net/@"+user, user, status, updated)
	if status == models.StatusCompleted {
		j.Result = &models.ScrapeResult{Items: []models.Post{}}
	}
	if status == models.StatusFailed {
		j.Error = "boom"
	}
	return j
}

func syncEngine(ctrl *gomock.Controller) *mocks.MockEngine {
	e := mocks.NewMockEngine(ctrl)
	e.EXPECT().Name().Return("browser").AnyTimes()
	e.EXPECT().IsAsync().Return(false).AnyTimes()
	return e
}

func asyncEngine(ctrl *gomock.Controller) *mocks.MockEngine {
	e := mocks.NewMockEngine(ctrl)
	e.EXPECT().Name().Return("brightdata").AnyTimes()
	e.EXPECT().IsAsync().Return(true).AnyTimes()
	return e
}

func create(t *testing.T, m *Manager, e *mocks.MockEngine, job *models.ScrapeJob) {
	t.Helper()
	e.EXPECT().Initialize(gomock.Any(), gomock.Any()).Return(job, nil)
	_, err := m.CreateJob(context.Background(), e, &models.ScrapeRequest{URL: job.URL, UserID: job.UserID})
	require.NoError(t, err)
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, job *models.ScrapeJob) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, job.JobID+":"+string(job.Status))
	return n.err
}

type memArchive struct {
	mu   sync.Mutex
	jobs map[string]*models.ScrapeJob
	err  error
}

func (a *memArchive) Save(_ context.Context, job *models.ScrapeJob) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	if a.jobs == nil {
		a.jobs = map[string]*models.ScrapeJob{}
	}
	a.jobs[job.JobID] = job.Clone()
	return nil
}

func (a *memArchive) Load(_ context.Context, id string) (*models.ScrapeJob, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.jobs[id]
	return j, ok, nil
}

func TestCreateJob_SyncEngine(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	n := &recordingNotifier{}
	m := NewManager(WithNotifiers(n))
	e := syncEngine(ctrl)
	create(t, m, e, newJob("j1", "alice", models.StatusCompleted, t0))

	// Sync jobs are served from the cache; Status is never called.
	got, err := m.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	stats := m.Stats()
	assert.Equal(t, 1, stats.TotalJobs)
	assert.Equal(t, 1, stats.TotalUsers)
	assert.Equal(t, map[models.JobStatus]int{
		models.StatusPending:   0,
		models.StatusRunning:   0,
		models.StatusCompleted: 1,
		models.StatusFailed:    0,
	}, stats.StatusCounts)

	assert.Equal(t, []string{"j1:completed"}, n.seen)
}

func TestCreateJob_RejectedRequestRecordsNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := NewManager()
	e := syncEngine(ctrl)
	e.EXPECT().Initialize(gomock.Any(), gomock.Any()).
		Return(nil, models.NewScrapeError(models.ErrCodeInvalidInput, "url is required", nil))

	job, err := m.CreateJob(context.Background(), e, &models.ScrapeRequest{})
	assert.Nil(t, job)
	assert.Equal(t, models.ErrCodeInvalidInput, models.ErrorCode(err))
	assert.Zero(t, m.Stats().TotalJobs)
	assert.Zero(t, m.Stats().TotalUsers)
}

func TestGetJob_UnknownID(t *testing.T) {
	_, err := NewManager().GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
	assert.Equal(t, models.ErrCodeJobNotFound, models.ErrorCode(err))
}

func TestGetJob_AsyncRefreshesAndNotifiesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	n := &recordingNotifier{}
	a := &memArchive{}
	m := NewManager(WithNotifiers(n), WithArchive(a))
	e := asyncEngine(ctrl)
	create(t, m, e, newJob("j1", "alice", models.StatusRunning, t0))

	done := newJob("j1", "alice", models.StatusCompleted, t0.Add(time.Minute))
	gomock.InOrder(
		e.EXPECT().Status(gomock.Any(), "j1").Return(newJob("j1", "alice", models.StatusRunning, t0), nil),
		e.EXPECT().Status(gomock.Any(), "j1").Return(done, nil).Times(2),
	)

	got, err := m.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Equal(t, 1, m.Stats().StatusCounts[models.StatusRunning])
	assert.Empty(t, n.seen)

	for range 2 {
		got, err = m.GetJob(context.Background(), "j1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
	}
	assert.Equal(t, 1, m.Stats().StatusCounts[models.StatusCompleted])
	assert.Equal(t, []string{"j1:completed"}, n.seen)
	assert.Equal(t, models.StatusCompleted, a.jobs["j1"].Status)
}

func TestGetJob_StatusErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := NewManager()
	e := asyncEngine(ctrl)
	create(t, m, e, newJob("j1", "alice", models.StatusRunning, t0))
	e.EXPECT().Status(gomock.Any(), "j1").Return(nil, models.NewJobNotFound("j1"))

	_, err := m.GetJob(context.Background(), "j1")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestGetJob_OverlappingPollsNeverRegress(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	n := &recordingNotifier{}
	a := &memArchive{}
	m := NewManager(WithNotifiers(n), WithArchive(a))
	e := asyncEngine(ctrl)
	create(t, m, e, newJob("j1", "alice", models.StatusRunning, t0))

	entered := make(chan struct{})
	release := make(chan struct{})
	stale := newJob("j1", "alice", models.StatusRunning, t0)
	done := newJob("j1", "alice", models.StatusCompleted, t0.Add(time.Minute))
	gomock.InOrder(
		e.EXPECT().Status(gomock.Any(), "j1").DoAndReturn(func(context.Context, string) (*models.ScrapeJob, error) {
			close(entered)
			<-release
			return stale, nil
		}),
		e.EXPECT().Status(gomock.Any(), "j1").Return(done, nil),
	)

	slow := make(chan *models.ScrapeJob, 1)
	go func() {
		got, err := m.GetJob(context.Background(), "j1")
		assert.NoError(t, err)
		slow <- got
	}()
	<-entered

	got, err := m.GetJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	close(release)
	assert.Equal(t, models.StatusCompleted, (<-slow).Status)

	stats := m.Stats()
	assert.Equal(t, 1, stats.StatusCounts[models.StatusCompleted])
	assert.Zero(t, stats.StatusCounts[models.StatusRunning])
	assert.Equal(t, models.StatusCompleted, a.jobs["j1"].Status)
	assert.Equal(t, []string{"j1:completed"}, n.seen)
}

func TestSupersedes(t *testing.T) {
	running := newJob("j1", "alice", models.StatusRunning, t0)
	later := newJob("j1", "alice", models.StatusRunning, t0.Add(time.Second))
	done := newJob("j1", "alice", models.StatusCompleted, t0)

	assert.True(t, supersedes(later, running))
	assert.False(t, supersedes(running, later))
	assert.True(t, supersedes(running, running))
	assert.True(t, supersedes(done, later))
	assert.False(t, supersedes(later, done))
}

func TestGetJobResults(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := NewManager()
	e := asyncEngine(ctrl)
	create(t, m, e, newJob("j1", "alice", models.StatusRunning, t0))

	e.EXPECT().Results(gomock.Any(), "j1").
		Return(nil, &models.NotReadyError{JobID: "j1", Status: models.StatusRunning})
	_, err := m.GetJobResults(context.Background(), "j1")
	var nr *models.NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, models.StatusRunning, nr.Status)
	assert.ErrorIs(t, err, models.ErrJobNotReady)

	done := newJob("j1", "alice", models.StatusCompleted, t0.Add(time.Minute))
	e.EXPECT().Results(gomock.Any(), "j1").Return(done.Result, nil)
	e.EXPECT().Status(gomock.Any(), "j1").Return(done, nil)
	res, err := m.GetJobResults(context.Background(), "j1")
	require.NoError(t, err)
	assert.Same(t, done.Result, res)
	assert.Equal(t, 1, m.Stats().StatusCounts[models.StatusCompleted])

	_, err = m.GetJobResults(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestCancelJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	n := &recordingNotifier{}
	m := NewManager(WithNotifiers(n))
	e := asyncEngine(ctrl)
	create(t, m, e, newJob("j1", "alice", models.StatusRunning, t0))

	cancelled := newJob("j1", "alice", models.StatusFailed, t0.Add(time.Second))
	cancelled.Error = "Job cancelled by user"
	e.EXPECT().Cancel(gomock.Any(), "j1").Return(true)
	e.EXPECT().Status(gomock.Any(), "j1").Return(cancelled, nil)

	ok, err := m.CancelJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, m.Stats().StatusCounts[models.StatusFailed])
	assert.Equal(t, []string{"j1:failed"}, n.seen)

	e.EXPECT().Cancel(gomock.Any(), "j1").Return(false)
	ok, err = m.CancelJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.CancelJob(context.Background(), "nope")
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestListUserJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := NewManager()
	e := syncEngine(ctrl)
	create(t, m, e, newJob("a1", "alice", models.StatusCompleted, t0))
	create(t, m, e, newJob("b1", "bob", models.StatusCompleted, t0))
	create(t, m, e, newJob("a2", "alice", models.StatusFailed, t0))
	create(t, m, e, newJob("a3", "alice", models.StatusCompleted, t0))

	ids := func(jobs []*models.ScrapeJob) []string {
		out := []string{}
		for _, j := range jobs {
			out = append(out, j.JobID)
		}
		return out
	}
	ctx := context.Background()

	assert.Equal(t, []string{"a3", "a2", "a1"}, ids(m.ListUserJobs(ctx, "alice", "", 0)))
	assert.Equal(t, []string{"a3", "a1"}, ids(m.ListUserJobs(ctx, "alice", models.StatusCompleted, 0)))
	assert.Equal(t, []string{"a3"}, ids(m.ListUserJobs(ctx, "alice", models.StatusCompleted, 1)))
	assert.Equal(t, []string{"a3", "a2"}, ids(m.ListUserJobs(ctx, "alice", "", 2)))
	assert.Empty(t, m.ListUserJobs(ctx, "carol", "", 10))
}

func TestListUserJobs_DefaultLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := NewManager()
	e := syncEngine(ctrl)
	for i := range DefaultListLimit + 5 {
		create(t, m, e, newJob(fmt.Sprintf("j%d", i), "alice", models.StatusCompleted, t0))
	}

	assert.Equal(t, 100, DefaultListLimit)
	assert.Len(t, m.ListUserJobs(context.Background(), "alice", "", 0), DefaultListLimit)
	assert.Len(t, m.ListUserJobs(context.Background(), "alice", "", -1), DefaultListLimit)
}

type forgettingEngine struct {
	*mocks.MockEngine
	forgotten []string
}

func (f *forgettingEngine) Forget(id string) { f.forgotten = append(f.forgotten, id) }

func TestCleanupOldJobs(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	now := t0
	m := NewManager(WithClock(func() time.Time { return now }))
	e := &forgettingEngine{MockEngine: syncEngine(ctrl)}

	create(t, m, e.MockEngine, newJob("old-done", "alice", models.StatusCompleted, t0.Add(-25*time.Hour)))
	create(t, m, e.MockEngine, newJob("old-failed", "bob", models.StatusFailed, t0.Add(-48*time.Hour)))
	create(t, m, e.MockEngine, newJob("fresh", "alice", models.StatusCompleted, t0.Add(-time.Hour)))
	create(t, m, e.MockEngine, newJob("stuck", "alice", models.StatusRunning, t0.Add(-240*time.Hour)))
	create(t, m, e.MockEngine, newJob("queued", "carol", models.StatusPending, t0.Add(-240*time.Hour)))

	// Records must point at the forgetting wrapper for Forget to be seen.
	m.mu.Lock()
	for _, rec := range m.jobs {
		rec.engine = e
	}
	m.mu.Unlock()

	assert.Equal(t, 2, m.CleanupOldJobs(24))
	assert.ElementsMatch(t, []string{"old-done", "old-failed"}, e.forgotten)

	stats := m.Stats()
	assert.Equal(t, 3, stats.TotalJobs)
	assert.Equal(t, 2, stats.TotalUsers, "bob has no jobs left")
	assert.Equal(t, 1, stats.StatusCounts[models.StatusRunning])
	assert.Equal(t, 1, stats.StatusCounts[models.StatusPending])

	_, err := m.GetJob(context.Background(), "old-done")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	ctx := context.Background()
	var ids []string
	for _, j := range m.ListUserJobs(ctx, "alice", "", 0) {
		ids = append(ids, j.JobID)
	}
	assert.Equal(t, []string{"stuck", "fresh"}, ids)

	assert.Zero(t, m.CleanupOldJobs(24))
}

func TestArchiveFallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	a := &memArchive{}
	now := t0
	m := NewManager(WithArchive(a), WithClock(func() time.Time { return now }))
	create(t, m, syncEngine(ctrl), newJob("j1", "alice", models.StatusCompleted, t0.Add(-48*time.Hour)))

	require.Equal(t, 1, m.CleanupOldJobs(24))

	job, err := m.LookupArchived(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)

	_, err = m.LookupArchived(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	_, err = NewManager().LookupArchived(context.Background(), "j1")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestObserve_ArchiveAndNotifierFailuresAreSwallowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	n := &recordingNotifier{err: errors.New("endpoint down")}
	m := NewManager(WithArchive(&memArchive{err: errors.New("redis down")}), WithNotifiers(n))
	e := syncEngine(ctrl)
	e.EXPECT().Initialize(gomock.Any(), gomock.Any()).Return(newJob("j1", "alice", models.StatusFailed, t0), nil)

	job, err := m.CreateJob(context.Background(), e, &models.ScrapeRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, []string{"j1:failed"}, n.seen)
}

func TestRunJanitor(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := NewManager(WithClock(func() time.Time { return t0 }))
	create(t, m, syncEngine(ctrl), newJob("j1", "alice", models.StatusCompleted, t0.Add(-48*time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunJanitor(ctx, 5*time.Millisecond, 24)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Stats().TotalJobs == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
