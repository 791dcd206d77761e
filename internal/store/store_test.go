package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codesearch/internal/search"
	"github.com/dshills/codesearch/pkg/entity"
)

var _ search.EntityFetcher = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "codesearch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRepo(t *testing.T, s *Store, source string) *entity.Repository {
	t.Helper()
	repo := &entity.Repository{Source: source}
	require.NoError(t, s.UpsertRepository(context.Background(), repo))
	return repo
}

func TestRepositoryCatalog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	repo := &entity.Repository{
		Source: "https://github.com/acme/widgets",
		Branch: "main",
	}
	require.NoError(t, s.UpsertRepository(ctx, repo))
	assert.Equal(t, entity.DeriveRepoID(repo.Source), repo.ID)
	assert.Equal(t, "widgets", repo.Name)

	got, err := s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, repo.Source, got.Source)
	assert.Equal(t, "main", got.Branch)
	assert.Zero(t, got.EntityCount)
	assert.True(t, got.LastIndexed.IsZero())

	bySource, err := s.GetRepositoryBySource(ctx, repo.Source)
	require.NoError(t, err)
	assert.Equal(t, repo.ID, bySource.ID)

	// Re-registering the same source updates the existing row.
	again := &entity.Repository{Source: repo.Source, Branch: "develop"}
	require.NoError(t, s.UpsertRepository(ctx, again))
	assert.Equal(t, repo.ID, again.ID)

	repos, err := s.ListRepositories(ctx)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "develop", repos[0].Branch)

	indexedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateRepositoryStats(ctx, repo.ID, 42, indexedAt))
	got, err = s.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.EntityCount)
	assert.False(t, got.LastIndexed.IsZero())

	require.NoError(t, s.DeleteRepository(ctx, repo.ID))
	_, err = s.GetRepository(ctx, repo.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRepository(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteRepository(context.Background(), "nope"), ErrNotFound)
}

func storedEntity(repoID, filePath, name string, startLine int) entity.CodeEntity {
	e := entity.CodeEntity{
		RepoID:     repoID,
		FilePath:   filePath,
		Name:       name,
		Kind:       entity.KindFunction,
		Language:   entity.LangGo,
		StartLine:  startLine,
		EndLine:    startLine + 5,
		Signature:  "func " + name + "(path string) error",
		DocComment: name + " does a thing.",
		Parameters: []string{"path"},
		ReturnType: "error",
		Source:     "func " + name + "() {}",
	}
	e.ComputeID()
	e.ContentHash = e.ComputeContentHash()
	return e
}

func TestEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	repo := newTestRepo(t, s, "/srv/repos/widgets")

	ents := []entity.CodeEntity{
		storedEntity(repo.ID, "pkg/a.go", "LoadConfig", 10),
		storedEntity(repo.ID, "pkg/a.go", "SaveConfig", 30),
		storedEntity(repo.ID, "pkg/b.go", "ParseFlags", 5),
	}
	require.NoError(t, s.UpsertEntities(ctx, ents))

	got, err := s.GetEntities(ctx, []string{ents[0].ID, ents[2].ID, "unknown-id"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byID := map[string]entity.CodeEntity{}
	for _, e := range got {
		byID[e.ID] = e
	}
	loaded, ok := byID[ents[0].ID]
	require.True(t, ok)
	assert.Equal(t, "LoadConfig", loaded.Name)
	assert.Equal(t, entity.KindFunction, loaded.Kind)
	assert.Equal(t, entity.LangGo, loaded.Language)
	assert.Equal(t, []string{"path"}, loaded.Parameters)
	assert.Equal(t, "error", loaded.ReturnType)
	assert.Equal(t, ents[0].ContentHash, loaded.ContentHash)

	count, err := s.CountEntities(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	ids, err := s.ListEntityIDs(ctx, repo.ID, "")
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	fileIDs, err := s.ListEntityIDs(ctx, repo.ID, "pkg/a.go")
	require.NoError(t, err)
	assert.Len(t, fileIDs, 2)

	require.NoError(t, s.DeleteEntities(ctx, []string{ents[2].ID}))
	count, err = s.CountEntities(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Upsert with the same ID replaces the row instead of duplicating it.
	ents[0].DocComment = "updated"
	require.NoError(t, s.UpsertEntities(ctx, ents[:1]))
	count, err = s.CountEntities(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Deleting the repository cascades to its entities.
	require.NoError(t, s.DeleteRepository(ctx, repo.ID))
	count, err = s.CountEntities(ctx, repo.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestJobQueuePriorityOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	low, err := s.Enqueue(ctx, "/repos/low", "", 1)
	require.NoError(t, err)
	high, err := s.Enqueue(ctx, "/repos/high", "", 9)
	require.NoError(t, err)
	mid, err := s.Enqueue(ctx, "/repos/mid", "", 5)
	require.NoError(t, err)

	var claimed []string
	for i := 0; i < 3; i++ {
		job, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, entity.JobRunning, job.Status)
		assert.Equal(t, 1, job.Attempts)
		require.NotNil(t, job.StartedAt)
		claimed = append(claimed, job.ID)
		require.NoError(t, s.MarkSucceeded(ctx, job.ID))
	}

	assert.Equal(t, []string{high.ID, mid.ID, low.ID}, claimed)

	_, err = s.ClaimNext(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestJobQueueFIFOWithinPriority(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Enqueue(ctx, "/repos/first", "", 5)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := s.Enqueue(ctx, "/repos/second", "", 5)
	require.NoError(t, err)

	job, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, job.ID)
	require.NoError(t, s.MarkSucceeded(ctx, job.ID))

	job, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, job.ID)
}

func TestJobQueuePriorityClamped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	job, err := s.Enqueue(ctx, "/repos/a", "", 99)
	require.NoError(t, err)
	assert.Equal(t, entity.MaxPriority, job.Priority)

	job, err = s.Enqueue(ctx, "/repos/b", "", -3)
	require.NoError(t, err)
	assert.Equal(t, entity.MinPriority, job.Priority)
}

func TestJobQueueRetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	queued, err := s.Enqueue(ctx, "/repos/flaky", "", 5)
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		job, err := s.ClaimNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, queued.ID, job.ID)
		assert.Equal(t, attempt, job.Attempts)

		requeued, err := s.MarkFailed(ctx, job.ID, "clone failed")
		require.NoError(t, err)
		assert.Equal(t, attempt < 3, requeued)

		// failed is transient: a requeued job lists as queued again
		if requeued {
			failedJobs, err := s.ListJobs(ctx, entity.JobFailed, 0)
			require.NoError(t, err)
			assert.Empty(t, failedJobs)

			queuedJobs, err := s.ListJobs(ctx, entity.JobQueued, 0)
			require.NoError(t, err)
			require.Len(t, queuedJobs, 1)
			assert.Equal(t, queued.ID, queuedJobs[0].ID)
		}
	}

	_, err = s.ClaimNext(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	job, err := s.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobDeadLettered, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "clone failed", job.LastErr)
	require.NotNil(t, job.FinishedAt)
	assert.True(t, job.Status.Terminal())
}

func TestJobQueuePerRepoExclusion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	firstA, err := s.Enqueue(ctx, "/repos/a", "", 9)
	require.NoError(t, err)
	secondA, err := s.Enqueue(ctx, "/repos/a", "", 9)
	require.NoError(t, err)
	onlyB, err := s.Enqueue(ctx, "/repos/b", "", 1)
	require.NoError(t, err)

	running, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstA.ID, running.ID)

	// The second job for repo a outranks repo b but is skipped while a
	// job for the same repository is running.
	job, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, onlyB.ID, job.ID)

	_, err = s.ClaimNext(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	require.NoError(t, s.MarkSucceeded(ctx, running.ID))

	job, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, secondA.ID, job.ID)
}

func TestJobQueueRelease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	queued, err := s.Enqueue(ctx, "/repos/a", "", 5)
	require.NoError(t, err)

	// only running jobs can be released
	assert.Error(t, s.ReleaseJob(ctx, queued.ID))

	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Attempts)

	require.NoError(t, s.ReleaseJob(ctx, queued.ID))

	job, err := s.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobQueued, job.Status)
	assert.Zero(t, job.Attempts)
	assert.Nil(t, job.StartedAt)

	// a released claim never happened: the next claim is attempt 1
	again, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, queued.ID, again.ID)
	assert.Equal(t, 1, again.Attempts)
}

func TestJobQueueCancel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	queued, err := s.Enqueue(ctx, "/repos/a", "", 5)
	require.NoError(t, err)
	require.NoError(t, s.CancelQueued(ctx, queued.ID))
	_, err = s.GetJob(ctx, queued.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A running job cannot be cancelled.
	started, err := s.Enqueue(ctx, "/repos/b", "", 5)
	require.NoError(t, err)
	_, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Error(t, s.CancelQueued(ctx, started.ID))
}

func TestJobIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	queued, err := s.Enqueue(ctx, "/repos/a", "", 5)
	require.NoError(t, err)

	// queued jobs cannot be completed without being claimed
	assert.Error(t, s.MarkSucceeded(ctx, queued.ID))
	_, err = s.MarkFailed(ctx, queued.ID, "x")
	assert.Error(t, err)

	job, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, s.MarkSucceeded(ctx, job.ID))

	// terminal states have no outgoing edges
	assert.Error(t, s.MarkSucceeded(ctx, job.ID))
	_, err = s.MarkFailed(ctx, job.ID, "x")
	assert.Error(t, err)
}

func TestListJobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Enqueue(ctx, "/repos/a", "", 5)
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "/repos/b", "", 5)
	require.NoError(t, err)

	running, err := s.ClaimNext(ctx)
	require.NoError(t, err)

	all, err := s.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	queued, err := s.ListJobs(ctx, entity.JobQueued, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.NotEqual(t, running.ID, queued[0].ID)

	runningJobs, err := s.ListJobs(ctx, entity.JobRunning, 0)
	require.NoError(t, err)
	require.Len(t, runningJobs, 1)
	assert.Equal(t, running.ID, runningJobs[0].ID)

	errGone, err := s.GetJob(ctx, "missing")
	assert.Nil(t, errGone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestErrorSourceRequired(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Enqueue(context.Background(), "", "", 5)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoJob))
}
