package worker

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/repository"
	"github.com/qs3c/anal_graph_server/internal/testutil"
)

func TestReuploader_MigratesLocalSnapshots(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	dir := t.TempDir()
	repo := testutil.TestRepository(t, db)
	job := testutil.TestJob(t, db, repo.ID, model.JobStatusCompleted)
	require.NoError(t, db.Model(job).Update("snapshot_url", model.LocalSnapshotURL(job.ID)).Error)
	require.NoError(t, os.WriteFile(LocalSnapshotPath(dir, job.ID), []byte(`{"files":[]}`), 0644))

	remote := testutil.TestJob(t, db, repo.ID, model.JobStatusCompleted,
		testutil.WithSnapshotURL("https://cdn.example.com/snapshots/1/1.json"))

	jobRepo := repository.NewJobRepository(db)
	uploader := &fakeUploader{}
	r := NewReuploader(jobRepo, uploader, dir)

	assert.Equal(t, 1, r.run())
	assert.Equal(t, 1, uploader.calls)

	got, err := jobRepo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("https://cdn.example.com/snapshots/%d/%d.json", repo.ID, job.ID), got.SnapshotURL)

	_, err = os.Stat(LocalSnapshotPath(dir, job.ID))
	assert.True(t, os.IsNotExist(err))

	untouched, err := jobRepo.GetByID(remote.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/snapshots/1/1.json", untouched.SnapshotURL)

	// 第二轮没有待迁移的快照
	assert.Equal(t, 0, r.run())
}

func TestReuploader_KeepsFileOnUploadFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	dir := t.TempDir()
	repo := testutil.TestRepository(t, db)
	job := testutil.TestJob(t, db, repo.ID, model.JobStatusCompleted)
	require.NoError(t, db.Model(job).Update("snapshot_url", model.LocalSnapshotURL(job.ID)).Error)
	require.NoError(t, os.WriteFile(LocalSnapshotPath(dir, job.ID), []byte(`{}`), 0644))

	jobRepo := repository.NewJobRepository(db)
	r := NewReuploader(jobRepo, &fakeUploader{err: errors.New("oss down")}, dir)

	assert.Equal(t, 0, r.run())

	got, err := jobRepo.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LocalSnapshotURL(job.ID), got.SnapshotURL)
	_, err = os.Stat(LocalSnapshotPath(dir, job.ID))
	assert.NoError(t, err)
}

func TestReuploader_MissingLocalFile(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := testutil.TestRepository(t, db)
	job := testutil.TestJob(t, db, repo.ID, model.JobStatusCompleted)
	require.NoError(t, db.Model(job).Update("snapshot_url", model.LocalSnapshotURL(job.ID)).Error)

	uploader := &fakeUploader{}
	r := NewReuploader(repository.NewJobRepository(db), uploader, t.TempDir())

	assert.Equal(t, 0, r.run())
	assert.Equal(t, 0, uploader.calls)
}
