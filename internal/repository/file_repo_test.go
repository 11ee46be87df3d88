package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/testutil"
)

func TestFileRepository_CreateAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	r := testutil.TestRepository(t, db)

	file := &model.RepositoryFile{
		RepositoryID: r.ID,
		FilePath:     "src/index.ts",
		FileName:     "index.ts",
		FileType:     "ts",
		LinesOfCode:  12,
		GraphNodeID:  model.FileNodeID(r.ID, "src/index.ts"),
	}
	require.NoError(t, repo.Create(file))
	assert.NotZero(t, file.ID)

	found, err := repo.GetByGraphNodeID(file.GraphNodeID)
	require.NoError(t, err)
	assert.Equal(t, file.ID, found.ID)

	found, err = repo.GetByID(file.ID)
	require.NoError(t, err)
	assert.Equal(t, "src/index.ts", found.FilePath)
}

func TestFileRepository_UniquePathPerRepository(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	r := testutil.TestRepository(t, db)
	other := testutil.TestRepository(t, db)
	testutil.TestFile(t, db, r.ID, "src/a.ts")

	dup := &model.RepositoryFile{RepositoryID: r.ID, FilePath: "src/a.ts", FileName: "a.ts", GraphNodeID: "x"}
	assert.Error(t, repo.Create(dup))

	sameInOther := &model.RepositoryFile{RepositoryID: other.ID, FilePath: "src/a.ts", FileName: "a.ts", GraphNodeID: "y"}
	assert.NoError(t, repo.Create(sameInOther))
}

func TestFileRepository_ListByGraphNodeIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	r := testutil.TestRepository(t, db)
	a := testutil.TestFile(t, db, r.ID, "a.ts")
	testutil.TestFile(t, db, r.ID, "b.ts")
	c := testutil.TestFile(t, db, r.ID, "c.ts")

	files, err := repo.ListByGraphNodeIDs([]string{a.GraphNodeID, c.GraphNodeID, "file-0-missing"})
	require.NoError(t, err)
	assert.Len(t, files, 2)

	files, err = repo.ListByGraphNodeIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFileRepository_DeleteByRepositoryID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	entities := NewEntityRepository(db)
	r := testutil.TestRepository(t, db)
	other := testutil.TestRepository(t, db)

	a := testutil.TestFile(t, db, r.ID, "a.ts")
	testutil.TestEntity(t, db, a, "run", "function", 1, 5)
	testutil.TestFile(t, db, r.ID, "b.ts")
	kept := testutil.TestFile(t, db, other.ID, "a.ts")
	testutil.TestEntity(t, db, kept, "run", "function", 1, 5)

	deleted, err := repo.DeleteByRepositoryID(r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	count, err := repo.CountByRepositoryID(r.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	remaining, err := entities.ListByFileID(a.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	remaining, err = entities.ListByFileID(kept.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestFileRepository_ListByRepositoryID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewFileRepository(db)
	r := testutil.TestRepository(t, db)
	testutil.TestFile(t, db, r.ID, "z.ts")
	testutil.TestFile(t, db, r.ID, "a.ts")

	files, err := repo.ListByRepositoryID(r.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.ts", files[0].FilePath)
}
