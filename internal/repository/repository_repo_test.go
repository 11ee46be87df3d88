package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/testutil"
)

func TestRepositoryRepository_CreateAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewRepositoryRepository(db)
	r := &model.Repository{Name: "web", URL: "https://github.com/acme/web", Branch: "main"}
	require.NoError(t, repo.Create(r))

	found, err := repo.GetByID(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/web", found.URL)

	_, err = repo.GetByID(r.ID + 100)
	assert.Error(t, err)
}

func TestRepositoryRepository_List(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewRepositoryRepository(db)
	for i := 0; i < 3; i++ {
		testutil.TestRepository(t, db)
	}

	repos, total, err := repo.List(1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, repos, 2)
}
