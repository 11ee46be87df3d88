package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_graph_server/internal/model"
	"github.com/qs3c/anal_graph_server/internal/testutil"
)

func TestEntityRepository_BulkCreate(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntityRepository(db)
	r := testutil.TestRepository(t, db)
	file := testutil.TestFile(t, db, r.ID, "src/a.ts")

	var entities []*model.CodeEntity
	for i := 0; i < 150; i++ {
		entities = append(entities, &model.CodeEntity{
			FileID:    file.ID,
			Name:      "fn",
			Kind:      "function",
			StartLine: i + 1,
			EndLine:   i + 1,
		})
	}
	require.NoError(t, repo.BulkCreate(entities))
	require.NoError(t, repo.BulkCreate(nil))

	found, err := repo.ListByFileID(file.ID)
	require.NoError(t, err)
	assert.Len(t, found, 150)
	assert.Equal(t, 1, found[0].StartLine)
}

func TestEntityRepository_ListByFileIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewEntityRepository(db)
	r := testutil.TestRepository(t, db)

	a := testutil.TestFile(t, db, r.ID, "a.ts")
	testutil.TestEntity(t, db, a, "Widget", "class", 1, 10)
	testutil.TestEntity(t, db, a, "helper", "function", 11, 12)
	b := testutil.TestFile(t, db, r.ID, "b.ts")
	testutil.TestEntity(t, db, b, "index", "function", 1, 2)
	c := testutil.TestFile(t, db, r.ID, "c.ts")
	testutil.TestEntity(t, db, c, "index", "function", 1, 2)

	found, err := repo.ListByFileIDs([]int64{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, found, 3)
	for _, e := range found {
		assert.NotEqual(t, c.ID, e.FileID)
	}

	// 超过单批上限时分批查询，结果不丢失
	ids := []int64{c.ID}
	for i := int64(1); i <= 2*inClauseBatchSize; i++ {
		ids = append(ids, 1_000_000+i)
	}
	ids = append(ids, a.ID)
	found, err = repo.ListByFileIDs(ids)
	require.NoError(t, err)
	assert.Len(t, found, 3)

	found, err = repo.ListByFileIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}
