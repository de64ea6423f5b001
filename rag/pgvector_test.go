package rag

import (
	"context"
	"testing"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupPgVector(t *testing.T) (sqlmock.Sqlmock, *PgVectorIndex) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	idx, err := NewPgVectorIndex(db, config.PgVectorConfig{Table: "entity_embeddings", VectorDimension: 3}, zap.NewNop())
	require.NoError(t, err)
	return mock, idx
}

func TestPgVectorIndex_Search(t *testing.T) {
	mock, idx := setupPgVector(t)

	rows := sqlmock.NewRows([]string{"entity_id", "source", "text_preview", "score"}).
		AddRow("e1", "notion", "roadmap", 0.93).
		AddRow("e2", "notion", "planning", 0.71)
	mock.ExpectQuery(`SELECT entity_id, source, text_preview, 1 - \(embedding <=> \$1\) AS score FROM entity_embeddings WHERE source = \$2 ORDER BY embedding <=> \$3 LIMIT \$4`).
		WithArgs(sqlmock.AnyArg(), "notion", sqlmock.AnyArg(), 4).
		WillReturnRows(rows)

	matches, err := idx.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 4, Filter{Source: "notion"})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, VectorMatch{EntityID: "e1", Score: 0.93, Preview: "roadmap", Source: "notion"}, matches[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgVectorIndex_Upsert(t *testing.T) {
	mock, idx := setupPgVector(t)

	mock.ExpectExec(`INSERT INTO entity_embeddings .* ON CONFLICT \(entity_id\) DO UPDATE`).
		WithArgs("e1", "notion", "hello", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, idx.Upsert(context.Background(), VectorRecord{
		EntityID: "e1", Embedding: []float32{1, 0, 0}, Preview: "hello", Source: "notion",
	}))
	assert.ErrorContains(t, idx.Upsert(context.Background(), VectorRecord{EntityID: "e1", Embedding: []float32{1}}), "dimension mismatch")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPgVectorIndex_RejectsBadTable(t *testing.T) {
	_, err := NewPgVectorIndex(&gorm.DB{}, config.PgVectorConfig{Table: "x; DROP TABLE entities"}, nil)
	assert.Error(t, err)
}
