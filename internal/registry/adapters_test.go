package registry

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockGormDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{})
	require.NoError(t, err)
	return gdb, mock
}

func TestKBValidator_ActiveTrue(t *testing.T) {
	db, mock := newMockGormDB(t)
	rows := sqlmock.NewRows([]string{"active"}).AddRow(true)
	mock.ExpectQuery(`SELECT "active" FROM "knowledge_bases"`).WillReturnRows(rows)

	v := newKBValidator(db)
	active, err := v.Active(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestKBValidator_NotFoundIsFalseNotError(t *testing.T) {
	db, mock := newMockGormDB(t)
	mock.ExpectQuery(`SELECT "active" FROM "knowledge_bases"`).WillReturnError(gorm.ErrRecordNotFound)

	v := newKBValidator(db)
	active, err := v.Active(context.Background(), 999)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestChunkSource_ActiveChunksMapsRows(t *testing.T) {
	db, mock := newMockGormDB(t)
	rows := sqlmock.NewRows([]string{"chunk_id", "document_id", "content"}).
		AddRow(1, 10, "first chunk").
		AddRow(2, 10, "second chunk")
	mock.ExpectQuery(`SELECT .* FROM "knowledge_chunks"`).WillReturnRows(rows)

	s := newChunkSource(db)
	chunks, err := s.ActiveChunks(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, uint(1), chunks[0].ChunkID)
	assert.Equal(t, "first chunk", chunks[0].Content)
}
