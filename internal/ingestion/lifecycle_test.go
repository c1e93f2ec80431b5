package ingestion

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aihub/knowledge-retrieval/internal/models"
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

func TestLifecycle_CanTransition(t *testing.T) {
	db, _ := newMockGormDB(t)
	l := NewLifecycle(db)

	assert.True(t, l.CanTransition(models.DocumentStatusPending, models.DocumentStatusProcessing))
	assert.True(t, l.CanTransition(models.DocumentStatusProcessing, models.DocumentStatusCompleted))
	assert.True(t, l.CanTransition(models.DocumentStatusProcessing, models.DocumentStatusFailed))
	assert.True(t, l.CanTransition(models.DocumentStatusProcessing, models.DocumentStatusCancelled))
	assert.True(t, l.CanTransition(models.DocumentStatusFailed, models.DocumentStatusPending))

	assert.False(t, l.CanTransition(models.DocumentStatusPending, models.DocumentStatusCompleted))
	assert.False(t, l.CanTransition(models.DocumentStatusCompleted, models.DocumentStatusProcessing))
	assert.False(t, l.CanTransition(models.DocumentStatusCancelled, models.DocumentStatusPending))
}

func TestLifecycle_TransitionRejectsIllegalEdge(t *testing.T) {
	db, mock := newMockGormDB(t)
	rows := sqlmock.NewRows([]string{"status"}).AddRow(models.DocumentStatusPending)
	mock.ExpectQuery(`SELECT "status" FROM "knowledge_documents"`).WillReturnRows(rows)

	l := NewLifecycle(db)
	err := l.Transition(context.Background(), 1, models.DocumentStatusCompleted)

	require.Error(t, err)
	var invalid *ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.DocumentStatusPending, invalid.From)
	assert.Equal(t, models.DocumentStatusCompleted, invalid.To)
}

func TestLifecycle_TransitionUpdatesStatus(t *testing.T) {
	db, mock := newMockGormDB(t)
	rows := sqlmock.NewRows([]string{"status"}).AddRow(models.DocumentStatusPending)
	mock.ExpectQuery(`SELECT "status" FROM "knowledge_documents"`).WillReturnRows(rows)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "knowledge_documents"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	l := NewLifecycle(db)
	err := l.Transition(context.Background(), 1, models.DocumentStatusProcessing)
	require.NoError(t, err)
}
