package waitlist

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*waitlistService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &waitlistService{
		db:  db,
		now: func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) },
	}, mock
}

func TestAddToWaitlistInsertsNormalisedEmail(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("INSERT INTO waitlist").
		WithArgs("ada@example.com", "2025-01-02T03:04:05.000Z").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	e, err := svc.AddToWaitlist(context.Background(), "  Ada@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.ID)
	assert.Equal(t, "ada@example.com", e.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddToWaitlistDuplicateReturnsExisting(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery("INSERT INTO waitlist").
		WithArgs("ada@example.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id, email, created_at FROM waitlist").
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "created_at"}).
			AddRow(int64(9), "ada@example.com", "2024-12-01T00:00:00.000Z"))

	e, err := svc.AddToWaitlist(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(9), e.ID)
	assert.Equal(t, "2024-12-01T00:00:00.000Z", e.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddToWaitlistEmpty(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.AddToWaitlist(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidEmail)
}
