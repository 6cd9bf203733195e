// internal/notification/store/postgres_test.go
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"tgminiapp-notifier/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var pgColumns = []string{
	"id", "user_id", "external_chat_id", "type", "title", "content", "data", "channels",
	"delivery_status", "priority", "priority_rank", "status", "scheduled_at", "sent_at", "read_at",
	"retry_count", "max_retries", "metadata", "created_at", "updated_at",
}

func createTestPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func pgRow(id string, status models.Status, readAt interface{}) []driver.Value {
	return []driver.Value{
		id, "user-1", "chat-1", "reminder", "Reminder", "Your episode is waiting",
		[]byte(`{"actionUrl":"https://t.me/app"}`),
		[]byte(`{"chatBot":true,"email":false,"push":false,"inApp":true}`),
		[]byte(`{"chatBot":{"sent":true},"email":{"sent":false},"push":{"sent":false},"inApp":{"sent":true}}`),
		"high", 3, string(status), testNow, nil, readAt,
		1, 3, []byte(`{"source":"campaign-service"}`), testNow, testNow,
	}
}

func pgRows(rows ...[]driver.Value) *sqlmock.Rows {
	r := sqlmock.NewRows(pgColumns)
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}

// ==========================
// PostgresStore Tests
// ==========================

func TestPostgresStore_CreateManyCommits(t *testing.T) {
	s, mock := createTestPostgresStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO notifications`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.CreateMany(context.Background(), []*models.Notification{
		createTestNotification(t, "user-1", models.PriorityNormal, testNow),
		createTestNotification(t, "user-2", models.PriorityLow, testNow),
	})

	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].ID, out[1].ID)
	assert.Equal(t, 1, out[1].PriorityRank)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateManyRollsBack(t *testing.T) {
	s, mock := createTestPostgresStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO notifications`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	_, err := s.CreateMany(context.Background(), []*models.Notification{
		createTestNotification(t, "user-1", models.PriorityNormal, testNow),
		createTestNotification(t, "user-2", models.PriorityNormal, testNow),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique violation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	s, mock := createTestPostgresStore(t)
	readAt := testNow.Add(time.Minute)

	mock.ExpectQuery(`SELECT .* FROM notifications WHERE id = \$1`).
		WithArgs("n-1").
		WillReturnRows(pgRows(pgRow("n-1", models.StatusSent, readAt)))

	n, err := s.Get(context.Background(), "n-1")
	require.NoError(t, err)

	assert.Equal(t, models.TypeReminder, n.Type)
	assert.Equal(t, models.PriorityHigh, n.Priority)
	assert.True(t, n.Channels.InApp)
	assert.True(t, n.DeliveryStatus.ChatBot.Sent)
	require.NotNil(t, n.Data)
	assert.Equal(t, "https://t.me/app", n.Data.ActionURL)
	require.NotNil(t, n.ReadAt)
	require.NotNil(t, n.DeliveryStatus.InApp.ReadAt)
	assert.Equal(t, readAt, *n.DeliveryStatus.InApp.ReadAt)
	assert.Nil(t, n.SentAt)
	assert.Equal(t, "campaign-service", n.Metadata.Source)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissing(t *testing.T) {
	s, mock := createTestPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM notifications WHERE id = \$1`).
		WithArgs("n-404").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "n-404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Claim(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(mock sqlmock.Sqlmock)
		validate func(t *testing.T, n *models.Notification, err error)
	}{
		{
			name: "claimed",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`UPDATE notifications SET status = \$3, updated_at = \$2, claim_token = \$5`).
					WithArgs("n-1", testNow, "sending", "pending", sqlmock.AnyArg()).
					WillReturnRows(pgRows(pgRow("n-1", models.StatusSending, nil)))
			},
			validate: func(t *testing.T, n *models.Notification, err error) {
				require.NoError(t, err)
				assert.Equal(t, models.StatusSending, n.Status)
				assert.NotEmpty(t, n.ClaimToken)
			},
		},
		{
			name: "not claimable",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`UPDATE notifications SET status = \$3`).
					WillReturnRows(sqlmock.NewRows(pgColumns))
			},
			validate: func(t *testing.T, n *models.Notification, err error) {
				assert.ErrorIs(t, err, ErrNotClaimable)
				assert.Nil(t, n)
			},
		},
		{
			name: "connection error",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`UPDATE notifications SET status = \$3`).
					WillReturnError(errors.New("connection reset"))
			},
			validate: func(t *testing.T, n *models.Notification, err error) {
				require.Error(t, err)
				assert.NotErrorIs(t, err, ErrNotClaimable)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := createTestPostgresStore(t)
			tt.setup(mock)

			n, err := s.Claim(context.Background(), "n-1", testNow)
			tt.validate(t, n, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_UpdateIsGuarded(t *testing.T) {
	s, mock := createTestPostgresStore(t)
	n := createTestNotification(t, "user-1", models.PriorityNormal, testNow)
	n.ID = "n-1"
	n.Status = models.StatusPending
	n.ClaimToken = "claim-1"
	readAt := testNow
	n.DeliveryStatus.InApp.ReadAt = &readAt

	mock.ExpectExec(`UPDATE notifications\s+SET status = \$3.*WHERE id = \$1 AND status = \$2 AND claim_token = \$9`).
		WithArgs("n-1", "sending", "pending", sqlmock.AnyArg(), 0, sqlmock.AnyArg(), sqlmock.AnyArg(),
			`{"chatBot":{"sent":false},"email":{"sent":false},"push":{"sent":false},"inApp":{"sent":false}}`, "claim-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notifications\s+SET status = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Update(context.Background(), n, models.StatusSending))
	assert.ErrorIs(t, s.Update(context.Background(), n, models.StatusSending), ErrStaleUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindPending(t *testing.T) {
	s, mock := createTestPostgresStore(t)

	mock.ExpectQuery(`ORDER BY priority_rank DESC, scheduled_at ASC, id ASC LIMIT \$3`).
		WithArgs("pending", testNow, 5).
		WillReturnRows(pgRows(pgRow("n-1", models.StatusPending, nil), pgRow("n-2", models.StatusPending, nil)))

	out, err := s.FindPending(context.Background(), testNow, 5)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "n-2", out[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByRecipient(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		setup func(mock sqlmock.Sqlmock)
	}{
		{
			name:  "paged",
			limit: 10,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`ORDER BY created_at DESC, id DESC LIMIT \$3 OFFSET \$2`).
					WithArgs("user-1", 20, 10).
					WillReturnRows(pgRows(pgRow("n-1", models.StatusSent, nil)))
			},
		},
		{
			name:  "no limit returns everything",
			limit: 0,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`ORDER BY created_at DESC, id DESC OFFSET \$2$`).
					WithArgs("user-1", 20).
					WillReturnRows(pgRows(pgRow("n-1", models.StatusSent, nil)))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := createTestPostgresStore(t)
			tt.setup(mock)

			out, err := s.FindByRecipient(context.Background(), "user-1", tt.limit, 20)
			require.NoError(t, err)
			assert.Len(t, out, 1)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_Cancel(t *testing.T) {
	s, mock := createTestPostgresStore(t)

	mock.ExpectQuery(`UPDATE notifications SET status = \$2, updated_at = \$3`).
		WillReturnRows(sqlmock.NewRows(pgColumns))
	mock.ExpectQuery(`SELECT .* FROM notifications WHERE id = \$1`).
		WithArgs("n-1").
		WillReturnRows(pgRows(pgRow("n-1", models.StatusSent, nil)))

	current, err := s.Cancel(context.Background(), "n-1", testNow)
	assert.ErrorIs(t, err, ErrNotCancellable)
	require.NotNil(t, current)
	assert.Equal(t, models.StatusSent, current.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Maintenance(t *testing.T) {
	s, mock := createTestPostgresStore(t)

	mock.ExpectExec(`UPDATE notifications SET status = \$1, updated_at = \$2\s+WHERE status = \$3 AND updated_at < \$4`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM notifications WHERE status = ANY\(\$1\) AND created_at < \$2`).
		WillReturnResult(sqlmock.NewResult(0, 12))

	released, err := s.ReleaseStale(context.Background(), testNow.Add(-time.Hour), testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), released)

	deleted, err := s.DeleteOlderThan(context.Background(), testNow.AddDate(0, 0, -30), models.TerminalStatuses)
	require.NoError(t, err)
	assert.Equal(t, int64(12), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
