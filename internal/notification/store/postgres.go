// internal/notification/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tgminiapp-notifier/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Schema is applied through database.PostgresClient.Migrate.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		external_chat_id TEXT NOT NULL,
		type             TEXT NOT NULL,
		title            TEXT NOT NULL,
		content          TEXT NOT NULL,
		data             JSONB,
		channels         JSONB NOT NULL,
		delivery_status  JSONB NOT NULL,
		priority         TEXT NOT NULL,
		priority_rank    INTEGER NOT NULL,
		status           TEXT NOT NULL,
		scheduled_at     TIMESTAMPTZ NOT NULL,
		sent_at          TIMESTAMPTZ,
		read_at          TIMESTAMPTZ,
		retry_count      INTEGER NOT NULL DEFAULT 0,
		max_retries      INTEGER NOT NULL,
		metadata         JSONB NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		claim_token      TEXT NOT NULL DEFAULT ''
	)`,
	`ALTER TABLE notifications ADD COLUMN IF NOT EXISTS claim_token TEXT NOT NULL DEFAULT ''`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_due ON notifications (status, priority_rank DESC, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications (created_at)`,
}

const notificationColumns = `id, user_id, external_chat_id, type, title, content, data, channels,
	delivery_status, priority, priority_rank, status, scheduled_at, sent_at, read_at,
	retry_count, max_retries, metadata, created_at, updated_at`

// PostgresStore keeps the in-app read marker in the read_at column only, so
// rewriting delivery_status during a round can never lose it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	out, err := s.CreateMany(ctx, []*models.Notification{n})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *PostgresStore) CreateMany(ctx context.Context, ns []*models.Notification) ([]*models.Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	out := make([]*models.Notification, 0, len(ns))
	for _, n := range ns {
		rec := n.Clone()
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.PriorityRank = rec.Priority.Rank()

		args, err := insertArgs(rec)
		if err != nil {
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, fmt.Errorf("failed to insert notification %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification %s: %w", id, err)
	}
	return n, nil
}

// Claim writes the token generated here; claim_token is not part of
// notificationColumns, so it is set on the returned record directly.
func (s *PostgresStore) Claim(ctx context.Context, id string, now time.Time) (*models.Notification, error) {
	token := uuid.NewString()
	row := s.db.QueryRowContext(ctx, `UPDATE notifications SET status = $3, updated_at = $2, claim_token = $5
		WHERE id = $1 AND status = $4 AND scheduled_at <= $2
		RETURNING `+notificationColumns,
		id, now, models.StatusSending, models.StatusPending, token)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimable, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim notification %s: %w", id, err)
	}
	n.ClaimToken = token
	return n, nil
}

func (s *PostgresStore) Update(ctx context.Context, n *models.Notification, expected models.Status) error {
	delivery, err := marshalDelivery(n.DeliveryStatus)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE notifications
		SET status = $3, sent_at = $4, retry_count = $5, scheduled_at = $6, updated_at = $7, delivery_status = $8
		WHERE id = $1 AND status = $2 AND claim_token = $9`,
		n.ID, expected, n.Status, nullTime(n.SentAt), n.RetryCount, n.ScheduledAt, n.UpdatedAt, delivery, n.ClaimToken)
	if err != nil {
		return fmt.Errorf("failed to update notification %s: %w", n.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update notification %s: %w", n.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s no longer %s under this claim", ErrStaleUpdate, n.ID, expected)
	}
	return nil
}

func (s *PostgresStore) FindPending(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY priority_rank DESC, scheduled_at ASC, id ASC`
	args := []interface{}{models.StatusPending, now}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

func (s *PostgresStore) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4`,
		models.StatusPending, now, models.StatusSending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale claims: %w", err)
	}
	return res.RowsAffected()
}

// FindByRecipient returns every record when limit <= 0.
func (s *PostgresStore) FindByRecipient(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{userID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	query += ` OFFSET $2`
	return s.query(ctx, query, args...)
}

func (s *PostgresStore) FindUnread(ctx context.Context, userID string) ([]*models.Notification, error) {
	return s.query(ctx, `SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = $1
		  AND (channels->>'inApp')::boolean
		  AND (delivery_status->'inApp'->>'sent')::boolean
		  AND read_at IS NULL
		ORDER BY created_at DESC, id DESC`, userID)
}

func (s *PostgresStore) MarkRead(ctx context.Context, id string, now time.Time) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE notifications SET read_at = $2
		WHERE id = $1 AND read_at IS NULL
		RETURNING `+notificationColumns, id, now)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return n, nil
}

func (s *PostgresStore) Cancel(ctx context.Context, id string, now time.Time) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE notifications SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+notificationColumns,
		id, models.StatusCancelled, now, models.StatusPending)
	n, err := scanNotification(row)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to cancel notification %s: %w", id, err)
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return current, fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, current.Status)
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []models.Status) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE status = ANY($1) AND created_at < $2`,
		pq.Array(statusStrings(statuses)), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n                                  models.Notification
		data, channels, delivery, metadata []byte
		sentAt, readAt                     sql.NullTime
	)
	err := row.Scan(
		&n.ID, &n.Recipient.UserID, &n.Recipient.ExternalChatID, &n.Type, &n.Title, &n.Content,
		&data, &channels, &delivery, &n.Priority, &n.PriorityRank, &n.Status,
		&n.ScheduledAt, &sentAt, &readAt, &n.RetryCount, &n.MaxRetries, &metadata,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 && string(data) != "null" {
		n.Data = &models.Payload{}
		if err := json.Unmarshal(data, n.Data); err != nil {
			return nil, fmt.Errorf("invalid data column: %w", err)
		}
	}
	if err := json.Unmarshal(channels, &n.Channels); err != nil {
		return nil, fmt.Errorf("invalid channels column: %w", err)
	}
	if err := json.Unmarshal(delivery, &n.DeliveryStatus); err != nil {
		return nil, fmt.Errorf("invalid delivery_status column: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata column: %w", err)
		}
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
		inAppRead := t
		n.DeliveryStatus.InApp.ReadAt = &inAppRead
	}
	return &n, nil
}

func insertArgs(n *models.Notification) ([]interface{}, error) {
	var data sql.NullString
	if n.Data != nil {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode channels: %w", err)
	}
	delivery, err := marshalDelivery(n.DeliveryStatus)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	return []interface{}{
		n.ID, n.Recipient.UserID, n.Recipient.ExternalChatID, n.Type, n.Title, n.Content,
		data, string(channels), delivery, n.Priority, n.PriorityRank, n.Status,
		n.ScheduledAt, nullTime(n.SentAt), nullTime(n.ReadAt), n.RetryCount, n.MaxRetries, string(metadata),
		n.CreatedAt, n.UpdatedAt,
	}, nil
}

// marshalDelivery drops the in-app read marker, which lives in read_at.
// JSONB parameters go over the wire as text.
func marshalDelivery(d models.DeliveryStatus) (string, error) {
	d.InApp.ReadAt = nil
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to encode delivery status: %w", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
