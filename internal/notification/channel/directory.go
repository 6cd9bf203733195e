// internal/notification/channel/directory.go
package channel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/models"

	"github.com/redis/go-redis/v9"
)

var ErrProfileNotFound = errors.New("recipient profile not found")

// Directory resolves the contact details and opt-ins the email and push
// senders need.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*models.UserProfile, error)
}

// Invalidator is implemented by directories that cache profiles.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// forgetProfile drops a cached profile after a send it fed has failed, so the
// retry reads current contact details.
func forgetProfile(ctx context.Context, d Directory, userID string) {
	if inv, ok := d.(Invalidator); ok {
		_ = inv.Invalidate(ctx, userID)
	}
}

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Lookup(ctx context.Context, userID string) (*models.UserProfile, error) {
	var (
		p                           models.UserProfile
		telegramID, email, endpoint sql.NullString
		language                    sql.NullString
		emailOptIn, pushOptIn       sql.NullBool
	)
	query := `SELECT id, telegram_id, email, push_endpoint_arn, email_notifications, push_notifications, language
		FROM users WHERE id = $1`
	err := d.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &telegramID, &email, &endpoint, &emailOptIn, &pushOptIn, &language,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
	}

	p.TelegramID = telegramID.String
	p.Email = email.String
	p.PushEndpointARN = endpoint.String
	p.Language = language.String
	// Opt-ins default to on when the column is null.
	p.EmailNotifications = !emailOptIn.Valid || emailOptIn.Bool
	p.PushNotifications = !pushOptIn.Valid || pushOptIn.Bool
	return &p, nil
}

// CachedDirectory fronts another Directory with a Redis read-through cache.
// Cache failures are logged and fall through to the backing directory.
type CachedDirectory struct {
	next   Directory
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedDirectory(next Directory, rdb *redis.Client, ttl time.Duration, log logger.Logger) *CachedDirectory {
	return &CachedDirectory{
		next:   next,
		redis:  rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "directory-cache"}),
	}
}

func profileCacheKey(userID string) string {
	return "notifier:profile:" + userID
}

func (d *CachedDirectory) Lookup(ctx context.Context, userID string) (*models.UserProfile, error) {
	key := profileCacheKey(userID)

	val, err := d.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		var p models.UserProfile
		if jsonErr := json.Unmarshal([]byte(val), &p); jsonErr == nil {
			return &p, nil
		}
		d.logger.Warn("Discarding undecodable cached profile", map[string]interface{}{"userId": userID})
	case !errors.Is(err, redis.Nil):
		d.logger.Warn("Profile cache read failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}

	p, err := d.next.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(p)
	if err == nil {
		if setErr := d.redis.Set(ctx, key, data, d.ttl).Err(); setErr != nil {
			d.logger.Warn("Profile cache write failed", map[string]interface{}{
				"userId": userID,
				"error":  setErr.Error(),
			})
		}
	}
	return p, nil
}

// Invalidate drops the cached profile so the next lookup reloads it.
func (d *CachedDirectory) Invalidate(ctx context.Context, userID string) error {
	return d.redis.Del(ctx, profileCacheKey(userID)).Err()
}
