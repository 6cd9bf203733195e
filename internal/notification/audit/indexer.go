// internal/notification/audit/indexer.go
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
)

// Attempt is one channel send within one round.
type Attempt struct {
	NotificationID string          `json:"notificationId"`
	UserID         string          `json:"userId"`
	Type           string          `json:"type"`
	Channel        models.Channel  `json:"channel"`
	Success        bool            `json:"success"`
	Error          string          `json:"error,omitempty"`
	RetryCount     int             `json:"retryCount"`
	Status         models.Status   `json:"status"`
	Priority       models.Priority `json:"priority"`
	DurationMs     int64           `json:"durationMs"`
	AttemptedAt    time.Time       `json:"attemptedAt"`
}

// Recorder receives the attempts of a finished round.
type Recorder interface {
	Record(ctx context.Context, attempts []Attempt)
}

// NopRecorder discards attempts.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, []Attempt) {}

// Indexer writes attempts to Elasticsearch. Failures are logged and never
// reach the caller; delivery does not depend on the audit trail.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "audit"}),
	}
}

func (i *Indexer) Record(ctx context.Context, attempts []Attempt) {
	for _, a := range attempts {
		if err := i.indexOne(ctx, a); err != nil {
			i.logger.Warn("Failed to index delivery attempt", map[string]interface{}{
				"notificationId": a.NotificationID,
				"channel":        string(a.Channel),
				"error":          err.Error(),
			})
		}
	}
}

func (i *Indexer) indexOne(ctx context.Context, a Attempt) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: uuid.NewString(),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index failed: %s", res.String())
	}
	return nil
}
