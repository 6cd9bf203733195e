// internal/notification/audit/indexer_test.go
package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeES struct {
	mu       sync.Mutex
	paths    []string
	docs     []Attempt
	failWith int
}

func (f *fakeES) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)

	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		w.Write([]byte(`{"error":{"type":"cluster_block_exception"}}`))
		return
	}

	var a Attempt
	if err := json.NewDecoder(r.Body).Decode(&a); err == nil {
		f.docs = append(f.docs, a)
	}
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte(`{"result":"created"}`))
}

func createTestIndexer(t *testing.T, es *fakeES, log logger.Logger) *Indexer {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(es.handler))
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)
	return NewIndexer(client, "notification-attempts", log)
}

func createTestAttempts() []Attempt {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []Attempt{
		{NotificationID: "n-1", Channel: models.ChannelChatBot, Success: true, Status: models.StatusPending, AttemptedAt: at},
		{NotificationID: "n-1", Channel: models.ChannelEmail, Error: "throttled", RetryCount: 1, Status: models.StatusPending, AttemptedAt: at},
	}
}

// ==========================
// Indexer Tests
// ==========================

func TestIndexer_RecordIndexesEveryAttempt(t *testing.T) {
	es := &fakeES{}
	indexer := createTestIndexer(t, es, logger.NewTestLogger(t))

	indexer.Record(context.Background(), createTestAttempts())

	require.Len(t, es.paths, 2)
	for _, p := range es.paths {
		assert.True(t, strings.HasPrefix(p, "PUT /notification-attempts/_doc/"), p)
	}
	assert.NotEqual(t, es.paths[0], es.paths[1], "document ids are unique")
	require.Len(t, es.docs, 2)
	assert.Equal(t, "throttled", es.docs[1].Error)
	assert.True(t, es.docs[0].Success)
}

func TestIndexer_FailuresAreLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	es := &fakeES{failWith: http.StatusForbidden}
	indexer := createTestIndexer(t, es, logger.NewZapAdapter(zap.New(core)))

	indexer.Record(context.Background(), createTestAttempts())

	assert.Equal(t, 2, logs.FilterMessage("Failed to index delivery attempt").Len())
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	r.Record(context.Background(), createTestAttempts())
}
