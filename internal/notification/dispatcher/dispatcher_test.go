// internal/notification/dispatcher/dispatcher_test.go
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/models"
	"tgminiapp-notifier/internal/notification/audit"
	"tgminiapp-notifier/internal/notification/channel"
	"tgminiapp-notifier/internal/notification/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingSender fails the first failures calls, then succeeds.
type countingSender struct {
	calls    int32
	failures int32
}

func (s *countingSender) Send(ctx context.Context, n *models.Notification) error {
	call := atomic.AddInt32(&s.calls, 1)
	if call <= s.failures {
		return errors.New("provider unavailable")
	}
	return nil
}

func (s *countingSender) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

// ctxStore rejects writes on a done context, as the network drivers do.
type ctxStore struct {
	*store.MemoryStore
}

func (s ctxStore) Update(ctx context.Context, n *models.Notification, expected models.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Update(ctx, n, expected)
}

type recorderFunc func(ctx context.Context, attempts []audit.Attempt)

func (f recorderFunc) Record(ctx context.Context, attempts []audit.Attempt) { f(ctx, attempts) }

func createTestNotification(t *testing.T, clock *testClock, channels models.Channels, maxRetries int) *models.Notification {
	t.Helper()
	n, err := models.NewNotification(models.Spec{
		Recipient:  models.Recipient{UserID: "user-1", ExternalChatID: "100500"},
		Type:       models.TypeNewPodcast,
		Title:      "New episode",
		Content:    "Episode 42 is out",
		Channels:   channels,
		MaxRetries: maxRetries,
	}, clock.Now(), 3)
	require.NoError(t, err)
	return n
}

func createTestDispatcher(t *testing.T, st store.Store, senders channel.Registry, clock *testClock, opts ...Option) *Dispatcher {
	t.Helper()
	cfg := Config{
		ChannelTimeout: time.Second,
		Backoff:        models.ExponentialBackoff(time.Minute, time.Hour),
	}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(st, senders, cfg, logger.NewTestLogger(t), opts...)
}

func persist(t *testing.T, st store.Store, n *models.Notification) *models.Notification {
	t.Helper()
	created, err := st.Create(context.Background(), n)
	require.NoError(t, err)
	return created
}

// ==========================
// Round Outcome Tests
// ==========================

func TestDispatch_AllChannelsSucceed(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	chatBot, inApp := &countingSender{}, &countingSender{}
	d := createTestDispatcher(t, st, channel.Registry{
		models.ChannelChatBot: chatBot,
		models.ChannelInApp:   inApp,
	}, clock)

	n := persist(t, st, createTestNotification(t, clock, models.Channels{ChatBot: true, InApp: true}, 3))

	res, err := d.Dispatch(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, models.StatusSent, res.Outcome.Status)
	assert.Equal(t, 2, res.Outcome.Succeeded)

	got, err := st.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, clock.Now(), *got.SentAt)
	assert.Equal(t, 0, got.RetryCount)
	assert.True(t, got.DeliveryStatus.ChatBot.Sent)
	assert.True(t, got.DeliveryStatus.InApp.Sent)
}

func TestDispatch_PartialFailureRetriesOnlyFailedChannel(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	chatBot := &countingSender{failures: 2}
	inApp := &countingSender{}
	d := createTestDispatcher(t, st, channel.Registry{
		models.ChannelChatBot: chatBot,
		models.ChannelInApp:   inApp,
	}, clock)

	n := persist(t, st, createTestNotification(t, clock, models.Channels{ChatBot: true, InApp: true}, 3))
	ctx := context.Background()

	// Round 1: chatBot fails, inApp delivered.
	res, err := d.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Outcome.Status)
	assert.Contains(t, res.Failures, models.ChannelChatBot)
	assert.NotContains(t, res.Failures, models.ChannelInApp)

	got, _ := st.Get(ctx, n.ID)
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.DeliveryStatus.InApp.Sent)
	assert.False(t, got.DeliveryStatus.ChatBot.Sent)
	assert.Contains(t, got.DeliveryStatus.ChatBot.Error, "provider unavailable")
	assert.Equal(t, clock.Now().Add(time.Minute), got.ScheduledAt)
	inAppSentAt := *got.DeliveryStatus.InApp.SentAt

	// Not due until the backoff elapses.
	res, err = d.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, res.Claimed)

	// Round 2: chatBot fails again.
	clock.Advance(time.Minute)
	_, err = d.Dispatch(ctx, n.ID)
	require.NoError(t, err)

	got, _ = st.Get(ctx, n.ID)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, models.StatusPending, got.Status)

	// Round 3: chatBot succeeds.
	clock.Advance(2 * time.Minute)
	res, err = d.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, res.Outcome.Status)

	got, _ = st.Get(ctx, n.ID)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Empty(t, got.DeliveryStatus.ChatBot.Error)
	assert.Equal(t, inAppSentAt, *got.DeliveryStatus.InApp.SentAt)

	assert.Equal(t, 3, chatBot.Calls())
	assert.Equal(t, 1, inApp.Calls(), "delivered channel must not be sent again")
}

func TestDispatch_SingleRetryBudgetFailsTerminally(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	email := &countingSender{failures: 1}
	d := createTestDispatcher(t, st, channel.Registry{models.ChannelEmail: email}, clock)

	n := persist(t, st, createTestNotification(t, clock, models.Channels{Email: true}, 1))
	ctx := context.Background()

	res, err := d.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, res.Outcome.Status)

	got, _ := st.Get(ctx, n.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	clock.Advance(24 * time.Hour)
	res, err = d.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Equal(t, 1, email.Calls())

	again, _ := st.Get(ctx, n.ID)
	assert.Equal(t, got, again)
}

func TestDispatch_TerminalRecordsAreNotTouched(t *testing.T) {
	for _, status := range models.TerminalStatuses {
		t.Run(string(status), func(t *testing.T) {
			clock := newTestClock()
			st := store.NewMemoryStore()
			sender := &countingSender{}
			d := createTestDispatcher(t, st, channel.Registry{models.ChannelInApp: sender}, clock)

			n := createTestNotification(t, clock, models.Channels{InApp: true}, 3)
			n.Status = status
			n = persist(t, st, n)

			res, err := d.Dispatch(context.Background(), n.ID)
			require.NoError(t, err)
			assert.False(t, res.Claimed)
			assert.Equal(t, 0, sender.Calls())
		})
	}
}

func TestDispatch_UnknownID(t *testing.T) {
	clock := newTestClock()
	d := createTestDispatcher(t, store.NewMemoryStore(), channel.Registry{}, clock)

	res, err := d.Dispatch(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, res.Claimed)
}

// ==========================
// Channel Isolation Tests
// ==========================

func TestDispatch_ChannelFaultsAreIsolated(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	tests := []struct {
		name     string
		sender   channel.Sender
		contains string
	}{
		{
			name: "panic",
			sender: channel.SenderFunc(func(ctx context.Context, n *models.Notification) error {
				panic("nil profile")
			}),
			contains: "sender panic",
		},
		{
			name: "hung sender",
			sender: channel.SenderFunc(func(ctx context.Context, n *models.Notification) error {
				<-release
				return nil
			}),
			contains: "timed out",
		},
		{
			name:     "no sender configured",
			sender:   nil,
			contains: "no sender configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			st := store.NewMemoryStore()
			inApp := &countingSender{}
			senders := channel.Registry{models.ChannelInApp: inApp}
			if tt.sender != nil {
				senders[models.ChannelPush] = tt.sender
			}
			d := New(st, senders, Config{
				ChannelTimeout: 50 * time.Millisecond,
				Backoff:        models.ExponentialBackoff(time.Minute, time.Hour),
			}, logger.NewTestLogger(t), WithClock(clock.Now))

			n := persist(t, st, createTestNotification(t, clock, models.Channels{Push: true, InApp: true}, 3))

			res, err := d.Dispatch(context.Background(), n.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Outcome.Succeeded)
			assert.Equal(t, 1, res.Outcome.Failed)

			got, _ := st.Get(context.Background(), n.ID)
			assert.True(t, got.DeliveryStatus.InApp.Sent)
			assert.False(t, got.DeliveryStatus.Push.Sent)
			assert.Contains(t, got.DeliveryStatus.Push.Error, tt.contains)
			assert.Equal(t, models.StatusPending, got.Status)
		})
	}
}

func TestDispatch_SendersRunConcurrently(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()

	var wg sync.WaitGroup
	wg.Add(2)
	rendezvous := channel.SenderFunc(func(ctx context.Context, n *models.Notification) error {
		wg.Done()
		wg.Wait()
		return nil
	})
	d := createTestDispatcher(t, st, channel.Registry{
		models.ChannelChatBot: rendezvous,
		models.ChannelInApp:   rendezvous,
	}, clock)

	n := persist(t, st, createTestNotification(t, clock, models.Channels{ChatBot: true, InApp: true}, 3))

	res, err := d.Dispatch(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, res.Outcome.Status)
}

func TestDispatch_SenderGetsACopy(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	d := createTestDispatcher(t, st, channel.Registry{
		models.ChannelInApp: channel.SenderFunc(func(ctx context.Context, n *models.Notification) error {
			n.Title = "mutated"
			n.Status = models.StatusCancelled
			return nil
		}),
	}, clock)

	n := persist(t, st, createTestNotification(t, clock, models.Channels{InApp: true}, 3))
	_, err := d.Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	got, _ := st.Get(context.Background(), n.ID)
	assert.Equal(t, "New episode", got.Title)
	assert.Equal(t, models.StatusSent, got.Status)
}

// ==========================
// Claim and Cancellation Tests
// ==========================

func TestDispatch_ConcurrentCallsClaimOnce(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()
	sender := &countingSender{}
	d := createTestDispatcher(t, st, channel.Registry{models.ChannelInApp: sender}, clock)
	n := persist(t, st, createTestNotification(t, clock, models.Channels{InApp: true}, 3))

	var claimed int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Dispatch(context.Background(), n.ID)
			if assert.NoError(t, err) && res.Claimed {
				atomic.AddInt32(&claimed, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&claimed))
	assert.Equal(t, 1, sender.Calls())

	got, _ := st.Get(context.Background(), n.ID)
	assert.Equal(t, models.StatusSent, got.Status)
}

func TestDispatch_CallerCancellationStillRecordsRound(t *testing.T) {
	clock := newTestClock()
	st := ctxStore{store.NewMemoryStore()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inApp := &countingSender{}
	d := createTestDispatcher(t, st, channel.Registry{
		models.ChannelInApp: inApp,
		models.ChannelChatBot: channel.SenderFunc(func(sendCtx context.Context, n *models.Notification) error {
			// The caller goes away while this send is still in flight.
			cancel()
			select {
			case <-sendCtx.Done():
				return sendCtx.Err()
			case <-time.After(20 * time.Millisecond):
				return nil
			}
		}),
	}, clock)

	n := persist(t, st, createTestNotification(t, clock, models.Channels{ChatBot: true, InApp: true}, 3))

	res, err := d.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, res.Outcome.Status)
	assert.Equal(t, 2, res.Outcome.Succeeded)

	got, err := st.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.True(t, got.DeliveryStatus.InApp.Sent)
	assert.True(t, got.DeliveryStatus.ChatBot.Sent)
	assert.Equal(t, 1, inApp.Calls())
}

func TestDispatch_SupersededRoundDoesNotOverwrite(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	chatBot := channel.SenderFunc(func(ctx context.Context, n *models.Notification) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
			return errors.New("provider answered late")
		}
		return nil
	})
	d := New(st, channel.Registry{models.ChannelChatBot: chatBot}, Config{
		ChannelTimeout: 5 * time.Second,
		Backoff:        models.ExponentialBackoff(time.Minute, time.Hour),
	}, logger.NewTestLogger(t), WithClock(clock.Now))

	n := persist(t, st, createTestNotification(t, clock, models.Channels{ChatBot: true}, 3))
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(ctx, n.ID)
		firstErr <- err
	}()
	<-entered

	// The first round outlives the stale claim TTL and another worker takes over.
	clock.Advance(11 * time.Minute)
	released, err := st.ReleaseStale(ctx, clock.Now().Add(-10*time.Minute), clock.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, released)

	res, err := d.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	require.True(t, res.Claimed)
	assert.Equal(t, models.StatusSent, res.Outcome.Status)

	close(release)
	assert.ErrorIs(t, <-firstErr, store.ErrStaleUpdate)

	got, err := st.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.True(t, got.DeliveryStatus.ChatBot.Sent)
	assert.Empty(t, got.DeliveryStatus.ChatBot.Error)
	assert.Equal(t, 0, got.RetryCount)
}

// ==========================
// Store Failure Tests
// ==========================

func TestDispatch_StoreFailures(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		validate func(t *testing.T, res *Result, err error, st *store.MemoryStore, id string)
	}{
		{
			name: "claim error",
			op:   store.OpClaim,
			validate: func(t *testing.T, res *Result, err error, st *store.MemoryStore, id string) {
				require.Error(t, err)
				assert.Nil(t, res)
				got, _ := st.Get(context.Background(), id)
				assert.Equal(t, models.StatusPending, got.Status)
			},
		},
		{
			name: "persist error leaves the claim for the stale sweep",
			op:   store.OpUpdate,
			validate: func(t *testing.T, res *Result, err error, st *store.MemoryStore, id string) {
				require.Error(t, err)
				got, _ := st.Get(context.Background(), id)
				assert.Equal(t, models.StatusSending, got.Status)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			st := store.NewMemoryStore()
			d := createTestDispatcher(t, st, channel.Registry{models.ChannelInApp: &countingSender{}}, clock)
			n := persist(t, st, createTestNotification(t, clock, models.Channels{InApp: true}, 3))

			st.FailNext(tt.op, errors.New("connection reset"))
			res, err := d.Dispatch(context.Background(), n.ID)

			tt.validate(t, res, err, st, n.ID)
		})
	}
}

func TestDispatch_CancelledMidRoundIsNotOverwritten(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()

	var id string
	d := createTestDispatcher(t, st, channel.Registry{
		models.ChannelInApp: channel.SenderFunc(func(ctx context.Context, n *models.Notification) error {
			// Simulates a concurrent writer moving the record out of sending.
			released, err := st.ReleaseStale(ctx, clock.Now().Add(time.Second), clock.Now())
			assert.NoError(t, err)
			assert.EqualValues(t, 1, released)
			_, err = st.Cancel(ctx, id, clock.Now())
			assert.NoError(t, err)
			return nil
		}),
	}, clock)

	n := persist(t, st, createTestNotification(t, clock, models.Channels{InApp: true}, 3))
	id = n.ID

	_, err := d.Dispatch(context.Background(), n.ID)
	assert.ErrorIs(t, err, store.ErrStaleUpdate)

	got, _ := st.Get(context.Background(), n.ID)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

// ==========================
// Audit Tests
// ==========================

func TestDispatch_RecordsAttempts(t *testing.T) {
	clock := newTestClock()
	st := store.NewMemoryStore()

	var recorded []audit.Attempt
	d := createTestDispatcher(t, st, channel.Registry{
		models.ChannelChatBot: &countingSender{failures: 1},
		models.ChannelInApp:   &countingSender{},
	}, clock, WithRecorder(recorderFunc(func(ctx context.Context, attempts []audit.Attempt) {
		recorded = append(recorded, attempts...)
	})))

	n := persist(t, st, createTestNotification(t, clock, models.Channels{ChatBot: true, InApp: true}, 3))
	_, err := d.Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	require.Len(t, recorded, 2)
	assert.Equal(t, models.ChannelChatBot, recorded[0].Channel)
	assert.False(t, recorded[0].Success)
	assert.Contains(t, recorded[0].Error, "provider unavailable")
	assert.Equal(t, models.ChannelInApp, recorded[1].Channel)
	assert.True(t, recorded[1].Success)
	assert.Equal(t, 1, recorded[1].RetryCount)
	assert.Equal(t, models.StatusPending, recorded[1].Status)
	assert.Equal(t, "user-1", recorded[1].UserID)
}
