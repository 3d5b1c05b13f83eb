package app

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stresspulse/internal/broadcast"
	"github.com/pscheid92/stresspulse/internal/cooldown"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const (
	regularCooldown     = time.Hour
	superstressCooldown = 24 * time.Hour
	receiveTimeout      = 2 * time.Second
	quietPeriod         = 100 * time.Millisecond
)

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// recordingTransport collects text frames written by the registry.
type recordingTransport struct {
	mu       sync.Mutex
	closed   bool
	received chan string
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{received: make(chan string, 64)}
}

func (f *recordingTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return net.ErrClosed
	}
	if messageType == ws.TextMessage {
		f.received <- string(data)
	}
	return nil
}

func (f *recordingTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *recordingTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *recordingTransport) next(t *testing.T) string {
	t.Helper()
	select {
	case frame := <-f.received:
		return frame
	case <-time.After(receiveTimeout):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func (f *recordingTransport) assertNothingPending(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.received:
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(quietPeriod):
	}
}

type staticText string

func (s staticText) Text(context.Context, string, int, bool) string { return string(s) }

type harness struct {
	service  *Service
	store    *memstore.Store
	clock    *clockwork.FakeClock
	registry *broadcast.Registry
}

func newHarness(t *testing.T, store domain.ReadingStore) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	mem := memstore.New(clock)
	if store == nil {
		store = mem
	}

	// Real clock and a long heartbeat keep pings out of the assertions.
	registry := broadcast.NewRegistry(broadcast.Options{HeartbeatInterval: time.Hour})
	t.Cleanup(registry.Stop)

	summaries := NewSummarizer(store, clock, 24*time.Hour, time.Hour)
	svc := NewService(
		mem,
		store,
		memstore.NewSessions(clock),
		cooldown.NewGate(store, regularCooldown, superstressCooldown),
		summaries,
		NewDispatcher(registry, summaries),
		staticText("Deep breaths."),
		Options{SessionTTL: time.Hour, StatsWindow: 24 * time.Hour},
	)
	return &harness{service: svc, store: mem, clock: clock, registry: registry}
}

func (h *harness) user(t *testing.T, name string) *domain.User {
	t.Helper()
	u, err := h.store.Upsert(context.Background(), name)
	require.NoError(t, err)
	return u
}

func (h *harness) submit(t *testing.T, u *domain.User, level int) SubmitResult {
	t.Helper()
	res, err := h.service.SubmitRegular(context.Background(), u.ID, level)
	require.NoError(t, err)
	return res
}

func TestSubmitRegular_CooldownRejectThenAccept(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.user(t, "alice")

	first := h.submit(t, alice, 40)
	require.True(t, first.Accepted())
	assert.Equal(t, 40, first.Reading.Level)
	assert.False(t, first.Reading.IsSuperstress)

	h.clock.Advance(10 * time.Minute)
	second := h.submit(t, alice, 41)
	assert.False(t, second.Accepted())
	assert.False(t, second.Decision.CanSubmit)
	assert.Equal(t, 50*time.Minute, second.Decision.TimeRemaining)
	assert.Greater(t, second.Decision.TimeRemaining, time.Duration(0))
	assert.LessOrEqual(t, second.Decision.TimeRemaining, regularCooldown)
	require.NotNil(t, second.Decision.LastReading)
	assert.Equal(t, first.Reading.ID, second.Decision.LastReading.ID)

	h.clock.Advance(50 * time.Minute)
	third := h.submit(t, alice, 41)
	assert.True(t, third.Accepted())
	assert.True(t, third.Decision.CanSubmit)
}

func TestSubmit_SuperstressCooldownIsIndependent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	bob := h.user(t, "bob")

	require.True(t, h.submit(t, bob, 10).Accepted())

	super, err := h.service.SubmitSuperstress(ctx, bob.ID)
	require.NoError(t, err)
	require.True(t, super.Accepted())
	assert.Equal(t, domain.SuperstressLevel, super.Reading.Level)
	assert.True(t, super.Reading.IsSuperstress)

	again, err := h.service.SubmitSuperstress(ctx, bob.ID)
	require.NoError(t, err)
	assert.False(t, again.Accepted())
	assert.Equal(t, superstressCooldown, again.Decision.TimeRemaining)

	// The superstress reading is the latest reading, so it also holds the
	// regular cooldown; a regular one never holds the superstress cooldown.
	h.clock.Advance(regularCooldown)
	assert.True(t, h.submit(t, bob, 20).Accepted())

	h.clock.Advance(superstressCooldown - regularCooldown)
	again, err = h.service.SubmitSuperstress(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, again.Accepted())
}

func TestSubmitRegular_InvalidLevel(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.user(t, "alice")

	for _, level := range []int{-1, 101, domain.SuperstressLevel} {
		_, err := h.service.SubmitRegular(context.Background(), alice.ID, level)
		assert.ErrorIs(t, err, domain.ErrInvalidLevel, "level %d", level)
	}
}

func TestSubmit_UnknownUser(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.service.SubmitSuperstress(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSummary_AverageOfLatest(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	alice, bob, carol := h.user(t, "alice"), h.user(t, "bob"), h.user(t, "carol")
	h.submit(t, alice, 90)
	h.clock.Advance(regularCooldown)
	h.submit(t, alice, 20)
	h.submit(t, bob, 80)

	summary, err := h.service.Summary(ctx)
	require.NoError(t, err)
	assert.Len(t, summary.Users, 2)
	assert.InDelta(t, 50.0, summary.AverageStressLevel, 1e-9)

	h.submit(t, carol, 0)
	summary, err = h.service.Summary(ctx)
	require.NoError(t, err)
	assert.Len(t, summary.Users, 3)
	assert.InDelta(t, 33.33, summary.AverageStressLevel, 0.01)
	assert.True(t, epoch.Add(regularCooldown).Equal(summary.LastUpdated))
	assert.NotEmpty(t, summary.TimeBasedAverages)
}

func TestSummary_Empty(t *testing.T) {
	h := newHarness(t, nil)

	summary, err := h.service.Summary(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, summary.Users)
	assert.NotNil(t, summary.TimeBasedAverages)
	assert.Zero(t, summary.AverageStressLevel)
}

func TestDispatch_AnonymousReceivesUpdateThenSummary(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")
	h.submit(t, alice, 20)

	viewer := newRecordingTransport()
	require.NoError(t, h.registry.RegisterAnonymous(viewer, broadcast.Welcome{}))

	res := h.submit(t, bob, 80)
	require.True(t, res.Accepted())

	update := viewer.next(t)
	assert.Equal(t, broadcast.TypeStressUpdate, gjson.Get(update, "type").String())
	assert.Equal(t, res.Reading.ID, gjson.Get(update, "data.id").Int())
	assert.Equal(t, "bob", gjson.Get(update, "data.username").String())
	assert.Equal(t, int64(80), gjson.Get(update, "data.stressLevel").Int())
	assert.Equal(t, "Deep breaths.", gjson.Get(update, "data.funnyMessage").String())

	summary := viewer.next(t)
	assert.Equal(t, broadcast.TypeSummaryUpdate, gjson.Get(summary, "type").String())
	assert.InDelta(t, 50.0, gjson.Get(summary, "data.averageStressLevel").Float(), 1e-9)
	assert.Len(t, gjson.Get(summary, "data.users").Array(), 2)

	viewer.assertNothingPending(t)
}

func TestDispatch_ExcludesSubmitterFromIdentifiedBroadcast(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob := h.user(t, "alice"), h.user(t, "bob")

	aliceTab1, aliceTab2 := newRecordingTransport(), newRecordingTransport()
	bobTab := newRecordingTransport()
	require.NoError(t, h.registry.RegisterIdentified(alice.ID, aliceTab1, broadcast.Welcome{}))
	require.NoError(t, h.registry.RegisterIdentified(alice.ID, aliceTab2, broadcast.Welcome{}))
	require.NoError(t, h.registry.RegisterIdentified(bob.ID, bobTab, broadcast.Welcome{}))

	h.submit(t, alice, 55)

	update := bobTab.next(t)
	assert.Equal(t, broadcast.TypeStressUpdate, gjson.Get(update, "type").String())
	assert.Equal(t, alice.ID.String(), gjson.Get(update, "data.userId").String())

	// Identified subscribers never get the summary channel.
	bobTab.assertNothingPending(t)
	aliceTab1.assertNothingPending(t)
	aliceTab2.assertNothingPending(t)
}

func TestDispatch_RejectedSubmissionBroadcastsNothing(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.user(t, "alice")
	h.submit(t, alice, 30)

	viewer := newRecordingTransport()
	require.NoError(t, h.registry.RegisterAnonymous(viewer, broadcast.Welcome{}))

	assert.False(t, h.submit(t, alice, 31).Accepted())
	viewer.assertNothingPending(t)
}

// flakyStore fails selected operations on top of the in-memory store.
type flakyStore struct {
	*memstore.Store
	insertErr  error
	summaryErr error
}

func (f *flakyStore) InsertGated(ctx context.Context, r domain.NewReading, admit domain.AdmitFunc) (*domain.Reading, domain.CooldownDecision, error) {
	if f.insertErr != nil {
		return nil, domain.CooldownDecision{}, f.insertErr
	}
	return f.Store.InsertGated(ctx, r, admit)
}

func (f *flakyStore) GlobalLatestPerUser(ctx context.Context) ([]domain.UserLatest, error) {
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	return f.Store.GlobalLatestPerUser(ctx)
}

func TestSubmit_StoreFailurePropagates(t *testing.T) {
	flaky := &flakyStore{insertErr: errors.New("connection reset")}
	h := newHarness(t, flaky)
	flaky.Store = h.store

	viewer := newRecordingTransport()
	require.NoError(t, h.registry.RegisterAnonymous(viewer, broadcast.Welcome{}))

	_, err := h.service.SubmitRegular(context.Background(), h.user(t, "alice").ID, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert regular reading")
	viewer.assertNothingPending(t)
	assert.Equal(t, 1, h.registry.Stats().AnonymousHandles)
}

func TestSubmit_SummaryFailureKeepsWrite(t *testing.T) {
	flaky := &flakyStore{summaryErr: errors.New("query timeout")}
	h := newHarness(t, flaky)
	flaky.Store = h.store

	viewer := newRecordingTransport()
	require.NoError(t, h.registry.RegisterAnonymous(viewer, broadcast.Welcome{}))

	res, err := h.service.SubmitRegular(context.Background(), h.user(t, "alice").ID, 10)
	require.NoError(t, err)
	assert.True(t, res.Accepted())

	assert.Equal(t, broadcast.TypeStressUpdate, gjson.Get(viewer.next(t), "type").String())
	viewer.assertNothingPending(t)
}

func TestSubmit_CancelledRequestStillDispatches(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.user(t, "alice")

	viewer := newRecordingTransport()
	require.NoError(t, h.registry.RegisterAnonymous(viewer, broadcast.Welcome{}))

	// A memstore insert ignores ctx, so only the dispatch sees the cancellation.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.service.SubmitRegular(ctx, alice.ID, 10)
	require.NoError(t, err)
	require.True(t, res.Accepted())

	assert.Equal(t, broadcast.TypeStressUpdate, gjson.Get(viewer.next(t), "type").String())
	assert.Equal(t, broadcast.TypeSummaryUpdate, gjson.Get(viewer.next(t), "type").String())
}

func TestCooldownStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.user(t, "alice")

	status, err := h.service.CooldownStatus(ctx, domain.KindRegular, alice.ID)
	require.NoError(t, err)
	assert.True(t, status.CanSubmit)

	h.submit(t, alice, 10)
	h.clock.Advance(15 * time.Minute)

	status, err = h.service.CooldownStatus(ctx, domain.KindRegular, alice.ID)
	require.NoError(t, err)
	assert.False(t, status.CanSubmit)
	assert.Equal(t, 45*time.Minute, status.TimeRemaining)

	status, err = h.service.CooldownStatus(ctx, domain.KindSuperstress, alice.ID)
	require.NoError(t, err)
	assert.True(t, status.CanSubmit)
}

func TestUserStats(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	alice := h.user(t, "alice")

	stats, err := h.service.UserStats(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, stats.Latest)
	assert.Zero(t, stats.WindowAverage.Count)
	assert.Equal(t, 24.0, stats.WindowHours)

	h.submit(t, alice, 30)
	h.clock.Advance(regularCooldown)
	h.submit(t, alice, 50)

	stats, err = h.service.UserStats(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, stats.Latest)
	assert.Equal(t, 50, stats.Latest.Level)
	assert.Equal(t, 2, stats.WindowAverage.Count)
	assert.InDelta(t, 40.0, stats.WindowAverage.Average, 1e-9)
}

func TestLoginAuthenticateLogout(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	user, token, err := h.service.Login(ctx, "  Alice ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Username)
	assert.NotEmpty(t, token)

	again, _, err := h.service.Login(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	resolved, err := h.service.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	require.NoError(t, h.service.Logout(ctx, token))
	_, err = h.service.Authenticate(ctx, token)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestLogin_InvalidUsername(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.service.Login(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidUsername)
}
