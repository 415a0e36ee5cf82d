package moderation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modbot/internal/eventbus"
	"modbot/internal/scheduler"
	logx "modbot/pkg/logx"
)

// fakeTimers records scheduled tasks; tests fire them by hand.
type fakeTimers struct {
	mu    sync.Mutex
	tasks map[string]fakeTask
}

type fakeTask struct {
	at  time.Time
	job scheduler.Job
}

func newFakeTimers() *fakeTimers { return &fakeTimers{tasks: map[string]fakeTask{}} }

func (f *fakeTimers) AddOnce(name string, at time.Time, job scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[name] = fakeTask{at: at, job: job}
	return nil
}

func (f *fakeTimers) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[name]
	delete(f.tasks, name)
	return ok
}

func (f *fakeTimers) task(name string) (fakeTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[name]
	return t, ok
}

// fire runs a pending task the way the scheduler would.
func (f *fakeTimers) fire(t *testing.T, name string) {
	t.Helper()
	f.mu.Lock()
	task, ok := f.tasks[name]
	delete(f.tasks, name)
	f.mu.Unlock()
	require.True(t, ok, "task %s not scheduled", name)
	require.NoError(t, task.job(context.Background()))
}

func newTestState(timers Timers) *State {
	return NewState(timers, eventbus.New(), logx.Nop())
}

func TestRegisterIsIdempotent(t *testing.T) {
	st := newTestState(newFakeTimers())

	require.True(t, st.Register(10))
	require.False(t, st.Register(10))
	require.True(t, st.Register(11))

	require.Equal(t, []int64{10, 11}, st.Users.Snapshot())
	require.Equal(t, 2, st.Users.Len())
}

func TestTimedBanExpires(t *testing.T) {
	timers := newFakeTimers()
	st := newTestState(timers)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	st.Bans.now = func() time.Time { return now }

	var expired []int64
	require.NoError(t, st.Ban(123, 5*time.Minute, func(_ context.Context, id int64) {
		expired = append(expired, id)
	}))
	require.True(t, st.IsBanned(123))

	task, ok := timers.task("ban.expire.123")
	require.True(t, ok)
	require.Equal(t, now.Add(5*time.Minute), task.at)

	timers.fire(t, "ban.expire.123")
	require.False(t, st.IsBanned(123))
	require.Equal(t, []int64{123}, expired)
}

func TestPermanentBanStaysUntilUnban(t *testing.T) {
	timers := newFakeTimers()
	st := newTestState(timers)

	require.NoError(t, st.Ban(123, 0, nil))
	_, scheduled := timers.task("ban.expire.123")
	require.False(t, scheduled)
	require.True(t, st.IsBanned(123))

	require.True(t, st.Unban(123))
	require.False(t, st.IsBanned(123))
}

func TestUnbanCancelsPendingExpiry(t *testing.T) {
	timers := newFakeTimers()
	st := newTestState(timers)

	require.NoError(t, st.Ban(5, time.Minute, func(context.Context, int64) {
		t.Fatal("expiry must not run after unban")
	}))
	require.True(t, st.Unban(5))

	_, ok := timers.task("ban.expire.5")
	require.False(t, ok)
}

func TestUnbanUnknownIsNoop(t *testing.T) {
	st := newTestState(newFakeTimers())
	require.False(t, st.Unban(999))
	require.Empty(t, st.BannedIDs())
}

func TestPermanentRebanCancelsExpiry(t *testing.T) {
	timers := newFakeTimers()
	st := newTestState(timers)

	require.NoError(t, st.Ban(7, time.Minute, nil))
	require.NoError(t, st.Ban(7, 0, nil))

	_, ok := timers.task("ban.expire.7")
	require.False(t, ok)
	require.True(t, st.IsBanned(7))
	require.True(t, st.Bans.List()[0].Permanent())
}

func TestStaleExpiryDoesNotLiftNewBan(t *testing.T) {
	timers := newFakeTimers()
	st := newTestState(timers)

	require.NoError(t, st.Ban(8, time.Minute, nil))
	stale, _ := timers.task("ban.expire.8")

	require.NoError(t, st.Ban(8, time.Hour, nil))
	require.NoError(t, stale.job(context.Background()))

	require.True(t, st.IsBanned(8))
}

func TestNegativeDurationRejected(t *testing.T) {
	st := newTestState(newFakeTimers())
	require.ErrorIs(t, st.Ban(1, -time.Second, nil), ErrNegativeDuration)
	require.False(t, st.IsBanned(1))
}

func TestBanWithoutRegistration(t *testing.T) {
	st := newTestState(newFakeTimers())
	require.NoError(t, st.Ban(42, 0, nil))
	require.True(t, st.IsBanned(42))
	require.False(t, st.Users.Contains(42))
}

func TestRecipientsSkipBannedInRegistrationOrder(t *testing.T) {
	st := newTestState(newFakeTimers())
	for _, id := range []int64{3, 1, 2} {
		st.Register(id)
	}
	require.NoError(t, st.Ban(1, 0, nil))

	require.Equal(t, []int64{3, 2}, st.Recipients())
}

func TestBannedIDsSorted(t *testing.T) {
	st := newTestState(newFakeTimers())
	require.NoError(t, st.Ban(9, 0, nil))
	require.NoError(t, st.Ban(7, 0, nil))

	require.Equal(t, []int64{7, 9}, st.BannedIDs())
}

func TestStats(t *testing.T) {
	st := newTestState(newFakeTimers())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.Bans.now = func() time.Time { return now }
	st.Register(1)
	require.NoError(t, st.Ban(2, 0, nil))
	require.NoError(t, st.Ban(3, 2*time.Hour, nil))
	require.NoError(t, st.Ban(4, time.Hour, nil))

	got := st.Stats()

	require.Equal(t, Stats{Users: 1, Banned: 3, TimedBans: 2, Permanent: 1, NextExpiry: now.Add(time.Hour)}, got)
}

func TestEventsPublished(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	timers := newFakeTimers()
	st := NewState(timers, bus, logx.Nop())

	st.Register(1)
	require.NoError(t, st.Ban(1, time.Minute, nil))
	timers.fire(t, "ban.expire.1")

	require.Equal(t, eventbus.UserRegistered, (<-events).Type)
	require.Equal(t, eventbus.UserBanned, (<-events).Type)
	require.Equal(t, eventbus.BanExpired, (<-events).Type)
}

func TestBansWithRealScheduler(t *testing.T) {
	sched := scheduler.New(logx.Nop())
	st := newTestState(sched)
	done := make(chan int64, 1)

	require.NoError(t, st.Ban(77, 20*time.Millisecond, func(_ context.Context, id int64) { done <- id }))

	select {
	case id := <-done:
		require.Equal(t, int64(77), id)
	case <-time.After(time.Second):
		t.Fatal("ban did not expire")
	}
	require.False(t, st.IsBanned(77))
}
