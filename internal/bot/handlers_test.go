package bot

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modbot/internal/broadcast"
	"modbot/internal/eventbus"
	"modbot/internal/moderation"
	"modbot/internal/scheduler"
	kit "modbot/internal/transport"
	"modbot/internal/transport/telegram/router"
	logx "modbot/pkg/logx"
)

const adminID = int64(1000)

type sent struct {
	chat    int64
	text    string
	replyTo int
}

// recorder is an in-memory adapter. Sends to ids in fail return an error.
type recorder struct {
	mu   sync.Mutex
	fail map[int64]bool
	all  []sent
	out  chan sent
}

func newRecorder() *recorder {
	return &recorder{fail: map[int64]bool{}, out: make(chan sent, 64)}
}

func (r *recorder) Start(context.Context, chan<- kit.Update) error { return nil }
func (r *recorder) Stop(context.Context) error                     { return nil }

func (r *recorder) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	s := sent{chat: to.ChatID, text: text}
	if opt != nil {
		s.replyTo = opt.ReplyTo
	}
	r.mu.Lock()
	failing := r.fail[to.ChatID]
	if !failing {
		r.all = append(r.all, s)
	}
	r.mu.Unlock()
	if failing {
		return kit.MessageRef{}, errors.New("forbidden: bot was blocked by the user")
	}
	r.out <- s
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (r *recorder) broadcastsTo() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int64
	for _, s := range r.all {
		if s.replyTo == 0 {
			ids = append(ids, s.chat)
		}
	}
	return ids
}

type fakeTimers struct {
	mu   sync.Mutex
	jobs map[string]scheduler.Job
}

func (f *fakeTimers) AddOnce(name string, _ time.Time, job scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[name] = job
	return nil
}

func (f *fakeTimers) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	return ok
}

func (f *fakeTimers) fire(t *testing.T, name string) {
	t.Helper()
	f.mu.Lock()
	job, ok := f.jobs[name]
	delete(f.jobs, name)
	f.mu.Unlock()
	require.True(t, ok, "no pending task %s", name)
	require.NoError(t, job(context.Background()))
}

func (f *fakeTimers) pending(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	return ok
}

type harness struct {
	t       *testing.T
	rec     *recorder
	timers  *fakeTimers
	state   *moderation.State
	updates chan kit.Update
	msgID   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rec := newRecorder()
	timers := &fakeTimers{jobs: map[string]scheduler.Job{}}
	bus := eventbus.New()
	state := moderation.NewState(timers, bus, logx.Nop())

	h := &Handlers{
		State:     state,
		Broadcast: broadcast.New(rec, bus, logx.Nop()),
		AdminID:   adminID,
		Sender:    rec,
		Log:       logx.Nop(),
	}
	m := router.NewCommandManager(logx.Nop(), rec, router.Options{AdminID: adminID, DenyText: DenyText, Workers: 1})
	m.SetRoutes(h.Routes())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{t: t, rec: rec, timers: timers, state: state, updates: updates}
}

// send delivers text from user id and returns the reply it gets.
func (h *harness) send(from int64, text string) string {
	h.t.Helper()
	h.msgID++
	id := h.msgID
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: id, ChatID: from, FromID: from, FromFirstName: "Ann", Text: text,
	}}
	return h.nextReply(id)
}

func (h *harness) nextReply(msgID int) string {
	h.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.rec.out:
			if s.replyTo == msgID {
				return s.text
			}
		case <-deadline:
			h.t.Fatalf("no reply to message %d", msgID)
			return ""
		}
	}
}

func TestStartRegistersOnce(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, "Welcome, Ann! Glad to see you.", h.send(1, "/start"))
	require.Equal(t, "You are already registered, Ann!", h.send(1, "/start"))
	require.Equal(t, []int64{1}, h.state.Users.Snapshot())
}

func TestHelpDependsOnRole(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, textUserHelp, h.send(1, "/help"))
	require.Equal(t, textAdminHelp, h.send(adminID, "/help"))
}

func TestInfoWithoutUsername(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, "Name: Ann\nYour ID: 5\nUsername: @none", h.send(5, "/info"))
}

func TestInfoWithUsername(t *testing.T) {
	require.Equal(t, "Name: Bob\nYour ID: 6\nUsername: @bob", infoText("Bob", 6, "bob"))
}

func TestAdminCommandsDeniedWithoutMutation(t *testing.T) {
	h := newHarness(t)

	for _, cmd := range []string{"/admin", "/ban 7", "/unban 7", "/banned_users", "/broadcast hi"} {
		require.Equal(t, textDenied, h.send(2, cmd), cmd)
	}
	require.False(t, h.state.IsBanned(7))
	require.Empty(t, h.rec.broadcastsTo())
}

func TestAdminPanel(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, textAdminPanel, h.send(adminID, "/admin"))
}

func TestBanUsage(t *testing.T) {
	h := newHarness(t)
	for _, cmd := range []string{"/ban", "/ban abc", "/ban 5 x", "/ban 5 -1", "/ban 5 307445735", "/ban 6 153722868"} {
		require.Equal(t, textBanUsage, h.send(adminID, cmd), cmd)
	}
	require.Empty(t, h.state.BannedIDs())
}

func TestPermanentBanAndCheck(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, "User 123 has been banned.", h.send(adminID, "/ban 123"))
	require.False(t, h.timers.pending("ban.expire.123"))
	require.Equal(t, textBlocked, h.send(123, "/check"))
	require.Equal(t, textNotBlocked, h.send(124, "/check"))
}

func TestTimedBanExpiresWithNotice(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, "User 123 has been banned.", h.send(adminID, "/ban 123 5 extra tokens"))
	banMsg := h.msgID
	require.True(t, h.timers.pending("ban.expire.123"))
	require.Equal(t, textBlocked, h.send(123, "/check"))

	h.timers.fire(t, "ban.expire.123")

	require.Equal(t, "User 123 was automatically unbanned after 5 minutes.", h.nextReply(banMsg))
	require.False(t, h.state.IsBanned(123))
	require.Equal(t, textNotBlocked, h.send(123, "/check"))
}

func TestZeroMinutesIsPermanent(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, "User 9 has been banned.", h.send(adminID, "/ban 9 0"))
	require.False(t, h.timers.pending("ban.expire.9"))
	require.True(t, h.state.IsBanned(9))
}

func TestUnbanCancelsExpiry(t *testing.T) {
	h := newHarness(t)

	h.send(adminID, "/ban 123 5")
	require.Equal(t, "User 123 has been unbanned.", h.send(adminID, "/unban 123"))
	require.False(t, h.state.IsBanned(123))
	require.False(t, h.timers.pending("ban.expire.123"))
}

func TestUnbanAbsentAndUsage(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, "User 55 has been unbanned.", h.send(adminID, "/unban 55"))
	require.Equal(t, textUnbanUsage, h.send(adminID, "/unban"))
	require.Equal(t, textUnbanUsage, h.send(adminID, "/unban x"))
}

func TestBannedUsersList(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, textBannedEmpty, h.send(adminID, "/banned_users"))
	h.send(adminID, "/ban 30")
	h.send(adminID, "/ban 4")
	require.Equal(t, "Banned users:\n4\n30", h.send(adminID, "/banned_users"))
}

func TestBroadcastUsageAndEmptyRegistry(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, textBroadcastUsage, h.send(adminID, "/broadcast"))
	require.Equal(t, textBroadcastUsage, h.send(adminID, "/broadcast    "))
	require.Equal(t, textNoRecipients, h.send(adminID, "/broadcast hi"))
}

func TestBroadcastSkipsBannedAndReportsFailures(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int64{1, 2, 3} {
		h.send(id, "/start")
	}
	h.send(adminID, "/ban 2")
	h.rec.mu.Lock()
	h.rec.fail[3] = true
	h.rec.mu.Unlock()

	require.Equal(t, "Message sent. Failed to deliver to: 3", h.send(adminID, "/broadcast hello all"))
	require.Equal(t, []int64{1}, h.rec.broadcastsTo())
}

func TestBroadcastAllDelivered(t *testing.T) {
	h := newHarness(t)
	h.send(1, "/start")
	h.send(2, "/start")

	require.Equal(t, "Message sent.", h.send(adminID, "/broadcast hi"))
	require.Equal(t, []int64{1, 2}, h.rec.broadcastsTo())
}

func TestBannedUserStillGetsCommands(t *testing.T) {
	h := newHarness(t)
	h.send(adminID, "/ban 8")
	require.Equal(t, "Welcome, Ann! Glad to see you.", h.send(8, "/start"))
}

func TestParseBanArgs(t *testing.T) {
	id, minutes, ok := parseBanArgs([]string{"12", "3", "junk"})
	require.True(t, ok)
	require.Equal(t, int64(12), id)
	require.Equal(t, 3, minutes)

	_, _, ok = parseBanArgs([]string{"99999999999999999999"})
	require.False(t, ok)

	for _, minutes := range []string{"307445735", "153722868"} {
		_, _, ok = parseBanArgs([]string{"5", minutes})
		require.False(t, ok, minutes)
	}

	_, minutes, ok = parseBanArgs([]string{"5", strconv.FormatInt(maxBanMinutes, 10)})
	require.True(t, ok)
	require.Positive(t, time.Duration(minutes)*time.Minute)
}

func TestBroadcastSummaryText(t *testing.T) {
	require.Equal(t, "Message sent.", broadcastSummaryText(nil))
	require.Equal(t, "Message sent. Failed to deliver to: 1, 2", broadcastSummaryText([]int64{1, 2}))
}
