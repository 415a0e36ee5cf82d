package broadcast

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"modbot/internal/eventbus"
	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

// Sender is the part of the transport the engine needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Job describes one broadcast.
type Job struct {
	Text string
	// Users is the audience in delivery order.
	Users []int64
	// Skip is consulted right before each send; skipped users are neither
	// sent to nor reported as failed.
	Skip func(id int64) bool
}

// Result summarises a finished job.
type Result struct {
	ID      string
	Total   int
	Sent    int
	Skipped int
	// Failed lists recipients whose send failed, in delivery order.
	Failed   []int64
	Started  time.Time
	Duration time.Duration
}

type Service struct {
	sender Sender
	bus    eventbus.Bus
	log    logx.Logger

	seq atomic.Uint64

	mu   sync.Mutex
	last *Result
}

func New(sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{sender: sender, bus: bus, log: log}
}

// Run delivers j.Text to every user of j in order and blocks until done.
//
// Per-recipient failures never abort the loop. When ctx is canceled the
// loop stops and the users not yet reached are reported as failed. A panic
// inside the loop is recovered and returned as an error together with the
// partial result.
func (s *Service) Run(ctx context.Context, j Job) (res Result, err error) {
	res = Result{
		ID:      fmt.Sprintf("bc:%d", s.seq.Add(1)),
		Total:   len(j.Users),
		Started: time.Now(),
	}
	log := s.log.With(logx.String("job", res.ID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in broadcast", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("broadcast %s: panic: %v", res.ID, r)
		}
		res.Duration = time.Since(res.Started)
		s.finish(log, res, err)
	}()

	log.Info("broadcast started", logx.Int("total", res.Total))

	for i, id := range j.Users {
		if ctx.Err() != nil {
			rest := j.Users[i:]
			log.Warn("broadcast interrupted", logx.Int("remaining", len(rest)), logx.Err(ctx.Err()))
			res.Failed = append(res.Failed, rest...)
			break
		}
		if j.Skip != nil && j.Skip(id) {
			res.Skipped++
			continue
		}
		if _, serr := s.sender.SendText(ctx, kit.UserTarget(id), j.Text, nil); serr != nil {
			log.Warn("broadcast send failed", logx.Int64("user_id", id), logx.Err(serr))
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Sent++
		log.Debug("broadcast delivered", logx.Int64("user_id", id))
	}
	return res, nil
}

func (s *Service) finish(log logx.Logger, res Result, err error) {
	s.mu.Lock()
	cp := res
	cp.Failed = append([]int64(nil), res.Failed...)
	s.last = &cp
	s.mu.Unlock()

	fields := []logx.Field{
		logx.Int("total", res.Total),
		logx.Int("sent", res.Sent),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", len(res.Failed)),
		logx.Duration("dur", res.Duration),
	}
	switch {
	case err != nil:
		log.Error("broadcast aborted", append(fields, logx.Err(err))...)
	case len(res.Failed) > 0:
		log.Warn("broadcast finished with failures", fields...)
	default:
		log.Info("broadcast finished", fields...)
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.BroadcastFinished, Data: cp})
}

// Last returns the most recent result, if any.
func (s *Service) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	cp := *s.last
	cp.Failed = append([]int64(nil), s.last.Failed...)
	return cp, true
}
