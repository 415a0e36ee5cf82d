package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "modbot/pkg/logx"
)

var (
	ErrNameRequired = errors.New("scheduler: name required")
	ErrJobRequired  = errors.New("scheduler: job required")
)

// Job is the unit of work. ctx is canceled when the scheduler stops.
type Job func(ctx context.Context) error

type onceTask struct {
	at    time.Time
	ver   uint64
	timer *time.Timer
}

type Service struct {
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	c      *cron.Cron
	crons  map[string]cron.EntryID

	tmu    sync.Mutex
	once   map[string]*onceTask
	verSeq uint64
}

// TaskInfo describes a pending one-shot task.
type TaskInfo struct {
	Name string
	At   time.Time
}

func New(log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		log:    log,
		parser: newParser(),
		ctx:    ctx,
		cancel: cancel,
		crons:  map[string]cron.EntryID{},
		once:   map[string]*onceTask{},
	}
}

// newParser accepts 5-field and 6-field (seconds) specs plus descriptors
// such as "@hourly" and "@every 30m".
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidateSpec reports whether spec is a cron expression the scheduler accepts.
func ValidateSpec(spec string) error {
	if _, err := newParser().Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Start binds job contexts to ctx and starts cron triggering.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(time.Local))
	s.c.Start()
	s.log.Info("scheduler started")
}

// Stop stops cron triggering, drops every pending one-shot task and cancels
// running jobs.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.crons = map[string]cron.EntryID{}
	s.cancel()
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	dropped := len(s.once)
	for _, t := range s.once {
		t.timer.Stop()
	}
	s.once = map[string]*onceTask{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Int("dropped_tasks", dropped))
}

func (s *Service) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// AddOnce schedules job to run once at the given time, replacing any pending
// task with the same name. A time in the past runs the job immediately.
func (s *Service) AddOnce(name string, at time.Time, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if job == nil {
		return ErrJobRequired
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()

	if prev, ok := s.once[name]; ok {
		prev.timer.Stop()
	}
	s.verSeq++
	ver := s.verSeq
	delay := max(time.Until(at), 0)

	t := &onceTask{at: at, ver: ver}
	t.timer = time.AfterFunc(delay, func() { s.fireOnce(name, ver, job) })
	s.once[name] = t

	s.log.Debug("task scheduled", logx.String("name", name), logx.Time("at", at))
	return nil
}

func (s *Service) fireOnce(name string, ver uint64, job Job) {
	s.tmu.Lock()
	cur, ok := s.once[name]
	if !ok || cur.ver != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.once, name)
	s.tmu.Unlock()

	s.run(name, job)
}

// AddCron registers a recurring job. Re-adding a name replaces the previous entry.
func (s *Service) AddCron(name, spec string, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if job == nil {
		return ErrJobRequired
	}
	sched, err := s.parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("scheduler: not started")
	}
	if id, ok := s.crons[name]; ok {
		s.c.Remove(id)
	}
	s.crons[name] = s.c.Schedule(sched, cron.FuncJob(func() { s.run(name, job) }))
	s.log.Debug("cron scheduled", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Remove cancels a one-shot task or a cron entry. It reports whether
// anything was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	removed := false

	s.tmu.Lock()
	if t, ok := s.once[name]; ok {
		t.timer.Stop()
		delete(s.once, name)
		removed = true
	}
	s.tmu.Unlock()

	s.mu.Lock()
	if id, ok := s.crons[name]; ok && s.c != nil {
		s.c.Remove(id)
		delete(s.crons, name)
		removed = true
	}
	s.mu.Unlock()

	if removed {
		s.log.Debug("task removed", logx.String("name", name))
	}
	return removed
}

// Pending lists one-shot tasks ordered by due time.
func (s *Service) Pending() []TaskInfo {
	s.tmu.Lock()
	out := make([]TaskInfo, 0, len(s.once))
	for name, t := range s.once {
		out = append(out, TaskInfo{Name: name, At: t.at})
	}
	s.tmu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Service) run(name string, job Job) {
	ctx := s.jobContext()
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if err := job(ctx); err != nil {
		s.log.Warn("task failed", logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("task done", logx.String("name", name), logx.Duration("took", time.Since(start)))
}
