package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"modbot/internal/command"
	"modbot/internal/runtime/supervisor"
	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

// Route binds a command kind to its handler.
type Route struct {
	Kind        command.Kind
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command deadline
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command command.Parsed
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply answers in the originating chat, quoting the command message.
func (r *Request) Reply(ctx context.Context, text string) error {
	opt := &kit.SendOptions{DisablePreview: true}
	if r.Message != nil {
		opt.ReplyTo = r.Message.ID
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

type Options struct {
	AdminID int64
	// DenyText is sent to non-admins that invoke an admin-only route.
	DenyText string
	// BusyText is sent when the job queue is full. Empty means drop silently.
	BusyText  string
	Workers   int
	QueueSize int
}

type CommandManager struct {
	mu     sync.RWMutex
	routes map[command.Kind]Route
	order  []command.Kind

	opt     Options
	log     logx.Logger
	adapter kit.Adapter

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	return &CommandManager{
		routes:  map[command.Kind]Route{},
		opt:     opt,
		log:     log,
		adapter: adapter,
		jobs:    make(chan func(), opt.QueueSize),
	}
}

// SetRoutes replaces the route table. Routes without a handler or with an
// unknown kind are skipped.
func (m *CommandManager) SetRoutes(routes []Route) {
	table := make(map[command.Kind]Route, len(routes))
	order := make([]command.Kind, 0, len(routes))
	for _, r := range routes {
		if r.Handle == nil || r.Kind == command.Unknown {
			continue
		}
		if _, dup := table[r.Kind]; !dup {
			order = append(order, r.Kind)
		}
		table[r.Kind] = r
	}

	m.mu.Lock()
	m.routes = table
	m.order = order
	m.mu.Unlock()
}

func (m *CommandManager) route(k command.Kind) (Route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routes[k]
	return r, ok
}

// Routes returns the route table in registration order.
func (m *CommandManager) Routes() []Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Route, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.routes[k])
	}
	return out
}

// tryEnqueue tolerates the jobs channel being closed during shutdown.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop reads updates until ctx is done or updates is closed. Handlers
// run on a bounded worker pool so a long broadcast does not stall intake.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.opt.Workers
	sup := supervisor.New(ctx,
		supervisor.WithLogger(m.log),
		supervisor.WithCancelOnError(false),
	)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) routeUpdate(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	parsed, ok := command.Parse(msg.Text)
	if !ok {
		return
	}
	r, ok := m.route(parsed.Kind)
	if !ok {
		m.log.Debug("unknown command dropped", logx.String("name", parsed.Name), logx.Int64("from_id", msg.FromID))
		return
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID}
	if r.Access == AccessAdminOnly && msg.FromID != m.opt.AdminID {
		m.log.Info("admin command denied", logx.String("cmd", parsed.Kind.String()), logx.Int64("from_id", msg.FromID))
		if m.opt.DenyText != "" {
			_, _ = m.adapter.SendText(ctx, chat, m.opt.DenyText, &kit.SendOptions{ReplyTo: msg.ID})
		}
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: parsed,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", parsed.Kind.String()),
		),
	}

	final := Chain(
		r.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(r.Timeout),
	)

	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		m.log.Warn("command queue full", logx.String("cmd", parsed.Kind.String()))
		if m.opt.BusyText != "" {
			_, _ = m.adapter.SendText(ctx, chat, m.opt.BusyText, nil)
		}
	}
}
