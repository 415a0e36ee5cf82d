package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SendFunc delivers a plain text message to a chat.
type SendFunc func(ctx context.Context, chatID int64, text string) error

const adminMessageLimit = 3500

// adminSink forwards log lines to the admin chat. Writes never block:
// lines over the rate limit or over the queue capacity are dropped.
type adminSink struct {
	send   SendFunc
	chatID int64

	mu       sync.Mutex
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue  chan string
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAdminSink(send SendFunc, chatID int64) *adminSink {
	if send == nil || chatID == 0 {
		return nil
	}
	return &adminSink{
		send:     send,
		chatID:   chatID,
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan string, 64),
	}
}

func (w *adminSink) configure(min zerolog.Level, rps int) {
	if rps < 1 {
		rps = 1
	}
	w.mu.Lock()
	w.minLevel = min
	w.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	w.mu.Unlock()

	w.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.run(ctx)
		}()
	})
}

func (w *adminSink) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.queue:
			_ = w.send(ctx, w.chatID, msg)
		}
	}
}

func (w *adminSink) close() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		w.wg.Wait()
	}
}

func (w *adminSink) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *adminSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	w.mu.Lock()
	min := w.minLevel
	lim := w.limiter
	w.mu.Unlock()

	if level < min || !lim.Allow() {
		return len(p), nil
	}
	msg := formatAdminLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case w.queue <- msg:
	default:
	}
	return len(p), nil
}

// formatAdminLine renders a zerolog JSON line as "[LEVEL] message" followed
// by one "- key=value" line per field, sorted by key.
func formatAdminLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), adminMessageLimit)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- " + k + "=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}
	return truncate(b.String(), adminMessageLimit)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	suffix := "..."
	if n < 10 {
		suffix = ""
	}
	cut := n - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
