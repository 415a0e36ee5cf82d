package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"modbot/internal/scheduler"
)

var ErrNegativeDuration = errors.New("ban duration must not be negative")

// Timers schedules cancellable one-shot tasks by name.
type Timers interface {
	AddOnce(name string, at time.Time, job scheduler.Job) error
	Remove(name string) bool
}

// Ban is a snapshot of one ban entry. A zero Until means permanent.
type Ban struct {
	UserID int64
	Until  time.Time
}

func (b Ban) Permanent() bool { return b.Until.IsZero() }

type banEntry struct {
	until time.Time
	task  string // pending expiry task name, empty when permanent
	gen   uint64
}

// Bans is the set of banned user ids. Timed bans carry the name of their
// expiry task so an explicit unban or a re-ban cancels the pending expiry.
type Bans struct {
	timers Timers
	now    func() time.Time

	mu      sync.Mutex
	entries map[int64]*banEntry
	gen     uint64
}

func NewBans(timers Timers) *Bans {
	return &Bans{timers: timers, now: time.Now, entries: map[int64]*banEntry{}}
}

func expiryTaskName(id int64) string {
	return "ban.expire." + strconv.FormatInt(id, 10)
}

// Ban adds id to the set. A positive d schedules an automatic unban after d;
// onExpire runs after that removal. A zero d bans permanently. Banning an id
// that is already banned replaces its expiry.
func (b *Bans) Ban(id int64, d time.Duration, onExpire func(ctx context.Context, id int64)) error {
	if d < 0 {
		return ErrNegativeDuration
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.entries[id]; ok && prev.task != "" {
		b.timers.Remove(prev.task)
	}
	b.gen++
	e := &banEntry{gen: b.gen}
	b.entries[id] = e
	if d == 0 {
		return nil
	}

	e.until = b.now().Add(d)
	e.task = expiryTaskName(id)
	gen := e.gen
	err := b.timers.AddOnce(e.task, e.until, func(ctx context.Context) error {
		if !b.expire(id, gen) {
			return nil
		}
		if onExpire != nil {
			onExpire(ctx, id)
		}
		return nil
	})
	if err != nil {
		delete(b.entries, id)
		return fmt.Errorf("schedule ban expiry for %d: %w", id, err)
	}
	return nil
}

// expire removes id only if the entry is still the one the task was armed for.
func (b *Bans) expire(id int64, gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok || e.gen != gen {
		return false
	}
	delete(b.entries, id)
	return true
}

// Unban removes id and cancels its pending expiry. Removing an absent id is a
// no-op; the result reports whether id was banned.
func (b *Bans) Unban(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok {
		return false
	}
	if e.task != "" {
		b.timers.Remove(e.task)
	}
	delete(b.entries, id)
	return true
}

func (b *Bans) IsBanned(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[id]
	return ok
}

func (b *Bans) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// List returns every ban ordered by user id.
func (b *Bans) List() []Ban {
	b.mu.Lock()
	out := make([]Ban, 0, len(b.entries))
	for id, e := range b.entries {
		out = append(out, Ban{UserID: id, Until: e.until})
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
