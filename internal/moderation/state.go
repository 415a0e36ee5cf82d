package moderation

import (
	"context"
	"time"

	"github.com/samber/lo"

	"modbot/internal/eventbus"
	logx "modbot/pkg/logx"
)

// State owns both registries. Handlers receive it explicitly; there is no
// package-level moderation state.
type State struct {
	Users *Users
	Bans  *Bans

	bus eventbus.Bus
	log logx.Logger
}

// Stats is a point-in-time summary used by the periodic report.
type Stats struct {
	Users      int
	Banned     int
	TimedBans  int
	Permanent  int
	NextExpiry time.Time
}

func NewState(timers Timers, bus eventbus.Bus, log logx.Logger) *State {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &State{Users: NewUsers(), Bans: NewBans(timers), bus: bus, log: log}
}

// Register adds id to the user registry and reports whether it was new.
func (s *State) Register(id int64) bool {
	if !s.Users.Add(id) {
		return false
	}
	s.log.Info("user registered", logx.Int64("user_id", id), logx.Int("users", s.Users.Len()))
	s.bus.Publish(eventbus.Event{Type: eventbus.UserRegistered, Data: id})
	return true
}

// Ban bans id, optionally for a limited duration. onExpire runs after an
// automatic unban.
func (s *State) Ban(id int64, d time.Duration, onExpire func(ctx context.Context, id int64)) error {
	err := s.Bans.Ban(id, d, func(ctx context.Context, id int64) {
		s.log.Info("ban expired", logx.Int64("user_id", id))
		s.bus.Publish(eventbus.Event{Type: eventbus.BanExpired, Data: id})
		if onExpire != nil {
			onExpire(ctx, id)
		}
	})
	if err != nil {
		return err
	}
	s.log.Info("user banned", logx.Int64("user_id", id), logx.Duration("duration", d))
	s.bus.Publish(eventbus.Event{Type: eventbus.UserBanned, Data: id})
	return nil
}

// Unban lifts a ban; it is a no-op for ids that are not banned.
func (s *State) Unban(id int64) bool {
	was := s.Bans.Unban(id)
	s.log.Info("user unbanned", logx.Int64("user_id", id), logx.Bool("was_banned", was))
	if was {
		s.bus.Publish(eventbus.Event{Type: eventbus.UserUnbanned, Data: id})
	}
	return was
}

func (s *State) IsBanned(id int64) bool { return s.Bans.IsBanned(id) }

// BannedIDs lists banned ids in ascending order.
func (s *State) BannedIDs() []int64 {
	return lo.Map(s.Bans.List(), func(b Ban, _ int) int64 { return b.UserID })
}

// Recipients returns registered users that are not banned, in registration order.
func (s *State) Recipients() []int64 {
	return lo.Reject(s.Users.Snapshot(), func(id int64, _ int) bool { return s.Bans.IsBanned(id) })
}

func (s *State) Stats() Stats {
	bans := s.Bans.List()
	timed := lo.Filter(bans, func(b Ban, _ int) bool { return !b.Permanent() })
	st := Stats{
		Users:     s.Users.Len(),
		Banned:    len(bans),
		TimedBans: len(timed),
		Permanent: len(bans) - len(timed),
	}
	if len(timed) > 0 {
		st.NextExpiry = lo.MinBy(timed, func(a, b Ban) bool { return a.Until.Before(b.Until) }).Until
	}
	return st
}
