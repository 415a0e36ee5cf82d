package app

import (
	"context"
	"strings"

	logx "modbot/pkg/logx"
)

const reportTask = "registry.report"

// applyReport (re)schedules the periodic registry report. An empty schedule
// removes it.
func (a *App) applyReport(schedule string) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		if a.sched.Remove(reportTask) {
			a.log.Info("registry report disabled")
		}
		return
	}
	if err := a.sched.AddCron(reportTask, schedule, a.report); err != nil {
		a.log.Warn("registry report not scheduled", logx.String("schedule", schedule), logx.Err(err))
		return
	}
	a.log.Info("registry report scheduled", logx.String("schedule", schedule))
}

func (a *App) report(context.Context) error {
	st := a.state.Stats()
	fields := []logx.Field{
		logx.Int("users", st.Users),
		logx.Int("banned", st.Banned),
		logx.Int("timed_bans", st.TimedBans),
		logx.Int("permanent_bans", st.Permanent),
		logx.Int("pending_tasks", len(a.sched.Pending())),
	}
	if !st.NextExpiry.IsZero() {
		fields = append(fields, logx.Time("next_expiry", st.NextExpiry))
	}
	if last, ok := a.bcast.Last(); ok {
		fields = append(fields, logx.String("last_broadcast", last.ID), logx.Int("last_broadcast_failed", len(last.Failed)))
	}
	a.log.Info("registry report", fields...)
	return nil
}
