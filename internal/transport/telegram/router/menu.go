package router

import (
	"context"
	"strings"
	"time"

	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

// Telegram limits: command names [a-z0-9_]{1,32}, descriptions up to 256
// bytes, at most 100 entries.
const (
	menuNameMax = 32
	menuDescMax = 256
	menuMax     = 100
)

// validMenuName reports whether s is usable as a Telegram menu command.
func validMenuName(s string) bool {
	if s == "" || len(s) > menuNameMax {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// MenuCommands builds the public command menu. Admin-only routes are left
// out; the admin finds them through /help.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, menuMax)
	for _, r := range m.Routes() {
		if r.Access != AccessEveryone {
			continue
		}
		name := r.Kind.String()
		if !validMenuName(name) {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(r.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > menuDescMax {
			desc = desc[:menuDescMax]
		}
		out = append(out, kit.BotCommand{Command: name, Description: desc})
		if len(out) >= menuMax {
			break
		}
	}
	return out
}

// UpdateMenu publishes the menu when the adapter supports it. Failures are
// logged and otherwise ignored.
func (m *CommandManager) UpdateMenu(ctx context.Context) {
	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	cmds := m.MenuCommands()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := up.UpdateMenuCommands(ctx, cmds); err != nil {
		m.log.Warn("command menu update failed", logx.Err(err))
		return
	}
	m.log.Debug("command menu updated", logx.Int("commands", len(cmds)))
}
