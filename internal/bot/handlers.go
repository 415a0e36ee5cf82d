// Package bot implements the chat commands on top of the moderation state
// and the broadcast engine.
package bot

import (
	"context"
	"math"
	"strconv"
	"time"

	"modbot/internal/broadcast"
	"modbot/internal/command"
	"modbot/internal/moderation"
	kit "modbot/internal/transport"
	"modbot/internal/transport/telegram/router"
	logx "modbot/pkg/logx"
)

// DenyText is the reply for non-admins invoking admin commands.
const DenyText = textDenied

// Handlers holds the dependencies shared by every command.
type Handlers struct {
	State     *moderation.State
	Broadcast *broadcast.Service
	AdminID   int64
	// Sender delivers ban expiry notices, which outlive the request.
	Sender broadcast.Sender
	Log    logx.Logger

	// BroadcastTimeout bounds a single /broadcast; zero means no limit.
	BroadcastTimeout time.Duration
}

// Routes returns the command table.
func (h *Handlers) Routes() []router.Route {
	return []router.Route{
		{Kind: command.Start, Description: "start", Handle: h.start},
		{Kind: command.Help, Description: "help", Handle: h.help},
		{Kind: command.Info, Description: "your information", Handle: h.info},
		{Kind: command.Check, Description: "check whether you are blocked", Handle: h.check},
		{Kind: command.Admin, Description: "admin panel", Access: router.AccessAdminOnly, Handle: h.admin},
		{Kind: command.Ban, Description: "ban a user", Access: router.AccessAdminOnly, Handle: h.ban},
		{Kind: command.Unban, Description: "unban a user", Access: router.AccessAdminOnly, Handle: h.unban},
		{Kind: command.BannedUsers, Description: "list banned users", Access: router.AccessAdminOnly, Handle: h.bannedUsers},
		{Kind: command.Broadcast, Description: "broadcast a message", Access: router.AccessAdminOnly, Timeout: h.BroadcastTimeout, Handle: h.broadcast},
	}
}

func senderName(req *router.Request) string {
	if req.Message == nil {
		return ""
	}
	return req.Message.FromFirstName
}

func (h *Handlers) start(ctx context.Context, req *router.Request) error {
	name := senderName(req)
	if h.State.Register(req.FromID) {
		return req.Reply(ctx, welcomeText(name))
	}
	return req.Reply(ctx, alreadyRegisteredText(name))
}

func (h *Handlers) help(ctx context.Context, req *router.Request) error {
	if req.FromID == h.AdminID {
		return req.Reply(ctx, textAdminHelp)
	}
	return req.Reply(ctx, textUserHelp)
}

func (h *Handlers) info(ctx context.Context, req *router.Request) error {
	username := ""
	if req.Message != nil {
		username = req.Message.FromUsername
	}
	return req.Reply(ctx, infoText(senderName(req), req.FromID, username))
}

func (h *Handlers) check(ctx context.Context, req *router.Request) error {
	if h.State.IsBanned(req.FromID) {
		return req.Reply(ctx, textBlocked)
	}
	return req.Reply(ctx, textNotBlocked)
}

func (h *Handlers) admin(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, textAdminPanel)
}

// maxBanMinutes is the longest ban whose duration fits in a time.Duration.
const maxBanMinutes = int64(math.MaxInt64 / int64(time.Minute))

// parseBanArgs reads "<id> [<minutes>]". Tokens after minutes are ignored.
func parseBanArgs(args []string) (id int64, minutes int, ok bool) {
	if len(args) < 1 {
		return 0, 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if len(args) > 1 {
		minutes, err = strconv.Atoi(args[1])
		if err != nil || minutes < 0 || int64(minutes) > maxBanMinutes {
			return 0, 0, false
		}
	}
	return id, minutes, true
}

func (h *Handlers) ban(ctx context.Context, req *router.Request) error {
	id, minutes, ok := parseBanArgs(req.Command.Args)
	if !ok {
		return req.Reply(ctx, textBanUsage)
	}

	chat := req.Chat
	replyTo := 0
	if req.Message != nil {
		replyTo = req.Message.ID
	}
	var onExpire func(context.Context, int64)
	if minutes > 0 {
		onExpire = func(ctx context.Context, id int64) {
			h.notifyExpired(ctx, chat, replyTo, id, minutes)
		}
	}
	if err := h.State.Ban(id, time.Duration(minutes)*time.Minute, onExpire); err != nil {
		req.Logger.Error("ban failed", logx.Int64("user_id", id), logx.Err(err))
		return req.Reply(ctx, errorText(err))
	}
	return req.Reply(ctx, bannedText(id))
}

// notifyExpired tells the chat that issued a timed ban that it has lapsed.
func (h *Handlers) notifyExpired(ctx context.Context, chat kit.ChatTarget, replyTo int, id int64, minutes int) {
	if h.Sender == nil {
		return
	}
	_, err := h.Sender.SendText(ctx, chat, autoUnbannedText(id, minutes), &kit.SendOptions{DisablePreview: true, ReplyTo: replyTo})
	if err != nil {
		h.Log.Warn("ban expiry notice failed", logx.Int64("user_id", id), logx.Int64("chat_id", chat.ChatID), logx.Err(err))
	}
}

func (h *Handlers) unban(ctx context.Context, req *router.Request) error {
	args := req.Command.Args
	if len(args) < 1 {
		return req.Reply(ctx, textUnbanUsage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return req.Reply(ctx, textUnbanUsage)
	}
	h.State.Unban(id)
	return req.Reply(ctx, unbannedText(id))
}

func (h *Handlers) bannedUsers(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, bannedListText(h.State.BannedIDs()))
}

func (h *Handlers) broadcast(ctx context.Context, req *router.Request) error {
	text := req.Command.Body
	if text == "" {
		return req.Reply(ctx, textBroadcastUsage)
	}
	users := h.State.Users.Snapshot()
	if len(users) == 0 {
		return req.Reply(ctx, textNoRecipients)
	}

	res, err := h.Broadcast.Run(ctx, broadcast.Job{
		Text:  text,
		Users: users,
		Skip:  h.State.IsBanned,
	})
	// The summary goes out even when the broadcast was cut short.
	replyCtx := context.WithoutCancel(ctx)
	if err != nil {
		req.Logger.Error("broadcast failed", logx.Err(err))
		return req.Reply(replyCtx, errorText(err))
	}
	return req.Reply(replyCtx, broadcastSummaryText(res.Failed))
}
