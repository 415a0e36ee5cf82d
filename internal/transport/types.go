package transport

import "context"

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is an inbound text message.
type Message struct {
	ID            int
	ChatID        int64
	FromID        int64
	FromFirstName string
	FromUsername  string // empty when the sender has no handle
	Text          string
}

type ChatTarget struct {
	ChatID int64
}

// UserTarget addresses the private chat with a user.
func UserTarget(userID int64) ChatTarget { return ChatTarget{ChatID: userID} }

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyTo quotes the given message id in the reply (0 = plain send).
	ReplyTo int
}

//go:generate mockgen -destination=mocks/adapter.go -package=mocks modbot/internal/transport Adapter

// Adapter is the messaging transport the bot runs on.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand is a single entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
