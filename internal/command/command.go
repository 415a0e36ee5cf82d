// Package command decodes chat text into the fixed set of bot commands.
package command

import (
	"strings"
	"unicode"
)

type Kind int

const (
	Unknown Kind = iota
	Start
	Help
	Info
	Check
	Admin
	Ban
	Unban
	BannedUsers
	Broadcast
)

var names = map[Kind]string{
	Start:       "start",
	Help:        "help",
	Info:        "info",
	Check:       "check",
	Admin:       "admin",
	Ban:         "ban",
	Unban:       "unban",
	BannedUsers: "banned_users",
	Broadcast:   "broadcast",
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, len(names))
	for k, n := range names {
		m[n] = k
	}
	return m
}()

// String returns the command name without the leading slash.
func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return "unknown"
}

// All lists every known kind in menu order.
func All() []Kind {
	return []Kind{Start, Help, Info, Check, Admin, Ban, Unban, BannedUsers, Broadcast}
}

// Parsed is a decoded command line.
type Parsed struct {
	Kind Kind
	Name string
	// Args are the whitespace-separated tokens after the command.
	Args []string
	// Body is the text after the command token with leading whitespace
	// removed. Inner spacing and newlines are kept.
	Body string
}

// Parse decodes text. ok is false when text is not a command; an unrecognised
// command returns ok true with Kind Unknown and Name set.
//
// Matching is exact and case-sensitive. A "@botname" suffix on the command
// token is ignored.
func Parse(text string) (Parsed, bool) {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(text, "/") {
		return Parsed{}, false
	}

	token, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		token, rest = text[:i], text[i:]
	}
	name := strings.TrimPrefix(token, "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return Parsed{}, false
	}

	body := strings.TrimLeftFunc(rest, unicode.IsSpace)
	return Parsed{
		Kind: byName[name],
		Name: name,
		Args: strings.Fields(body),
		Body: strings.TrimRightFunc(body, unicode.IsSpace),
	}, true
}
