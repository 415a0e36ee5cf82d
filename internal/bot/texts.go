package bot

import (
	"strconv"
	"strings"
)

const (
	textDenied = "You do not have access to this command."

	textUserHelp = "Available commands:\n" +
		"/start - start\n" +
		"/help - help\n" +
		"/info - your information\n" +
		"/check - check whether you are blocked"

	textAdminHelp = textUserHelp + "\n" +
		"/ban - ban a user\n" +
		"/unban - unban a user\n" +
		"/banned_users - list banned users\n" +
		"/broadcast - broadcast a message\n" +
		"/admin - admin panel"

	textAdminPanel = "Hello, admin! Available commands:\n" +
		"/ban <user_id> <minutes> - block a user\n" +
		"/unban <user_id> - unblock a user\n" +
		"/banned_users - list blocked users\n" +
		"/broadcast <message> - send a broadcast"

	textBlocked    = "You are blocked and cannot use the bot."
	textNotBlocked = "You are not blocked, welcome!"

	textBanUsage       = "Use the command as: /ban <user_id> <minutes>"
	textUnbanUsage     = "Use the command as: /unban <user_id>"
	textBroadcastUsage = "Use the command as: /broadcast <message>"

	textBannedEmpty  = "The banned users list is empty."
	textBannedHeader = "Banned users:"

	textNoRecipients = "There are no users to broadcast to."
	textSent         = "Message sent."
	textFailedPrefix = " Failed to deliver to: "
)

func welcomeText(name string) string { return "Welcome, " + name + "! Glad to see you." }

func alreadyRegisteredText(name string) string {
	return "You are already registered, " + name + "!"
}

func infoText(name string, id int64, username string) string {
	if username == "" {
		username = "none"
	}
	return "Name: " + name + "\nYour ID: " + strconv.FormatInt(id, 10) + "\nUsername: @" + username
}

func bannedText(id int64) string { return "User " + strconv.FormatInt(id, 10) + " has been banned." }

func unbannedText(id int64) string {
	return "User " + strconv.FormatInt(id, 10) + " has been unbanned."
}

func autoUnbannedText(id int64, minutes int) string {
	return "User " + strconv.FormatInt(id, 10) + " was automatically unbanned after " + strconv.Itoa(minutes) + " minutes."
}

func bannedListText(ids []int64) string {
	if len(ids) == 0 {
		return textBannedEmpty
	}
	var b strings.Builder
	b.WriteString(textBannedHeader)
	for _, id := range ids {
		b.WriteByte('\n')
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}

func broadcastSummaryText(failed []int64) string {
	if len(failed) == 0 {
		return textSent
	}
	parts := make([]string, len(failed))
	for i, id := range failed {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return textSent + textFailedPrefix + strings.Join(parts, ", ")
}

func errorText(err error) string { return "An error occurred: " + err.Error() }
