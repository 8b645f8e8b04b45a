package chat

import (
	"fmt"
	"time"
)

const clockLayout = "15:04:05"

func stamp(t time.Time) string {
	return t.Format(clockLayout)
}

func serverLine(format string, args ...any) string {
	return "[SERVER] " + fmt.Sprintf(format, args...)
}

func errorLine(err error) string {
	return "[ERROR] " + errorText(err)
}

func noticeLine(t time.Time, user, action string) string {
	return fmt.Sprintf("[%s] *** %s %s ***", stamp(t), user, action)
}

func chatLine(t time.Time, user, text string) string {
	return fmt.Sprintf("[%s] %s: %s", stamp(t), user, text)
}

func privateFromLine(t time.Time, from, text string) string {
	return fmt.Sprintf("[%s] [PM from %s]: %s", stamp(t), from, text)
}

func privateToLine(t time.Time, to, text string) string {
	return fmt.Sprintf("[%s] [PM to %s]: %s", stamp(t), to, text)
}

func typingLine(user string) string {
	return fmt.Sprintf(" ... %s is typing ... ", user)
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

var helpLines = []string{
	"[SERVER] Available commands:",
	"  /name <username>        - Set your username",
	"  /join <room>            - Join or create a room",
	"  /leave                  - Leave current room (go to lobby)",
	"  /rooms                  - List all rooms",
	"  /users                  - List users in current room",
	"  /msg <user> <message>   - Send private message",
	"  /quit                   - Exit the chat",
	"  /ping                   - Check server responsiveness",
	"  /typing                 - Send typing notification",
	"  /help                   - Show this help",
}
