package chat

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/Tyrowin/roomchat/internal/room"
)

// Errors reported back to the offending session. Their messages are written
// for the end user.
var (
	ErrIdentityRequired = errors.New("set username first with /name <username>")
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyInRoom    = errors.New("you are already in that room")
	ErrAlreadyInDefault = errors.New("you are already in " + room.DefaultName)
	ErrUnknownCommand   = errors.New("unknown command. Type /help for help")
	ErrUsage            = errors.New("usage")
)

func usage(syntax string) error {
	return fmt.Errorf("%w: %s", ErrUsage, syntax)
}

// errorText turns an error into the text of an [ERROR] line.
func errorText(err error) string {
	msg := err.Error()
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}
