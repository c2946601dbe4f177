package delivery

import (
	"context"
	"errors"
)

// ErrForbidden means the user blocked the bot or the chat is gone.
var ErrForbidden = errors.New("chat is not reachable")

// Button is an inline keyboard button. Exactly one of Data and URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

type Keyboard [][]Button

// Row builds a keyboard row.
func Row(buttons ...Button) []Button { return buttons }

// Messenger is the outbound side of the chat channel.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, kb Keyboard) (int, error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, kb Keyboard) error
	Delete(ctx context.Context, chatID int64, messageID int) error
	SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error
}
