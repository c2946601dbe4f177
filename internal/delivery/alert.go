package delivery

import (
	"context"
	"fmt"

	"nutrition-bot/pkg/logger"
)

// Alerter forwards operational errors to the configured alert chats.
type Alerter struct {
	messenger Messenger
	chatIDs   []int64
	logger    *logger.Logger
}

func NewAlerter(m Messenger, chatIDs []int64, l *logger.Logger) *Alerter {
	return &Alerter{messenger: m, chatIDs: chatIDs, logger: l}
}

// Alert logs the event and sends it to every alert chat. Send failures are
// only logged.
func (a *Alerter) Alert(ctx context.Context, source string, err error) {
	if a == nil {
		return
	}
	a.logger.Errorw("Alert", "source", source, "error", err)
	text := fmt.Sprintf("⚠️ %s: %v", source, err)
	for _, id := range a.chatIDs {
		if _, sendErr := a.messenger.Send(ctx, id, text, nil); sendErr != nil {
			a.logger.Errorw("Failed to deliver alert", "chat_id", id, "error", sendErr)
		}
	}
}
