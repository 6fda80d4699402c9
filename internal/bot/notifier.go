package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xaenox/pagewatch-bot/internal/watch"
)

// Notifier delivers watch loop events to the user's private chat. Sends are
// throttled so a burst of changes stays under Telegram's global rate limit.
// Failures are returned, not logged; the watch loop logs them.
type Notifier struct {
	api     Sender
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ watch.Notifier = (*Notifier)(nil)

func NewNotifier(api Sender, perSecond float64, burst int, logger *zap.Logger) *Notifier {
	return &Notifier{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger.Named("notifier"),
	}
}

func (n *Notifier) NotifyChange(ctx context.Context, userID int64, change watch.Change) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hello, there has been a change in the content of %s.", change.URL)
	if change.Title != "" {
		fmt.Fprintf(&sb, "\n\nPage: %s", change.Title)
	}
	if change.Summary != "" {
		fmt.Fprintf(&sb, "\nWhat changed: %s", change.Summary)
	}
	return n.send(ctx, userID, sb.String())
}

func (n *Notifier) NotifyStopped(ctx context.Context, userID int64, url string) error {
	return n.send(ctx, userID, fmt.Sprintf("Monitoring of %s has been successfully stopped.", url))
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	n.logger.Debug("Notification sent", zap.Int64("chat_id", chatID))
	return nil
}
