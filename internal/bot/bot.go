package bot

import (
	"context"
	"errors"
	"slices"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/pagewatch-bot/internal/conversation"
	"github.com/xaenox/pagewatch-bot/internal/models"
)

var errUpdatesClosed = errors.New("telegram updates channel closed")

// Sender is the subset of *tgbotapi.BotAPI the bot talks through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Watches is what the command handlers need from the watch manager.
type Watches interface {
	RegisterUser(ctx context.Context, userID int64, username string) error
	ListWatches(ctx context.Context, userID int64) ([]string, error)
	UserWatches(ctx context.Context, userID int64) ([]models.Watch, error)
	FindByTask(ctx context.Context, userID int64, taskID string) (string, error)
	CancelWatch(ctx context.Context, userID int64, url string) error
	CancelAllForUser(ctx context.Context, userID int64) error
}

type Bot struct {
	api          Sender
	watches      Watches
	conversation *conversation.Controller
	// allowed is empty for a public bot.
	allowed []int64
	logger  *zap.Logger
}

func New(api Sender, watches Watches, controller *conversation.Controller, allowedIDs []int64, logger *zap.Logger) *Bot {
	return &Bot{
		api:          api,
		watches:      watches,
		conversation: controller,
		allowed:      allowedIDs,
		logger:       logger.Named("bot"),
	}
}

// Run long-polls Telegram and handles updates one at a time until ctx is
// done. Updates are not handled concurrently so a user's /follow and the URL
// that follows it are seen in order.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Listening for updates", zap.Int("allowed_users", len(b.allowed)))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return errUpdatesClosed
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}

	if !b.isAllowed(message.From.ID) {
		b.logger.Info("Rejected message from user outside the allow-list",
			zap.Int64("user_id", message.From.ID))
		b.sendMessage(message.Chat.ID, msgNotAllowed)
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	reply, handled := b.conversation.HandleText(ctx, message.From.ID, message.Text)
	if !handled {
		reply = msgUseHelp
	}
	b.sendMessage(message.Chat.ID, reply)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	b.logger.Debug("Command received",
		zap.Int64("user_id", message.From.ID),
		zap.String("command", message.Command()))

	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(message)
	case "follow":
		b.handleFollow(ctx, message)
	case "cancel":
		b.sendMessage(message.Chat.ID, b.conversation.Cancel(message.From.ID))
	case "unfollow":
		b.handleUnfollow(ctx, message)
	case "stop":
		b.handleStop(ctx, message)
	case "list":
		b.handleList(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, msgUnknownCommand)
	}
}

func (b *Bot) isAllowed(userID int64) bool {
	return len(b.allowed) == 0 || slices.Contains(b.allowed, userID)
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

// displayName picks the name stored for a user: the handle when set,
// otherwise the first name, otherwise the numeric id.
func displayName(user *tgbotapi.User) string {
	switch {
	case user.UserName != "":
		return user.UserName
	case user.FirstName != "":
		return user.FirstName
	default:
		return strconv.FormatInt(user.ID, 10)
	}
}
