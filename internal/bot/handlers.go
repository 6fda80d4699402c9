package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/pagewatch-bot/internal/conversation"
	"github.com/xaenox/pagewatch-bot/internal/watch"
)

const (
	msgNotAllowed     = "Sorry, you are not allowed to use this bot."
	msgUnknownCommand = "Unknown command. Use /help to see available commands."
	msgUseHelp        = "I did not understand that. Use /help to see available commands."
	msgNotFollowing   = "You are not following any URLs."
	msgEmptyList      = "You are not currently following any URLs."
	msgSelectUnfollow = "Please select the URL you wish to unfollow:"
	msgStopped        = "All monitoring has been stopped. You can reactivate me using /start."
	msgAlreadyRemoved = "This URL is no longer being followed."

	welcomeFormat = "Hello <b>%s</b>, it's a pleasure to meet you!\n" +
		"My purpose is to track and monitor the websites you want. " +
		"I will notify you whenever one of the websites you are following experiences a change in content.\n\n" +
		"To view a list of available commands, use /help."

	helpFormat = "Hi <b>%s</b>, you are in /help command!\n\n" +
		"Here is a list of available commands:\n" +
		"/start - restart the bot\n" +
		"/follow - follow a URL (optionally /follow &lt;url&gt;)\n" +
		"/unfollow - unfollow a URL\n" +
		"/stop - stop tracking of all URLs\n" +
		"/cancel - cancel command\n" +
		"/list - display followed URLs\n" +
		"/help - show this list of commands"

	unfollowPrefix = "unfollow:"
	// maxLabelURLBytes bounds the URL part of an unfollow button label.
	maxLabelURLBytes = 64
)

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	name := displayName(message.From)
	b.conversation.Reset(message.From.ID)

	if err := b.watches.RegisterUser(ctx, message.From.ID, name); err != nil {
		b.logger.Error("Failed to register user",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendMessage(message.Chat.ID, conversation.MsgGenericError)
		return
	}

	b.sendHTML(message.Chat.ID, fmt.Sprintf(welcomeFormat, html.EscapeString(name)))
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	b.sendHTML(message.Chat.ID, fmt.Sprintf(helpFormat, html.EscapeString(displayName(message.From))))
}

func (b *Bot) handleFollow(ctx context.Context, message *tgbotapi.Message) {
	reply := b.conversation.Follow(ctx,
		message.From.ID,
		displayName(message.From),
		strings.TrimSpace(message.CommandArguments()))
	b.sendMessage(message.Chat.ID, reply)
}

func (b *Bot) handleList(ctx context.Context, message *tgbotapi.Message) {
	urls, err := b.watches.ListWatches(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to list watches",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendMessage(message.Chat.ID, conversation.MsgGenericError)
		return
	}

	if len(urls) == 0 {
		b.sendMessage(message.Chat.ID, msgEmptyList)
		return
	}

	var sb strings.Builder
	for i, u := range urls {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, u)
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, sb.String())
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send list",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleUnfollow(ctx context.Context, message *tgbotapi.Message) {
	watches, err := b.watches.UserWatches(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Failed to list watches",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendMessage(message.Chat.ID, conversation.MsgGenericError)
		return
	}

	if len(watches) == 0 {
		b.sendMessage(message.Chat.ID, msgNotFollowing)
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(watches))
	for i, w := range watches {
		label := fmt.Sprintf("%d. %s", i+1, truncateBytes(w.URL, maxLabelURLBytes))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, unfollowPrefix+w.TaskID),
		))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, msgSelectUnfollow)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send unfollow menu",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleStop(ctx context.Context, message *tgbotapi.Message) {
	b.conversation.Reset(message.From.ID)

	if err := b.watches.CancelAllForUser(ctx, message.From.ID); err != nil {
		b.logger.Error("Failed to stop watches",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendMessage(message.Chat.ID, conversation.MsgGenericError)
		return
	}
	b.sendMessage(message.Chat.ID, msgStopped)
}

// handleCallback serves a press on an unfollow menu button.
func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.From == nil {
		return
	}
	logger := b.logger.With(zap.Int64("user_id", query.From.ID))

	if !b.isAllowed(query.From.ID) {
		logger.Info("Rejected callback from user outside the allow-list")
		b.answerCallback(query.ID, msgNotAllowed)
		return
	}

	taskID, ok := strings.CutPrefix(query.Data, unfollowPrefix)
	if !ok {
		logger.Warn("Unknown callback data", zap.String("data", query.Data))
		b.answerCallback(query.ID, "")
		return
	}

	url, err := b.watches.FindByTask(ctx, query.From.ID, taskID)
	switch {
	case errors.Is(err, watch.ErrNotFound):
		b.answerCallback(query.ID, msgAlreadyRemoved)
		b.deleteMenu(query)
		return
	case err != nil:
		logger.Error("Failed to resolve unfollow selection", zap.Error(err), zap.String("task_id", taskID))
		b.answerCallback(query.ID, conversation.MsgGenericError)
		return
	}

	err = b.watches.CancelWatch(ctx, query.From.ID, url)
	switch {
	case err == nil, errors.Is(err, watch.ErrNotFound):
		b.answerCallback(query.ID, "")
		b.deleteMenu(query)
	default:
		logger.Error("Failed to cancel watch", zap.Error(err), zap.String("url", url))
		b.answerCallback(query.ID, conversation.MsgGenericError)
	}
}

func (b *Bot) answerCallback(queryID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(queryID, text)); err != nil {
		b.logger.Error("Failed to answer callback", zap.Error(err))
	}
}

func (b *Bot) deleteMenu(query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	del := tgbotapi.NewDeleteMessage(query.Message.Chat.ID, query.Message.MessageID)
	if _, err := b.api.Request(del); err != nil {
		b.logger.Error("Failed to delete unfollow menu",
			zap.Error(err),
			zap.Int64("chat_id", query.Message.Chat.ID))
	}
}

func (b *Bot) sendHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
