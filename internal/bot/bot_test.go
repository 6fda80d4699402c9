package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/pagewatch-bot/internal/conversation"
	"github.com/xaenox/pagewatch-bot/internal/fetcher"
	"github.com/xaenox/pagewatch-bot/internal/models"
	"github.com/xaenox/pagewatch-bot/internal/storage"
	"github.com/xaenox/pagewatch-bot/internal/watch"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
	// err fails every Send when set.
	err error
}

func newFakeSender() *fakeSender {
	return &fakeSender{updates: make(chan tgbotapi.Update, 10)}
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	} else {
		f.requests = append(f.requests, c)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeSender) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSender) Messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func (f *fakeSender) Requests() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.requests...)
}

func (f *fakeSender) LastText(t *testing.T) string {
	t.Helper()
	msgs := f.Messages()
	require.NotEmpty(t, msgs, "nothing was sent")
	return msgs[len(msgs)-1].Text
}

func (f *fakeSender) Texts() []string {
	var texts []string
	for _, m := range f.Messages() {
		texts = append(texts, m.Text)
	}
	return texts
}

type staticFetcher struct{}

func (staticFetcher) Fetch(ctx context.Context, url string) (*fetcher.Page, error) {
	return &fetcher.Page{Body: "content"}, nil
}

type fixture struct {
	ctx     context.Context
	sender  *fakeSender
	store   *storage.MemoryStorage
	manager *watch.Manager
	bot     *Bot
}

func newFixture(t *testing.T, allowed ...int64) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	f := &fixture{
		ctx:    context.Background(),
		sender: newFakeSender(),
		store:  storage.NewMemoryStorage(),
	}
	notifier := NewNotifier(f.sender, 1000, 100, logger)
	f.manager = watch.NewManager(f.store, staticFetcher{}, notifier, nil, watch.Config{
		PollInterval: time.Hour,
		CancelGrace:  time.Second,
	}, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		f.manager.Shutdown(ctx)
	})

	controller, err := conversation.NewController(f.manager, models.ConversationState(1), logger)
	require.NoError(t, err)

	f.bot = New(f.sender, f.manager, controller, allowed, logger)
	return f
}

func (f *fixture) send(userID int64, text string) {
	f.bot.handleUpdate(f.ctx, messageUpdate(userID, text))
}

func messageUpdate(userID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, UserName: "tester"},
		Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func callbackUpdate(userID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		From: &tgbotapi.User{ID: userID, UserName: "tester"},
		Message: &tgbotapi.Message{
			MessageID: 99,
			Chat:      &tgbotapi.Chat{ID: userID, Type: "private"},
		},
		Data: data,
	}}
}

func TestBot_EndToEndFollowListStop(t *testing.T) {
	f := newFixture(t)

	f.send(42, "/follow")
	assert.Equal(t, conversation.MsgEnterURL, f.sender.LastText(t))

	f.send(42, "https://example.com/a?b=2")
	assert.Equal(t, conversation.MsgAdded, f.sender.LastText(t))

	watches, err := f.store.GetWatches(f.ctx, 42)
	require.NoError(t, err)
	require.Len(t, watches, 1)
	assert.Equal(t, "https://example.com/a", watches[0].URL)

	f.send(42, "/list")
	msgs := f.sender.Messages()
	last := msgs[len(msgs)-1]
	assert.Contains(t, last.Text, "1. https://example.com/a")
	assert.True(t, last.DisableWebPagePreview)

	f.send(42, "/stop")
	assert.Contains(t, f.sender.Texts(), msgStopped)

	count, err := f.store.GetCountLinks(f.ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.store.GetUser(f.ctx, 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, f.manager.ActiveTasks())
}

func TestBot_StartRegistersUser(t *testing.T) {
	f := newFixture(t)

	f.send(42, "/start")

	user, err := f.store.GetUser(f.ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "tester", user.Username)

	msgs := f.sender.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, tgbotapi.ModeHTML, msgs[0].ParseMode)
	assert.Contains(t, msgs[0].Text, "<b>tester</b>")
}

func TestBot_FollowWithInlineURL(t *testing.T) {
	f := newFixture(t)

	f.send(42, "/follow https://Example.com/x/")
	assert.Equal(t, conversation.MsgAdded, f.sender.LastText(t))

	links, err := f.store.GetLinks(f.ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/x"}, links)

	f.send(42, "/follow https://example.com/x")
	assert.Equal(t, conversation.MsgAlreadyAdded, f.sender.LastText(t))
}

func TestBot_CancelDuringDialogue(t *testing.T) {
	f := newFixture(t)

	f.send(42, "/follow")
	f.send(42, "/cancel")
	assert.Equal(t, conversation.MsgCancelled, f.sender.LastText(t))

	f.send(42, "https://example.com/a")
	assert.Equal(t, msgUseHelp, f.sender.LastText(t))

	count, err := f.store.GetCountLinks(f.ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestBot_UnfollowMenuAndSelection(t *testing.T) {
	f := newFixture(t)

	f.send(42, "/follow https://example.com/one")
	f.send(42, "/follow https://example.com/two")

	f.send(42, "/unfollow")
	msgs := f.sender.Messages()
	menu := msgs[len(msgs)-1]
	assert.Equal(t, msgSelectUnfollow, menu.Text)

	markup, ok := menu.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok, "menu carries an inline keyboard")
	require.Len(t, markup.InlineKeyboard, 2)

	watches, err := f.store.GetWatches(f.ctx, 42)
	require.NoError(t, err)

	second := markup.InlineKeyboard[1][0]
	assert.Equal(t, "2. https://example.com/two", second.Text)
	require.NotNil(t, second.CallbackData)
	assert.Equal(t, unfollowPrefix+watches[1].TaskID, *second.CallbackData)

	f.bot.handleUpdate(f.ctx, callbackUpdate(42, *second.CallbackData))

	links, err := f.store.GetLinks(f.ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/one"}, links)
	assert.False(t, f.manager.IsLive(watches[1].TaskID))

	assert.Contains(t, f.sender.Texts(), "Monitoring of https://example.com/two has been successfully stopped.")

	var answered, deleted bool
	for _, r := range f.sender.Requests() {
		switch req := r.(type) {
		case tgbotapi.CallbackConfig:
			answered = req.CallbackQueryID == "cb-1"
		case tgbotapi.DeleteMessageConfig:
			deleted = req.MessageID == 99 && req.ChatID == 42
		}
	}
	assert.True(t, answered, "callback answered")
	assert.True(t, deleted, "menu deleted")
}

func TestBot_UnfollowStaleSelection(t *testing.T) {
	f := newFixture(t)
	f.send(42, "/start")

	f.bot.handleUpdate(f.ctx, callbackUpdate(42, unfollowPrefix+"missing"))

	requests := f.sender.Requests()
	require.NotEmpty(t, requests)
	answer, ok := requests[0].(tgbotapi.CallbackConfig)
	require.True(t, ok)
	assert.Equal(t, msgAlreadyRemoved, answer.Text)
}

func TestBot_UnfollowLabelIsTruncated(t *testing.T) {
	f := newFixture(t)

	long := "https://example.com/" + strings.Repeat("segment/", 12) + "end"
	f.send(42, "/follow "+long)
	require.Equal(t, conversation.MsgAdded, f.sender.LastText(t))

	f.send(42, "/unfollow")
	msgs := f.sender.Messages()
	markup := msgs[len(msgs)-1].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)

	label := markup.InlineKeyboard[0][0].Text
	assert.Equal(t, "1. "+long[:maxLabelURLBytes], label)
	assert.LessOrEqual(t, len(*markup.InlineKeyboard[0][0].CallbackData), 64)
}

func TestBot_EmptyStates(t *testing.T) {
	f := newFixture(t)

	f.send(42, "/list")
	assert.Equal(t, msgEmptyList, f.sender.LastText(t))

	f.send(42, "/unfollow")
	assert.Equal(t, msgNotFollowing, f.sender.LastText(t))

	f.send(42, "/stop")
	assert.Equal(t, msgStopped, f.sender.LastText(t))
}

func TestBot_UnknownInput(t *testing.T) {
	f := newFixture(t)

	f.send(42, "/frobnicate")
	assert.Equal(t, msgUnknownCommand, f.sender.LastText(t))

	f.send(42, "hello there")
	assert.Equal(t, msgUseHelp, f.sender.LastText(t))
}

func TestBot_AllowList(t *testing.T) {
	f := newFixture(t, 7)

	f.send(42, "/follow https://example.com/a")
	assert.Equal(t, msgNotAllowed, f.sender.LastText(t))

	_, err := f.store.GetUser(f.ctx, 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	f.send(7, "/help")
	assert.Contains(t, f.sender.LastText(t), "/unfollow - unfollow a URL")
}

func TestBot_RunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- f.bot.Run(ctx) }()

	f.sender.updates <- messageUpdate(42, "/help")
	assert.Eventually(t, func() bool {
		return len(f.sender.Messages()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	assert.True(t, f.sender.stopped)
}

var errStoreDown = errors.New("database is down")

// brokenStore fails every registry-backed call. With resolveTasks set,
// FindByTask succeeds so the failure surfaces from CancelWatch instead.
type brokenStore struct {
	resolveTasks bool
}

func (brokenStore) MaxPerUser() int { return 5 }

func (brokenStore) UserExists(context.Context, int64) (bool, error) { return false, errStoreDown }

func (brokenStore) RegisterUser(context.Context, int64, string) error { return errStoreDown }

func (brokenStore) CountWatches(context.Context, int64) (int, error) { return 0, errStoreDown }

func (brokenStore) CreateWatch(context.Context, int64, string) (*models.Watch, error) {
	return nil, errStoreDown
}

func (brokenStore) ListWatches(context.Context, int64) ([]string, error) { return nil, errStoreDown }

func (brokenStore) UserWatches(context.Context, int64) ([]models.Watch, error) {
	return nil, errStoreDown
}

func (s brokenStore) FindByTask(context.Context, int64, string) (string, error) {
	if s.resolveTasks {
		return "https://example.com/a", nil
	}
	return "", errStoreDown
}

func (brokenStore) CancelWatch(context.Context, int64, string) error { return errStoreDown }

func (brokenStore) CancelAllForUser(context.Context, int64) error { return errStoreDown }

func newBrokenBot(t *testing.T, store brokenStore) (*Bot, *fakeSender) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	controller, err := conversation.NewController(store, models.ConversationState(1), logger)
	require.NoError(t, err)
	sender := newFakeSender()
	return New(sender, store, controller, nil, logger), sender
}

func TestBot_StoreFailuresGetGenericReply(t *testing.T) {
	t.Parallel()

	for _, command := range []string{"/start", "/follow", "/list", "/unfollow", "/stop"} {
		t.Run(command, func(t *testing.T) {
			t.Parallel()
			b, sender := newBrokenBot(t, brokenStore{})

			b.handleUpdate(context.Background(), messageUpdate(42, command))

			assert.Equal(t, []string{conversation.MsgGenericError}, sender.Texts())
			assert.Empty(t, sender.Requests())
		})
	}
}

func TestBot_CallbackStoreFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store brokenStore
	}{
		{"lookup fails", brokenStore{}},
		{"cancel fails", brokenStore{resolveTasks: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, sender := newBrokenBot(t, tt.store)

			b.handleUpdate(context.Background(), callbackUpdate(42, unfollowPrefix+"some-task"))

			requests := sender.Requests()
			require.Len(t, requests, 1, "answered once, menu kept")
			answer, ok := requests[0].(tgbotapi.CallbackConfig)
			require.True(t, ok)
			assert.Equal(t, conversation.MsgGenericError, answer.Text)
			assert.Empty(t, sender.Messages())
		})
	}
}

func TestTruncateBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncateBytes("abc", 64))
	assert.Equal(t, "ab", truncateBytes("abcdef", 2))
	// "é" is two bytes; a cut inside it backs off to the rune start.
	assert.Equal(t, "a", truncateBytes("aé", 2))
	assert.Equal(t, "aé", truncateBytes("aé", 3))
}
