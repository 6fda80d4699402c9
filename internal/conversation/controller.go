// Package conversation drives the multi-turn dialogue that collects a URL
// to follow.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/pagewatch-bot/internal/models"
	"github.com/xaenox/pagewatch-bot/internal/watch"
)

// WatchService is the part of the watch manager the dialogue needs.
type WatchService interface {
	MaxPerUser() int
	UserExists(ctx context.Context, userID int64) (bool, error)
	RegisterUser(ctx context.Context, userID int64, username string) error
	CountWatches(ctx context.Context, userID int64) (int, error)
	CreateWatch(ctx context.Context, userID int64, url string) (*models.Watch, error)
}

// Controller keeps one dialogue state per user.
type Controller struct {
	watches  WatchService
	awaiting models.ConversationState
	logger   *zap.Logger

	mu     sync.RWMutex
	states map[int64]models.ConversationState
}

// NewController builds a controller. awaitingURL tags the state in which the
// next text message is taken as the URL and must differ from StateIdle.
func NewController(watches WatchService, awaitingURL models.ConversationState, logger *zap.Logger) (*Controller, error) {
	if awaitingURL == models.StateIdle {
		return nil, fmt.Errorf("awaiting-url state %d collides with the idle state", awaitingURL)
	}
	return &Controller{
		watches:  watches,
		awaiting: awaitingURL,
		logger:   logger.Named("conversation"),
		states:   make(map[int64]models.ConversationState),
	}, nil
}

// State returns the user's current dialogue state.
func (c *Controller) State(userID int64) models.ConversationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.states[userID]
}

// AwaitingURL reports whether the next text from userID is taken as a URL.
func (c *Controller) AwaitingURL(userID int64) bool {
	return c.State(userID) == c.awaiting
}

// Follow starts the dialogue. A non-empty arg is handled as the URL right away.
// Unknown users are registered first.
func (c *Controller) Follow(ctx context.Context, userID int64, username, arg string) string {
	logger := c.logger.With(zap.Int64("user_id", userID))

	exists, err := c.watches.UserExists(ctx, userID)
	if err != nil {
		logger.Error("Failed to look up user", zap.Error(err))
		c.setState(userID, models.StateIdle)
		return MsgGenericError
	}
	if !exists {
		if err := c.watches.RegisterUser(ctx, userID, username); err != nil {
			logger.Error("Failed to register user", zap.Error(err))
			c.setState(userID, models.StateIdle)
			return MsgGenericError
		}
	}

	count, err := c.watches.CountWatches(ctx, userID)
	if err != nil {
		logger.Error("Failed to count watches", zap.Error(err))
		c.setState(userID, models.StateIdle)
		return MsgGenericError
	}
	if count >= c.watches.MaxPerUser() {
		c.setState(userID, models.StateIdle)
		return MsgCapacity
	}

	c.setState(userID, c.awaiting)
	if arg != "" {
		reply, _ := c.HandleText(ctx, userID, arg)
		return reply
	}
	return MsgEnterURL
}

// HandleText consumes free text. It returns false when the user is not in the
// middle of a dialogue, in which case the text is not meant for the controller.
func (c *Controller) HandleText(ctx context.Context, userID int64, text string) (string, bool) {
	if !c.AwaitingURL(userID) {
		return "", false
	}
	logger := c.logger.With(zap.Int64("user_id", userID))

	url, err := NormalizeURL(text)
	switch {
	case errors.Is(err, ErrEmptyURL):
		return MsgEmptyURL, true
	case err != nil:
		logger.Info("Rejected URL", zap.String("text", text))
		return MsgInvalidURL, true
	}

	c.setState(userID, models.StateIdle)

	_, err = c.watches.CreateWatch(ctx, userID, url)
	switch {
	case err == nil:
		return MsgAdded, true
	case errors.Is(err, watch.ErrDuplicateWatch):
		return MsgAlreadyAdded, true
	case errors.Is(err, watch.ErrCapacityExceeded):
		return MsgCapacity, true
	default:
		logger.Error("Failed to create watch", zap.Error(err), zap.String("url", url))
		return MsgGenericError, true
	}
}

// Cancel aborts the user's dialogue.
func (c *Controller) Cancel(userID int64) string {
	c.setState(userID, models.StateIdle)
	return MsgCancelled
}

// Reset drops any dialogue state held for userID.
func (c *Controller) Reset(userID int64) {
	c.setState(userID, models.StateIdle)
}

func (c *Controller) setState(userID int64, state models.ConversationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state == models.StateIdle {
		delete(c.states, userID)
		return
	}
	c.states[userID] = state
}
