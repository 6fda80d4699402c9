package storage

import (
	"context"
	"errors"

	"github.com/xaenox/pagewatch-bot/internal/models"
)

var (
	// ErrNotFound is returned when a user or watch does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a (user, url) pair is already stored.
	ErrDuplicate = errors.New("duplicate watch")
	// ErrInvalidUsername is returned for an empty display name.
	ErrInvalidUsername = errors.New("username must be non-empty")
)

// Registry is the durable record of which user watches which URL and which
// task handle services that watch. Every mutation is committed before it
// returns.
type Registry interface {
	InsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	// DeleteUser removes the user and all of their watches.
	DeleteUser(ctx context.Context, userID int64) error

	InsertLink(ctx context.Context, watch *models.Watch) error
	DeleteLink(ctx context.Context, userID int64, url string) error

	GetCountLinks(ctx context.Context, userID int64) (int, error)
	// GetLinks returns the user's URLs in insertion order.
	GetLinks(ctx context.Context, userID int64) ([]string, error)
	GetTask(ctx context.Context, userID int64, url string) (string, error)
	GetTasks(ctx context.Context, userID int64) ([]string, error)
	// GetWatches returns the user's full watch records in insertion order.
	GetWatches(ctx context.Context, userID int64) ([]models.Watch, error)
	GetAllTasks(ctx context.Context) ([]string, error)
	GetAllWatches(ctx context.Context) ([]models.Watch, error)
	GetWatchByTask(ctx context.Context, userID int64, taskID string) (*models.Watch, error)
	CheckLinkExists(ctx context.Context, userID int64, url string) (bool, error)

	Close() error
}
