// Package watch owns the live polling loops behind users' watches and keeps
// them consistent with the durable registry.
package watch

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCapacityExceeded is returned when a user already has the maximum number of watches.
	ErrCapacityExceeded = errors.New("watch capacity exceeded")
	// ErrDuplicateWatch is returned when the user already watches the URL.
	ErrDuplicateWatch = errors.New("url is already watched")
	// ErrNotFound is returned when the user has no watch for the URL or handle.
	ErrNotFound = errors.New("watch not found")
)

// Change describes a detected difference between two fetches of a page.
type Change struct {
	URL     string
	Title   string
	Summary string
}

// Notifier is the outbound channel a polling loop reports back through.
type Notifier interface {
	NotifyChange(ctx context.Context, userID int64, change Change) error
	NotifyStopped(ctx context.Context, userID int64, url string) error
}

// Config tunes the manager. Zero values fall back to the defaults.
type Config struct {
	MaxPerUser   int
	PollInterval time.Duration
	// CancelGrace bounds how long a cancel waits for the loop to acknowledge.
	CancelGrace time.Duration
}

const (
	DefaultMaxPerUser   = 5
	DefaultPollInterval = 60 * time.Second
	DefaultCancelGrace  = 300 * time.Millisecond

	notifyTimeout = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = DefaultMaxPerUser
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = DefaultCancelGrace
	}
	return c
}
