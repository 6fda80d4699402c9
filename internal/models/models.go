package models

import "time"

// MaxUsernameLength bounds the informational display name stored for a user.
const MaxUsernameLength = 15

// User represents a bot user registered through /start
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Watch represents one (user, normalized URL) monitoring subscription.
// TaskID is the handle of the polling loop servicing it.
type Watch struct {
	UserID    int64     `json:"user_id"`
	URL       string    `json:"url"`
	TaskID    string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationState is the per-user position in the follow dialogue
type ConversationState int

const (
	StateIdle ConversationState = 0
)

// TruncateUsername cuts name to MaxUsernameLength runes
func TruncateUsername(name string) string {
	runes := []rune(name)
	if len(runes) > MaxUsernameLength {
		return string(runes[:MaxUsernameLength])
	}
	return name
}
