package storage

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/pagewatch-bot/internal/models"
)

type MemoryStorage struct {
	mu    sync.RWMutex
	users map[int64]*models.User
	links map[int64][]models.Watch
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users: make(map[int64]*models.User),
		links: make(map[int64][]models.Watch),
	}
}

// User methods
func (s *MemoryStorage) InsertUser(ctx context.Context, user *models.User) error {
	if user.Username == "" {
		return ErrInvalidUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return nil
	}
	s.users[user.ID] = &models.User{
		ID:        user.ID,
		Username:  models.TruncateUsername(user.Username),
		CreatedAt: time.Now(),
	}
	return nil
}

func (s *MemoryStorage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[userID]
	if !exists {
		return nil, ErrNotFound
	}
	u := *user
	return &u, nil
}

func (s *MemoryStorage) DeleteUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	delete(s.links, userID)
	return nil
}

// Link methods
func (s *MemoryStorage) InsertLink(ctx context.Context, watch *models.Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[watch.UserID]; !exists {
		return ErrNotFound
	}
	for _, w := range s.links[watch.UserID] {
		if w.URL == watch.URL {
			return ErrDuplicate
		}
	}

	w := *watch
	w.CreatedAt = time.Now()
	s.links[watch.UserID] = append(s.links[watch.UserID], w)
	return nil
}

func (s *MemoryStorage) DeleteLink(ctx context.Context, userID int64, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := s.links[userID]
	for i, w := range links {
		if w.URL == url {
			s.links[userID] = append(links[:i:i], links[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStorage) GetCountLinks(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.links[userID]), nil
}

func (s *MemoryStorage) GetLinks(ctx context.Context, userID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	urls := make([]string, 0, len(s.links[userID]))
	for _, w := range s.links[userID] {
		urls = append(urls, w.URL)
	}
	return urls, nil
}

func (s *MemoryStorage) GetTask(ctx context.Context, userID int64, url string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.links[userID] {
		if w.URL == url {
			return w.TaskID, nil
		}
	}
	return "", ErrNotFound
}

func (s *MemoryStorage) GetTasks(ctx context.Context, userID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]string, 0, len(s.links[userID]))
	for _, w := range s.links[userID] {
		tasks = append(tasks, w.TaskID)
	}
	return tasks, nil
}

func (s *MemoryStorage) GetWatches(ctx context.Context, userID int64) ([]models.Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.Watch(nil), s.links[userID]...), nil
}

func (s *MemoryStorage) GetAllTasks(ctx context.Context) ([]string, error) {
	watches, err := s.GetAllWatches(ctx)
	if err != nil {
		return nil, err
	}

	tasks := make([]string, 0, len(watches))
	for _, w := range watches {
		tasks = append(tasks, w.TaskID)
	}
	return tasks, nil
}

func (s *MemoryStorage) GetAllWatches(ctx context.Context) ([]models.Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var watches []models.Watch
	for _, links := range s.links {
		watches = append(watches, links...)
	}
	return watches, nil
}

func (s *MemoryStorage) GetWatchByTask(ctx context.Context, userID int64, taskID string) (*models.Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.links[userID] {
		if w.TaskID == taskID {
			found := w
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) CheckLinkExists(ctx context.Context, userID int64, url string) (bool, error) {
	_, err := s.GetTask(ctx, userID, url)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
