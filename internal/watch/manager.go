package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/pagewatch-bot/internal/fetcher"
	"github.com/xaenox/pagewatch-bot/internal/models"
	"github.com/xaenox/pagewatch-bot/internal/storage"
	"github.com/xaenox/pagewatch-bot/internal/summary"
)

// Manager creates, tracks and cancels one polling loop per (user, URL) pair.
// It is the only writer of the registry and the only owner of the task table.
type Manager struct {
	registry   storage.Registry
	fetcher    fetcher.Fetcher
	notifier   Notifier
	summarizer summary.Summarizer
	cfg        Config
	logger     *zap.Logger

	mu    sync.Mutex
	tasks map[string]*task
	// userLocks serializes control operations per user so capacity and
	// duplicate checks cannot interleave with a concurrent insert. Entries
	// live only while some caller holds or waits for them.
	userLocks map[int64]*userLock

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	wg         sync.WaitGroup
}

// NewManager builds a manager. summarizer may be nil.
func NewManager(registry storage.Registry, f fetcher.Fetcher, notifier Notifier, summarizer summary.Summarizer, cfg Config, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Manager{
		registry:   registry,
		fetcher:    f,
		notifier:   notifier,
		summarizer: summarizer,
		cfg:        cfg.withDefaults(),
		logger:     logger.Named("watch"),
		tasks:      make(map[string]*task),
		userLocks:  make(map[int64]*userLock),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// MaxPerUser is the configured per-user watch cap.
func (m *Manager) MaxPerUser() int {
	return m.cfg.MaxPerUser
}

// RegisterUser records a user. Registering an existing user is a no-op.
func (m *Manager) RegisterUser(ctx context.Context, userID int64, username string) error {
	if err := m.registry.InsertUser(ctx, &models.User{ID: userID, Username: username}); err != nil {
		return fmt.Errorf("register user %d: %w", userID, err)
	}
	return nil
}

func (m *Manager) UserExists(ctx context.Context, userID int64) (bool, error) {
	_, err := m.registry.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get user %d: %w", userID, err)
	}
	return true, nil
}

func (m *Manager) CountWatches(ctx context.Context, userID int64) (int, error) {
	count, err := m.registry.GetCountLinks(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count watches for user %d: %w", userID, err)
	}
	return count, nil
}

// ListWatches returns the user's URLs in the order they were added.
func (m *Manager) ListWatches(ctx context.Context, userID int64) ([]string, error) {
	urls, err := m.registry.GetLinks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list watches for user %d: %w", userID, err)
	}
	return urls, nil
}

// UserWatches returns the user's watches, handles included, in the order
// they were added.
func (m *Manager) UserWatches(ctx context.Context, userID int64) ([]models.Watch, error) {
	watches, err := m.registry.GetWatches(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list watches for user %d: %w", userID, err)
	}
	return watches, nil
}

// FindByTask resolves a task handle owned by userID to its URL.
func (m *Manager) FindByTask(ctx context.Context, userID int64, taskID string) (string, error) {
	w, err := m.registry.GetWatchByTask(ctx, userID, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find task %s: %w", taskID, err)
	}
	return w.URL, nil
}

// CreateWatch stores a new watch for userID and starts its polling loop.
// The user must already be registered.
func (m *Manager) CreateWatch(ctx context.Context, userID int64, url string) (*models.Watch, error) {
	unlock := m.lockUser(userID)
	defer unlock()

	count, err := m.registry.GetCountLinks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count watches for user %d: %w", userID, err)
	}
	if count >= m.cfg.MaxPerUser {
		return nil, ErrCapacityExceeded
	}

	exists, err := m.registry.CheckLinkExists(ctx, userID, url)
	if err != nil {
		return nil, fmt.Errorf("check watch for user %d: %w", userID, err)
	}
	if exists {
		return nil, ErrDuplicateWatch
	}

	w := &models.Watch{
		UserID: userID,
		URL:    url,
		TaskID: uuid.NewString(),
	}
	if err := m.registry.InsertLink(ctx, w); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrDuplicateWatch
		}
		return nil, fmt.Errorf("insert watch for user %d: %w", userID, err)
	}

	m.startTask(w)
	m.logger.Info("Watch created",
		zap.Int64("user_id", userID),
		zap.String("url", url),
		zap.String("task_id", w.TaskID))
	return w, nil
}

// CancelWatch stops the loop servicing (userID, url) and removes the watch.
// The record is removed even when no live loop is found.
func (m *Manager) CancelWatch(ctx context.Context, userID int64, url string) error {
	unlock := m.lockUser(userID)
	defer unlock()

	taskID, err := m.registry.GetTask(ctx, userID, url)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get task for user %d: %w", userID, err)
	}

	m.awaitStopped(m.signalStop(taskID))

	if err := m.registry.DeleteLink(ctx, userID, url); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete watch for user %d: %w", userID, err)
	}
	m.logger.Info("Watch cancelled",
		zap.Int64("user_id", userID),
		zap.String("url", url),
		zap.String("task_id", taskID))
	return nil
}

// CancelAllForUser stops every loop owned by userID, then deletes the user
// and, by cascade, their watches. Calling it for an unknown user succeeds.
func (m *Manager) CancelAllForUser(ctx context.Context, userID int64) error {
	unlock := m.lockUser(userID)
	defer unlock()

	taskIDs, err := m.registry.GetTasks(ctx, userID)
	if err != nil {
		return fmt.Errorf("get tasks for user %d: %w", userID, err)
	}

	live := make([]*task, 0, len(taskIDs))
	for _, id := range taskIDs {
		if t := m.signalStop(id); t != nil {
			live = append(live, t)
		}
	}
	m.awaitStopped(live...)

	if err := m.registry.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user %d: %w", userID, err)
	}
	m.logger.Info("All watches cancelled",
		zap.Int64("user_id", userID),
		zap.Int("watches", len(taskIDs)),
		zap.Int("live_tasks", len(live)))
	return nil
}

// Restore starts a loop for every stored watch that has none, reusing the
// stored handle. It returns how many loops were started.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	watches, err := m.registry.GetAllWatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("load watches: %w", err)
	}

	started := 0
	for i := range watches {
		if m.IsLive(watches[i].TaskID) {
			continue
		}
		m.startTask(&watches[i])
		started++
	}
	m.logger.Info("Watches restored", zap.Int("started", started), zap.Int("stored", len(watches)))
	return started, nil
}

// Shutdown stops every loop without stop notifications and waits for them
// to exit or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.baseCancel(errShuttingDown)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for watch loops: %w", ctx.Err())
	}
}

// IsLive reports whether a loop with the given handle is in the task table.
func (m *Manager) IsLive(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[taskID]
	return ok
}

// ActiveTasks returns the number of live loops.
func (m *Manager) ActiveTasks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *Manager) startTask(w *models.Watch) {
	ctx, cancel := context.WithCancelCause(m.baseCtx)
	t := &task{
		id:     w.TaskID,
		userID: w.UserID,
		url:    w.URL,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[t.id] = t
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, t)
}

// signalStop requests cooperative cancellation of a live task. It returns
// nil when no loop owns the handle.
func (m *Manager) signalStop(taskID string) *task {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()

	if !ok {
		m.logger.Warn("No live loop for stored watch", zap.String("task_id", taskID))
		return nil
	}
	t.state.Store(int32(TaskCancelling))
	t.cancel(errStopRequested)
	return t
}

// awaitStopped waits, bounded by the cancel grace, for tasks to acknowledge.
func (m *Manager) awaitStopped(tasks ...*task) {
	deadline := time.NewTimer(m.cfg.CancelGrace)
	defer deadline.Stop()

	for _, t := range tasks {
		if t == nil {
			continue
		}
		select {
		case <-t.done:
		case <-deadline.C:
			m.logger.Warn("Watch loop did not acknowledge cancellation in time",
				zap.String("task_id", t.id),
				zap.Stringer("state", t.State()),
				zap.Duration("grace", m.cfg.CancelGrace))
			return
		}
	}
}

func (m *Manager) forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (m *Manager) lockUser(userID int64) func() {
	m.mu.Lock()
	l, ok := m.userLocks[userID]
	if !ok {
		l = &userLock{}
		m.userLocks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		defer m.mu.Unlock()
		if l.refs--; l.refs == 0 {
			delete(m.userLocks, userID)
		}
	}
}
