package watch

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/pagewatch-bot/internal/fetcher"
)

// TaskState is the lifecycle position of a polling loop.
type TaskState int32

const (
	TaskRunning TaskState = iota
	TaskCancelling
	TaskTerminated
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskCancelling:
		return "cancelling"
	case TaskTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var (
	errStopRequested = errors.New("stop requested")
	errShuttingDown  = errors.New("shutting down")
)

// task is the runtime half of a Watch: one polling loop bound to one URL.
type task struct {
	id     string
	userID int64
	url    string

	cancel context.CancelCauseFunc
	// done is closed once the loop has exited and left the task table.
	done  chan struct{}
	state atomic.Int32
}

func (t *task) State() TaskState {
	return TaskState(t.state.Load())
}

func (m *Manager) run(ctx context.Context, t *task) {
	defer m.wg.Done()
	defer close(t.done)
	defer m.forget(t.id)

	logger := m.logger.With(
		zap.String("task_id", t.id),
		zap.Int64("user_id", t.userID),
		zap.String("url", t.url))
	logger.Info("Watch loop started")

	timer := time.NewTimer(m.cfg.PollInterval)
	defer timer.Stop()

	var snapshot string
	for ctx.Err() == nil {
		snapshot = m.poll(t, snapshot, logger)

		timer.Reset(m.cfg.PollInterval)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}

	t.state.Store(int32(TaskCancelling))
	cause := context.Cause(ctx)
	if errors.Is(cause, errStopRequested) {
		notifyCtx, cancel := context.WithTimeout(m.baseCtx, notifyTimeout)
		if err := m.notifier.NotifyStopped(notifyCtx, t.userID, t.url); err != nil {
			logger.Error("Failed to send stop notification", zap.Error(err))
		}
		cancel()
	}
	t.state.Store(int32(TaskTerminated))
	logger.Info("Watch loop terminated", zap.NamedError("cause", cause))
}

// poll runs one fetch/compare cycle and returns the snapshot to keep.
func (m *Manager) poll(t *task, prev string, logger *zap.Logger) string {
	// Work already in flight outlives a stop request, which is honored at
	// the next check, but not a shutdown: it runs under the manager context.
	page, err := m.fetcher.Fetch(m.baseCtx, t.url)
	if err != nil {
		if fetcher.IsFetchError(err) {
			logger.Warn("Fetch failed, treating cycle as unchanged", zap.Error(err))
		} else {
			logger.Error("Fetcher returned an unexpected error, treating cycle as unchanged", zap.Error(err))
		}
		return prev
	}

	if !fetcher.Changed(prev, page.Body) {
		logger.Debug("Content unchanged")
		return page.Body
	}

	logger.Info("Content changed")
	notifyCtx, cancel := context.WithTimeout(m.baseCtx, notifyTimeout)
	defer cancel()

	change := Change{URL: t.url, Title: page.Title}
	if m.summarizer != nil {
		summary, err := m.summarizer.Summarize(notifyCtx, t.url, prev, page.Body)
		if err != nil {
			logger.Warn("Failed to summarize change", zap.Error(err))
		}
		change.Summary = summary
	}
	if err := m.notifier.NotifyChange(notifyCtx, t.userID, change); err != nil {
		logger.Error("Failed to send change notification", zap.Error(err))
	}
	return page.Body
}
