package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xaenox/pagewatch-bot/internal/models"
)

// queries holds the dialect-specific statements of a SQL backend.
type queries struct {
	insertUser     string
	getUser        string
	deleteUser     string
	insertLink     string
	deleteLink     string
	countLinks     string
	getLinks       string
	getTask        string
	getTasks       string
	getWatches     string
	getAllWatches  string
	getWatchByTask string
}

// sqlStorage implements Registry over database/sql. Writes are serialized
// through mu; reads go straight to the pool.
type sqlStorage struct {
	db *sql.DB
	mu sync.Mutex
	q  queries

	// classify maps driver errors onto ErrDuplicate / ErrNotFound.
	classify func(error) error
}

func (s *sqlStorage) InsertUser(ctx context.Context, user *models.User) error {
	if user.Username == "" {
		return ErrInvalidUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.q.insertUser,
		user.ID,
		models.TruncateUsername(user.Username),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("error inserting user: %w", err)
	}
	return nil
}

func (s *sqlStorage) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var (
		user      models.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.q.getUser, userID).Scan(&user.ID, &user.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %w", err)
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

func (s *sqlStorage) DeleteUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, s.q.deleteUser, userID); err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}
	return nil
}

func (s *sqlStorage) InsertLink(ctx context.Context, watch *models.Watch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.q.insertLink,
		watch.UserID,
		watch.URL,
		watch.TaskID,
		time.Now().Unix(),
	)
	if err != nil {
		if classified := s.classify(err); classified != nil {
			return classified
		}
		return fmt.Errorf("error inserting link: %w", err)
	}
	return nil
}

func (s *sqlStorage) DeleteLink(ctx context.Context, userID int64, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, s.q.deleteLink, userID, url)
	if err != nil {
		return fmt.Errorf("error deleting link: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStorage) GetCountLinks(ctx context.Context, userID int64) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.q.countLinks, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting links: %w", err)
	}
	return count, nil
}

func (s *sqlStorage) GetLinks(ctx context.Context, userID int64) ([]string, error) {
	return s.queryStrings(ctx, s.q.getLinks, userID)
}

func (s *sqlStorage) GetTask(ctx context.Context, userID int64, url string) (string, error) {
	var taskID string
	err := s.db.QueryRowContext(ctx, s.q.getTask, userID, url).Scan(&taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error querying task: %w", err)
	}
	return taskID, nil
}

func (s *sqlStorage) GetTasks(ctx context.Context, userID int64) ([]string, error) {
	return s.queryStrings(ctx, s.q.getTasks, userID)
}

func (s *sqlStorage) GetAllTasks(ctx context.Context) ([]string, error) {
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

func (s *sqlStorage) GetWatches(ctx context.Context, userID int64) ([]models.Watch, error) {
	return s.queryWatches(ctx, s.q.getWatches, userID)
}

func (s *sqlStorage) GetAllWatches(ctx context.Context) ([]models.Watch, error) {
	return s.queryWatches(ctx, s.q.getAllWatches)
}

func (s *sqlStorage) queryWatches(ctx context.Context, query string, args ...any) ([]models.Watch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying watches: %w", err)
	}
	defer rows.Close()

	var watches []models.Watch
	for rows.Next() {
		w, err := scanWatch(rows)
		if err != nil {
			return nil, err
		}
		watches = append(watches, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watches: %w", err)
	}
	return watches, nil
}

func (s *sqlStorage) GetWatchByTask(ctx context.Context, userID int64, taskID string) (*models.Watch, error) {
	w, err := scanWatch(s.db.QueryRowContext(ctx, s.q.getWatchByTask, userID, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

func (s *sqlStorage) CheckLinkExists(ctx context.Context, userID int64, url string) (bool, error) {
	_, err := s.GetTask(ctx, userID, url)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqlStorage) Close() error {
	return s.db.Close()
}

func (s *sqlStorage) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying links: %w", err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("error scanning link: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}
	return values, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatch(row rowScanner) (*models.Watch, error) {
	var (
		w         models.Watch
		createdAt int64
	)
	if err := row.Scan(&w.UserID, &w.URL, &w.TaskID, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("error scanning watch: %w", err)
	}
	w.CreatedAt = time.Unix(createdAt, 0)
	return &w, nil
}
