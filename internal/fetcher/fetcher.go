// Package fetcher retrieves watched pages and decides whether two snapshots
// of a page differ.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a page is kept as a snapshot.
const maxBodyBytes = 5 << 20

const userAgent = "Mozilla/5.0 (compatible; PageWatchBot/1.0)"

// Page is one fetched snapshot of a URL.
type Page struct {
	Body  string
	Title string
}

// Fetcher performs one timed GET against a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// FetchError reports a network failure or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError checks if an error is a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// HTTPFetcher fetches pages over HTTP.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a fetcher. A nil client uses http.DefaultClient.
func New(client *http.Client, timeout time.Duration, logger *zap.Logger) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPFetcher{
		client:  client,
		timeout: timeout,
		logger:  logger.Named("fetcher"),
	}
}

// Fetch returns the body of url as text, plus its <title> when the body is HTML.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	startTime := time.Now()
	resp, err := f.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Warn("Failed to close response body", zap.Error(closeErr))
		}
	}()

	f.logger.Debug("HTTP request completed",
		zap.String("url", url),
		zap.Int("status_code", resp.StatusCode),
		zap.Int64("duration_ms", duration.Milliseconds()))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	page := &Page{Body: string(raw)}
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		page.Title = extractTitle(page.Body)
	}
	return page, nil
}

func extractTitle(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}
