package conversation

import (
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrEmptyURL is returned when no URL text was supplied.
	ErrEmptyURL = errors.New("empty url")
	// ErrInvalidURL is returned when the text is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid url")
)

// NormalizeURL reduces raw to scheme://host/path: spaces, user info, query
// string, fragment and trailing slashes are dropped, scheme and host are
// lowercased. The result is a fixed point of NormalizeURL.
func NormalizeURL(raw string) (string, error) {
	raw = strings.Join(strings.Fields(raw), "")
	if raw == "" {
		return "", ErrEmptyURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrInvalidURL
	}
	if u.Hostname() == "" || u.Opaque != "" {
		return "", ErrInvalidURL
	}

	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	// Trim the escaped form so reserved escapes such as %2F survive.
	escaped := strings.TrimRight(u.EscapedPath(), "/")
	path, err := url.PathUnescape(escaped)
	if err != nil {
		return "", ErrInvalidURL
	}
	u.Path, u.RawPath = path, escaped

	return u.String(), nil
}
