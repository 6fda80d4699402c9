// Package summary describes what changed between two snapshots of a page so
// change notifications can say more than "something changed".
package summary

import (
	"context"
	"fmt"
	"strings"
)

// Summarizer renders a short human-readable description of a change.
type Summarizer interface {
	Summarize(ctx context.Context, url, prev, curr string) (string, error)
}

// LineDiffSummarizer counts lines that appeared or disappeared between two
// snapshots. It needs no external service.
type LineDiffSummarizer struct{}

func NewLineDiffSummarizer() *LineDiffSummarizer {
	return &LineDiffSummarizer{}
}

func (s *LineDiffSummarizer) Summarize(ctx context.Context, url, prev, curr string) (string, error) {
	added, removed := lineDiff(prev, curr)
	switch {
	case added == 0 && removed == 0:
		return "Lines were reordered or reformatted.", nil
	case removed == 0:
		return fmt.Sprintf("%s added.", plural(added, "line")), nil
	case added == 0:
		return fmt.Sprintf("%s removed.", plural(removed, "line")), nil
	default:
		return fmt.Sprintf("%s added, %s removed.", plural(added, "line"), plural(removed, "line")), nil
	}
}

// lineDiff compares the two snapshots as multisets of trimmed, non-empty lines
func lineDiff(prev, curr string) (added, removed int) {
	counts := make(map[string]int)
	for _, line := range splitLines(prev) {
		counts[line]++
	}
	for _, line := range splitLines(curr) {
		if counts[line] > 0 {
			counts[line]--
			continue
		}
		added++
	}
	for _, n := range counts {
		removed += n
	}
	return added, removed
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
