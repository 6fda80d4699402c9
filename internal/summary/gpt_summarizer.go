package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// maxSnapshotChars limits how much of each snapshot goes into the prompt.
const maxSnapshotChars = 6000

type GPTResponse struct {
	Summary string `json:"summary"`
}

type GPTSummarizer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	fallback    Summarizer
	logger      *zap.Logger
}

func NewGPTSummarizer(client *openai.Client, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTSummarizer {
	return &GPTSummarizer{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		fallback:    NewLineDiffSummarizer(),
		logger:      logger.Named("summary"),
	}
}

func (s *GPTSummarizer) Summarize(ctx context.Context, url, prev, curr string) (string, error) {
	prompt := fmt.Sprintf(`Two snapshots of the web page %s were fetched one polling interval apart.
Describe in one short sentence what changed between them, for a person who follows this page.

Return the response as a JSON object with this structure:
{
    "summary": "one_sentence_summary"
}

Previous snapshot:
%s

Current snapshot:
%s`, url, truncate(prev, maxSnapshotChars), truncate(curr, maxSnapshotChars))

	resp, err := s.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   s.maxTokens,
			Temperature: float32(s.temperature),
		},
	)
	if err != nil {
		s.logger.Error("Failed to get GPT response", zap.Error(err), zap.String("url", url))
		return s.fallback.Summarize(ctx, url, prev, curr)
	}
	if len(resp.Choices) == 0 {
		s.logger.Error("GPT response has no choices", zap.String("url", url))
		return s.fallback.Summarize(ctx, url, prev, curr)
	}

	// Parse the structured response
	var gptResponse GPTResponse
	response := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(response), &gptResponse); err != nil || gptResponse.Summary == "" {
		s.logger.Error("Failed to parse GPT response",
			zap.Error(err),
			zap.String("response", response))
		return s.fallback.Summarize(ctx, url, prev, curr)
	}

	return gptResponse.Summary, nil
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
