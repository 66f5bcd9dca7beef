// Package summary turns meeting transcripts into short written summaries
// using Claude.
package summary

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/resilience"
	"github.com/sells-group/meeting-ingest/pkg/anthropic"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-sonnet-4-5-20250929"

	// DefaultMaxTokens bounds the length of a generated summary.
	DefaultMaxTokens = 1024

	// DefaultMaxTranscriptChars is roughly 30K tokens of transcript.
	DefaultMaxTranscriptChars = 120000
)

// ErrEmptyTranscript is returned when there is nothing to summarize.
var ErrEmptyTranscript = eris.New("summary: transcript is empty")

const systemPrompt = "You write clear, neutral, factual summaries."

const userPrompt = `Summarize the following public meeting transcript.

Provide:
- 3 to 6 bullet points covering key decisions, votes, and notable discussions
- A short overview paragraph describing the meeting
- Any follow-up actions or deadlines that were mentioned

Transcript:
%s`

// Options configures a Summarizer.
type Options struct {
	Model              string
	MaxTokens          int64
	MaxTranscriptChars int
	Retry              resilience.RetryConfig
}

// Summarizer generates meeting summaries.
type Summarizer struct {
	client anthropic.Client
	opts   Options
}

// New creates a Summarizer. Zero-valued options take package defaults.
func New(client anthropic.Client, opts Options) *Summarizer {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MaxTranscriptChars <= 0 {
		opts.MaxTranscriptChars = DefaultMaxTranscriptChars
	}
	if opts.Retry.ShouldRetry == nil {
		opts.Retry.ShouldRetry = func(err error) bool {
			return anthropic.IsRetryable(err) || resilience.IsTransient(err)
		}
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("anthropic", "summarize")
	}
	return &Summarizer{client: client, opts: opts}
}

// Summarize returns a summary of transcript. Long transcripts are cut to the
// configured character budget before they are sent.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}

	body, truncated := truncate(transcript, s.opts.MaxTranscriptChars)
	if truncated {
		zap.L().Debug("summary: transcript truncated",
			zap.Int("chars", len(transcript)),
			zap.Int("limit", s.opts.MaxTranscriptChars),
		)
	}

	req := anthropic.MessageRequest{
		Model:     s.opts.Model,
		MaxTokens: s.opts.MaxTokens,
		System:    systemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(userPrompt, body)},
		},
	}

	resp, err := resilience.DoVal(ctx, s.opts.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return "", eris.Wrap(err, "summary: create message")
	}

	resp.Usage.LogCost(s.opts.Model, "summary", zap.Bool("truncated", truncated))

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", eris.New("summary: empty response")
	}
	return text, nil
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
