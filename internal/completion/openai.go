package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/duckrelay/duckrelay/internal/observability"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Logger      *slog.Logger
}

type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
		logger:      cfg.Logger,
	}, nil
}

type chatPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Complete opens a streamed chat completion, accumulates the incremental
// content deltas in arrival order and returns the trimmed concatenation once
// the stream ends. Malformed frames are skipped without aborting the
// completion; transport failures surface as terminal errors.
func (c *OpenAIClient) Complete(ctx context.Context, conversation []Message) (string, error) {
	if len(conversation) == 0 {
		return "", fmt.Errorf("conversation is required")
	}

	body, err := json.Marshal(chatPayload{
		Model:       c.model,
		Messages:    conversation,
		Temperature: c.temperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		rawBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawBody))
	}

	accumulated, err := c.accumulate(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(accumulated), nil
}

func (c *OpenAIClient) accumulate(body io.Reader) (string, error) {
	var builder strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		frame := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if frame == doneSentinel {
			return builder.String(), nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(frame), &chunk); err != nil {
			observability.IncrementCompletionFrameSkipped()
			if c.logger != nil {
				c.logger.Warn("skipping malformed completion frame",
					slog.String("frame", frame),
					slog.Any("error", err),
				)
			}
			continue
		}
		for _, choice := range chunk.Choices {
			builder.WriteString(choice.Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read completion stream: %w", err)
	}
	return builder.String(), nil
}
