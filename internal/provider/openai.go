// Package provider implements the completion-provider client.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
)

// ChatCompletionURL is the endpoint for OpenAI chat completions.
const ChatCompletionURL = "https://api.openai.com/v1/chat/completions"

// maxErrorBodySize caps how much of a failed response body is read for diagnostics.
const maxErrorBodySize = 4096

// ErrNotConfigured is returned when no provider API key is configured.
var ErrNotConfigured = errors.New("OPENAI_API_KEY not configured")

// ChatMessage is one role/content entry sent to the completion endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls an OpenAI-compatible chat-completion endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a completion client. An empty apiKey produces a client
// whose calls fail with ErrNotConfigured so the server can still start and
// report the missing configuration through its health endpoint.
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: ChatCompletionURL,
		// No client-level timeout: streams can legitimately run for minutes.
		// The request context bounds each call instead.
		httpClient: &http.Client{},
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Stream opens a streaming completion request and yields content fragments
// in arrival order. The sequence is finite and non-restartable: it ends
// after the provider's done marker or a single terminal error. Abandoning
// the iterator releases the underlying connection.
func (c *Client) Stream(ctx context.Context, messages []ChatMessage) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if c.apiKey == "" {
			yield("", ErrNotConfigured)
			return
		}

		resp, err := c.do(ctx, messages, true)
		if err != nil {
			yield("", err)
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				slog.Debug("failed to close completion stream body", "error", closeErr)
			}
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				yield("", fmt.Errorf("decode stream chunk: %w", err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if !yield(content, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield("", fmt.Errorf("read completion stream: %w", err))
		}
	}
}

// Complete performs a non-streaming completion request and returns the full reply.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	resp, err := c.do(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close completion response body", "error", closeErr)
		}
	}()

	var completion completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("completion response contained no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *Client) do(ctx context.Context, messages []ChatMessage, stream bool) (*http.Response, error) {
	body, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   stream,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call completion endpoint: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close completion error body", "error", closeErr)
		}
		return nil, fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return resp, nil
}

// ClassifyError converts a provider failure into a caller-facing message.
// Classification is deliberately substring-based: the upstream error bodies
// are not stable enough to parse structurally.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNotConfigured) {
		return "The AI service is not configured. Please set an OpenAI API key."
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "returned 429"):
		return "The AI service is receiving too many requests right now. Please try again in a moment."
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "authentication") || strings.Contains(msg, "incorrect api key") || strings.Contains(msg, "returned 401"):
		return "The AI service rejected the configured credentials. Please check the API key."
	default:
		return "Something went wrong while generating a response. Please try again."
	}
}
