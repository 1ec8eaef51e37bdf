package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tubewise/tubewise/config"
)

const defaultBackoff = 500 * time.Millisecond

// Client talks to the OpenAI embeddings and chat completions APIs. It batches
// embedding requests, retries transient failures with exponential backoff and
// classifies terminal errors.
type Client struct {
	apiKey          string
	baseURL         string
	completionModel string
	embeddingModel  string
	batchSize       int
	maxRetries      int
	temperature     float64
	maxTokens       int
	backoff         time.Duration
	httpClient      *http.Client
}

// Message represents a message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewClient creates an OpenAI client from config.
func NewClient(cfg config.OpenAIConfig) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	batch := cfg.EmbeddingBatchSize
	if batch <= 0 {
		batch = 64
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		completionModel: cfg.CompletionModel,
		embeddingModel:  cfg.EmbeddingModel,
		batchSize:       batch,
		maxRetries:      retries,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		backoff:         defaultBackoff,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// CreateEmbedding generates one vector per input text, in input order. Inputs
// exceeding the batch ceiling are split transparently; a failure anywhere
// fails the whole call so the caller never sees a short result. Empty inputs
// are rejected before any network call.
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty text at position %d", ErrInvalidInput, i)
		}
	}

	vecs := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrProviderUnavailable, end-start, len(batch))
		}
		vecs = append(vecs, batch...)
	}
	return vecs, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	requestBody := map[string]interface{}{
		"model":           c.embeddingModel,
		"input":           texts,
		"encoding_format": "float",
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, c.baseURL+"/embeddings", requestBody, &resp); err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrProviderUnavailable, d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// Complete sends a chat completion request and returns the assistant text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	requestBody := completionRequest{
		Model:       c.completionModel,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	var resp completionResponse
	if err := c.doJSON(ctx, c.baseURL+"/chat/completions", requestBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrProviderUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// doJSON posts body and decodes the response into out, retrying 429/5xx and
// transport errors with exponential backoff up to maxRetries.
func (c *Client) doJSON(ctx context.Context, url string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	tries := c.maxRetries + 1
	for attempt := 0; attempt < tries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		} else {
			retry, cerr := classifyResponse(resp, out)
			resp.Body.Close()
			if cerr == nil {
				return nil
			}
			lastErr = cerr
			if !retry {
				return cerr
			}
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// classifyResponse maps an HTTP response to the error taxonomy. The bool
// reports whether the failure is worth retrying.
func classifyResponse(resp *http.Response, out interface{}) (bool, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("%w: failed to parse response: %v", ErrProviderUnavailable, err)
		}
		return false, nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("%w: %s: %s", ErrRateLimited, resp.Status, strings.TrimSpace(string(detail)))
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("%w: %s: %s", ErrProviderUnavailable, resp.Status, strings.TrimSpace(string(detail)))
	default:
		return false, fmt.Errorf("%w: %s: %s", ErrInvalidInput, resp.Status, strings.TrimSpace(string(detail)))
	}
}
