// Package gemini implements the answer source against the Google
// Generative Language REST API.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/snaplearn/snaplearn/internal/answer"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel     = "gemini-1.5-flash"
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	maxRetries       = 3
	initialBackoff   = 500 * time.Millisecond
)

// Client communicates with the Gemini API. It implements answer.Source.
type Client struct {
	apiKey          string
	baseURL         string
	model           string
	temperature     float64
	maxOutputTokens int
	httpClient      *http.Client
}

// Options tunes generation. Zero values select the defaults.
type Options struct {
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

// NewClient creates a Gemini client with the given API key.
func NewClient(apiKey string, opts Options) *Client {
	c := &Client{
		apiKey:          apiKey,
		baseURL:         defaultBaseURL,
		model:           defaultModel,
		temperature:     0.7,
		maxOutputTokens: 2048,
		httpClient: &http.Client{
			Timeout: 0, // per-request timeouts via context
		},
	}
	if opts.BaseURL != "" {
		c.baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Model != "" {
		c.model = opts.Model
	}
	if opts.Temperature > 0 {
		c.temperature = opts.Temperature
	}
	if opts.MaxOutputTokens > 0 {
		c.maxOutputTokens = opts.MaxOutputTokens
	}
	return c
}

// --- Wire types ---

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
	Error      *apiError   `json:"error"`
}

type candidate struct {
	Content content `json:"content"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

// Generate returns the whole answer for the prompt in one call.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, ":generateContent", prompt, defaultTimeout, false)
	if err != nil {
		return "", err
	}
	defer resp.Close()

	var result generateResponse
	if err := json.NewDecoder(resp).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return joinCandidateText(result), nil
}

// GenerateStream returns the answer as a channel of text fragments, read
// from the API's SSE stream. Failing mid-stream surfaces as a terminal
// fragment with Err set; the channel is closed either way. Cancelling ctx
// stops the stream.
func (c *Client) GenerateStream(ctx context.Context, prompt string) (<-chan answer.Fragment, error) {
	resp, err := c.post(ctx, ":streamGenerateContent?alt=sse", prompt, streamingTimeout, true)
	if err != nil {
		return nil, err
	}

	out := make(chan answer.Fragment)
	go func() {
		defer close(out)
		defer resp.Close()

		scanner := bufio.NewScanner(resp)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				continue
			}

			var chunk generateResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				sendFragment(ctx, out, answer.Fragment{Err: fmt.Errorf("decoding stream chunk: %w", err)})
				return
			}
			if chunk.Error != nil {
				sendFragment(ctx, out, answer.Fragment{Err: fmt.Errorf("%s", chunk.Error.Message)})
				return
			}

			if text := joinCandidateText(chunk); text != "" {
				if !sendFragment(ctx, out, answer.Fragment{Text: text}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			sendFragment(ctx, out, answer.Fragment{Err: fmt.Errorf("reading stream: %w", err)})
		}
	}()

	return out, nil
}

func sendFragment(ctx context.Context, out chan<- answer.Fragment, f answer.Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func joinCandidateText(resp generateResponse) string {
	var b strings.Builder
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// post sends a generate request for the given method suffix, retrying with
// exponential backoff on 429. The returned body must be closed by the
// caller; closing also releases the request's timeout context.
func (c *Client) post(ctx context.Context, method, prompt string, timeout time.Duration, stream bool) (io.ReadCloser, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxOutputTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	sep := "?"
	if strings.Contains(method, "?") {
		sep = "&"
	}
	url := fmt.Sprintf("%s/models/%s%s%skey=%s", c.baseURL, c.model, method, sep, c.apiKey)

	var lastErr error
	for attempt := range maxRetries {
		rc, err := c.doPost(ctx, url, body, timeout)
		if err == nil {
			return rc, nil
		}

		if !isRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) doPost(ctx context.Context, url string, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		cancel()
		return nil, &rateLimitError{status: resp.StatusCode}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%s", apiErrorMessage(resp.StatusCode, respBody))
	}

	// Wrap the body so the timeout context cancel is called when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// apiErrorMessage extracts the API's error message from a failure body,
// falling back to the raw status when the body is not the documented shape.
func apiErrorMessage(status int, body []byte) string {
	var parsed struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return fmt.Sprintf("unexpected status %d: %s", status, string(body))
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
