package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", Options{BaseURL: srv.URL, Model: "test-model"})
}

func sseChunk(text string) string {
	payload, _ := json.Marshal(generateResponse{
		Candidates: []candidate{{Content: content{Parts: []part{{Text: text}}}}},
	})
	return fmt.Sprintf("data: %s\n\n", payload)
}

func collect(t *testing.T, c *Client, prompt string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.GenerateStream(ctx, prompt)
	if err != nil {
		return "", err
	}
	var full strings.Builder
	for frag := range stream {
		if frag.Err != nil {
			return full.String(), frag.Err
		}
		full.WriteString(frag.Text)
	}
	return full.String(), nil
}

func TestGenerateStream(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/models/test-model:streamGenerateContent" {
			t.Errorf("path = %q", got)
		}
		if got := r.URL.Query().Get("alt"); got != "sse" {
			t.Errorf("alt = %q, want sse", got)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q", got)
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "hello" {
			t.Errorf("request contents = %+v", req.Contents)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Kot", "lin ", "rocks"} {
			fmt.Fprint(w, sseChunk(chunk))
		}
	})

	got, err := collect(t, c, "hello")
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "Kotlin rocks" {
		t.Errorf("accumulated = %q, want %q", got, "Kotlin rocks")
	}
}

func TestGenerateStreamIgnoresKeepAliveLines(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, sseChunk("answer"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	got, err := collect(t, c, "q")
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if got != "answer" {
		t.Errorf("accumulated = %q", got)
	}
}

func TestGenerateStreamMidStreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseChunk("partial"))
		payload, _ := json.Marshal(generateResponse{
			Error: &apiError{Code: 429, Message: "rate limited", Status: "RESOURCE_EXHAUSTED"},
		})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	})

	got, err := collect(t, c, "q")
	if err == nil {
		t.Fatal("expected a terminal stream error")
	}
	if err.Error() != "rate limited" {
		t.Errorf("error = %q, want message passthrough", err.Error())
	}
	if got != "partial" {
		t.Errorf("text before failure = %q", got)
	}
}

func TestGenerateStreamHTTPErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"},
		})
	})

	ctx := context.Background()
	if _, err := c.GenerateStream(ctx, "q"); err == nil || err.Error() != "API key not valid" {
		t.Errorf("err = %v, want API message passthrough", err)
	}
}

func TestGenerateStreamRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, sseChunk("recovered"))
	})

	got, err := collect(t, c, "q")
	if err != nil {
		t.Fatalf("stream error after retry: %v", err)
	}
	if got != "recovered" {
		t.Errorf("accumulated = %q", got)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server called %d times, want 2", n)
	}
}

func TestGenerateStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseChunk("first"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.GenerateStream(ctx, "q")
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}

	frag := <-stream
	if frag.Text != "first" {
		t.Fatalf("first fragment = %+v", frag)
	}

	cancel()

	// The stream must terminate promptly after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not terminate after cancel")
		}
	}
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Path; got != "/models/test-model:generateContent" {
			t.Errorf("path = %q", got)
		}
		json.NewEncoder(w).Encode(generateResponse{
			Candidates: []candidate{{Content: content{Parts: []part{
				{Text: "full "}, {Text: "answer"},
			}}}},
		})
	})

	got, err := c.Generate(context.Background(), "q")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "full answer" {
		t.Errorf("answer = %q", got)
	}
}

func TestOptionsDefaults(t *testing.T) {
	c := NewClient("k", Options{})
	if c.baseURL != defaultBaseURL {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.model != defaultModel {
		t.Errorf("model = %q", c.model)
	}
	if c.temperature != 0.7 || c.maxOutputTokens != 2048 {
		t.Errorf("defaults = %v/%d", c.temperature, c.maxOutputTokens)
	}
}
