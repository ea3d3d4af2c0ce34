// Package api exposes the local HTTP surface: a streaming answers endpoint
// plus REST access to the saved history, and an MCP server for agent clients.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snaplearn/snaplearn/internal/answer"
	"github.com/snaplearn/snaplearn/internal/history"
	"github.com/snaplearn/snaplearn/internal/metrics"
	"github.com/snaplearn/snaplearn/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store   *storage.Store
	Source  answer.Source
	History *history.Controller
	Metrics *metrics.Collector
	Token   string
}

// NewHandler returns the HTTP handler for the local daemon. The health
// endpoint is open; everything else requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/answers", handleAnswer(deps))
		r.Get("/v1/metrics", handleMetrics(deps))
		r.Get("/v1/history", handleListHistory(deps))
		r.Get("/v1/history/{id}", handleGetHistory(deps))
		r.Post("/v1/history", handleSaveHistory(deps))
		r.Delete("/v1/history/{id}", handleDeleteHistory(deps))
		r.Post("/v1/history/{id}/favorite", handleFavorite(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// AnswerRequest asks for one answer. With stream=true the response is an SSE
// sequence of state events; otherwise a single JSON object with the final
// text.
type AnswerRequest struct {
	Question string `json:"question"`
	Stream   bool   `json:"stream"`
	Save     bool   `json:"save"`
}

// AnswerResponse is the non-streaming response body.
type AnswerResponse struct {
	Text  string `json:"text"`
	Saved bool   `json:"saved"`
}

// stateEvent is one SSE payload; mirrors answer.State.
type stateEvent struct {
	State   string `json:"state"`
	Text    string `json:"text,omitempty"`
	Saved   bool   `json:"saved,omitempty"`
	Message string `json:"message,omitempty"`
}

func handleAnswer(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AnswerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required and must not be blank")
			return
		}

		// One engine per request: each request is its own UI surface.
		var saver answer.Saver
		if deps.History != nil {
			saver = deps.History
		}
		eng := answer.New(deps.Source, saver, deps.Metrics)

		if req.Stream {
			streamAnswer(w, r, eng, req)
			return
		}

		eng.Submit(req.Question)
		select {
		case <-eng.Done():
		case <-r.Context().Done():
			return
		}

		st := eng.Current()
		if st.Kind == answer.KindError {
			httpError(w, http.StatusBadGateway, "api_error", "%s", st.Message)
			return
		}
		if req.Save {
			eng.Save()
			st = eng.Current()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(AnswerResponse{Text: st.Text, Saved: st.Saved})
	}
}

func streamAnswer(w http.ResponseWriter, r *http.Request, eng *answer.Engine, req AnswerRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	states, stop := eng.Watch()
	defer stop()
	eng.Submit(req.Question)
	done := eng.Done()

	var last answer.State
	sent := false
	emit := func(st answer.State) {
		if sent && st == last {
			return
		}
		writeStateEvent(w, flusher, st)
		last, sent = st, true
	}

	for {
		select {
		case st := <-states:
			emit(st)
			if st.Kind == answer.KindError {
				return
			}
		case <-done:
			st := eng.Current()
			if st.Kind == answer.KindSuccess && req.Save {
				eng.Save()
				st = eng.Current()
			}
			emit(st)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeStateEvent(w http.ResponseWriter, flusher http.Flusher, st answer.State) {
	payload, err := json.Marshal(stateEvent{
		State:   st.Kind.String(),
		Text:    st.Text,
		Saved:   st.Saved,
		Message: st.Message,
	})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// timingSummary aggregates the duration samples for one operation.
type timingSummary struct {
	Count   int     `json:"count"`
	TotalMS int64   `json:"total_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

// MetricsResponse is the usage snapshot for the status surface.
type MetricsResponse struct {
	SessionSeconds float64                  `json:"session_seconds"`
	Events         map[string]int           `json:"events"`
	Errors         map[string]int           `json:"errors"`
	Timings        map[string]timingSummary `json:"timings"`
}

func handleMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Metrics.Snapshot()

		resp := MetricsResponse{
			SessionSeconds: snap.SessionDuration.Seconds(),
			Events:         snap.Events,
			Errors:         snap.Errors,
			Timings:        make(map[string]timingSummary, len(snap.Timings)),
		}
		for op, samples := range snap.Timings {
			var total time.Duration
			for _, d := range samples {
				total += d
			}
			resp.Timings[op] = timingSummary{
				Count:   len(samples),
				TotalMS: total.Milliseconds(),
				AvgMS:   float64(total.Milliseconds()) / float64(len(samples)),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// historyRecord is the REST shape of a saved question/answer.
type historyRecord struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	ImageData string `json:"image_data,omitempty"`
	CreatedAt int64  `json:"created_at"`
	Favorited bool   `json:"favorited"`
}

func toRecord(qa storage.QuestionAnswer) historyRecord {
	rec := historyRecord{
		ID:        qa.ID,
		Question:  qa.Question,
		Answer:    qa.Answer,
		CreatedAt: qa.CreatedAt,
		Favorited: qa.Favorited,
	}
	if len(qa.ImageData) > 0 {
		rec.ImageData = base64.StdEncoding.EncodeToString(qa.ImageData)
	}
	return rec
}

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")

		var (
			records []storage.QuestionAnswer
			err     error
		)
		if query == "" {
			records, err = deps.Store.ListAll()
		} else {
			records, err = deps.Store.Search(query)
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}

		out := make([]historyRecord, len(records))
		for i, qa := range records {
			out[i] = toRecord(qa)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		qa, err := deps.Store.GetByID(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "history record not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toRecord(qa))
	}
}

// SaveHistoryRequest persists an externally-produced question/answer pair.
type SaveHistoryRequest struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	ImageData string `json:"image_data"` // base64, optional
}

func handleSaveHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SaveHistoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" || req.Answer == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question and answer are required")
			return
		}

		var image []byte
		if req.ImageData != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.ImageData)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 image_data")
				return
			}
			image = decoded
		}

		qa := storage.QuestionAnswer{
			ID:        uuid.New().String(),
			Question:  req.Question,
			Answer:    req.Answer,
			ImageData: image,
			CreatedAt: time.Now().UnixMilli(),
		}
		if err := deps.Store.Append(qa); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save record: %v", err)
			return
		}
		deps.Metrics.CountEvent("api_save")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": qa.ID, "status": "saved"})
	}
}

func handleDeleteHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := deps.Store.DeleteByID(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

// FavoriteRequest toggles the favorited flag on a record.
type FavoriteRequest struct {
	Favorited bool `json:"favorited"`
}

func handleFavorite(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req FavoriteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		err := deps.Store.SetFavorited(id, req.Favorited)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "history record not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update record: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "updated", "favorited": req.Favorited})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
