// Package answer drives a single prompt/answer lifecycle: it submits prompts
// to a Source, republishes streaming progress as a state sequence, and hands
// accepted answers to the history layer exactly once.
package answer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/snaplearn/snaplearn/internal/metrics"
)

const (
	emptyPromptMessage  = "Question cannot be empty"
	unknownErrorMessage = "Unknown error occurred"
)

// Saver receives accepted question/answer pairs. Satisfied by
// history.Controller.
type Saver interface {
	Save(question, answer string)
}

// Engine owns the answer state machine. One engine serves one UI surface;
// Submit and Save return immediately and progress is observed through Watch.
// Fragments of a superseded generation never mutate state: every generation
// is tagged with a sequence number and stale events are discarded.
type Engine struct {
	source  Source
	history Saver
	metrics *metrics.Collector
	logger  *slog.Logger

	mu           sync.Mutex
	state        State
	seq          uint64
	cancel       context.CancelFunc
	done         chan struct{}
	lastQuestion string
	lastAnswer   string
	watchers     map[int]chan State
	nextWatcher  int
}

// New creates an Engine in the Initial state. history may be nil if saving is
// not needed (e.g. one-shot API requests); collector may be nil.
func New(source Source, history Saver, collector *metrics.Collector) *Engine {
	done := make(chan struct{})
	close(done)
	return &Engine{
		source:   source,
		history:  history,
		metrics:  collector,
		logger:   slog.Default(),
		state:    Initial(),
		done:     done,
		watchers: make(map[int]chan State),
	}
}

// Current returns the most recently published state.
func (e *Engine) Current() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Watch returns a channel carrying the state sequence, starting with the
// current state. The channel conflates: a slow receiver always gets the
// latest state, intermediate states may be skipped. The returned stop
// function removes the subscription; the channel is never closed.
func (e *Engine) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	e.mu.Lock()
	id := e.nextWatcher
	e.nextWatcher++
	e.watchers[id] = ch
	ch <- e.state
	e.mu.Unlock()

	stop := func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
	return ch, stop
}

// Submit starts a new generation for prompt and returns immediately.
// A blank prompt transitions straight to Error without visiting Loading.
// A non-blank prompt supersedes any generation still in flight: the old
// one is cancelled and its late results are discarded.
func (e *Engine) Submit(prompt string) {
	e.mu.Lock()

	// Every submit starts a new sequence; anything tagged with an older
	// number is dead from this point on.
	e.seq++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.closeDoneLocked()

	if strings.TrimSpace(prompt) == "" {
		e.metrics.CountError("validation")
		e.setStateLocked(Error(emptyPromptMessage))
		e.mu.Unlock()
		return
	}

	seq := e.seq
	e.lastQuestion = prompt
	e.lastAnswer = ""
	e.done = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.setStateLocked(Loading())
	e.mu.Unlock()

	e.metrics.CountEvent("submit")
	go e.generate(ctx, seq, prompt)
}

// Done returns a channel that is closed when the generation in flight at the
// time of the call reaches its terminal state or is superseded. If nothing is
// in flight the channel is already closed.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Save hands the finished answer to the history layer, at most once per
// answer. It is a no-op unless the current state is an unsaved Success with
// both question and answer present. The Saved flag means "save was
// requested"; durability is the history layer's concern and its failures are
// reported out of band, not through the state machine.
func (e *Engine) Save() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Kind != KindSuccess || e.state.Saved {
		return
	}
	if e.lastQuestion == "" || e.lastAnswer == "" {
		return
	}
	if e.history == nil {
		return
	}

	// Guard check and flag flip happen under one lock hold, so a second
	// Save can never schedule a duplicate append.
	question, answerText := e.lastQuestion, e.lastAnswer
	go e.history.Save(question, answerText)

	st := e.state
	st.Saved = true
	e.setStateLocked(st)
	e.metrics.CountEvent("save")
}

func (e *Engine) generate(ctx context.Context, seq uint64, prompt string) {
	start := time.Now()

	stream, err := e.source.GenerateStream(ctx, prompt)
	if err != nil {
		e.metrics.CountError("generation")
		e.finishError(seq, err)
		return
	}

	var buf strings.Builder
	for frag := range stream {
		if frag.Err != nil {
			e.metrics.CountError("generation")
			e.finishError(seq, frag.Err)
			return
		}
		buf.WriteString(frag.Text)
		if !e.publishPartial(seq, buf.String()) {
			// Superseded; the new submit already cancelled ctx, which asks
			// the source to stop. Remaining fragments are dropped unread.
			return
		}
	}

	e.metrics.RecordTiming("generation", time.Since(start))
	e.finishSuccess(seq, buf.String())
}

// publishPartial publishes the running total as a fresh Success state.
// Returns false when the generation has been superseded.
func (e *Engine) publishPartial(seq uint64, text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.seq {
		return false
	}
	e.setStateLocked(Success(text))
	return true
}

func (e *Engine) finishSuccess(seq uint64, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.seq {
		return
	}
	e.lastAnswer = text
	e.cancel = nil
	e.setStateLocked(Success(text))
	e.closeDoneLocked()
}

func (e *Engine) finishError(seq uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.seq {
		return
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = unknownErrorMessage
	}
	e.logger.Warn("generation failed", "error", err)
	e.cancel = nil
	e.setStateLocked(Error(msg))
	e.closeDoneLocked()
}

// closeDoneLocked closes the done channel if it is still open. Nothing ever
// sends on done, so a ready receive means it is already closed.
func (e *Engine) closeDoneLocked() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// setStateLocked publishes a new state to all watchers. Callers hold e.mu.
func (e *Engine) setStateLocked(s State) {
	e.state = s
	for _, ch := range e.watchers {
		// Conflating send: drop the stale buffered state, keep the latest.
		for {
			select {
			case ch <- s:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
