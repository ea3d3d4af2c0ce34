// Package history bridges the answer engine's save intent to the SQLite
// store and exposes the read side as live snapshot streams.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snaplearn/snaplearn/internal/metrics"
	"github.com/snaplearn/snaplearn/internal/storage"
)

// Controller is a thin, stateless wrapper over the store. Liveness of List
// and Search is delegated entirely to the store's change notification; the
// controller buffers and caches nothing.
type Controller struct {
	store   *storage.Store
	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates a Controller. collector may be nil.
func New(store *storage.Store, collector *metrics.Collector) *Controller {
	return &Controller{
		store:   store,
		metrics: collector,
		logger:  slog.Default(),
	}
}

// List returns a live stream of full history snapshots, newest first. The
// current snapshot is emitted immediately and a fresh one after every store
// mutation. The channel conflates (a slow receiver gets the latest snapshot)
// and is closed when ctx is cancelled. Store failures degrade to an empty
// snapshot plus a log entry; the stream itself never terminates on error.
func (c *Controller) List(ctx context.Context) <-chan []storage.QuestionAnswer {
	return c.watch(ctx, func() ([]storage.QuestionAnswer, error) {
		return c.store.ListAll()
	})
}

// Search behaves like List filtered to records whose question or answer
// contains query as a case-insensitive substring. An empty query is
// equivalent to List.
func (c *Controller) Search(ctx context.Context, query string) <-chan []storage.QuestionAnswer {
	return c.watch(ctx, func() ([]storage.QuestionAnswer, error) {
		return c.store.Search(query)
	})
}

func (c *Controller) watch(ctx context.Context, snapshot func() ([]storage.QuestionAnswer, error)) <-chan []storage.QuestionAnswer {
	out := make(chan []storage.QuestionAnswer, 1)
	changes := c.store.Watch(ctx)

	emit := func() {
		records, err := snapshot()
		if err != nil {
			c.logger.Error("history query failed", "error", err)
			c.metrics.CountError("history_query")
			records = []storage.QuestionAnswer{}
		}
		// Conflating send: replace a stale unconsumed snapshot.
		for {
			select {
			case out <- records:
			default:
				select {
				case <-out:
				default:
				}
				continue
			}
			break
		}
	}

	go func() {
		defer close(out)
		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
				emit()
			}
		}
	}()

	return out
}

// Save appends a new record without blocking the caller. A fresh UUID and
// the current epoch-millis timestamp are assigned here, at save time. Store
// failures are logged, not returned: by this point the generation already
// succeeded and the engine's state must not be retroactively failed.
func (c *Controller) Save(question, answer string) {
	qa := storage.QuestionAnswer{
		ID:        uuid.New().String(),
		Question:  question,
		Answer:    answer,
		CreatedAt: time.Now().UnixMilli(),
	}
	go func() {
		if err := c.store.Append(qa); err != nil {
			c.logger.Error("saving answer to history failed", "id", qa.ID, "error", err)
			c.metrics.CountError("history_save")
			return
		}
		c.metrics.CountEvent("history_saved")
	}()
}

// Delete removes a record by id without blocking the caller. Deleting an id
// that does not exist is a no-op.
func (c *Controller) Delete(id string) {
	go func() {
		if err := c.store.DeleteByID(id); err != nil {
			c.logger.Error("deleting history record failed", "id", id, "error", err)
			c.metrics.CountError("history_delete")
			return
		}
		c.metrics.CountEvent("history_deleted")
	}()
}
