package console

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/crewflow/crewflow/internal/core"
	"github.com/crewflow/crewflow/internal/logging"
	"github.com/crewflow/crewflow/internal/store"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 500 * time.Millisecond
	defaultFlushTimeout  = 5 * time.Second
)

// Writer buffers agent messages and flushes them to storage in batches, so
// chatty agents never block on the database. Flushes happen when the buffer
// reaches its batch size or on a fixed interval, whichever comes first, and
// always on the writer's own goroutine: a single flusher means batches
// commit in the order they were popped. A failed batch is put back at the
// front of the buffer and retried on the next tick; ordering within an
// agent's stream is preserved.
type Writer struct {
	db     *store.DB
	log    *logging.Logger
	ticker *time.Ticker

	mu     sync.Mutex
	buf    []Message
	closed bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	batchSize     int
	flushInterval time.Duration
	flushTimeout  time.Duration
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithBatchSize overrides the flush threshold.
func WithBatchSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithFlushInterval overrides the periodic flush interval.
func WithFlushInterval(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.flushInterval = d
		}
	}
}

// NewWriter creates a writer and starts its flush loop.
func NewWriter(db *store.DB, log *logging.Logger, opts ...WriterOption) *Writer {
	w := &Writer{
		db:            db,
		log:           log,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		flushTimeout:  defaultFlushTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ticker = time.NewTicker(w.flushInterval)
	go w.loop()
	return w
}

// Write enqueues one message. It never blocks on storage; a full buffer only
// nudges the flush loop. After Stop it reports a validation error and drops
// nothing silently.
func (w *Writer) Write(msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Level == "" {
		msg.Level = "INFO"
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return core.ErrValidation("WRITER_CLOSED", "console writer is stopped")
	}
	w.buf = append(w.buf, msg)
	full := len(w.buf) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Log is shorthand for a log-type message.
func (w *Writer) Log(sprintID, agentID, content string) error {
	return w.Write(Message{SprintID: sprintID, AgentID: agentID, Type: TypeLog, Content: content})
}

// Checkpoint records a named pipeline checkpoint with optional JSON payload.
func (w *Writer) Checkpoint(sprintID, agentID, name, metadata string) error {
	return w.Write(Message{
		SprintID: sprintID,
		AgentID:  agentID,
		Type:     TypeCheckpoint,
		Content:  name,
		Metadata: metadata,
	})
}

// Stop flushes everything still buffered and joins the flush loop. Safe to
// call once; subsequent Writes fail.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)
	defer w.ticker.Stop()
	for {
		select {
		case <-w.ticker.C:
			w.flush()
		case <-w.kick:
			w.flush()
		case <-w.stop:
			w.flush()
			return
		}
	}
}

// flush writes the buffered batch in one transaction. On failure the batch
// goes back to the front of the buffer so no message is lost or reordered.
func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.flushTimeout)
	defer cancel()

	err := w.db.Tx(ctx, func(tx *sql.Tx) error {
		for _, msg := range batch {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO agent_messages
				   (sprint_id, agent_id, message_type, content, epic_id, issue_id,
				    level, related_agent, metadata, timestamp)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				msg.SprintID, msg.AgentID, string(msg.Type), msg.Content,
				emptyNull(msg.EpicID), zeroNull(msg.IssueNumber),
				msg.Level, emptyNull(msg.RelatedAgent), emptyNull(msg.Metadata),
				msg.Timestamp.UTC().Format(time.RFC3339Nano))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		w.mu.Lock()
		w.buf = append(batch, w.buf...)
		w.mu.Unlock()
		if w.log != nil {
			w.log.Warn("console flush failed, batch re-queued",
				"batch_size", len(batch), "error", err)
		}
	}
}

func emptyNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func zeroNull(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
