package console

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/crewflow/crewflow/internal/logging"
	"github.com/crewflow/crewflow/internal/store"
)

func newTestDB(t *testing.T) (*store.DB, string) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "crewflow.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sprints := store.NewSprintStore(db)
	sprint, err := sprints.Create(context.Background(), "", "test sprint")
	if err != nil {
		t.Fatalf("creating sprint: %v", err)
	}
	return db, sprint.ID
}

func TestWriterFlushesOnBatchSize(t *testing.T) {
	db, sprintID := newTestDB(t)
	// A long interval so only the size trigger can flush.
	w := NewWriter(db, logging.NewNop(), WithBatchSize(5), WithFlushInterval(time.Hour))
	defer w.Stop()

	for i := 0; i < 5; i++ {
		if err := w.Log(sprintID, "implementer", fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	waitForCount(t, db, sprintID, 5)
}

func TestWriterFlushesOnInterval(t *testing.T) {
	db, sprintID := newTestDB(t)
	w := NewWriter(db, logging.NewNop(), WithBatchSize(1000), WithFlushInterval(20*time.Millisecond))
	defer w.Stop()

	if err := w.Log(sprintID, "implementer", "single line"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	waitForCount(t, db, sprintID, 1)
}

func TestStopFlushesRemainder(t *testing.T) {
	db, sprintID := newTestDB(t)
	w := NewWriter(db, logging.NewNop(), WithBatchSize(1000), WithFlushInterval(time.Hour))

	for i := 0; i < 7; i++ {
		if err := w.Log(sprintID, "reviewer", fmt.Sprintf("buffered %d", i)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	w.Stop()

	if got := countMessages(t, db, sprintID); got != 7 {
		t.Fatalf("messages after Stop = %d, want 7", got)
	}

	if err := w.Log(sprintID, "reviewer", "too late"); err == nil {
		t.Fatal("Write after Stop succeeded")
	}
	// Stop again must not panic or hang.
	w.Stop()
}

func TestFailedFlushPreservesWriteOrder(t *testing.T) {
	db, sprintID := newTestDB(t)
	// A long interval so only the size trigger and Stop can flush, and a
	// short transaction budget so a blocked flush fails instead of waiting.
	w := NewWriter(db, logging.NewNop(), WithBatchSize(2), WithFlushInterval(time.Hour))
	w.flushTimeout = 20 * time.Millisecond

	// Hold the store's write lock so the first flush times out and its
	// batch is re-queued while later messages stack up behind it.
	held := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan struct{})
	go func() {
		defer close(txDone)
		_ = db.Tx(context.Background(), func(*sql.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	for i := 0; i < 6; i++ {
		if err := w.Log(sprintID, "implementer", fmt.Sprintf("ordered %d", i)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	// Let the size-triggered flush run into the held lock and give up.
	time.Sleep(100 * time.Millisecond)
	if got := countMessages(t, db, sprintID); got != 0 {
		t.Fatalf("messages committed while store locked = %d", got)
	}

	close(release)
	<-txDone
	w.Stop()

	got, err := NewReader(db, sprintID, "implementer").History(context.Background(), HistoryQuery{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("history = %d entries, want 6", len(got))
	}
	for i, msg := range got {
		if want := fmt.Sprintf("ordered %d", i); msg.Content != want {
			t.Fatalf("position %d = %q, want %q", i, msg.Content, want)
		}
		if i > 0 && msg.ID <= got[i-1].ID {
			t.Fatalf("ids out of order at %d: %d after %d", i, msg.ID, got[i-1].ID)
		}
	}
}

func TestHistoryOrderAndFilters(t *testing.T) {
	db, sprintID := newTestDB(t)
	w := NewWriter(db, logging.NewNop(), WithBatchSize(1000), WithFlushInterval(time.Hour))

	for i := 0; i < 10; i++ {
		kind := TypeLog
		if i%2 == 0 {
			kind = TypeOutput
		}
		err := w.Write(Message{
			SprintID: sprintID,
			AgentID:  "implementer",
			Type:     kind,
			Content:  fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := w.Log(sprintID, "reviewer", "other agent"); err != nil {
		t.Fatalf("Write reviewer: %v", err)
	}
	w.Stop()

	ctx := context.Background()
	r := NewReader(db, sprintID, "implementer")

	all, err := r.History(ctx, HistoryQuery{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("history = %d entries, want 10", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("history out of order at %d: %d <= %d", i, all[i].ID, all[i-1].ID)
		}
	}
	if all[0].Content != "msg 0" || all[9].Content != "msg 9" {
		t.Fatalf("history bounds: %q ... %q", all[0].Content, all[9].Content)
	}

	limited, err := r.History(ctx, HistoryQuery{Limit: 3})
	if err != nil {
		t.Fatalf("History(limit): %v", err)
	}
	if len(limited) != 3 || limited[2].Content != "msg 9" {
		t.Fatalf("limited history = %+v", limited)
	}

	outputs, err := r.History(ctx, HistoryQuery{Type: TypeOutput})
	if err != nil {
		t.Fatalf("History(type): %v", err)
	}
	if len(outputs) != 5 {
		t.Fatalf("output filter = %d entries, want 5", len(outputs))
	}
	for _, m := range outputs {
		if m.Type != TypeOutput {
			t.Fatalf("filter leaked type %q", m.Type)
		}
	}
}

func TestTailSeesHistoryThenLive(t *testing.T) {
	db, sprintID := newTestDB(t)
	w := NewWriter(db, logging.NewNop(), WithBatchSize(1), WithFlushInterval(10*time.Millisecond))
	defer w.Stop()

	for i := 0; i < 3; i++ {
		if err := w.Log(sprintID, "qa", fmt.Sprintf("history %d", i)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	waitForCount(t, db, sprintID, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r := NewReader(db, sprintID, "qa")
	stream, err := r.Tail(ctx, 100)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}

	var got []Message
	for len(got) < 3 {
		msg, ok := <-stream
		if !ok {
			t.Fatalf("stream closed after %d entries", len(got))
		}
		got = append(got, msg)
	}

	// New entries written while tailing must arrive without dups or gaps.
	for i := 3; i < 6; i++ {
		if err := w.Log(sprintID, "qa", fmt.Sprintf("live %d", i)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	for len(got) < 6 {
		msg, ok := <-stream
		if !ok {
			t.Fatalf("stream closed after %d entries", len(got))
		}
		got = append(got, msg)
	}

	seen := make(map[int64]bool)
	for i, msg := range got {
		if seen[msg.ID] {
			t.Fatalf("duplicate id %d at position %d", msg.ID, i)
		}
		seen[msg.ID] = true
		if i > 0 && msg.ID <= got[i-1].ID {
			t.Fatalf("out of order at %d: %d after %d", i, msg.ID, got[i-1].ID)
		}
	}
	if got[0].Content != "history 0" || got[5].Content != "live 5" {
		t.Fatalf("stream bounds: %q ... %q", got[0].Content, got[5].Content)
	}

	cancel()
	for range stream {
	}
}

func TestLatestCheckpointsPerAgent(t *testing.T) {
	db, sprintID := newTestDB(t)
	w := NewWriter(db, logging.NewNop(), WithBatchSize(1000), WithFlushInterval(time.Hour))

	if err := w.Checkpoint(sprintID, "engine", "planning_complete", `{"issues":2}`); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := w.Checkpoint(sprintID, "engine", "distribution_complete", `{"issues":2}`); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := w.Checkpoint(sprintID, "implementer", "branch_pushed", ""); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := w.Log(sprintID, "engine", "not a checkpoint"); err != nil {
		t.Fatalf("Log: %v", err)
	}
	w.Stop()

	got, err := NewReader(db, sprintID, "").LatestCheckpoints(context.Background())
	if err != nil {
		t.Fatalf("LatestCheckpoints: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("checkpoints = %d entries, want 2", len(got))
	}
	// Ordered by agent id; only the newest per agent survives.
	if got[0].AgentID != "engine" || got[0].Content != "distribution_complete" {
		t.Errorf("engine checkpoint = %s/%s, want distribution_complete", got[0].AgentID, got[0].Content)
	}
	if got[1].AgentID != "implementer" || got[1].Content != "branch_pushed" {
		t.Errorf("implementer checkpoint = %s/%s, want branch_pushed", got[1].AgentID, got[1].Content)
	}
}

func waitForCount(t *testing.T, db *store.DB, sprintID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if countMessages(t, db, sprintID) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("messages = %d, want %d", countMessages(t, db, sprintID), want)
}

func countMessages(t *testing.T, db *store.DB, sprintID string) int {
	t.Helper()
	var n int
	err := db.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM agent_messages WHERE sprint_id = ?`, sprintID).Scan(&n)
	if err != nil {
		t.Fatalf("counting messages: %v", err)
	}
	return n
}
