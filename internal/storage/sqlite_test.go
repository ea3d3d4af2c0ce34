package storage

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id, question, answer string, createdAt int64) QuestionAnswer {
	return QuestionAnswer{
		ID:        id,
		Question:  question,
		Answer:    answer,
		CreatedAt: createdAt,
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestIndexesExist verifies the history indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_question_answers_created", "idx_question_answers_favorited"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestAppendAndGetByID(t *testing.T) {
	s := openTestStore(t)

	want := QuestionAnswer{
		ID:        "qa-001",
		Question:  "What is Go?",
		Answer:    "A programming language.",
		ImageData: []byte{0xde, 0xad, 0xbe, 0xef},
		CreatedAt: 1700000000123,
		Favorited: false,
	}
	if err := s.Append(want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.GetByID("qa-001")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ID != want.ID || got.Question != want.Question || got.Answer != want.Answer {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, want)
	}
	if got.CreatedAt != want.CreatedAt {
		t.Errorf("CreatedAt = %d, want %d", got.CreatedAt, want.CreatedAt)
	}
	if string(got.ImageData) != string(want.ImageData) {
		t.Errorf("ImageData mismatch: got %x, want %x", got.ImageData, want.ImageData)
	}
	if got.Favorited {
		t.Error("Favorited should default to false")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetByID("missing"); err != ErrNotFound {
		t.Errorf("GetByID(missing) = %v, want ErrNotFound", err)
	}
}

func TestListAllNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for i := range 3 {
		qa := testRecord(fmt.Sprintf("qa-%d", i), fmt.Sprintf("q%d", i), "a", int64(1000+i))
		if err := s.Append(qa); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := s.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListAll returned %d records, want 3", len(all))
	}
	for i, want := range []string{"qa-2", "qa-1", "qa-0"} {
		if all[i].ID != want {
			t.Errorf("all[%d].ID = %q, want %q", i, all[i].ID, want)
		}
	}
}

func TestListAllStableWithinSameMillisecond(t *testing.T) {
	s := openTestStore(t)

	// Same created_at: later insert wins the newest-first ordering.
	if err := s.Append(testRecord("first", "q", "a", 5000)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(testRecord("second", "q", "a", 5000)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	all, err := s.ListAll()
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if all[0].ID != "second" || all[1].ID != "first" {
		t.Errorf("tie-break order wrong: got [%s, %s]", all[0].ID, all[1].ID)
	}
}

func TestDeleteByID(t *testing.T) {
	s := openTestStore(t)

	if err := s.Append(testRecord("qa-1", "q", "a", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.DeleteByID("qa-1"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if _, err := s.GetByID("qa-1"); err != ErrNotFound {
		t.Errorf("record still present after delete: %v", err)
	}

	// Deleting a missing id is not an error.
	if err := s.DeleteByID("qa-1"); err != nil {
		t.Errorf("DeleteByID on missing id: %v", err)
	}
}

func TestSearch(t *testing.T) {
	s := openTestStore(t)

	records := []QuestionAnswer{
		testRecord("qa-1", "What is Kotlin?", "A JVM language.", 1),
		testRecord("qa-2", "What is KMM?", "Kotlin Multiplatform Mobile.", 2),
		testRecord("qa-3", "Capital of France?", "Paris.", 3),
	}
	for _, qa := range records {
		if err := s.Append(qa); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	tests := []struct {
		name    string
		query   string
		wantIDs []string
	}{
		{"question match", "France", []string{"qa-3"}},
		{"matches question and answer", "Kotlin", []string{"qa-2", "qa-1"}},
		{"case-insensitive", "kotlin", []string{"qa-2", "qa-1"}},
		{"no match", "Python", nil},
		{"empty query lists everything", "", []string{"qa-3", "qa-2", "qa-1"}},
		{"wildcards are literal", "%", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(tt.query)
			if err != nil {
				t.Fatalf("Search(%q): %v", tt.query, err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Search(%q) returned %d records, want %d", tt.query, len(got), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if got[i].ID != want {
					t.Errorf("Search(%q)[%d].ID = %q, want %q", tt.query, i, got[i].ID, want)
				}
			}
		})
	}
}

func TestSetFavorited(t *testing.T) {
	s := openTestStore(t)

	if err := s.Append(testRecord("qa-1", "q", "a", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := s.SetFavorited("qa-1", true); err != nil {
		t.Fatalf("SetFavorited: %v", err)
	}
	got, err := s.GetByID("qa-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.Favorited {
		t.Error("Favorited not set")
	}

	if err := s.SetFavorited("missing", true); err != ErrNotFound {
		t.Errorf("SetFavorited(missing) = %v, want ErrNotFound", err)
	}
}

func TestWatchSignalsOnMutation(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Watch(ctx)

	if err := s.Append(testRecord("qa-1", "q", "a", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	waitSignal(t, ch, "append")

	if err := s.DeleteByID("qa-1"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	waitSignal(t, ch, "delete")

	// Deleting a missing id mutates nothing and must not signal.
	if err := s.DeleteByID("qa-1"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	select {
	case <-ch:
		t.Error("unexpected signal for no-op delete")
	case <-time.After(50 * time.Millisecond):
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, op string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("no watch signal after %s", op)
	}
}
