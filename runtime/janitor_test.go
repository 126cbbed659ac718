package runtime

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/amparo-app/engine/migrations"
	"github.com/amparo-app/engine/stream"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestStore(t *testing.T) (*stream.Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := migrations.RunMigrations(db, filepath.Join(cwd, "..", "migrations"), zerolog.Nop()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return stream.NewStore(db, zerolog.Nop()), db
}

func TestSweepFinalizesAbandonedMessages(t *testing.T) {
	store, db := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateMessage(ctx, "conv-1", "msg-stuck", "assistant", "claude-sonnet"); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := store.AppendChunk(ctx, "msg-stuck", stream.ChannelText, "I was saying"); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	// Backdate to simulate a daemon crash mid-stream.
	if _, err := db.Exec(`UPDATE messages SET created_at = ? WHERE id = 'msg-stuck'`,
		time.Now().Add(-time.Hour).Unix()); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := store.CreateMessage(ctx, "conv-1", "msg-live", "assistant", ""); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	janitor, err := NewJanitor(store, "@every 1m", 10*time.Minute, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}

	finalized, err := janitor.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if finalized != 1 {
		t.Fatalf("expected 1 finalized message, got %d", finalized)
	}

	msg, err := store.GetMessage(ctx, "msg-stuck")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.Status != stream.StatusComplete {
		t.Errorf("status = %q", msg.Status)
	}
	if msg.Error != "stream abandoned" {
		t.Errorf("error = %q", msg.Error)
	}
	if msg.Model != "claude-sonnet" {
		t.Errorf("model should be preserved, got %q", msg.Model)
	}

	text, err := store.MessageText(ctx, "msg-stuck", stream.ChannelText)
	if err != nil {
		t.Fatalf("MessageText: %v", err)
	}
	if !strings.HasPrefix(text, "I was saying") || !strings.Contains(text, "response interrupted") {
		t.Errorf("text = %q", text)
	}

	// The live message must be untouched.
	live, err := store.GetMessage(ctx, "msg-live")
	if err != nil {
		t.Fatalf("GetMessage live: %v", err)
	}
	if live.Status != stream.StatusStreaming {
		t.Errorf("live status = %q", live.Status)
	}

	// A second sweep finds nothing.
	finalized, err = janitor.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if finalized != 0 {
		t.Errorf("second sweep finalized %d", finalized)
	}
}

func TestNewJanitorRejectsBadSchedule(t *testing.T) {
	store, _ := setupTestStore(t)
	if _, err := NewJanitor(store, "not a schedule", time.Minute, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
