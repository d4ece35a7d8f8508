package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/OnslaughtSnail/caravel/kernel/history"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	assistant := message.NewAssistant().Append(message.ToolRequest{
		ID:   "call-1",
		Call: &message.ToolCall{Name: "files__read", Args: map[string]any{"path": "a.txt"}},
	})
	err = store.AppendMessages(ctx, "s1",
		message.NewUser().AppendText("read a.txt"),
		assistant,
		message.NewUser().Append(message.ToolResponse{
			ID:     "call-1",
			Result: []message.Content{message.TextContent{Text: "contents"}},
		}),
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	convo, err := store.LoadConversation(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if convo.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", convo.Len())
	}
	if pending := convo.UnresolvedToolRequests(); len(pending) != 0 {
		t.Fatalf("round trip lost tool pairing: %v", pending)
	}
	req, ok := convo.Messages()[1].Content[0].(message.ToolRequest)
	if !ok || req.Call == nil || req.Call.Name != "files__read" {
		t.Fatalf("tool request not preserved: %+v", convo.Messages()[1].Content[0])
	}
}

func TestAppendToMissingSession(t *testing.T) {
	store := openTestStore(t)
	err := store.AppendMessages(context.Background(), "missing", message.NewUser().AppendText("x"))
	if !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestTitleAndListing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := store.GetOrCreate(ctx, id); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := store.SetTitle(ctx, "a", "renamed"); err != nil {
		t.Fatalf("title: %v", err)
	}
	if err := store.SetTitle(ctx, "missing", "x"); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestDeleteCascades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.AppendMessages(ctx, "s1", message.NewUser().AppendText("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.LoadConversation(ctx, "s1"); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
