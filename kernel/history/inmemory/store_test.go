package inmemory

import (
	"context"
	"errors"
	"testing"

	"github.com/OnslaughtSnail/caravel/kernel/history"
	"github.com/OnslaughtSnail/caravel/kernel/message"
)

func TestGetOrCreateRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := store.GetOrCreate(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !again.Created.Equal(created.Created) {
		t.Fatal("second GetOrCreate must return the existing session")
	}
	if _, err := store.GetOrCreate(ctx, ""); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestAppendAndLoad(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := store.AppendMessages(ctx, "s1",
		message.NewUser().AppendText("hello"),
		message.NewAssistant().AppendText("hi"),
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	convo, err := store.LoadConversation(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if convo.Len() != 2 {
		t.Fatalf("expected 2 messages, got %d", convo.Len())
	}
	if convo.Last().ConcatText() != "hi" {
		t.Fatalf("last = %q", convo.Last().ConcatText())
	}

	if err := store.AppendMessages(ctx, "missing", message.NewUser()); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionsOrderedByUpdate(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if _, err := store.GetOrCreate(ctx, id); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := store.SetTitle(ctx, "a", "first"); err != nil {
		t.Fatalf("title: %v", err)
	}
	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "a" || sessions[0].Title != "first" {
		t.Fatalf("expected most recently updated first, got %+v", sessions[0])
	}
}

func TestDelete(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.GetOrCreate(ctx, "s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.LoadConversation(ctx, "s1"); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "s1"); !errors.Is(err, history.ErrSessionNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}
