package chat

import (
	"context"
	"strconv"
	"testing"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/auth"
	"github.com/memorahq/memora/internal/memora"
	"github.com/memorahq/memora/internal/testutil"
)

func newBackend(t *testing.T) (*api.Client, *testutil.FakeBackend) {
	t.Helper()
	backend := testutil.NewFakeBackend()
	t.Cleanup(backend.Close)
	return api.New(backend.URL(), auth.NewStatic("tok"), backend.Client()), backend
}

func TestLoad_OwnedPersonaIncludesShared(t *testing.T) {
	client, backend := newBackend(t)
	m := backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})
	backend.AddMessages(m.ID, memora.ChatRecord{ID: "msg-a", MemoraID: m.ID, Content: "q", Response: "r"})
	backend.SetShared(m.ID, memora.User{ID: "u9", Name: "Friend"})

	s := NewSession(client, testutil.OwnerID, m.ID)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Memora() == nil || s.Memora().ID != m.ID {
		t.Fatalf("Memora() = %+v", s.Memora())
	}
	if !s.Owned() {
		t.Error("Owned() = false for viewer-owned persona")
	}
	if len(s.Shared()) != 1 || s.Shared()[0].ID != "u9" {
		t.Errorf("Shared() = %+v", s.Shared())
	}
	if got := len(s.Transcript().Entries()); got != 2 {
		t.Errorf("transcript has %d entries, want 2", got)
	}
}

func TestLoad_ForeignPersonaSkipsShared(t *testing.T) {
	client, backend := newBackend(t)
	m := backend.AddMemora(memora.Memora{
		FullName: "Pub", UserID: "auth0|someone-else",
		PrivacyStatus: memora.PrivacyPublic, Status: string(memora.StatusConcluded),
	})
	backend.SetShared(m.ID, memora.User{ID: "u9", Name: "Friend"})

	s := NewSession(client, testutil.OwnerID, m.ID)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Owned() {
		t.Error("Owned() = true for foreign persona")
	}
	if len(s.Shared()) != 0 {
		t.Errorf("Shared() = %+v, want empty", s.Shared())
	}
	if backend.Calls("GET /memora/"+strconv.Itoa(m.ID)+"/shared-with") != 0 {
		t.Error("shared-with fetched for a persona the viewer does not own")
	}
}

func TestSend_CommitsConfirmedExchange(t *testing.T) {
	client, backend := newBackend(t)
	m := backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})

	s := NewSession(client, testutil.OwnerID, m.ID)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	restored, err := s.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if restored != "" {
		t.Errorf("restored = %q, want empty on success", restored)
	}

	entries := s.Transcript().Entries()
	if len(entries) != 2 {
		t.Fatalf("transcript = %+v", entries)
	}
	if entries[0].Pending || entries[1].Pending {
		t.Error("confirmed entries still pending")
	}
	if entries[1].Text != "echo: hello" {
		t.Errorf("reply text = %q", entries[1].Text)
	}
}

func TestSend_FailureRollsBackAndRestoresText(t *testing.T) {
	client, backend := newBackend(t)
	m := backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})

	s := NewSession(client, testutil.OwnerID, m.ID)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	backend.FailSend = true
	restored, err := s.Send(context.Background(), "lost in transit")
	if err == nil {
		t.Fatal("expected send error")
	}
	if restored != "lost in transit" {
		t.Errorf("restored = %q", restored)
	}
	if got := len(s.Transcript().Entries()); got != 0 {
		t.Errorf("transcript has %d entries after rollback, want 0", got)
	}
}
