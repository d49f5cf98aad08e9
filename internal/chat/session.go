package chat

import (
	"context"
	"log"

	"github.com/memorahq/memora/internal/memora"
)

// Backend is the slice of the API client a chat session talks to.
type Backend interface {
	GetMemora(ctx context.Context, id int) (*memora.Memora, error)
	ListMessages(ctx context.Context, memoraID int) ([]memora.ChatRecord, error)
	SendMessage(ctx context.Context, memoraID int, content string) (*memora.ChatRecord, error)
	SharedWith(ctx context.Context, memoraID int) ([]memora.User, error)
}

// Session is one open conversation: the persona, its transcript, and for
// owned personas the shared-access list.
type Session struct {
	backend  Backend
	viewerID string
	memoraID int

	memora     *memora.Memora
	transcript *Transcript
	shared     []memora.User
}

// NewSession creates an unloaded session for a persona. viewerID is the
// authenticated user's id, used to decide whether owner-only data loads.
func NewSession(backend Backend, viewerID string, memoraID int) *Session {
	return &Session{
		backend:    backend,
		viewerID:   viewerID,
		memoraID:   memoraID,
		transcript: NewTranscript(),
	}
}

// Load fetches the persona, its history, and, when the viewer owns the
// persona, the shared-access list. A missing shared list is logged and
// tolerated; a missing persona or history is not.
func (s *Session) Load(ctx context.Context) error {
	record, err := s.backend.GetMemora(ctx, s.memoraID)
	if err != nil {
		return err
	}
	s.memora = record

	records, err := s.backend.ListMessages(ctx, s.memoraID)
	if err != nil {
		return err
	}
	s.transcript.Replace(records)

	if record.OwnedBy(s.viewerID) {
		shared, err := s.backend.SharedWith(ctx, s.memoraID)
		if err != nil {
			log.Printf("chat: loading shared-with for memora %d: %v", s.memoraID, err)
		} else {
			s.shared = shared
		}
	}
	return nil
}

// Memora returns the loaded persona, nil before Load.
func (s *Session) Memora() *memora.Memora { return s.memora }

// Transcript returns the session's transcript.
func (s *Session) Transcript() *Transcript { return s.transcript }

// Shared returns the shared-access list. Empty for personas the viewer does
// not own.
func (s *Session) Shared() []memora.User { return s.shared }

// Owned reports whether the viewer owns the loaded persona.
func (s *Session) Owned() bool {
	return s.memora != nil && s.memora.OwnedBy(s.viewerID)
}

// Send delivers a message through the two-phase optimistic flow: the
// transcript shows the message immediately, then either swaps in the
// confirmed exchange or rolls back. On failure the rolled-back text is
// returned so the caller can put it back in the input field.
func (s *Session) Send(ctx context.Context, content string) (restored string, err error) {
	localID := s.transcript.BeginSend(content)

	record, err := s.backend.SendMessage(ctx, s.memoraID, content)
	if err != nil {
		log.Printf("chat: sending message to memora %d: %v", s.memoraID, err)
		return s.transcript.Rollback(localID), err
	}

	s.transcript.Commit(localID, *record)
	return "", nil
}
