// Package chat assembles persona conversations for display: each stored
// exchange expands into a user entry and a persona reply, and sends are
// reflected optimistically until the backend confirms them.
package chat

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/memorahq/memora/internal/memora"
)

// Role says which side of the conversation an entry belongs to.
type Role string

const (
	RoleUser   Role = "user"
	RoleMemora Role = "memora"
)

// Entry is one rendered transcript line. A stored exchange contributes two
// entries whose IDs derive from the record id: "<id>-user" and
// "<id>-memora". Pending entries belong to an in-flight send and carry a
// local id instead.
type Entry struct {
	ID       string
	RecordID string
	Role     Role
	Text     string
	Pending  bool
	Time     time.Time
}

// Expand converts stored records into display entries, preserving record
// order. Every record yields exactly two entries.
func Expand(records []memora.ChatRecord) []Entry {
	entries := make([]Entry, 0, len(records)*2)
	for _, r := range records {
		entries = append(entries, pairFromRecord(r)...)
	}
	return entries
}

func pairFromRecord(r memora.ChatRecord) []Entry {
	return []Entry{
		{ID: r.ID + "-user", RecordID: r.ID, Role: RoleUser, Text: r.Content, Time: r.Time},
		{ID: r.ID + "-memora", RecordID: r.ID, Role: RoleMemora, Text: r.Response, Time: r.Time},
	}
}

// Transcript is the mutable entry list for one open conversation. A send
// appends a pending user entry plus a "<localID>-loading" placeholder;
// Commit swaps them for the confirmed pair, Rollback removes them and hands
// the text back for re-editing. All methods are safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	pending map[string]string // local id -> sent text
	onShift func()
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{pending: map[string]string{}}
}

// OnShift registers a hook invoked after every mutation that changes the
// entry list, with the transcript unlocked. The web layer uses it to scroll
// the view to the newest entry.
func (t *Transcript) OnShift(fn func()) {
	t.mu.Lock()
	t.onShift = fn
	t.mu.Unlock()
}

// Replace swaps the whole transcript for the expansion of the given
// records. In-flight pending entries are dropped; callers reload only when
// no send is outstanding.
func (t *Transcript) Replace(records []memora.ChatRecord) {
	t.mu.Lock()
	t.entries = Expand(records)
	t.pending = map[string]string{}
	t.mu.Unlock()
	t.notify()
}

// Entries returns a copy of the current entry list.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

// BeginSend appends the optimistic pair for a new message and returns the
// local id identifying the in-flight send. The pair lands after the last
// confirmed entry, so the user sees the message the instant they hit send.
func (t *Transcript) BeginSend(content string) string {
	localID := ulid.Make().String()
	now := time.Now()

	t.mu.Lock()
	t.pending[localID] = content
	t.entries = append(t.entries,
		Entry{ID: localID, Role: RoleUser, Text: content, Pending: true, Time: now},
		Entry{ID: localID + "-loading", Role: RoleMemora, Pending: true, Time: now},
	)
	t.mu.Unlock()
	t.notify()
	return localID
}

// Commit replaces the optimistic pair for localID with the confirmed
// record's pair.
func (t *Transcript) Commit(localID string, record memora.ChatRecord) {
	t.mu.Lock()
	t.removeLocked(localID)
	delete(t.pending, localID)
	t.entries = append(t.entries, pairFromRecord(record)...)
	t.mu.Unlock()
	t.notify()
}

// Rollback removes the optimistic pair for localID and returns the text
// that was being sent, so the caller can restore it to the input field.
func (t *Transcript) Rollback(localID string) string {
	t.mu.Lock()
	content := t.pending[localID]
	delete(t.pending, localID)
	t.removeLocked(localID)
	t.mu.Unlock()
	t.notify()
	return content
}

func (t *Transcript) removeLocked(localID string) {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.ID == localID || e.ID == localID+"-loading" {
			continue
		}
		kept = append(kept, e)
	}
	t.entries = kept
}

func (t *Transcript) notify() {
	t.mu.Lock()
	fn := t.onShift
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}
