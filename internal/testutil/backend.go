// Package testutil provides fakes for the external collaborators: the
// Memora backend and the token endpoint.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/memorahq/memora/internal/memora"
)

// OwnerID is the viewer identity the fake backend treats as "me".
const OwnerID = "auth0|owner"

// FakeBackend is an in-memory stand-in for the Memora backend REST API.
// All fields guarded by mu; mutate via the helper methods or while no
// requests are in flight.
type FakeBackend struct {
	mu       sync.Mutex
	memoras  map[int]*memora.Memora
	messages map[int][]memora.ChatRecord
	shared   map[int][]memora.User
	users    []memora.User
	nextID   int
	nextMsg  int
	calls    map[string]int

	// RequireToken rejects requests without a bearer header.
	RequireToken bool
	// ForceUnauthorized makes every request return 401.
	ForceUnauthorized bool
	// FailSend makes POST /memora/messages/ return 500.
	FailSend bool
	// FailUploads makes media uploads return 500.
	FailUploads bool

	srv *httptest.Server
}

// NewFakeBackend starts a fake backend server. Callers must Close it.
func NewFakeBackend() *FakeBackend {
	b := &FakeBackend{
		memoras:      map[int]*memora.Memora{},
		messages:     map[int][]memora.ChatRecord{},
		shared:       map[int][]memora.User{},
		nextID:       1,
		nextMsg:      1,
		calls:        map[string]int{},
		RequireToken: true,
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	return b
}

// URL returns the backend base URL.
func (b *FakeBackend) URL() string { return b.srv.URL }

// Client returns an HTTP client wired to the fake server.
func (b *FakeBackend) Client() *http.Client { return b.srv.Client() }

// Close shuts the server down.
func (b *FakeBackend) Close() { b.srv.Close() }

// AddMemora seeds a persona and returns it.
func (b *FakeBackend) AddMemora(m memora.Memora) *memora.Memora {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.ID == 0 {
		m.ID = b.nextID
	}
	if m.ID >= b.nextID {
		b.nextID = m.ID + 1
	}
	if m.UserID == "" {
		m.UserID = OwnerID
	}
	stored := m
	b.memoras[m.ID] = &stored
	return &stored
}

// SetStatus updates a seeded persona's status.
func (b *FakeBackend) SetStatus(id int, status memora.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.memoras[id]; ok {
		m.Status = string(status)
	}
}

// AddMessages seeds chat records for a persona.
func (b *FakeBackend) AddMessages(memoraID int, records ...memora.ChatRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[memoraID] = append(b.messages[memoraID], records...)
}

// SetShared seeds the shared-access set for a persona.
func (b *FakeBackend) SetShared(memoraID int, users ...memora.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shared[memoraID] = users
}

// SetUsers seeds the searchable user directory.
func (b *FakeBackend) SetUsers(users ...memora.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = users
}

// Calls returns how many requests matched the given "METHOD path" key.
func (b *FakeBackend) Calls(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[key]
}

// Memora returns a copy of a stored persona, or nil.
func (b *FakeBackend) Memora(id int) *memora.Memora {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.memoras[id]; ok {
		cp := *m
		return &cp
	}
	return nil
}

func (b *FakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.calls[r.Method+" "+r.URL.Path]++
	forceUnauthorized := b.ForceUnauthorized
	requireToken := b.RequireToken
	b.mu.Unlock()

	if forceUnauthorized || (requireToken && !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodGet && path == "/memora":
		b.handleList(w, r)
	case r.Method == http.MethodGet && path == "/memora/my-memoras":
		b.handleMyMemoras(w)
	case r.Method == http.MethodPost && path == "/memora/basic-info":
		b.handleBasicInfo(w, r)
	case r.Method == http.MethodPost && path == "/memora/messages":
		b.handleSendMessage(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/memora/messages/"):
		b.handleMessages(w, r, strings.TrimPrefix(path, "/memora/messages/"))
	case strings.HasPrefix(path, "/memora/"):
		b.handleMemoraSub(w, r, strings.TrimPrefix(path, "/memora/"))
	case r.Method == http.MethodGet && path == "/users":
		b.handleSearchUsers(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (b *FakeBackend) handleList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	privacy := r.URL.Query().Get("privacy_status")
	hasChat := r.URL.Query().Get("has_chat")

	list := []memora.Memora{}
	for _, m := range b.memoras {
		if privacy != "" && string(m.PrivacyStatus) != privacy {
			continue
		}
		if hasChat == "true" && m.Status != string(memora.StatusConcluded) {
			continue
		}
		list = append(list, *m)
	}
	writeJSON(w, list)
}

func (b *FakeBackend) handleMyMemoras(w http.ResponseWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := []memora.Memora{}
	for _, m := range b.memoras {
		if m.UserID == OwnerID {
			list = append(list, *m)
		}
	}
	writeJSON(w, list)
}

func (b *FakeBackend) handleBasicInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName             string `json:"full_name"`
		Language             string `json:"language"`
		Birthday             string `json:"birthday"`
		PrivacyStatus        string `json:"privacy_status"`
		ProfilePictureBase64 string `json:"profile_picture_base64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FullName == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.memoras[id] = &memora.Memora{
		ID:                   id,
		FullName:             req.FullName,
		Language:             req.Language,
		Birthday:             req.Birthday,
		PrivacyStatus:        memora.PrivacyStatus(req.PrivacyStatus),
		ProfilePictureBase64: req.ProfilePictureBase64,
		UserID:               OwnerID,
		Status:               string(memora.StatusBasicInfoCompleted),
	}
	b.mu.Unlock()

	writeJSON(w, map[string]int{"id": id})
}

func (b *FakeBackend) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	failSend := b.FailSend
	b.mu.Unlock()
	if failSend {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var req struct {
		Content  string `json:"content"`
		MemoraID int    `json:"memora_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	record := memora.ChatRecord{
		ID:       fmt.Sprintf("msg-%d", b.nextMsg),
		MemoraID: req.MemoraID,
		Content:  req.Content,
		Response: "echo: " + req.Content,
		SentByID: OwnerID,
		Time:     time.Now().UTC(),
	}
	b.nextMsg++
	b.messages[req.MemoraID] = append(b.messages[req.MemoraID], record)
	b.mu.Unlock()

	writeJSON(w, record)
}

func (b *FakeBackend) handleMessages(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		memoraID, err := strconv.Atoi(parts[0])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		b.mu.Lock()
		records := append([]memora.ChatRecord{}, b.messages[memoraID]...)
		b.mu.Unlock()
		writeJSON(w, records)
	case len(parts) == 2 && parts[1] == "audio":
		w.Header().Set("Content-Type", "audio/mpeg")
		io.WriteString(w, "AUDIO:"+parts[0])
	case len(parts) == 2 && parts[1] == "video":
		writeJSON(w, fmt.Sprintf("https://cdn.example.test/videos/%s.mp4", parts[0]))
	default:
		http.NotFound(w, r)
	}
}

func (b *FakeBackend) handleMemoraSub(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	b.mu.Lock()
	m, ok := b.memoras[id]
	failUploads := b.FailUploads
	b.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		b.mu.Lock()
		cp := *m
		b.mu.Unlock()
		writeJSON(w, cp)
	case len(parts) == 2 && parts[1] == "video" && r.Method == http.MethodPost:
		if failUploads {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if err := expectFile(r, "video_file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.SetStatus(id, memora.StatusVideoInfoCompleted)
		w.WriteHeader(http.StatusOK)
	case len(parts) == 2 && parts[1] == "social-media" && r.Method == http.MethodPost:
		if failUploads {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if err := expectFile(r, "zip_file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.SetStatus(id, memora.StatusProcessingSocial)
		w.WriteHeader(http.StatusOK)
	case len(parts) == 2 && parts[1] == "retry-analysis" && r.Method == http.MethodPost:
		b.SetStatus(id, memora.StatusProcessingSocial)
		w.WriteHeader(http.StatusOK)
	case len(parts) == 2 && parts[1] == "shared-with" && r.Method == http.MethodGet:
		b.mu.Lock()
		users := append([]memora.User{}, b.shared[id]...)
		b.mu.Unlock()
		writeJSON(w, users)
	default:
		http.NotFound(w, r)
	}
}

func (b *FakeBackend) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(r.URL.Query().Get("name"))

	b.mu.Lock()
	defer b.mu.Unlock()

	matches := []memora.User{}
	for _, u := range b.users {
		if strings.Contains(strings.ToLower(u.Name), name) {
			matches = append(matches, u)
		}
	}
	writeJSON(w, matches)
}

func expectFile(r *http.Request, field string) error {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return err
	}
	f, _, err := r.FormFile(field)
	if err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
