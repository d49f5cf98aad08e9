package web

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/auth"
	"github.com/memorahq/memora/internal/chat"
	"github.com/memorahq/memora/internal/config"
	"github.com/memorahq/memora/internal/errors"
	"github.com/memorahq/memora/internal/memora"
	"github.com/memorahq/memora/internal/status"
	"github.com/memorahq/memora/internal/store"
	"github.com/memorahq/memora/internal/wizard"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	client   *api.Client
	cache    *store.Cache
	tokens   auth.TokenSource
	cfg      *config.Config
	renderer *Renderer
	poller   *status.Poller
}

// refreshForPoll is the poller's refresh callback: re-pull the snapshot and
// report whether anything is still processing.
func (h *Handlers) refreshForPoll(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.HTTPTimeout())
	defer cancel()

	if err := h.cache.Refresh(ctx); err != nil {
		log.Printf("web: poll refresh: %v", err)
	}
	processing, err := h.cache.HasProcessing(ctx)
	if err != nil {
		log.Printf("web: poll processing check: %v", err)
		return false
	}
	return processing
}

// viewerID extracts the authenticated user's id from the bearer token.
// Empty when unavailable; ownership-gated UI simply stays hidden then.
func (h *Handlers) viewerID(ctx context.Context) string {
	token, err := h.tokens.Token(ctx)
	if err != nil {
		return ""
	}
	sub, err := auth.Subject(token)
	if err != nil {
		return ""
	}
	return sub
}

// HandleHome handles GET /: persona cards for the viewer's own personas
// plus the public personas open for chat.
func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	stale := false
	if err := h.cache.Refresh(r.Context()); err != nil {
		if errors.Is(err, errors.ErrUnauthenticated) {
			h.renderer.renderError(w, r, err)
			return
		}
		// Serve the last good snapshot instead of a blank page.
		log.Printf("web: home refresh: %v", err)
		stale = true
	}

	owned, err := h.cache.Owned(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	conversable, err := h.cache.Conversable(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	cards := make([]PersonaCard, 0, len(owned))
	for _, m := range owned {
		action, err := memora.Classify(&m)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		cards = append(cards, PersonaCard{Memora: m, Action: action})
	}

	h.poller.Update(memora.AnyProcessing(owned))

	h.renderer.renderPage(w, r, "home", HomePageData{
		PageData: PageData{
			Title:   "Memora",
			Version: h.renderer.version,
			Nav:     "home",
		},
		Owned:       cards,
		Conversable: conversable,
		Stale:       stale,
	})
}

// HandleCreate handles GET /create: the wizard page, either fresh at the
// intro step or resumed at a later step for an existing persona.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	step := wizard.StepIntro
	if raw := r.URL.Query().Get("step"); raw != "" {
		parsed, err := wizard.ParseStep(raw)
		if err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		step = parsed
	}

	data := CreatePageData{
		PageData: PageData{
			Title:   "Create a Memora",
			Version: h.renderer.version,
			Nav:     "create",
		},
		Step:             step,
		ExitDelaySeconds: int(h.cfg.WizardExitDelay().Seconds()),
	}

	if idParam := r.URL.Query().Get("memora_id"); idParam != "" {
		id, err := strconv.Atoi(idParam)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("memora_id must be an integer"))
			return
		}

		m := h.newMachine()
		if err := m.Resume(r.Context(), step, id); err != nil {
			h.renderer.renderError(w, r, err)
			return
		}
		draft := m.Draft()
		data.MemoraID = id
		data.Basic = draft.Basic
	} else if step != wizard.StepIntro && step != wizard.StepBasic {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("resuming this step requires memora_id"))
		return
	}

	h.renderer.renderPage(w, r, "create", data)
}

// HandleCreateBasic handles POST /create/basic-info: first wizard step.
func (h *Handlers) HandleCreateBasic(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	basic := wizard.BasicInformation{
		FullName: r.FormValue("full_name"),
		Birthday: r.FormValue("birthday"),
		Language: r.FormValue("language"),
		IsPublic: r.FormValue("privacy") == "public",
	}
	if pic := r.FormValue("profile_picture_base64"); pic != "" {
		basic.Picture = &wizard.Picture{Name: "profile_picture.jpg", Base64: pic}
	}

	m := h.newMachine()
	if err := m.Start(); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if err := m.SubmitBasicInfo(r.Context(), basic); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.redirect(w, r, fmt.Sprintf("/create?step=video&memora_id=%d", m.MemoraID()))
}

// HandleCreateVideo handles POST /create/{id}/video: the recorded video.
func (h *Handlers) HandleCreateVideo(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	file, _, err := r.FormFile("video")
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("video file is required"))
		return
	}
	defer file.Close()

	video, err := io.ReadAll(file)
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}

	m := h.newMachine()
	if err := m.Resume(r.Context(), wizard.StepVideo, id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if err := m.SubmitVideo(r.Context(), video); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.redirect(w, r, fmt.Sprintf("/create?step=social&memora_id=%d", id))
}

// HandleCreateSocial handles POST /create/{id}/social: the social-media
// archive. The rendered page lingers briefly, then navigates home while the
// backend keeps processing.
func (h *Handlers) HandleCreateSocial(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	file, header, err := r.FormFile("archive")
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("archive file is required"))
		return
	}
	defer file.Close()

	m := h.newMachine()
	if err := m.Resume(r.Context(), wizard.StepSocial, id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if err := m.SubmitSocial(r.Context(), file, header.Filename); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "create", CreatePageData{
		PageData: PageData{
			Title:   "Create a Memora",
			Version: h.renderer.version,
			Nav:     "create",
		},
		Step:             wizard.StepSocial,
		MemoraID:         id,
		Done:             true,
		ExitDelaySeconds: int(m.ExitDelay().Seconds()),
	})
}

// HandleChat handles GET /memora/{id}: the conversation page.
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	session := chat.NewSession(h.client, h.viewerID(r.Context()), id)
	if err := session.Load(r.Context()); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	m := session.Memora()
	action, err := memora.Classify(m)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "chat", ChatPageData{
		PageData: PageData{
			Title:   m.FullName,
			Version: h.renderer.version,
			Nav:     "home",
		},
		Memora:               m,
		DescriptionHTML:      renderMarkdown(m.Description),
		Entries:              session.Transcript().Entries(),
		Shared:               session.Shared(),
		Owned:                session.Owned(),
		Action:               action,
		SearchDebounceMillis: h.cfg.SearchDebounceMillis,
	})
}

// HandleSend handles POST /memora/{id}/messages: deliver one message and
// return the confirmed exchange as a transcript fragment. On failure the
// fragment hands the text back for re-editing.
func (h *Handlers) HandleSend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	content := r.FormValue("content")
	if content == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("message content is required"))
		return
	}

	session := chat.NewSession(h.client, h.viewerID(r.Context()), id)
	restored, err := session.Send(r.Context(), content)
	if err != nil {
		if errors.Is(err, errors.ErrUnauthenticated) {
			h.renderer.renderError(w, r, err)
			return
		}
		h.renderer.renderBlock(w, http.StatusOK, "chat", "send-error", SendErrorData{
			Message:  "Your message could not be sent.",
			Restored: restored,
		})
		return
	}

	h.renderer.renderBlock(w, http.StatusOK, "chat", "chat-entries", EntriesData{
		Entries: session.Transcript().Entries(),
	})
}

// HandleRetry handles POST /memora/{id}/retry: one retry for a persona
// that concluded with analyzer errors.
func (h *Handlers) HandleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if err := h.client.RetryAnalysis(r.Context(), id); err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.redirect(w, r, "/")
}

// HandleUserSearch handles GET /memora/{id}/share/search: share lookup
// results, excluding users the persona is already shared with. Debounce
// happens client-side via the htmx trigger delay; terms below the minimum
// length return an empty fragment without a backend call.
func (h *Handlers) HandleUserSearch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	data := UserResultsData{MemoraID: id}
	name := r.URL.Query().Get("name")
	if len([]rune(name)) < h.cfg.SearchMinChars {
		h.renderer.renderBlock(w, http.StatusOK, "chat", "user-results", data)
		return
	}

	shared, err := h.client.SharedWith(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	excluded := make(map[string]bool, len(shared))
	for _, u := range shared {
		excluded[u.ID] = true
	}

	found, err := h.client.SearchUsers(r.Context(), name)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	for _, u := range found {
		if !excluded[u.ID] {
			data.Users = append(data.Users, u)
		}
	}

	h.renderer.renderBlock(w, http.StatusOK, "chat", "user-results", data)
}

// HandleAudio handles GET /messages/{msgID}/audio: stream the reply audio
// through to the browser's audio element.
func (h *Handlers) HandleAudio(w http.ResponseWriter, r *http.Request) {
	msgID := r.PathValue("msgID")
	if msgID == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("message ID is required"))
		return
	}

	rc, err := h.client.MessageAudio(r.Context(), msgID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("web: streaming audio for message %s: %v", msgID, err)
	}
}

// HandleVideo handles GET /messages/{msgID}/video: redirect to the reply
// video's storage URL.
func (h *Handlers) HandleVideo(w http.ResponseWriter, r *http.Request) {
	msgID := r.PathValue("msgID")
	if msgID == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("message ID is required"))
		return
	}

	url, err := h.client.MessageVideoURL(r.Context(), msgID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handlers) newMachine() *wizard.Machine {
	return wizard.New(h.client, h.cfg.WizardExitDelay())
}

// redirect navigates via HX-Redirect for htmx requests, 302 otherwise.
func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request, location string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", location)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// pathID parses the {id} path segment as a persona id.
func pathID(r *http.Request) (int, error) {
	raw := r.PathValue("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest("memora ID must be a positive integer")
	}
	return id, nil
}
