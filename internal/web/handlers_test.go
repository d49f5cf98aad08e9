package web

import (
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/auth"
	"github.com/memorahq/memora/internal/config"
	"github.com/memorahq/memora/internal/memora"
	"github.com/memorahq/memora/internal/store"
	"github.com/memorahq/memora/internal/testutil"
)

const testLoginURL = "http://login.example.test/login"

// ownerToken builds an unverified-but-parseable JWT whose subject is the
// fake backend's owner identity.
func ownerToken(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": testutil.OwnerID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

type fixture struct {
	srv     *httptest.Server
	backend *testutil.FakeBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := testutil.NewFakeBackend()
	t.Cleanup(backend.Close)

	tokens := auth.NewStatic(ownerToken(t))
	client := api.New(backend.URL(), tokens, backend.Client())

	db, err := store.Init(t.TempDir())
	if err != nil {
		t.Fatalf("store.Init() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	cache := store.NewCache(db, client)

	cfg := config.DefaultConfig()
	cfg.BackendURL = backend.URL()
	cfg.LoginURL = testLoginURL

	httpSrv := NewServer(client, cache, tokens, cfg, "test", "127.0.0.1", 0)
	srv := httptest.NewServer(httpSrv.Handler)
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, backend: backend}
}

// get performs a GET without following redirects.
func (f *fixture) get(t *testing.T, path string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.PostForm(f.srv.URL+path, form)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(data)
}

func TestHome_RendersCardsByStatus(t *testing.T) {
	f := newFixture(t)
	f.backend.AddMemora(memora.Memora{FullName: "Ready One", Status: string(memora.StatusConcluded)})
	f.backend.AddMemora(memora.Memora{FullName: "Half Done", Status: string(memora.StatusVideoInfoCompleted)})
	f.backend.AddMemora(memora.Memora{FullName: "Broken One", Status: string(memora.StatusConcludedWithErrors)})

	resp := f.get(t, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	html := body(t, resp)

	if !strings.Contains(html, "Ready One") || !strings.Contains(html, "/memora/") {
		t.Error("concluded persona missing chat link")
	}
	if !strings.Contains(html, "step=social") {
		t.Error("video_info_completed persona missing social resume link")
	}
	if !strings.Contains(html, "Retry analysis") {
		t.Error("analyzer-error persona missing retry button")
	}
}

func TestHome_PublicConversableListed(t *testing.T) {
	f := newFixture(t)
	f.backend.AddMemora(memora.Memora{
		FullName: "Public Figure", UserID: "auth0|someone-else",
		PrivacyStatus: memora.PrivacyPublic, Status: string(memora.StatusConcluded),
	})

	html := body(t, f.get(t, "/", nil))
	if !strings.Contains(html, "Public Figure") {
		t.Error("public conversable persona not rendered")
	}
}

func TestHome_UnauthenticatedRedirectsToLogin(t *testing.T) {
	f := newFixture(t)
	f.backend.ForceUnauthorized = true

	resp := f.get(t, "/", nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != testLoginURL {
		t.Errorf("Location = %q", loc)
	}
}

func TestHome_UnauthenticatedHTMXUsesHXRedirect(t *testing.T) {
	f := newFixture(t)
	f.backend.ForceUnauthorized = true

	resp := f.get(t, "/", map[string]string{"HX-Request": "true"})
	if resp.Header.Get("HX-Redirect") != testLoginURL {
		t.Errorf("HX-Redirect = %q", resp.Header.Get("HX-Redirect"))
	}
}

func TestCreate_IntroByDefault(t *testing.T) {
	f := newFixture(t)

	html := body(t, f.get(t, "/create", nil))
	if !strings.Contains(html, "Get started") {
		t.Error("intro step not rendered")
	}
}

func TestCreate_ResumeRequiresID(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/create?step=video", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreate_UnknownStepRejected(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/create?step=review", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreate_ResumePrefillsBasicFields(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{
		FullName: "Grace", Language: "pt", Birthday: "1985-12-09",
		Status: string(memora.StatusBasicInfoCompleted),
	})

	html := body(t, f.get(t, "/create?step=basic&memora_id="+strconv.Itoa(m.ID), nil))
	if !strings.Contains(html, `value="Grace"`) || !strings.Contains(html, `value="pt"`) {
		t.Error("resumed basic step missing prefilled fields")
	}
}

func TestCreateBasic_RedirectsToVideoStep(t *testing.T) {
	f := newFixture(t)

	resp := f.postForm(t, "/create/basic-info", url.Values{
		"full_name": {"Ada"},
		"birthday":  {"1990-01-01"},
		"language":  {"en"},
		"privacy":   {"public"},
	})
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, "/create?step=video&memora_id=") {
		t.Errorf("Location = %q", loc)
	}
}

func multipartBody(t *testing.T, field, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf strings.Builder
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	w.Close()
	return strings.NewReader(buf.String()), w.FormDataContentType()
}

func TestCreateVideo_AdvancesToSocial(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{
		FullName: "Ada", Status: string(memora.StatusBasicInfoCompleted),
	})

	reqBody, contentType := multipartBody(t, "video", "recording.webm", "webm-bytes")
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Post(f.srv.URL+"/create/"+strconv.Itoa(m.ID)+"/video", contentType, reqBody)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if got := f.backend.Memora(m.ID).Status; got != string(memora.StatusVideoInfoCompleted) {
		t.Errorf("backend status = %q", got)
	}
}

func TestCreateSocial_RendersDonePage(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{
		FullName: "Ada", Status: string(memora.StatusVideoInfoCompleted),
	})

	reqBody, contentType := multipartBody(t, "archive", "export.zip", "zip-bytes")
	resp, err := http.Post(f.srv.URL+"/create/"+strconv.Itoa(m.ID)+"/social", contentType, reqBody)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	html, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(html), "All set") {
		t.Error("done page not rendered")
	}
	if got := f.backend.Memora(m.ID).Status; got != string(memora.StatusProcessingSocial) {
		t.Errorf("backend status = %q", got)
	}
}

func TestChat_RendersTranscriptPairs(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})
	f.backend.AddMessages(m.ID, memora.ChatRecord{
		ID: "msg-a", MemoraID: m.ID, Content: "hello there", Response: "hi yourself",
	})

	html := body(t, f.get(t, "/memora/"+strconv.Itoa(m.ID), nil))
	if !strings.Contains(html, "hello there") || !strings.Contains(html, "hi yourself") {
		t.Error("transcript pair not rendered")
	}
	if !strings.Contains(html, "entry-msg-a-user") || !strings.Contains(html, "entry-msg-a-memora") {
		t.Error("expanded entry ids missing")
	}
	if !strings.Contains(html, "/messages/msg-a/audio") {
		t.Error("reply audio control missing")
	}
}

func TestChat_OwnedShowsSharing(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})
	f.backend.SetShared(m.ID, memora.User{ID: "u9", Name: "Close Friend", Email: "friend@example.test"})

	html := body(t, f.get(t, "/memora/"+strconv.Itoa(m.ID), nil))
	if !strings.Contains(html, "Close Friend") {
		t.Error("shared-with list not rendered for owned persona")
	}
}

func TestChat_ForeignHidesSharing(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{
		FullName: "Pub", UserID: "auth0|someone-else",
		PrivacyStatus: memora.PrivacyPublic, Status: string(memora.StatusConcluded),
	})

	html := body(t, f.get(t, "/memora/"+strconv.Itoa(m.ID), nil))
	if strings.Contains(html, "Shared with") {
		t.Error("sharing panel rendered for a persona the viewer does not own")
	}
}

func TestChat_NotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/memora/999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSend_ReturnsConfirmedPairFragment(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})

	resp := f.postForm(t, "/memora/"+strconv.Itoa(m.ID)+"/messages", url.Values{
		"content": {"hello"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	html := body(t, resp)
	if !strings.Contains(html, "hello") || !strings.Contains(html, "echo: hello") {
		t.Errorf("fragment = %q", html)
	}
	if strings.Contains(html, "entry-pending") {
		t.Error("fragment still contains pending entries")
	}
}

func TestSend_FailureKeepsDraftText(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})
	f.backend.FailSend = true

	resp := f.postForm(t, "/memora/"+strconv.Itoa(m.ID)+"/messages", url.Values{
		"content": {"important words"},
	})
	html := body(t, resp)
	if !strings.Contains(html, "could not be sent") {
		t.Error("send failure message missing")
	}
	if !strings.Contains(html, "important words") {
		t.Error("rolled-back draft text not returned to the user")
	}
}

func TestSend_EmptyContentRejected(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})

	resp := f.postForm(t, "/memora/"+strconv.Itoa(m.ID)+"/messages", url.Values{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAudio_StreamsBackendBody(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/messages/msg-3/audio", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "audio/mpeg" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := body(t, resp); got != "AUDIO:msg-3" {
		t.Errorf("audio body = %q", got)
	}
}

func TestVideo_RedirectsToStorageURL(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/messages/msg-3/video", nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://cdn.example.test/videos/msg-3.mp4" {
		t.Errorf("Location = %q", loc)
	}
}

func TestUserSearch_ShortTermSkipsBackend(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})

	resp := f.get(t, "/memora/"+strconv.Itoa(m.ID)+"/share/search?name=gr", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.backend.Calls("GET /users") != 0 {
		t.Error("backend searched for a term below the minimum length")
	}
}

func TestUserSearch_ExcludesAlreadyShared(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{FullName: "Ada", Status: string(memora.StatusConcluded)})
	f.backend.SetUsers(
		memora.User{ID: "u1", Name: "Grace Hopper", Email: "grace@example.test"},
		memora.User{ID: "u2", Name: "Graham Bell", Email: "graham@example.test"},
	)
	f.backend.SetShared(m.ID, memora.User{ID: "u2", Name: "Graham Bell"})

	html := body(t, f.get(t, "/memora/"+strconv.Itoa(m.ID)+"/share/search?name=gra", nil))
	if !strings.Contains(html, "Grace Hopper") {
		t.Error("matching user missing from results")
	}
	if strings.Contains(html, "Graham Bell") {
		t.Error("already-shared user not excluded from results")
	}
}

func TestRetry_CallsBackendAndRedirects(t *testing.T) {
	f := newFixture(t)
	m := f.backend.AddMemora(memora.Memora{
		FullName: "Ada", Status: string(memora.StatusConcludedWithErrors),
	})

	resp := f.postForm(t, "/memora/"+strconv.Itoa(m.ID)+"/retry", url.Values{})
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if got := f.backend.Memora(m.ID).Status; got != string(memora.StatusProcessingSocial) {
		t.Errorf("backend status after retry = %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/", nil)
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("X-Content-Type-Options missing")
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("X-Frame-Options missing")
	}
	if !strings.Contains(resp.Header.Get("Content-Security-Policy"), "default-src 'self'") {
		t.Error("Content-Security-Policy missing")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing")
	}
}
