package wizard

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/auth"
	"github.com/memorahq/memora/internal/errors"
	"github.com/memorahq/memora/internal/memora"
	"github.com/memorahq/memora/internal/testutil"
)

func newTestMachine(t *testing.T) (*Machine, *testutil.FakeBackend) {
	t.Helper()
	backend := testutil.NewFakeBackend()
	t.Cleanup(backend.Close)
	client := api.New(backend.URL(), auth.NewStatic("tok"), backend.Client())
	return New(client, 2*time.Second), backend
}

func TestParseStep(t *testing.T) {
	for _, raw := range []string{"intro", "basic", "video", "social"} {
		if _, err := ParseStep(raw); err != nil {
			t.Errorf("ParseStep(%q) error = %v", raw, err)
		}
	}
	if _, err := ParseStep("review"); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("ParseStep(review) error = %v, want INVALID_REQUEST", err)
	}
}

func TestFullFlow(t *testing.T) {
	m, backend := newTestMachine(t)
	ctx := context.Background()

	if m.Step() != StepIntro || !m.Ready() {
		t.Fatalf("initial state = %q ready=%v", m.Step(), m.Ready())
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if m.Step() != StepBasic {
		t.Fatalf("step after Start = %q", m.Step())
	}

	err := m.SubmitBasicInfo(ctx, BasicInformation{
		FullName: "Ada",
		Birthday: "1990-01-01",
		IsPublic: true,
		Language: "en",
	})
	if err != nil {
		t.Fatalf("SubmitBasicInfo() error = %v", err)
	}
	if m.Step() != StepVideo {
		t.Fatalf("step after basic = %q", m.Step())
	}
	if m.MemoraID() == 0 {
		t.Fatal("draft not stamped with persona id")
	}

	if err := m.SubmitVideo(ctx, []byte("webm")); err != nil {
		t.Fatalf("SubmitVideo() error = %v", err)
	}
	if m.Step() != StepSocial {
		t.Fatalf("step after video = %q", m.Step())
	}
	if got := backend.Memora(m.MemoraID()).Status; got != string(memora.StatusVideoInfoCompleted) {
		t.Errorf("backend status after video = %q", got)
	}

	if err := m.SubmitSocial(ctx, strings.NewReader("zip"), "export.zip"); err != nil {
		t.Fatalf("SubmitSocial() error = %v", err)
	}
	if !m.Done() {
		t.Fatal("wizard not done after social upload")
	}
	if got := backend.Memora(m.MemoraID()).Status; got != string(memora.StatusProcessingSocial) {
		t.Errorf("backend status after social = %q", got)
	}
	if m.ExitDelay() != 2*time.Second {
		t.Errorf("ExitDelay() = %v", m.ExitDelay())
	}
}

func TestSubmitBasicInfo_ReturnedIDStampsDraft(t *testing.T) {
	// The backend assigns the id; the wizard lands on video with that id.
	m, backend := newTestMachine(t)

	seeded := backend.AddMemora(memora.Memora{FullName: "occupied", Status: string(memora.StatusConcluded)})

	err := m2Basic(t, m)
	if err != nil {
		t.Fatalf("submit error = %v", err)
	}
	if m.Step() != StepVideo {
		t.Fatalf("step = %q, want video", m.Step())
	}
	if m.MemoraID() == seeded.ID || m.MemoraID() == 0 {
		t.Fatalf("MemoraID = %d, want fresh backend-assigned id", m.MemoraID())
	}
}

func m2Basic(t *testing.T, m *Machine) error {
	t.Helper()
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return m.SubmitBasicInfo(context.Background(), BasicInformation{
		FullName: "Ada", Birthday: "1990-01-01", IsPublic: true, Language: "en",
	})
}

func TestSubmitBasicInfo_FailureKeepsStep(t *testing.T) {
	m, backend := newTestMachine(t)
	backend.ForceUnauthorized = true

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	err := m.SubmitBasicInfo(context.Background(), BasicInformation{FullName: "Ada", Language: "en"})
	if err == nil {
		t.Fatal("expected error")
	}
	if m.Step() != StepBasic {
		t.Errorf("step after failure = %q, want basic", m.Step())
	}
	if m.MemoraID() != 0 {
		t.Errorf("MemoraID after failure = %d, want 0", m.MemoraID())
	}
}

func TestSubmitVideo_FailureKeepsStep(t *testing.T) {
	m, backend := newTestMachine(t)
	if err := m2Basic(t, m); err != nil {
		t.Fatalf("submit basic error = %v", err)
	}

	backend.FailUploads = true
	if err := m.SubmitVideo(context.Background(), []byte("webm")); err == nil {
		t.Fatal("expected upload error")
	}
	if m.Step() != StepVideo {
		t.Errorf("step after failed upload = %q, want video", m.Step())
	}
}

func TestResume_ReconstructsDraft(t *testing.T) {
	m, backend := newTestMachine(t)
	seeded := backend.AddMemora(memora.Memora{
		FullName:             "Grace",
		Language:             "pt",
		Birthday:             "1985-12-09",
		PrivacyStatus:        memora.PrivacyPrivate,
		ProfilePictureBase64: "aGVsbG8=",
		Status:               string(memora.StatusBasicInfoCompleted),
	})

	if err := m.Resume(context.Background(), StepVideo, seeded.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	if m.Step() != StepVideo || !m.Ready() {
		t.Fatalf("state after resume = %q ready=%v", m.Step(), m.Ready())
	}
	// Reconstructed fields must equal the fetched persona's exactly.
	basic := m.Draft().Basic
	if basic == nil {
		t.Fatal("draft basic not reconstructed")
	}
	if basic.Language != "pt" {
		t.Errorf("Language = %q, want pt", basic.Language)
	}
	if basic.Birthday != "1985-12-09" {
		t.Errorf("Birthday = %q, want 1985-12-09", basic.Birthday)
	}
	if basic.IsPublic {
		t.Error("IsPublic = true, want false for private persona")
	}
	if basic.Picture == nil || basic.Picture.Base64 != "aGVsbG8=" {
		t.Errorf("Picture = %+v, want wrapper around stored data", basic.Picture)
	}

	// Resume must reuse the supplied id, never create a new persona.
	if m.MemoraID() != seeded.ID {
		t.Errorf("MemoraID = %d, want %d", m.MemoraID(), seeded.ID)
	}
}

func TestResume_NotReadyUntilFetchCompletes(t *testing.T) {
	m, backend := newTestMachine(t)

	// Fetch failure: the step must not become presentable.
	if err := m.Resume(context.Background(), StepVideo, 404); err == nil {
		t.Fatal("expected fetch error")
	}
	if m.Ready() {
		t.Error("Ready() = true after failed resume fetch")
	}
	if err := m.SubmitVideo(context.Background(), []byte("x")); err == nil {
		t.Error("SubmitVideo should refuse while not ready")
	}
	_ = backend
}

func TestResume_RequiresID(t *testing.T) {
	m, _ := newTestMachine(t)
	if err := m.Resume(context.Background(), StepSocial, 0); !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("Resume(0) error = %v, want INVALID_REQUEST", err)
	}
}

func TestSubmitSocial_ResumedDraft(t *testing.T) {
	m, backend := newTestMachine(t)
	seeded := backend.AddMemora(memora.Memora{
		FullName: "Grace", Language: "en", Birthday: "1985-12-09",
		PrivacyStatus: memora.PrivacyPublic,
		Status:        string(memora.StatusVideoInfoCompleted),
	})

	if err := m.Resume(context.Background(), StepSocial, seeded.ID); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if err := m.SubmitSocial(context.Background(), bytes.NewReader([]byte("zip")), "export.zip"); err != nil {
		t.Fatalf("SubmitSocial() error = %v", err)
	}
	if got := backend.Memora(seeded.ID).Status; got != string(memora.StatusProcessingSocial) {
		t.Errorf("backend status = %q", got)
	}
}

func TestStepGuards(t *testing.T) {
	m, _ := newTestMachine(t)

	if err := m.SubmitVideo(context.Background(), []byte("x")); err == nil {
		t.Error("SubmitVideo allowed from intro")
	}
	if err := m.SubmitSocial(context.Background(), strings.NewReader("x"), "a.zip"); err == nil {
		t.Error("SubmitSocial allowed from intro")
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(); err == nil {
		t.Error("Start allowed twice")
	}
}
