// Package wizard drives the persona creation flow: intro → basic → video →
// social. The machine owns sequencing and the in-memory Draft; all
// persistence goes through the backend client.
package wizard

import (
	"bytes"
	"context"
	"io"
	"log"
	"time"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/errors"
	"github.com/memorahq/memora/internal/memora"
)

// Step is a wizard state.
type Step string

const (
	StepIntro  Step = "intro"
	StepBasic  Step = "basic"
	StepVideo  Step = "video"
	StepSocial Step = "social"
)

// ParseStep validates a step read from navigation parameters.
func ParseStep(raw string) (Step, error) {
	switch Step(raw) {
	case StepIntro, StepBasic, StepVideo, StepSocial:
		return Step(raw), nil
	}
	return "", errors.NewInvalidRequest("unknown wizard step: " + raw)
}

// Picture is a file-like wrapper around profile picture data.
type Picture struct {
	Name   string
	Base64 string
}

// BasicInformation is the first step's form data.
type BasicInformation struct {
	FullName string
	Birthday string
	IsPublic bool
	Language string
	Picture  *Picture
}

// Draft accumulates wizard input in memory. It is created empty when the
// wizard mounts or resumes, populated per step, and discarded on navigation
// away; the backend persona row is the only persistence.
type Draft struct {
	Basic    *BasicInformation
	Video    []byte
	MemoraID int
}

// Backend is the slice of the API client the wizard persists through.
type Backend interface {
	GetMemora(ctx context.Context, id int) (*memora.Memora, error)
	CreateBasicInfo(ctx context.Context, req api.BasicInfoRequest) (int, error)
	UploadVideo(ctx context.Context, id int, video io.Reader, filename string) error
	UploadSocialMedia(ctx context.Context, id int, archive io.Reader, filename string) error
}

// Machine is the creation wizard state machine. Transitions are linear and
// fire only after the corresponding backend call succeeds; failures leave
// the step unchanged.
type Machine struct {
	backend   Backend
	step      Step
	draft     Draft
	ready     bool
	done      bool
	exitDelay time.Duration
}

// New creates a Machine at the intro step.
func New(backend Backend, exitDelay time.Duration) *Machine {
	return &Machine{
		backend:   backend,
		step:      StepIntro,
		ready:     true,
		exitDelay: exitDelay,
	}
}

// Resume enters the wizard directly at a step for an existing persona,
// reconstructing the Draft from the fetched record. The resumed step is not
// Ready until the fetch completes, so it never renders with incomplete
// defaults. Resuming never creates a new persona id.
func (m *Machine) Resume(ctx context.Context, step Step, memoraID int) error {
	if memoraID <= 0 {
		return errors.NewInvalidRequest("resume requires a memora id")
	}

	m.step = step
	m.draft = Draft{MemoraID: memoraID}
	m.ready = false

	record, err := m.backend.GetMemora(ctx, memoraID)
	if err != nil {
		log.Printf("wizard: fetching memora %d for resume: %v", memoraID, err)
		return err
	}

	m.draft.Basic = basicFromRecord(record)
	m.ready = true
	return nil
}

// basicFromRecord reconstructs first-step form data from a persona record.
// Language, birthday, and the public flag are copied verbatim; the picture
// becomes a file-like wrapper around the stored data.
func basicFromRecord(record *memora.Memora) *BasicInformation {
	basic := &BasicInformation{
		FullName: record.FullName,
		Birthday: record.Birthday,
		IsPublic: record.PrivacyStatus == memora.PrivacyPublic,
		Language: record.Language,
	}
	if record.ProfilePictureBase64 != "" {
		basic.Picture = &Picture{
			Name:   "profile_picture.jpg",
			Base64: record.ProfilePictureBase64,
		}
	}
	return basic
}

// Step returns the current step.
func (m *Machine) Step() Step { return m.step }

// Ready reports whether the current step may render. Only a pending resume
// fetch makes a step not ready.
func (m *Machine) Ready() bool { return m.ready }

// Done reports whether the wizard has finished (social upload accepted).
func (m *Machine) Done() bool { return m.done }

// MemoraID returns the persona id the Draft is stamped with, 0 before the
// basic step completes.
func (m *Machine) MemoraID() int { return m.draft.MemoraID }

// Draft returns the accumulated draft.
func (m *Machine) Draft() Draft { return m.draft }

// ExitDelay is how long the front end lingers after the social upload before
// navigating home. Backend processing continues asynchronously; the status
// poller tracks it from there.
func (m *Machine) ExitDelay() time.Duration { return m.exitDelay }

// Start moves intro → basic. User-initiated, no backend call.
func (m *Machine) Start() error {
	if m.step != StepIntro {
		return errors.NewInvalidRequest("wizard already started")
	}
	m.step = StepBasic
	return nil
}

// SubmitBasicInfo persists the basic fields and, on success, stamps the
// Draft with the assigned persona id and advances to the video step.
func (m *Machine) SubmitBasicInfo(ctx context.Context, basic BasicInformation) error {
	if m.step != StepBasic {
		return errors.NewInvalidRequest("basic info can only be submitted from the basic step")
	}

	req := api.BasicInfoRequest{
		FullName:      basic.FullName,
		Language:      basic.Language,
		Birthday:      basic.Birthday,
		PrivacyStatus: string(memora.PrivacyPrivate),
	}
	if basic.IsPublic {
		req.PrivacyStatus = string(memora.PrivacyPublic)
	}
	if basic.Picture != nil {
		req.ProfilePictureBase64 = basic.Picture.Base64
	}

	id, err := m.backend.CreateBasicInfo(ctx, req)
	if err != nil {
		log.Printf("wizard: creating basic info: %v", err)
		return err
	}

	m.draft.Basic = &basic
	m.draft.MemoraID = id
	m.step = StepVideo
	return nil
}

// SubmitVideo uploads the recorded video against the Draft's persona id and
// advances to the social step on success.
func (m *Machine) SubmitVideo(ctx context.Context, video []byte) error {
	if m.step != StepVideo {
		return errors.NewInvalidRequest("video can only be submitted from the video step")
	}
	if !m.ready {
		return errors.NewInvalidRequest("wizard still loading persona data")
	}
	if m.draft.MemoraID == 0 {
		return errors.NewInvalidRequest("no persona id to upload video against")
	}

	if err := m.backend.UploadVideo(ctx, m.draft.MemoraID, bytes.NewReader(video), "recording.webm"); err != nil {
		log.Printf("wizard: uploading video for memora %d: %v", m.draft.MemoraID, err)
		return err
	}

	m.draft.Video = video
	m.step = StepSocial
	return nil
}

// SubmitSocial uploads the social-data archive and marks the wizard done.
// The caller navigates home after ExitDelay, independent of backend
// processing.
func (m *Machine) SubmitSocial(ctx context.Context, archive io.Reader, filename string) error {
	if m.step != StepSocial {
		return errors.NewInvalidRequest("social data can only be submitted from the social step")
	}
	if m.draft.MemoraID == 0 {
		return errors.NewInvalidRequest("no persona id to upload social data against")
	}

	if err := m.backend.UploadSocialMedia(ctx, m.draft.MemoraID, archive, filename); err != nil {
		log.Printf("wizard: uploading social data for memora %d: %v", m.draft.MemoraID, err)
		return err
	}

	m.done = true
	return nil
}
