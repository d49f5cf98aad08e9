package memora

import (
	"github.com/memorahq/memora/internal/errors"
)

// Status is a persona's backend processing state. The set is closed: a value
// outside it is a backend contract violation and fails ParseStatus rather
// than being tolerated silently.
type Status string

const (
	StatusBasicInfoCompleted  Status = "basic_info_completed"
	StatusVideoInfoCompleted  Status = "video_info_completed"
	StatusProcessingSocial    Status = "processing_socialmedia_data"
	StatusConcluded           Status = "concluded"
	StatusConcludedWithErrors Status = "concluded_with_analyzer_error"
	StatusErrorVideo          Status = "error_processing_video"
	StatusError               Status = "error"
)

// AllStatuses lists every valid status. Used by exhaustiveness tests and by
// surfaces that enumerate states.
var AllStatuses = []Status{
	StatusBasicInfoCompleted,
	StatusVideoInfoCompleted,
	StatusProcessingSocial,
	StatusConcluded,
	StatusConcludedWithErrors,
	StatusErrorVideo,
	StatusError,
}

// ParseStatus validates a raw status string against the closed set.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusBasicInfoCompleted, StatusVideoInfoCompleted,
		StatusProcessingSocial, StatusConcluded,
		StatusConcludedWithErrors, StatusErrorVideo, StatusError:
		return s, nil
	}
	return "", errors.NewUnknownStatus(raw)
}

// ParsedStatus returns the persona's status validated against the closed set.
func (m *Memora) ParsedStatus() (Status, error) {
	return ParseStatus(m.Status)
}

// Processing reports whether the persona is still being processed by the
// backend. This is the condition that keeps the status poller alive.
func (s Status) Processing() bool {
	return s == StatusProcessingSocial
}

// ActionKind is the UI action a status requires.
type ActionKind int

const (
	// ActionResumeWizard resumes the creation wizard at Action.Step.
	ActionResumeWizard ActionKind = iota
	// ActionShowProcessing shows the non-blocking "processing" modal.
	ActionShowProcessing
	// ActionOpenChat navigates to the persona's chat view.
	ActionOpenChat
	// ActionOfferRetry shows the retry-analysis modal with one backend
	// retry call.
	ActionOfferRetry
	// ActionNotifyAndResume shows a transient notification, then resumes
	// the wizard at Action.Step.
	ActionNotifyAndResume
	// ActionShowError shows the generic error modal with the backend
	// message; if a persona id exists, "try again" resumes at Action.Step.
	ActionShowError
)

// String names the kind for logs and templates.
func (k ActionKind) String() string {
	switch k {
	case ActionResumeWizard:
		return "resume_wizard"
	case ActionShowProcessing:
		return "show_processing"
	case ActionOpenChat:
		return "open_chat"
	case ActionOfferRetry:
		return "offer_retry"
	case ActionNotifyAndResume:
		return "notify_and_resume"
	case ActionShowError:
		return "show_error"
	}
	return "unknown"
}

// Action is the required UI response to a persona status.
type Action struct {
	Kind ActionKind
	// Step is the wizard step to resume at, for the kinds that resume.
	Step string
	// Message carries the backend-supplied status message for error
	// surfaces.
	Message string
}

// Classify maps a status to its required UI action. The mapping is total
// over the closed status set; a new backend status fails ParseStatus before
// it can reach this switch.
func Classify(m *Memora) (Action, error) {
	status, err := m.ParsedStatus()
	if err != nil {
		return Action{}, err
	}

	switch status {
	case StatusBasicInfoCompleted:
		return Action{Kind: ActionResumeWizard, Step: "video"}, nil
	case StatusVideoInfoCompleted:
		return Action{Kind: ActionResumeWizard, Step: "social"}, nil
	case StatusProcessingSocial:
		return Action{Kind: ActionShowProcessing}, nil
	case StatusConcluded:
		return Action{Kind: ActionOpenChat}, nil
	case StatusConcludedWithErrors:
		return Action{Kind: ActionOfferRetry}, nil
	case StatusErrorVideo:
		return Action{Kind: ActionNotifyAndResume, Step: "video"}, nil
	case StatusError:
		msg := m.StatusMessage
		if msg == "" {
			msg = "An unexpected error occurred"
		}
		return Action{Kind: ActionShowError, Step: "social", Message: msg}, nil
	}

	// Unreachable past ParseStatus; kept so a new constant cannot fall
	// through to "no action".
	return Action{}, errors.NewUnknownStatus(string(status))
}

// AnyProcessing reports whether any persona in the list is still processing.
// Statuses that fail to parse are ignored here; surfaces that render the
// personas report the contract violation.
func AnyProcessing(list []Memora) bool {
	for i := range list {
		if s, err := list[i].ParsedStatus(); err == nil && s.Processing() {
			return true
		}
	}
	return false
}
