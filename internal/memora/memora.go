// Package memora defines the persona entity types shared by every front end
// and the closed status set that drives UI branching.
package memora

import (
	"time"
)

// PrivacyStatus is a persona's visibility.
type PrivacyStatus string

const (
	PrivacyPublic  PrivacyStatus = "public"
	PrivacyPrivate PrivacyStatus = "private"
)

// Memora is a persona record as the backend returns it.
type Memora struct {
	ID                   int           `json:"id"`
	FullName             string        `json:"full_name"`
	Bio                  string        `json:"bio,omitempty"`
	Description          string        `json:"description,omitempty"`
	SpeakPattern         string        `json:"speak_pattern,omitempty"`
	Language             string        `json:"language"`
	Birthday             string        `json:"birthday"`
	PrivacyStatus        PrivacyStatus `json:"privacy_status"`
	UserID               string        `json:"user_id"`
	Status               string        `json:"status"`
	StatusMessage        string        `json:"status_message,omitempty"`
	VideoPath            string        `json:"video_path,omitempty"`
	AudioPath            string        `json:"audio_path,omitempty"`
	ProfilePictureBase64 string        `json:"profile_picture_base64,omitempty"`
	CreatedAt            *time.Time    `json:"created_at,omitempty"`
}

// IsPublic reports whether the persona is publicly visible.
func (m *Memora) IsPublic() bool {
	return m.PrivacyStatus == PrivacyPublic
}

// OwnedBy reports whether the given viewer owns the persona.
func (m *Memora) OwnedBy(userID string) bool {
	return userID != "" && m.UserID == userID
}

// ChatRecord is one backend message pair: the user's content and the
// persona's response under a single id and timestamp. The record is the
// unit of truth; display entries are derived from it.
type ChatRecord struct {
	ID       string    `json:"id"`
	MemoraID int       `json:"memora_id"`
	Content  string    `json:"content"`
	Response string    `json:"response"`
	SentByID string    `json:"sent_by_id,omitempty"`
	VideoURL string    `json:"video_url,omitempty"`
	Time     time.Time `json:"timestamp"`
}

// User is a user identity as returned by the search endpoint and the
// shared-with listing.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Picture  string `json:"picture,omitempty"`
	IsActive bool   `json:"is_active"`
}
