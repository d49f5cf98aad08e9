// Package api is the HTTP client for the Memora backend. Every request
// carries a bearer credential from the auth package; any 401 surfaces as
// UNAUTHENTICATED so callers can trigger re-authentication.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/memorahq/memora/internal/auth"
	"github.com/memorahq/memora/internal/errors"
	"github.com/memorahq/memora/internal/memora"
)

// maxErrorBody caps how much of a backend error payload is read for detail.
const maxErrorBody = 4 << 10

// invalidator is implemented by token sources that cache; a 401 despite a
// token means the cache is stale.
type invalidator interface {
	Invalidate()
}

// Client talks to the Memora backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
}

// New creates a Client. A nil httpClient uses a default with a 30-second
// timeout.
func New(baseURL string, tokens auth.TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
}

// ListFilter narrows the persona listing.
type ListFilter struct {
	PrivacyStatus string
	HasChat       *bool
}

// ListMemoras lists personas, optionally filtered.
func (c *Client) ListMemoras(ctx context.Context, filter ListFilter) ([]memora.Memora, error) {
	query := url.Values{}
	if filter.PrivacyStatus != "" {
		query.Set("privacy_status", filter.PrivacyStatus)
	}
	if filter.HasChat != nil {
		query.Set("has_chat", strconv.FormatBool(*filter.HasChat))
	}

	var list []memora.Memora
	if err := c.getJSON(ctx, "/memora/", query, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// MyMemoras lists the personas owned by the current viewer.
func (c *Client) MyMemoras(ctx context.Context) ([]memora.Memora, error) {
	var list []memora.Memora
	if err := c.getJSON(ctx, "/memora/my-memoras", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetMemora fetches one persona by id.
func (c *Client) GetMemora(ctx context.Context, id int) (*memora.Memora, error) {
	var m memora.Memora
	if err := c.getJSON(ctx, fmt.Sprintf("/memora/%d", id), nil, &m); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewNotFound(fmt.Sprintf("memora %d", id))
		}
		return nil, err
	}
	return &m, nil
}

// BasicInfoRequest creates or updates a persona's basic fields.
type BasicInfoRequest struct {
	FullName             string `json:"full_name"`
	Language             string `json:"language"`
	Birthday             string `json:"birthday"`
	PrivacyStatus        string `json:"privacy_status"`
	ProfilePictureBase64 string `json:"profile_picture_base64,omitempty"`
}

// CreateBasicInfo persists basic persona fields and returns the assigned id.
func (c *Client) CreateBasicInfo(ctx context.Context, req BasicInfoRequest) (int, error) {
	if strings.TrimSpace(req.FullName) == "" {
		return 0, errors.NewInvalidRequest("full_name is required")
	}

	var out struct {
		ID int `json:"id"`
	}
	if err := c.postJSON(ctx, "/memora/basic-info", req, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// UploadVideo uploads the recorded video blob for a persona.
func (c *Client) UploadVideo(ctx context.Context, id int, video io.Reader, filename string) error {
	if filename == "" {
		filename = "recording.webm"
	}
	return c.postMultipart(ctx, fmt.Sprintf("/memora/%d/video", id), "video_file", filename, video)
}

// UploadSocialMedia uploads the social-data archive for a persona.
func (c *Client) UploadSocialMedia(ctx context.Context, id int, archive io.Reader, filename string) error {
	if filename == "" {
		filename = "export.zip"
	}
	return c.postMultipart(ctx, fmt.Sprintf("/memora/%d/social-media", id), "zip_file", filename, archive)
}

// RetryAnalysis re-triggers a failed analysis for a persona.
func (c *Client) RetryAnalysis(ctx context.Context, id int) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/memora/%d/retry-analysis", id), nil, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// SharedWith lists users granted access to a persona.
func (c *Client) SharedWith(ctx context.Context, id int) ([]memora.User, error) {
	var users []memora.User
	if err := c.getJSON(ctx, fmt.Sprintf("/memora/%d/shared-with", id), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// ListMessages lists the chat records for a persona, in backend order.
func (c *Client) ListMessages(ctx context.Context, memoraID int) ([]memora.ChatRecord, error) {
	var records []memora.ChatRecord
	if err := c.getJSON(ctx, fmt.Sprintf("/memora/messages/%d", memoraID), nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SendMessage sends a chat message and returns the created record,
// including the persona's response.
func (c *Client) SendMessage(ctx context.Context, memoraID int, content string) (*memora.ChatRecord, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}

	payload := map[string]any{
		"content":   content,
		"memora_id": memoraID,
	}
	var record memora.ChatRecord
	if err := c.postJSON(ctx, "/memora/messages/", payload, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// MessageAudio streams the synthesized audio for a chat record. The caller
// owns the returned reader and must close it on every exit path.
func (c *Client) MessageAudio(ctx context.Context, recordID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/memora/messages/%s/audio", url.PathEscape(recordID)), nil, nil, "")
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// MessageVideoURL fetches the synthesized-video reference for a chat record.
// The backend returns either a bare URL or a JSON-quoted one.
func (c *Client) MessageVideoURL(ctx context.Context, recordID string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/memora/messages/%s/video", url.PathEscape(recordID)), nil, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", errors.NewInternal(err)
	}

	raw := strings.TrimSpace(string(body))
	var quoted string
	if json.Unmarshal(body, &quoted) == nil && quoted != "" {
		return quoted, nil
	}
	return raw, nil
}

// SearchUsers searches user identities by name.
func (c *Client) SearchUsers(ctx context.Context, name string) ([]memora.User, error) {
	query := url.Values{"name": {name}}
	var users []memora.User
	if err := c.getJSON(ctx, "/users", query, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// do issues one authenticated request. 401 responses invalidate any cached
// token and map to UNAUTHENTICATED.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewBackend(0, err.Error())
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if inv, ok := c.tokens.(invalidator); ok {
			inv.Invalidate()
		}
		return nil, errors.NewUnauthenticated()
	}

	return resp, nil
}

// checkStatus maps a non-2xx response to a structured error, reading a
// bounded amount of the body for detail.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode == http.StatusNotFound {
		return errors.NewNotFound(resp.Request.URL.Path)
	}
	return errors.NewBackend(resp.StatusCode, strings.TrimSpace(string(detail)))
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewBackend(resp.StatusCode, fmt.Sprintf("decoding response: %v", err))
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.NewInternal(err)
	}

	resp, err := c.do(ctx, http.MethodPost, path, nil, bytes.NewReader(payload), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewBackend(resp.StatusCode, fmt.Sprintf("decoding response: %v", err))
	}
	return nil
}

// postMultipart uploads a single file field. The payload is buffered; wizard
// media are short recordings and export archives, not bulk transfers.
func (c *Client) postMultipart(ctx context.Context, path, field, filename string, r io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return errors.NewInternal(err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return errors.NewInternal(err)
	}
	if err := mw.Close(); err != nil {
		return errors.NewInternal(err)
	}

	resp, err := c.do(ctx, http.MethodPost, path, nil, &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}
