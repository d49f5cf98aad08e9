package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/memorahq/memora/internal/api"
	"github.com/memorahq/memora/internal/chat"
	"github.com/memorahq/memora/internal/config"
	"github.com/memorahq/memora/internal/errors"
	"github.com/memorahq/memora/internal/memora"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	client *api.Client
	cfg    *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *api.Client, cfg *config.Config) *Handlers {
	return &Handlers{client: client, cfg: cfg}
}

// Request types for each tool

// ListRequest represents the arguments for memora_list.
type ListRequest struct {
	Mine *bool `json:"mine,omitempty"`
}

// GetRequest represents the arguments for memora_get and memora_status.
type GetRequest struct {
	ID int `json:"id"`
}

// ChatSendRequest represents the arguments for chat_send.
type ChatSendRequest struct {
	MemoraID int    `json:"memora_id"`
	Content  string `json:"content"`
}

// ChatHistoryRequest represents the arguments for chat_history.
type ChatHistoryRequest struct {
	MemoraID int `json:"memora_id"`
}

// UserSearchRequest represents the arguments for user_search.
type UserSearchRequest struct {
	Name     string `json:"name"`
	MemoraID int    `json:"memora_id,omitempty"`
}

// transcriptEntry is the wire shape of one expanded transcript entry.
type transcriptEntry struct {
	ID       string    `json:"id"`
	RecordID string    `json:"record_id"`
	Role     string    `json:"role"`
	Text     string    `json:"text"`
	Time     time.Time `json:"timestamp"`
}

// Handler implementations

// HandleList handles the memora_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	mine := input.Mine == nil || *input.Mine

	var list []memora.Memora
	if mine {
		list, err = h.client.MyMemoras(ctx)
	} else {
		hasChat := true
		list, err = h.client.ListMemoras(ctx, api.ListFilter{
			PrivacyStatus: string(memora.PrivacyPublic),
			HasChat:       &hasChat,
		})
	}
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"memoras": list})
}

// HandleGet handles the memora_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID <= 0 {
		return errorResult(errors.NewInvalidRequest("id must be a positive integer")), nil
	}

	record, err := h.client.GetMemora(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(record)
}

// HandleStatus handles the memora_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID <= 0 {
		return errorResult(errors.NewInvalidRequest("id must be a positive integer")), nil
	}

	record, err := h.client.GetMemora(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	action, err := memora.Classify(record)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{
		"id":     record.ID,
		"status": record.Status,
		"action": map[string]any{
			"kind":    action.Kind.String(),
			"step":    action.Step,
			"message": action.Message,
		},
	})
}

// HandleRetry handles the memora_retry_analysis tool call.
func (h *Handlers) HandleRetry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.ID <= 0 {
		return errorResult(errors.NewInvalidRequest("id must be a positive integer")), nil
	}

	if err := h.client.RetryAnalysis(ctx, input.ID); err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"id": input.ID, "retried": true})
}

// HandleChatSend handles the chat_send tool call.
func (h *Handlers) HandleChatSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ChatSendRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.MemoraID <= 0 {
		return errorResult(errors.NewInvalidRequest("memora_id must be a positive integer")), nil
	}
	if input.Content == "" {
		return errorResult(errors.NewInvalidRequest("content is required")), nil
	}

	record, err := h.client.SendMessage(ctx, input.MemoraID, input.Content)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(record)
}

// HandleChatHistory handles the chat_history tool call.
func (h *Handlers) HandleChatHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ChatHistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.MemoraID <= 0 {
		return errorResult(errors.NewInvalidRequest("memora_id must be a positive integer")), nil
	}

	records, err := h.client.ListMessages(ctx, input.MemoraID)
	if err != nil {
		return errorResult(err), nil
	}

	entries := chat.Expand(records)
	out := make([]transcriptEntry, len(entries))
	for i, e := range entries {
		out[i] = transcriptEntry{
			ID:       e.ID,
			RecordID: e.RecordID,
			Role:     string(e.Role),
			Text:     e.Text,
			Time:     e.Time,
		}
	}

	return successResult(map[string]any{"entries": out})
}

// HandleUserSearch handles the user_search tool call.
func (h *Handlers) HandleUserSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserSearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if len([]rune(input.Name)) < h.cfg.SearchMinChars {
		return successResult(map[string]any{"users": []memora.User{}})
	}

	excluded := map[string]bool{}
	if input.MemoraID > 0 {
		shared, err := h.client.SharedWith(ctx, input.MemoraID)
		if err != nil {
			return errorResult(err), nil
		}
		for _, u := range shared {
			excluded[u.ID] = true
		}
	}

	found, err := h.client.SearchUsers(ctx, input.Name)
	if err != nil {
		return errorResult(err), nil
	}

	users := make([]memora.User, 0, len(found))
	for _, u := range found {
		if !excluded[u.ID] {
			users = append(users, u)
		}
	}

	return successResult(map[string]any{"users": users})
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if mErr, ok := err.(*errors.MemoraError); ok {
		errorObj := map[string]any{
			"code":    mErr.Code,
			"message": mErr.Message,
			"status":  mErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like token payloads or raw backend bodies
		if mErr.Code != errors.ErrInternal && mErr.Details != nil {
			errorObj["details"] = mErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
