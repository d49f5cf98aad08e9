package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var listToolDef = mcp.NewTool("memora_list",
	mcp.WithDescription("List Memora personas. By default lists the personas owned by the authenticated user; set mine=false to list public personas open for chat."),
	mcp.WithBoolean("mine",
		mcp.Description("List the caller's own personas (default true). When false, lists public personas that have concluded processing."),
	),
)

var getToolDef = mcp.NewTool("memora_get",
	mcp.WithDescription("Fetch a single Memora persona by id."),
	mcp.WithNumber("id",
		mcp.Required(),
		mcp.Description("Persona id."),
	),
)

var statusToolDef = mcp.NewTool("memora_status",
	mcp.WithDescription("Report a persona's processing status and the action it calls for (resume the creation wizard, open chat, retry analysis, or surface an error)."),
	mcp.WithNumber("id",
		mcp.Required(),
		mcp.Description("Persona id."),
	),
)

var retryToolDef = mcp.NewTool("memora_retry_analysis",
	mcp.WithDescription("Re-run social media analysis for a persona that concluded with analyzer errors."),
	mcp.WithNumber("id",
		mcp.Required(),
		mcp.Description("Persona id."),
	),
)

var chatSendToolDef = mcp.NewTool("chat_send",
	mcp.WithDescription("Send a message to a Memora persona and return its reply."),
	mcp.WithNumber("memora_id",
		mcp.Required(),
		mcp.Description("Persona id to chat with."),
	),
	mcp.WithString("content",
		mcp.Required(),
		mcp.Description("Message text."),
	),
)

var chatHistoryToolDef = mcp.NewTool("chat_history",
	mcp.WithDescription("Fetch the conversation history with a Memora persona, expanded into user and persona entries in order."),
	mcp.WithNumber("memora_id",
		mcp.Required(),
		mcp.Description("Persona id."),
	),
)

var userSearchToolDef = mcp.NewTool("user_search",
	mcp.WithDescription("Search registered users by name, for sharing a persona. Terms shorter than the configured minimum return no results."),
	mcp.WithString("name",
		mcp.Required(),
		mcp.Description("Name fragment to search for."),
	),
	mcp.WithNumber("memora_id",
		mcp.Description("When set, users the persona is already shared with are excluded from the results."),
	),
)
