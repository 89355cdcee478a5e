package mcp

import (
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"inksync/internal/config"
)

// Tool definitions. All tools are read-only views over the note index.

var searchToolDef = mcp.NewTool("note_search",
	mcp.WithDescription("Search synced notes by summary, file name, or tag. Returns newest matches first."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for")),
	mcp.WithNumber("limit", mcp.Description("Maximum results to return (default 20)")),
)

var getToolDef = mcp.NewTool("note_get",
	mcp.WithDescription("Fetch one synced note by note id or by the remote file id it was built from."),
	mcp.WithString("id", mcp.Description("Note id")),
	mcp.WithString("file_id", mcp.Description("Remote file id")),
)

var tasksOpenToolDef = mcp.NewTool("tasks_open",
	mcp.WithDescription("List open (uncompleted) tasks extracted from notes, newest first."),
	mcp.WithNumber("limit", mcp.Description("Maximum tasks to return (default 100)")),
)

var statusToolDef = mcp.NewTool("sync_status",
	mcp.WithDescription("Report the most recent sync pass (counts, failures, timing) and the sync settings in effect."),
)

var historyToolDef = mcp.NewTool("sync_history",
	mcp.WithDescription("List past sync passes, newest first."),
	mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"note_search": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearch },
	},
	"note_get": {
		def:     getToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"tasks_open": {
		def:     tasksOpenToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTasksOpen },
	},
	"sync_status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"sync_history": {
		def:     historyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistory },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// NewServer creates a new MCP server with inksync tools registered.
func NewServer(db *sql.DB, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"inksync",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg)
	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}
	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, version string) error {
	s := NewServer(db, cfg, version)
	return server.ServeStdio(s)
}
