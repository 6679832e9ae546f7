// Package mcpserver exposes the engine as MCP tools over stdio and forwards
// engine events to connected clients as notifications.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/events"
	"github.com/agentic-research/sift/internal/logging"
)

// NotificationPrefix prefixes event names in notification methods.
const NotificationPrefix = "sift/"

// Engine is the subset of engine.Engine the tools call.
type Engine interface {
	LoadTree(ctx context.Context, root, term string) (api.SearchMatch, error)
	ToggleSelection(ctx context.Context, root string, current []string, target string) (*api.SelectionResult, error)
	ClearSelection(ctx context.Context, root string) (*api.SelectionResult, error)
	GitStatus(ctx context.Context, root string) (*api.GitStatusResults, error)
	Watch(root string) (bool, error)
}

type Server struct {
	eng    Engine
	events *events.Broadcaster
	mcp    *server.MCPServer
	log    *zap.Logger
}

// New registers the tools. Events published on b are forwarded while Serve runs.
func New(eng Engine, b *events.Broadcaster, version string) *Server {
	s := &Server{
		eng:    eng,
		events: b,
		mcp:    server.NewMCPServer("sift", version, server.WithToolCapabilities(false)),
		log:    logging.Named("mcp"),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("load_tree",
		mcp.WithDescription("List a directory as a tree. With a term, prune the tree to entries whose name contains it, keeping their parents and the full contents of matching directories."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute path of the root directory")),
		mcp.WithString("term", mcp.Description("Case-insensitive substring to search for")),
	), s.loadTree)

	s.mcp.AddTool(mcp.NewTool("toggle_selection",
		mcp.WithDescription("Toggle a file or directory in the current selection and return the new selection with cached token counts. Missing counts arrive as file-token-counts notifications."),
		mcp.WithString("directory_path", mcp.Required(), mcp.Description("Absolute path of the root directory")),
		mcp.WithArray("current", mcp.Items(map[string]any{"type": "string"}), mcp.Description("Currently selected paths")),
		mcp.WithString("node_path", mcp.Required(), mcp.Description("Path to toggle")),
	), s.toggleSelection)

	s.mcp.AddTool(mcp.NewTool("clear_selection",
		mcp.WithDescription("Clear the selection under a root."),
		mcp.WithString("directory_path", mcp.Required(), mcp.Description("Absolute path of the root directory")),
	), s.clearSelection)

	s.mcp.AddTool(mcp.NewTool("get_git_status",
		mcp.WithDescription("List working tree changes with diff token counts. Returns null outside a git repository."),
		mcp.WithString("directory_path", mcp.Required(), mcp.Description("Directory inside the repository")),
	), s.gitStatus)

	s.mcp.AddTool(mcp.NewTool("watch_directory_for_git_changes",
		mcp.WithDescription("Watch a directory and send git-status-updated notifications when it changes."),
		mcp.WithString("directory_path", mcp.Required(), mcp.Description("Directory to watch")),
	), s.watch)
}

func (s *Server) loadTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.eng.LoadTree(ctx, root, req.GetString("term", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) toggleSelection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := req.RequireString("directory_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("node_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.eng.ToggleSelection(ctx, root, req.GetStringSlice("current", nil), target)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) clearSelection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := req.RequireString("directory_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.eng.ClearSelection(ctx, root)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) gitStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := req.RequireString("directory_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.eng.GitStatus(ctx, root)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) watch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := req.RequireString("directory_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	started, err := s.eng.Watch(root)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"watching": true, "started": started})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// Forward relays broadcaster events to every connected client until ctx ends.
func (s *Server) Forward(ctx context.Context) {
	ch := s.events.Subscribe()
	defer s.events.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			params, err := toParams(ev.Payload)
			if err != nil {
				s.log.Warn("drop event", zap.String("event", ev.Name), zap.Error(err))
				continue
			}
			s.mcp.SendNotificationToAllClients(NotificationPrefix+ev.Name, params)
		}
	}
}

func toParams(payload any) (map[string]any, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, err
	}
	return params, nil
}

// ServeStdio serves MCP on stdin/stdout until the client disconnects or the
// process is signalled.
func (s *Server) ServeStdio(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.Forward(ctx)
	return server.ServeStdio(s.mcp)
}
