// Package upstream binds the merged/classified tool surface to a live MCP
// server exposed over stdio, and keeps the registered tool set in sync with
// schema refreshes.
package upstream

import (
	"context"
	"log/slog"
	"sync"

	sdkmcp "github.com/mark3labs/mcp-go/mcp"
	sdkserver "github.com/mark3labs/mcp-go/server"

	"github.com/pocketomega/clustermux/internal/schema"
	"github.com/pocketomega/clustermux/internal/supervisor"
)

// DispatchResult is an alias for the same result shape supervisor and
// router already share; the server only ever forwards it verbatim.
type DispatchResult = supervisor.CallResult

// Dispatcher is the subset of *router.Router the server needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any) DispatchResult
}

// Server wraps a *server.MCPServer, tracking which tool names are currently
// registered so Sync can diff against a fresh schema.Table.
type Server struct {
	log        *slog.Logger
	mcp        *sdkserver.MCPServer
	dispatcher Dispatcher

	mu   sync.Mutex
	live map[string]bool
}

// New creates a Server named name/version, wired to dispatcher for every
// tool call. log may be nil.
func New(name, version string, dispatcher Dispatcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:        log,
		mcp:        sdkserver.NewMCPServer(name, version, sdkserver.WithToolCapabilities(true)),
		dispatcher: dispatcher,
		live:       make(map[string]bool),
	}
}

// Sync registers every tool newly present in table and removes every tool
// no longer present, diffing against the previously registered set.
func (s *Server) Sync(table *schema.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(table.Tools))
	var toAdd []sdkserver.ServerTool
	for _, t := range table.Tools {
		wanted[t.Name] = true
		if !s.live[t.Name] {
			toAdd = append(toAdd, s.serverTool(t))
		}
	}

	var toRemove []string
	for name := range s.live {
		if !wanted[name] {
			toRemove = append(toRemove, name)
		}
	}

	if len(toAdd) > 0 {
		s.mcp.AddTools(toAdd...)
	}
	if len(toRemove) > 0 {
		s.mcp.DeleteTools(toRemove...)
	}
	s.live = wanted

	s.log.Info("upstream tool set synced", "added", len(toAdd), "removed", len(toRemove), "total", len(wanted))
}

func (s *Server) serverTool(t schema.Tool) sdkserver.ServerTool {
	tool := sdkmcp.NewToolWithRawSchema(t.Name, t.Description, t.InputSchema)
	return sdkserver.ServerTool{
		Tool: tool,
		Handler: func(ctx context.Context, req sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
			args, _ := req.Params.Arguments.(map[string]any)
			result := s.dispatcher.Dispatch(ctx, t.Name, args)
			return &sdkmcp.CallToolResult{Content: result.Content, IsError: result.IsError}, nil
		},
	}
}

// ServeStdio blocks, serving the MCP protocol over os.Stdin/os.Stdout until
// the client closes the input stream. cmd/clustermux runs this on its own
// goroutine and relies on stdin closing (or a signal) to unblock it.
func (s *Server) ServeStdio() error {
	return sdkserver.ServeStdio(s.mcp)
}
