// Package mcpclient wraps a single downstream MCP connection: the
// mark3labs/mcp-go stdio client plus the bookkeeping the supervisor needs
// (tool discovery, ping, a one-shot exit notification).
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	sdkclient "github.com/mark3labs/mcp-go/client"
	sdkmcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/pocketomega/clustermux/internal/endpoint"
)

// childWatchInterval is how often the watcher goroutine probes a connected
// child. It only ever looks for evidence that the child process itself is
// gone (a closed pipe), never for mere unresponsiveness — distinguishing
// "the process exited" from "the process is slow" is the health loop's
// job, via its own configured ping interval and consecutive-failure count.
const childWatchInterval = 2 * time.Second

// childWatchTimeout bounds each watcher probe.
const childWatchTimeout = 3 * time.Second

// consecutiveExitSignalsRequired debounces the watcher against a single
// spurious read error: two probes in a row must look like a closed pipe
// before the exit callback fires.
const consecutiveExitSignalsRequired = 2

// Config describes how to spawn and identify a single downstream child.
type Config struct {
	Command string
	Args    []string
	Env     []string
}

// Client owns the connection to one downstream MCP child process. It is
// safe for concurrent use.
type Client struct {
	mu    sync.RWMutex
	cfg   Config
	inner sdkclient.MCPClient

	onExit    func(err error)
	exitOnce  sync.Once
	watchStop chan struct{}
	watchOnce sync.Once
}

// New creates an unconnected Client. Call Connect before any other method.
func New(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// OnExit registers the callback fired exactly once, the moment this client's
// watcher concludes the child process itself has exited (not merely gone
// unresponsive). Registering again replaces the previous callback; this is
// a single mutable slot, not a list of subscribers.
func (c *Client) OnExit(fn func(err error)) {
	c.mu.Lock()
	c.onExit = fn
	c.mu.Unlock()
}

// Connect spawns the child process, attaches the stdio transport, and
// performs the MCP initialize handshake. On success it also starts the
// background exit watcher.
func (c *Client) Connect(ctx context.Context) error {
	inner, err := sdkclient.NewStdioMCPClient(c.cfg.Command, c.cfg.Env, c.cfg.Args...)
	if err != nil {
		return fmt.Errorf("mcpclient: start child %q: %w", c.cfg.Command, err)
	}

	initReq := sdkmcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = sdkmcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = sdkmcp.Implementation{
		Name:    "clustermux",
		Version: "0.1.0",
	}
	if _, err := inner.Initialize(ctx, initReq); err != nil {
		_ = inner.Close()
		return fmt.Errorf("mcpclient: initialize %q: %w", c.cfg.Command, err)
	}

	c.mu.Lock()
	c.inner = inner
	c.watchStop = make(chan struct{})
	c.mu.Unlock()

	go c.watch()
	return nil
}

// watch polls the child at a short, fixed cadence looking only for
// evidence that the process itself is gone. A probe that times out or
// returns an ordinary protocol error is not treated as an exit — that case
// belongs to the health loop's own ping with its consecutive-failure
// threshold, which escalates status without ever declaring the child dead.
// Only consecutiveExitSignalsRequired probes in a row that look like a
// closed pipe fire the exit callback.
func (c *Client) watch() {
	ticker := time.NewTicker(childWatchInterval)
	defer ticker.Stop()

	exitSignals := 0

	for {
		select {
		case <-c.watchStop:
			return
		case <-ticker.C:
			c.mu.RLock()
			inner := c.inner
			c.mu.RUnlock()
			if inner == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), childWatchTimeout)
			err := inner.Ping(ctx)
			cancel()

			if err == nil || !looksLikeProcessExit(err) {
				exitSignals = 0
				continue
			}

			exitSignals++
			if exitSignals >= consecutiveExitSignalsRequired {
				c.fireExit(err)
				return
			}
		}
	}
}

// looksLikeProcessExit reports whether err is the kind of error a stdio
// transport surfaces when the child process itself has terminated and its
// pipes have closed, as opposed to a slow or otherwise misbehaving but
// still-running child.
func looksLikeProcessExit(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"EOF",
		"broken pipe",
		"closed pipe",
		"file already closed",
		"process already finished",
		"signal: killed",
		"signal: terminated",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *Client) fireExit(err error) {
	c.exitOnce.Do(func() {
		c.mu.RLock()
		cb := c.onExit
		c.mu.RUnlock()
		if cb != nil {
			cb(err)
		}
	})
}

// ListTools returns the tool metadata this endpoint currently exposes.
func (c *Client) ListTools(ctx context.Context) ([]endpoint.ToolDefinition, error) {
	inner, err := c.current()
	if err != nil {
		return nil, err
	}

	result, err := inner.ListTools(ctx, sdkmcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcpclient: list tools: %w", err)
	}

	tools := make([]endpoint.ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := marshalSchema(t)
		if err != nil {
			schema = []byte(`{}`)
		}
		tools = append(tools, endpoint.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// Ping issues a protocol-level ping bounded by timeout.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	inner, err := c.current()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return inner.Ping(pingCtx)
}

// CallTool invokes name on the child with args and returns the raw MCP
// result. A non-nil error means the call never reached, or never returned
// from, the child (infrastructure failure) — a tool-level failure is
// reported in-band via result.IsError, with err == nil.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*sdkmcp.CallToolResult, error) {
	inner, err := c.current()
	if err != nil {
		return nil, err
	}

	req := sdkmcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := inner.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: call tool %q: %w", name, err)
	}
	return result, nil
}

// Close terminates the connection and stops the exit watcher. Safe to call
// more than once.
func (c *Client) Close() error {
	c.watchOnce.Do(func() {
		c.mu.RLock()
		stop := c.watchStop
		c.mu.RUnlock()
		if stop != nil {
			close(stop)
		}
	})

	c.mu.Lock()
	inner := c.inner
	c.inner = nil
	c.mu.Unlock()

	if inner == nil {
		return nil
	}
	return inner.Close()
}

func (c *Client) current() (sdkclient.MCPClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.inner == nil {
		return nil, fmt.Errorf("mcpclient: not connected")
	}
	return c.inner, nil
}

// marshalSchema renders an SDK tool's input schema as raw JSON for storage
// on endpoint.ToolDefinition, independent of whichever schema representation
// the SDK used internally.
func marshalSchema(t sdkmcp.Tool) ([]byte, error) {
	return json.Marshal(t.InputSchema)
}
