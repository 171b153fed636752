// Package supervisor owns the per-endpoint child-process connections: spawn,
// ping, reconnect, dispatch a call, and shutdown. It holds the only
// authoritative copy of endpoint.Record state in the process.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/pocketomega/clustermux/internal/childenv"
	"github.com/pocketomega/clustermux/internal/endpoint"
	"github.com/pocketomega/clustermux/internal/mcpclient"
	"github.com/pocketomega/clustermux/internal/normalize"
	"github.com/pocketomega/clustermux/internal/util"
)

// pingFailureThreshold is the number of consecutive ping failures after
// which an endpoint is declared Disconnected rather than merely Failed.
const pingFailureThreshold = 3

// teardownGraceTimeout bounds how long Teardown waits for a client to close
// before abandoning it.
const teardownGraceTimeout = 5 * time.Second

// errorLogMaxRunes bounds how much of a downstream error body gets copied
// into a log line; auth failures from some identity providers return full
// HTML error pages.
const errorLogMaxRunes = 500

// ChildCommand describes how to spawn the downstream child for every
// endpoint. All endpoints share the same command; only the environment
// (identity) differs per endpoint.
type ChildCommand struct {
	Command string
	Args    []string
}

// entry is the supervisor's private per-endpoint bundle: the public record
// plus the live client (kept private so endpoint.Record stays a pure value
// type usable outside this package, e.g. for status reporting).
type entry struct {
	mu     sync.Mutex
	record endpoint.Record
	client *mcpclient.Client
}

// Supervisor is safe for concurrent use. Endpoint mutations are serialized
// per endpoint (each entry owns its own mutex); the endpoint map and URL
// list take no lock, since they are only written by InitializeAll and only
// read thereafter.
type Supervisor struct {
	log     *slog.Logger
	cmd     ChildCommand
	urls    []string // sorted, normalized, immutable after InitializeAll
	entries map[string]*entry

	onChildExit func(url string)
}

// New creates a Supervisor that spawns children using cmd. log may be nil,
// in which case slog.Default() is used.
func New(cmd ChildCommand, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		log:     log,
		cmd:     cmd,
		entries: make(map[string]*entry),
	}
}

// OnChildExit registers the callback fired, exactly once per exit, the
// moment a connected endpoint's child process is detected gone. Per
// spec design notes this is a single mutable slot: a later registrant
// replaces an earlier one.
func (s *Supervisor) OnChildExit(fn func(url string)) {
	s.onChildExit = fn
}

// Endpoints returns the sorted, normalized list of configured endpoint
// URLs. Stable after InitializeAll returns.
func (s *Supervisor) Endpoints() []string {
	out := make([]string, len(s.urls))
	copy(out, s.urls)
	return out
}

// Snapshot returns a copy of every endpoint's current record, for status
// reporting and the schema merger's source-of-truth search.
func (s *Supervisor) Snapshot() []endpoint.Record {
	out := make([]endpoint.Record, 0, len(s.entries))
	for _, url := range s.urls {
		e := s.entries[url]
		e.mu.Lock()
		out = append(out, e.record)
		e.mu.Unlock()
	}
	return out
}

// InitializeAll dedupes mappings by normalized URL (keeping the first,
// warning on the rest), creates a Connecting record for each, and connects
// to all of them in parallel. It never fails as a whole; it returns the
// count of endpoints that ended up Connected.
func (s *Supervisor) InitializeAll(ctx context.Context, mappings []endpoint.Mapping) (connected int) {
	seen := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		url := normalize.URL(m.URL)
		if seen[url] {
			s.log.Warn("duplicate endpoint mapping dropped", "url", url)
			continue
		}
		seen[url] = true

		s.entries[url] = &entry{record: endpoint.Record{
			URL:      url,
			Identity: m.Identity,
			Status:   endpoint.StatusConnecting,
		}}
		s.urls = append(s.urls, url)
	}
	sort.Strings(s.urls)

	g, gCtx := errgroup.WithContext(ctx)
	for _, url := range s.urls {
		url := url
		g.Go(func() error {
			if err := s.Connect(gCtx, url); err != nil {
				s.log.Warn("endpoint connect failed", "url", url, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, url := range s.urls {
		e := s.entries[url]
		e.mu.Lock()
		if e.record.Status == endpoint.StatusConnected {
			connected++
		}
		e.mu.Unlock()
	}
	return connected
}

// Connect spawns (or respawns) the child for url, lists its tools, and
// transitions the record to Connected. On failure the record is left (or
// set) to Failed.
func (s *Supervisor) Connect(ctx context.Context, url string) error {
	e, ok := s.entries[url]
	if !ok {
		return fmt.Errorf("supervisor: unknown endpoint %q", url)
	}

	e.mu.Lock()
	identity := e.record.Identity
	e.mu.Unlock()

	client := mcpclient.New(mcpclient.Config{
		Command: s.cmd.Command,
		Args:    s.cmd.Args,
		Env:     childenv.Build(identity),
	})

	if err := client.Connect(ctx); err != nil {
		e.mu.Lock()
		e.record.Status = endpoint.StatusFailed
		e.mu.Unlock()
		return fmt.Errorf("supervisor: connect %s: %w", url, err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		_ = client.Close()
		e.mu.Lock()
		e.record.Status = endpoint.StatusFailed
		e.mu.Unlock()
		return fmt.Errorf("supervisor: list tools %s: %w", url, err)
	}

	client.OnExit(func(error) { s.handleChildExit(url) })

	e.mu.Lock()
	e.client = client
	e.record.Status = endpoint.StatusConnected
	e.record.LastHeartbeat = time.Now()
	e.record.ConsecutiveFailures = 0
	e.record.Tools = tools
	e.mu.Unlock()

	s.log.Info("endpoint connected", "url", url, "tools", len(tools))
	return nil
}

func (s *Supervisor) handleChildExit(url string) {
	e, ok := s.entries[url]
	if !ok {
		return
	}
	e.mu.Lock()
	e.record.Status = endpoint.StatusDisconnected
	e.client = nil
	e.record.Tools = nil
	e.mu.Unlock()

	s.log.Warn("endpoint child exited", "url", url)
	if s.onChildExit != nil {
		s.onChildExit(url)
	}
}

// Ping issues a protocol ping against url if it is Connected. It returns
// false without attempting the ping for any other status.
func (s *Supervisor) Ping(ctx context.Context, url string, timeout time.Duration) bool {
	e, ok := s.entries[url]
	if !ok {
		return false
	}

	e.mu.Lock()
	if e.record.Status != endpoint.StatusConnected || e.client == nil {
		e.mu.Unlock()
		return false
	}
	client := e.client
	e.mu.Unlock()

	err := client.Ping(ctx, timeout)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.record.LastHeartbeat = time.Now()
		e.record.ConsecutiveFailures = 0
		return true
	}

	e.record.ConsecutiveFailures++
	if e.record.ConsecutiveFailures >= pingFailureThreshold {
		e.record.Status = endpoint.StatusDisconnected
	} else {
		e.record.Status = endpoint.StatusFailed
	}
	return false
}

// Reconnect tears down and recreates url's connection, guarded against
// concurrent reconnects of the same endpoint (invariant I6).
func (s *Supervisor) Reconnect(ctx context.Context, url string) bool {
	e, ok := s.entries[url]
	if !ok {
		return false
	}

	e.mu.Lock()
	if e.record.Reconnecting {
		e.mu.Unlock()
		return false
	}
	e.record.Reconnecting = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.record.Reconnecting = false
		e.mu.Unlock()
	}()

	s.teardown(e)

	if err := s.Connect(ctx, url); err != nil {
		e.mu.Lock()
		e.record.Status = endpoint.StatusFailed
		e.mu.Unlock()
		return false
	}
	return true
}

// Teardown best-effort closes url's client and clears its references.
func (s *Supervisor) Teardown(url string) {
	e, ok := s.entries[url]
	if !ok {
		return
	}
	s.teardown(e)
}

func (s *Supervisor) teardown(e *entry) {
	e.mu.Lock()
	client := e.client
	e.client = nil
	e.mu.Unlock()

	if client == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		_ = client.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(teardownGraceTimeout):
		s.log.Warn("teardown: client close did not finish within grace period")
	}
}

// CallResult mirrors the content/isError shape the upstream protocol
// result is built from, without importing the upstream server package.
type CallResult struct {
	Content []sdkmcp.Content
	IsError bool
}

// CallOnOne invokes tool on exactly one endpoint.
func (s *Supervisor) CallOnOne(ctx context.Context, url, tool string, args map[string]any) CallResult {
	e, ok := s.entries[url]
	if !ok {
		return errorResult("endpoint %q is not configured; available endpoints: %s", url, strings.Join(s.urls, ", "))
	}

	e.mu.Lock()
	connected := e.record.Status == endpoint.StatusConnected && e.client != nil
	client := e.client
	identity := e.record.Identity
	e.mu.Unlock()

	if !connected {
		return errorResult("endpoint %q is not connected; available endpoints: %s", url, strings.Join(s.urls, ", "))
	}

	result, err := client.CallTool(ctx, tool, args)
	if err != nil {
		if isAuthFailure(err) {
			s.log.Error("authentication failure calling downstream",
				"endpoint", url, "identity", identity, "tool", tool,
				"error", util.TruncateRunes(err.Error(), errorLogMaxRunes))
		}
		return errorResult("call %q on %q failed: %v", tool, url, err)
	}

	return CallResult{Content: result.Content, IsError: result.IsError}
}

// CallOnAll fans tool out to every Connected endpoint in parallel and
// concatenates their content, stabilized by endpoint URL order.
func (s *Supervisor) CallOnAll(ctx context.Context, tool string, args map[string]any) CallResult {
	var live []string
	for _, url := range s.urls {
		e := s.entries[url]
		e.mu.Lock()
		ok := e.record.Status == endpoint.StatusConnected && e.client != nil
		e.mu.Unlock()
		if ok {
			live = append(live, url)
		}
	}

	if len(live) == 0 {
		return errorResult("no endpoints connected")
	}

	results := make(map[string]CallResult, len(live))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	for _, url := range live {
		url := url
		g.Go(func() error {
			r := s.CallOnOne(gCtx, url, tool, args)
			mu.Lock()
			results[url] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var content []sdkmcp.Content
	isError := false
	for _, url := range live {
		r := results[url]
		if r.IsError {
			isError = true
		}
		content = append(content, r.Content...)
	}
	return CallResult{Content: content, IsError: isError}
}

// ShutdownAll tears down every endpoint in parallel.
func (s *Supervisor) ShutdownAll() {
	var wg sync.WaitGroup
	for _, url := range s.urls {
		e := s.entries[url]
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			s.teardown(e)
		}(e)
	}
	wg.Wait()
}

func errorResult(format string, args ...any) CallResult {
	return CallResult{
		Content: []sdkmcp.Content{sdkmcp.NewTextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "Unauthorized") ||
		strings.Contains(msg, "Forbidden")
}
