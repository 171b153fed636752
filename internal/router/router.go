// Package router implements the dispatch decision table: translating one
// upstream call_tool(name, args) into one or many supervisor calls.
package router

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/pocketomega/clustermux/internal/normalize"
	"github.com/pocketomega/clustermux/internal/schema"
	"github.com/pocketomega/clustermux/internal/supervisor"
)

// CallResult is an alias for supervisor's result shape: the router never
// transforms it, only decides which supervisor method(s) to invoke.
type CallResult = supervisor.CallResult

// Caller is the subset of *supervisor.Supervisor the router depends on.
// Defined here (consumer side) so tests can substitute a fake without
// spinning up a real supervisor/child processes.
type Caller interface {
	CallOnOne(ctx context.Context, url, tool string, args map[string]any) CallResult
	CallOnAll(ctx context.Context, tool string, args map[string]any) CallResult
	Endpoints() []string
}

// Tables is the subset of schema.Classifier the router needs.
type Tables interface {
	Current() *schema.Table
}

// Router translates calls using the current classification snapshot.
type Router struct {
	caller Caller
	tables Tables
}

// New creates a Router.
func New(caller Caller, tables Tables) *Router {
	return &Router{caller: caller, tables: tables}
}

// Dispatch picks one of: route to the named cluster, fan out to every
// connected endpoint, or route to a cluster named via the synthetic
// "cluster" argument on an otherwise fan-out tool — based on the tool's
// classification and whether the caller supplied a cluster argument.
func (r *Router) Dispatch(ctx context.Context, name string, args map[string]any) CallResult {
	table := r.tables.Current()
	clusterArg, hasCluster := stringArg(args, "cluster")

	switch {
	case table.IsRoutable(name):
		return r.routeToOne(ctx, name, args, clusterArg, hasCluster)

	case table.IsFanOut(name) && hasCluster:
		return r.routeToOne(ctx, name, stripCluster(args), clusterArg, true)

	case table.IsFanOut(name):
		return r.caller.CallOnAll(ctx, name, stripCluster(args))

	case hasCluster:
		// Unknown name, cluster present: optimistic passthrough.
		return r.routeToOne(ctx, name, args, clusterArg, true)

	default:
		return errorResult("Unknown tool %q; available tools: %s", name, strings.Join(table.Names(), ", "))
	}
}

func (r *Router) routeToOne(ctx context.Context, name string, args map[string]any, clusterArg string, hasCluster bool) CallResult {
	if !hasCluster || clusterArg == "" {
		return errorResult("cluster parameter is required; available endpoints: %s",
			strings.Join(r.caller.Endpoints(), ", "))
	}

	target := normalize.URL(clusterArg)
	found := false
	for _, u := range r.caller.Endpoints() {
		if u == target {
			found = true
			break
		}
	}
	if !found {
		return errorResult("cluster %q is not configured; available endpoints: %s",
			clusterArg, strings.Join(r.caller.Endpoints(), ", "))
	}

	return r.caller.CallOnOne(ctx, target, name, args)
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func stripCluster(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == "cluster" {
			continue
		}
		out[k] = v
	}
	return out
}

func errorResult(format string, args ...any) CallResult {
	return CallResult{
		Content: []sdkmcp.Content{sdkmcp.NewTextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}
