// Package schema merges and classifies the tool surface exposed upstream,
// rewriting each tool's input schema according to whether it is routable
// (single-endpoint) or fan-out (all endpoints).
package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/pocketomega/clustermux/internal/endpoint"
)

const (
	routableSuffix = " (Routed to the specified cluster)"
	fanOutSuffix   = " (Queries all available clusters unless a specific cluster is specified)"
)

// Tool is one entry of the merged upstream surface: the rewritten
// definition ready to register with the upstream MCP server.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Table is an immutable snapshot of the classification + merged tool list,
// swapped in atomically by Refresh.
type Table struct {
	Tools    []Tool
	Routable map[string]bool
	FanOut   map[string]bool
}

// IsRoutable reports whether name was classified routable in this snapshot.
func (t *Table) IsRoutable(name string) bool { return t != nil && t.Routable[name] }

// IsFanOut reports whether name was classified fan-out in this snapshot.
func (t *Table) IsFanOut(name string) bool { return t != nil && t.FanOut[name] }

// Names returns the sorted list of every tool name in the table, for
// "unknown tool" error messages.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.Tools))
	for _, tool := range t.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	return names
}

// SourceTools is the minimal view the classifier needs from whichever
// endpoint record it picks as the source of truth.
type SourceTools struct {
	EndpointURL string
	Tools       []endpoint.ToolDefinition
}

// Classifier owns the current Table and knows how to rebuild it from a
// fresh tool list and the full set of configured endpoint URLs.
//
// Heterogeneous tool sets across endpoints are not reconciled: the source
// of truth is whichever connected endpoint's tool list Refresh is handed,
// and every other endpoint is assumed to expose the same tools. Left as
// documented behavior rather than solved, since reconciling divergent tool
// sets across endpoints has no clear single right answer.
type Classifier struct {
	log     *slog.Logger
	current atomic.Pointer[Table]
}

// New creates an empty Classifier. log may be nil.
func New(log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	c := &Classifier{log: log}
	c.current.Store(&Table{})
	return c
}

// Current returns the latest snapshot. Safe to call concurrently with
// Refresh; never returns nil.
func (c *Classifier) Current() *Table {
	return c.current.Load()
}

// Refresh rebuilds the classification table from source's tools against
// endpointURLs, the full set of configured endpoint URLs, and atomically
// replaces the current snapshot.
func (c *Classifier) Refresh(source SourceTools, endpointURLs []string) {
	if len(source.Tools) == 0 {
		c.log.Warn("schema refresh: no source tools available, merged list is empty")
		c.current.Store(&Table{
			Routable: map[string]bool{},
			FanOut:   map[string]bool{},
		})
		return
	}

	urls := make([]string, len(endpointURLs))
	copy(urls, endpointURLs)
	sort.Strings(urls)

	table := &Table{
		Tools:    make([]Tool, 0, len(source.Tools)),
		Routable: make(map[string]bool, len(source.Tools)),
		FanOut:   make(map[string]bool, len(source.Tools)),
	}

	for _, t := range source.Tools {
		rewritten, routable, err := rewrite(t, urls)
		if err != nil {
			c.log.Warn("schema refresh: skipping tool with unrewritable schema",
				"tool", t.Name, "error", err)
			continue
		}
		table.Tools = append(table.Tools, rewritten)
		if routable {
			table.Routable[t.Name] = true
		} else {
			table.FanOut[t.Name] = true
		}
	}

	c.log.Info("schema refreshed", "source_endpoint", source.EndpointURL,
		"tools", len(table.Tools), "routable", len(table.Routable), "fan_out", len(table.FanOut))
	c.current.Store(table)
}

// rewrite deep-copies t's schema and applies the routable or fan-out
// rewriting rules, classifying by the presence of a "cluster" property in
// the original schema.
func rewrite(t endpoint.ToolDefinition, urls []string) (Tool, bool, error) {
	schema, err := decodeSchema(t.InputSchema)
	if err != nil {
		return Tool{}, false, fmt.Errorf("decode schema: %w", err)
	}

	properties, _ := schema["properties"].(map[string]any)
	if properties == nil {
		properties = map[string]any{}
	}
	_, hadCluster := properties["cluster"]
	routable := hadCluster

	clusterProp := map[string]any{
		"type": "string",
		"enum": urls,
	}

	var description string
	if routable {
		clusterProp["description"] = fmt.Sprintf("The target cluster. One of: %v.", urls)
		properties["cluster"] = clusterProp
		schema["properties"] = properties
		schema["required"] = ensureRequired(schema["required"], "cluster")
		description = t.Description + routableSuffix
	} else {
		clusterProp["description"] = fmt.Sprintf(
			"Optional target cluster. One of: %v. Omit to query every configured cluster.", urls)
		properties["cluster"] = clusterProp
		schema["properties"] = properties
		description = t.Description + fanOutSuffix
	}

	encoded, err := json.Marshal(schema)
	if err != nil {
		return Tool{}, false, fmt.Errorf("encode schema: %w", err)
	}

	return Tool{
		Name:        t.Name,
		Description: description,
		InputSchema: encoded,
	}, routable, nil
}

// decodeSchema deep-copies a raw JSON schema into a plain map via a
// marshal/unmarshal round trip; an empty/nil input yields an empty object.
func decodeSchema(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// ensureRequired returns existing (a JSON-decoded []any of strings, or nil)
// with name appended if not already present.
func ensureRequired(existing any, name string) []any {
	var out []any
	if arr, ok := existing.([]any); ok {
		out = append(out, arr...)
	}
	for _, v := range out {
		if s, ok := v.(string); ok && s == name {
			return out
		}
	}
	return append(out, name)
}
