package router

import (
	"context"
	"reflect"
	"strings"
	"testing"

	sdkmcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/pocketomega/clustermux/internal/endpoint"
	"github.com/pocketomega/clustermux/internal/schema"
)

type fakeCaller struct {
	endpoints   []string
	oneURL      string
	oneTool     string
	oneArgs     map[string]any
	allTool     string
	allArgs     map[string]any
	callOneResp CallResult
	callAllResp CallResult
}

func (f *fakeCaller) CallOnOne(_ context.Context, url, tool string, args map[string]any) CallResult {
	f.oneURL, f.oneTool, f.oneArgs = url, tool, args
	return f.callOneResp
}

func (f *fakeCaller) CallOnAll(_ context.Context, tool string, args map[string]any) CallResult {
	f.allTool, f.allArgs = tool, args
	return f.callAllResp
}

func (f *fakeCaller) Endpoints() []string { return f.endpoints }

func buildTables(t *testing.T) *schema.Classifier {
	t.Helper()
	c := schema.New(nil)
	c.Refresh(schema.SourceTools{
		EndpointURL: "https://c1.example",
		Tools: []endpoint.ToolDefinition{
			{Name: "kusto_query", InputSchema: []byte(`{"properties":{"cluster":{},"database":{},"query":{}},"required":["database","query"]}`)},
			{Name: "kusto_cluster_list", InputSchema: []byte(`{"properties":{"subscriptionId":{}}}`)},
		},
	}, []string{"https://c1.example", "https://c2.example"})
	return c
}

func TestDispatch_RouteToOne(t *testing.T) {
	caller := &fakeCaller{endpoints: []string{"https://c1.example", "https://c2.example"}}
	r := New(caller, buildTables(t))

	args := map[string]any{"cluster": "https://C1.EXAMPLE/", "database": "d", "query": "Q"}
	r.Dispatch(context.Background(), "kusto_query", args)

	if caller.oneURL != "https://c1.example" {
		t.Errorf("oneURL = %q, want normalized c1", caller.oneURL)
	}
	if !reflect.DeepEqual(caller.oneArgs, args) {
		t.Errorf("routable args mutated: got %v, want unchanged %v", caller.oneArgs, args)
	}
}

func TestDispatch_FanOutWithCluster_StripsClusterAndRoutes(t *testing.T) {
	caller := &fakeCaller{endpoints: []string{"https://c1.example", "https://c2.example"}}
	r := New(caller, buildTables(t))

	r.Dispatch(context.Background(), "kusto_cluster_list", map[string]any{
		"cluster": "https://c1.example", "subscriptionId": "s",
	})

	if caller.oneURL != "https://c1.example" {
		t.Errorf("oneURL = %q", caller.oneURL)
	}
	want := map[string]any{"subscriptionId": "s"}
	if !reflect.DeepEqual(caller.oneArgs, want) {
		t.Errorf("forwarded args = %v, want %v (cluster stripped)", caller.oneArgs, want)
	}
}

func TestDispatch_FanOutWithoutCluster_CallsAll(t *testing.T) {
	caller := &fakeCaller{endpoints: []string{"https://c1.example", "https://c2.example"}}
	r := New(caller, buildTables(t))

	r.Dispatch(context.Background(), "kusto_cluster_list", map[string]any{"subscriptionId": "s"})

	if caller.allTool != "kusto_cluster_list" {
		t.Errorf("allTool = %q", caller.allTool)
	}
	want := map[string]any{"subscriptionId": "s"}
	if !reflect.DeepEqual(caller.allArgs, want) {
		t.Errorf("fan-out args = %v, want %v", caller.allArgs, want)
	}
}

func TestDispatch_UnknownToolNoCluster(t *testing.T) {
	caller := &fakeCaller{endpoints: []string{"https://c1.example"}}
	r := New(caller, buildTables(t))

	result := r.Dispatch(context.Background(), "mystery", map[string]any{})
	if !result.IsError {
		t.Fatal("expected IsError for unknown tool")
	}
	text := textOf(t, result)
	if !strings.Contains(strings.ToLower(text), "unknown tool") {
		t.Errorf("expected unknown-tool message, got %q", text)
	}
	if !strings.Contains(text, "mystery") {
		t.Errorf("expected tool name in error, got %q", text)
	}
}

func TestDispatch_RoutableMissingCluster(t *testing.T) {
	caller := &fakeCaller{endpoints: []string{"https://c1.example"}}
	r := New(caller, buildTables(t))

	result := r.Dispatch(context.Background(), "kusto_query", map[string]any{"database": "d", "query": "Q"})
	if !result.IsError {
		t.Fatal("expected IsError when cluster is missing for a routable tool")
	}
	if !strings.Contains(textOf(t, result), "cluster parameter is required") {
		t.Errorf("got %q", textOf(t, result))
	}
}

func TestDispatch_RoutableUnconfiguredCluster(t *testing.T) {
	caller := &fakeCaller{endpoints: []string{"https://c1.example"}}
	r := New(caller, buildTables(t))

	result := r.Dispatch(context.Background(), "kusto_query", map[string]any{
		"cluster": "https://unknown.example", "database": "d", "query": "Q",
	})
	if !result.IsError {
		t.Fatal("expected IsError for unconfigured cluster")
	}
	if !strings.Contains(textOf(t, result), "not configured") {
		t.Errorf("got %q", textOf(t, result))
	}
}

func textOf(t *testing.T, r CallResult) string {
	t.Helper()
	for _, c := range r.Content {
		if tc, ok := c.(sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
