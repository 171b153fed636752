// Package endpoint defines the data model owned by the supervisor: one
// record per configured downstream endpoint and the tool metadata it
// reports.
package endpoint

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an endpoint's child-process connection.
type Status string

const (
	// StatusConnecting is set while the initial connection is in flight.
	StatusConnecting Status = "Connecting"
	// StatusConnected means the child process and client are both live.
	StatusConnected Status = "Connected"
	// StatusFailed means a connect or ping attempt failed but the endpoint
	// has not yet been declared Disconnected.
	StatusFailed Status = "Failed"
	// StatusDisconnected means either the child process exited (its client
	// has been dropped) or three pings in a row failed (the client stays
	// attached until the next reconnect tears it down).
	StatusDisconnected Status = "Disconnected"
)

// Mapping is an operator-supplied (url, identity) configuration pair,
// normalized and deduplicated before a Record is created from it.
type Mapping struct {
	URL      string
	Identity string
}

// ToolDefinition is a tool reported by a downstream endpoint.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Record is the supervisor's authoritative per-endpoint state. It is
// mutated only by the supervisor and only under its locking discipline.
// The live client is kept beside the record, not in it: it is attached
// while Status is Connected and absent while Connecting, after a failed
// connect, and after a child exit. A failed ping moves Status to Failed or
// Disconnected but leaves the client attached until the next reconnect
// tears it down.
type Record struct {
	URL      string // normalized, immutable key
	Identity string // opaque credential hint, may be empty

	Status Status

	LastHeartbeat       time.Time // zero value means "never"
	ConsecutiveFailures int

	Tools []ToolDefinition

	// Reconnecting guards against concurrent reconnect attempts for this
	// endpoint (invariant I6).
	Reconnecting bool
}

// HasHeartbeat reports whether the endpoint has ever completed a successful
// ping or connect.
func (r *Record) HasHeartbeat() bool {
	return !r.LastHeartbeat.IsZero()
}
