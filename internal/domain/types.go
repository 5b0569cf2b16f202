package domain

import (
	"encoding/json"
	"time"
)

// EndpointState tracks the transport lifecycle of one backend server.
type EndpointState string

const (
	EndpointDisconnected EndpointState = "disconnected"
	EndpointConnecting   EndpointState = "connecting"
	EndpointConnected    EndpointState = "connected"
	EndpointFailed       EndpointState = "failed"
)

// Endpoint identifies one backend MCP server.
type Endpoint struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	APIKey  string `json:"apiKey,omitempty"`
}

// EndpointInfo is a read-only snapshot of an endpoint's connection state.
type EndpointInfo struct {
	Endpoint    Endpoint
	State       EndpointState
	ConnectedAt time.Time
	LastError   string
	Attempts    int
}

// ToolParam describes one parameter of a tool's input schema.
type ToolParam struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// ToolDescriptor is one entry of the aggregated catalog. The Endpoint field
// is a name lookup into the session manager, not an owning reference.
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Endpoint    string      `json:"endpoint"`
	Params      []ToolParam `json:"params,omitempty"`
	InputSchema any         `json:"inputSchema,omitempty"`
}

// ToolCollision records a tool name exposed by more than one endpoint.
// The winner is the most recently registered endpoint.
type ToolCollision struct {
	Tool   string `json:"tool"`
	Winner string `json:"winner"`
	Loser  string `json:"loser"`
}

// ToolSnapshot is an immutable view of the aggregated catalog.
type ToolSnapshot struct {
	Tools      []ToolDescriptor
	Collisions []ToolCollision
	ETag       string
}

// Resolve returns the descriptor for a tool name.
func (s ToolSnapshot) Resolve(name string) (ToolDescriptor, bool) {
	for _, tool := range s.Tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return ToolDescriptor{}, false
}

// DispatchRequest is one tool invocation. Immutable once issued.
type DispatchRequest struct {
	Tool          string
	Arguments     map[string]any
	CorrelationID string
	Deadline      time.Time
}

// FailureKind classifies a dispatch failure.
type FailureKind string

const (
	FailureUnknownTool      FailureKind = "unknown-tool"
	FailureInvalidArguments FailureKind = "invalid-arguments"
	FailureTimeout          FailureKind = "timeout"
	FailureUnavailable      FailureKind = "endpoint-unavailable"
	FailureAuth             FailureKind = "auth"
	FailureRemote           FailureKind = "remote"
	FailureConnection       FailureKind = "connection"
	FailureCanceled         FailureKind = "canceled"
	FailurePrecondition     FailureKind = "failed-precondition"
)

// DispatchFailure is the failure half of a DispatchResult.
type DispatchFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// DispatchResult pairs one-to-one with a DispatchRequest by correlation id.
type DispatchResult struct {
	CorrelationID string           `json:"correlationId"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	Failure       *DispatchFailure `json:"failure,omitempty"`
}

// OK reports whether the dispatch succeeded.
func (r DispatchResult) OK() bool { return r.Failure == nil }

// ToolCall is one step of an intent routing plan.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Event is a server-initiated notification delivered on a session's push
// channel.
type Event struct {
	Endpoint string
	Type     string
	Payload  json.RawMessage
}

const (
	EventToolsChanged = "notifications/tools/list_changed"
	EventProgress     = "notifications/progress"
	EventMessage      = "notifications/message"
)
