package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"agentd/internal/domain"
)

type fakeResolver struct {
	tools map[string]domain.ToolDescriptor
}

func (f *fakeResolver) Resolve(name string) (domain.ToolDescriptor, bool) {
	desc, ok := f.tools[name]
	return desc, ok
}

type fakeCaller struct {
	mu       sync.Mutex
	calls    int
	lastArgs map[string]any
	result   *mcp.CallToolResult
	err      error
	block    chan struct{}
}

func (f *fakeCaller) Call(ctx context.Context, endpoint string, payload json.RawMessage) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	msg, err := jsonrpc.DecodeMessage(payload)
	if err != nil {
		return nil, err
	}
	req := msg.(*jsonrpc.Request)

	var params mcp.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, err
	}
	if args, ok := params.Arguments.(map[string]any); ok {
		f.mu.Lock()
		f.lastArgs = args
		f.mu.Unlock()
	}

	result := f.result
	if result == nil {
		result = &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: `{"ok":true}`}},
		}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	resp := &jsonrpc.Response{ID: req.ID, Result: data}
	wire, err := jsonrpc.EncodeMessage(resp)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(wire), nil
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testResolver() *fakeResolver {
	return &fakeResolver{tools: map[string]domain.ToolDescriptor{
		"add_new_task": {
			Name:     "add_new_task",
			Endpoint: "tasks",
			Params: []domain.ToolParam{
				{Name: "description", Type: "string", Required: true},
				{Name: "priority", Type: "string"},
			},
		},
		"get_tasks": {Name: "get_tasks", Endpoint: "tasks"},
	}}
}

func newDispatcher(resolver Resolver, caller Caller) *Dispatcher {
	return New(Options{
		Registry: resolver,
		Sessions: caller,
		Config:   domain.RuntimeConfig{DispatchTimeoutSeconds: 5},
	})
}

func TestDispatchSuccess(t *testing.T) {
	caller := &fakeCaller{}
	d := newDispatcher(testResolver(), caller)

	req := d.NewRequest("add_new_task", map[string]any{"description": "buy milk"})
	result := d.Dispatch(context.Background(), req)

	require.True(t, result.OK())
	require.Equal(t, req.CorrelationID, result.CorrelationID)
	require.NotEmpty(t, result.Payload)
	require.Equal(t, "buy milk", caller.lastArgs["description"])
}

func TestDispatchUnknownToolNeverCallsNetwork(t *testing.T) {
	caller := &fakeCaller{}
	d := newDispatcher(testResolver(), caller)

	req := d.NewRequest("no_such_tool", nil)
	result := d.Dispatch(context.Background(), req)

	require.False(t, result.OK())
	require.Equal(t, domain.FailureUnknownTool, result.Failure.Kind)
	require.Equal(t, req.CorrelationID, result.CorrelationID)
	require.Zero(t, caller.callCount())
}

func TestDispatchMissingRequiredArgument(t *testing.T) {
	caller := &fakeCaller{}
	d := newDispatcher(testResolver(), caller)

	req := d.NewRequest("add_new_task", map[string]any{"priority": "high"})
	result := d.Dispatch(context.Background(), req)

	require.False(t, result.OK())
	require.Equal(t, domain.FailureInvalidArguments, result.Failure.Kind)
	require.Contains(t, result.Failure.Message, "description")
	require.Zero(t, caller.callCount())
}

func TestDispatchDropsUnknownArguments(t *testing.T) {
	caller := &fakeCaller{}
	d := newDispatcher(testResolver(), caller)

	req := d.NewRequest("add_new_task", map[string]any{
		"description": "buy milk",
		"color":       "blue",
	})
	result := d.Dispatch(context.Background(), req)

	require.True(t, result.OK())
	require.Contains(t, caller.lastArgs, "description")
	require.NotContains(t, caller.lastArgs, "color")
}

func TestDispatchRemoteToolError(t *testing.T) {
	caller := &fakeCaller{result: &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: "task 42 not found"}},
	}}
	d := newDispatcher(testResolver(), caller)

	result := d.Dispatch(context.Background(), d.NewRequest("get_tasks", nil))

	require.False(t, result.OK())
	require.Equal(t, domain.FailureRemote, result.Failure.Kind)
	require.Equal(t, "task 42 not found", result.Failure.Message)
}

func TestDispatchErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		kind domain.FailureKind
	}{
		{context.DeadlineExceeded, domain.FailureTimeout},
		{domain.ErrEndpointUnavailable, domain.FailureUnavailable},
		{domain.ErrUnknownEndpoint, domain.FailureUnavailable},
		{domain.ErrAuthRejected, domain.FailureAuth},
		{domain.ErrConnectionClosed, domain.FailureConnection},
	}
	for _, tc := range cases {
		caller := &fakeCaller{err: tc.err}
		d := newDispatcher(testResolver(), caller)

		result := d.Dispatch(context.Background(), d.NewRequest("get_tasks", nil))
		require.False(t, result.OK())
		require.Equal(t, tc.kind, result.Failure.Kind, "error %v", tc.err)
	}
}

func TestDispatchTimeoutViaDeadline(t *testing.T) {
	caller := &fakeCaller{block: make(chan struct{})}
	d := newDispatcher(testResolver(), caller)

	req := d.NewRequest("get_tasks", nil)
	req.Deadline = time.Now().Add(50 * time.Millisecond)

	result := d.Dispatch(context.Background(), req)
	require.False(t, result.OK())
	require.Equal(t, domain.FailureTimeout, result.Failure.Kind)
}

func TestDispatchCorrelationIDsNeverReused(t *testing.T) {
	d := newDispatcher(testResolver(), &fakeCaller{})

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		req := d.NewRequest("get_tasks", nil)
		require.False(t, seen[req.CorrelationID])
		seen[req.CorrelationID] = true
	}
}

func TestDispatchRejectsDuplicateInflightCorrelation(t *testing.T) {
	block := make(chan struct{})
	caller := &fakeCaller{block: block}
	d := newDispatcher(testResolver(), caller)

	req := d.NewRequest("get_tasks", nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var first domain.DispatchResult
	go func() {
		defer wg.Done()
		first = d.Dispatch(context.Background(), req)
	}()

	// Give the first dispatch time to take the correlation slot.
	require.Eventually(t, func() bool { return caller.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	second := d.Dispatch(context.Background(), req)
	require.False(t, second.OK())
	require.Equal(t, domain.FailurePrecondition, second.Failure.Kind)

	close(block)
	wg.Wait()
	require.True(t, first.OK())
}
