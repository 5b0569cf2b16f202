package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"agentd/internal/domain"
	"agentd/internal/infra/transport"
)

// Resolver is the slice of the registry the dispatcher needs.
type Resolver interface {
	Resolve(name string) (domain.ToolDescriptor, bool)
}

// Caller is the slice of the session manager the dispatcher needs.
type Caller interface {
	Call(ctx context.Context, endpoint string, payload json.RawMessage) (json.RawMessage, error)
}

// Dispatcher resolves a tool name to its owning endpoint, validates the
// arguments at a single boundary, and issues the call. Callers always get a
// DispatchResult, never a raw transport error.
type Dispatcher struct {
	registry Resolver
	sessions Caller
	cfg      domain.RuntimeConfig
	metrics  domain.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

type Options struct {
	Registry Resolver
	Sessions Caller
	Config   domain.RuntimeConfig
	Metrics  domain.Metrics
	Logger   *zap.Logger
}

func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	return &Dispatcher{
		registry: opts.Registry,
		sessions: opts.Sessions,
		cfg:      opts.Config,
		metrics:  metrics,
		logger:   logger.Named("dispatch"),
		inflight: make(map[string]struct{}),
	}
}

// NewRequest mints a DispatchRequest with a fresh correlation id and the
// configured deadline. Correlation ids are never reused.
func (d *Dispatcher) NewRequest(tool string, args map[string]any) domain.DispatchRequest {
	return domain.DispatchRequest{
		Tool:          tool,
		Arguments:     args,
		CorrelationID: uuid.NewString(),
		Deadline:      time.Now().Add(d.cfg.DispatchTimeout()),
	}
}

// Dispatch issues one tool call. Resolution and validation failures are
// reported without touching the network.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.DispatchRequest) domain.DispatchResult {
	start := time.Now()
	result := d.dispatch(ctx, req)

	endpoint := ""
	if desc, ok := d.registry.Resolve(req.Tool); ok {
		endpoint = desc.Endpoint
	}
	kind := domain.FailureKind("")
	if result.Failure != nil {
		kind = result.Failure.Kind
	}
	d.metrics.ObserveDispatch(endpoint, time.Since(start), kind)
	return result
}

func (d *Dispatcher) dispatch(ctx context.Context, req domain.DispatchRequest) domain.DispatchResult {
	desc, ok := d.registry.Resolve(req.Tool)
	if !ok {
		return failure(req, domain.FailureUnknownTool, fmt.Sprintf("tool %q is not registered", req.Tool))
	}

	args, err := validateArguments(desc, req.Arguments, d.logger)
	if err != nil {
		return failure(req, domain.FailureInvalidArguments, err.Error())
	}

	if err := d.acquireCorrelation(req.CorrelationID); err != nil {
		return failure(req, domain.FailurePrecondition, err.Error())
	}
	defer d.releaseCorrelation(req.CorrelationID)

	payload, err := transport.NewRequest(req.CorrelationID, "tools/call", &mcp.CallToolParams{
		Name:      desc.Name,
		Arguments: args,
	})
	if err != nil {
		return failure(req, domain.FailureInvalidArguments, err.Error())
	}

	callCtx := ctx
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	resp, err := d.sessions.Call(callCtx, desc.Endpoint, payload)
	if err != nil {
		return d.mapCallError(req, err)
	}

	raw, err := transport.DecodeResult(resp)
	if err != nil {
		// A jsonrpc-level error is a business failure reported by the
		// server; its message passes through verbatim.
		return failure(req, domain.FailureRemote, err.Error())
	}

	var toolResult mcp.CallToolResult
	if err := json.Unmarshal(raw, &toolResult); err != nil {
		return failure(req, domain.FailureRemote, fmt.Sprintf("decode tool result: %v", err))
	}
	if toolResult.IsError {
		return failure(req, domain.FailureRemote, textContent(&toolResult))
	}

	return domain.DispatchResult{
		CorrelationID: req.CorrelationID,
		Payload:       raw,
	}
}

func (d *Dispatcher) mapCallError(req domain.DispatchRequest, err error) domain.DispatchResult {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return failure(req, domain.FailureTimeout, fmt.Sprintf("tool %q: deadline exceeded", req.Tool))
	case errors.Is(err, context.Canceled):
		return failure(req, domain.FailureCanceled, "dispatch canceled")
	case errors.Is(err, domain.ErrEndpointUnavailable), errors.Is(err, domain.ErrUnknownEndpoint):
		return failure(req, domain.FailureUnavailable, err.Error())
	case errors.Is(err, domain.ErrAuthRejected):
		return failure(req, domain.FailureAuth, err.Error())
	case errors.Is(err, domain.ErrConnectionClosed):
		return failure(req, domain.FailureConnection, err.Error())
	default:
		return failure(req, domain.FailureRemote, err.Error())
	}
}

func (d *Dispatcher) acquireCorrelation(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.inflight[id]; exists {
		return domain.ErrDuplicateCorrelation
	}
	d.inflight[id] = struct{}{}
	return nil
}

func (d *Dispatcher) releaseCorrelation(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}

// validateArguments checks the supplied mapping against the descriptor's
// parameter schema. Missing required parameters fail; parameters outside the
// schema are dropped, not forwarded.
func validateArguments(desc domain.ToolDescriptor, args map[string]any, logger *zap.Logger) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	known := make(map[string]bool, len(desc.Params))
	var missing []string
	for _, param := range desc.Params {
		known[param.Name] = true
		if !param.Required {
			continue
		}
		if value, ok := args[param.Name]; !ok || value == nil {
			missing = append(missing, param.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("tool %q: missing required parameters: %s: %w",
			desc.Name, strings.Join(missing, ", "), domain.ErrInvalidArguments)
	}

	filtered := make(map[string]any, len(args))
	for name, value := range args {
		if len(desc.Params) > 0 && !known[name] {
			logger.Debug("dropping unknown argument",
				zap.String("tool", desc.Name), zap.String("argument", name))
			continue
		}
		filtered[name] = value
	}
	return filtered, nil
}

func failure(req domain.DispatchRequest, kind domain.FailureKind, message string) domain.DispatchResult {
	return domain.DispatchResult{
		CorrelationID: req.CorrelationID,
		Failure: &domain.DispatchFailure{
			Kind:    kind,
			Message: message,
		},
	}
}

func textContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 {
		return "remote tool error"
	}
	return strings.Join(parts, "\n")
}
