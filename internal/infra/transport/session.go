package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"agentd/internal/domain"
)

const eventBufferSize = 64

// Session multiplexes one authenticated connection to a backend server:
// a request/response channel correlated by jsonrpc id, and a push channel
// surfacing server-initiated notifications.
type Session struct {
	conn     mcp.Connection
	endpoint string
	logger   *zap.Logger
	events   chan domain.Event

	mu        sync.Mutex
	pending   map[string]chan callResult
	closeOnce sync.Once
	cancel    context.CancelFunc
	closed    chan struct{}
}

type SessionOptions struct {
	Logger   *zap.Logger
	Endpoint string
}

type callResult struct {
	resp *jsonrpc.Response
	err  error
}

func NewSession(conn mcp.Connection, opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:     conn,
		endpoint: opts.Endpoint,
		logger:   logger,
		events:   make(chan domain.Event, eventBufferSize),
		pending:  make(map[string]chan callResult),
		cancel:   cancel,
		closed:   make(chan struct{}),
	}
	go s.readLoop(ctx)
	return s
}

// Call issues one request and blocks until its correlated response arrives,
// the context expires, or the session closes.
func (s *Session) Call(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if s.isClosed() {
		return nil, domain.ErrConnectionClosed
	}
	msg, err := jsonrpc.DecodeMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok || !req.ID.IsValid() {
		return nil, errors.New("request id is required")
	}
	key, err := idKey(req.ID)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan callResult, 1)
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	if _, exists := s.pending[key]; exists {
		s.mu.Unlock()
		return nil, domain.ErrDuplicateCorrelation
	}
	s.pending[key] = resultCh
	s.mu.Unlock()

	if err := s.conn.Write(ctx, req); err != nil {
		s.removePending(key)
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, result.err
		}
		wire, err := jsonrpc.EncodeMessage(result.resp)
		if err != nil {
			return nil, fmt.Errorf("encode response: %w", err)
		}
		return json.RawMessage(wire), nil
	case <-ctx.Done():
		s.removePending(key)
		return nil, ctx.Err()
	}
}

// Notify sends a one-way notification to the server.
func (s *Session) Notify(ctx context.Context, method string, params json.RawMessage) error {
	if s.isClosed() {
		return domain.ErrConnectionClosed
	}
	if strings.TrimSpace(method) == "" {
		return errors.New("method is required")
	}
	req := &jsonrpc.Request{
		Method: method,
		Params: params,
	}
	if err := s.conn.Write(ctx, req); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Events is the push channel. It closes when the session closes; consumers
// range over it until then.
func (s *Session) Events() <-chan domain.Event {
	return s.events
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		err = s.conn.Close()
		s.failPending(domain.ErrConnectionClosed)
		close(s.events)
	})
	return err
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		msg, err := s.conn.Read(ctx)
		if err != nil {
			s.failPending(fmt.Errorf("read: %v: %w", err, domain.ErrConnectionClosed))
			_ = s.Close()
			return
		}
		switch typed := msg.(type) {
		case *jsonrpc.Response:
			s.dispatchResponse(typed)
		case *jsonrpc.Request:
			if typed.ID.IsValid() {
				s.rejectServerCall(ctx, typed)
				continue
			}
			s.handleNotification(typed)
		}
	}
}

func (s *Session) dispatchResponse(resp *jsonrpc.Response) {
	key, err := idKey(resp.ID)
	if err != nil {
		s.logger.Debug("drop response with invalid id", zap.Error(err))
		return
	}
	s.mu.Lock()
	ch := s.pending[key]
	delete(s.pending, key)
	s.mu.Unlock()
	if ch == nil {
		s.logger.Debug("drop response with no pending call", zap.String("id", key))
		return
	}
	ch <- callResult{resp: resp}
}

// rejectServerCall answers server-initiated requests the orchestrator does
// not serve (sampling, elicitation) with a method-not-found error.
func (s *Session) rejectServerCall(ctx context.Context, req *jsonrpc.Request) {
	resp := newMethodNotFoundResponse(req.ID)
	if err := s.conn.Write(ctx, resp); err != nil {
		s.logger.Warn("respond to server call failed", zap.String("method", req.Method), zap.Error(err))
	}
}

func (s *Session) handleNotification(req *jsonrpc.Request) {
	event := domain.Event{
		Endpoint: s.endpoint,
		Type:     req.Method,
		Payload:  req.Params,
	}
	select {
	case s.events <- event:
	default:
		s.logger.Warn("event buffer full, dropping notification",
			zap.String("method", req.Method))
	}
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

func (s *Session) removePending(key string) {
	s.mu.Lock()
	if s.pending != nil {
		delete(s.pending, key)
	}
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func idKey(id jsonrpc.ID) (string, error) {
	if !id.IsValid() {
		return "", errors.New("missing request id")
	}
	raw := id.Raw()
	switch typed := raw.(type) {
	case string:
		return "s:" + typed, nil
	case float64:
		return fmt.Sprintf("n:%v", typed), nil
	case int:
		return fmt.Sprintf("n:%v", typed), nil
	case int64:
		return fmt.Sprintf("n:%v", typed), nil
	case json.Number:
		return "n:" + typed.String(), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", raw)
	}
}

func newMethodNotFoundResponse(id jsonrpc.ID) *jsonrpc.Response {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      id.Raw(),
		"error": map[string]any{
			"code":    -32601,
			"message": "method not found",
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return &jsonrpc.Response{ID: id, Error: errors.New("method not found")}
	}
	msg, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return &jsonrpc.Response{ID: id, Error: errors.New("method not found")}
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return &jsonrpc.Response{ID: id, Error: errors.New("method not found")}
	}
	return resp
}
