package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"agentd/internal/domain"
)

// Dialer establishes authenticated sessions over streamable HTTP and runs
// the protocol handshake before handing the session out.
type Dialer struct {
	logger *zap.Logger
}

type DialerOptions struct {
	Logger *zap.Logger
}

func NewDialer(opts DialerOptions) *Dialer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{logger: logger}
}

func (d *Dialer) Dial(ctx context.Context, endpoint domain.Endpoint) (*Session, error) {
	address := strings.TrimSpace(endpoint.Address)
	if address == "" {
		return nil, fmt.Errorf("endpoint %q: address is required", endpoint.Name)
	}
	url := address
	if !strings.Contains(address, "://") {
		url = "http://" + address
	}
	if endpoint.Port > 0 {
		url = fmt.Sprintf("%s:%d", url, endpoint.Port)
	}

	client := &http.Client{
		Transport: newHeaderTransport(endpoint),
	}
	streamable := &mcp.StreamableClientTransport{
		Endpoint:   url,
		HTTPClient: client,
	}
	conn, err := streamable.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint.Name, err)
	}

	session := NewSession(conn, SessionOptions{
		Logger:   d.logger.Named("session").With(zap.String("endpoint", endpoint.Name)),
		Endpoint: endpoint.Name,
	})
	if err := d.handshake(ctx, session); err != nil {
		_ = session.Close()
		if IsAuthError(err) {
			return nil, fmt.Errorf("handshake %s: %w", endpoint.Name, domain.ErrAuthRejected)
		}
		return nil, fmt.Errorf("handshake %s: %w", endpoint.Name, err)
	}
	return session, nil
}

func (d *Dialer) handshake(ctx context.Context, session *Session) error {
	var builder RequestBuilder
	payload, err := builder.Build("initialize", map[string]any{
		"protocolVersion": domain.DefaultProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "agentd",
			"version": "0.1.0",
		},
	})
	if err != nil {
		return err
	}
	resp, err := session.Call(ctx, payload)
	if err != nil {
		return err
	}
	if _, err := DecodeResult(resp); err != nil {
		return err
	}
	return session.Notify(ctx, "notifications/initialized", nil)
}

// headerTransport injects the per-endpoint API key and protocol version on
// every request of the session.
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func newHeaderTransport(endpoint domain.Endpoint) http.RoundTripper {
	headers := http.Header{}
	headers.Set("Mcp-Protocol-Version", domain.DefaultProtocolVersion)
	if endpoint.APIKey != "" {
		headers.Set(domain.APIKeyHeader, endpoint.APIKey)
	}
	return &headerTransport{
		base:    http.DefaultTransport,
		headers: headers,
	}
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for key, values := range t.headers {
		if cloned.Header.Get(key) != "" {
			continue
		}
		for _, value := range values {
			cloned.Header.Add(key, value)
		}
	}
	return t.base.RoundTrip(cloned)
}

// IsAuthError reports whether a transport error was an authentication
// rejection, which is fatal for the endpoint and never retried.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	text := err.Error()
	return strings.Contains(text, "401") || strings.Contains(text, "Unauthorized") || strings.Contains(text, "unauthorized")
}
