package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"agentd/internal/domain"
)

const serverVersion = "0.1.0"

// Server is one tool endpoint: an MCP server exposed over streamable
// HTTP behind an API key check.
type Server struct {
	name   string
	apiKey string
	mcp    *mcp.Server
	logger *zap.Logger
}

// Options configures a backend server.
type Options struct {
	Name   string
	APIKey string
	Logger *zap.Logger
}

func newServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		name:   opts.Name,
		apiKey: opts.APIKey,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    opts.Name,
			Version: serverVersion,
		}, nil),
		logger: logger.Named(opts.Name),
	}
}

// Name returns the endpoint name.
func (s *Server) Name() string { return s.name }

// Handler returns the HTTP handler for this endpoint. Requests missing
// the API key never reach the MCP layer.
func (s *Server) Handler() http.Handler {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})
	return s.requireAPIKey(handler)
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get(domain.APIKeyHeader) != s.apiKey {
			s.logger.Warn("request rejected: bad api key", zap.String("remote", r.RemoteAddr))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) addTool(tool *mcp.Tool, handler mcp.ToolHandler) {
	s.mcp.AddTool(tool, handler)
}

// ListenAndServe runs handler on addr until ctx is cancelled, then
// shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info("endpoint listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// decodeArgs unmarshals the tool call arguments into dst.
func decodeArgs(req *mcp.CallToolRequest, dst any) error {
	raw := json.RawMessage(req.Params.Arguments)
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return textResult(string(data)), nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func objectSchema(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func stringProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func integerProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

func booleanProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "boolean", Description: description}
}

func numberProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: description}
}
