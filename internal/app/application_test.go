package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"agentd/internal/domain"
	"agentd/internal/infra/backend"
	"agentd/internal/infra/store"
)

func startEndpoint(t *testing.T, server *backend.Server) (string, int) {
	t.Helper()
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(httpServer.Close)

	parsed, err := url.Parse(httpServer.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(parsed.Port())
	require.NoError(t, err)
	return parsed.Hostname(), port
}

func writeTestConfig(t *testing.T, endpoints map[string][2]any) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("endpoints:\n")
	for name, hostPort := range endpoints {
		fmt.Fprintf(&buf, "  - name: %s\n    address: %s\n    port: %d\n    apiKey: %s-key\n",
			name, hostPort[0], hostPort[1], name)
	}
	buf.WriteString("runtime:\n  maxReconnectAttempts: 1\n  reconnectBaseSeconds: 1\n")

	path := filepath.Join(t.TempDir(), "agentd.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func testFixture(t *testing.T) (string, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	memHost, memPort := startEndpoint(t, backend.NewMemoryServer(st, backend.Options{Name: "memory", APIKey: "memory-key"}))
	taskHost, taskPort := startEndpoint(t, backend.NewTaskServer(st, backend.Options{Name: "tasks", APIKey: "tasks-key"}))

	path := writeTestConfig(t, map[string][2]any{
		"memory": {memHost, memPort},
		"tasks":  {taskHost, taskPort},
	})
	return path, st
}

func TestToolsListsAggregatedCatalog(t *testing.T) {
	configPath, _ := testFixture(t)

	var out bytes.Buffer
	application := New(nil)
	application.SetOutput(&out)

	require.NoError(t, application.Tools(context.Background(), ToolsOptions{ConfigPath: configPath}))

	require.Contains(t, out.String(), "save_memory")
	require.Contains(t, out.String(), "add_new_task")
	require.Contains(t, out.String(), "complete_task")
}

func TestCallDispatchesTool(t *testing.T) {
	configPath, st := testFixture(t)

	var out bytes.Buffer
	application := New(nil)
	application.SetOutput(&out)

	err := application.Call(context.Background(), CallOptions{
		ConfigPath: configPath,
		Tool:       "add_new_task",
		Arguments:  `{"description": "water plants"}`,
	})
	require.NoError(t, err)

	tasks, err := st.Tasks(true)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "water plants", tasks[0].Description)
}

func TestCallUnknownToolFails(t *testing.T) {
	configPath, _ := testFixture(t)

	var out bytes.Buffer
	application := New(nil)
	application.SetOutput(&out)

	err := application.Call(context.Background(), CallOptions{
		ConfigPath: configPath,
		Tool:       "no_such_tool",
	})
	require.Error(t, err)
	require.Contains(t, out.String(), string(domain.FailureUnknownTool))
}

func TestCallRejectsBadArgumentsJSON(t *testing.T) {
	application := New(nil)
	err := application.Call(context.Background(), CallOptions{
		ConfigPath: "unused.yaml",
		Tool:       "x",
		Arguments:  "{not json",
	})
	require.Error(t, err)
}

type plannerModel struct {
	response string
	err      error
}

func (m *plannerModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.response, nil), nil
}

func TestAskRoutesAndDispatches(t *testing.T) {
	configPath, st := testFixture(t)

	var out bytes.Buffer
	application := New(nil)
	application.SetOutput(&out)
	application.SetRouterModel(&plannerModel{
		response: `[{"tool": "save_memory", "arguments": {"text": "the wifi password is hunter2"}}]`,
	})

	err := application.Ask(context.Background(), AskOptions{
		ConfigPath: configPath,
		Text:       "remember that the wifi password is hunter2",
	})
	require.NoError(t, err)

	memories, err := st.AllMemories()
	require.NoError(t, err)
	require.Len(t, memories, 1)
	require.Equal(t, "the wifi password is hunter2", memories[0].Text)

	var steps []askStep
	require.NoError(t, json.Unmarshal(out.Bytes(), &steps))
	require.Len(t, steps, 1)
	require.True(t, steps[0].Result.OK())
	require.NotEmpty(t, steps[0].Result.CorrelationID)
}

func TestAskNoMatchingTool(t *testing.T) {
	configPath, _ := testFixture(t)

	var out bytes.Buffer
	application := New(nil)
	application.SetOutput(&out)
	application.SetRouterModel(&plannerModel{response: `[]`})

	err := application.Ask(context.Background(), AskOptions{
		ConfigPath: configPath,
		Text:       "tell me a joke",
	})
	require.NoError(t, err)
	require.Contains(t, out.String(), "no matching tool")
}

func TestAskSurfacesModelFailure(t *testing.T) {
	configPath, _ := testFixture(t)

	application := New(nil)
	application.SetOutput(&bytes.Buffer{})
	application.SetRouterModel(&plannerModel{err: errors.New("provider down")})

	err := application.Ask(context.Background(), AskOptions{
		ConfigPath: configPath,
		Text:       "remember this",
	})
	require.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	configPath, _ := testFixture(t)

	var out bytes.Buffer
	application := New(nil)
	application.SetOutput(&out)

	require.NoError(t, application.ValidateConfig(context.Background(), ValidateOptions{ConfigPath: configPath}))
	require.Contains(t, out.String(), `"status": "ok"`)

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("endpoints: []\n"), 0o600))
	require.Error(t, application.ValidateConfig(context.Background(), ValidateOptions{ConfigPath: badPath}))
}
