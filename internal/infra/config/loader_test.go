package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"agentd/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validConfig = `
endpoints:
  - name: memory
    address: 127.0.0.1
    port: 8701
    apiKey: memory-key
  - name: tasks
    address: 127.0.0.1
    port: 8702
    apiKey: tasks-key
runtime:
  dispatchTimeoutSeconds: 12
  classifier:
    provider: openai
    model: gpt-4o-mini
    apiKeyEnvVar: OPENAI_API_KEY
  crawl:
    maxDepth: 3
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, cfg.Endpoints, 2)
	expect := domain.Endpoint{
		Name:    "memory",
		Address: "127.0.0.1",
		Port:    8701,
		APIKey:  "memory-key",
	}
	if diff := cmp.Diff(expect, cfg.Endpoints[0]); diff != "" {
		t.Fatalf("endpoint mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, 12*time.Second, cfg.Runtime.DispatchTimeout())
	require.Equal(t, "gpt-4o-mini", cfg.Runtime.Classifier.Model)
	require.Equal(t, 3, cfg.Runtime.Crawl.MaxDepth)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
endpoints:
  - name: memory
    address: localhost
    port: 8701
`)

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, domain.DefaultDispatchTimeoutSeconds, cfg.Runtime.DispatchTimeoutSeconds)
	require.Equal(t, domain.DefaultMaxReconnectAttempts, cfg.Runtime.MaxReconnectAttempts)
	require.Equal(t, domain.DefaultRefreshConcurrency, cfg.Runtime.RefreshConcurrency)
	require.Equal(t, domain.DefaultCrawlRatePerSecond, cfg.Runtime.Crawl.RatePerSecond)
	require.Equal(t, domain.DefaultTelemetryListenAddress, cfg.Runtime.Telemetry.ListenAddress)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("AGENTD_TEST_PORT", "9911")
	t.Setenv("AGENTD_TEST_KEY", "secret-key")

	path := writeConfig(t, `
endpoints:
  - name: memory
    address: localhost
    port: ${AGENTD_TEST_PORT}
    apiKey: ${AGENTD_TEST_KEY}
`)

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 9911, cfg.Endpoints[0].Port)
	require.Equal(t, "secret-key", cfg.Endpoints[0].APIKey)
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	cases := map[string]string{
		"no endpoints": `
runtime:
  dispatchTimeoutSeconds: 5
`,
		"missing name": `
endpoints:
  - address: localhost
    port: 8701
`,
		"missing address": `
endpoints:
  - name: memory
    port: 8701
`,
		"bad port": `
endpoints:
  - name: memory
    address: localhost
    port: 99999
`,
		"duplicate names": `
endpoints:
  - name: memory
    address: localhost
    port: 8701
  - name: memory
    address: localhost
    port: 8702
`,
		"base exceeds cap": `
endpoints:
  - name: memory
    address: localhost
    port: 8701
runtime:
  reconnectBaseSeconds: 60
  reconnectCapSeconds: 10
`,
	}

	for name, content := range cases {
		path := writeConfig(t, content)
		_, err := NewLoader(nil).Load(context.Background(), path)
		require.Error(t, err, "case %q", name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	_, err = NewLoader(nil).Load(context.Background(), "")
	require.Error(t, err)
}

func TestWatcherReload(t *testing.T) {
	path := writeConfig(t, validConfig)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(ctx, path, nil)
	require.NoError(t, err)
	require.Len(t, w.Current().Endpoints, 2)

	updates := w.Watch(ctx)

	updated := validConfig + `
  refreshConcurrency: 7
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-updates:
		require.Equal(t, 7, cfg.Runtime.RefreshConcurrency)
	case <-time.After(3 * time.Second):
		t.Fatal("no config update received")
	}
	require.Equal(t, 7, w.Current().Runtime.RefreshConcurrency)
}

func TestWatcherKeepsOldConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, validConfig)

	w, err := NewWatcher(context.Background(), path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("endpoints: []\n"), 0o600))
	require.Error(t, w.Reload(context.Background()))
	require.Len(t, w.Current().Endpoints, 2)
}
