package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"agentd/internal/domain"
	"agentd/internal/infra/transport"
)

// Caller is the slice of the session manager the registry needs.
type Caller interface {
	Call(ctx context.Context, endpoint string, payload json.RawMessage) (json.RawMessage, error)
	ConnectedNames() []string
}

// Registry aggregates tool catalogs across all connected endpoints. Readers
// see an immutable snapshot swapped atomically on refresh; a reader never
// observes some endpoints' tools from the old catalog and others from the
// new one.
type Registry struct {
	caller  Caller
	cfg     domain.RuntimeConfig
	logger  *zap.Logger
	metrics domain.Metrics

	mu          sync.Mutex
	serverCache map[string]endpointTools
	reqBuilder  transport.RequestBuilder
	state       atomic.Value
}

type endpointTools struct {
	tools       []domain.ToolDescriptor
	refreshedAt time.Time
}

type registryState struct {
	snapshot domain.ToolSnapshot
	targets  map[string]domain.ToolDescriptor
}

type Options struct {
	Caller  Caller
	Config  domain.RuntimeConfig
	Logger  *zap.Logger
	Metrics domain.Metrics
}

func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	r := &Registry{
		caller:      opts.Caller,
		cfg:         opts.Config,
		logger:      logger.Named("registry"),
		metrics:     metrics,
		serverCache: make(map[string]endpointTools),
	}
	r.state.Store(registryState{
		targets: make(map[string]domain.ToolDescriptor),
	})
	return r
}

// Snapshot returns the current aggregated catalog.
func (r *Registry) Snapshot() domain.ToolSnapshot {
	state := r.state.Load().(registryState)
	return copySnapshot(state.snapshot)
}

// Resolve maps a tool name to its descriptor.
func (r *Registry) Resolve(name string) (domain.ToolDescriptor, bool) {
	state := r.state.Load().(registryState)
	target, ok := state.targets[name]
	return target, ok
}

// Refresh queries every connected endpoint's catalog through a bounded
// worker pool and swaps the merged snapshot in one step. A failed fetch
// keeps that endpoint's previous tool set.
func (r *Registry) Refresh(ctx context.Context) error {
	names := r.caller.ConnectedNames()
	if len(names) == 0 {
		return nil
	}

	type fetchResult struct {
		endpoint string
		tools    []domain.ToolDescriptor
		err      error
	}

	workerCount := r.cfg.RefreshConcurrency
	if workerCount <= 0 {
		workerCount = domain.DefaultRefreshConcurrency
	}
	if workerCount > len(names) {
		workerCount = len(names)
	}
	timeout := r.cfg.RefreshTimeout()

	jobs := make(chan string)
	results := make(chan fetchResult, len(names))
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case endpoint, ok := <-jobs:
					if !ok {
						return
					}
					fetchCtx, cancel := context.WithTimeout(ctx, timeout)
					started := time.Now()
					tools, err := r.fetchTools(fetchCtx, endpoint)
					r.metrics.ObserveRegistryRefresh(endpoint, time.Since(started), err)
					cancel()
					results <- fetchResult{endpoint: endpoint, tools: tools, err: err}
				}
			}
		}()
	}

	go func() {
		for _, name := range names {
			jobs <- name
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	now := time.Now()
	for res := range results {
		if res.err != nil {
			r.logger.Warn("tool list fetch failed",
				zap.String("endpoint", res.endpoint), zap.Error(res.err))
			continue
		}
		r.mu.Lock()
		r.serverCache[res.endpoint] = endpointTools{tools: res.tools, refreshedAt: now}
		r.mu.Unlock()
		now = now.Add(time.Nanosecond)
	}
	r.rebuildSnapshot()
	return nil
}

// RefreshEndpoint replaces a single endpoint's tool set. Idempotent; the
// swap is atomic with respect to concurrent readers.
func (r *Registry) RefreshEndpoint(ctx context.Context, endpoint string) error {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.RefreshTimeout())
	defer cancel()
	started := time.Now()
	tools, err := r.fetchTools(fetchCtx, endpoint)
	r.metrics.ObserveRegistryRefresh(endpoint, time.Since(started), err)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.serverCache[endpoint] = endpointTools{tools: tools, refreshedAt: time.Now()}
	r.mu.Unlock()
	r.rebuildSnapshot()
	return nil
}

// Forget drops an endpoint's tools from the catalog, e.g. when the endpoint
// is torn down.
func (r *Registry) Forget(endpoint string) {
	r.mu.Lock()
	delete(r.serverCache, endpoint)
	r.mu.Unlock()
	r.rebuildSnapshot()
}

func (r *Registry) fetchTools(ctx context.Context, endpoint string) ([]domain.ToolDescriptor, error) {
	payload, err := r.reqBuilder.Build("tools/list", &mcp.ListToolsParams{})
	if err != nil {
		return nil, err
	}
	resp, err := r.caller.Call(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	raw, err := transport.DecodeResult(resp)
	if err != nil {
		return nil, err
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}

	tools := make([]domain.ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		if tool == nil || tool.Name == "" {
			continue
		}
		tools = append(tools, domain.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			Endpoint:    endpoint,
			Params:      paramsFromSchema(tool.InputSchema),
			InputSchema: tool.InputSchema,
		})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

// rebuildSnapshot merges the per-endpoint caches. On a name collision the
// most recently refreshed endpoint wins; the loser is logged and recorded on
// the snapshot so the policy stays observable.
func (r *Registry) rebuildSnapshot() {
	r.mu.Lock()
	order := make([]string, 0, len(r.serverCache))
	for endpoint := range r.serverCache {
		order = append(order, endpoint)
	}
	cache := make(map[string]endpointTools, len(r.serverCache))
	for endpoint, tools := range r.serverCache {
		cache[endpoint] = tools
	}
	r.mu.Unlock()

	// Oldest refresh first, so later (more recent) endpoints overwrite.
	sort.Slice(order, func(i, j int) bool {
		return cache[order[i]].refreshedAt.Before(cache[order[j]].refreshedAt)
	})

	targets := make(map[string]domain.ToolDescriptor)
	var collisions []domain.ToolCollision
	for _, endpoint := range order {
		for _, tool := range cache[endpoint].tools {
			if existing, exists := targets[tool.Name]; exists {
				collisions = append(collisions, domain.ToolCollision{
					Tool:   tool.Name,
					Winner: endpoint,
					Loser:  existing.Endpoint,
				})
				r.logger.Warn("tool name collision, last registration wins",
					zap.String("tool", tool.Name),
					zap.String("winner", endpoint),
					zap.String("loser", existing.Endpoint))
			}
			targets[tool.Name] = tool
		}
	}

	merged := make([]domain.ToolDescriptor, 0, len(targets))
	for _, tool := range targets {
		merged = append(merged, tool)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Name < merged[j].Name })

	snapshot := domain.ToolSnapshot{
		Tools:      merged,
		Collisions: collisions,
	}
	snapshot.ETag = snapshotETag(snapshot)

	r.state.Store(registryState{
		snapshot: snapshot,
		targets:  targets,
	})
}

func snapshotETag(snapshot domain.ToolSnapshot) string {
	raw, err := json.Marshal(snapshot.Tools)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func copySnapshot(snapshot domain.ToolSnapshot) domain.ToolSnapshot {
	out := domain.ToolSnapshot{ETag: snapshot.ETag}
	out.Tools = append([]domain.ToolDescriptor(nil), snapshot.Tools...)
	out.Collisions = append([]domain.ToolCollision(nil), snapshot.Collisions...)
	return out
}
