package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentd/internal/domain"
)

// Manager owns one session per configured endpoint. Sessions operate
// independently: a slow or failed endpoint never blocks calls routed to the
// others.
type Manager struct {
	dialer *Dialer
	cfg    domain.RuntimeConfig
	logger *zap.Logger
	events chan domain.Event

	mu        sync.RWMutex
	endpoints map[string]*endpointState
	closed    bool
}

type endpointState struct {
	endpoint     domain.Endpoint
	state        domain.EndpointState
	session      *Session
	attempts     int
	lastErr      error
	connectedAt  time.Time
	reconnecting bool
}

type ManagerOptions struct {
	Dialer *Dialer
	Config domain.RuntimeConfig
	Logger *zap.Logger
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = NewDialer(DialerOptions{Logger: logger})
	}
	return &Manager{
		dialer:    dialer,
		cfg:       opts.Config,
		logger:    logger.Named("sessions"),
		events:    make(chan domain.Event, eventBufferSize),
		endpoints: make(map[string]*endpointState),
	}
}

// Register adds an endpoint in the disconnected state. Endpoints are
// registered once at startup from configuration.
func (m *Manager) Register(endpoint domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.endpoints[endpoint.Name]; exists {
		return fmt.Errorf("endpoint %q already registered", endpoint.Name)
	}
	m.endpoints[endpoint.Name] = &endpointState{
		endpoint: endpoint,
		state:    domain.EndpointDisconnected,
	}
	return nil
}

// ConnectAll dials every registered endpoint concurrently and waits for the
// outcomes. Individual failures are reflected in endpoint state, not
// returned: one unreachable backend must not abort the rest.
func (m *Manager) ConnectAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.endpoints))
	for name := range m.endpoints {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.Connect(ctx, name); err != nil {
				m.logger.Warn("endpoint connect failed", zap.String("endpoint", name), zap.Error(err))
			}
		}(name)
	}
	wg.Wait()
}

// Connect dials one endpoint, retrying with exponential backoff up to the
// configured attempt limit. Auth rejection is fatal immediately.
func (m *Manager) Connect(ctx context.Context, name string) error {
	state, ok := m.lookup(name)
	if !ok {
		return domain.ErrUnknownEndpoint
	}
	m.setState(name, domain.EndpointConnecting, nil)

	maxAttempts := m.cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxReconnectAttempts
	}
	backoff := m.cfg.ReconnectBase()
	cap := m.cfg.ReconnectCap()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				m.setState(name, domain.EndpointFailed, ctx.Err())
				return ctx.Err()
			}
			backoff *= 2
			if backoff > cap {
				backoff = cap
			}
		}

		session, err := m.dialer.Dial(ctx, state.endpoint)
		if err == nil {
			m.adopt(name, session)
			go m.forwardEvents(session)
			m.logger.Info("endpoint connected", zap.String("endpoint", name))
			return nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrAuthRejected) {
			m.setState(name, domain.EndpointFailed, err)
			return err
		}
		m.logger.Warn("dial failed",
			zap.String("endpoint", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("nextBackoff", backoff),
			zap.Error(err))
	}

	m.setState(name, domain.EndpointFailed, lastErr)
	return fmt.Errorf("endpoint %s: %w", name, domain.ErrEndpointUnavailable)
}

// Call issues a payload over the named endpoint's session. Calls against a
// failed or unregistered endpoint fail immediately without touching the
// network.
func (m *Manager) Call(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
	m.mu.RLock()
	state, ok := m.endpoints[name]
	if !ok {
		m.mu.RUnlock()
		return nil, domain.ErrUnknownEndpoint
	}
	session := state.session
	current := state.state
	m.mu.RUnlock()

	if current != domain.EndpointConnected || session == nil {
		return nil, domain.ErrEndpointUnavailable
	}

	resp, err := session.Call(ctx, payload)
	if errors.Is(err, domain.ErrConnectionClosed) {
		m.onSessionDrop(name)
	}
	return resp, err
}

// Events merges every session's push channel into one stream.
func (m *Manager) Events() <-chan domain.Event {
	return m.events
}

// Endpoints returns connection state snapshots sorted by name.
func (m *Manager) Endpoints() []domain.EndpointInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]domain.EndpointInfo, 0, len(m.endpoints))
	for _, state := range m.endpoints {
		info := domain.EndpointInfo{
			Endpoint:    state.endpoint,
			State:       state.state,
			ConnectedAt: state.connectedAt,
			Attempts:    state.attempts,
		}
		if state.lastErr != nil {
			info.LastError = state.lastErr.Error()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Endpoint.Name < infos[j].Endpoint.Name })
	return infos
}

// ConnectedNames returns the endpoints currently usable for calls.
func (m *Manager) ConnectedNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.endpoints))
	for name, state := range m.endpoints {
		if state.state == domain.EndpointConnected {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.endpoints))
	for _, state := range m.endpoints {
		if state.session != nil {
			sessions = append(sessions, state.session)
			state.session = nil
		}
		state.state = domain.EndpointDisconnected
	}
	m.mu.Unlock()

	var firstErr error
	for _, session := range sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// onSessionDrop transitions a dropped endpoint to disconnected and starts a
// single background reconnect loop for it.
func (m *Manager) onSessionDrop(name string) {
	m.mu.Lock()
	state, ok := m.endpoints[name]
	if !ok || m.closed || state.reconnecting {
		m.mu.Unlock()
		return
	}
	state.state = domain.EndpointDisconnected
	dropped := state.session
	state.session = nil
	state.reconnecting = true
	m.mu.Unlock()

	if dropped != nil {
		_ = dropped.Close()
	}
	m.logger.Warn("session dropped, reconnecting", zap.String("endpoint", name))
	go func() {
		defer func() {
			m.mu.Lock()
			if state, ok := m.endpoints[name]; ok {
				state.reconnecting = false
			}
			m.mu.Unlock()
		}()
		if err := m.Connect(context.Background(), name); err != nil {
			m.logger.Warn("reconnect failed, endpoint marked failed",
				zap.String("endpoint", name), zap.Error(err))
		}
	}()
}

func (m *Manager) forwardEvents(session *Session) {
	for event := range session.Events() {
		select {
		case m.events <- event:
		default:
			m.logger.Debug("merged event buffer full, dropping",
				zap.String("endpoint", event.Endpoint),
				zap.String("type", event.Type))
		}
	}
}

func (m *Manager) adopt(name string, session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.endpoints[name]
	if !ok {
		return
	}
	if m.closed {
		go func() { _ = session.Close() }()
		return
	}
	if state.session != nil {
		old := state.session
		go func() { _ = old.Close() }()
	}
	state.session = session
	state.state = domain.EndpointConnected
	state.connectedAt = time.Now()
	state.lastErr = nil
	state.attempts = 0
}

func (m *Manager) setState(name string, next domain.EndpointState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.endpoints[name]
	if !ok {
		return
	}
	state.state = next
	if err != nil {
		state.lastErr = err
	}
	if next == domain.EndpointConnecting {
		state.attempts++
	}
}

func (m *Manager) lookup(name string) (*endpointState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.endpoints[name]
	return state, ok
}
