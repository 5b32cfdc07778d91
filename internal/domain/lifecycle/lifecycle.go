// Package lifecycle tracks the MCP connection handshake state: the
// initialize/initialized exchange and subsequent shutdown. Grounded on
// original_source's src/protocol/lifecycle.py.
package lifecycle

import "sync"

// State is one of the four MCP connection lifecycle states.
type State string

const (
	Uninitialized State = "uninitialized"
	Initializing  State = "initializing"
	Ready         State = "ready"
	Shutdown      State = "shutdown"
)

// ProtocolError is raised when a protocol constraint is violated, e.g. a
// tool call arriving before the handshake completes.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return e.msg }

// ServerInfo identifies gatekeep in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientInfo identifies the connecting client, reported by it during
// initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Manager manages one connection's lifecycle. Safe for concurrent use; the
// stdio transport this backs is single-connection, but request handling
// and the protocol dispatcher may run initialize/tool-call processing
// concurrently with a shutdown notification.
type Manager struct {
	mu sync.RWMutex

	serverInfo   ServerInfo
	capabilities map[string]interface{}

	state              State
	clientInfo         *ClientInfo
	clientCapabilities map[string]interface{}
}

// New creates a Manager advertising serverInfo and capabilities in its
// initialize response.
func New(serverInfo ServerInfo, capabilities map[string]interface{}) *Manager {
	return &Manager{
		serverInfo:   serverInfo,
		capabilities: capabilities,
		state:        Uninitialized,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsReady reports whether the connection may process tool calls.
func (m *Manager) IsReady() bool {
	return m.State() == Ready
}

// ConnectedClient returns the client info reported during initialize, or
// nil if the handshake hasn't happened yet.
func (m *Manager) ConnectedClient() *ClientInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clientInfo
}

// RequireReady returns a *ProtocolError if the connection cannot currently
// process operations.
func (m *Manager) RequireReady() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == Shutdown {
		return &ProtocolError{msg: "Connection is shutdown"}
	}
	if m.state != Ready {
		return &ProtocolError{msg: "Connection is not ready"}
	}
	return nil
}

// InitializeResult is the initialize response body.
type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      ServerInfo             `json:"serverInfo"`
}

// HandleInitialize processes an initialize request, transitioning
// Uninitialized -> Initializing. Any requested protocol version is
// accepted and echoed back unchanged.
func (m *Manager) HandleInitialize(protocolVersion string, clientInfo *ClientInfo, clientCapabilities map[string]interface{}) (*InitializeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Uninitialized {
		return nil, &ProtocolError{msg: "Server already initialized"}
	}

	if protocolVersion == "" {
		protocolVersion = defaultProtocolVersion
	}

	m.clientInfo = clientInfo
	m.clientCapabilities = clientCapabilities
	m.state = Initializing

	return &InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    m.capabilities,
		ServerInfo:      m.serverInfo,
	}, nil
}

// defaultProtocolVersion is advertised when the client omits protocolVersion.
const defaultProtocolVersion = "2024-11-05"

// HandleInitialized processes the initialized notification, transitioning
// Initializing -> Ready.
func (m *Manager) HandleInitialized() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Initializing {
		return &ProtocolError{msg: "Server not initializing"}
	}
	m.state = Ready
	return nil
}

// HandleShutdown transitions unconditionally to Shutdown.
func (m *Manager) HandleShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Shutdown
}
