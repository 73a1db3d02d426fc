package bridge

import (
	"log/slog"
	"sync"
)

// Peer is one live connection to the plugin
type Peer interface {
	// ID identifies the connection in logs
	ID() string

	// Send writes one frame. Implementations serialize concurrent writes.
	Send(data []byte) error

	// IsOpen reports whether the connection can still carry frames
	IsOpen() bool

	// Close terminates the connection
	Close() error
}

// ConnectionListener receives peer attach and detach notifications
type ConnectionListener interface {
	OnPeerAttached(peerID string)
	OnPeerDetached(peerID string)
}

// ConnectionRegistry holds at most one active peer. Attaching a peer while
// another is active closes the previous one.
type ConnectionRegistry struct {
	active      Peer
	mu          sync.RWMutex
	logger      *slog.Logger
	listeners   []ConnectionListener
	listenersMu sync.RWMutex
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry(logger *slog.Logger) *ConnectionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionRegistry{logger: logger}
}

// Attach makes peer the active connection and returns the peer it replaced
func (r *ConnectionRegistry) Attach(peer Peer) Peer {
	if peer == nil {
		return nil
	}

	r.mu.Lock()
	previous := r.active
	r.active = peer
	r.mu.Unlock()

	if previous != nil && previous != peer {
		r.logger.Warn("replacing active plugin connection",
			"previous", previous.ID(),
			"peer", peer.ID())
		if err := previous.Close(); err != nil {
			r.logger.Debug("closing replaced connection failed", "peer", previous.ID(), "error", err)
		}
		r.notifyDetached(previous.ID())
	}

	r.logger.Info("plugin connected", "peer", peer.ID())
	r.notifyAttached(peer.ID())
	return previous
}

// Detach removes peer if it is still the active connection. A close reported
// by an already replaced peer leaves its successor attached.
func (r *ConnectionRegistry) Detach(peer Peer) bool {
	if peer == nil {
		return false
	}

	r.mu.Lock()
	if r.active != peer {
		r.mu.Unlock()
		return false
	}
	r.active = nil
	r.mu.Unlock()

	r.logger.Info("plugin disconnected", "peer", peer.ID())
	r.notifyDetached(peer.ID())
	return true
}

// IsConnected reports whether an open peer is attached
func (r *ConnectionRegistry) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil && r.active.IsOpen()
}

// Active returns the attached peer, or nil
func (r *ConnectionRegistry) Active() Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Close closes and detaches the active peer. Calling Close again is a no-op.
func (r *ConnectionRegistry) Close() error {
	r.mu.Lock()
	peer := r.active
	r.active = nil
	r.mu.Unlock()

	if peer == nil {
		return nil
	}

	err := peer.Close()
	r.notifyDetached(peer.ID())
	return err
}

// AddListener adds a connection listener
func (r *ConnectionRegistry) AddListener(listener ConnectionListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// RemoveListener removes a connection listener
func (r *ConnectionRegistry) RemoveListener(listener ConnectionListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()

	for i, l := range r.listeners {
		if l == listener {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			break
		}
	}
}

func (r *ConnectionRegistry) notifyAttached(peerID string) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()

	for _, listener := range r.listeners {
		listener.OnPeerAttached(peerID)
	}
}

func (r *ConnectionRegistry) notifyDetached(peerID string) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()

	for _, listener := range r.listeners {
		listener.OnPeerDetached(peerID)
	}
}
