package bridge

import "context"

// EventKind identifies a transport event
type EventKind int

const (
	// EventConnected reports a newly accepted peer
	EventConnected EventKind = iota
	// EventDisconnected reports that a peer closed or failed
	EventDisconnected
	// EventFrame carries one inbound frame from a peer
	EventFrame
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFrame:
		return "frame"
	default:
		return "unknown"
	}
}

// Event is published by a Listener and consumed by the bridge event loop
type Event struct {
	Kind EventKind
	Peer Peer
	Data []byte // EventFrame only
	Err  error  // EventDisconnected only, nil on a clean close
}

// Listener accepts peer connections for the bridge
type Listener interface {
	// Listen binds addr and starts accepting peers. Binding happens before
	// Listen returns; a bind failure is returned as *contracts.TransportFatalError.
	// The returned channel is closed after Close once every connection has stopped.
	Listen(ctx context.Context, addr string) (<-chan Event, error)

	// Addr returns the bound address while listening
	Addr() string

	// Close stops accepting peers and closes every accepted connection
	Close() error
}
