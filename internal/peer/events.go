package peer

import "github.com/corelink/node/internal/wire"

// Event is the tagged union of things a Handler reports to the Manager.
// Dispatch happens through an exhaustive type switch at the Manager's
// event loop, not through further methods on this interface.
type Event interface {
	isEvent()
}

// Connected is emitted once when a Handler starts running. Outbound is
// the channel the Manager should keep in its peer map to address this
// peer; sends on it block when the queue is full, which is the
// backpressure mechanism spec.md §5 requires.
type Connected struct {
	PeerID   string
	Outbound chan<- wire.Message
}

func (Connected) isEvent() {}

// Disconnected is emitted once when a Handler's stream has closed, after
// both its reader and writer halves have exited.
type Disconnected struct {
	PeerID string
}

func (Disconnected) isEvent() {}

// Inbound carries one successfully decoded frame from the peer.
type Inbound struct {
	PeerID  string
	Message wire.Message
}

func (Inbound) isEvent() {}

// ProtocolError is emitted when a frame could not be decoded. The Handler
// has already sent an Error frame to the peer and closes the stream right
// after emitting this event.
type ProtocolError struct {
	PeerID string
	Err    error
}

func (ProtocolError) isEvent() {}
