package transfer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/corelink/node/internal/chunk"
	"github.com/corelink/node/internal/session"
)

// EventKind discriminates the observable outputs spec.md §4.F names:
// session creation, per-chunk verified events, session terminal state, and
// peer connect/disconnect.
type EventKind int

const (
	EventSessionCreated EventKind = iota
	EventChunkVerified
	EventSessionTerminal
	EventPeerConnected
	EventPeerDisconnected
)

// Event is a single observable output of the Manager's event loop.
type Event struct {
	Kind          EventKind
	FileID        chunk.FileID
	ChunkIndex    uint32
	PeerID        string
	Status        session.Status
	FailureReason session.FailureReason
}

// subscriberBuffer is the default channel depth for a new subscription.
const subscriberBuffer = 32

// publisher is a narrow pub/sub broadcaster for Manager events, adapted
// from a broader publish/subscribe mechanism down to the four outputs
// spec.md actually names. Sends are non-blocking: a slow subscriber drops
// events rather than stalling the Manager's loop.
type publisher struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

func newPublisher() *publisher {
	return &publisher{subs: make(map[string]chan Event)}
}

// Subscribe registers a new listener and returns its id (for Unsubscribe)
// and a receive-only channel of future events.
func (p *publisher) Subscribe() (string, <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan Event, subscriberBuffer)
	p.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (p *publisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(ch)
	}
}

func (p *publisher) publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
