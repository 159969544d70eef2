// Package peer implements the per-peer protocol handler: it owns one
// authenticated byte stream, turning inbound frames into events for the
// FileTransferManager and draining an outbound queue of messages back onto
// the wire.
package peer

import (
	"context"
	"errors"
	"io"

	"github.com/corelink/node/internal/obslog"
	"github.com/corelink/node/internal/wire"
)

// OutboundQueueSize bounds the per-peer outbound message queue. When full,
// the Manager's enqueue blocks, providing backpressure against a slow peer.
const OutboundQueueSize = 64

// Stream is the authenticated, multiplexed byte stream the core is handed
// for one peer connection. Discovery and the transport-security handshake
// that produce it are out of scope; peer only requires this interface.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	RemotePeerID() string
}

// Handler owns one peer connection's stream. Two independent halves, a
// reader and a writer, run as separate goroutines; they never touch each
// other's state directly.
type Handler struct {
	peerID   string
	stream   Stream
	outbound chan wire.Message
	events   chan<- Event
	logger   *obslog.Logger
}

// New constructs a Handler for stream, which will deliver events onto the
// shared events channel (the Manager's bounded inbound event channel).
func New(stream Stream, events chan<- Event, logger *obslog.Logger) *Handler {
	return &Handler{
		peerID:   stream.RemotePeerID(),
		stream:   stream,
		outbound: make(chan wire.Message, OutboundQueueSize),
		events:   events,
		logger:   logger,
	}
}

// PeerID returns the remote peer identifier this handler was constructed
// with.
func (h *Handler) PeerID() string { return h.peerID }

// Outbound returns the send-only view of this handler's outbound queue,
// the handle the Manager keeps in its peer map to address this peer.
func (h *Handler) Outbound() chan<- wire.Message { return h.outbound }

// Run drives both halves of the connection until the stream closes or ctx
// is cancelled, emitting Connected on entry and Disconnected on exit. It
// blocks until the connection ends.
func (h *Handler) Run(ctx context.Context) {
	h.events <- Connected{PeerID: h.peerID, Outbound: h.outbound}

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, done)
	}()
	go func() {
		select {
		case <-ctx.Done():
			h.stream.Close()
		case <-done:
		}
	}()

	h.readLoop(ctx)
	close(done)

	h.stream.Close()
	<-writerDone

	h.events <- Disconnected{PeerID: h.peerID}
}

func (h *Handler) readLoop(ctx context.Context) {
	for {
		msg, err := wire.Decode(h.stream)
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) {
				_ = wire.Encode(h.stream, wire.Error{Code: wire.ErrCodeMalformed, Text: err.Error()})
				h.emit(ctx, ProtocolError{PeerID: h.peerID, Err: err})
			}
			return
		}

		if !h.emit(ctx, Inbound{PeerID: h.peerID, Message: msg}) {
			return
		}
		if _, isErr := msg.(wire.Error); isErr {
			return
		}
	}
}

func (h *Handler) emit(ctx context.Context, ev Event) bool {
	select {
	case h.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Handler) writeLoop(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case msg := <-h.outbound:
			if err := wire.Encode(h.stream, msg); err != nil {
				if h.logger != nil {
					h.logger.Error(err, "failed to write frame to peer")
				}
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
