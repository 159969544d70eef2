package quictransport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"
)

// quicConfig mirrors the window and idle-timeout tuning the example pack
// uses for its own QUIC transport.
func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10e9,
		MaxIdleTimeout:                 60e9,
		InitialStreamReceiveWindow:     8 << 20,
		InitialConnectionReceiveWindow: 128 << 20,
	}
}

// Stream adapts one QUIC stream, tagged with the remote peer id exchanged
// once the connection is up, into the core's peer.Stream interface.
type Stream struct {
	conn   *quic.Conn
	stream *quic.Stream
	peerID string
}

func (s *Stream) Read(b []byte) (int, error)  { return s.stream.Read(b) }
func (s *Stream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s *Stream) RemotePeerID() string        { return s.peerID }

func (s *Stream) Close() error {
	err := s.stream.Close()
	s.conn.CloseWithError(0, "stream closed")
	return err
}

// Dial establishes a QUIC connection to addr, opens its single bidirectional
// stream, and exchanges localID for the remote's peer id.
func Dial(ctx context.Context, addr, localID string) (*Stream, error) {
	conn, err := quic.DialAddr(ctx, addr, clientTLSConfig(), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quictransport: dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("quictransport: open stream: %w", err)
	}
	peerID, err := exchangePeerID(stream, localID)
	if err != nil {
		stream.Close()
		conn.CloseWithError(0, "handshake failed")
		return nil, err
	}
	return &Stream{conn: conn, stream: stream, peerID: peerID}, nil
}

// Listener accepts inbound QUIC connections, each yielding one peer.Stream.
type Listener struct {
	listener *quic.Listener
	localID  string
}

// Listen starts a QUIC listener bound to addr. localID is what this
// listener will present to every peer that connects to it.
func Listen(addr, localID string) (*Listener, error) {
	tlsConfig, err := serverTLSConfig()
	if err != nil {
		return nil, err
	}
	l, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quictransport: listen %s: %w", addr, err)
	}
	return &Listener{listener: l, localID: localID}, nil
}

// Accept blocks for the next inbound connection and its single stream.
func (l *Listener) Accept(ctx context.Context) (*Stream, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("quictransport: accept: %w", err)
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "accept stream failed")
		return nil, fmt.Errorf("quictransport: accept stream: %w", err)
	}
	peerID, err := exchangePeerID(stream, l.localID)
	if err != nil {
		stream.Close()
		conn.CloseWithError(0, "handshake failed")
		return nil, err
	}
	return &Stream{conn: conn, stream: stream, peerID: peerID}, nil
}

// Addr returns the listener's bound network address.
func (l *Listener) Addr() string { return l.listener.Addr().String() }

// Close shuts down the listener.
func (l *Listener) Close() error { return l.listener.Close() }

// exchangePeerID writes a 2-byte-length-prefixed localID and reads back
// the peer's own, completing the static pre-shared identity exchange that
// stands in for real peer discovery and authentication.
func exchangePeerID(rw io.ReadWriter, localID string) (string, error) {
	if len(localID) > 0xFFFF {
		return "", fmt.Errorf("quictransport: local id too long")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(localID)))
	if _, err := rw.Write(lenBuf[:]); err != nil {
		return "", fmt.Errorf("quictransport: write id length: %w", err)
	}
	if _, err := rw.Write([]byte(localID)); err != nil {
		return "", fmt.Errorf("quictransport: write id: %w", err)
	}

	if _, err := io.ReadFull(rw, lenBuf[:]); err != nil {
		return "", fmt.Errorf("quictransport: read peer id length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	idBuf := make([]byte, n)
	if _, err := io.ReadFull(rw, idBuf); err != nil {
		return "", fmt.Errorf("quictransport: read peer id: %w", err)
	}
	return string(idBuf), nil
}
