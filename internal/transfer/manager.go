// Package transfer implements the FileTransferManager: the single
// threaded event loop that owns every piece of core mutable state (the
// upload registry, the chunk cache, and all download sessions) and
// dispatches peer and operator events against it. No lock guards that
// state; correctness comes from every mutation running on the same
// goroutine. The only mutex in this package protects the event
// publisher's subscriber map, which Subscribe and Unsubscribe reach from
// other goroutines.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corelink/node/internal/cache"
	"github.com/corelink/node/internal/chunk"
	"github.com/corelink/node/internal/config"
	"github.com/corelink/node/internal/obslog"
	"github.com/corelink/node/internal/obsmetrics"
	"github.com/corelink/node/internal/peer"
	"github.com/corelink/node/internal/registry"
	"github.com/corelink/node/internal/session"
	"github.com/corelink/node/internal/wire"
)

// EventQueueSize bounds the Manager's shared inbound event channel, which
// every attached peer.Handler writes into.
const EventQueueSize = 256

// ErrUnknownSession is returned by Cancel when no session exists for the
// given file-id.
var ErrUnknownSession = errors.New("transfer: unknown session")

// Manager is the FileTransferManager. Construct one with New, attach
// peer.Handlers so they deliver onto Events(), then call Run in its own
// goroutine.
type Manager struct {
	cfg     config.Config
	logger  *obslog.Logger
	metrics *obsmetrics.Metrics

	cache    *cache.Cache
	registry *registry.Registry
	sessions map[chunk.FileID]*session.Session
	peers    map[string]chan<- wire.Message

	events   chan peer.Event
	offers   chan offerCmd
	cancels  chan cancelCmd
	progress chan progressCmd

	pub *publisher
}

// New constructs a Manager from explicit configuration. It does not start
// the event loop; call Run for that.
func New(cfg config.Config, logger *obslog.Logger, metrics *obsmetrics.Metrics) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}

	c, err := cache.New(cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("transfer: construct cache: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		cache:    c,
		registry: registry.New(c, metrics),
		sessions: make(map[chunk.FileID]*session.Session),
		peers:    make(map[string]chan<- wire.Message),
		events:   make(chan peer.Event, EventQueueSize),
		offers:   make(chan offerCmd),
		cancels:  make(chan cancelCmd),
		progress: make(chan progressCmd),
		pub:      newPublisher(),
	}, nil
}

// Events returns the channel every attached peer.Handler should be
// constructed with, so its Connected/Disconnected/Inbound/ProtocolError
// events reach this Manager's event loop.
func (m *Manager) Events() chan<- peer.Event { return m.events }

// Subscribe registers a listener for this Manager's observable events
// (session created, chunk verified, session terminal, peer connect and
// disconnect). Call Unsubscribe with the returned id when done.
func (m *Manager) Subscribe() (string, <-chan Event) { return m.pub.Subscribe() }

// Unsubscribe removes a listener registered with Subscribe.
func (m *Manager) Unsubscribe(id string) { m.pub.Unsubscribe(id) }

// Run drives the event loop until ctx is cancelled. It blocks; callers
// invoke it in its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-m.events:
			m.handlePeerEvent(ev)
		case now := <-ticker.C:
			m.onTick(now)
		case cmd := <-m.offers:
			m.handleOffer(cmd)
		case cmd := <-m.cancels:
			m.handleCancel(cmd)
		case cmd := <-m.progress:
			m.handleProgress(cmd)
		case <-ctx.Done():
			return
		}
	}
}

// Offer registers path as a locally offered file, broadcasts it to every
// connected peer, and returns the resulting file-id. It blocks until the
// event loop has processed the request.
func (m *Manager) Offer(ctx context.Context, path string) (chunk.FileID, error) {
	result := make(chan offerResult, 1)
	select {
	case m.offers <- offerCmd{path: path, result: result}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-result:
		return r.fileID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Cancel cancels the download session for fileID, if one exists.
func (m *Manager) Cancel(ctx context.Context, fileID chunk.FileID) error {
	result := make(chan error, 1)
	select {
	case m.cancels <- cancelCmd{fileID: fileID, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Progress reports the current status, failure reason, percent complete,
// moving-average transfer rate (bytes/sec), and estimated time remaining
// of the download session for fileID. found is false if no such session
// exists.
func (m *Manager) Progress(ctx context.Context, fileID chunk.FileID) (status session.Status, reason session.FailureReason, percent int, rate float64, eta time.Duration, found bool, err error) {
	result := make(chan progressResult, 1)
	select {
	case m.progress <- progressCmd{fileID: fileID, result: result}:
	case <-ctx.Done():
		return 0, 0, 0, 0, 0, false, ctx.Err()
	}
	select {
	case r := <-result:
		return r.status, r.reason, r.percent, r.rate, r.eta, r.found, nil
	case <-ctx.Done():
		return 0, 0, 0, 0, 0, false, ctx.Err()
	}
}

func (m *Manager) handleOffer(cmd offerCmd) {
	id, err := m.registry.Offer(cmd.path)
	cmd.result <- offerResult{fileID: id, err: err}
	if err != nil {
		if m.logger != nil {
			m.logger.Error(err, "offer failed")
		}
		return
	}

	mf, ok := m.registry.ManifestFor(id)
	if !ok {
		return
	}
	for peerID, out := range m.peers {
		out <- wire.FileOffer{Manifest: *mf}
		if m.logger != nil {
			m.logger.WithPeer(peerID).Debug("offered file to peer")
		}
	}
}

func (m *Manager) handleCancel(cmd cancelCmd) {
	s, ok := m.sessions[cmd.fileID]
	if !ok {
		cmd.result <- ErrUnknownSession
		return
	}
	wasActive := s.Status() == session.Active
	s.Cancel()
	if wasActive {
		m.onSessionTerminal(cmd.fileID, s)
	}
	cmd.result <- nil
}

func (m *Manager) handleProgress(cmd progressCmd) {
	s, ok := m.sessions[cmd.fileID]
	if !ok {
		cmd.result <- progressResult{found: false}
		return
	}
	cmd.result <- progressResult{
		found:   true,
		status:  s.Status(),
		reason:  s.FailureReason(),
		percent: s.Progress(),
		rate:    s.TransferRate(),
		eta:     s.EstimatedTimeRemaining(),
	}
}

func (m *Manager) handlePeerEvent(ev peer.Event) {
	switch e := ev.(type) {
	case peer.Connected:
		m.onPeerConnected(e.PeerID, e.Outbound)
	case peer.Disconnected:
		m.onPeerDisconnected(e.PeerID)
	case peer.Inbound:
		m.onInbound(e.PeerID, e.Message)
	case peer.ProtocolError:
		m.onProtocolError(e.PeerID, e.Err)
	}
}

func (m *Manager) onPeerConnected(peerID string, outbound chan<- wire.Message) {
	m.peers[peerID] = outbound
	if m.logger != nil {
		m.logger.PeerConnected(peerID)
	}
	m.pub.publish(Event{Kind: EventPeerConnected, PeerID: peerID})

	for _, id := range m.registry.Files() {
		mf, ok := m.registry.ManifestFor(id)
		if !ok {
			continue
		}
		outbound <- wire.FileOffer{Manifest: *mf}
	}
}

func (m *Manager) onPeerDisconnected(peerID string) {
	delete(m.peers, peerID)
	if m.logger != nil {
		m.logger.PeerDisconnected(peerID)
	}
	m.pub.publish(Event{Kind: EventPeerDisconnected, PeerID: peerID})

	for fileID, s := range m.sessions {
		if s.SourcePeer == peerID && s.Status() == session.Active {
			s.SourceGone()
			m.onSessionTerminal(fileID, s)
		}
	}
}

func (m *Manager) onProtocolError(peerID string, err error) {
	if m.logger != nil {
		m.logger.WithPeer(peerID).Error(err, "peer sent a malformed frame")
	}
	for fileID, s := range m.sessions {
		if s.SourcePeer == peerID && s.Status() == session.Active {
			s.PeerError()
			m.onSessionTerminal(fileID, s)
		}
	}
}

func (m *Manager) onInbound(peerID string, msg wire.Message) {
	switch p := msg.(type) {
	case wire.FileOffer:
		m.onFileOffer(peerID, p.Manifest)
	case wire.ChunkRequest:
		m.onChunkRequest(peerID, p)
	case wire.ChunkData:
		m.onChunkData(peerID, p)
	case wire.ChunkNotFound:
		m.onChunkNotFound(peerID, p)
	case wire.Ack:
		// Informational only; nothing to do on the receiving side.
	case wire.Error:
		m.onProtocolError(peerID, fmt.Errorf("%s: %s", p.Code, p.Text))
	}
}

func (m *Manager) onFileOffer(peerID string, manifest chunk.Manifest) {
	if _, exists := m.sessions[manifest.FileID]; exists {
		return
	}

	mfCopy := manifest
	params := session.Params{
		BatchSize:      m.cfg.BatchSize,
		RequestTimeout: m.cfg.RequestTimeout,
		DownloadsDir:   m.cfg.DownloadsDir(),
		CompleteDir:    m.cfg.CompleteDir(),
	}

	var log *obslog.Logger
	if m.logger != nil {
		// One session per file-id: the session-scoped logger carries
		// both the file identity and, since there is no separate
		// session-id concept here, the file-id doubling as session_id.
		log = m.logger.WithFile(string(manifest.FileID), manifest.FileName).WithSession(string(manifest.FileID))
	}

	s, err := session.Open(&mfCopy, peerID, params, log)
	if err != nil {
		if m.logger != nil {
			m.logger.Error(err, "failed to open download session")
		}
		return
	}
	m.sessions[manifest.FileID] = s
	if m.metrics != nil {
		m.metrics.SessionsActive.Inc()
	}
	m.pub.publish(Event{Kind: EventSessionCreated, FileID: manifest.FileID, PeerID: peerID})

	if s.Status() != session.Active {
		m.onSessionTerminal(manifest.FileID, s)
		return
	}
	m.requestNextBatch(manifest.FileID, s, peerID)
}

func (m *Manager) onChunkRequest(peerID string, req wire.ChunkRequest) {
	out, ok := m.peers[peerID]
	if !ok {
		return
	}
	for _, idx := range req.Indexes {
		data, err := m.registry.ReadChunk(req.FileID, idx)
		if err != nil {
			out <- wire.ChunkNotFound{FileID: req.FileID, Index: idx}
			continue
		}
		if m.metrics != nil {
			m.metrics.ChunksServed.Inc()
		}
		mf, ok := m.registry.ManifestFor(req.FileID)
		if !ok {
			out <- wire.ChunkNotFound{FileID: req.FileID, Index: idx}
			continue
		}
		out <- wire.ChunkData{FileID: req.FileID, Index: idx, Bytes: data, Hash: mf.ChunkHashes[idx]}
	}
}

func (m *Manager) onChunkData(peerID string, msg wire.ChunkData) {
	s, ok := m.sessions[msg.FileID]
	if !ok {
		return
	}
	if m.metrics != nil {
		m.metrics.ChunksReceived.Inc()
	}

	switch s.OnChunkData(msg.Index, msg.Bytes, msg.Hash) {
	case session.OutcomeWritten:
		if m.metrics != nil {
			m.metrics.ChunksVerified.Inc()
		}
		if out, ok := m.peers[peerID]; ok {
			out <- wire.Ack{FileID: msg.FileID, Index: msg.Index}
		}
		m.pub.publish(Event{Kind: EventChunkVerified, FileID: msg.FileID, ChunkIndex: msg.Index, PeerID: peerID})
	case session.OutcomeIntegrityFailure:
		if m.metrics != nil {
			m.metrics.ChunksFailed.WithLabelValues("integrity").Inc()
		}
	case session.OutcomeDuplicate:
		return
	}

	if s.Status() != session.Active {
		m.onSessionTerminal(msg.FileID, s)
		return
	}
	m.requestNextBatch(msg.FileID, s, peerID)
}

func (m *Manager) onChunkNotFound(peerID string, msg wire.ChunkNotFound) {
	s, ok := m.sessions[msg.FileID]
	if !ok {
		return
	}
	s.OnChunkNotFound(msg.Index)
	if s.Status() != session.Active {
		m.onSessionTerminal(msg.FileID, s)
		return
	}
	m.requestNextBatch(msg.FileID, s, peerID)
}

func (m *Manager) onTick(now time.Time) {
	for fileID, s := range m.sessions {
		if s.Status() != session.Active {
			continue
		}
		s.OnTimeout(now)
		if s.Status() != session.Active {
			m.onSessionTerminal(fileID, s)
			continue
		}
		m.requestNextBatch(fileID, s, s.SourcePeer)
	}
}

func (m *Manager) requestNextBatch(fileID chunk.FileID, s *session.Session, peerID string) {
	out, ok := m.peers[peerID]
	if !ok {
		return
	}
	idxs := s.ScheduleNext(time.Now())
	if len(idxs) == 0 {
		return
	}
	out <- wire.ChunkRequest{FileID: fileID, Indexes: idxs}
}

func (m *Manager) onSessionTerminal(fileID chunk.FileID, s *session.Session) {
	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
		m.metrics.SessionsTerminal.WithLabelValues(s.Status().String()).Inc()
	}
	m.pub.publish(Event{
		Kind:          EventSessionTerminal,
		FileID:        fileID,
		PeerID:        s.SourcePeer,
		Status:        s.Status(),
		FailureReason: s.FailureReason(),
	})
}
