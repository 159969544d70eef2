// Package obslog provides structured logging for the File Transfer Core,
// built on zerolog.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger. Contextual fields (peer, file, session,
// chunk) are attached by the With* builders, never read from a global.
type Logger struct {
	logger zerolog.Logger
}

// New creates a Logger that writes service-tagged, timestamped records to
// output. A nil output defaults to stdout.
func New(service string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	return &Logger{
		logger: zerolog.New(output).With().
			Timestamp().
			Str("service", service).
			Logger(),
	}
}

// WithPeer returns a Logger that attaches peer_id to every record.
func (l *Logger) WithPeer(peerID string) *Logger {
	return &Logger{logger: l.logger.With().Str("peer_id", peerID).Logger()}
}

// WithFile returns a Logger that attaches file_id and file_name to every
// record.
func (l *Logger) WithFile(fileID, fileName string) *Logger {
	return &Logger{logger: l.logger.With().Str("file_id", fileID).Str("file_name", fileName).Logger()}
}

// WithSession returns a Logger that attaches session_id to every record.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{logger: l.logger.With().Str("session_id", sessionID).Logger()}
}

// WithChunk returns a Logger that attaches chunk_index to every record.
func (l *Logger) WithChunk(index uint32) *Logger {
	return &Logger{logger: l.logger.With().Uint32("chunk_index", index).Logger()}
}

func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn().Msg(msg) }

func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// SessionTerminal logs a download session reaching a terminal status.
func (l *Logger) SessionTerminal(status, reason string) {
	l.logger.Info().
		Str("status", status).
		Str("reason", reason).
		Msg("download session terminal")
}

// ChunkVerified logs a single chunk passing integrity verification.
func (l *Logger) ChunkVerified(index uint32, bytes int) {
	l.logger.Debug().
		Uint32("chunk_index", index).
		Int("bytes", bytes).
		Msg("chunk verified")
}

// PeerConnected logs a newly attached peer.
func (l *Logger) PeerConnected(peerID string) {
	l.logger.Info().Str("peer_id", peerID).Msg("peer connected")
}

// PeerDisconnected logs a peer going away.
func (l *Logger) PeerDisconnected(peerID string) {
	l.logger.Info().Str("peer_id", peerID).Msg("peer disconnected")
}
