// Package session implements the Download Session: the per-file receiver
// state machine that tracks requested, received, and verified chunks,
// schedules the next batch of requests, and reassembles the file on disk.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/corelink/node/internal/chunk"
	"github.com/corelink/node/internal/obslog"
)

// ChunkStatus is the state of a single chunk slot within a session.
type ChunkStatus int

const (
	Missing ChunkStatus = iota
	InFlight
	Received
	Written
)

func (s ChunkStatus) String() string {
	switch s {
	case Missing:
		return "Missing"
	case InFlight:
		return "InFlight"
	case Received:
		return "Received"
	case Written:
		return "Written"
	default:
		return "Unknown"
	}
}

// Status is the session's overall lifecycle state.
type Status int

const (
	Active Status = iota
	Complete
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// FailureReason names why a session reached Failed.
type FailureReason int

const (
	ReasonNone FailureReason = iota
	ReasonIO
	ReasonIntegrityExceeded
	ReasonTimeout
	ReasonSourceUnavailable
	ReasonSourceGone
	ReasonPeerError
	ReasonCancelled
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonIO:
		return "Io"
	case ReasonIntegrityExceeded:
		return "IntegrityExceeded"
	case ReasonTimeout:
		return "Timeout"
	case ReasonSourceUnavailable:
		return "SourceUnavailable"
	case ReasonSourceGone:
		return "SourceGone"
	case ReasonPeerError:
		return "PeerError"
	case ReasonCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Outcome reports the result of feeding a chunk payload to a session.
type Outcome int

const (
	OutcomeDuplicate Outcome = iota
	OutcomeIntegrityFailure
	OutcomeWritten
)

// Retry limits: per spec.md §4.E/§7, three consecutive integrity or
// timeout failures on the same index, or two ChunkNotFound answers,
// escalate the whole session to Failed.
const (
	maxIntegrityRetries = 3
	maxTimeoutRetries   = 3
	maxNotFoundRetries  = 2
)

// rateSampleWindow bounds the moving average used by TransferRate to the
// most recent chunk writes, so a slow start or a stalled peer does not
// permanently skew the estimate.
const rateSampleWindow = 10

type slot struct {
	status            ChunkStatus
	since             time.Time
	integrityFailures int
	notFoundCount     int
	timeoutCount      int
}

// Params configures a session at Open time.
type Params struct {
	BatchSize      int
	RequestTimeout time.Duration
	DownloadsDir   string
	CompleteDir    string
}

// Session is the receiver-side state machine for one download. All of its
// mutating methods are invoked only from the Manager's single-threaded
// event loop; it carries no internal locking.
type Session struct {
	FileID     chunk.FileID
	Manifest   *chunk.Manifest
	SourcePeer string

	params Params
	logger *obslog.Logger

	slots         []slot
	inFlightCount int
	verifiedCount int
	writtenCount  int

	status        Status
	failureReason FailureReason

	partialPath string
	file        *os.File

	bytesWritten     int64
	rateSamples      []float64
	lastSampleTime   time.Time
	lastBytesWritten int64
}

// Open allocates the partial file under params.DownloadsDir, preallocates
// it to the manifest's total size, and initializes every chunk slot to
// Missing. A zero-chunk manifest (an empty file) completes immediately.
func Open(m *chunk.Manifest, sourcePeer string, params Params, logger *obslog.Logger) (*Session, error) {
	s := &Session{
		FileID:     m.FileID,
		Manifest:   m,
		SourcePeer: sourcePeer,
		params:     params,
		logger:     logger,
		slots:      make([]slot, m.ChunkCount),
		status:     Active,
	}
	s.lastSampleTime = time.Now()

	if m.ChunkCount == 0 {
		completePath := filepath.Join(params.CompleteDir, m.FileName)
		if err := os.MkdirAll(params.CompleteDir, 0o755); err != nil {
			return nil, fmt.Errorf("session: mkdir complete dir: %w", err)
		}
		if err := os.WriteFile(completePath, nil, 0o644); err != nil {
			return nil, fmt.Errorf("session: write empty complete file: %w", err)
		}
		s.status = Complete
		return s, nil
	}

	if err := os.MkdirAll(params.DownloadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: mkdir downloads dir: %w", err)
	}
	partialPath := filepath.Join(params.DownloadsDir, string(m.FileID)+".part")
	f, err := os.OpenFile(partialPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: create partial file: %w", err)
	}
	if err := f.Truncate(m.TotalSize); err != nil {
		f.Close()
		os.Remove(partialPath)
		return nil, fmt.Errorf("session: preallocate partial file: %w", err)
	}

	s.partialPath = partialPath
	s.file = f
	return s, nil
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() Status { return s.status }

// FailureReason returns why the session failed; meaningful only when
// Status() == Failed.
func (s *Session) FailureReason() FailureReason { return s.failureReason }

// ChunkCount returns the total number of chunks in the manifest.
func (s *Session) ChunkCount() uint32 { return s.Manifest.ChunkCount }

// InFlightCount returns the number of chunk slots currently InFlight.
func (s *Session) InFlightCount() int { return s.inFlightCount }

// Counts returns the number of slots in each state, for invariant checks.
func (s *Session) Counts() (missing, inFlight, received, written int) {
	for _, sl := range s.slots {
		switch sl.status {
		case Missing:
			missing++
		case InFlight:
			inFlight++
		case Received:
			received++
		case Written:
			written++
		}
	}
	return
}

// Progress reports verified_count / chunk_count as a 0-100 integer
// percent. A zero-chunk (already complete) session reports 100.
func (s *Session) Progress() int {
	if s.Manifest.ChunkCount == 0 {
		return 100
	}
	return int(float64(s.verifiedCount) / float64(s.Manifest.ChunkCount) * 100)
}

// TransferRate returns the moving-average receive rate in bytes per
// second, averaged over the last rateSampleWindow chunk writes. It
// returns 0 until at least one sample has been recorded.
func (s *Session) TransferRate() float64 {
	if len(s.rateSamples) == 0 {
		return 0
	}
	var sum float64
	for _, r := range s.rateSamples {
		sum += r
	}
	return sum / float64(len(s.rateSamples))
}

// EstimatedTimeRemaining projects the time to completion from the current
// TransferRate. It returns 0 once the rate is unknown or the session is
// no longer Active.
func (s *Session) EstimatedTimeRemaining() time.Duration {
	rate := s.TransferRate()
	if rate <= 0 || s.status != Active {
		return 0
	}
	remaining := s.Manifest.TotalSize - s.bytesWritten
	if remaining <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

// recordBytesWritten folds a new cumulative-bytes-written reading into the
// rolling rate average.
func (s *Session) recordBytesWritten(now time.Time, totalBytesWritten int64) {
	duration := now.Sub(s.lastSampleTime).Seconds()
	if duration > 0 {
		delta := totalBytesWritten - s.lastBytesWritten
		rate := float64(delta) / duration
		s.rateSamples = append(s.rateSamples, rate)
		if len(s.rateSamples) > rateSampleWindow {
			s.rateSamples = s.rateSamples[1:]
		}
	}
	s.lastSampleTime = now
	s.lastBytesWritten = totalBytesWritten
}

// ScheduleNext selects up to (batch-size - in-flight-count) chunks in
// Missing state, in ascending index order, marks each InFlight, and
// returns them. It returns nil if the session is not Active or no
// capacity/work remains.
func (s *Session) ScheduleNext(now time.Time) []uint32 {
	if s.status != Active {
		return nil
	}
	avail := s.params.BatchSize - s.inFlightCount
	if avail <= 0 {
		return nil
	}

	var out []uint32
	for i := range s.slots {
		if len(out) >= avail {
			break
		}
		if s.slots[i].status == Missing {
			s.slots[i].status = InFlight
			s.slots[i].since = now
			s.inFlightCount++
			out = append(out, uint32(i))
		}
	}
	return out
}

// OnChunkData verifies and, on success, writes a received chunk payload.
func (s *Session) OnChunkData(index uint32, data []byte, hash chunk.Hash) Outcome {
	if s.status != Active || int(index) >= len(s.slots) || s.slots[index].status == Written {
		return OutcomeDuplicate
	}

	expected := s.Manifest.ChunkHashes[index]
	if hash != expected || !chunk.Verify(s.Manifest, index, data) {
		if s.slots[index].status == InFlight {
			s.inFlightCount--
		}
		s.slots[index].status = Missing
		s.slots[index].integrityFailures++
		if s.logger != nil {
			s.logger.WithChunk(index).Warn("chunk failed integrity verification")
		}
		if s.slots[index].integrityFailures >= maxIntegrityRetries {
			s.fail(ReasonIntegrityExceeded)
		}
		return OutcomeIntegrityFailure
	}

	if err := s.writeChunk(index, data); err != nil {
		if s.logger != nil {
			s.logger.Error(err, "failed to write chunk to partial file")
		}
		s.fail(ReasonIO)
		return OutcomeIntegrityFailure
	}

	if s.slots[index].status == InFlight {
		s.inFlightCount--
	}
	s.slots[index].status = Written
	s.verifiedCount++
	s.writtenCount++
	s.bytesWritten += int64(len(data))
	s.recordBytesWritten(time.Now(), s.bytesWritten)

	if s.logger != nil {
		s.logger.ChunkVerified(index, len(data))
	}

	if s.writtenCount == int(s.Manifest.ChunkCount) {
		if err := s.finalize(); err != nil {
			if s.logger != nil {
				s.logger.Error(err, "failed to finalize completed download")
			}
			s.fail(ReasonIO)
			return OutcomeWritten
		}
	}
	return OutcomeWritten
}

// OnChunkNotFound handles a peer's refusal to serve the requested chunk.
func (s *Session) OnChunkNotFound(index uint32) {
	if s.status != Active || int(index) >= len(s.slots) {
		return
	}
	if s.slots[index].status != InFlight {
		return
	}
	s.slots[index].status = Missing
	s.inFlightCount--
	s.slots[index].notFoundCount++
	if s.slots[index].notFoundCount >= maxNotFoundRetries {
		s.fail(ReasonSourceUnavailable)
	}
}

// OnTimeout reverts any InFlight slot whose request has aged past the
// configured timeout back to Missing, bumping its per-index watchdog
// counter.
func (s *Session) OnTimeout(now time.Time) {
	if s.status != Active {
		return
	}
	for i := range s.slots {
		if s.slots[i].status != InFlight {
			continue
		}
		if now.Sub(s.slots[i].since) < s.params.RequestTimeout {
			continue
		}
		s.slots[i].status = Missing
		s.inFlightCount--
		s.slots[i].timeoutCount++
		if s.slots[i].timeoutCount >= maxTimeoutRetries {
			s.fail(ReasonTimeout)
			return
		}
	}
}

// Cancel transitions the session to Cancelled and best-effort deletes its
// partial file. A no-op on an already-terminal session.
func (s *Session) Cancel() {
	if s.status != Active {
		return
	}
	s.status = Cancelled
	s.failureReason = ReasonCancelled
	s.cleanupPartial()
}

// SourceGone transitions the session to Failed{SourceGone}, invoked when
// its source peer disconnects.
func (s *Session) SourceGone() {
	if s.status != Active {
		return
	}
	s.fail(ReasonSourceGone)
}

// PeerError transitions the session to Failed{PeerError}.
func (s *Session) PeerError() {
	if s.status != Active {
		return
	}
	s.fail(ReasonPeerError)
}

func (s *Session) fail(reason FailureReason) {
	if s.status != Active {
		return
	}
	s.status = Failed
	s.failureReason = reason
	s.cleanupPartial()
	if s.logger != nil {
		s.logger.SessionTerminal(s.status.String(), reason.String())
	}
}

func (s *Session) writeChunk(index uint32, data []byte) error {
	offset := int64(index) * int64(s.Manifest.ChunkSize)
	if _, err := s.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("session: write chunk %d at offset %d: %w", index, offset, err)
	}
	return nil
}

// finalize fsyncs and renames the partial file into the complete
// directory, then marks the session Complete.
func (s *Session) finalize() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("session: fsync partial file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("session: close partial file: %w", err)
	}

	if err := os.MkdirAll(s.params.CompleteDir, 0o755); err != nil {
		return fmt.Errorf("session: mkdir complete dir: %w", err)
	}
	completePath := filepath.Join(s.params.CompleteDir, s.Manifest.FileName)
	if err := os.Rename(s.partialPath, completePath); err != nil {
		return fmt.Errorf("session: rename into complete: %w", err)
	}

	s.status = Complete
	if s.logger != nil {
		s.logger.SessionTerminal(s.status.String(), ReasonNone.String())
	}
	return nil
}

func (s *Session) cleanupPartial() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if s.partialPath != "" {
		os.Remove(s.partialPath)
	}
}
