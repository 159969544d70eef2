// Package wire implements the CoreLink message protocol: a tagged-union
// set of messages exchanged between peers, and the length-prefixed framing
// used to put them on the byte stream.
package wire

import (
	"encoding/json"

	"github.com/corelink/node/internal/chunk"
)

// ProtocolID is advertised during transport-layer negotiation. Peers that
// cannot agree on a protocol id never exchange a File Transfer Core
// message.
const ProtocolID = "/corelink/msg/1.0.0"

// Tag identifies a message's wire type.
type Tag uint8

const (
	TagFileOffer      Tag = 1
	TagChunkRequest   Tag = 2
	TagChunkData      Tag = 3
	TagChunkNotFound  Tag = 4
	TagAck            Tag = 5
	TagError          Tag = 6
)

// Message is implemented by every wire payload type. Dispatch on message
// kind happens through an exhaustive type switch on the concrete type, not
// through further methods on this interface.
type Message interface {
	tag() Tag
}

// FileOffer announces a file available for download, carrying its full
// manifest.
type FileOffer struct {
	Manifest chunk.Manifest
}

func (FileOffer) tag() Tag { return TagFileOffer }

// ChunkRequest asks the peer for one or more chunks of a previously
// offered file. Indexes holds between 1 and batch-size entries.
type ChunkRequest struct {
	FileID  chunk.FileID
	Indexes []uint32
}

func (ChunkRequest) tag() Tag { return TagChunkRequest }

// chunkRequestWire is ChunkRequest's on-the-wire shape: Indexes travels as
// a compressed range string (e.g. "0-2,7,9-10") rather than one JSON
// number per chunk, the same way the teacher's AckMessage/NackMessage
// carry ChunkRanges/MissingRanges as range strings instead of int slices.
type chunkRequestWire struct {
	FileID chunk.FileID
	Ranges string
}

// MarshalJSON compresses Indexes, which ScheduleNext always produces in
// ascending order, into a range string before encoding.
func (m ChunkRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(chunkRequestWire{FileID: m.FileID, Ranges: CompressRanges(m.Indexes)})
}

// UnmarshalJSON expands the range string back into Indexes.
func (m *ChunkRequest) UnmarshalJSON(data []byte) error {
	var w chunkRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	indexes, err := ExpandRanges(w.Ranges)
	if err != nil {
		return err
	}
	m.FileID = w.FileID
	m.Indexes = indexes
	return nil
}

// ChunkData carries the bytes of a single requested chunk. Hash is
// redundant with the manifest's recorded hash for this index; the
// manifest remains the authoritative source of truth for verification.
type ChunkData struct {
	FileID chunk.FileID
	Index  uint32
	Bytes  []byte
	Hash   chunk.Hash
}

func (ChunkData) tag() Tag { return TagChunkData }

// ChunkNotFound indicates the sender does not have (or no longer has) the
// requested chunk.
type ChunkNotFound struct {
	FileID chunk.FileID
	Index  uint32
}

func (ChunkNotFound) tag() Tag { return TagChunkNotFound }

// Ack acknowledges successful receipt and verification of a chunk.
// Informational only; the upload side uses it purely for progress
// reporting.
type Ack struct {
	FileID chunk.FileID
	Index  uint32
}

func (Ack) tag() Tag { return TagAck }

// Error reports a protocol-level failure. Receiving one closes the
// stream; it is not routed to a session unless the peer-id matches that
// session's source.
type Error struct {
	Code string
	Text string
}

func (Error) tag() Tag { return TagError }

// Error codes carried in Error.Code.
const (
	ErrCodeMalformed = "MALFORMED"
)
