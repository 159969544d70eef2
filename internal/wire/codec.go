package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest permitted frame body, in bytes, including
// the one-byte tag.
const MaxFrameSize = 131072

// ErrMalformed is returned for frames that are too large, truncated, or
// whose body cannot be decoded against its declared tag.
var ErrMalformed = errors.New("wire: malformed frame")

// lengthPrefixSize is the width of the frame's length field.
const lengthPrefixSize = 4

// Encode writes msg as a length-prefixed frame to w: a 4-byte big-endian
// length, then a one-byte tag, then the JSON-encoded payload.
func Encode(w io.Writer, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}

	body := make([]byte, 0, 1+len(payload))
	body = append(body, byte(msg.tag()))
	body = append(body, payload...)

	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: body %d bytes exceeds max frame size", ErrMalformed, len(body))
	}

	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// Decode reads one length-prefixed frame from r and decodes it into its
// concrete Message type. Frames larger than MaxFrameSize, truncated
// frames, and bodies with an unrecognized tag or undecodable payload all
// yield ErrMalformed.
func Decode(r io.Reader) (Message, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("%w: declared length %d", ErrMalformed, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated frame: %v", ErrMalformed, err)
		}
		return nil, err
	}

	tag := Tag(body[0])
	payload := body[1:]

	switch tag {
	case TagFileOffer:
		var m FileOffer
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: FileOffer: %v", ErrMalformed, err)
		}
		return m, nil
	case TagChunkRequest:
		var m ChunkRequest
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: ChunkRequest: %v", ErrMalformed, err)
		}
		return m, nil
	case TagChunkData:
		var m ChunkData
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: ChunkData: %v", ErrMalformed, err)
		}
		return m, nil
	case TagChunkNotFound:
		var m ChunkNotFound
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: ChunkNotFound: %v", ErrMalformed, err)
		}
		return m, nil
	case TagAck:
		var m Ack
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: Ack: %v", ErrMalformed, err)
		}
		return m, nil
	case TagError:
		var m Error
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("%w: Error: %v", ErrMalformed, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, tag)
	}
}
