package wire

import (
	"bytes"
	"testing"

	"github.com/corelink/node/internal/chunk"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		FileOffer{Manifest: chunk.Manifest{
			FileID:      "abc123",
			FileName:    "hi.txt",
			TotalSize:   16,
			ChunkSize:   chunk.Size,
			ChunkCount:  1,
			ChunkHashes: []chunk.Hash{{1, 2, 3}},
		}},
		ChunkRequest{FileID: "abc123", Indexes: []uint32{0, 1, 2}},
		ChunkData{FileID: "abc123", Index: 0, Bytes: []byte("hello"), Hash: chunk.Hash{9}},
		ChunkNotFound{FileID: "abc123", Index: 2},
		Ack{FileID: "abc123", Index: 0},
		Error{Code: ErrCodeMalformed, Text: "bad frame"},
	}

	for _, msg := range cases {
		var buf bytes.Buffer
		if err := Encode(&buf, msg); err != nil {
			t.Fatalf("Encode(%T): %v", msg, err)
		}
		decoded, err := Decode(&buf)
		if err != nil {
			t.Fatalf("Decode(%T): %v", msg, err)
		}
		if decoded.tag() != msg.tag() {
			t.Errorf("tag mismatch: got %d want %d", decoded.tag(), msg.tag())
		}
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	header[0] = 0xFF // length far beyond MaxFrameSize
	buf.Write(header[:])
	if _, err := Decode(&buf); err == nil {
		t.Error("expected an error for an oversized declared length")
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, Ack{FileID: "f", Index: 0}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-2]
	if _, err := Decode(bytes.NewReader(truncated)); err == nil {
		t.Error("expected an error for a truncated frame")
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, Ack{FileID: "f", Index: 0}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	raw := buf.Bytes()
	raw[4] = 0x7F // corrupt the tag byte just after the 4-byte length prefix
	if _, err := Decode(bytes.NewReader(raw)); err == nil {
		t.Error("expected an error for an unrecognized tag")
	}
}

func TestCompressExpandRanges(t *testing.T) {
	in := []uint32{0, 1, 2, 3, 7, 9, 10}
	got := CompressRanges(in)
	want := "0-3,7,9-10"
	if got != want {
		t.Fatalf("CompressRanges = %q, want %q", got, want)
	}
	out, err := ExpandRanges(got)
	if err != nil {
		t.Fatalf("ExpandRanges: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("ExpandRanges length = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("ExpandRanges[%d] = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestExpandRangesEmpty(t *testing.T) {
	out, err := ExpandRanges("")
	if err != nil {
		t.Fatalf("ExpandRanges: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no indexes, got %v", out)
	}
}

func TestExpandRangesInvalid(t *testing.T) {
	if _, err := ExpandRanges("not-a-range"); err == nil {
		t.Error("expected an error for a malformed range string")
	}
	// SplitN(..., 2) leaves "2-3" as the second bound, which fails to parse.
	if _, err := ExpandRanges("1-2-3"); err == nil {
		t.Error("expected an error for a malformed range string")
	}
}
