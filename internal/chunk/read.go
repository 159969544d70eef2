package chunk

import (
	"fmt"
	"io"
	"os"
)

// ReadAt performs a bounded positional read of the chunk at index from the
// file at path: offset = index * Size, length = the chunk's expected
// length per the manifest.
func ReadAt(path string, m *Manifest, index uint32) ([]byte, error) {
	length, err := m.ExpectedLength(index)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	offset := int64(index) * int64(m.ChunkSize)
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read %s at %d: %v", ErrIO, path, offset, err)
	}
	return buf, nil
}
