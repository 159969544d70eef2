package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// CompressRanges renders an ascending slice of chunk indexes as a compact
// range string, e.g. []uint32{0,1,2,7,9,10} -> "0-2,7,9-10". It assumes
// the common case produced by ascending-order scheduling; indexes need not
// be contiguous but should already be sorted.
func CompressRanges(indexes []uint32) string {
	if len(indexes) == 0 {
		return ""
	}

	var b strings.Builder
	start := indexes[0]
	prev := indexes[0]

	flush := func(s, e uint32) {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if s == e {
			fmt.Fprintf(&b, "%d", s)
		} else {
			fmt.Fprintf(&b, "%d-%d", s, e)
		}
	}

	for _, idx := range indexes[1:] {
		if idx == prev+1 {
			prev = idx
			continue
		}
		flush(start, prev)
		start, prev = idx, idx
	}
	flush(start, prev)

	return b.String()
}

// ExpandRanges is the inverse of CompressRanges.
func ExpandRanges(s string) ([]uint32, error) {
	if s == "" {
		return nil, nil
	}

	var out []uint32
	for _, part := range strings.Split(s, ",") {
		bounds := strings.SplitN(part, "-", 2)
		switch len(bounds) {
		case 1:
			v, err := strconv.ParseUint(bounds[0], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("wire: invalid range %q: %w", part, err)
			}
			out = append(out, uint32(v))
		case 2:
			start, err := strconv.ParseUint(bounds[0], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("wire: invalid range %q: %w", part, err)
			}
			end, err := strconv.ParseUint(bounds[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("wire: invalid range %q: %w", part, err)
			}
			for v := start; v <= end; v++ {
				out = append(out, uint32(v))
			}
		}
	}
	return out, nil
}
