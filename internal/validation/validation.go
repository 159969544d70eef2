// Package validation holds the small set of input-boundary checks run by
// the CLI and daemon entrypoints, by config.Config, and by the registry's
// Offer call (the one check reached from inside the Manager's event loop,
// when an operator offer is handled). Nothing under internal/chunk,
// internal/wire, internal/session, internal/transfer, or internal/peer
// depends on this package: those are only ever reached with arguments the
// boundary has already validated.
package validation

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

var ErrEmptyString = errors.New("value must not be empty")

// ValidateStringNonEmpty rejects an empty string, e.g. a storage root
// that was never set.
func ValidateStringNonEmpty(s string) error {
	if s == "" {
		return ErrEmptyString
	}
	return nil
}

var ErrOutOfRange = errors.New("value out of range")

// ValidateRangeInt rejects v outside the closed interval [min, max].
func ValidateRangeInt(v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfRange, v, min, max)
	}
	return nil
}

var (
	ErrInvalidPath   = errors.New("invalid file path")
	ErrPathNotExists = errors.New("path does not exist")
)

// ValidateFilePath cleans p and rejects it if empty; when mustExist is
// true it additionally confirms the cleaned path resolves to something on
// disk. Used both for a locally offered upload and, by the CLI, for its
// own PATH argument before it ever dials a peer.
func ValidateFilePath(p string, mustExist bool) error {
	if p == "" {
		return ErrInvalidPath
	}
	clean := filepath.Clean(p)
	if !mustExist {
		return nil
	}
	if _, err := os.Stat(clean); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPathNotExists, clean, err)
	}
	return nil
}

var ErrInvalidAddr = errors.New("invalid network address")

// ValidateAddr confirms addr parses as a host:port pair. It backs both
// listen addresses (corelinkd's QUIC and metrics listeners) and dial
// addresses (the CLI's --peer); QUIC runs over UDP but shares TCP's
// host:port syntax, so resolving as TCP is sufficient to catch a
// malformed address before it ever reaches quic-go.
func ValidateAddr(addr string) error {
	if addr == "" {
		return ErrInvalidAddr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAddr, addr, err)
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAddr, addr, err)
	}
	return nil
}
