package transfer

import (
	"time"

	"github.com/corelink/node/internal/chunk"
	"github.com/corelink/node/internal/session"
)

// offerCmd asks the Manager to register a local file and broadcast it to
// every connected peer, reported back on result.
type offerCmd struct {
	path   string
	result chan<- offerResult
}

type offerResult struct {
	fileID chunk.FileID
	err    error
}

// cancelCmd asks the Manager to cancel a download session.
type cancelCmd struct {
	fileID chunk.FileID
	result chan<- error
}

// progressCmd asks the Manager to report a download session's status.
type progressCmd struct {
	fileID chunk.FileID
	result chan<- progressResult
}

type progressResult struct {
	found   bool
	status  session.Status
	reason  session.FailureReason
	percent int
	rate    float64
	eta     time.Duration
}
