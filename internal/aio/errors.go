//go:build linux

package aio

import "github.com/pkg/errors"

var (
	// ErrQueueFull: no free submission slot; the ring was sized smaller than
	// the number of staged operations.
	ErrQueueFull = errors.New("submission ring is full")

	// ErrReadUnsupported: the running kernel has no IORING_OP_READ.
	ErrReadUnsupported = errors.New("kernel does not support non-vectored io_uring read")

	// ErrShortSubmit: the kernel accepted fewer SQEs than were staged.
	ErrShortSubmit = errors.New("short submit")

	// ErrNothingInFlight: a drain was requested with zero flushed submissions
	// outstanding.
	ErrNothingInFlight = errors.New("nothing in flight")

	// ErrTimedOut: no completion arrived within the drain deadline.
	ErrTimedOut = errors.New("timed out waiting for a completion")
)
