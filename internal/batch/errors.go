//go:build linux

package batch

import "github.com/pkg/errors"

var (
	// ErrBadToken: a completion carried a token outside the table.
	ErrBadToken = errors.New("completion token out of range")

	// ErrDuplicateCompletion: a completion carried a token whose entry was
	// already recorded.
	ErrDuplicateCompletion = errors.New("duplicate completion for token")

	// ErrFileTooLarge: a single-shot read length has to fit in the SQE's
	// 32-bit length field. We don't split reads.
	ErrFileTooLarge = errors.New("file too large for a single-shot read")
)
