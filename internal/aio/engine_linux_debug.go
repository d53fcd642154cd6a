//go:build linux

package aio

import "fmt"

func (e *Engine) String() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Engine | Cap: %d, Queued: %d, Inflight: %d", e.capacity, e.queued, e.inflight)
}
