//go:build linux

package aio

import (
	"log/slog"
	"syscall"
	"time"
	"unsafe"

	"github.com/aethne0/giouring"
	"github.com/negrel/assert"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const MMAP_MODE = unix.MAP_ANON | unix.MAP_PRIVATE
const MMAP_PROT = unix.PROT_READ | unix.PROT_WRITE

// Read buffers, not io_uring itself - the ring library handles mmap-ing for its
// own setup. This allocation will be aligned to the system page size (check using:
// `getconf PAGESIZE`. This will basically always be 0x1000 (4096))
func AllocSlab(size int) ([]byte, error) {
	if size < 1 {
		// zero-length files still need a valid address to hang a read off
		size = 1
	}
	raw, err := unix.Mmap(-1, 0, size, MMAP_PROT, MMAP_MODE)
	if err != nil {
		slog.Error("AllocSlab", "err", err)
	}
	return raw, err
}

func DeallocSlab(ptr []byte) error {
	err := unix.Munmap(ptr)
	if err != nil {
		slog.Error("DeallocSlab", "err", err)
	}
	return err
}

// Token rides through the kernel in SQE/CQE UserData and is the only way to
// attribute a completion back to its request. It carries a request-table index,
// never a byte count or a pointer.
type Token uint64

// Engine owns one io_uring instance sized to a fixed number of concurrent
// whole-file reads. Single control thread: submit all, flush once, then reap.
// Completions come back in whatever order the kernel likes.
type Engine struct {
	log      slog.Logger
	ring     *giouring.Ring
	capacity uint32
	queued   uint // SQEs prepared but not yet handed to the kernel
	inflight uint // handed to the kernel, completion not yet reaped
}

func Create(capacity uint32) (*Engine, error) {
	log := *slog.With("src", "aio")

	if capacity == 0 { return nil, errors.New("ring capacity must be at least 1") }

	ring, err := giouring.CreateRing(capacity)
	if err != nil { return nil, errors.Wrap(err, "ring create") }

	eng := Engine {
		log: 		log,
		ring: 		ring,
		capacity: 	capacity,
	}

	return &eng, nil
}

// One-time probe for the non-vectored read opcode. Old kernels only speak
// readv; we don't carry a readv fallback.
func (e *Engine) CheckReadSupport() error {
	probe, err := giouring.GetProbe()
	if err != nil { return errors.Wrap(err, "probe") }
	if !probe.IsSupported(giouring.OpRead) {
		return ErrReadUnsupported
	}
	return nil
}

// Submit stages one whole-file read. Nothing reaches the kernel until Flush.
// buf is on loan to the kernel from here until the matching completion is
// reaped - the caller must not free or touch it in that window.
func (e *Engine) Submit(fd int, buf []byte, nbytes uint32, offset uint64, tok Token) error {
	sqe := e.ring.GetSQE()
	if sqe == nil {
		return errors.Wrapf(ErrQueueFull, "submit token %d", tok)
	}

	var bufp uintptr
	if len(buf) > 0 {
		bufp = uintptr(unsafe.Pointer(&buf[0]))
	}
	sqe.PrepareRead(fd, bufp, nbytes, offset)
	sqe.UserData = uint64(tok)

	e.queued++
	assert.LessOrEqual(e.queued+e.inflight, uint(e.capacity), "ring accounting drifted")
	return nil
}

// Flush hands every staged SQE to the kernel in one bulk operation. Accepting
// fewer than staged is fatal to the batch: the missing operations would never
// produce completions and the drain phase would hang waiting on them.
func (e *Engine) Flush() (uint, error) {
	if e.queued == 0 { return 0, nil }

	want := e.queued
	submitted, err := e.ring.Submit()
	if err != nil && err != unix.EINTR {
		return submitted, errors.Wrap(err, "submit")
	}
	e.queued -= submitted
	e.inflight += submitted

	if submitted < want {
		return submitted, errors.Wrapf(ErrShortSubmit, "kernel accepted %d of %d", submitted, want)
	}
	return submitted, nil
}

func (e *Engine) Pending() uint {
	return e.inflight
}

// DrainOne blocks until the oldest available completion arrives and reaps it.
// A negative res is a failed read, which is a valid outcome - only a failure
// of the wait machinery itself comes back as an error.
func (e *Engine) DrainOne() (Token, int32, error) {
	return e.drainOne(0)
}

// DrainOneTimeout is DrainOne with a bound on the wait. ErrTimedOut is
// distinct from a completion carrying an error code; a timed-out batch cannot
// be resumed, its slot never produced a completion.
func (e *Engine) DrainOneTimeout(timeout time.Duration) (Token, int32, error) {
	return e.drainOne(timeout)
}

func (e *Engine) drainOne(timeout time.Duration) (Token, int32, error) {
	if e.inflight == 0 {
		// draining more than was flushed would park us in the kernel forever
		return 0, 0, ErrNothingInFlight
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		cqe, err := e.ring.PeekCQE()
		if err == unix.EAGAIN || err == unix.EINTR || err == unix.ETIME {
			// nothing reaped yet - park in the kernel until one arrives
			// (this also submits, but the staging queue is empty post-Flush)
			if timeout > 0 {
				remain := time.Until(deadline)
				if remain <= 0 {
					return 0, 0, errors.Wrapf(ErrTimedOut, "with %d in flight", e.inflight)
				}
				stime := syscall.NsecToTimespec(remain.Nanoseconds())
				var sigset unix.Sigset_t
				_, werr := e.ring.SubmitAndWaitTimeout(1, &stime, &sigset)
				if werr != nil && werr != unix.ETIME && werr != unix.EINTR {
					return 0, 0, errors.Wrap(werr, "wait cqe")
				}
			} else {
				_, werr := e.ring.SubmitAndWait(1)
				if werr != nil && werr != unix.EINTR {
					return 0, 0, errors.Wrap(werr, "wait cqe")
				}
			}
			continue
		} else if err != nil {
			return 0, 0, errors.Wrap(err, "peek cqe")
		}

		if cqe == nil {
			// im pretty sure this should never happen
			e.log.Warn("cqe == nil but we didnt get an err (eagain)?")
			continue
		}

		tok := Token(cqe.UserData)
		res := cqe.Res
		// acknowledge before returning or the slot is never reclaimed and the
		// ring eventually stalls
		e.ring.CQESeen(cqe)
		e.inflight--

		return tok, res, nil
	}
}

// Close releases the ring's kernel resources. Only call once every flushed
// submission has been drained, or on the fully-aborted-batch path.
func (e *Engine) Close() {
	e.ring.QueueExit()
}
