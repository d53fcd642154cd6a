//go:build linux

package batch

import (
	"math"

	"github.com/cespare/xxhash"
	"github.com/negrel/assert"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"slurp/internal/aio"
)

// Request describes one whole-file read. Immutable once built; the buffer is
// on loan to the kernel from submit until the matching completion is recorded.
type Request struct {
	Path   string
	Fd     int // -1 for entries that never opened (best-effort skips)
	Buf    []byte
	Length uint32
	Offset uint64
}

// Outcome is written exactly once per request, during the drain phase (or at
// open time for best-effort skips). Bytes and Err are mutually exclusive.
type Outcome struct {
	Bytes int
	Err   error

	done bool
}

// Table is the index-stable sequence of (Request, Outcome) pairs. The index
// assigned at append time is the correlation token used to route completions
// back, so entries are never reordered or removed.
type Table struct {
	reqs    []Request
	outs    []Outcome
	closed  bool
	aborted bool

	// Submitted is the number of reads the kernel actually accepted.
	Submitted int
}

func NewTable(capacity int) *Table {
	return &Table{
		reqs: make([]Request, 0, capacity),
		outs: make([]Outcome, 0, capacity),
	}
}

// Append adds an opened request and returns its correlation token.
func (t *Table) Append(req Request) aio.Token {
	t.reqs = append(t.reqs, req)
	t.outs = append(t.outs, Outcome{})
	return aio.Token(len(t.reqs) - 1)
}

// AppendFailed adds an entry that already failed during setup. It is never
// submitted; its outcome is final immediately.
func (t *Table) AppendFailed(path string, err error) {
	t.reqs = append(t.reqs, Request{Path: path, Fd: -1})
	t.outs = append(t.outs, Outcome{Err: err, done: true})
}

func (t *Table) Len() int {
	return len(t.reqs)
}

func (t *Table) Request(i int) *Request {
	return &t.reqs[i]
}

func (t *Table) Outcome(i int) *Outcome {
	return &t.outs[i]
}

// Record routes one completion into the table. A completion must carry a
// token that is in range and not yet completed - anything else means the
// correlation layer is broken and the batch can't be trusted.
func (t *Table) Record(tok aio.Token, res int32) error {
	i := int(tok)
	if i < 0 || i >= len(t.reqs) {
		return errors.Wrapf(ErrBadToken, "token %d, table holds %d", tok, len(t.reqs))
	}
	out := &t.outs[i]
	if out.done {
		return errors.Wrapf(ErrDuplicateCompletion, "token %d (%s)", tok, t.reqs[i].Path)
	}

	if res < 0 {
		out.Err = errors.Wrapf(unix.Errno(-res), "read %s", t.reqs[i].Path)
	} else {
		out.Bytes = int(res)
	}
	out.done = true
	return nil
}

// Digest is the xxhash64 of the bytes actually read into entry i.
func (t *Table) Digest(i int) uint64 {
	req, out := &t.reqs[i], &t.outs[i]
	assert.LessOrEqual(out.Bytes, len(req.Buf), "recorded more bytes than the buffer holds")
	return xxhash.Sum64(req.Buf[:out.Bytes])
}

// Failed counts entries with a recorded error.
func (t *Table) Failed() int {
	n := 0
	for i := range t.outs {
		if t.outs[i].Err != nil {
			n++
		}
	}
	return n
}

// MarkAborted flags the batch as having died after its reads reached the
// kernel: some of them may still be in flight with no completion ever
// drained.
func (t *Table) MarkAborted() {
	t.aborted = true
}

// Close tears every entry down: fd closed, buffer unmapped, exactly once.
// On an aborted batch, entries whose completion was never drained are
// deliberately leaked - the kernel may still write into such a buffer, and
// closing its fd or unmapping it would trade a leak for corruption. Abort
// paths exit the process right after, which reclaims both anyway.
func (t *Table) Close() {
	if t.closed {
		return
	}
	t.closed = true

	for i := range t.reqs {
		req := &t.reqs[i]
		if t.aborted && req.Fd >= 0 && !t.outs[i].done {
			continue
		}
		if req.Fd >= 0 {
			unix.Close(req.Fd)
		}
		if req.Buf != nil {
			aio.DeallocSlab(req.Buf)
		}
	}
}

// openRequest does the synchronous per-file setup: open read-only, stat for
// size, allocate a buffer to hold the whole thing.
func openRequest(path string) (Request, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return Request{Fd: -1}, errors.Wrapf(err, "open %s", path)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return Request{Fd: -1}, errors.Wrapf(err, "stat %s", path)
	}
	if uint64(st.Size) > math.MaxUint32 {
		unix.Close(fd)
		return Request{Fd: -1}, errors.Wrapf(ErrFileTooLarge, "%s is %d bytes", path, st.Size)
	}

	buf, err := aio.AllocSlab(int(st.Size))
	if err != nil {
		unix.Close(fd)
		return Request{Fd: -1}, errors.Wrapf(err, "alloc %s", path)
	}

	return Request{
		Path:   path,
		Fd:     fd,
		Buf:    buf,
		Length: uint32(st.Size),
		Offset: 0,
	}, nil
}
