//go:build linux

package batch

import (
	"log/slog"
	"time"

	"slurp/internal/aio"
)

type Policy uint8

const (
	// FailFast aborts the whole batch on the first open/stat/alloc failure,
	// before anything is submitted.
	FailFast Policy = iota
	// BestEffort records the failure as that entry's outcome and reads the
	// rest of the batch anyway.
	BestEffort
)

type Config struct {
	Policy       Policy
	DrainTimeout time.Duration // max wait per completion, zero waits forever
}

// Runner drives one batch end to end: open everything, stage one read per
// file, flush once, then drain exactly as many completions as were flushed.
// One control thread; the overlap comes from the kernel, not from goroutines.
type Runner struct {
	log slog.Logger
	cfg Config
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		log: *slog.With("src", "batch"),
		cfg: cfg,
	}
}

// Run reads every path into memory through the ring. The returned table is
// non-nil even on a fatal error so the caller can tear down whatever was
// opened; a nil error means every phase ran, though individual entries may
// still hold per-file read errors.
func (r *Runner) Run(paths []string) (*Table, error) {
	table := NewTable(len(paths))
	if len(paths) == 0 {
		// nothing to submit, nothing to drain
		return table, nil
	}

	// one ring slot per input file, no multiplexing
	eng, err := aio.Create(uint32(len(paths)))
	if err != nil { return table, err }
	defer eng.Close()

	if err := eng.CheckReadSupport(); err != nil {
		return table, err
	}

	for _, path := range paths {
		req, err := openRequest(path)
		if err != nil {
			if r.cfg.Policy == FailFast {
				return table, err
			}
			r.log.Warn("skipping file", "path", path, "err", err)
			table.AppendFailed(path, err)
			continue
		}
		table.Append(req)
	}

	// capacity was sized to the input count, so a full queue here is a bug,
	// not an operational condition
	staged := uint(0)
	for i := range table.Len() {
		req := table.Request(i)
		if req.Fd < 0 {
			continue
		}
		if err := eng.Submit(req.Fd, req.Buf, req.Length, req.Offset, aio.Token(i)); err != nil {
			return table, err
		}
		staged++
	}

	flushed, err := eng.Flush()
	if err != nil {
		// a short submit may have put an unknown subset in flight
		table.MarkAborted()
		return table, err
	}
	table.Submitted = int(flushed)
	r.log.Debug("flushed", "count", flushed, "staged", staged)

	for range flushed {
		var tok aio.Token
		var res int32
		if r.cfg.DrainTimeout > 0 {
			tok, res, err = eng.DrainOneTimeout(r.cfg.DrainTimeout)
		} else {
			tok, res, err = eng.DrainOne()
		}
		if err != nil {
			table.MarkAborted()
			return table, err
		}
		if err := table.Record(tok, res); err != nil {
			table.MarkAborted()
			return table, err
		}
		r.log.Debug("completion", "token", uint64(tok), "res", res)
	}

	return table, nil
}
