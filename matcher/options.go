package matcher

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ProgressFunc receives the number of finished and total units of work. Calls are
// serialized, but may come from any goroutine.
type ProgressFunc func(done, total int)

// Option tunes the parallel builders.
type Option func(*options)

type options struct {
	workers   int
	blockSize int
	progress  ProgressFunc
}

const defaultBlockSize = 1 << 15

// WithWorkers caps the number of goroutines. Zero or less uses GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithBlockSize sets how many frames a single work unit covers.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

func resolveOptions(opts []Option) options {
	o := options{blockSize: defaultBlockSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// span is a half-open frame range [lo, hi) of one row.
type span struct {
	row, lo, hi int
}

// runSpans splits rows x frames into blocks and runs fn over them with at most
// o.workers goroutines. fn must only write state owned by its span.
func runSpans(ctx context.Context, rows, frames int, o options, fn func(span)) error {
	total := rows * frames
	var (
		mu   sync.Mutex
		done int
	)
	report := func(n int) {
		if o.progress == nil {
			return
		}
		mu.Lock()
		done += n
		o.progress(done, total)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for r := 0; r < rows; r++ {
		for lo := 0; lo < frames; lo += o.blockSize {
			if err := gctx.Err(); err != nil {
				_ = g.Wait()
				return err
			}
			s := span{row: r, lo: lo, hi: min(lo+o.blockSize, frames)}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				fn(s)
				report(s.hi - s.lo)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
