// Package parallel implements the three primitives the associative
// engine drives work through: ranged for-each, a two-context ranged
// for-each, and an inclusive prefix scan with a user-supplied
// associative combiner. Each primitive splits [0, n) into at most
// Workers contiguous partitions and runs one goroutine per partition,
// synchronised with a WaitGroup.
package parallel

import (
	"runtime"
	"sync"
)

// Config carries the process-wide tunables the runtime is built with:
// an explicit struct rather than package-level state, so a program can
// run more than one runtime with different limits.
type Config struct {
	// Workers caps the number of goroutines used to drive a range or
	// scan. Workers == 1 runs everything on the calling goroutine;
	// NewRuntime replaces a non-positive value with the library default.
	Workers int
	// BlockSize is the minimum amount of work handed to a single
	// partition; ranges shorter than BlockSize*2 never fan out.
	BlockSize int
}

// DefaultConfig returns the library default tunables: one worker per
// logical CPU and a block size of 64.
func DefaultConfig() Config {
	return Config{Workers: runtime.GOMAXPROCS(0), BlockSize: 64}
}

// Runtime executes the three parallel primitives under a fixed
// worker-count and block-size policy.
type Runtime struct {
	cfg Config
}

// NewRuntime creates a Runtime from cfg, substituting the library
// default for any non-positive field.
func NewRuntime(cfg Config) *Runtime {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = def.BlockSize
	}
	return &Runtime{cfg: cfg}
}

// partitions splits [0, n) into up to workers contiguous ranges of at
// least BlockSize elements each (the last partition absorbs the
// remainder).
func (r *Runtime) partitions(n int) [][2]int {
	if n <= 0 {
		return nil
	}
	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if n <= r.cfg.BlockSize || workers == 1 {
		return [][2]int{{0, n}}
	}
	if max := n / r.cfg.BlockSize; workers > max {
		workers = max
	}
	if workers < 1 {
		workers = 1
	}

	parts := make([][2]int, 0, workers)
	chunk := n / workers
	begin := 0
	for i := 0; i < workers; i++ {
		end := begin + chunk
		if i == workers-1 {
			end = n
		}
		parts = append(parts, [2]int{begin, end})
		begin = end
	}
	return parts
}

// ForEachRange invokes fn(begin, end) once per partition of [0, n),
// running partitions concurrently when the runtime has more than one
// worker and n is large enough to be worth splitting.
func (r *Runtime) ForEachRange(n int, fn func(begin, end int)) {
	parts := r.partitions(n)
	if len(parts) <= 1 {
		for _, p := range parts {
			fn(p[0], p[1])
		}
		return
	}

	var wg sync.WaitGroup
	for _, p := range parts {
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			fn(begin, end)
		}(p[0], p[1])
	}
	wg.Wait()
}

// ForEachRangeTwo is ForEachRange over two independent functions that
// share the same partitioning of [0, n); fn and fn2 run concurrently
// with each other within a partition as well as across partitions.
func (r *Runtime) ForEachRangeTwo(n int, fn, fn2 func(begin, end int)) {
	parts := r.partitions(n)
	if len(parts) <= 1 {
		for _, p := range parts {
			fn(p[0], p[1])
			fn2(p[0], p[1])
		}
		return
	}

	var wg sync.WaitGroup
	for _, p := range parts {
		wg.Add(2)
		go func(begin, end int) {
			defer wg.Done()
			fn(begin, end)
		}(p[0], p[1])
		go func(begin, end int) {
			defer wg.Done()
			fn2(begin, end)
		}(p[0], p[1])
	}
	wg.Wait()
}
