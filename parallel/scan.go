package parallel

import "sync"

// Combiner folds two adjacent scan elements into one. It must be
// associative and must tolerate a nil left argument (return b: nil is
// the left identity) and a nil right argument (return a: nil is the
// right identity).
type Combiner func(a, b any) any

// PrefixScan computes the inclusive prefix scan of input under
// combine, in the direction given by stride (+1 forward, -1 reverse),
// and returns a freshly allocated result of the same length.
// output[k] == input[0] combine input[1] combine ... combine input[k]
// for stride +1 (left-folded), regardless of how the work was
// partitioned across workers; stride -1 runs the same fold against
// the reversed input and reverses the result back, per the
// "reverse scan" equivalence the associative smoother relies on.
//
// There is no separate combiner-allocated-element arena to reclaim:
// combine's return values are ordinary Go values collected by the
// garbage collector once PrefixScan returns, so the "concurrent bag +
// release_all" device from the reference design is unnecessary here.
func (r *Runtime) PrefixScan(input []any, combine Combiner, stride int) []any {
	if stride != 1 && stride != -1 {
		panic("parallel: stride must be +1 or -1")
	}
	if len(input) == 0 {
		return nil
	}
	if stride == -1 {
		return reverseOf(r.scanForward(reverseOf(input), combine))
	}
	return r.scanForward(input, combine)
}

// scanForward runs a two-phase parallel inclusive scan: each partition
// folds its own elements locally (concurrently), the partitions'
// totals are folded sequentially into per-partition offsets (cheap:
// one combine call per partition), and finally each partition applies
// its offset to its local results (concurrently again).
func (r *Runtime) scanForward(input []any, combine Combiner) []any {
	n := len(input)
	out := make([]any, n)
	parts := r.partitions(n)

	if len(parts) <= 1 {
		localScan(input, combine, 0, n, out)
		return out
	}

	var wg sync.WaitGroup
	for _, p := range parts {
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			localScan(input, combine, begin, end, out)
		}(p[0], p[1])
	}
	wg.Wait()

	offsets := make([]any, len(parts))
	var running any
	for i, p := range parts {
		offsets[i] = running
		running = combine(running, out[p[1]-1])
	}

	wg = sync.WaitGroup{}
	for i, p := range parts {
		if i == 0 {
			continue // block 0's offset is the identity; nothing to apply
		}
		wg.Add(1)
		go func(begin, end int, offset any) {
			defer wg.Done()
			for k := begin; k < end; k++ {
				out[k] = combine(offset, out[k])
			}
		}(p[0], p[1], offsets[i])
	}
	wg.Wait()

	return out
}

func localScan(input []any, combine Combiner, begin, end int, out []any) {
	if begin >= end {
		return
	}
	acc := input[begin]
	out[begin] = acc
	for k := begin + 1; k < end; k++ {
		acc = combine(acc, input[k])
		out[k] = acc
	}
}

func reverseOf(in []any) []any {
	out := make([]any, len(in))
	n := len(in)
	for i, v := range in {
		out[n-1-i] = v
	}
	return out
}
