// Command ultimatekalman drives the reference rotation scenario
// through one (or, with --compare, all four) of the library's Kalman
// algorithm variants and reports the resulting trajectory, the way
// the teacher's examples/ekf/ekf.go drives a model end to end.
package main

import (
	"fmt"
	"log"

	ultimatekalman "github.com/milosgajdos/ultimatekalman"
	"github.com/milosgajdos/ultimatekalman/internal/reference"
	"github.com/milosgajdos/ultimatekalman/matrix"
	"github.com/milosgajdos/ultimatekalman/parallel"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

var (
	algorithmFlag string
	nthreadsFlag  int
	blocksizeFlag int
	plotFlag      string
	compareFlag   bool
	randomFlag    bool
)

func main() {
	root := &cobra.Command{
		Use:   "ultimatekalman",
		Short: "Run the reference rotation scenario through a Kalman algorithm variant",
		RunE:  run,
	}
	root.Flags().StringVar(&algorithmFlag, "algorithm", "ultimate", "ultimate|conventional|oddeven|associative")
	root.Flags().IntVar(&nthreadsFlag, "nthreads", -1, "worker count for the parallel runtime (-1 = library default)")
	root.Flags().IntVar(&blocksizeFlag, "blocksize", -1, "partition block size for the parallel runtime (-1 = library default)")
	root.Flags().StringVar(&plotFlag, "plot", "", "write a trajectory plot PNG to this path")
	root.Flags().BoolVar(&compareFlag, "compare", false, "run all four algorithms and report their maximum disagreement")
	root.Flags().BoolVar(&randomFlag, "random", false, "draw fresh evolution/observation deviates instead of the fixed reference table")

	if err := root.Execute(); err != nil {
		log.Fatalf("ultimatekalman: %v", err)
	}
}

func parallelConfig() parallel.Config {
	cfg := parallel.Config{}
	if nthreadsFlag > 0 {
		cfg.Workers = nthreadsFlag
	}
	if blocksizeFlag > 0 {
		cfg.BlockSize = blocksizeFlag
	}
	return cfg
}

func run(cmd *cobra.Command, args []string) error {
	scenario := reference.New()
	if randomFlag {
		s, err := reference.Random()
		if err != nil {
			return fmt.Errorf("ultimatekalman: random scenario: %w", err)
		}
		scenario = s
	}

	if compareFlag {
		return runCompare(scenario)
	}

	algo, err := parseAlgorithm(algorithmFlag)
	if err != nil {
		return err
	}

	states, err := runScenario(scenario, algo, parallelConfig())
	if err != nil {
		return err
	}

	for i, s := range states {
		log.Printf("step %2d: truth=%v observed=%v estimate=%v", i,
			matrix.Format(scenario.Truth[i]), matrix.Format(scenario.Observations[i]), matrix.Format(s))
	}

	if plotFlag != "" {
		if err := writePlot(scenario, states, plotFlag); err != nil {
			return fmt.Errorf("ultimatekalman: plot: %w", err)
		}
	}
	return nil
}

func parseAlgorithm(name string) (ultimatekalman.Algorithm, error) {
	switch name {
	case "ultimate":
		return ultimatekalman.Ultimate, nil
	case "conventional":
		return ultimatekalman.Conventional, nil
	case "oddeven":
		return ultimatekalman.OddEven, nil
	case "associative":
		return ultimatekalman.Associative, nil
	default:
		return 0, fmt.Errorf("ultimatekalman: unknown --algorithm %q", name)
	}
}

// runScenario drives scenario through algo and returns the smoothed
// state estimate for every step.
func runScenario(scenario *reference.Scenario, algo ultimatekalman.Algorithm, cfg parallel.Config) ([]*mat.VecDense, error) {
	k, err := ultimatekalman.Create(algo, cfg)
	if err != nil {
		return nil, err
	}

	if err := k.Evolve(2, nil, nil, nil, matrix.Factor{}); err != nil {
		return nil, err
	}
	if err := k.Observe(scenario.G, colOf(scenario.Observations[0]), scenario.Cov); err != nil {
		return nil, err
	}
	for i := 1; i < reference.Steps; i++ {
		if err := k.Evolve(2, nil, scenario.F, matrix.Zeros(2, 1), scenario.K); err != nil {
			return nil, err
		}
		if err := k.Observe(scenario.G, colOf(scenario.Observations[i]), scenario.Cov); err != nil {
			return nil, err
		}
	}
	if err := k.Smooth(); err != nil {
		return nil, err
	}

	out := make([]*mat.VecDense, reference.Steps)
	for i := range out {
		s, err := k.Estimate(i)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// runCompare runs all four algorithms over the same scenario and
// reports the maximum relative disagreement between their smoothed
// states, operationalising the cross-algorithm agreement invariant.
func runCompare(scenario *reference.Scenario) error {
	algos := []ultimatekalman.Algorithm{
		ultimatekalman.Ultimate, ultimatekalman.Conventional,
		ultimatekalman.OddEven, ultimatekalman.Associative,
	}

	results := make([][]*mat.VecDense, len(algos))
	for i, algo := range algos {
		states, err := runScenario(scenario, algo, parallelConfig())
		if err != nil {
			return fmt.Errorf("ultimatekalman: %s: %w", algo, err)
		}
		results[i] = states
	}

	maxDiff := 0.0
	for a := 1; a < len(algos); a++ {
		for step := 0; step < reference.Steps; step++ {
			for j := 0; j < results[0][step].Len(); j++ {
				base := results[0][step].AtVec(j)
				other := results[a][step].AtVec(j)
				diff := relDiff(base, other)
				if diff > maxDiff {
					maxDiff = diff
				}
			}
		}
	}

	log.Printf("maximum relative disagreement across %s vs the rest: %.3e", algos[0], maxDiff)
	return nil
}

func relDiff(a, b float64) float64 {
	denom := a
	if denom < 0 {
		denom = -denom
	}
	if denom < 1e-12 {
		denom = 1e-12
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff / denom
}

func colOf(v *mat.VecDense) *mat.Dense {
	n := v.Len()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, v.AtVec(i))
	}
	return out
}
