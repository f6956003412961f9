package calibration

import (
	"path/filepath"
	"strconv"

	"github.com/NERVsystems/matsimcal/pkg/simulator"
)

// DefaultChainIterations caps the simulator iterations of chained runs
const DefaultChainIterations = 100

// ChainScheduler returns the extra simulator arguments of a trial given the
// previous completed trial, or nil to run from the configured input.
// previous is nil for the first trial of a study.
type ChainScheduler func(trial int, previous *Trial) []string

// DefaultChainScheduler continues every trial after the first from the
// previous run's final plans, running DefaultChainIterations iterations
func DefaultChainScheduler(trial int, previous *Trial) []string {
	return ChainEvery(DefaultChainIterations)(trial, previous)
}

// ChainEvery returns a scheduler that chains every trial after the first
// and runs it for iterations simulator iterations. The plans path is
// absolute since the simulator resolves relative paths against its config. With iterations 0 the
// config's iteration count is kept.
func ChainEvery(iterations int) ChainScheduler {
	return func(trial int, previous *Trial) []string {
		if trial == 0 || previous == nil || previous.RunDir == "" {
			return nil
		}
		plans := simulator.Outputs{Dir: previous.RunDir, RunID: previous.RunID}.Plans()
		if abs, err := filepath.Abs(plans); err == nil {
			plans = abs
		}
		args := []string{"--config:plans.inputPlansFile=" + plans}
		if iterations > 0 {
			args = append(args, "--config:controller.lastIteration="+strconv.Itoa(iterations))
		}
		return args
	}
}

// NoChain never chains runs
func NoChain(int, *Trial) []string {
	return nil
}
