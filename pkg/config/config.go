// Package config holds the run configuration of an ASC calibration: the
// modes under calibration, initial constants, target mode shares, the study
// area and how the simulator is invoked.
//
// Default returns the Mexico City 1pct run. A run file in HCL (see LoadFile)
// overrides any subset of it.
package config

import (
	"math"
	"slices"

	"github.com/samber/lo"
)

const (
	// DefaultTargetTolerance is the accepted deviation of the target sum from 1
	DefaultTargetTolerance = 0.01

	// DefaultPersonsCRS is the reference system of home_x/home_y in the
	// simulator's person output
	DefaultPersonsCRS = "EPSG:4485"
)

// Run is the complete configuration of one calibration run
type Run struct {
	// Name of the study; also the directory holding runs and trial history
	Name string

	// Modes under calibration, in order
	Modes []string

	// FixedMode is the reference mode whose constant is held at zero
	FixedMode string

	// Initial constant per mode. Modes missing here start at zero.
	Initial map[string]float64

	// Target mode share per mode
	Target map[string]float64

	// TargetTolerance is the allowed |sum(Target) - 1|
	TargetTolerance float64

	// Iterations of the optimizer
	Iterations int

	// Debug mirrors simulator output and keeps verbose logs
	Debug bool

	// Subpopulation whose scoring parameters are calibrated
	Subpopulation string

	// PersonsCRS is the reference system of home coordinates
	PersonsCRS string

	Boundary     Boundary
	Simulator    Simulator
	LearningRate LearningRate
	Chain        Chain
}

// Boundary locates the study area
type Boundary struct {
	// Path to a .shp or .geojson file
	Path string

	// CRS used when the file carries no reference system of its own
	CRS string
}

// Simulator describes the external simulator process
type Simulator struct {
	Java    string
	Jar     string
	Config  string
	Args    string
	JVMArgs string
}

// LearningRate parametrizes the linear learning rate schedule
type LearningRate struct {
	Start    float64
	Interval int
}

// Chain parametrizes chained runs
type Chain struct {
	// Iterations of the simulator for every run after the first
	Iterations int
}

// Default returns the configuration of the Mexico City calibration
func Default() *Run {
	return &Run{
		Name:      "calib",
		Modes:     []string{"walk", "car", "taxibus", "pt", "bike"},
		FixedMode: "walk",
		Initial: map[string]float64{
			"bike":    0,
			"pt":      -0.5,
			"car":     -0.5,
			"taxibus": -0.5,
		},
		// EOD2017 modal split
		Target: map[string]float64{
			"walk":    0.1868,
			"car":     0.1829,
			"taxibus": 0.2942,
			"pt":      0.3259,
			"bike":    0.0103,
		},
		TargetTolerance: DefaultTargetTolerance,
		Iterations:      10,
		Debug:           true,
		Subpopulation:   "person",
		PersonsCRS:      DefaultPersonsCRS,
		Boundary: Boundary{
			Path: "/net/ils/matsim-mexico-city/input/v1.0/cityArea/cityArea_cdmx_utm12n.shp",
			CRS:  DefaultPersonsCRS,
		},
		Simulator: Simulator{
			Java:    "java",
			Jar:     "matsim-mexico-city-1.x-SNAPSHOT-047f3f0-dirty.jar",
			Config:  "/net/ils/matsim-mexico-city/input/v1.0/mexico-city-v1.0-1pct.input.config.xml",
			Args:    "--1pct --income-area /net/ils/matsim-mexico-city/input/v1.0/nivel_amai/nivel_amai.shp --config:TimeAllocationMutator.mutationRange=900",
			JVMArgs: "-Xmx40G -Xms40G -XX:+AlwaysPreTouch -XX:+UseParallelGC",
		},
		LearningRate: LearningRate{
			Start:    0.3,
			Interval: 15,
		},
		Chain: Chain{
			Iterations: 100,
		},
	}
}

// CalibratedModes returns the modes whose constants are optimized
func (r *Run) CalibratedModes() []string {
	return lo.Filter(r.Modes, func(m string, _ int) bool {
		return m != r.FixedMode
	})
}

// InitialValue returns the starting constant of a mode
func (r *Run) InitialValue(mode string) float64 {
	if mode == r.FixedMode {
		return 0
	}
	return r.Initial[mode]
}

// TargetSum returns the sum of all target shares
func (r *Run) TargetSum() float64 {
	return lo.Sum(lo.Values(r.Target))
}

// Validate checks the invariants between modes, initial values and targets
func (r *Run) Validate() error {
	if len(r.Modes) == 0 {
		return invalid(ErrEmptyModes, "List at least one mode", "no modes configured")
	}
	for _, m := range r.Modes {
		if m == "" {
			return invalid(ErrInvalidParameter, "Remove the empty entry from modes", "empty mode name")
		}
	}
	if dups := lo.FindDuplicates(r.Modes); len(dups) > 0 {
		return invalid(ErrDuplicateMode, "Each mode may appear once", "duplicate modes %v", dups)
	}
	if !slices.Contains(r.Modes, r.FixedMode) {
		return invalid(ErrFixedMode, "The fixed mode must be one of the configured modes",
			"fixed mode %q not in modes %v", r.FixedMode, r.Modes)
	}

	for _, m := range sortedKeys(r.Initial) {
		if m == r.FixedMode {
			return invalid(ErrFixedModeInitial, "Remove the fixed mode from the initial values",
				"fixed mode %q has an initial value", m)
		}
		if !slices.Contains(r.Modes, m) {
			return invalid(ErrUnknownMode, "Initial values may only name configured modes",
				"initial value for unknown mode %q", m)
		}
	}

	for _, m := range sortedKeys(r.Target) {
		if !slices.Contains(r.Modes, m) {
			return invalid(ErrUnknownMode, "Targets may only name configured modes",
				"target for unknown mode %q", m)
		}
		switch v := r.Target[m]; {
		case v < 0:
			return invalid(ErrNegativeTarget, "Targets are shares between 0 and 1",
				"target for %q is %v", m, v)
		case v > 1 || math.IsNaN(v):
			return invalid(ErrTargetRange, "Targets are shares between 0 and 1",
				"target for %q is %v", m, v)
		}
	}
	if r.TargetTolerance < 0 {
		return invalid(ErrInvalidParameter, "Use a non-negative tolerance", "target tolerance is %v", r.TargetTolerance)
	}
	if sum := r.TargetSum(); math.Abs(sum-1) > r.TargetTolerance {
		return invalid(ErrTargetSum, "Target shares must add up to approximately 1",
			"targets sum to %.4f (tolerance %.4f)", sum, r.TargetTolerance)
	}

	if r.Iterations <= 0 {
		return invalid(ErrInvalidParameter, "Run at least one iteration", "iterations is %d", r.Iterations)
	}
	if r.Name == "" {
		return invalid(ErrMissingParameter, "Set a study name", "name is empty")
	}
	if r.Boundary.Path == "" {
		return invalid(ErrMissingParameter, "Point boundary.path at the study area", "no boundary file")
	}
	if r.PersonsCRS == "" {
		return invalid(ErrMissingParameter, "Set persons_crs", "no reference system for home coordinates")
	}
	if r.Simulator.Jar == "" || r.Simulator.Config == "" {
		return invalid(ErrMissingParameter, "Set simulator.jar and simulator.config", "simulator jar or config missing")
	}
	if r.LearningRate.Start <= 0 || r.LearningRate.Interval <= 0 {
		return invalid(ErrInvalidParameter, "The learning rate needs a positive start and interval",
			"learning rate start=%v interval=%d", r.LearningRate.Start, r.LearningRate.Interval)
	}
	if r.Chain.Iterations < 0 {
		return invalid(ErrInvalidParameter, "Use 0 to keep the config's iterations", "chain iterations is %d", r.Chain.Iterations)
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
