package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/matsimcal/pkg/analysis"
	"github.com/NERVsystems/matsimcal/pkg/filter"
	"github.com/NERVsystems/matsimcal/pkg/monitoring"
	"github.com/NERVsystems/matsimcal/pkg/simulator"
	"github.com/NERVsystems/matsimcal/pkg/table"
	"github.com/NERVsystems/matsimcal/pkg/tracing"
)

// Options configures CreateCalibration
type Options struct {
	// Java executable; "java" when empty
	Java string

	// Args and JVMArgs are white space separated argument strings
	Args    string
	JVMArgs string

	// Subpopulation whose mode constants are set; "person" when empty
	Subpopulation string

	TransformPersons filter.PersonFilter
	TransformTrips   filter.TripFilter

	// ChainRuns decides chaining; NoChain when nil
	ChainRuns ChainScheduler

	// Debug mirrors simulator output to the logger
	Debug bool

	// BaseDir holds the study directory; the working directory when empty.
	// The study directory is made absolute.
	BaseDir string

	// Runner overrides the simulator process runner
	Runner simulator.Runner

	Logger *slog.Logger
	Health *monitoring.HealthChecker
}

// Objective evaluates trials: it runs the simulator with a trial's
// constants and measures the share error of the filtered outputs
type Objective struct {
	study      string
	calibrator *ASCCalibrator
	jar        string
	config     string
	java       string
	args       []string
	jvmArgs    []string
	subpop     string
	persons    filter.PersonFilter
	trips      filter.TripFilter
	chain      ChainScheduler
	runner     simulator.Runner
	cache      *analysis.Cache
	logger     *slog.Logger
}

// CreateCalibration opens the study name and returns it with the objective
// that runs jar with config
func CreateCalibration(name string, calibrator *ASCCalibrator, jar, config string, opts Options) (*Study, *Objective, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if calibrator == nil {
		return nil, nil, fmt.Errorf("calibration %s: no calibrator", name)
	}

	// The simulator resolves relative input paths against its config file
	dir, err := filepath.Abs(filepath.Join(opts.BaseDir, name))
	if err != nil {
		return nil, nil, fmt.Errorf("calibration %s: %w", name, err)
	}
	study, err := OpenStudy(name, dir, logger)
	if err != nil {
		return nil, nil, err
	}
	study.health = opts.Health

	cache, err := analysis.NewCache(analysis.DefaultCacheSize)
	if err != nil {
		return nil, nil, err
	}

	obj := &Objective{
		study:      name,
		calibrator: calibrator,
		jar:        jar,
		config:     config,
		java:       opts.Java,
		args:       simulator.Fields(opts.Args),
		jvmArgs:    simulator.Fields(opts.JVMArgs),
		subpop:     opts.Subpopulation,
		persons:    opts.TransformPersons,
		trips:      opts.TransformTrips,
		chain:      opts.ChainRuns,
		runner:     opts.Runner,
		cache:      cache,
		logger:     logger,
	}
	if obj.subpop == "" {
		obj.subpop = "person"
	}
	idPersons, idTrips := filter.Identity()
	if obj.persons == nil {
		obj.persons = idPersons
	}
	if obj.trips == nil {
		obj.trips = idTrips
	}
	if obj.chain == nil {
		obj.chain = NoChain
	}
	if obj.runner == nil {
		r := simulator.NewProcessRunner(logger, opts.Debug)
		r.Health = opts.Health
		obj.runner = r
	}

	monitoring.SetTargets(calibrator.Target())
	return study, obj, nil
}

// Plan returns the next trial of study with its constants and run
// directory. The trial has no result yet.
func (o *Objective) Plan(s *Study) (Trial, error) {
	n := len(s.Trials)
	t := Trial{
		Number: n,
		RunID:  fmt.Sprintf("%03d", n),
	}
	t.RunDir = filepath.Join(s.Dir, "runs", t.RunID)

	prev := s.Last()
	if prev == nil {
		t.Params = o.calibrator.Init()
	} else {
		if prev.Result == nil {
			return Trial{}, fmt.Errorf("trial %d has no result", prev.Number)
		}
		t.Params = o.calibrator.Next(prev.Number, prev.Params, prev.Result.Shares)
		t.LearningRate = o.calibrator.LearningRate(prev.Number)
	}
	t.Chained = len(o.chain(n, prev)) > 0
	return t, nil
}

// Invocation returns the simulator invocation of trial t following previous
func (o *Objective) Invocation(t Trial, previous *Trial) simulator.Invocation {
	overrides := simulator.ConstantArgs(o.subpop, o.calibrator.CalibratedModes(), t.Params)
	overrides = append(overrides, o.chain(t.Number, previous)...)
	return simulator.Invocation{
		Java:      o.java,
		JVMArgs:   o.jvmArgs,
		Jar:       o.jar,
		Config:    o.config,
		Args:      o.args,
		Overrides: overrides,
		OutputDir: t.RunDir,
		RunID:     t.RunID,
	}
}

// NextInvocation plans the next trial of s and returns its invocation
// without running it
func (o *Objective) NextInvocation(s *Study) (simulator.Invocation, error) {
	t, err := o.Plan(s)
	if err != nil {
		return simulator.Invocation{}, err
	}
	return o.Invocation(t, s.Last()), nil
}

// Evaluate runs trial t and returns the evaluation of its outputs.
// previous must be the trial preceding t, or nil.
func (o *Objective) Evaluate(ctx context.Context, t Trial, previous *Trial) (*analysis.Result, error) {
	ctx, span := tracing.StartSpan(ctx, "calibration.trial")
	defer span.End()
	span.SetAttributes(tracing.TrialAttributes(o.study, t.Number, t.LearningRate, t.Chained)...)
	span.SetAttributes(tracing.ModeAttributes(t.Params)...)

	o.logger.Info("starting trial", "trial", t.Number, "params", t.Params, "chained", t.Chained)
	inv := o.Invocation(t, previous)
	if err := o.runner.Run(ctx, inv); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	result, hit, err := o.cache.GetOrCompute(t.RunDir, func() (*analysis.Result, error) {
		return o.evaluateOutputs(ctx, simulator.OutputsOf(inv))
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool(tracing.AttrCacheHit, hit),
		attribute.Float64(tracing.AttrObjective, result.Objective),
	)
	return result, nil
}

// evaluateOutputs reads, filters and measures the outputs of a run
func (o *Objective) evaluateOutputs(ctx context.Context, out simulator.Outputs) (*analysis.Result, error) {
	var persons, trips *table.Table
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := table.ReadFile(gctx, out.Persons(), o.logger)
		if err != nil {
			return fmt.Errorf("reading persons of %s: %w", out.Dir, err)
		}
		persons, err = o.persons.FilterPersons(gctx, t)
		if err != nil {
			return fmt.Errorf("filtering persons of %s: %w", out.Dir, err)
		}
		return nil
	})
	g.Go(func() error {
		t, err := table.ReadFile(gctx, out.Trips(), o.logger)
		if err != nil {
			return fmt.Errorf("reading trips of %s: %w", out.Dir, err)
		}
		if t, err = analysis.WithMainMode(t); err != nil {
			return fmt.Errorf("trips of %s: %w", out.Dir, err)
		}
		trips, err = o.trips.FilterTrips(gctx, t)
		if err != nil {
			return fmt.Errorf("filtering trips of %s: %w", out.Dir, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return analysis.Evaluate(persons, trips, o.calibrator.Modes(), o.calibrator.Target())
}
