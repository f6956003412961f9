package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/matsimcal/pkg/analysis"
	"github.com/NERVsystems/matsimcal/pkg/monitoring"
	"github.com/NERVsystems/matsimcal/pkg/tracing"
)

// HistoryFile is the name of the trial history inside the study directory
const HistoryFile = "trials.json"

// Trial is one completed simulator run and its evaluation
type Trial struct {
	Number int `json:"number"`

	// Params are the constants of the calibrated modes
	Params map[string]float64 `json:"params"`

	// LearningRate is the step that produced Params; zero for the first trial
	LearningRate float64 `json:"learning_rate,omitempty"`

	RunID   string `json:"run_id"`
	RunDir  string `json:"run_dir"`
	Chained bool   `json:"chained"`

	Result *analysis.Result `json:"result"`

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Study is the ordered trial history of one calibration
type Study struct {
	Name string
	Dir  string

	Trials []Trial

	logger *slog.Logger
	health *monitoring.HealthChecker
}

// OpenStudy opens the study in dir, loading its trial history when present
func OpenStudy(name, dir string, logger *slog.Logger) (*Study, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Study{Name: name, Dir: dir, logger: logger}

	data, err := os.ReadFile(s.historyPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading trial history: %w", err)
	}
	if err := json.Unmarshal(data, &s.Trials); err != nil {
		return nil, fmt.Errorf("decoding trial history %s: %w", s.historyPath(), err)
	}
	for i, t := range s.Trials {
		if t.Number != i || t.Result == nil {
			return nil, fmt.Errorf("trial history %s: entry %d is not a completed trial %d", s.historyPath(), i, t.Number)
		}
	}
	if len(s.Trials) > 0 {
		best, _ := s.Best()
		logger.Info("resuming study", "name", name, "completed", len(s.Trials), "best_trial", best.Number, "best_objective", best.Result.Objective)
	}
	return s, nil
}

func (s *Study) historyPath() string {
	return filepath.Join(s.Dir, HistoryFile)
}

// Last returns the most recent trial, or nil
func (s *Study) Last() *Trial {
	if len(s.Trials) == 0 {
		return nil
	}
	return &s.Trials[len(s.Trials)-1]
}

// Best returns the trial with the lowest objective
func (s *Study) Best() (Trial, bool) {
	if len(s.Trials) == 0 {
		return Trial{}, false
	}
	return lo.MinBy(s.Trials, func(a, b Trial) bool {
		return a.Result.Objective < b.Result.Objective
	}), true
}

// record appends a completed trial and persists the history
func (s *Study) record(t Trial) error {
	s.Trials = append(s.Trials, t)
	return s.save()
}

func (s *Study) save() error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating study directory: %w", err)
	}
	data, err := json.MarshalIndent(s.Trials, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.historyPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing trial history: %w", err)
	}
	if err := os.Rename(tmp, s.historyPath()); err != nil {
		return fmt.Errorf("writing trial history: %w", err)
	}
	return nil
}

// Optimize runs n further trials of obj. Completed trials are kept when a
// later one fails or ctx is cancelled.
func (s *Study) Optimize(ctx context.Context, obj *Objective, n int) error {
	ctx, span := tracing.StartSpan(ctx, "calibration.optimize")
	defer span.End()

	planned := len(s.Trials) + n
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrStudyName, s.Name),
		attribute.Int(tracing.AttrCompleted, len(s.Trials)),
		attribute.Int(tracing.AttrPlanned, planned),
	)
	s.logger.Info("starting optimization", "study", s.Name, "trials", n, "completed", len(s.Trials))

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		trial, err := obj.Plan(s)
		if err != nil {
			return err
		}

		start := time.Now()
		result, err := obj.Evaluate(ctx, trial, s.Last())
		duration := time.Since(start)
		monitoring.RecordTrial(duration, err == nil)
		if err != nil {
			tracing.RecordError(ctx, err)
			s.logger.Error("trial failed", "trial", trial.Number, "run_dir", trial.RunDir, "error", err)
			return fmt.Errorf("trial %d: %w", trial.Number, err)
		}

		trial.Result = result
		trial.Started = start
		trial.Duration = duration
		if err := s.record(trial); err != nil {
			return err
		}

		tracing.AddEvent(ctx, "trial.completed", trace.WithAttributes(
			attribute.Int(tracing.AttrTrialNumber, trial.Number),
			attribute.Float64(tracing.AttrObjective, result.Objective),
		))

		best, _ := s.Best()
		worst, worstErr := result.Worst()
		monitoring.RecordTrialResult(result.Objective, result.Shares, trial.Params)
		if s.health != nil {
			s.health.SetStudyProgress(monitoring.StudyProgress{
				Name:      s.Name,
				Trial:     trial.Number,
				Planned:   planned,
				Objective: result.Objective,
				Best:      best.Result.Objective,
			})
		}
		s.logger.Info("trial finished",
			"trial", trial.Number,
			"objective", round(result.Objective),
			"rmse", round(result.RMSE),
			"worst_mode", worst,
			"worst_error", round(worstErr),
			"best_trial", best.Number,
			"duration", duration.Round(time.Second))
	}

	if best, ok := s.Best(); ok {
		s.logger.Info("optimization finished", "study", s.Name, "best_trial", best.Number,
			"best_objective", round(best.Result.Objective), "params", best.Params)
	}
	tracing.SetStatus(ctx, codes.Ok, "")
	return nil
}

func round(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
