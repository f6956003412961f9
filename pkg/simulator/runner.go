package simulator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/matsimcal/pkg/monitoring"
	"github.com/NERVsystems/matsimcal/pkg/tracing"
)

// Suffixes of the log files written next to the run directory. The
// simulator refuses to start in a non-empty output directory.
const (
	StdoutLogSuffix = ".out.log"
	StderrLogSuffix = ".err.log"
)

// LogPaths returns the stdout and stderr logs of the run in dir
func LogPaths(dir string) (stdout, stderr string) {
	dir = filepath.Clean(dir)
	return dir + StdoutLogSuffix, dir + StderrLogSuffix
}

// Runner runs one simulator invocation to completion
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// ProcessRunner runs the simulator as a child process
type ProcessRunner struct {
	// Debug mirrors every output line to the logger
	Debug bool

	// GracePeriod between SIGTERM and SIGKILL on cancellation
	GracePeriod time.Duration

	// ProgressInterval throttles "simulator running" logs when not in debug
	ProgressInterval time.Duration

	Logger *slog.Logger

	// Health, when set, receives the simulator status
	Health *monitoring.HealthChecker
}

// NewProcessRunner returns a runner with default timings
func NewProcessRunner(logger *slog.Logger, debug bool) *ProcessRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessRunner{
		Debug:            debug,
		GracePeriod:      30 * time.Second,
		ProgressInterval: time.Minute,
		Logger:           logger,
	}
}

// ExitError is returned when the simulator exits unsuccessfully
type ExitError struct {
	RunDir string
	Code   int
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("simulator failed in %s (exit code %d): %v", e.RunDir, e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Run starts the simulator and waits for it. Output goes to log files next
// to the run directory; a leftover run directory from an interrupted run is
// removed first. Cancelling ctx terminates the process.
func (r *ProcessRunner) Run(ctx context.Context, inv Invocation) (err error) {
	ctx, span := tracing.StartSpan(ctx, "simulator.run")
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrRunID, inv.RunID),
		attribute.String(tracing.AttrRunDir, inv.OutputDir),
	)

	logger := r.Logger.With("run_id", inv.RunID)
	if err := prepareRunDir(inv.OutputDir, logger); err != nil {
		return err
	}
	stdoutPath, stderrPath := LogPaths(inv.OutputDir)
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return fmt.Errorf("creating simulator log: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return fmt.Errorf("creating simulator log: %w", err)
	}
	defer stderr.Close()

	argv := inv.Command()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.GracePeriod

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		monitoring.RecordSimulatorRun(time.Since(start), err == nil)
		if err != nil {
			r.setStatus("error", err)
			tracing.RecordError(ctx, err)
			monitoring.RecordError("simulator", errorType(err))
			return
		}
		r.setStatus("ok", nil)
	}()

	logger.Info("starting simulator", "dir", inv.OutputDir, "command", inv.String())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting simulator: %w", err)
	}
	r.setStatus("running", nil)

	progress := &rate.Sometimes{Interval: r.ProgressInterval}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pump(outPipe, stdout, logger, progress)
	}()
	go func() {
		defer wg.Done()
		r.pump(errPipe, stderr, logger, progress)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		span.SetAttributes(attribute.Int(tracing.AttrExitCode, code))
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Warn("simulator cancelled", "duration", elapsed)
			return fmt.Errorf("simulator in %s: %w", inv.OutputDir, ctxErr)
		}
		logger.Error("simulator failed", "exit_code", code, "duration", elapsed,
			"stderr", stderrPath)
		return &ExitError{RunDir: inv.OutputDir, Code: code, Err: waitErr}
	}

	span.SetAttributes(attribute.Int(tracing.AttrExitCode, 0))
	tracing.SetStatus(ctx, codes.Ok, "")
	logger.Info("simulator finished", "duration", elapsed)
	return nil
}

// prepareRunDir removes a leftover run directory and creates its parent
func prepareRunDir(dir string, logger *slog.Logger) error {
	if _, err := os.Stat(dir); err == nil {
		logger.Warn("removing leftover run directory", "dir", dir)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing leftover run directory: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(dir)), 0o755); err != nil {
		return fmt.Errorf("creating runs directory: %w", err)
	}
	return nil
}

// pump copies a pipe line by line into a log file
func (r *ProcessRunner) pump(src io.Reader, dst io.Writer, logger *slog.Logger, progress *rate.Sometimes) {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		fmt.Fprintln(dst, line)
		if r.Debug {
			logger.Debug("simulator", "line", line)
			continue
		}
		progress.Do(func() {
			logger.Info("simulator running", "last_line", line)
		})
	}
	if err := sc.Err(); err != nil {
		logger.Warn("reading simulator output", "error", err)
		_, _ = io.Copy(dst, src)
	}
}

func (r *ProcessRunner) setStatus(status string, err error) {
	if r.Health != nil {
		r.Health.UpdateComponent(monitoring.ComponentSimulator, status, 0, err)
	}
}

func errorType(err error) string {
	var exitErr *ExitError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.As(err, &exitErr):
		return "exit"
	default:
		return "start"
	}
}
