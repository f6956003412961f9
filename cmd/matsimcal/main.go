package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NERVsystems/matsimcal/pkg/calibration"
	"github.com/NERVsystems/matsimcal/pkg/config"
	"github.com/NERVsystems/matsimcal/pkg/filter"
	"github.com/NERVsystems/matsimcal/pkg/geo"
	"github.com/NERVsystems/matsimcal/pkg/monitoring"
	"github.com/NERVsystems/matsimcal/pkg/tracing"
	ver "github.com/NERVsystems/matsimcal/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool
	dryRun          bool
	configPath      string
	logFormat       string

	// Run overrides
	studyName  string
	iterations int
	javaPath   string

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string
)

func init() {
	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging and mirror simulator output")
	flag.BoolVar(&dryRun, "dry-run", false, "Print the simulator command of the next trial and exit")
	flag.StringVar(&configPath, "config", "", "HCL run file overriding the built-in Mexico City run")
	flag.StringVar(&logFormat, "log-format", "text", "Log format: text, json")

	flag.StringVar(&studyName, "name", "", "Study name (default from run file)")
	flag.IntVar(&iterations, "iterations", 0, "Number of trials to run (default from run file)")
	flag.StringVar(&javaPath, "java", "", "Java executable (default from run file)")

	flag.BoolVar(&enableMonitoring, "enable-monitoring", false, "Enable Prometheus metrics and health endpoints")
	flag.StringVar(&monitoringAddr, "monitoring-addr", ":9090", "Monitoring server address")
}

func main() {
	flag.Parse()

	if showVersionFlag {
		showVersion()
		return
	}

	logLevel := new(slog.LevelVar)
	logger, err := newLogger(os.Stderr, logFormat, logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	cfg, err := loadRun(configPath, setFlags())
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if cfg.Debug {
		logLevel.Set(slog.LevelDebug)
	}

	// SIGINT and SIGTERM stop the running simulator and the study
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry tracing
	shutdownTracing, err := tracing.InitTracing(ctx, ver.BuildVersion)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()

		if endpoint := os.Getenv("OTLP_ENDPOINT"); endpoint != "" {
			logger.Info("OpenTelemetry tracing enabled", "endpoint", endpoint)
		}
	}

	logger.Info("starting calibration",
		"version", ver.BuildVersion,
		"log_level", logLevel.Level().String(),
		"study", cfg.Name,
		"modes", cfg.Modes,
		"fixed_mode", cfg.FixedMode,
		"iterations", cfg.Iterations,
		"monitoring_enabled", enableMonitoring)

	if err := run(ctx, cfg, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("calibration interrupted", "error", err)
		} else {
			logger.Error("calibration failed", "error", err)
		}
		os.Exit(1)
	}
}

// run loads the study area, builds the filters and the calibrator and runs
// or previews the study
func run(ctx context.Context, cfg *config.Run, logger *slog.Logger) error {
	boundary, err := geo.Load(ctx, cfg.Boundary.Path, cfg.Boundary.CRS, cfg.PersonsCRS, logger)
	if err != nil {
		return fmt.Errorf("loading study area: %w", err)
	}

	var healthChecker *monitoring.HealthChecker
	if enableMonitoring && !dryRun {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
		defer healthChecker.Shutdown()

		stopMonitors := startComponentMonitoring(healthChecker, cfg)
		defer stopMonitors()

		srv := startMonitoringServer(ctx, healthChecker, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown monitoring server", "error", err)
			}
		}()
	}

	calibrator := calibration.NewASCCalibrator(cfg.Modes, cfg.FixedMode, initialValues(cfg), cfg.Target,
		calibration.LinearScheduler(cfg.LearningRate.Start, cfg.LearningRate.Interval))

	study, obj, err := calibration.CreateCalibration(cfg.Name, calibrator, cfg.Simulator.Jar, cfg.Simulator.Config, calibration.Options{
		Java:             cfg.Simulator.Java,
		Args:             cfg.Simulator.Args,
		JVMArgs:          cfg.Simulator.JVMArgs,
		Subpopulation:    cfg.Subpopulation,
		TransformPersons: filter.NewSpatialPersonFilter(boundary, logger),
		TransformTrips:   filter.NewModeTripFilter(cfg.Modes),
		ChainRuns:        calibration.ChainEvery(cfg.Chain.Iterations),
		Debug:            cfg.Debug,
		Logger:           logger,
		Health:           healthChecker,
	})
	if err != nil {
		return err
	}

	if dryRun {
		inv, err := obj.NextInvocation(study)
		if err != nil {
			return err
		}
		fmt.Println(inv.String())
		return nil
	}

	return study.Optimize(ctx, obj, cfg.Iterations)
}

// newLogger returns a logger writing format to w
func newLogger(w io.Writer, format string, level slog.Leveler) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// overrides are the run settings given on the command line
type overrides struct {
	name       *string
	iterations *int
	java       *string
	debug      *bool
}

// setFlags collects the flags that were set explicitly
func setFlags() overrides {
	var o overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			o.name = &studyName
		case "iterations":
			o.iterations = &iterations
		case "java":
			o.java = &javaPath
		case "debug":
			o.debug = &debug
		}
	})
	return o
}

// loadRun returns the default run, or the run file at path, with o applied
// and validated
func loadRun(path string, o overrides) (*config.Run, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if o.name != nil {
		cfg.Name = *o.name
	}
	if o.iterations != nil {
		cfg.Iterations = *o.iterations
	}
	if o.java != nil {
		cfg.Simulator.Java = *o.java
	}
	if o.debug != nil {
		cfg.Debug = *o.debug
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initialValues returns the starting constant of every calibrated mode
func initialValues(cfg *config.Run) map[string]float64 {
	initial := make(map[string]float64, len(cfg.Modes))
	for _, m := range cfg.CalibratedModes() {
		initial[m] = cfg.InitialValue(m)
	}
	return initial
}

// startMonitoringServer serves metrics and health until ctx is done
func startMonitoringServer(ctx context.Context, hc *monitoring.HealthChecker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", hc.Handler())

	srv := &http.Server{
		Addr:              monitoringAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("starting monitoring server", "addr", monitoringAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("monitoring server error", "error", err)
		}
	}()
	return srv
}

// startComponentMonitoring watches the simulator jar and the study
// directory and returns a function stopping the monitors
func startComponentMonitoring(hc *monitoring.HealthChecker, cfg *config.Run) func() {
	jarMonitor := monitoring.NewComponentMonitor(monitoring.ComponentJar, hc, func() error {
		_, err := os.Stat(cfg.Simulator.Jar)
		return err
	}, time.Minute)
	jarMonitor.Start()

	java := cfg.Simulator.Java
	javaMonitor := monitoring.NewComponentMonitor(monitoring.ComponentJava, hc, func() error {
		_, err := exec.LookPath(java)
		return err
	}, time.Minute)
	javaMonitor.Start()

	studyMonitor := monitoring.NewComponentMonitor(monitoring.ComponentStudyDir, hc, func() error {
		dir := filepath.Join(".", cfg.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, ".probe-*")
		if err != nil {
			return err
		}
		f.Close()
		return os.Remove(f.Name())
	}, time.Minute)
	studyMonitor.Start()

	return func() {
		jarMonitor.Stop()
		javaMonitor.Stop()
		studyMonitor.Stop()
	}
}

// showVersion displays version information
func showVersion() {
	fmt.Println(ver.String())
}
