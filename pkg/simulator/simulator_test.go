package simulator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/NERVsystems/matsimcal/pkg/monitoring"
)

func TestCommand(t *testing.T) {
	inv := Invocation{
		JVMArgs:   Fields("-Xmx40G -Xms40G -XX:+AlwaysPreTouch -XX:+UseParallelGC"),
		Jar:       "matsim-mexico-city-1.x-SNAPSHOT-047f3f0-dirty.jar",
		Config:    "/net/ils/matsim-mexico-city/input/v1.0/mexico-city-v1.0-1pct.input.config.xml",
		Args:      Fields("--1pct --income-area /net/ils/nivel_amai.shp --config:TimeAllocationMutator.mutationRange=900"),
		Overrides: []string{ConstantArg("person", "car", -0.5)},
		OutputDir: "calib/runs/000",
		RunID:     "000",
	}

	want := []string{
		"java", "-Xmx40G", "-Xms40G", "-XX:+AlwaysPreTouch", "-XX:+UseParallelGC",
		"-jar", "matsim-mexico-city-1.x-SNAPSHOT-047f3f0-dirty.jar",
		"run", "--config", "/net/ils/matsim-mexico-city/input/v1.0/mexico-city-v1.0-1pct.input.config.xml",
		"--1pct", "--income-area", "/net/ils/nivel_amai.shp", "--config:TimeAllocationMutator.mutationRange=900",
		"--config:scoring.scoringParameters[subpopulation=person].modeParams[mode=car].constant=-0.5",
		"--output", "calib/runs/000", "--runId", "000",
	}
	if got := inv.Command(); !reflect.DeepEqual(got, want) {
		t.Errorf("Command() =\n%q\nwant\n%q", got, want)
	}

	inv.Java = "/opt/jdk21/bin/java"
	if got := inv.Command()[0]; got != "/opt/jdk21/bin/java" {
		t.Errorf("Command()[0] = %q", got)
	}
}

func TestString(t *testing.T) {
	inv := Invocation{Jar: "sim.jar", Config: "my config.xml", OutputDir: "out", RunID: "1",
		Overrides: []string{ConstantArg("person", "pt", 0.25)}}
	s := inv.String()
	if !strings.HasPrefix(s, "java -jar sim.jar run --config \"my config.xml\" ") {
		t.Errorf("String() = %s", s)
	}
	if !strings.Contains(s, `"--config:scoring.scoringParameters[subpopulation=person].modeParams[mode=pt].constant=0.25"`) {
		t.Errorf("override not quoted: %s", s)
	}
}

func TestConstantArgs(t *testing.T) {
	args := ConstantArgs("person", []string{"walk", "car", "bike"}, map[string]float64{"car": -0.5, "bike": 1e-3})
	want := []string{
		"--config:scoring.scoringParameters[subpopulation=person].modeParams[mode=walk].constant=0",
		"--config:scoring.scoringParameters[subpopulation=person].modeParams[mode=car].constant=-0.5",
		"--config:scoring.scoringParameters[subpopulation=person].modeParams[mode=bike].constant=0.001",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("ConstantArgs() =\n%q\nwant\n%q", args, want)
	}
}

func TestOutputs(t *testing.T) {
	o := OutputsOf(Invocation{OutputDir: "/runs/003", RunID: "003"})
	if o.Persons() != "/runs/003/003.output_persons.csv.gz" {
		t.Errorf("Persons() = %s", o.Persons())
	}
	if o.Trips() != "/runs/003/003.output_trips.csv.gz" {
		t.Errorf("Trips() = %s", o.Trips())
	}
	if o.Plans() != "/runs/003/003.output_plans.xml.gz" {
		t.Errorf("Plans() = %s", o.Plans())
	}
}

func TestHasOverride(t *testing.T) {
	args := Fields("--1pct --config:controller.lastIteration=50")
	if !HasOverride(args, "controller.lastIteration") {
		t.Error("expected override to be found")
	}
	if HasOverride(args, "controller.last") {
		t.Error("prefix of a key must not match")
	}
}

// fakeJava writes an executable shell script standing in for java
func fakeJava(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "java")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("writing fake java: %v", err)
	}
	return path
}

func testRunner() *ProcessRunner {
	r := NewProcessRunner(slog.New(slog.NewTextHandler(&strings.Builder{}, nil)), false)
	r.GracePeriod = time.Second
	return r
}

func TestProcessRunnerSuccess(t *testing.T) {
	java := fakeJava(t, `echo "args: $*"; echo "warming up" >&2; exit 0`)
	dir := filepath.Join(t.TempDir(), "runs", "000")

	hc := monitoring.NewHealthChecker("test", "test")
	defer hc.Shutdown()
	r := testRunner()
	r.Health = hc

	inv := Invocation{Java: java, Jar: "sim.jar", Config: "c.xml", OutputDir: dir, RunID: "000"}
	if err := r.Run(context.Background(), inv); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stdoutLog, stderrLog := LogPaths(dir)
	if stdoutLog != dir+".out.log" || stderrLog != dir+".err.log" {
		t.Errorf("log paths = %q, %q", stdoutLog, stderrLog)
	}
	out, err := os.ReadFile(stdoutLog)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "args: -jar sim.jar run --config c.xml --output "+dir+" --runId 000") {
		t.Errorf("stdout log = %q", out)
	}
	errOut, err := os.ReadFile(stderrLog)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(errOut)) != "warming up" {
		t.Errorf("stderr log = %q", errOut)
	}
	if got := hc.GetHealth().Components[monitoring.ComponentSimulator].Status; got != "ok" {
		t.Errorf("simulator health = %q, want ok", got)
	}
}

func TestProcessRunnerExitCode(t *testing.T) {
	java := fakeJava(t, `echo "Exception in thread main" >&2; exit 3`)
	dir := filepath.Join(t.TempDir(), "runs", "001")

	err := testRunner().Run(context.Background(), Invocation{Java: java, Jar: "sim.jar", Config: "c.xml", OutputDir: dir, RunID: "001"})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code != 3 || exitErr.RunDir != dir {
		t.Errorf("ExitError = %+v", exitErr)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error should name the run directory: %v", err)
	}
}

func TestProcessRunnerCancel(t *testing.T) {
	java := fakeJava(t, `exec sleep 30`)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := testRunner().Run(ctx, Invocation{Java: java, Jar: "sim.jar", Config: "c.xml", OutputDir: filepath.Join(t.TempDir(), "runs", "002"), RunID: "002"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("cancellation did not stop the simulator")
	}
}

func TestProcessRunnerMissingBinary(t *testing.T) {
	err := testRunner().Run(context.Background(), Invocation{
		Java: filepath.Join(t.TempDir(), "no-java"), Jar: "sim.jar", Config: "c.xml",
		OutputDir: filepath.Join(t.TempDir(), "runs", "003"), RunID: "003",
	})
	if err == nil || !strings.Contains(err.Error(), "starting simulator") {
		t.Errorf("expected start error, got %v", err)
	}
}

// The simulator aborts when its output directory already holds files
const refuseNonEmptyOutput = `
while [ "$#" -gt 0 ]; do
  if [ "$1" = "--output" ]; then out="$2"; fi
  shift
done
if [ -e "$out" ] && [ -n "$(ls -A "$out")" ]; then
  echo "output directory $out exists and is not empty" >&2
  exit 1
fi
mkdir -p "$out" && touch "$out/output_persons.csv.gz"
`

func TestProcessRunnerStartsInEmptyOutputDir(t *testing.T) {
	java := fakeJava(t, refuseNonEmptyOutput)
	dir := filepath.Join(t.TempDir(), "runs", "000")
	inv := Invocation{Java: java, Jar: "sim.jar", Config: "c.xml", OutputDir: dir, RunID: "000"}

	if err := testRunner().Run(context.Background(), inv); err != nil {
		t.Fatalf("fresh run failed: %v", err)
	}

	// A rerun of the same trial finds the outputs of the earlier attempt
	if err := os.WriteFile(filepath.Join(dir, "partial.xml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := testRunner().Run(context.Background(), inv); err != nil {
		t.Fatalf("rerun over leftover outputs failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "partial.xml")); !os.IsNotExist(err) {
		t.Error("leftover output survived the rerun")
	}
	for _, p := range []string{dir + StdoutLogSuffix, dir + StderrLogSuffix} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing log %s: %v", p, err)
		}
	}
}
