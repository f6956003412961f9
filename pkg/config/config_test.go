package config

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	run := Default()
	if err := run.Validate(); err != nil {
		t.Fatalf("default run should validate, got %v", err)
	}

	// EOD2017 shares are rounded and add up to 1.0001
	if got := run.TargetSum(); math.Abs(got-1.0001) > 1e-9 {
		t.Errorf("TargetSum() = %v, want 1.0001", got)
	}
}

func TestCalibratedModes(t *testing.T) {
	got := Default().CalibratedModes()
	want := []string{"car", "taxibus", "pt", "bike"}
	if len(got) != len(want) {
		t.Fatalf("CalibratedModes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CalibratedModes()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInitialValue(t *testing.T) {
	run := Default()
	tests := []struct {
		mode string
		want float64
	}{
		{"walk", 0},
		{"car", -0.5},
		{"bike", 0},
		{"unlisted", 0},
	}
	for _, tt := range tests {
		if got := run.InitialValue(tt.mode); got != tt.want {
			t.Errorf("InitialValue(%q) = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *Run)
		code   string
	}{
		{"empty modes", func(r *Run) { r.Modes = nil }, ErrEmptyModes},
		{"duplicate mode", func(r *Run) { r.Modes = append(r.Modes, "car") }, ErrDuplicateMode},
		{"fixed mode not listed", func(r *Run) { r.FixedMode = "ride" }, ErrFixedMode},
		{"fixed mode in initial", func(r *Run) { r.Initial["walk"] = 0.1 }, ErrFixedModeInitial},
		{"unknown initial", func(r *Run) { r.Initial["plane"] = 1 }, ErrUnknownMode},
		{"unknown target", func(r *Run) { r.Target["plane"] = 0 }, ErrUnknownMode},
		{"negative target", func(r *Run) { r.Target["bike"] = -0.01; r.Target["pt"] += 0.02 }, ErrNegativeTarget},
		{"target above one", func(r *Run) { r.Target["pt"] = 1.2 }, ErrTargetRange},
		{"NaN target", func(r *Run) { r.Target["pt"] = math.NaN() }, ErrTargetRange},
		{"targets far from one", func(r *Run) { r.Target["pt"] = 0.9 }, ErrTargetSum},
		{"no iterations", func(r *Run) { r.Iterations = 0 }, ErrInvalidParameter},
		{"no boundary", func(r *Run) { r.Boundary.Path = "" }, ErrMissingParameter},
		{"no jar", func(r *Run) { r.Simulator.Jar = "" }, ErrMissingParameter},
		{"bad learning rate", func(r *Run) { r.LearningRate.Interval = 0 }, ErrInvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := Default()
			tt.modify(run)
			err := run.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if verr.Code != tt.code {
				t.Errorf("code = %s, want %s (%v)", verr.Code, tt.code, err)
			}
		})
	}
}

func TestValidateAcceptsRoundedTargets(t *testing.T) {
	run := Default()
	run.TargetTolerance = 0.0001
	if err := run.Validate(); err != nil {
		t.Errorf("targets summing to 1.0001 should pass a 0.0001 tolerance: %v", err)
	}

	run.TargetTolerance = 0
	if err := run.Validate(); err == nil {
		t.Error("zero tolerance should reject targets summing to 1.0001")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := ValidationError{Code: "X", Message: "bad", Guidance: "fix it"}
	if got := err.Error(); got != "X: bad. fix it" {
		t.Errorf("Error() = %q", got)
	}
	err.Guidance = ""
	if got := err.Error(); got != "X: bad" {
		t.Errorf("Error() = %q", got)
	}
}
