// Package calibration drives the search for alternative-specific constants
// that make simulated mode shares match target shares.
//
// A Study is a sequence of trials. Each trial runs the simulator once with
// a set of constants, filters its outputs and measures the share error.
// The ASCCalibrator derives the constants of the next trial from the
// shares of the previous one.
package calibration

import (
	"math"

	"github.com/samber/lo"
)

// minShare bounds shares and targets away from zero inside the log update
const minShare = 1e-4

// LearningRate returns the step size of the update following trial
type LearningRate func(trial int) float64

// LinearScheduler decays the rate linearly from start to start/interval
// over interval trials and holds it there afterwards
func LinearScheduler(start float64, interval int) LearningRate {
	if interval <= 0 {
		return ConstantRate(start)
	}
	end := start / float64(interval)
	return func(trial int) float64 {
		if trial >= interval {
			return end
		}
		if trial < 0 {
			trial = 0
		}
		return start - (start-end)*float64(trial)/float64(interval)
	}
}

// ConstantRate always returns rate
func ConstantRate(rate float64) LearningRate {
	return func(int) float64 { return rate }
}

// ASCCalibrator holds the modes, their starting constants, the target
// shares and the learning rate schedule
type ASCCalibrator struct {
	modes     []string
	fixedMode string
	initial   map[string]float64
	target    map[string]float64
	lr        LearningRate
}

// NewASCCalibrator creates a calibrator. initial and target are copied.
// The constant of fixedMode is held at zero.
func NewASCCalibrator(modes []string, fixedMode string, initial, target map[string]float64, lr LearningRate) *ASCCalibrator {
	if lr == nil {
		lr = ConstantRate(1)
	}
	return &ASCCalibrator{
		modes:     append([]string(nil), modes...),
		fixedMode: fixedMode,
		initial:   lo.Assign(initial),
		target:    lo.Assign(target),
		lr:        lr,
	}
}

// Modes returns all modes, including the fixed one
func (c *ASCCalibrator) Modes() []string {
	return append([]string(nil), c.modes...)
}

// CalibratedModes returns the modes whose constants are changed
func (c *ASCCalibrator) CalibratedModes() []string {
	return lo.Without(c.modes, c.fixedMode)
}

// FixedMode returns the reference mode
func (c *ASCCalibrator) FixedMode() string {
	return c.fixedMode
}

// Target returns a copy of the target shares
func (c *ASCCalibrator) Target() map[string]float64 {
	return lo.Assign(c.target)
}

// LearningRate returns the step size after trial
func (c *ASCCalibrator) LearningRate(trial int) float64 {
	return c.lr(trial)
}

// Init returns the constants of the first trial
func (c *ASCCalibrator) Init() map[string]float64 {
	params := make(map[string]float64, len(c.modes))
	for _, m := range c.CalibratedModes() {
		params[m] = c.initial[m]
	}
	return params
}

// Next returns the constants following a trial that used params and
// produced shares. Each calibrated constant moves by
// lr(trial) * ln(target / share).
func (c *ASCCalibrator) Next(trial int, params, shares map[string]float64) map[string]float64 {
	lr := c.lr(trial)
	next := make(map[string]float64, len(params))
	for _, m := range c.CalibratedModes() {
		share := math.Max(shares[m], minShare)
		target := math.Max(c.target[m], minShare)
		next[m] = params[m] + lr*math.Log(target/share)
	}
	return next
}
