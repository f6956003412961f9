package tracing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys for calibration spans
const (
	// Study and trial attributes
	AttrStudyName   = "calib.study.name"
	AttrTrialNumber = "calib.trial.number"
	AttrTrialStatus = "calib.trial.status"
	AttrObjective   = "calib.trial.objective"
	AttrLearnRate   = "calib.trial.learning_rate"
	AttrChained     = "calib.trial.chained"
	AttrPlanned     = "calib.study.planned_trials"
	AttrCompleted   = "calib.study.completed_trials"

	// Simulator attributes
	AttrRunID     = "matsim.run.id"
	AttrRunDir    = "matsim.run.dir"
	AttrExitCode  = "matsim.run.exit_code"
	AttrIteration = "matsim.run.iterations"

	// Study area attributes
	AttrBoundaryPath = "geo.boundary.path"
	AttrCRS          = "geo.crs"

	// Table and filter attributes
	AttrTablePath   = "table.path"
	AttrTableRows   = "table.rows"
	AttrFilterName  = "filter.name"
	AttrRowsIn      = "filter.rows_in"
	AttrRowsOut     = "filter.rows_out"
	AttrCacheHit    = "analysis.cache.hit"
	AttrModePrefix  = "calib.mode."
	AttrErrorType   = "error.type"
	AttrErrorDetail = "error.message"
)

// Status values
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// TrialAttributes returns attributes for one optimizer trial
func TrialAttributes(study string, number int, lr float64, chained bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStudyName, study),
		attribute.Int(AttrTrialNumber, number),
		attribute.Float64(AttrLearnRate, lr),
		attribute.Bool(AttrChained, chained),
	}
}

// ModeAttributes returns one attribute per mode, keyed calib.mode.<mode>,
// sorted by mode
func ModeAttributes(values map[string]float64) []attribute.KeyValue {
	modes := make([]string, 0, len(values))
	for m := range values {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	attrs := make([]attribute.KeyValue, 0, len(modes))
	for _, m := range modes {
		attrs = append(attrs, attribute.Float64(AttrModePrefix+m, values[m]))
	}
	return attrs
}

// FilterAttributes returns attributes for a row filter
func FilterAttributes(name string, in, out int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrFilterName, name),
		attribute.Int(AttrRowsIn, in),
		attribute.Int(AttrRowsOut, out),
	}
}

// ErrorAttributes returns the type and message of err. Cancellations are
// typed "canceled"; other errors by the innermost wrapped type.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, errorType(err)),
		attribute.String(AttrErrorDetail, err.Error()),
	}
}

func errorType(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusCanceled
	}
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return fmt.Sprintf("%T", err)
		}
		err = inner
	}
}
