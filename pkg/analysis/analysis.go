// Package analysis computes simulated mode shares and their distance to the
// target shares.
package analysis

import (
	"fmt"
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/NERVsystems/matsimcal/pkg/table"
)

// Column names used by the analysis
const (
	ColumnPerson   = "person"
	ColumnMainMode = "main_mode"
	ColumnModes    = "modes"
)

// Result is the evaluation of one simulator run
type Result struct {
	// Shares per calibrated mode; modes without trips have share 0
	Shares map[string]float64 `json:"shares"`

	// Errors per mode, share minus target
	Errors map[string]float64 `json:"errors"`

	// Objective is the sum of absolute errors
	Objective float64 `json:"objective"`

	// RMSE over all modes
	RMSE float64 `json:"rmse"`

	// Trips counted and persons retained
	Trips   int `json:"trips"`
	Persons int `json:"persons"`
}

// Shares counts trips per mode over modes. Trips with other modes are
// ignored.
func Shares(trips *table.Table, modes []string) (map[string]float64, int, error) {
	mc, err := trips.Col(ColumnMainMode)
	if err != nil {
		return nil, 0, err
	}
	counts := lo.CountValues(lo.Map(trips.Rows, func(r []string, _ int) string { return r[mc] }))

	total := 0
	for _, m := range modes {
		total += counts[m]
	}
	shares := make(map[string]float64, len(modes))
	for _, m := range modes {
		if total > 0 {
			shares[m] = float64(counts[m]) / float64(total)
		} else {
			shares[m] = 0
		}
	}
	return shares, total, nil
}

// RestrictToPersons keeps the trips of persons present in persons. When
// either table lacks a person column trips are returned unchanged.
func RestrictToPersons(persons, trips *table.Table) *table.Table {
	if !persons.Has(ColumnPerson) || !trips.Has(ColumnPerson) {
		return trips
	}
	ids, _ := persons.Column(ColumnPerson)
	keep := lo.SliceToMap(ids, func(id string) (string, struct{}) { return id, struct{}{} })
	tc, _ := trips.Col(ColumnPerson)
	return trips.Where(func(r []string) bool {
		_, ok := keep[r[tc]]
		return ok
	})
}

// Evaluate compares the mode shares of already filtered outputs with target
func Evaluate(persons, trips *table.Table, modes []string, target map[string]float64) (*Result, error) {
	trips = RestrictToPersons(persons, trips)
	shares, n, err := Shares(trips, modes)
	if err != nil {
		return nil, fmt.Errorf("computing shares: %w", err)
	}

	errs := make(map[string]float64, len(modes))
	var abs, sq float64
	for _, m := range modes {
		e := shares[m] - target[m]
		errs[m] = e
		abs += math.Abs(e)
		sq += e * e
	}
	rmse := 0.0
	if len(modes) > 0 {
		rmse = math.Sqrt(sq / float64(len(modes)))
	}
	return &Result{
		Shares:    shares,
		Errors:    errs,
		Objective: abs,
		RMSE:      rmse,
		Trips:     n,
		Persons:   persons.Len(),
	}, nil
}

// Worst returns the mode with the largest absolute error
func (r *Result) Worst() (string, float64) {
	modes := lo.Keys(r.Errors)
	slices.Sort(modes)
	var worst string
	var e float64
	for _, m := range modes {
		if worst == "" || math.Abs(r.Errors[m]) > math.Abs(e) {
			worst, e = m, r.Errors[m]
		}
	}
	return worst, e
}
