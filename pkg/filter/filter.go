// Package filter restricts simulator output tables before mode shares are
// computed: persons to those living inside the study area and trips to the
// modes under calibration.
//
// Filters capture their state when they are built and are pure afterwards;
// applying a filter to its own output returns the same rows.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/NERVsystems/matsimcal/pkg/monitoring"
	"github.com/NERVsystems/matsimcal/pkg/table"
	"github.com/NERVsystems/matsimcal/pkg/tracing"
)

// Column names of MATSim output tables
const (
	ColumnHomeX    = "home_x"
	ColumnHomeY    = "home_y"
	ColumnMainMode = "main_mode"
)

// PersonFilter restricts the person table
type PersonFilter interface {
	FilterPersons(ctx context.Context, persons *table.Table) (*table.Table, error)
}

// TripFilter restricts the trip table
type TripFilter interface {
	FilterTrips(ctx context.Context, trips *table.Table) (*table.Table, error)
}

// PersonFunc adapts a function to PersonFilter
type PersonFunc func(ctx context.Context, persons *table.Table) (*table.Table, error)

// FilterPersons calls f
func (f PersonFunc) FilterPersons(ctx context.Context, persons *table.Table) (*table.Table, error) {
	return f(ctx, persons)
}

// TripFunc adapts a function to TripFilter
type TripFunc func(ctx context.Context, trips *table.Table) (*table.Table, error)

// FilterTrips calls f
func (f TripFunc) FilterTrips(ctx context.Context, trips *table.Table) (*table.Table, error) {
	return f(ctx, trips)
}

// Area answers whether a point lies in the study area. *geo.Boundary
// implements it.
type Area interface {
	Intersects(x, y float64) bool
}

// SpatialPersonFilter keeps persons whose home lies inside or on the edge
// of an area
type SpatialPersonFilter struct {
	area   Area
	logger *slog.Logger
}

// NewSpatialPersonFilter returns a filter over area. The area must be
// expressed in the reference system of the home coordinates.
func NewSpatialPersonFilter(area Area, logger *slog.Logger) *SpatialPersonFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpatialPersonFilter{area: area, logger: logger}
}

// FilterPersons returns the persons living in the area. Every row needs
// numeric home_x and home_y.
func (f *SpatialPersonFilter) FilterPersons(ctx context.Context, persons *table.Table) (*table.Table, error) {
	ctx, span := tracing.StartSpan(ctx, "filter.persons")
	defer span.End()

	xc, err := persons.Col(ColumnHomeX)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	yc, err := persons.Col(ColumnHomeY)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	keep := make([][]string, 0, persons.Len())
	for i, row := range persons.Rows {
		x, err := persons.Float(i, xc)
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		y, err := persons.Float(i, yc)
		if err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
		if f.area.Intersects(x, y) {
			keep = append(keep, row)
		}
	}

	out := table.New(persons.Columns, keep)
	span.SetAttributes(tracing.FilterAttributes("spatial", persons.Len(), out.Len())...)
	monitoring.RecordFilter("spatial", persons.Len(), out.Len())
	f.logger.Info("filtered persons", "count", out.Len(), "total", persons.Len())
	return out, nil
}

// ModeTripFilter keeps trips whose main_mode is one of a fixed set of modes.
// Matching is exact and case-sensitive.
type ModeTripFilter struct {
	modes map[string]struct{}
}

// NewModeTripFilter returns a filter over a copy of modes
func NewModeTripFilter(modes []string) *ModeTripFilter {
	set := make(map[string]struct{}, len(modes))
	for _, m := range modes {
		set[m] = struct{}{}
	}
	return &ModeTripFilter{modes: set}
}

// Modes returns the accepted modes, sorted
func (f *ModeTripFilter) Modes() []string {
	modes := lo.Keys(f.modes)
	slices.Sort(modes)
	return modes
}

// FilterTrips returns the trips with an accepted main_mode
func (f *ModeTripFilter) FilterTrips(ctx context.Context, trips *table.Table) (*table.Table, error) {
	ctx, span := tracing.StartSpan(ctx, "filter.trips")
	defer span.End()

	mc, err := trips.Col(ColumnMainMode)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("trip filter: %w", err)
	}
	out := trips.Where(func(row []string) bool {
		_, ok := f.modes[row[mc]]
		return ok
	})

	span.SetAttributes(tracing.FilterAttributes("mode", trips.Len(), out.Len())...)
	monitoring.RecordFilter("mode", trips.Len(), out.Len())
	return out, nil
}

// Identity returns filters that keep every row
func Identity() (PersonFilter, TripFilter) {
	return PersonFunc(func(_ context.Context, t *table.Table) (*table.Table, error) { return t, nil }),
		TripFunc(func(_ context.Context, t *table.Table) (*table.Table, error) { return t, nil })
}
