package analysis

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/NERVsystems/matsimcal/pkg/table"
)

var (
	// ErrUnknownMode is returned for a leg mode outside the hierarchy
	ErrUnknownMode = errors.New("unknown mode")

	// ErrNoMainMode is returned for a trip without legs that count
	ErrNoMainMode = errors.New("no main mode")
)

// modeHierarchy ranks leg modes; the highest ranked leg names the trip
var modeHierarchy = []string{"walk", "bike", "car", "pt", "taxibus"}

const (
	transitWalk    = "transit_walk"
	nonNetworkWalk = "non_network_walk"
)

// MainMode returns the main mode of a trip from its leg modes.
// non_network_walk legs are access/egress helpers and are skipped;
// transit_walk counts as walk.
func MainMode(legModes []string) (string, error) {
	best := -1
	for _, m := range legModes {
		if m == nonNetworkWalk {
			continue
		}
		if m == transitWalk {
			m = "walk"
		}
		i := slices.Index(modeHierarchy, m)
		if i < 0 {
			return "", fmt.Errorf("%w %q", ErrUnknownMode, m)
		}
		best = max(best, i)
	}
	if best < 0 {
		return "", fmt.Errorf("%w in legs %v", ErrNoMainMode, legModes)
	}
	return modeHierarchy[best], nil
}

// WithMainMode returns trips with a main_mode column. Tables that already
// have one are returned as is; otherwise it is derived from the "-"
// separated leg modes in the modes column.
func WithMainMode(trips *table.Table) (*table.Table, error) {
	if trips.Has(ColumnMainMode) {
		return trips, nil
	}
	mc, err := trips.Col(ColumnModes)
	if err != nil {
		return nil, err
	}
	cols := append(slices.Clone(trips.Columns), ColumnMainMode)
	rows := make([][]string, len(trips.Rows))
	for i, row := range trips.Rows {
		main, err := MainMode(strings.Split(row[mc], "-"))
		if err != nil {
			return nil, fmt.Errorf("trip row %d: %w", i+1, err)
		}
		rows[i] = append(slices.Clone(row), main)
	}
	return table.New(cols, rows), nil
}
