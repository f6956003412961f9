// Package geo loads the study area and answers point-in-area queries.
//
// A Boundary is always expressed in the reference system of the points it
// is tested against; loaders reproject the source geometry once, at load
// time, so queries never transform.
package geo

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// queryPad widens point queries against the index so that points on a
// polygon's bounding box are still candidates
const queryPad = 1e-6

// Boundary is an immutable study area made of one or more polygons
type Boundary struct {
	crs      string
	polygons []geom.Polygon
	index    *rtree.Rtree
	bounds   *geom.Bounds
}

// NewBoundary builds a boundary from polygons already expressed in crs
func NewBoundary(crs string, shapes ...geom.Polygonal) (*Boundary, error) {
	b := &Boundary{
		crs:    crs,
		index:  rtree.NewTree(25, 50),
		bounds: geom.NewBounds(),
	}
	for _, s := range shapes {
		for _, p := range s.Polygons() {
			if len(p) == 0 {
				continue
			}
			b.polygons = append(b.polygons, p)
			b.index.Insert(p)
			b.bounds.Extend(p.Bounds())
		}
	}
	if len(b.polygons) == 0 {
		return nil, fmt.Errorf("boundary has no polygons")
	}
	return b, nil
}

// CRS returns the reference system the boundary is expressed in
func (b *Boundary) CRS() string {
	return b.crs
}

// Len returns the number of polygons
func (b *Boundary) Len() int {
	return len(b.polygons)
}

// Bounds returns the bounding box of all polygons
func (b *Boundary) Bounds() *geom.Bounds {
	return &geom.Bounds{Min: b.bounds.Min, Max: b.bounds.Max}
}

// Intersects reports whether (x, y) lies inside or on the edge of the
// boundary
func (b *Boundary) Intersects(x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return false
	}
	pt := geom.Point{X: x, Y: y}
	query := &geom.Bounds{
		Min: geom.Point{X: x - queryPad, Y: y - queryPad},
		Max: geom.Point{X: x + queryPad, Y: y + queryPad},
	}
	for _, candidate := range b.index.SearchIntersect(query) {
		poly, ok := candidate.(geom.Polygon)
		if !ok {
			continue
		}
		if pt.Within(poly) != geom.Outside {
			return true
		}
	}
	return false
}
