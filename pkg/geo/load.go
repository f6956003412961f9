package geo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/NERVsystems/matsimcal/pkg/tracing"
)

// geojsonCRS is the reference system of RFC 7946 GeoJSON
const geojsonCRS = "EPSG:4326"

// Load reads the study area from a shapefile or GeoJSON file and
// reprojects it into targetCRS. declaredCRS is used for shapefiles that come
// without a .prj file.
func Load(ctx context.Context, path, declaredCRS, targetCRS string, logger *slog.Logger) (*Boundary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, span := tracing.StartSpan(ctx, "geo.load_boundary")
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrBoundaryPath, path),
		attribute.String(tracing.AttrCRS, targetCRS),
	)

	start := time.Now()
	if _, err := os.Stat(path); err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("boundary file: %w", err)
	}

	var (
		b   *Boundary
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".shp":
		b, err = LoadShapefile(path, declaredCRS, targetCRS)
	case ".geojson", ".json":
		b, err = LoadGeoJSON(path, targetCRS)
	default:
		err = fmt.Errorf("unsupported boundary format %q", ext)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	bounds := b.Bounds()
	logger.Info("loaded study area",
		"path", path,
		"polygons", b.Len(),
		"crs", b.CRS(),
		"min_x", bounds.Min.X, "min_y", bounds.Min.Y,
		"max_x", bounds.Max.X, "max_y", bounds.Max.Y,
		"duration", time.Since(start))
	return b, nil
}

// LoadShapefile reads all polygons of a shapefile. The source reference
// system comes from the .prj side file, or declaredCRS when there is none.
func LoadShapefile(path, declaredCRS, targetCRS string) (*Boundary, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile %s: %w", path, err)
	}
	defer dec.Close()

	srcSR, err := dec.SR()
	if err != nil {
		if declaredCRS == "" {
			return nil, fmt.Errorf("shapefile %s has no .prj and no CRS was declared: %w", path, ErrUnknownCRS)
		}
		srcSR, err = ParseCRS(declaredCRS)
		if err != nil {
			return nil, err
		}
	}
	dstSR, err := ParseCRS(targetCRS)
	if err != nil {
		return nil, err
	}
	trans, err := transformer(srcSR, dstSR)
	if err != nil {
		return nil, err
	}

	var shapes []geom.Polygonal
	for {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		if g == nil {
			continue
		}
		gg, err := g.Transform(trans)
		if err != nil {
			return nil, fmt.Errorf("reprojecting %s: %w", path, err)
		}
		p, ok := gg.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("shapefile %s contains %T, want polygons", path, gg)
		}
		shapes = append(shapes, p)
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("decoding shapefile %s: %w", path, err)
	}
	return NewBoundary(targetCRS, shapes...)
}

// LoadGeoJSON reads polygons from a FeatureCollection or a single Feature
// in WGS 84 longitude/latitude
func LoadGeoJSON(path, targetCRS string) (*Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var geometries []orb.Geometry
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && len(fc.Features) > 0 {
		for _, f := range fc.Features {
			geometries = append(geometries, f.Geometry)
		}
	} else if f, ferr := geojson.UnmarshalFeature(data); ferr == nil && f.Geometry != nil {
		geometries = append(geometries, f.Geometry)
	} else {
		return nil, fmt.Errorf("parsing %s: %w", path, errors.Join(err, ferr))
	}

	srcSR, err := ParseCRS(geojsonCRS)
	if err != nil {
		return nil, err
	}
	dstSR, err := ParseCRS(targetCRS)
	if err != nil {
		return nil, err
	}
	trans, err := transformer(srcSR, dstSR)
	if err != nil {
		return nil, err
	}

	var shapes []geom.Polygonal
	for _, g := range geometries {
		var polys []orb.Polygon
		switch v := g.(type) {
		case orb.Polygon:
			polys = append(polys, v)
		case orb.MultiPolygon:
			polys = append(polys, v...)
		default:
			return nil, fmt.Errorf("%s contains %s, want polygons", path, g.GeoJSONType())
		}
		for _, p := range polys {
			gp, err := fromOrb(p, trans)
			if err != nil {
				return nil, fmt.Errorf("reprojecting %s: %w", path, err)
			}
			shapes = append(shapes, gp)
		}
	}
	return NewBoundary(targetCRS, shapes...)
}

func fromOrb(p orb.Polygon, trans proj.Transformer) (geom.Polygon, error) {
	out := make(geom.Polygon, 0, len(p))
	for _, ring := range p {
		path := make([]geom.Point, 0, len(ring))
		for _, pt := range ring {
			x, y, err := trans(pt.Lon(), pt.Lat())
			if err != nil {
				return nil, err
			}
			path = append(path, geom.Point{X: x, Y: y})
		}
		out = append(out, path)
	}
	return out, nil
}
