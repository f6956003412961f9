package geo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ctessum/geom/proj"
)

// ErrUnknownCRS is returned for reference system names that are neither
// registered nor a proj4/WKT definition
var ErrUnknownCRS = errors.New("unknown coordinate reference system")

// Known reference systems of the Mexico City scenario inputs
var crsRegistry = map[string]string{
	// Mexico ITRF92 / UTM zone 12N, used by the population and cityArea files
	"EPSG:4485": "+proj=utm +zone=12 +ellps=GRS80 +units=m +no_defs",
	// WGS 84, GeoJSON default
	"EPSG:4326": "+proj=longlat +datum=WGS84 +no_defs",
	// WGS 84 / UTM zone 14N
	"EPSG:32614": "+proj=utm +zone=14 +datum=WGS84 +units=m +no_defs",
	// Mexico ITRF2008 / LCC
	"EPSG:6372": "+proj=lcc +lat_1=17.5 +lat_2=29.5 +lat_0=12 +lon_0=-102 +x_0=2500000 +y_0=0 +ellps=GRS80 +units=m +no_defs",
}

// ParseCRS resolves a reference system given as a registered EPSG code, a
// proj4 string or WKT
func ParseCRS(name string) (*proj.SR, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownCRS)
	}
	def, ok := crsRegistry[strings.ToUpper(name)]
	if !ok {
		if !strings.HasPrefix(name, "+") && !isWKT(name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCRS, name)
		}
		def = name
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("parsing reference system %s: %w", name, err)
	}
	return sr, nil
}

func isWKT(s string) bool {
	for _, prefix := range []string{"PROJCS[", "GEOGCS[", "PROJCRS[", "GEOGCRS["} {
		if strings.HasPrefix(strings.ToUpper(s), prefix) {
			return true
		}
	}
	return false
}

// transformer returns the transform between two reference systems
func transformer(from, to *proj.SR) (proj.Transformer, error) {
	t, err := from.NewTransform(to)
	if err != nil {
		return nil, fmt.Errorf("creating transform: %w", err)
	}
	return t, nil
}
