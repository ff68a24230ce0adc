// Package filter applies inclusive numeric range predicates to dataset rows.
//
// Every predicate is a conjunction of column ranges; a row survives Apply only
// when it satisfies every predicate. Missing or non-numeric values fail.
package filter

import (
	"math"
	"strconv"
	"strings"

	"github.com/polisai/rentalprep/pkg/domain"
)

const (
	// ColumnPrice holds the nightly listing price.
	ColumnPrice = "price"
	// ColumnLongitude holds the listing longitude.
	ColumnLongitude = "longitude"
	// ColumnLatitude holds the listing latitude.
	ColumnLatitude = "latitude"
)

// Range is an inclusive [Min, Max] bound on a numeric column.
type Range struct {
	Column string
	Min    float64
	Max    float64
}

// NewRange validates the bounds and builds a Range.
func NewRange(column string, lo, hi float64) (Range, error) {
	switch {
	case strings.TrimSpace(column) == "":
		return Range{}, &domain.FilterValidationError{Predicate: column, Min: lo, Max: hi, Reason: "column name is empty"}
	case math.IsNaN(lo) || math.IsNaN(hi):
		return Range{}, &domain.FilterValidationError{Predicate: column, Min: lo, Max: hi, Reason: "bounds must be numbers"}
	case lo > hi:
		return Range{}, &domain.FilterValidationError{Predicate: column, Min: lo, Max: hi, Reason: "min exceeds max"}
	}
	return Range{Column: column, Min: lo, Max: hi}, nil
}

// Contains reports whether the row's value for the column lies within the range.
func (r Range) Contains(row domain.Row) bool {
	value, ok := Numeric(row, r.Column)
	if !ok {
		return false
	}
	return value >= r.Min && value <= r.Max
}

// Predicate is a named conjunction of ranges.
type Predicate struct {
	Name   string
	Ranges []Range
}

// Match reports whether the row satisfies every range of the predicate.
func (p Predicate) Match(row domain.Row) bool {
	for _, r := range p.Ranges {
		if !r.Contains(row) {
			return false
		}
	}
	return true
}

// PriceRange builds the price predicate for [minPrice, maxPrice].
func PriceRange(minPrice, maxPrice float64) (Predicate, error) {
	r, err := NewRange(ColumnPrice, minPrice, maxPrice)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{Name: "price", Ranges: []Range{r}}, nil
}

// BoundingBox is a geographic rectangle in decimal degrees.
type BoundingBox struct {
	MinLongitude float64 `yaml:"min_longitude" json:"min_longitude"`
	MaxLongitude float64 `yaml:"max_longitude" json:"max_longitude"`
	MinLatitude  float64 `yaml:"min_latitude" json:"min_latitude"`
	MaxLatitude  float64 `yaml:"max_latitude" json:"max_latitude"`
}

// NYCBoundingBox covers the five boroughs of New York City.
var NYCBoundingBox = BoundingBox{
	MinLongitude: -74.25,
	MaxLongitude: -73.50,
	MinLatitude:  40.5,
	MaxLatitude:  41.2,
}

// GeoBox builds the geographic predicate for box.
func GeoBox(box BoundingBox) (Predicate, error) {
	lon, err := NewRange(ColumnLongitude, box.MinLongitude, box.MaxLongitude)
	if err != nil {
		return Predicate{}, err
	}
	lat, err := NewRange(ColumnLatitude, box.MinLatitude, box.MaxLatitude)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{Name: "geo", Ranges: []Range{lon, lat}}, nil
}

// Result is the outcome of Apply.
type Result struct {
	Dataset domain.Dataset
	// Dropped counts removed rows per predicate name. A row is attributed to
	// the first predicate it fails, in argument order.
	Dropped map[string]int
}

// Kept returns the number of surviving rows.
func (r Result) Kept() int {
	return r.Dataset.Len()
}

// Apply returns the rows of ds that satisfy all predicates, preserving order.
// Rows are shared with the input, not copied. An empty result is not an error.
func Apply(ds domain.Dataset, predicates ...Predicate) Result {
	dropped := make(map[string]int, len(predicates))
	for _, p := range predicates {
		dropped[p.Name] = 0
	}

	kept := make([]domain.Row, 0, len(ds.Rows))
rows:
	for _, row := range ds.Rows {
		for _, p := range predicates {
			if !p.Match(row) {
				dropped[p.Name]++
				continue rows
			}
		}
		kept = append(kept, row)
	}

	return Result{Dataset: ds.WithRows(kept), Dropped: dropped}
}

// Numeric parses the column value of row as a finite-or-infinite float.
// Empty, unparsable and NaN values report false.
func Numeric(row domain.Row, column string) (float64, bool) {
	raw, ok := row[column]
	if !ok {
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) {
		return 0, false
	}
	return value, true
}
