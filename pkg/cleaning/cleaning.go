// Package cleaning removes price outliers and out-of-area listings from a dataset.
package cleaning

import (
	"fmt"
	"log/slog"

	"github.com/polisai/rentalprep/pkg/dataset"
	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/polisai/rentalprep/pkg/filter"
)

// Options bounds the rows that survive cleaning.
type Options struct {
	MinPrice float64
	MaxPrice float64
	// Box defaults to filter.NYCBoundingBox when zero.
	Box filter.BoundingBox
}

// Summary describes what cleaning removed.
type Summary struct {
	RowsIn  int
	RowsOut int
	Dropped map[string]int
}

// Metrics flattens the summary for run tracking.
func (s Summary) Metrics() map[string]float64 {
	m := map[string]float64{
		"rows_in":  float64(s.RowsIn),
		"rows_out": float64(s.RowsOut),
	}
	for name, n := range s.Dropped {
		m["dropped_"+name] = float64(n)
	}
	return m
}

// Predicates returns the price and geographic predicates in application order.
func (o Options) Predicates() ([]filter.Predicate, error) {
	price, err := filter.PriceRange(o.MinPrice, o.MaxPrice)
	if err != nil {
		return nil, err
	}
	box := o.Box
	if box == (filter.BoundingBox{}) {
		box = filter.NYCBoundingBox
	}
	geo, err := filter.GeoBox(box)
	if err != nil {
		return nil, err
	}
	return []filter.Predicate{price, geo}, nil
}

// Clean applies the price filter followed by the geographic filter.
func Clean(ds domain.Dataset, opts Options) (domain.Dataset, Summary, error) {
	predicates, err := opts.Predicates()
	if err != nil {
		return domain.Dataset{}, Summary{}, err
	}
	result := filter.Apply(ds, predicates...)
	return result.Dataset, Summary{
		RowsIn:  ds.Len(),
		RowsOut: result.Kept(),
		Dropped: result.Dropped,
	}, nil
}

// CleanFile reads input, cleans it and writes the result to output.
func CleanFile(input, output string, opts Options, logger *slog.Logger) (Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Reading data", "path", input)
	ds, err := dataset.ReadFile(input)
	if err != nil {
		return Summary{}, err
	}
	for _, column := range []string{filter.ColumnPrice, filter.ColumnLongitude, filter.ColumnLatitude} {
		if !ds.HasColumn(column) {
			return Summary{}, fmt.Errorf("input has no %q column", column)
		}
	}

	logger.Info("Filtering data", "min_price", opts.MinPrice, "max_price", opts.MaxPrice)
	cleaned, summary, err := Clean(ds, opts)
	if err != nil {
		return Summary{}, err
	}

	if err := dataset.WriteFile(output, cleaned); err != nil {
		return Summary{}, fmt.Errorf("write cleaned data: %w", err)
	}
	logger.Info("Saved cleaned data",
		"path", output,
		"rows_in", summary.RowsIn,
		"rows_out", summary.RowsOut,
		"dropped_price", summary.Dropped["price"],
		"dropped_geo", summary.Dropped["geo"],
	)
	return summary, nil
}
