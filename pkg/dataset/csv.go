// Package dataset reads and writes listing datasets as CSV with a header row.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/polisai/rentalprep/pkg/domain"
)

// Read parses CSV with a header row. Column order is preserved and every record
// must have as many fields as the header.
func Read(r io.Reader) (domain.Dataset, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return domain.Dataset{}, fmt.Errorf("dataset has no header row")
	}
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := seen[name]; dup {
			return domain.Dataset{}, fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
		columns[i] = name
	}

	ds := domain.Dataset{Columns: columns, Rows: []domain.Row{}}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Dataset{}, fmt.Errorf("read record %d: %w", len(ds.Rows)+1, err)
		}
		row := make(domain.Row, len(columns))
		for i, value := range record {
			row[columns[i]] = value
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

// ReadFile reads a CSV dataset from path.
func ReadFile(path string) (domain.Dataset, error) {
	//nolint:gosec // Paths come from the artifact store or operator flags
	f, err := os.Open(path)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Read(f)
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return ds, nil
}

// Write emits the header followed by every row in order.
func Write(w io.Writer, ds domain.Dataset) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ds.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(ds.Columns))
	for _, row := range ds.Rows {
		for i, column := range ds.Columns {
			record[i] = row[column]
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFile writes ds to path, creating parent directories. The file is
// written next to its destination and renamed into place.
func WriteFile(path string, ds domain.Dataset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dataset directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, ds); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dataset file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move dataset into place: %w", err)
	}
	return nil
}
