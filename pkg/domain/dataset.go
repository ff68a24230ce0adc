package domain

// Row maps a column name to its raw textual value.
type Row map[string]string

// Dataset is an ordered collection of rows with a fixed column order.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (d Dataset) Len() int {
	return len(d.Rows)
}

// HasColumn reports whether the header declares column.
func (d Dataset) HasColumn(column string) bool {
	for _, c := range d.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// WithRows returns a dataset sharing the column layout of d.
func (d Dataset) WithRows(rows []Row) Dataset {
	return Dataset{Columns: append([]string(nil), d.Columns...), Rows: rows}
}
