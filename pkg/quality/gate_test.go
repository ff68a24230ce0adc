package quality

import (
	"context"
	"fmt"
	"testing"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listings(n int, price string) domain.Dataset {
	ds := domain.Dataset{Columns: append([]string(nil), RequiredColumns...)}
	for i := 0; i < n; i++ {
		ds.Rows = append(ds.Rows, domain.Row{
			"id":                  fmt.Sprint(i),
			"name":                "room",
			"neighbourhood_group": NYCNeighbourhoodGroups[i%len(NYCNeighbourhoodGroups)],
			"longitude":           "-73.95",
			"latitude":            "40.72",
			"price":               price,
		})
	}
	return ds
}

var thresholds = Thresholds{MinRows: 3, MaxRows: 100, MinPrice: 10, MaxPrice: 350}

func newGate(t *testing.T) *Gate {
	t.Helper()
	gate, err := NewGate(context.Background())
	require.NoError(t, err)
	return gate
}

func TestGatePassesCleanData(t *testing.T) {
	gate := newGate(t)
	summary := Summarize(listings(5, "100"))

	decision, err := gate.Evaluate(context.Background(), summary, &summary, thresholds)
	require.NoError(t, err)
	assert.True(t, decision.Pass, decision.Violations)
	assert.Empty(t, decision.Violations)
	assert.NoError(t, decision.Err())
}

func TestGateReportsViolations(t *testing.T) {
	gate := newGate(t)

	tests := []struct {
		name    string
		dataset func() domain.Dataset
		want    string
	}{
		{
			name:    "too few rows",
			dataset: func() domain.Dataset { return listings(2, "100") },
			want:    "row count 2 below minimum 3",
		},
		{
			name:    "too many rows",
			dataset: func() domain.Dataset { return listings(101, "100") },
			want:    "row count 101 above maximum 100",
		},
		{
			name:    "price above range",
			dataset: func() domain.Dataset { return listings(5, "400") },
			want:    "price 400 above maximum 350",
		},
		{
			name: "missing column",
			dataset: func() domain.Dataset {
				ds := listings(5, "100")
				ds.Columns = ds.Columns[:5]
				return ds
			},
			want: `missing required column "price"`,
		},
		{
			name: "outside the city",
			dataset: func() domain.Dataset {
				ds := listings(5, "100")
				ds.Rows[0]["longitude"] = "-72.1"
				return ds
			},
			want: "longitude range",
		},
		{
			name: "unknown borough",
			dataset: func() domain.Dataset {
				ds := listings(5, "100")
				ds.Rows[0]["neighbourhood_group"] = "Atlantis"
				return ds
			},
			want: `unknown neighbourhood group "Atlantis"`,
		},
		{
			name: "non-numeric price",
			dataset: func() domain.Dataset {
				ds := listings(5, "100")
				ds.Rows[1]["price"] = "n/a"
				return ds
			},
			want: "1 rows have a missing or non-numeric price",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := gate.Evaluate(context.Background(), Summarize(tc.dataset()), nil, thresholds)
			require.NoError(t, err)
			assert.False(t, decision.Pass)
			require.NotEmpty(t, decision.Violations)
			assert.Contains(t, decision.Err().Error(), tc.want)
		})
	}
}

func TestGateComparesColumnsWithReference(t *testing.T) {
	gate := newGate(t)
	current := listings(5, "100")
	current.Columns = append(current.Columns, "extra")
	ref := Summarize(listings(5, "100"))

	decision, err := gate.Evaluate(context.Background(), Summarize(current), &ref, thresholds)
	require.NoError(t, err)
	assert.False(t, decision.Pass)
	assert.Contains(t, decision.Violations, "column set differs from the reference dataset")
}

func TestSummarize(t *testing.T) {
	ds := listings(3, "100")
	ds.Rows[0]["price"] = "20"
	ds.Rows[2]["price"] = ""

	s := Summarize(ds)
	assert.Equal(t, 3, s.Rows)
	assert.Equal(t, ColumnStats{Count: 2, Invalid: 1, Min: 20, Max: 100}, s.Price)
	assert.Equal(t, []string{"Bronx", "Brooklyn", "Manhattan"}, s.NeighbourhoodGroups)
}
