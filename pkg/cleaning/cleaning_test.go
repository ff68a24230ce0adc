package cleaning

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/polisai/rentalprep/pkg/dataset"
	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `id,name,neighbourhood_group,longitude,latitude,price
1,cheap,Brooklyn,-73.95,40.70,5
2,ok,Manhattan,-73.98,40.75,100
3,pricey,Manhattan,-73.98,40.75,400
4,offshore,Queens,-72.00,40.75,120
5,missing,Bronx,,40.85,80
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanFileAppliesPriceThenGeo(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "sample.csv")
	out := filepath.Join(dir, "out", "clean_sample.csv")
	require.NoError(t, os.WriteFile(in, []byte(sample), 0o600))

	summary, err := CleanFile(in, out, Options{MinPrice: 10, MaxPrice: 350}, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.RowsIn)
	assert.Equal(t, 1, summary.RowsOut)
	assert.Equal(t, 2, summary.Dropped["price"])
	assert.Equal(t, 2, summary.Dropped["geo"])

	cleaned, err := dataset.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, 1, cleaned.Len())
	assert.Equal(t, "2", cleaned.Rows[0]["id"])
	assert.Equal(t, []string{"id", "name", "neighbourhood_group", "longitude", "latitude", "price"}, cleaned.Columns)

	assert.Equal(t, map[string]float64{
		"rows_in": 5, "rows_out": 1, "dropped_price": 2, "dropped_geo": 2,
	}, summary.Metrics())
}

func TestCleanRejectsInvertedBounds(t *testing.T) {
	_, _, err := Clean(domain.Dataset{}, Options{MinPrice: 350, MaxPrice: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidBounds)
}

func TestCleanFileRequiresFilterColumns(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "sample.csv")
	require.NoError(t, os.WriteFile(in, []byte("id,price\n1,100\n"), 0o600))

	_, err := CleanFile(in, filepath.Join(dir, "out.csv"), Options{MinPrice: 10, MaxPrice: 350}, nil)
	assert.ErrorContains(t, err, "longitude")
}

func TestCleanKeepsEmptyResultWithHeader(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "sample.csv")
	out := filepath.Join(dir, "clean.csv")
	require.NoError(t, os.WriteFile(in, []byte(sample), 0o600))

	summary, err := CleanFile(in, out, Options{MinPrice: 1000, MaxPrice: 2000}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.RowsOut)

	cleaned, err := dataset.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 0, cleaned.Len())
	assert.True(t, cleaned.HasColumn("price"))
}
