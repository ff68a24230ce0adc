package filter

import (
	"strconv"
	"testing"

	"github.com/polisai/rentalprep/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func priceRows(prices ...string) domain.Dataset {
	ds := domain.Dataset{Columns: []string{"id", "price"}}
	for i, p := range prices {
		ds.Rows = append(ds.Rows, domain.Row{"id": strconv.Itoa(i), "price": p})
	}
	return ds
}

func TestApplyPriceScenario(t *testing.T) {
	price, err := PriceRange(10, 350)
	require.NoError(t, err)

	result := Apply(priceRows("5", "100", "400"), price)

	require.Equal(t, 1, result.Kept())
	assert.Equal(t, "100", result.Dataset.Rows[0]["price"])
	assert.Equal(t, 2, result.Dropped["price"])
	assert.Equal(t, []string{"id", "price"}, result.Dataset.Columns)
}

func TestApplyBoundsAreInclusive(t *testing.T) {
	price, err := PriceRange(10, 350)
	require.NoError(t, err)

	result := Apply(priceRows("10", "350", "9.99", "350.01"), price)

	require.Equal(t, 2, result.Kept())
	assert.Equal(t, "10", result.Dataset.Rows[0]["price"])
	assert.Equal(t, "350", result.Dataset.Rows[1]["price"])
}

func TestApplyExcludesMissingAndNonNumeric(t *testing.T) {
	price, err := PriceRange(0, 1000)
	require.NoError(t, err)

	ds := priceRows("", "abc", "NaN", " 42 ")
	ds.Rows = append(ds.Rows, domain.Row{"id": "no-price"})

	result := Apply(ds, price)

	require.Equal(t, 1, result.Kept())
	assert.Equal(t, " 42 ", result.Dataset.Rows[0]["price"])
}

func TestApplyEmptyResultIsValid(t *testing.T) {
	price, err := PriceRange(1000, 2000)
	require.NoError(t, err)

	result := Apply(priceRows("5", "100"), price)

	assert.Equal(t, 0, result.Kept())
	assert.NotNil(t, result.Dataset.Rows)
}

func TestApplyAttributesDropsToFirstFailingPredicate(t *testing.T) {
	price, err := PriceRange(10, 350)
	require.NoError(t, err)
	geo, err := GeoBox(NYCBoundingBox)
	require.NoError(t, err)

	ds := domain.Dataset{
		Columns: []string{"price", "longitude", "latitude"},
		Rows: []domain.Row{
			{"price": "100", "longitude": "-73.95", "latitude": "40.7"}, // kept
			{"price": "1", "longitude": "0", "latitude": "0"},           // price first
			{"price": "100", "longitude": "-73.0", "latitude": "40.7"},  // geo
			{"price": "100", "longitude": "-74.25", "latitude": "41.2"}, // edge, kept
		},
	}

	result := Apply(ds, price, geo)

	assert.Equal(t, 2, result.Kept())
	assert.Equal(t, map[string]int{"price": 1, "geo": 1}, result.Dropped)
}

func TestNewRangeRejectsMalformedBounds(t *testing.T) {
	_, err := NewRange("price", 350, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidBounds)

	var validationErr *domain.FilterValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "price", validationErr.Predicate)

	_, err = PriceRange(5, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidBounds)

	_, err = GeoBox(BoundingBox{MinLongitude: 1, MaxLongitude: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidBounds)

	_, err = NewRange(" ", 0, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidBounds)
}

func TestPriceFilterSoundAndComplete(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.Float64Range(-1000, 1000).Draw(t, "lo")
		hi := rapid.Float64Range(lo, 2000).Draw(t, "hi")
		values := rapid.SliceOf(rapid.Float64Range(-3000, 3000)).Draw(t, "prices")

		ds := domain.Dataset{Columns: []string{"price"}}
		for _, v := range values {
			ds.Rows = append(ds.Rows, domain.Row{"price": strconv.FormatFloat(v, 'g', -1, 64)})
		}

		price, err := PriceRange(lo, hi)
		if err != nil {
			t.Fatalf("valid bounds rejected: %v", err)
		}
		result := Apply(ds, price)

		inBounds := 0
		for _, v := range values {
			if v >= lo && v <= hi {
				inBounds++
			}
		}
		if result.Kept() != inBounds {
			t.Fatalf("kept %d rows, %d were within bounds", result.Kept(), inBounds)
		}
		for _, row := range result.Dataset.Rows {
			v, ok := Numeric(row, "price")
			if !ok || v < lo || v > hi {
				t.Fatalf("row %v escaped the filter [%g, %g]", row, lo, hi)
			}
		}
	})
}

func TestGeoFilterIdempotent(t *testing.T) {
	geo, err := GeoBox(NYCBoundingBox)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(t, "rows")
		ds := domain.Dataset{Columns: []string{"longitude", "latitude"}}
		for i := 0; i < n; i++ {
			lon := rapid.Float64Range(-75, -73).Draw(t, "lon")
			lat := rapid.Float64Range(40, 42).Draw(t, "lat")
			ds.Rows = append(ds.Rows, domain.Row{
				"longitude": strconv.FormatFloat(lon, 'f', 4, 64),
				"latitude":  strconv.FormatFloat(lat, 'f', 4, 64),
			})
		}

		once := Apply(ds, geo)
		twice := Apply(once.Dataset, geo)

		if len(once.Dataset.Rows) != len(twice.Dataset.Rows) {
			t.Fatalf("second pass changed row count: %d -> %d", len(once.Dataset.Rows), len(twice.Dataset.Rows))
		}
		for i := range once.Dataset.Rows {
			if once.Dataset.Rows[i]["longitude"] != twice.Dataset.Rows[i]["longitude"] ||
				once.Dataset.Rows[i]["latitude"] != twice.Dataset.Rows[i]["latitude"] {
				t.Fatalf("row %d differs after second pass", i)
			}
		}
		if twice.Dropped["geo"] != 0 {
			t.Fatalf("second pass dropped %d rows", twice.Dropped["geo"])
		}
	})
}
