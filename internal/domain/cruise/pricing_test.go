package cruise_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrade/cruisesync-go/internal/domain/cruise"
)

func fp(v float64) *float64 { return &v }

func TestExtractPrices_DirectFieldsWin(t *testing.T) {
	rec := &cruise.Record{
		CheapestInside:  fp(899),
		CheapestOutside: fp(999),
		CheapestBalcony: fp(1199),
		CheapestSuite:   fp(1599),
		Cheapest: &cruise.CheapestBlock{
			// Disagreeing combined view must not override direct fields
			Combined: cruise.CategoryPrices{Inside: fp(500)},
		},
	}

	ps := cruise.ExtractPrices(rec, 22)

	require.NotNil(t, ps.Interior)
	assert.InDelta(t, 899, *ps.Interior, 0.001)
	assert.InDelta(t, 999, *ps.Oceanview, 0.001)
	assert.InDelta(t, 1199, *ps.Balcony, 0.001)
	assert.InDelta(t, 1599, *ps.Suite, 0.001)
	require.NotNil(t, ps.Cheapest)
	assert.InDelta(t, 899, *ps.Cheapest, 0.001)
	require.NotNil(t, ps.CheapestCabinType)
	assert.Equal(t, cruise.CategoryInterior, *ps.CheapestCabinType)
}

func TestExtractPrices_FallsBackToCheapestPrices(t *testing.T) {
	rec := &cruise.Record{
		Cheapest: &cruise.CheapestBlock{
			Prices: cruise.CategoryPrices{Inside: fp(750), Balcony: fp(1100)},
		},
	}

	ps := cruise.ExtractPrices(rec, 1)

	require.NotNil(t, ps.Interior)
	assert.InDelta(t, 750, *ps.Interior, 0.001)
	assert.Nil(t, ps.Oceanview)
	require.NotNil(t, ps.Balcony)
	assert.InDelta(t, 1100, *ps.Balcony, 0.001)
}

func TestExtractPrices_CombinedFillsMissingCategories(t *testing.T) {
	// A file with no direct cheapest fields but a cheapest.combined block
	// yields populated categories.
	rec := &cruise.Record{
		Cheapest: &cruise.CheapestBlock{
			Combined: cruise.CategoryPrices{
				Inside:  fp(640),
				Outside: fp(720),
				Balcony: fp(890),
				Suite:   fp(1500),
			},
		},
	}

	ps := cruise.ExtractPrices(rec, 1)

	require.NotNil(t, ps.Interior)
	assert.InDelta(t, 640, *ps.Interior, 0.001)
	require.NotNil(t, ps.Cheapest)
	assert.InDelta(t, 640, *ps.Cheapest, 0.001)
}

func TestExtractPrices_CachedPricesNeverUsed(t *testing.T) {
	rec := &cruise.Record{
		Cheapest: &cruise.CheapestBlock{
			CachedPrices: cruise.CategoryPrices{Inside: fp(100)},
		},
	}

	ps := cruise.ExtractPrices(rec, 1)

	assert.Nil(t, ps.Interior)
	assert.Nil(t, ps.Cheapest)
	assert.Nil(t, ps.CheapestCabinType)
}

func TestExtractPrices_GridMinimumByCabinTag(t *testing.T) {
	rec := &cruise.Record{
		Prices: map[string]map[string]map[string]cruise.PriceCell{
			"BESTFARE": {
				"IB": {
					"101": {Price: fp(820), CabinType: "inside"},
					"102": {Price: fp(780), CabinType: "inside"},
				},
				"BA": {
					"101": {Price: fp(1300), CabinType: "balcony"},
				},
			},
			"SAVER": {
				"IB": {
					"101": {Price: fp(805), CabinType: "inside"},
				},
			},
		},
	}

	ps := cruise.ExtractPrices(rec, 1)

	require.NotNil(t, ps.Interior)
	assert.InDelta(t, 780, *ps.Interior, 0.001)
	require.NotNil(t, ps.Balcony)
	assert.InDelta(t, 1300, *ps.Balcony, 0.001)
	assert.Nil(t, ps.Suite)
}

func TestExtractPrices_ZeroTreatedAsMissing(t *testing.T) {
	rec := &cruise.Record{
		CheapestInside: fp(0),
		Cheapest: &cruise.CheapestBlock{
			Prices: cruise.CategoryPrices{Inside: fp(450)},
		},
	}

	ps := cruise.ExtractPrices(rec, 1)

	require.NotNil(t, ps.Interior)
	assert.InDelta(t, 450, *ps.Interior, 0.001)
}

func TestExtractPrices_Line329Correction(t *testing.T) {
	rec := &cruise.Record{
		CheapestInside: fp(120000),
		CheapestSuite:  fp(350000),
	}

	ps := cruise.ExtractPrices(rec, 329)

	require.NotNil(t, ps.Interior)
	assert.InDelta(t, 120.00, *ps.Interior, 0.001)
	assert.InDelta(t, 350.00, *ps.Suite, 0.001)
	require.NotNil(t, ps.Cheapest)
	assert.InDelta(t, 120.00, *ps.Cheapest, 0.001)
}

func TestExtractPrices_AllMissingYieldsNilCheapest(t *testing.T) {
	ps := cruise.ExtractPrices(&cruise.Record{}, 1)

	assert.Nil(t, ps.Interior)
	assert.Nil(t, ps.Oceanview)
	assert.Nil(t, ps.Balcony)
	assert.Nil(t, ps.Suite)
	assert.Nil(t, ps.Cheapest)
	assert.Nil(t, ps.CheapestCabinType)
}

func TestDeriveCheapest_TieResolvedByFixedOrder(t *testing.T) {
	cheapest, cat := cruise.DeriveCheapest(fp(999), fp(999), nil, nil)

	require.NotNil(t, cheapest)
	assert.InDelta(t, 999, *cheapest, 0.001)
	require.NotNil(t, cat)
	assert.Equal(t, cruise.CategoryInterior, *cat)

	// oceanview beats balcony on ties as well
	_, cat = cruise.DeriveCheapest(nil, fp(500), fp(500), nil)
	require.NotNil(t, cat)
	assert.Equal(t, cruise.CategoryOceanview, *cat)
}
