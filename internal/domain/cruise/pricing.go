package cruise

// CabinCategory is one of the four cabin tiers a sailing is priced by
type CabinCategory string

const (
	CategoryInterior  CabinCategory = "interior"
	CategoryOceanview CabinCategory = "oceanview"
	CategoryBalcony   CabinCategory = "balcony"
	CategorySuite     CabinCategory = "suite"
)

// categoryOrder fixes tie resolution for the cheapest cabin type
var categoryOrder = []CabinCategory{CategoryInterior, CategoryOceanview, CategoryBalcony, CategorySuite}

// PriceSet is the extraction result for one sailing. Any price may be nil
// when the provider supplied no usable value for that category.
type PriceSet struct {
	Interior          *float64
	Oceanview         *float64
	Balcony           *float64
	Suite             *float64
	Cheapest          *float64
	CheapestCabinType *CabinCategory
}

// priceCorrections maps lineId to a divisor applied to every category price.
// Line 329 (Riviera Travel) historically published prices multiplied by 1000.
var priceCorrections = map[int]float64{
	329: 1000,
}

// ExtractPrices computes the four category prices and the derived cheapest
// for a normalized record. Each category independently walks the fallback
// ladder; the first non-nil, non-zero source wins:
//
//  1. direct top-level cheapestinside/outside/balcony/suite fields
//  2. cheapest.prices
//  3. cheapest.combined
//  4. minimum over the detailed prices grid by cabin category tag
//
// cheapest.cachedprices is never consulted; it stays in rawData only.
func ExtractPrices(rec *Record, lineID int) PriceSet {
	ps := PriceSet{
		Interior:  categoryPrice(rec, "inside"),
		Oceanview: categoryPrice(rec, "outside"),
		Balcony:   categoryPrice(rec, "balcony"),
		Suite:     categoryPrice(rec, "suite"),
	}

	if divisor, ok := priceCorrections[lineID]; ok {
		ps.Interior = divide(ps.Interior, divisor)
		ps.Oceanview = divide(ps.Oceanview, divisor)
		ps.Balcony = divide(ps.Balcony, divisor)
		ps.Suite = divide(ps.Suite, divisor)
	}

	ps.Cheapest, ps.CheapestCabinType = deriveCheapest(ps)
	return ps
}

// DeriveCheapest recomputes the cheapest price and cabin type from four
// category prices. Exposed so the persistence layer can enforce the same
// derivation the database trigger maintains.
func DeriveCheapest(interior, oceanview, balcony, suite *float64) (*float64, *CabinCategory) {
	return deriveCheapest(PriceSet{Interior: interior, Oceanview: oceanview, Balcony: balcony, Suite: suite})
}

func deriveCheapest(ps PriceSet) (*float64, *CabinCategory) {
	byCategory := map[CabinCategory]*float64{
		CategoryInterior:  ps.Interior,
		CategoryOceanview: ps.Oceanview,
		CategoryBalcony:   ps.Balcony,
		CategorySuite:     ps.Suite,
	}

	var best *float64
	var bestCat *CabinCategory
	for _, cat := range categoryOrder {
		p := byCategory[cat]
		if p == nil || *p <= 0 {
			continue
		}
		// Strict less-than keeps the earlier category on ties
		if best == nil || *p < *best {
			v := *p
			c := cat
			best = &v
			bestCat = &c
		}
	}
	return best, bestCat
}

// categoryPrice walks the ladder for one provider-named category
// (inside/outside/balcony/suite).
func categoryPrice(rec *Record, provider string) *float64 {
	if p := directField(rec, provider); usable(p) {
		return copyOf(p)
	}
	if rec.Cheapest != nil {
		if p := categoryFrom(rec.Cheapest.Prices, provider); usable(p) {
			return copyOf(p)
		}
		if p := categoryFrom(rec.Cheapest.Combined, provider); usable(p) {
			return copyOf(p)
		}
	}
	if p := gridMinimum(rec, provider); usable(p) {
		return p
	}
	return nil
}

func directField(rec *Record, provider string) *float64 {
	switch provider {
	case "inside":
		return rec.CheapestInside
	case "outside":
		return rec.CheapestOutside
	case "balcony":
		return rec.CheapestBalcony
	case "suite":
		return rec.CheapestSuite
	}
	return nil
}

func categoryFrom(cp CategoryPrices, provider string) *float64 {
	switch provider {
	case "inside":
		return cp.Inside
	case "outside":
		return cp.Outside
	case "balcony":
		return cp.Balcony
	case "suite":
		return cp.Suite
	}
	return nil
}

// gridMinimum scans the detailed rate/cabin/occupancy grid for the lowest
// positive price whose cabin type tag matches the category.
func gridMinimum(rec *Record, provider string) *float64 {
	var min *float64
	for _, cabins := range rec.Prices {
		for _, occupancies := range cabins {
			for _, cell := range occupancies {
				if cell.CabinType != provider {
					continue
				}
				if !usable(cell.Price) {
					continue
				}
				if min == nil || *cell.Price < *min {
					v := *cell.Price
					min = &v
				}
			}
		}
	}
	return min
}

func usable(p *float64) bool {
	return p != nil && *p > 0
}

func copyOf(p *float64) *float64 {
	v := *p
	return &v
}

func divide(p *float64, divisor float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p / divisor
	return &v
}
