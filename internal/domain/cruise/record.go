package cruise

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is the canonical in-memory form of one provider file after
// normalization. Field names follow the provider's lowercase JSON keys;
// everything downstream of the normalizer operates on this struct only.
type Record struct {
	CruiseID       int64
	CodeToCruiseID string
	LineID         int
	ShipID         int
	Name           string
	SailDate       *time.Time
	StartDate      *time.Time
	Nights         int
	StartPortID    *int
	EndPortID      *int
	PortIDs        []int
	RegionIDs      []int
	MarketID       *int
	OwnerID        *int

	// Opaque content blocks kept for lookup upserts and audit
	ShipContent map[string]interface{}
	LineContent map[string]interface{}

	Itinerary []ItineraryEntry

	// Detailed rate -> cabin -> occupancy price grid (may be empty)
	Prices map[string]map[string]map[string]PriceCell
	Cabins map[string]interface{}

	// Cheapest blocks as published by the provider
	Cheapest        *CheapestBlock
	CheapestInside  *float64
	CheapestOutside *float64
	CheapestBalcony *float64
	CheapestSuite   *float64

	AltSailings interface{}

	// Raw is the normalized object re-marshalled; persisted for audit
	Raw json.RawMessage
}

// ItineraryEntry is one day of a sailing's itinerary
type ItineraryEntry struct {
	Day         int
	PortID      *int
	PortName    string
	ArriveTime  string
	DepartTime  string
	Description string
}

// PriceCell is one occupancy-level price in the detailed grid
type PriceCell struct {
	Price     *float64
	CabinType string
}

// CheapestBlock mirrors the provider's cheapest{prices,cachedprices,combined}
// object. Cached-only prices are never used for authoritative persistence.
type CheapestBlock struct {
	Prices       CategoryPrices
	CachedPrices CategoryPrices
	Combined     CategoryPrices
}

// CategoryPrices holds the four cabin-category prices by provider naming
type CategoryPrices struct {
	Inside  *float64
	Outside *float64
	Balcony *float64
	Suite   *float64
}

// RecordFromObject builds a canonical Record from a decoded provider object.
// Decoding is tolerant: numbers may arrive as strings, id lists as arrays or
// comma-joined strings. Missing fields stay at zero values; only the absence
// of codetocruiseid is an error since it is the persistence key.
func RecordFromObject(obj map[string]interface{}) (*Record, error) {
	rec := &Record{}

	rec.CodeToCruiseID = asString(obj["codetocruiseid"])
	if rec.CodeToCruiseID == "" {
		return nil, fmt.Errorf("record missing codetocruiseid")
	}
	rec.CruiseID = asInt64(obj["cruiseid"])
	rec.LineID = int(asInt64(obj["lineid"]))
	rec.ShipID = int(asInt64(obj["shipid"]))
	rec.Name = asString(obj["name"])
	rec.Nights = int(asInt64(obj["nights"]))
	rec.SailDate = asDate(obj["saildate"])
	rec.StartDate = asDate(obj["startdate"])
	rec.StartPortID = asIntPtr(obj["startportid"])
	rec.EndPortID = asIntPtr(obj["endportid"])
	rec.PortIDs = asIntSlice(obj["portids"])
	rec.RegionIDs = asIntSlice(obj["regionids"])
	rec.MarketID = asIntPtr(obj["marketid"])
	rec.OwnerID = asIntPtr(obj["ownerid"])
	rec.ShipContent = asObject(obj["shipcontent"])
	rec.LineContent = asObject(obj["linecontent"])
	rec.Cabins = asObject(obj["cabins"])
	rec.AltSailings = obj["altsailings"]

	rec.CheapestInside = asFloatPtr(obj["cheapestinside"])
	rec.CheapestOutside = asFloatPtr(obj["cheapestoutside"])
	rec.CheapestBalcony = asFloatPtr(obj["cheapestbalcony"])
	rec.CheapestSuite = asFloatPtr(obj["cheapestsuite"])

	if cheapest := asObject(obj["cheapest"]); cheapest != nil {
		rec.Cheapest = &CheapestBlock{
			Prices:       categoryPricesFrom(asObject(cheapest["prices"])),
			CachedPrices: categoryPricesFrom(asObject(cheapest["cachedprices"])),
			Combined:     categoryPricesFrom(asObject(cheapest["combined"])),
		}
	}

	rec.Itinerary = itineraryFrom(obj["itinerary"])
	rec.Prices = priceGridFrom(obj["prices"])

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal normalized record: %w", err)
	}
	rec.Raw = raw

	return rec, nil
}

func categoryPricesFrom(obj map[string]interface{}) CategoryPrices {
	if obj == nil {
		return CategoryPrices{}
	}
	return CategoryPrices{
		Inside:  asFloatPtr(obj["inside"]),
		Outside: asFloatPtr(obj["outside"]),
		Balcony: asFloatPtr(obj["balcony"]),
		Suite:   asFloatPtr(obj["suite"]),
	}
}

func itineraryFrom(v interface{}) []ItineraryEntry {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	entries := make([]ItineraryEntry, 0, len(items))
	for i, item := range items {
		obj := asObject(item)
		if obj == nil {
			continue
		}
		day := int(asInt64(obj["day"]))
		if day == 0 {
			day = i + 1
		}
		entries = append(entries, ItineraryEntry{
			Day:         day,
			PortID:      asIntPtr(obj["portid"]),
			PortName:    asString(obj["name"]),
			ArriveTime:  asString(obj["arrivetime"]),
			DepartTime:  asString(obj["departtime"]),
			Description: asString(obj["description"]),
		})
	}
	return entries
}

func priceGridFrom(v interface{}) map[string]map[string]map[string]PriceCell {
	rates := asObject(v)
	if rates == nil {
		return nil
	}
	grid := make(map[string]map[string]map[string]PriceCell, len(rates))
	for rateCode, cabinsVal := range rates {
		cabins := asObject(cabinsVal)
		if cabins == nil {
			continue
		}
		cabinGrid := make(map[string]map[string]PriceCell, len(cabins))
		for cabinCode, occVal := range cabins {
			occupancies := asObject(occVal)
			if occupancies == nil {
				continue
			}
			occGrid := make(map[string]PriceCell, len(occupancies))
			for occCode, cellVal := range occupancies {
				cell := asObject(cellVal)
				if cell == nil {
					continue
				}
				occGrid[occCode] = PriceCell{
					Price:     asFloatPtr(cell["price"]),
					CabinType: strings.ToLower(asString(cell["cabintype"])),
				}
			}
			cabinGrid[cabinCode] = occGrid
		}
		grid[rateCode] = cabinGrid
	}
	return grid
}

// Tolerant scalar decoding. The provider emits numbers, numeric strings and
// occasionally empty strings for the same field across files.

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return i
		}
		f, err := n.Float64()
		if err == nil {
			return int64(f)
		}
	case float64:
		return int64(n)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err == nil {
			return i
		}
	}
	return 0
}

func asIntPtr(v interface{}) *int {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	i := int(asInt64(v))
	if i == 0 {
		return nil
	}
	return &i
}

func asFloatPtr(v interface{}) *float64 {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err == nil {
			return &f
		}
	case float64:
		return &n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return &f
		}
	}
	return nil
}

func asIntSlice(v interface{}) []int {
	switch vals := v.(type) {
	case []interface{}:
		out := make([]int, 0, len(vals))
		for _, item := range vals {
			if i := int(asInt64(item)); i != 0 {
				out = append(out, i)
			}
		}
		return out
	case string:
		parts := strings.Split(vals, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			if i, err := strconv.Atoi(strings.TrimSpace(p)); err == nil && i != 0 {
				out = append(out, i)
			}
		}
		return out
	}
	return nil
}

func asObject(v interface{}) map[string]interface{} {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return obj
}

// asDate accepts YYYY-MM-DD or full RFC3339 timestamps
func asDate(v interface{}) *time.Time {
	s := asString(v)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
