package cruise_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatrade/cruisesync-go/internal/domain/cruise"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// charIndexed converts a JSON document into the provider's pathological
// character-indexed object form: {"0":"{","1":"\"",...}
func charIndexed(t *testing.T, doc string) []byte {
	t.Helper()
	obj := make(map[string]string, len(doc))
	for i, r := range []rune(doc) {
		obj[fmt.Sprintf("%d", i)] = string(r)
	}
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	return raw
}

func TestNormalize_ProperObject(t *testing.T) {
	n := cruise.NewNormalizer()

	raw := []byte(`{
		"cruiseid": 2144014,
		"codetocruiseid": "2144014",
		"lineid": 22,
		"shipid": 180,
		"nights": 7,
		"saildate": "2025-10-06",
		"cheapestinside": 899.00,
		"cheapestoutside": 999.00,
		"cheapestbalcony": 1199.00,
		"cheapestsuite": 1599.00
	}`)

	rec, form, err := n.Normalize("/2025/10/22/180/2144014.json", raw)

	require.NoError(t, err)
	assert.Equal(t, cruise.RawFormProper, form)
	assert.Equal(t, "2144014", rec.CodeToCruiseID)
	assert.Equal(t, int64(2144014), rec.CruiseID)
	assert.Equal(t, 22, rec.LineID)
	assert.Equal(t, 180, rec.ShipID)
	assert.Equal(t, 7, rec.Nights)
	require.NotNil(t, rec.SailDate)
	assert.Equal(t, "2025-10-06", rec.SailDate.Format("2006-01-02"))
	require.NotNil(t, rec.CheapestInside)
	assert.InDelta(t, 899.00, *rec.CheapestInside, 0.001)
}

func TestNormalize_DoubleEncodedString(t *testing.T) {
	n := cruise.NewNormalizer()

	// Form (b): a JSON string that itself decodes into the object
	raw := []byte(`"{\"cruiseid\":1,\"codetocruiseid\":\"1\",\"cheapestinside\":100}"`)

	rec, form, err := n.Normalize("file.json", raw)

	require.NoError(t, err)
	assert.Equal(t, cruise.RawFormJSONString, form)
	require.NotNil(t, rec.CheapestInside)
	assert.InDelta(t, 100, *rec.CheapestInside, 0.001)
}

func TestNormalize_CharIndexed(t *testing.T) {
	n := cruise.NewNormalizer()

	doc := `{"cruiseid":55,"codetocruiseid":"55","lineid":7,"shipid":9,"nights":10,"cheapestbalcony":"1250.50"}`
	raw := charIndexed(t, doc)

	rec, form, err := n.Normalize("file.json", raw)

	require.NoError(t, err)
	assert.Equal(t, cruise.RawFormCharIndexed, form)
	assert.Equal(t, "55", rec.CodeToCruiseID)
	assert.Equal(t, 7, rec.LineID)
	require.NotNil(t, rec.CheapestBalcony)
	assert.InDelta(t, 1250.50, *rec.CheapestBalcony, 0.001)
}

func TestNormalize_CharIndexedLargeDocument(t *testing.T) {
	n := cruise.NewNormalizer()

	// ~10KB object reconstructed from single-character values
	var sb strings.Builder
	sb.WriteString(`{"codetocruiseid":"9001","name":"`)
	sb.WriteString(strings.Repeat("A", 10*1024))
	sb.WriteString(`"}`)
	raw := charIndexed(t, sb.String())

	rec, form, err := n.Normalize("big.json", raw)

	require.NoError(t, err)
	assert.Equal(t, cruise.RawFormCharIndexed, form)
	assert.Equal(t, "9001", rec.CodeToCruiseID)
	assert.Len(t, rec.Name, 10*1024)
}

func TestNormalize_NestedStringThenCharIndexed(t *testing.T) {
	n := cruise.NewNormalizer()

	// Form (d): a JSON string wrapping a char-indexed object
	inner := charIndexed(t, `{"codetocruiseid":"77","cheapestsuite":4000}`)
	outer, err := json.Marshal(string(inner))
	require.NoError(t, err)

	rec, form, err := n.Normalize("nested.json", outer)

	require.NoError(t, err)
	assert.Equal(t, cruise.RawFormCharIndexed, form)
	assert.Equal(t, "77", rec.CodeToCruiseID)
}

func TestNormalize_InvalidJSON(t *testing.T) {
	n := cruise.NewNormalizer()

	_, _, err := n.Normalize("broken.json", []byte(`{"cruiseid": `))

	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNormalizationFailed))

	var nerr *shared.NormalizationError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "broken.json", nerr.Path)
	assert.NotEmpty(t, nerr.RawPrefix)
}

func TestNormalize_MissingCodeToCruiseID(t *testing.T) {
	n := cruise.NewNormalizer()

	_, _, err := n.Normalize("nokey.json", []byte(`{"cruiseid": 5}`))

	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNormalizationFailed))
}

func TestNormalize_RawPrefixIsBounded(t *testing.T) {
	n := cruise.NewNormalizer()

	raw := []byte("[" + strings.Repeat("1,", 4096) + "1]") // valid JSON, wrong top-level type
	_, _, err := n.Normalize("array.json", raw)

	require.Error(t, err)
	var nerr *shared.NormalizationError
	require.True(t, errors.As(err, &nerr))
	assert.LessOrEqual(t, len(nerr.RawPrefix), 256)
}

func TestNormalize_TolerantFieldShapes(t *testing.T) {
	n := cruise.NewNormalizer()

	raw := []byte(`{
		"codetocruiseid": 314159,
		"lineid": "42",
		"portids": "101, 102,103",
		"regionids": [4, "5"],
		"itinerary": [
			{"day": 1, "portid": 101, "name": "Southampton", "departtime": "17:00"},
			{"portid": "102", "arrivetime": "08:00", "departtime": "18:00"}
		]
	}`)

	rec, _, err := n.Normalize("shapes.json", raw)

	require.NoError(t, err)
	assert.Equal(t, "314159", rec.CodeToCruiseID)
	assert.Equal(t, 42, rec.LineID)
	assert.Equal(t, []int{101, 102, 103}, rec.PortIDs)
	assert.Equal(t, []int{4, 5}, rec.RegionIDs)
	require.Len(t, rec.Itinerary, 2)
	assert.Equal(t, 1, rec.Itinerary[0].Day)
	assert.Equal(t, 2, rec.Itinerary[1].Day) // positional fallback
	require.NotNil(t, rec.Itinerary[1].PortID)
	assert.Equal(t, 102, *rec.Itinerary[1].PortID)
}
