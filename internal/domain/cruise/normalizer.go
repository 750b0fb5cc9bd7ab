package cruise

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/seatrade/cruisesync-go/internal/domain/shared"
)

// RawForm identifies which of the provider's observed JSON encodings a file
// arrived in. Forms other than RawFormProper are recovered transparently and
// counted as a metric, not treated as errors.
type RawForm string

const (
	// RawFormProper is a plain JSON object
	RawFormProper RawForm = "proper"
	// RawFormJSONString is a JSON string that itself decodes into the object
	RawFormJSONString RawForm = "json_string"
	// RawFormCharIndexed is an object keyed "0","1","2",... whose values are
	// single characters: the string form split character by character
	RawFormCharIndexed RawForm = "char_indexed"
)

// maxCharIndexedLength bounds reconstruction of char-indexed payloads.
// The largest observed in the wild is ~10M characters.
const maxCharIndexedLength = 16 * 1024 * 1024

// Normalizer converts any of the provider's pathological JSON encodings into
// a canonical Record. Detection order follows the observed failure modes:
// char-indexed first, then double-encoded strings, then plain objects, with
// nested recurrences handled recursively.
type Normalizer struct{}

// NewNormalizer creates a Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize decodes raw provider bytes into a canonical Record.
// path is used only for error reporting.
func (n *Normalizer) Normalize(path string, raw []byte) (*Record, RawForm, error) {
	obj, form, err := n.decode(raw, 0)
	if err != nil {
		return nil, form, shared.NewNormalizationError(path, raw, err)
	}
	rec, err := RecordFromObject(obj)
	if err != nil {
		return nil, form, shared.NewNormalizationError(path, raw, err)
	}
	return rec, form, nil
}

// decode applies the detection rules, recursing at most a few levels for
// mixed/nested occurrences of the string and char-indexed forms.
func (n *Normalizer) decode(raw []byte, depth int) (map[string]interface{}, RawForm, error) {
	if depth > 4 {
		return nil, RawFormProper, fmt.Errorf("nesting too deep")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var top interface{}
	if err := dec.Decode(&top); err != nil {
		return nil, RawFormProper, fmt.Errorf("invalid JSON: %w", err)
	}

	switch v := top.(type) {
	case map[string]interface{}:
		if isCharIndexed(v) {
			rebuilt, err := reassembleCharIndexed(v)
			if err != nil {
				return nil, RawFormCharIndexed, err
			}
			obj, _, err := n.decode(rebuilt, depth+1)
			return obj, RawFormCharIndexed, err
		}
		return v, RawFormProper, nil

	case string:
		obj, inner, err := n.decode([]byte(v), depth+1)
		if err != nil {
			return nil, RawFormJSONString, err
		}
		// Report the outermost recovered form except when the inner layer
		// was itself char-indexed, which is the rarer and noisier case.
		if inner == RawFormCharIndexed {
			return obj, RawFormCharIndexed, nil
		}
		return obj, RawFormJSONString, nil

	default:
		return nil, RawFormProper, fmt.Errorf("top-level is %T, expected object or string", top)
	}
}

// isCharIndexed applies the detection rule: keys "0","1","2" present and the
// value at "0" is a length-1 string.
func isCharIndexed(obj map[string]interface{}) bool {
	for _, key := range []string{"0", "1", "2"} {
		if _, ok := obj[key]; !ok {
			return false
		}
	}
	s, ok := obj["0"].(string)
	return ok && len(s) == 1
}

// reassembleCharIndexed concatenates obj[i] for ascending integer i while
// present, yielding the original JSON text.
func reassembleCharIndexed(obj map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(obj))
	for i := 0; ; i++ {
		if i > maxCharIndexedLength {
			return nil, fmt.Errorf("char-indexed payload exceeds %d characters", maxCharIndexedLength)
		}
		v, ok := obj[strconv.Itoa(i)]
		if !ok {
			break
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("char-indexed value at %d is %T, expected string", i, v)
		}
		buf.WriteString(s)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("char-indexed object reassembled to empty string")
	}
	return buf.Bytes(), nil
}
