package event

import (
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"time"
)

// Payload is a flat mapping of primitive values: strings, numbers, booleans,
// timestamps and lists thereof. Producers keep internal object references out;
// the bus does not reject a payload that violates this.
type Payload map[string]any

// Clone returns a copy that shares no list with p. A nil payload clones to an empty one.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}

	return out
}

// Primitive returns a copy holding only primitive values.
func (p Payload) Primitive() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		if IsPrimitive(v) {
			out[k] = cloneValue(v)
		}
	}

	return out
}

// cloneValue copies list values; scalars and non-primitive values are returned as is.
func cloneValue(v any) any {
	switch x := v.(type) {
	case []string:
		return slices.Clone(x)
	case []bool:
		return slices.Clone(x)
	case []time.Time:
		return slices.Clone(x)
	case []int:
		return slices.Clone(x)
	case []int32:
		return slices.Clone(x)
	case []int64:
		return slices.Clone(x)
	case []uint:
		return slices.Clone(x)
	case []uint64:
		return slices.Clone(x)
	case []float32:
		return slices.Clone(x)
	case []float64:
		return slices.Clone(x)
	case []any:
		return slices.Clone(x)
	default:
		return v
	}
}

// NonPrimitiveKeys returns the sorted keys whose values are not primitive.
func (p Payload) NonPrimitiveKeys() []string {
	var keys []string
	for k, v := range p {
		if !IsPrimitive(v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	return keys
}

// IsPrimitive reports whether v may appear in a payload.
func IsPrimitive(v any) bool {
	if isScalar(v) {
		return true
	}

	switch x := v.(type) {
	case []string, []bool, []time.Time,
		[]int, []int32, []int64, []uint, []uint64,
		[]float32, []float64:
		return true
	case []any:
		for _, e := range x {
			if !isScalar(e) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, time.Time, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// canonical returns the identity fields that always win over caller keys.
func canonical(aggregateKind, aggregateID string) Payload {
	canon := Payload{"aggregate_id": aggregateID}
	canon[aggregateKind+"_id"] = aggregateID

	return canon
}

// merge overlays canonical fields on a copy of the caller payload.
func merge(caller Payload, canon Payload) Payload {
	out := caller.Clone()
	maps.Copy(out, canon)

	return out
}
