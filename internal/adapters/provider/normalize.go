package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// indexed es un elemento de una respuesta que puede llegar como array o como
// objeto con claves ("0", "1", ... o direcciones).
type indexed struct {
	Key string
	Raw json.RawMessage
}

// decodeIndexed normaliza ambas formas a una lista ordenada: claves numéricas
// ascendentes primero, luego el resto en orden lexicográfico. null → vacío.
func decodeIndexed(raw json.RawMessage) ([]indexed, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		out := make([]indexed, len(arr))
		for i, item := range arr {
			out[i] = indexed{Key: strconv.Itoa(i), Raw: item}
		}
		return out, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		out := make([]indexed, 0, len(obj))
		for k, v := range obj {
			out = append(out, indexed{Key: k, Raw: v})
		}
		sort.Slice(out, func(i, j int) bool {
			return keyLess(out[i].Key, out[j].Key)
		})
		return out, nil

	default:
		return nil, fmt.Errorf("expected array or object, got %q", string(trimmed[:1]))
	}
}

func keyLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// decodeList decodifica cada elemento normalizado en T.
func decodeList[T any](raw json.RawMessage) ([]T, []string, error) {
	items, err := decodeIndexed(raw)
	if err != nil {
		return nil, nil, err
	}
	out := make([]T, 0, len(items))
	keys := make([]string, 0, len(items))
	for _, it := range items {
		var v T
		if err := json.Unmarshal(it.Raw, &v); err != nil {
			return nil, nil, fmt.Errorf("decode item %q: %w", it.Key, err)
		}
		out = append(out, v)
		keys = append(keys, it.Key)
	}
	return out, keys, nil
}
