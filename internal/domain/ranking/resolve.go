package ranking

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformedEmbedding signals an embedding field that could not be decoded.
var ErrMalformedEmbedding = errors.New("malformed embedding")

// ResolveEmbedding normalizes a stored embedding field into a vector.
//
// Backends hand embeddings back in different shapes: native float slices
// (pgx FLOAT8[], go-openai), JSON text columns (sqlite, hosted Postgres),
// raw bytes and decoded JSON arrays ([]any). A nil or blank value resolves
// to (nil, nil), i.e. absent. Anything undecodable returns ErrMalformedEmbedding.
func ResolveEmbedding(v any) ([]float32, error) {
	switch e := v.(type) {
	case nil:
		return nil, nil
	case []float32:
		return e, nil
	case []float64:
		out := make([]float32, len(e))
		for i, f := range e {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		return fromAnySlice(e)
	case json.RawMessage:
		return decodeText(string(e))
	case []byte:
		return decodeText(string(e))
	case string:
		return decodeText(e)
	default:
		return nil, fmt.Errorf("unsupported embedding type %T: %w", v, ErrMalformedEmbedding)
	}
}

func fromAnySlice(items []any) ([]float32, error) {
	out := make([]float32, len(items))
	for i, item := range items {
		switch n := item.(type) {
		case float64:
			out[i] = float32(n)
		case float32:
			out[i] = n
		case int:
			out[i] = float32(n)
		case int64:
			out[i] = float32(n)
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, ErrMalformedEmbedding)
			}
			out[i] = float32(f)
		default:
			return nil, fmt.Errorf("element %d has type %T: %w", i, item, ErrMalformedEmbedding)
		}
	}
	return out, nil
}

// decodeText parses a JSON array ("[0.1,0.2]") or a Postgres array literal ("{0.1,0.2}").
func decodeText(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		s = "[" + s[1:len(s)-1] + "]"
	}

	var raw []float64
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("decode embedding: %w: %w", ErrMalformedEmbedding, err)
	}

	out := make([]float32, len(raw))
	for i, f := range raw {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("element %d is not finite: %w", i, ErrMalformedEmbedding)
		}
		out[i] = float32(f)
	}
	return out, nil
}
