package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ChoiceKind distinguishes scalar choices from weighted mappings.
type ChoiceKind uint8

const (
	ChoiceScalar ChoiceKind = iota
	ChoiceWeighted
)

func (k ChoiceKind) String() string {
	if k == ChoiceWeighted {
		return "weighted"
	}
	return "scalar"
}

// Choice is the vote content of a submission: either a single choice index
// or a weighted mapping of choice index to weight.
//
// A weighted mapping is kept as the compact JSON the proposer supplied, so key
// order and number literals survive byte-for-byte and the canonical payload can
// be rebuilt exactly.
type Choice struct {
	kind   ChoiceKind
	scalar uint64
	raw    json.RawMessage
	keys   []uint64
}

// ScalarChoice returns a single-choice vote for index n.
func ScalarChoice(n uint64) Choice {
	return Choice{kind: ChoiceScalar, scalar: n, raw: json.RawMessage(strconv.FormatUint(n, 10))}
}

// ParseChoice decodes raw choice JSON. An unsigned integer is a scalar
// choice; an object mapping decimal choice indexes to finite non-negative
// numbers is a weighted choice.
func ParseChoice(raw []byte) (Choice, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Choice{}, fmt.Errorf("%w: empty", ErrInvalidChoice)
	}

	if trimmed[0] != '{' {
		n, err := strconv.ParseUint(string(trimmed), 10, 64)
		if err != nil {
			return Choice{}, fmt.Errorf("%w: %q is not a choice index", ErrInvalidChoice, trimmed)
		}
		return ScalarChoice(n), nil
	}

	keys, err := weightedKeys(trimmed)
	if err != nil {
		return Choice{}, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return Choice{}, fmt.Errorf("%w: %v", ErrInvalidChoice, err)
	}
	return Choice{kind: ChoiceWeighted, raw: compact.Bytes(), keys: keys}, nil
}

// weightedKeys walks the object token by token so duplicate keys are caught
// and the original key order is kept.
func weightedKeys(raw []byte) ([]uint64, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChoice, err)
	}

	var keys []uint64
	seen := make(map[uint64]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidChoice, err)
		}
		key, _ := tok.(string)
		idx, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q is not a choice index", ErrInvalidChoice, key)
		}
		if _, dup := seen[idx]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidChoice, key)
		}
		seen[idx] = struct{}{}

		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidChoice, err)
		}
		num, ok := tok.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: weight for %q is not a number", ErrInvalidChoice, key)
		}
		w, err := num.Float64()
		if err != nil || math.IsInf(w, 0) || math.IsNaN(w) || w < 0 {
			return nil, fmt.Errorf("%w: weight for %q must be a finite non-negative number", ErrInvalidChoice, key)
		}
		keys = append(keys, idx)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChoice, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidChoice)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: weighted choice has no entries", ErrInvalidChoice)
	}
	return keys, nil
}

// Kind returns the choice shape.
func (c Choice) Kind() ChoiceKind { return c.kind }

// IsZero reports whether c was never set.
func (c Choice) IsZero() bool { return len(c.raw) == 0 }

// Scalar returns the choice index of a scalar choice.
func (c Choice) Scalar() (uint64, bool) {
	return c.scalar, c.kind == ChoiceScalar && !c.IsZero()
}

// Keys returns the choice indexes of a weighted choice in their original order.
func (c Choice) Keys() []uint64 {
	out := make([]uint64, len(c.keys))
	copy(out, c.keys)
	return out
}

// JSON returns the exact bytes embedded in the canonical payload.
func (c Choice) JSON() json.RawMessage {
	out := make(json.RawMessage, len(c.raw))
	copy(out, c.raw)
	return out
}

// Weights decodes a weighted choice into a map. Order is lost; use JSON for hashing.
func (c Choice) Weights() (map[string]float64, error) {
	if c.kind != ChoiceWeighted {
		return nil, fmt.Errorf("%w: not a weighted choice", ErrInvalidChoice)
	}
	out := make(map[string]float64, len(c.keys))
	if err := json.Unmarshal(c.raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Check validates the choice against a registered proposal's voting type and
// choice count. Choice indexes are 1-based.
func (c Choice) Check(kind VotingType, choices uint32) error {
	if c.IsZero() {
		return fmt.Errorf("%w: missing", ErrInvalidChoice)
	}
	if c.kind != kind.ChoiceKind() {
		return fmt.Errorf("%w: %s voting requires a %s choice", ErrInvalidChoice, kind, kind.ChoiceKind())
	}
	if c.kind == ChoiceScalar {
		if c.scalar < 1 || c.scalar > uint64(choices) {
			return fmt.Errorf("%w: choice %d out of range 1..%d", ErrInvalidChoice, c.scalar, choices)
		}
		return nil
	}
	for _, k := range c.keys {
		if k < 1 || k > uint64(choices) {
			return fmt.Errorf("%w: choice %d out of range 1..%d", ErrInvalidChoice, k, choices)
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c Choice) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	return c.JSON(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Choice) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = Choice{}
		return nil
	}
	parsed, err := ParseChoice(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
