package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
)

// Value is a scalar parameter: string, int64, float64 or bool.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind    { return v.kind }
func (v Value) IsValid() bool { return v.kind != KindInvalid }

func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }
func (v Value) Int() (int64, bool)  { return v.i, v.kind == KindInt }
func (v Value) Bool() (bool, bool)  { return v.b, v.kind == KindBool }

// Float returns the value as float64; ints are widened.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	}
	return 0, false
}

// Any returns the underlying Go value (nil when invalid).
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return "<invalid>"
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindInvalid {
		return nil, errors.New("params: cannot marshal invalid value")
	}
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("params: empty value")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var x bool
		if err := json.Unmarshal(b, &x); err != nil {
			return err
		}
		*v = Bool(x)
	case 'n':
		return errors.New("params: null is not a scalar")
	case '{', '[':
		return fmt.Errorf("params: %s is not a scalar", string(b[:1]))
	default:
		if i, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			*v = Int(i)
			return nil
		}
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("params: bad number %q: %w", string(b), err)
		}
		*v = Float(f)
	}
	return nil
}

// Params is a string->scalar map. Iteration via Keys is sorted.
type Params map[string]Value

// Merge copies other into p, last write wins per key. A nil p is allocated.
func (p Params) Merge(other Params) Params {
	if p == nil {
		p = make(Params, len(other))
	}
	for k, v := range other {
		p[k] = v
	}
	return p
}

func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Params) Bool(key string) bool {
	b, ok := p[key].Bool()
	return ok && b
}

func (p Params) Float(key string, def float64) float64 {
	if f, ok := p[key].Float(); ok {
		return f
	}
	return def
}

func (p Params) Str(key, def string) string {
	if s, ok := p[key].Str(); ok {
		return s
	}
	return def
}
