// Package records models the raw archive records mirrored from agencies.
// Records are immutable once fetched; redaction derives new values instead of
// mutating them.
package records

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind tags the scalar or sequence type held by a Value.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindTime   Kind = "time"
	KindList   Kind = "list"
)

// Value is a typed field value. Only the member matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
	List  []Value
}

func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value          { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value      { return Value{Kind: KindFloat, Float: f} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Time(t time.Time) Value     { return Value{Kind: KindTime, Time: t.UTC()} }
func List(values ...Value) Value { return Value{Kind: KindList, List: append([]Value(nil), values...)} }

// IsText reports whether the value is free text that span detection applies to.
func (v Value) IsText() bool {
	return v.Kind == KindString
}

// Text renders the value the way detectors and prefix filters see it.
func (v Value) Text() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindTime:
		return v.Time.Format(time.RFC3339Nano)
	case KindList:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = item.Text()
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// Numeric returns the value as a float64 when it is a number.
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	}
	return 0, false
}

// Compare orders two values of comparable kinds. Numbers compare across
// int/float; ok is false for incomparable kinds.
func (v Value) Compare(other Value) (cmp int, ok bool) {
	if a, aok := v.Numeric(); aok {
		b, bok := other.Numeric()
		if !bok {
			return 0, false
		}
		switch {
		case a < b:
			return -1, true
		case a > b:
			return 1, true
		}
		return 0, true
	}
	if v.Kind != other.Kind {
		return 0, false
	}
	switch v.Kind {
	case KindString:
		return strings.Compare(v.Str, other.Str), true
	case KindTime:
		return v.Time.Compare(other.Time), true
	case KindBool:
		if v.Bool == other.Bool {
			return 0, true
		}
		if !v.Bool {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// Equal reports deep equality, treating numerically equal ints and floats as equal.
func (v Value) Equal(other Value) bool {
	if v.Kind == KindList || other.Kind == KindList {
		if v.Kind != other.Kind || len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	}
	cmp, ok := v.Compare(other)
	return ok && cmp == 0
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	if v.Kind == KindList {
		out := v
		out.List = make([]Value, len(v.List))
		for i, item := range v.List {
			out.List[i] = item.Clone()
		}
		return out
	}
	return v
}

// MarshalJSON renders the natural JSON form (string, number, bool, array).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindTime:
		return json.Marshal(v.Time.Format(time.RFC3339Nano))
	case KindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	}
	return nil, fmt.Errorf("unknown value kind %q", v.Kind)
}

// UnmarshalJSON accepts the natural JSON form. Integral numbers become KindInt.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("invalid number %q", t.String())
		}
		return Float(f), nil
	case []any:
		out := make([]Value, 0, len(t))
		for _, item := range t {
			iv, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			out = append(out, iv)
		}
		return Value{Kind: KindList, List: out}, nil
	}
	return Value{}, fmt.Errorf("unsupported JSON value %T", raw)
}

// Field is one named value in a record's ordered field list.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Record is a raw archive record as fetched from an agency.
type Record struct {
	ID           string    `json:"id"`
	Dataset      string    `json:"dataset"`
	SourceAgency string    `json:"source_agency"`
	FetchedAt    time.Time `json:"fetched_at"`
	Fields       []Field   `json:"fields"`
}

// Get returns the first field with the given name.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Clone returns a deep copy so callers cannot alias the stored record.
func (r Record) Clone() Record {
	out := r
	out.Fields = make([]Field, len(r.Fields))
	for i, f := range r.Fields {
		out.Fields[i] = Field{Name: f.Name, Value: f.Value.Clone()}
	}
	return out
}

// SortKey returns the stable key pagination cursors are derived from.
func (r Record) SortKey() SortKey {
	return SortKey{FetchedAt: r.FetchedAt.UTC(), ID: r.ID}
}

// SortKey orders records by fetch time, breaking ties by id.
type SortKey struct {
	FetchedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// Less reports whether k sorts strictly before other.
func (k SortKey) Less(other SortKey) bool {
	if !k.FetchedAt.Equal(other.FetchedAt) {
		return k.FetchedAt.Before(other.FetchedAt)
	}
	return k.ID < other.ID
}

// Equal reports whether both keys name the same position.
func (k SortKey) Equal(other SortKey) bool {
	return k.ID == other.ID && k.FetchedAt.Equal(other.FetchedAt)
}

// Lex renders the key so that byte order equals sort order.
func (k SortKey) Lex() string {
	return fmt.Sprintf("%020d|%s", k.FetchedAt.UnixNano(), k.ID)
}
