package interp

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Value is a runtime value. The concrete types mirror the data model the
// code tool exposes: none, booleans, integers, floats, strings, lists,
// dicts, and callables.
type Value interface {
	Type() string
}

type NilValue struct{}

type BoolValue bool

type IntValue int64

type FloatValue float64

type StrValue string

type ListValue struct {
	Elems []Value
}

type dictEntry struct {
	key Value
	val Value
}

// DictValue preserves insertion order so repr and iteration are
// deterministic, which the memoization cache relies on.
type DictValue struct {
	entries []dictEntry
	index   map[string]int
}

// FuncValue is a user-defined function with its defining scope captured.
type FuncValue struct {
	Name    string
	Params  []param
	Body    []stmt
	Closure *env
}

// BuiltinValue is a native function exposed to sandboxed code.
type BuiltinValue struct {
	Name string
	Fn   func(ec *evalCtx, args []Value, kwargs map[string]Value) (Value, error)
}

// ModuleValue is an imported module: a read-only attribute namespace.
type ModuleValue struct {
	Name  string
	Attrs map[string]Value
}

func (NilValue) Type() string     { return "NoneType" }
func (BoolValue) Type() string    { return "bool" }
func (IntValue) Type() string     { return "int" }
func (FloatValue) Type() string   { return "float" }
func (StrValue) Type() string     { return "str" }
func (*ListValue) Type() string   { return "list" }
func (*DictValue) Type() string   { return "dict" }
func (*FuncValue) Type() string   { return "function" }
func (*BuiltinValue) Type() string { return "builtin_function_or_method" }
func (*ModuleValue) Type() string { return "module" }

var theNil = NilValue{}

func NewDict() *DictValue {
	return &DictValue{index: make(map[string]int)}
}

// hashKey returns the identity string for a dict key. Only hashable types
// are accepted.
func hashKey(v Value) (string, error) {
	switch k := v.(type) {
	case StrValue:
		return "s:" + string(k), nil
	case IntValue:
		return "i:" + strconv.FormatInt(int64(k), 10), nil
	case BoolValue:
		if k {
			return "i:1", nil
		}
		return "i:0", nil
	case FloatValue:
		f := float64(k)
		if f == math.Trunc(f) && !math.IsInf(f, 0) {
			return "i:" + strconv.FormatInt(int64(f), 10), nil
		}
		return "f:" + strconv.FormatFloat(f, 'g', -1, 64), nil
	case NilValue:
		return "none", nil
	default:
		return "", fmt.Errorf("unhashable type: '%s'", v.Type())
	}
}

func (d *DictValue) Set(key, val Value) error {
	h, err := hashKey(key)
	if err != nil {
		return err
	}
	if i, ok := d.index[h]; ok {
		d.entries[i].val = val
		return nil
	}
	d.index[h] = len(d.entries)
	d.entries = append(d.entries, dictEntry{key: key, val: val})
	return nil
}

func (d *DictValue) Get(key Value) (Value, bool, error) {
	h, err := hashKey(key)
	if err != nil {
		return nil, false, err
	}
	i, ok := d.index[h]
	if !ok {
		return nil, false, nil
	}
	return d.entries[i].val, true, nil
}

func (d *DictValue) Delete(key Value) (bool, error) {
	h, err := hashKey(key)
	if err != nil {
		return false, err
	}
	i, ok := d.index[h]
	if !ok {
		return false, nil
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	delete(d.index, h)
	for hh, j := range d.index {
		if j > i {
			d.index[hh] = j - 1
		}
	}
	return true, nil
}

func (d *DictValue) Len() int { return len(d.entries) }

func (d *DictValue) Keys() []Value {
	out := make([]Value, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.key
	}
	return out
}

func (d *DictValue) Values() []Value {
	out := make([]Value, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.val
	}
	return out
}

// Truthy implements Python truthiness.
func Truthy(v Value) bool {
	switch t := v.(type) {
	case NilValue:
		return false
	case BoolValue:
		return bool(t)
	case IntValue:
		return t != 0
	case FloatValue:
		return t != 0
	case StrValue:
		return t != ""
	case *ListValue:
		return len(t.Elems) > 0
	case *DictValue:
		return t.Len() > 0
	default:
		return true
	}
}

// Equal implements == semantics, with int/float cross-comparison.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case NilValue:
		_, ok := b.(NilValue)
		return ok
	case BoolValue:
		if bv, ok := b.(BoolValue); ok {
			return av == bv
		}
		return numericEqual(a, b)
	case IntValue, FloatValue:
		return numericEqual(a, b)
	case StrValue:
		bv, ok := b.(StrValue)
		return ok && av == bv
	case *ListValue:
		bv, ok := b.(*ListValue)
		if !ok || len(av.Elems) != len(bv.Elems) {
			return false
		}
		for i := range av.Elems {
			if !Equal(av.Elems[i], bv.Elems[i]) {
				return false
			}
		}
		return true
	case *DictValue:
		bv, ok := b.(*DictValue)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for _, e := range av.entries {
			other, found, err := bv.Get(e.key)
			if err != nil || !found || !Equal(e.val, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func numericEqual(a, b Value) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v Value) (float64, bool) {
	switch t := v.(type) {
	case IntValue:
		return float64(t), true
	case FloatValue:
		return float64(t), true
	case BoolValue:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toInt(v Value) (int64, bool) {
	switch t := v.(type) {
	case IntValue:
		return int64(t), true
	case BoolValue:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Compare returns -1, 0, or 1 for ordered types, or an error for
// incomparable operands.
func Compare(a, b Value) (int, error) {
	if as, ok := a.(StrValue); ok {
		if bs, ok := b.(StrValue); ok {
			return strings.Compare(string(as), string(bs)), nil
		}
	}
	if al, ok := a.(*ListValue); ok {
		if bl, ok := b.(*ListValue); ok {
			return compareLists(al, bl)
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return 0, fmt.Errorf("'<' not supported between instances of '%s' and '%s'", a.Type(), b.Type())
}

func compareLists(a, b *ListValue) (int, error) {
	n := len(a.Elems)
	if len(b.Elems) < n {
		n = len(b.Elems)
	}
	for i := 0; i < n; i++ {
		c, err := Compare(a.Elems[i], b.Elems[i])
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	switch {
	case len(a.Elems) < len(b.Elems):
		return -1, nil
	case len(a.Elems) > len(b.Elems):
		return 1, nil
	default:
		return 0, nil
	}
}

// Repr renders a value the way the REPL echoes it: strings quoted,
// containers element by element.
func Repr(v Value) string {
	switch t := v.(type) {
	case NilValue:
		return "None"
	case BoolValue:
		if t {
			return "True"
		}
		return "False"
	case IntValue:
		return strconv.FormatInt(int64(t), 10)
	case FloatValue:
		return formatFloat(float64(t))
	case StrValue:
		return "'" + strings.NewReplacer("\\", "\\\\", "'", "\\'", "\n", "\\n", "\t", "\\t").Replace(string(t)) + "'"
	case *ListValue:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = Repr(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *DictValue:
		parts := make([]string, 0, t.Len())
		for _, e := range t.entries {
			parts = append(parts, Repr(e.key)+": "+Repr(e.val))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *FuncValue:
		return "<function " + t.Name + ">"
	case *BuiltinValue:
		return "<built-in function " + t.Name + ">"
	case *ModuleValue:
		return "<module '" + t.Name + "'>"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Str renders a value the way print does: strings bare, everything else
// as repr.
func Str(v Value) string {
	if s, ok := v.(StrValue); ok {
		return string(s)
	}
	return Repr(v)
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// Whole floats print with a trailing .0 like Python's repr.
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// StableRepr renders a value deterministically for state hashing: dict
// entries sorted by key repr so logically equal states hash equal.
func StableRepr(v Value) string {
	d, ok := v.(*DictValue)
	if !ok {
		if l, lok := v.(*ListValue); lok {
			parts := make([]string, len(l.Elems))
			for i, e := range l.Elems {
				parts[i] = StableRepr(e)
			}
			return "[" + strings.Join(parts, ", ") + "]"
		}
		return Repr(v)
	}
	parts := make([]string, 0, d.Len())
	for _, e := range d.entries {
		parts = append(parts, StableRepr(e.key)+": "+StableRepr(e.val))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}
