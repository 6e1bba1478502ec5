package interp

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// baseGlobals builds the top-level namespace: builtin functions plus the
// shared context dict and the result variable the code tool reads back.
func baseGlobals() map[string]Value {
	g := make(map[string]Value, len(builtinTable)+2)
	for name, fn := range builtinTable {
		g[name] = &BuiltinValue{Name: name, Fn: fn}
	}
	g["context"] = NewDict()
	g["result"] = theNil
	return g
}

type builtinFn func(ec *evalCtx, args []Value, kwargs map[string]Value) (Value, error)

var builtinTable map[string]builtinFn

func init() {
	builtinTable = map[string]builtinFn{
		"print":     builtinPrint,
		"len":       builtinLen,
		"range":     builtinRange,
		"sum":       builtinSum,
		"min":       builtinMin,
		"max":       builtinMax,
		"abs":       builtinAbs,
		"round":     builtinRound,
		"sorted":    builtinSorted,
		"reversed":  builtinReversed,
		"enumerate": builtinEnumerate,
		"zip":       builtinZip,
		"map":       builtinMap,
		"filter":    builtinFilter,
		"any":       builtinAny,
		"all":       builtinAll,
		"str":       builtinStr,
		"repr":      builtinRepr,
		"int":       builtinInt,
		"float":     builtinFloat,
		"bool":      builtinBool,
		"list":      builtinList,
		"dict":      builtinDict,
		"type":      builtinType,
		"isinstance": builtinIsinstance,
	}
}

func builtinPrint(ec *evalCtx, args []Value, kwargs map[string]Value) (Value, error) {
	sep := " "
	end := "\n"
	if v, ok := kwargs["sep"]; ok {
		if s, ok := v.(StrValue); ok {
			sep = string(s)
		}
	}
	if v, ok := kwargs["end"]; ok {
		if s, ok := v.(StrValue); ok {
			end = string(s)
		}
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = Str(a)
	}
	ec.out.WriteString(strings.Join(parts, sep) + end)
	return theNil, nil
}

func builtinLen(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("len() takes exactly one argument (%d given)", len(args))
	}
	switch t := args[0].(type) {
	case StrValue:
		return IntValue(len([]rune(string(t)))), nil
	case *ListValue:
		return IntValue(len(t.Elems)), nil
	case *DictValue:
		return IntValue(t.Len()), nil
	default:
		return nil, fmt.Errorf("object of type '%s' has no len()", args[0].Type())
	}
}

func builtinRange(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	var start, stop, step int64 = 0, 0, 1
	switch len(args) {
	case 1:
		n, ok := toInt(args[0])
		if !ok {
			return nil, fmt.Errorf("range() argument must be int")
		}
		stop = n
	case 2, 3:
		a, aok := toInt(args[0])
		b, bok := toInt(args[1])
		if !aok || !bok {
			return nil, fmt.Errorf("range() arguments must be int")
		}
		start, stop = a, b
		if len(args) == 3 {
			c, cok := toInt(args[2])
			if !cok || c == 0 {
				return nil, fmt.Errorf("range() step must be a non-zero int")
			}
			step = c
		}
	default:
		return nil, fmt.Errorf("range expected 1 to 3 arguments, got %d", len(args))
	}

	var count int64
	if step > 0 && stop > start {
		count = (stop - start + step - 1) / step
	} else if step < 0 && stop < start {
		count = (start - stop - step - 1) / (-step)
	}
	if err := ec.alloc(16*count, 0); err != nil {
		return nil, err
	}
	out := make([]Value, 0, count)
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		out = append(out, IntValue(i))
	}
	return &ListValue{Elems: out}, nil
}

func builtinSum(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("sum expected 1 or 2 arguments, got %d", len(args))
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, err
	}
	var acc Value = IntValue(0)
	if len(args) == 2 {
		acc = args[1]
	}
	for _, it := range items {
		v, err := addNumeric(acc, it)
		if err != nil {
			return nil, err
		}
		acc = v
	}
	return acc, nil
}

func addNumeric(a, b Value) (Value, error) {
	ai, aok := toInt(a)
	bi, bok := toInt(b)
	if aok && bok {
		return IntValue(ai + bi), nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return FloatValue(af + bf), nil
	}
	return nil, fmt.Errorf("unsupported operand type(s) for +: '%s' and '%s'", a.Type(), b.Type())
}

func extremum(args []Value, want int) (Value, error) {
	var items []Value
	if len(args) == 1 {
		var err error
		items, err = iterate(args[0], 0)
		if err != nil {
			return nil, err
		}
	} else {
		items = args
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("arg is an empty sequence")
	}
	best := items[0]
	for _, it := range items[1:] {
		c, err := Compare(it, best)
		if err != nil {
			return nil, err
		}
		if c == want {
			best = it
		}
	}
	return best, nil
}

func builtinMin(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	return extremum(args, -1)
}

func builtinMax(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	return extremum(args, 1)
}

func builtinAbs(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("abs() takes exactly one argument")
	}
	switch n := args[0].(type) {
	case IntValue:
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case FloatValue:
		return FloatValue(math.Abs(float64(n))), nil
	}
	return nil, fmt.Errorf("bad operand type for abs(): '%s'", args[0].Type())
}

func builtinRound(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("round expected 1 or 2 arguments")
	}
	f, ok := toFloat(args[0])
	if !ok {
		return nil, fmt.Errorf("round() argument must be a number, not '%s'", args[0].Type())
	}
	if len(args) == 2 {
		nd, ok := toInt(args[1])
		if !ok {
			return nil, fmt.Errorf("round() ndigits must be int")
		}
		scale := math.Pow(10, float64(nd))
		return FloatValue(math.Round(f*scale) / scale), nil
	}
	if _, isInt := args[0].(IntValue); isInt {
		return args[0], nil
	}
	return IntValue(int64(math.Round(f))), nil
}

// sortValues orders elems in place, calling key (when non-nil) to derive
// sort keys. Comparison errors surface after sorting since sort.Slice
// cannot abort midway.
func sortValues(ec *evalCtx, elems []Value, key Value, reverse bool) error {
	keys := elems
	if key != nil {
		if _, isNil := key.(NilValue); !isNil {
			keys = make([]Value, len(elems))
			for i, e := range elems {
				k, err := callValue(ec, key, []Value{e}, nil, 0)
				if err != nil {
					return err
				}
				keys[i] = k
			}
		}
	}
	idx := make([]int, len(elems))
	for i := range idx {
		idx[i] = i
	}
	var sortErr error
	sort.SliceStable(idx, func(a, b int) bool {
		c, err := Compare(keys[idx[a]], keys[idx[b]])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if sortErr != nil {
		return sortErr
	}
	sorted := make([]Value, len(elems))
	for i, j := range idx {
		sorted[i] = elems[j]
	}
	copy(elems, sorted)
	return nil
}

func builtinSorted(ec *evalCtx, args []Value, kwargs map[string]Value) (Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("sorted expected 1 argument, got %d", len(args))
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, err
	}
	if err := ec.alloc(16*int64(len(items)), 0); err != nil {
		return nil, err
	}
	out := make([]Value, len(items))
	copy(out, items)
	reverse := false
	if rv, ok := kwargs["reverse"]; ok {
		reverse = Truthy(rv)
	}
	if err := sortValues(ec, out, kwargs["key"], reverse); err != nil {
		return nil, err
	}
	return &ListValue{Elems: out}, nil
}

func builtinReversed(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("reversed() takes exactly one argument")
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, err
	}
	if err := ec.alloc(16*int64(len(items)), 0); err != nil {
		return nil, err
	}
	out := make([]Value, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it
	}
	return &ListValue{Elems: out}, nil
}

func builtinEnumerate(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("enumerate expected 1 or 2 arguments")
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, err
	}
	var start int64
	if len(args) == 2 {
		n, ok := toInt(args[1])
		if !ok {
			return nil, fmt.Errorf("enumerate() start must be int")
		}
		start = n
	}
	if err := ec.alloc(48*int64(len(items)), 0); err != nil {
		return nil, err
	}
	out := make([]Value, len(items))
	for i, it := range items {
		out[i] = &ListValue{Elems: []Value{IntValue(start + int64(i)), it}}
	}
	return &ListValue{Elems: out}, nil
}

func builtinZip(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) == 0 {
		return &ListValue{}, nil
	}
	lists := make([][]Value, len(args))
	shortest := -1
	for i, a := range args {
		items, err := iterate(a, 0)
		if err != nil {
			return nil, err
		}
		lists[i] = items
		if shortest < 0 || len(items) < shortest {
			shortest = len(items)
		}
	}
	if err := ec.alloc(int64(16*(len(args)+1)*shortest), 0); err != nil {
		return nil, err
	}
	out := make([]Value, shortest)
	for i := 0; i < shortest; i++ {
		row := make([]Value, len(lists))
		for j := range lists {
			row[j] = lists[j][i]
		}
		out[i] = &ListValue{Elems: row}
	}
	return &ListValue{Elems: out}, nil
}

func builtinMap(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("map expected 2 arguments, got %d", len(args))
	}
	items, err := iterate(args[1], 0)
	if err != nil {
		return nil, err
	}
	if err := ec.alloc(16*int64(len(items)), 0); err != nil {
		return nil, err
	}
	out := make([]Value, len(items))
	for i, it := range items {
		v, err := callValue(ec, args[0], []Value{it}, nil, 0)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return &ListValue{Elems: out}, nil
}

func builtinFilter(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("filter expected 2 arguments, got %d", len(args))
	}
	items, err := iterate(args[1], 0)
	if err != nil {
		return nil, err
	}
	var out []Value
	for _, it := range items {
		keep := Truthy(it)
		if _, isNil := args[0].(NilValue); !isNil {
			v, err := callValue(ec, args[0], []Value{it}, nil, 0)
			if err != nil {
				return nil, err
			}
			keep = Truthy(v)
		}
		if keep {
			if err := ec.alloc(16, 0); err != nil {
				return nil, err
			}
			out = append(out, it)
		}
	}
	return &ListValue{Elems: out}, nil
}

func builtinAny(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("any() takes exactly one argument")
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if Truthy(it) {
			return BoolValue(true), nil
		}
	}
	return BoolValue(false), nil
}

func builtinAll(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("all() takes exactly one argument")
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		if !Truthy(it) {
			return BoolValue(false), nil
		}
	}
	return BoolValue(true), nil
}

func builtinStr(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) == 0 {
		return StrValue(""), nil
	}
	s := Str(args[0])
	if err := ec.alloc(int64(len(s)), 0); err != nil {
		return nil, err
	}
	return StrValue(s), nil
}

func builtinRepr(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("repr() takes exactly one argument")
	}
	s := Repr(args[0])
	if err := ec.alloc(int64(len(s)), 0); err != nil {
		return nil, err
	}
	return StrValue(s), nil
}

func builtinInt(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) == 0 {
		return IntValue(0), nil
	}
	switch t := args[0].(type) {
	case IntValue:
		return t, nil
	case BoolValue:
		if t {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	case FloatValue:
		return IntValue(int64(t)), nil
	case StrValue:
		n, err := strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid literal for int() with base 10: %s", Repr(t))
		}
		return IntValue(n), nil
	}
	return nil, fmt.Errorf("int() argument must be a string or a number, not '%s'", args[0].Type())
}

func builtinFloat(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) == 0 {
		return FloatValue(0), nil
	}
	if f, ok := toFloat(args[0]); ok {
		return FloatValue(f), nil
	}
	if s, ok := args[0].(StrValue); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
		if err != nil {
			return nil, fmt.Errorf("could not convert string to float: %s", Repr(s))
		}
		return FloatValue(f), nil
	}
	return nil, fmt.Errorf("float() argument must be a string or a number, not '%s'", args[0].Type())
}

func builtinBool(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) == 0 {
		return BoolValue(false), nil
	}
	return BoolValue(Truthy(args[0])), nil
}

func builtinList(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) == 0 {
		return &ListValue{}, nil
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, err
	}
	if err := ec.alloc(16*int64(len(items)), 0); err != nil {
		return nil, err
	}
	out := make([]Value, len(items))
	copy(out, items)
	return &ListValue{Elems: out}, nil
}

func builtinDict(ec *evalCtx, args []Value, kwargs map[string]Value) (Value, error) {
	d := NewDict()
	if len(args) == 1 {
		if src, ok := args[0].(*DictValue); ok {
			for _, e := range src.entries {
				if err := d.Set(e.key, e.val); err != nil {
					return nil, err
				}
			}
		} else {
			pairs, err := iterate(args[0], 0)
			if err != nil {
				return nil, err
			}
			for _, p := range pairs {
				kv, err := iterate(p, 0)
				if err != nil || len(kv) != 2 {
					return nil, fmt.Errorf("dictionary update sequence elements must be pairs")
				}
				if err := d.Set(kv[0], kv[1]); err != nil {
					return nil, err
				}
			}
		}
	}
	for k, v := range kwargs {
		if err := d.Set(StrValue(k), v); err != nil {
			return nil, err
		}
	}
	if err := ec.alloc(48*int64(d.Len())+48, 0); err != nil {
		return nil, err
	}
	return d, nil
}

func builtinType(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("type() takes exactly one argument")
	}
	return StrValue("<class '" + args[0].Type() + "'>"), nil
}

func builtinIsinstance(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("isinstance expected 2 arguments, got %d", len(args))
	}
	// Type arguments arrive as the constructor builtins (int, str, list...).
	b, ok := args[1].(*BuiltinValue)
	if !ok {
		return nil, fmt.Errorf("isinstance() arg 2 must be a type")
	}
	got := args[0].Type()
	want := b.Name
	if want == "float" {
		return BoolValue(got == "float"), nil
	}
	if want == "int" {
		return BoolValue(got == "int" || got == "bool"), nil
	}
	return BoolValue(got == want), nil
}
