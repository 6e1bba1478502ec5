package interp

import (
	"fmt"
	"strings"
)

// attrValue resolves obj.name: module attributes and the bound methods of
// the builtin types.
func attrValue(obj Value, name string, line int) (Value, error) {
	if m, ok := obj.(*ModuleValue); ok {
		if v, ok := m.Attrs[name]; ok {
			return v, nil
		}
		return nil, execErr(line, "module '%s' has no attribute '%s'", m.Name, name)
	}

	switch t := obj.(type) {
	case StrValue:
		if m := strMethod(t, name); m != nil {
			return m, nil
		}
	case *ListValue:
		if m := listMethod(t, name); m != nil {
			return m, nil
		}
	case *DictValue:
		if m := dictMethod(t, name); m != nil {
			return m, nil
		}
	}
	return nil, execErr(line, "'%s' object has no attribute '%s'", obj.Type(), name)
}

func method(name string, fn func(ec *evalCtx, args []Value, kwargs map[string]Value) (Value, error)) *BuiltinValue {
	return &BuiltinValue{Name: name, Fn: fn}
}

func wantArgs(name string, args []Value, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		return fmt.Errorf("%s() got %d arguments", name, len(args))
	}
	return nil
}

func argStr(args []Value, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i+1)
	}
	s, ok := args[i].(StrValue)
	if !ok {
		return "", fmt.Errorf("argument %d must be str, not %s", i+1, args[i].Type())
	}
	return string(s), nil
}

func strMethod(s StrValue, name string) *BuiltinValue {
	str := string(s)
	switch name {
	case "upper":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			return StrValue(strings.ToUpper(str)), nil
		})
	case "lower":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			return StrValue(strings.ToLower(str)), nil
		})
	case "strip":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if len(args) == 1 {
				cut, err := argStr(args, 0)
				if err != nil {
					return nil, err
				}
				return StrValue(strings.Trim(str, cut)), nil
			}
			return StrValue(strings.TrimSpace(str)), nil
		})
	case "lstrip":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			return StrValue(strings.TrimLeft(str, " \t\n\r")), nil
		})
	case "rstrip":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			return StrValue(strings.TrimRight(str, " \t\n\r")), nil
		})
	case "split":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			var parts []string
			if len(args) >= 1 {
				sep, err := argStr(args, 0)
				if err != nil {
					return nil, err
				}
				parts = strings.Split(str, sep)
			} else {
				parts = strings.Fields(str)
			}
			out := make([]Value, len(parts))
			for i, p := range parts {
				out[i] = StrValue(p)
			}
			return &ListValue{Elems: out}, nil
		})
	case "splitlines":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			lines := strings.Split(strings.TrimSuffix(str, "\n"), "\n")
			out := make([]Value, len(lines))
			for i, l := range lines {
				out[i] = StrValue(l)
			}
			return &ListValue{Elems: out}, nil
		})
	case "join":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 1); err != nil {
				return nil, err
			}
			items, err := iterate(args[0], 0)
			if err != nil {
				return nil, err
			}
			parts := make([]string, len(items))
			for i, it := range items {
				sv, ok := it.(StrValue)
				if !ok {
					return nil, fmt.Errorf("sequence item %d: expected str, %s found", i, it.Type())
				}
				parts[i] = string(sv)
			}
			joined := strings.Join(parts, str)
			if err := ec.alloc(int64(len(joined)), 0); err != nil {
				return nil, err
			}
			return StrValue(joined), nil
		})
	case "replace":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 2, 2); err != nil {
				return nil, err
			}
			old, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			new_, err := argStr(args, 1)
			if err != nil {
				return nil, err
			}
			out := strings.ReplaceAll(str, old, new_)
			if err := ec.alloc(int64(len(out)), 0); err != nil {
				return nil, err
			}
			return StrValue(out), nil
		})
	case "startswith":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			prefix, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			return BoolValue(strings.HasPrefix(str, prefix)), nil
		})
	case "endswith":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			suffix, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			return BoolValue(strings.HasSuffix(str, suffix)), nil
		})
	case "find":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			sub, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			return IntValue(strings.Index(str, sub)), nil
		})
	case "count":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			sub, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			return IntValue(strings.Count(str, sub)), nil
		})
	case "format":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			out := str
			for _, a := range args {
				out = strings.Replace(out, "{}", Str(a), 1)
			}
			if err := ec.alloc(int64(len(out)), 0); err != nil {
				return nil, err
			}
			return StrValue(out), nil
		})
	case "title":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			return StrValue(strings.Title(strings.ToLower(str))), nil
		})
	case "capitalize":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if str == "" {
				return s, nil
			}
			return StrValue(strings.ToUpper(str[:1]) + strings.ToLower(str[1:])), nil
		})
	case "isdigit":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if str == "" {
				return BoolValue(false), nil
			}
			for _, r := range str {
				if r < '0' || r > '9' {
					return BoolValue(false), nil
				}
			}
			return BoolValue(true), nil
		})
	case "isalpha":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if str == "" {
				return BoolValue(false), nil
			}
			for _, r := range str {
				if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
					return BoolValue(false), nil
				}
			}
			return BoolValue(true), nil
		})
	case "zfill":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 1); err != nil {
				return nil, err
			}
			n, ok := toInt(args[0])
			if !ok {
				return nil, fmt.Errorf("zfill() width must be int")
			}
			for int64(len(str)) < n {
				str = "0" + str
			}
			return StrValue(str), nil
		})
	}
	return nil
}

func listMethod(l *ListValue, name string) *BuiltinValue {
	switch name {
	case "append":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 1); err != nil {
				return nil, err
			}
			if err := ec.alloc(16, 0); err != nil {
				return nil, err
			}
			l.Elems = append(l.Elems, args[0])
			return theNil, nil
		})
	case "extend":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 1); err != nil {
				return nil, err
			}
			items, err := iterate(args[0], 0)
			if err != nil {
				return nil, err
			}
			if err := ec.alloc(16*int64(len(items)), 0); err != nil {
				return nil, err
			}
			l.Elems = append(l.Elems, items...)
			return theNil, nil
		})
	case "insert":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 2, 2); err != nil {
				return nil, err
			}
			i, ok := toInt(args[0])
			if !ok {
				return nil, fmt.Errorf("insert() index must be int")
			}
			n := int64(len(l.Elems))
			if i < 0 {
				i += n
			}
			if i < 0 {
				i = 0
			}
			if i > n {
				i = n
			}
			if err := ec.alloc(16, 0); err != nil {
				return nil, err
			}
			l.Elems = append(l.Elems, nil)
			copy(l.Elems[i+1:], l.Elems[i:])
			l.Elems[i] = args[1]
			return theNil, nil
		})
	case "pop":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if len(l.Elems) == 0 {
				return nil, fmt.Errorf("pop from empty list")
			}
			i := int64(len(l.Elems) - 1)
			if len(args) >= 1 {
				n, ok := toInt(args[0])
				if !ok {
					return nil, fmt.Errorf("pop() index must be int")
				}
				i = n
				if i < 0 {
					i += int64(len(l.Elems))
				}
				if i < 0 || i >= int64(len(l.Elems)) {
					return nil, fmt.Errorf("pop index out of range")
				}
			}
			v := l.Elems[i]
			l.Elems = append(l.Elems[:i], l.Elems[i+1:]...)
			return v, nil
		})
	case "remove":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 1); err != nil {
				return nil, err
			}
			for i, e := range l.Elems {
				if Equal(e, args[0]) {
					l.Elems = append(l.Elems[:i], l.Elems[i+1:]...)
					return theNil, nil
				}
			}
			return nil, fmt.Errorf("list.remove(x): x not in list")
		})
	case "index":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 1); err != nil {
				return nil, err
			}
			for i, e := range l.Elems {
				if Equal(e, args[0]) {
					return IntValue(i), nil
				}
			}
			return nil, fmt.Errorf("%s is not in list", Repr(args[0]))
		})
	case "count":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 1); err != nil {
				return nil, err
			}
			n := 0
			for _, e := range l.Elems {
				if Equal(e, args[0]) {
					n++
				}
			}
			return IntValue(n), nil
		})
	case "sort":
		return method(name, func(ec *evalCtx, args []Value, kwargs map[string]Value) (Value, error) {
			reverse := false
			if rv, ok := kwargs["reverse"]; ok {
				reverse = Truthy(rv)
			}
			if err := sortValues(ec, l.Elems, kwargs["key"], reverse); err != nil {
				return nil, err
			}
			return theNil, nil
		})
	case "reverse":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			for i, j := 0, len(l.Elems)-1; i < j; i, j = i+1, j-1 {
				l.Elems[i], l.Elems[j] = l.Elems[j], l.Elems[i]
			}
			return theNil, nil
		})
	case "clear":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			l.Elems = nil
			return theNil, nil
		})
	case "copy":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := ec.alloc(16*int64(len(l.Elems)), 0); err != nil {
				return nil, err
			}
			out := make([]Value, len(l.Elems))
			copy(out, l.Elems)
			return &ListValue{Elems: out}, nil
		})
	}
	return nil
}

func dictMethod(d *DictValue, name string) *BuiltinValue {
	switch name {
	case "get":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 2); err != nil {
				return nil, err
			}
			v, found, err := d.Get(args[0])
			if err != nil {
				return nil, err
			}
			if found {
				return v, nil
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return theNil, nil
		})
	case "keys":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			return &ListValue{Elems: d.Keys()}, nil
		})
	case "values":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			return &ListValue{Elems: d.Values()}, nil
		})
	case "items":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			out := make([]Value, 0, d.Len())
			for _, e := range d.entries {
				out = append(out, &ListValue{Elems: []Value{e.key, e.val}})
			}
			return &ListValue{Elems: out}, nil
		})
	case "pop":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 2); err != nil {
				return nil, err
			}
			v, found, err := d.Get(args[0])
			if err != nil {
				return nil, err
			}
			if found {
				if _, err := d.Delete(args[0]); err != nil {
					return nil, err
				}
				return v, nil
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return nil, fmt.Errorf("KeyError: %s", Repr(args[0]))
		})
	case "update":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 1); err != nil {
				return nil, err
			}
			other, ok := args[0].(*DictValue)
			if !ok {
				return nil, fmt.Errorf("update() argument must be dict, not %s", args[0].Type())
			}
			for _, e := range other.entries {
				if err := d.Set(e.key, e.val); err != nil {
					return nil, err
				}
			}
			return theNil, nil
		})
	case "setdefault":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if err := wantArgs(name, args, 1, 2); err != nil {
				return nil, err
			}
			v, found, err := d.Get(args[0])
			if err != nil {
				return nil, err
			}
			if found {
				return v, nil
			}
			var def Value = theNil
			if len(args) == 2 {
				def = args[1]
			}
			if err := d.Set(args[0], def); err != nil {
				return nil, err
			}
			return def, nil
		})
	case "clear":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			d.entries = nil
			d.index = make(map[string]int)
			return theNil, nil
		})
	case "copy":
		return method(name, func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			out := NewDict()
			for _, e := range d.entries {
				if err := out.Set(e.key, e.val); err != nil {
					return nil, err
				}
			}
			if err := ec.alloc(48*int64(out.Len()), 0); err != nil {
				return nil, err
			}
			return out, nil
		})
	}
	return nil
}
