package interp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

// allowedImports is the import whitelist. Submodules of an allowed root
// are allowed unless the blocklist names them.
var allowedImports = map[string]bool{
	"json":         true,
	"math":         true,
	"datetime":     true,
	"time":         true,
	"collections":  true,
	"itertools":    true,
	"re":           true,
	"base64":       true,
	"string":       true,
	"posixpath":    true,
	"urllib.parse": true,
}

// blockedImports are modules that reach the host: filesystem, processes,
// network. Checked before the allowlist so a blocked name can never be
// allowed through a parent.
var blockedImports = map[string]bool{
	"os":             true,
	"sys":            true,
	"subprocess":     true,
	"socket":         true,
	"shutil":         true,
	"pickle":         true,
	"ctypes":         true,
	"importlib":      true,
	"urllib.request": true,
	"http":           true,
	"pathlib":        true,
	"tempfile":       true,
	"signal":         true,
	"threading":      true,
	"multiprocessing": true,
}

// AllowedModules returns the import allowlist sorted, for violation
// messages and tool descriptions.
func AllowedModules() []string {
	names := make([]string, 0, len(allowedImports))
	for name := range allowedImports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsImportAllowed reports whether a dotted module path may be imported.
// Blocked roots take priority; otherwise any prefix match against the
// allowlist admits the submodule.
func IsImportAllowed(name string) bool {
	parts := strings.Split(name, ".")
	for i := 1; i <= len(parts); i++ {
		prefix := strings.Join(parts[:i], ".")
		if blockedImports[prefix] {
			return false
		}
	}
	for i := 1; i <= len(parts); i++ {
		prefix := strings.Join(parts[:i], ".")
		if allowedImports[prefix] {
			return true
		}
	}
	return false
}

func loadModule(name string) (*ModuleValue, error) {
	if !IsImportAllowed(name) {
		return nil, fmt.Errorf("import of '%s' is not allowed in sandbox; allowed modules: %s", name, strings.Join(AllowedModules(), ", "))
	}
	// Submodules of an allowed root resolve to the root module unless they
	// have their own table entry.
	if m, ok := moduleTable[name]; ok {
		return m, nil
	}
	root := strings.SplitN(name, ".", 2)[0]
	if m, ok := moduleTable[root]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("import of '%s' is not allowed in sandbox", name)
}

// moduleRoot wraps a dotted import so "import urllib.parse" binds a
// "urllib" namespace whose attribute chain reaches the leaf.
func moduleRoot(dotted string, leaf *ModuleValue) *ModuleValue {
	parts := strings.Split(dotted, ".")
	mod := leaf
	for i := len(parts) - 2; i >= 0; i-- {
		mod = &ModuleValue{Name: strings.Join(parts[:i+1], "."), Attrs: map[string]Value{parts[i+1]: mod}}
	}
	return mod
}

var moduleTable map[string]*ModuleValue

func bi(name string, fn builtinFn) Value {
	return &BuiltinValue{Name: name, Fn: fn}
}

func init() {
	moduleTable = map[string]*ModuleValue{
		"math":         mathModule(),
		"json":         jsonModule(),
		"datetime":     datetimeModule(),
		"time":         timeModule(),
		"collections":  collectionsModule(),
		"itertools":    itertoolsModule(),
		"re":           reModule(),
		"base64":       base64Module(),
		"string":       stringModule(),
		"posixpath":    posixpathModule(),
		"urllib.parse": urlparseModule(),
	}
}

func oneFloat(name string, args []Value) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s() takes exactly one argument", name)
	}
	f, ok := toFloat(args[0])
	if !ok {
		return 0, fmt.Errorf("%s() argument must be a number, not '%s'", name, args[0].Type())
	}
	return f, nil
}

func mathFn(name string, fn func(float64) float64) Value {
	return bi(name, func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
		f, err := oneFloat(name, args)
		if err != nil {
			return nil, err
		}
		return FloatValue(fn(f)), nil
	})
}

func mathModule() *ModuleValue {
	return &ModuleValue{Name: "math", Attrs: map[string]Value{
		"pi":    FloatValue(math.Pi),
		"e":     FloatValue(math.E),
		"inf":   FloatValue(math.Inf(1)),
		"nan":   FloatValue(math.NaN()),
		"sqrt":  mathFn("sqrt", math.Sqrt),
		"floor": bi("floor", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			f, err := oneFloat("floor", args)
			if err != nil {
				return nil, err
			}
			return IntValue(int64(math.Floor(f))), nil
		}),
		"ceil": bi("ceil", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			f, err := oneFloat("ceil", args)
			if err != nil {
				return nil, err
			}
			return IntValue(int64(math.Ceil(f))), nil
		}),
		"log":   mathFn("log", math.Log),
		"log2":  mathFn("log2", math.Log2),
		"log10": mathFn("log10", math.Log10),
		"exp":   mathFn("exp", math.Exp),
		"sin":   mathFn("sin", math.Sin),
		"cos":   mathFn("cos", math.Cos),
		"tan":   mathFn("tan", math.Tan),
		"fabs":  mathFn("fabs", math.Abs),
		"pow": bi("pow", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("pow() takes exactly 2 arguments")
			}
			a, aok := toFloat(args[0])
			b, bok := toFloat(args[1])
			if !aok || !bok {
				return nil, fmt.Errorf("pow() arguments must be numbers")
			}
			return FloatValue(math.Pow(a, b)), nil
		}),
		"gcd": bi("gcd", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("gcd() takes exactly 2 arguments")
			}
			a, aok := toInt(args[0])
			b, bok := toInt(args[1])
			if !aok || !bok {
				return nil, fmt.Errorf("gcd() arguments must be integers")
			}
			if a < 0 {
				a = -a
			}
			if b < 0 {
				b = -b
			}
			for b != 0 {
				a, b = b, a%b
			}
			return IntValue(a), nil
		}),
	}}
}

// valueToGo converts a sandbox value to the Go shape encoding/json expects.
func valueToGo(v Value) (any, error) {
	switch t := v.(type) {
	case NilValue:
		return nil, nil
	case BoolValue:
		return bool(t), nil
	case IntValue:
		return int64(t), nil
	case FloatValue:
		return float64(t), nil
	case StrValue:
		return string(t), nil
	case *ListValue:
		out := make([]any, len(t.Elems))
		for i, e := range t.Elems {
			g, err := valueToGo(e)
			if err != nil {
				return nil, err
			}
			out[i] = g
		}
		return out, nil
	case *DictValue:
		out := make(map[string]any, t.Len())
		for _, e := range t.entries {
			ks, ok := e.key.(StrValue)
			if !ok {
				return nil, fmt.Errorf("keys must be str, got %s", e.key.Type())
			}
			g, err := valueToGo(e.val)
			if err != nil {
				return nil, err
			}
			out[string(ks)] = g
		}
		return out, nil
	default:
		return nil, fmt.Errorf("object of type %s is not JSON serializable", v.Type())
	}
}

// goToValue converts decoded JSON back to sandbox values. Map keys are
// sorted so decoding is deterministic.
func goToValue(g any) (Value, error) {
	switch t := g.(type) {
	case nil:
		return theNil, nil
	case bool:
		return BoolValue(t), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return IntValue(int64(t)), nil
		}
		return FloatValue(t), nil
	case string:
		return StrValue(t), nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			v, err := goToValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return &ListValue{Elems: out}, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewDict()
		for _, k := range keys {
			v, err := goToValue(t[k])
			if err != nil {
				return nil, err
			}
			if err := d.Set(StrValue(k), v); err != nil {
				return nil, err
			}
		}
		return d, nil
	default:
		return nil, fmt.Errorf("cannot decode %T", g)
	}
}

func jsonModule() *ModuleValue {
	return &ModuleValue{Name: "json", Attrs: map[string]Value{
		"dumps": bi("dumps", func(ec *evalCtx, args []Value, kwargs map[string]Value) (Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("dumps() takes exactly one argument")
			}
			g, err := valueToGo(args[0])
			if err != nil {
				return nil, err
			}
			var raw []byte
			if indent, ok := kwargs["indent"]; ok {
				n, _ := toInt(indent)
				raw, err = json.MarshalIndent(g, "", strings.Repeat(" ", int(n)))
			} else {
				raw, err = json.Marshal(g)
			}
			if err != nil {
				return nil, err
			}
			if err := ec.alloc(int64(len(raw)), 0); err != nil {
				return nil, err
			}
			return StrValue(raw), nil
		}),
		"loads": bi("loads", func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			s, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			var g any
			if err := json.Unmarshal([]byte(s), &g); err != nil {
				return nil, fmt.Errorf("invalid JSON: %s", err)
			}
			if err := ec.alloc(int64(len(s)), 0); err != nil {
				return nil, err
			}
			return goToValue(g)
		}),
	}}
}

func datetimeModule() *ModuleValue {
	datetimeNS := &ModuleValue{Name: "datetime.datetime", Attrs: map[string]Value{
		"now": bi("now", func(_ *evalCtx, _ []Value, _ map[string]Value) (Value, error) {
			return StrValue(time.Now().Format("2006-01-02 15:04:05")), nil
		}),
		"utcnow": bi("utcnow", func(_ *evalCtx, _ []Value, _ map[string]Value) (Value, error) {
			return StrValue(time.Now().UTC().Format("2006-01-02 15:04:05")), nil
		}),
	}}
	dateNS := &ModuleValue{Name: "datetime.date", Attrs: map[string]Value{
		"today": bi("today", func(_ *evalCtx, _ []Value, _ map[string]Value) (Value, error) {
			return StrValue(time.Now().Format("2006-01-02")), nil
		}),
	}}
	return &ModuleValue{Name: "datetime", Attrs: map[string]Value{
		"datetime": datetimeNS,
		"date":     dateNS,
	}}
}

func timeModule() *ModuleValue {
	return &ModuleValue{Name: "time", Attrs: map[string]Value{
		"time": bi("time", func(_ *evalCtx, _ []Value, _ map[string]Value) (Value, error) {
			return FloatValue(float64(time.Now().UnixNano()) / 1e9), nil
		}),
	}}
}

func collectionsModule() *ModuleValue {
	return &ModuleValue{Name: "collections", Attrs: map[string]Value{
		"Counter": bi("Counter", func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			d := NewDict()
			if len(args) == 1 {
				items, err := iterate(args[0], 0)
				if err != nil {
					return nil, err
				}
				for _, it := range items {
					cur, found, err := d.Get(it)
					if err != nil {
						return nil, err
					}
					n := int64(0)
					if found {
						n, _ = toInt(cur)
					}
					if err := d.Set(it, IntValue(n+1)); err != nil {
						return nil, err
					}
				}
			}
			if err := ec.alloc(48*int64(d.Len()), 0); err != nil {
				return nil, err
			}
			return d, nil
		}),
		"OrderedDict": bi("OrderedDict", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if len(args) == 1 {
				if d, ok := args[0].(*DictValue); ok {
					out := NewDict()
					for _, e := range d.entries {
						if err := out.Set(e.key, e.val); err != nil {
							return nil, err
						}
					}
					return out, nil
				}
			}
			return NewDict(), nil
		}),
	}}
}

func itertoolsModule() *ModuleValue {
	return &ModuleValue{Name: "itertools", Attrs: map[string]Value{
		"chain": bi("chain", func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			var out []Value
			for _, a := range args {
				items, err := iterate(a, 0)
				if err != nil {
					return nil, err
				}
				if err := ec.alloc(16*int64(len(items)), 0); err != nil {
					return nil, err
				}
				out = append(out, items...)
			}
			return &ListValue{Elems: out}, nil
		}),
	}}
}

func compilePattern(args []Value) (*regexp.Regexp, string, error) {
	pattern, err := argStr(args, 0)
	if err != nil {
		return nil, "", err
	}
	subject, err := argStr(args, 1)
	if err != nil {
		return nil, "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, "", fmt.Errorf("invalid pattern: %s", err)
	}
	return re, subject, nil
}

func reModule() *ModuleValue {
	return &ModuleValue{Name: "re", Attrs: map[string]Value{
		"findall": bi("findall", func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			re, subject, err := compilePattern(args)
			if err != nil {
				return nil, err
			}
			matches := re.FindAllString(subject, -1)
			if err := ec.alloc(int64(len(subject)), 0); err != nil {
				return nil, err
			}
			out := make([]Value, len(matches))
			for i, m := range matches {
				out[i] = StrValue(m)
			}
			return &ListValue{Elems: out}, nil
		}),
		"search": bi("search", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			re, subject, err := compilePattern(args)
			if err != nil {
				return nil, err
			}
			m := re.FindString(subject)
			if m == "" && !re.MatchString(subject) {
				return theNil, nil
			}
			return StrValue(m), nil
		}),
		"match": bi("match", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			re, subject, err := compilePattern(args)
			if err != nil {
				return nil, err
			}
			loc := re.FindStringIndex(subject)
			if loc == nil || loc[0] != 0 {
				return theNil, nil
			}
			return StrValue(subject[loc[0]:loc[1]]), nil
		}),
		"sub": bi("sub", func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if len(args) != 3 {
				return nil, fmt.Errorf("sub() takes exactly 3 arguments")
			}
			pattern, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			repl, err := argStr(args, 1)
			if err != nil {
				return nil, err
			}
			subject, err := argStr(args, 2)
			if err != nil {
				return nil, err
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern: %s", err)
			}
			out := re.ReplaceAllString(subject, repl)
			if err := ec.alloc(int64(len(out)), 0); err != nil {
				return nil, err
			}
			return StrValue(out), nil
		}),
		"split": bi("split", func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			re, subject, err := compilePattern(args)
			if err != nil {
				return nil, err
			}
			parts := re.Split(subject, -1)
			if err := ec.alloc(int64(len(subject)), 0); err != nil {
				return nil, err
			}
			out := make([]Value, len(parts))
			for i, p := range parts {
				out[i] = StrValue(p)
			}
			return &ListValue{Elems: out}, nil
		}),
	}}
}

func base64Module() *ModuleValue {
	return &ModuleValue{Name: "base64", Attrs: map[string]Value{
		"b64encode": bi("b64encode", func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			s, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			out := base64.StdEncoding.EncodeToString([]byte(s))
			if err := ec.alloc(int64(len(out)), 0); err != nil {
				return nil, err
			}
			return StrValue(out), nil
		}),
		"b64decode": bi("b64decode", func(ec *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			s, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("invalid base64: %s", err)
			}
			if err := ec.alloc(int64(len(raw)), 0); err != nil {
				return nil, err
			}
			return StrValue(raw), nil
		}),
	}}
}

func stringModule() *ModuleValue {
	return &ModuleValue{Name: "string", Attrs: map[string]Value{
		"ascii_lowercase": StrValue("abcdefghijklmnopqrstuvwxyz"),
		"ascii_uppercase": StrValue("ABCDEFGHIJKLMNOPQRSTUVWXYZ"),
		"ascii_letters":   StrValue("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"),
		"digits":          StrValue("0123456789"),
		"punctuation":     StrValue("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"),
	}}
}

func posixpathModule() *ModuleValue {
	return &ModuleValue{Name: "posixpath", Attrs: map[string]Value{
		"join": bi("join", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			parts := make([]string, len(args))
			for i := range args {
				s, err := argStr(args, i)
				if err != nil {
					return nil, err
				}
				parts[i] = s
			}
			return StrValue(path.Join(parts...)), nil
		}),
		"basename": bi("basename", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			s, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			return StrValue(path.Base(s)), nil
		}),
		"dirname": bi("dirname", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			s, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			return StrValue(path.Dir(s)), nil
		}),
		"splitext": bi("splitext", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			s, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			ext := path.Ext(s)
			return &ListValue{Elems: []Value{StrValue(strings.TrimSuffix(s, ext)), StrValue(ext)}}, nil
		}),
	}}
}

func urlparseModule() *ModuleValue {
	return &ModuleValue{Name: "urllib.parse", Attrs: map[string]Value{
		"quote": bi("quote", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			s, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			return StrValue(url.PathEscape(s)), nil
		}),
		"unquote": bi("unquote", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			s, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			out, err := url.PathUnescape(s)
			if err != nil {
				return nil, fmt.Errorf("invalid escape: %s", err)
			}
			return StrValue(out), nil
		}),
		"urlparse": bi("urlparse", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			s, err := argStr(args, 0)
			if err != nil {
				return nil, err
			}
			u, err := url.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("invalid URL: %s", err)
			}
			d := NewDict()
			for _, kv := range [][2]string{
				{"scheme", u.Scheme},
				{"netloc", u.Host},
				{"path", u.Path},
				{"query", u.RawQuery},
				{"fragment", u.Fragment},
			} {
				if err := d.Set(StrValue(kv[0]), StrValue(kv[1])); err != nil {
					return nil, err
				}
			}
			return d, nil
		}),
		"urlencode": bi("urlencode", func(_ *evalCtx, args []Value, _ map[string]Value) (Value, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("urlencode() takes exactly one argument")
			}
			d, ok := args[0].(*DictValue)
			if !ok {
				return nil, fmt.Errorf("urlencode() argument must be dict")
			}
			q := url.Values{}
			for _, e := range d.entries {
				q.Set(Str(e.key), Str(e.val))
			}
			return StrValue(q.Encode()), nil
		}),
	}}
}
