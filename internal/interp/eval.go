package interp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// RuntimeError is a failure raised by sandboxed code. Kind distinguishes
// plain execution errors from cap breaches and security violations.
type RuntimeError struct {
	Kind string // "execution_error", "timeout", "security_violation", "resource_exceeded"
	Msg  string
	Line int
}

func (e *RuntimeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d)", e.Msg, e.Line)
	}
	return e.Msg
}

func execErr(line int, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: "execution_error", Msg: fmt.Sprintf(format, args...), Line: line}
}

// Control-flow signals, unwound through the statement walker.
var (
	errBreak    = errors.New("break outside loop")
	errContinue = errors.New("continue outside loop")
)

type returnSignal struct{ value Value }

func (returnSignal) Error() string { return "return outside function" }

// env is a lexical scope chain.
type env struct {
	vars   map[string]Value
	parent *env
}

func newEnv(parent *env) *env {
	return &env{vars: make(map[string]Value), parent: parent}
}

func (e *env) lookup(name string) (Value, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// set assigns in the scope where the name already exists, or the local
// scope when it is new.
func (e *env) set(name string, v Value) {
	for s := e; s != nil; s = s.parent {
		if _, ok := s.vars[name]; ok {
			s.vars[name] = v
			return
		}
	}
	e.vars[name] = v
}

func (e *env) delete(name string) bool {
	for s := e; s != nil; s = s.parent {
		if _, ok := s.vars[name]; ok {
			delete(s.vars, name)
			return true
		}
	}
	return false
}

// evalCtx carries the per-execution caps: deadline, step count, and
// allocation accounting. Steps are checked in the statement walker and in
// loop bodies, so runaway code stops near its deadline without OS help.
type evalCtx struct {
	ctx      context.Context
	deadline time.Time

	steps     int64
	stepLimit int64

	allocBytes int64
	allocLimit int64

	out       *boundedWriter
	callDepth int
}

const maxCallDepth = 200

// checkEvery throttles deadline syscalls to once per 1024 steps.
const checkEvery = 1024

func (ec *evalCtx) step(line int) error {
	ec.steps++
	if ec.stepLimit > 0 && ec.steps > ec.stepLimit {
		return &RuntimeError{Kind: "resource_exceeded", Msg: "execution step limit exceeded", Line: line}
	}
	if ec.steps%checkEvery == 0 {
		if !ec.deadline.IsZero() && time.Now().After(ec.deadline) {
			return &RuntimeError{Kind: "timeout", Msg: "execution timed out", Line: line}
		}
		select {
		case <-ec.ctx.Done():
			return &RuntimeError{Kind: "timeout", Msg: "execution cancelled", Line: line}
		default:
		}
	}
	return nil
}

// largeAllocCheck is the charge size past which alloc also checks the
// deadline. A single huge string or list build can burn the whole budget
// between step checks, so it must not start once the deadline has passed.
const largeAllocCheck = 1 << 20

func (ec *evalCtx) alloc(n int64, line int) error {
	ec.allocBytes += n
	if ec.allocLimit > 0 && ec.allocBytes > ec.allocLimit {
		return &RuntimeError{Kind: "resource_exceeded", Msg: "memory limit exceeded", Line: line}
	}
	if n >= largeAllocCheck {
		if !ec.deadline.IsZero() && time.Now().After(ec.deadline) {
			return &RuntimeError{Kind: "timeout", Msg: "execution timed out", Line: line}
		}
		select {
		case <-ec.ctx.Done():
			return &RuntimeError{Kind: "timeout", Msg: "execution cancelled", Line: line}
		default:
		}
	}
	return nil
}

func execBlock(ec *evalCtx, stmts []stmt, scope *env) error {
	for _, s := range stmts {
		if err := execStmt(ec, s, scope); err != nil {
			return err
		}
	}
	return nil
}

func execStmt(ec *evalCtx, s stmt, scope *env) error {
	switch st := s.(type) {
	case *exprStmt:
		if err := ec.step(st.Line); err != nil {
			return err
		}
		_, err := evalExpr(ec, st.Expr, scope)
		return err

	case *assignStmt:
		if err := ec.step(st.Line); err != nil {
			return err
		}
		return execAssign(ec, st, scope)

	case *ifStmt:
		if err := ec.step(st.Line); err != nil {
			return err
		}
		for i, cond := range st.Conds {
			v, err := evalExpr(ec, cond, scope)
			if err != nil {
				return err
			}
			if Truthy(v) {
				return execBlock(ec, st.Blocks[i], scope)
			}
		}
		if st.Else != nil {
			return execBlock(ec, st.Else, scope)
		}
		return nil

	case *whileStmt:
		for {
			if err := ec.step(st.Line); err != nil {
				return err
			}
			v, err := evalExpr(ec, st.Cond, scope)
			if err != nil {
				return err
			}
			if !Truthy(v) {
				return nil
			}
			if err := execBlock(ec, st.Body, scope); err != nil {
				if errors.Is(err, errBreak) {
					return nil
				}
				if errors.Is(err, errContinue) {
					continue
				}
				return err
			}
		}

	case *forStmt:
		iter, err := evalExpr(ec, st.Iter, scope)
		if err != nil {
			return err
		}
		items, err := iterate(iter, st.Line)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := ec.step(st.Line); err != nil {
				return err
			}
			if err := bindLoopVars(st.Vars, item, scope, st.Line); err != nil {
				return err
			}
			if err := execBlock(ec, st.Body, scope); err != nil {
				if errors.Is(err, errBreak) {
					return nil
				}
				if errors.Is(err, errContinue) {
					continue
				}
				return err
			}
		}
		return nil

	case *defStmt:
		if err := ec.step(st.Line); err != nil {
			return err
		}
		scope.vars[st.Name] = &FuncValue{Name: st.Name, Params: st.Params, Body: st.Body, Closure: scope}
		return nil

	case *returnStmt:
		if err := ec.step(st.Line); err != nil {
			return err
		}
		var v Value = theNil
		if st.Value != nil {
			rv, err := evalExpr(ec, st.Value, scope)
			if err != nil {
				return err
			}
			v = rv
		}
		return returnSignal{value: v}

	case *breakStmt:
		return errBreak
	case *continueStmt:
		return errContinue
	case *passStmt:
		return nil

	case *importStmt:
		if err := ec.step(st.Line); err != nil {
			return err
		}
		return execImport(st, scope)

	case *delStmt:
		if err := ec.step(st.Line); err != nil {
			return err
		}
		return execDel(ec, st, scope)

	default:
		return execErr(0, "unsupported statement %T", s)
	}
}

func execImport(st *importStmt, scope *env) error {
	mod, err := loadModule(st.Module)
	if err != nil {
		return &RuntimeError{Kind: "security_violation", Msg: err.Error(), Line: st.Line}
	}
	if len(st.Names) == 0 {
		// "import a.b" binds the root name to the leaf module, which is all
		// the dotted access patterns in practice need.
		root := strings.SplitN(st.Module, ".", 2)[0]
		if root != st.Module {
			scope.set(root, moduleRoot(st.Module, mod))
		} else {
			scope.set(root, mod)
		}
		return nil
	}
	for _, name := range st.Names {
		attr, ok := mod.Attrs[name]
		if !ok {
			return execErr(st.Line, "cannot import name '%s' from '%s'", name, st.Module)
		}
		scope.set(name, attr)
	}
	return nil
}

func execDel(ec *evalCtx, st *delStmt, scope *env) error {
	switch t := st.Target.(type) {
	case *nameExpr:
		if !scope.delete(t.Name) {
			return execErr(st.Line, "name '%s' is not defined", t.Name)
		}
		return nil
	case *indexExpr:
		obj, err := evalExpr(ec, t.Obj, scope)
		if err != nil {
			return err
		}
		idx, err := evalExpr(ec, t.Index, scope)
		if err != nil {
			return err
		}
		d, ok := obj.(*DictValue)
		if !ok {
			return execErr(st.Line, "cannot delete item from '%s'", obj.Type())
		}
		found, err := d.Delete(idx)
		if err != nil {
			return execErr(st.Line, "%s", err)
		}
		if !found {
			return execErr(st.Line, "KeyError: %s", Repr(idx))
		}
		return nil
	default:
		return execErr(st.Line, "cannot delete this expression")
	}
}

func execAssign(ec *evalCtx, st *assignStmt, scope *env) error {
	value, err := evalExpr(ec, st.Value, scope)
	if err != nil {
		return err
	}

	if st.Op != "=" {
		current, err := evalExpr(ec, st.Target, scope)
		if err != nil {
			return err
		}
		op := strings.TrimSuffix(st.Op, "=")
		value, err = binaryOp(ec, op, current, value, st.Line)
		if err != nil {
			return err
		}
	}

	return assignTo(ec, st.Target, value, scope, st.Line)
}

func assignTo(ec *evalCtx, target expr, value Value, scope *env, line int) error {
	switch t := target.(type) {
	case *nameExpr:
		scope.set(t.Name, value)
		return nil
	case *indexExpr:
		obj, err := evalExpr(ec, t.Obj, scope)
		if err != nil {
			return err
		}
		idx, err := evalExpr(ec, t.Index, scope)
		if err != nil {
			return err
		}
		switch c := obj.(type) {
		case *ListValue:
			i, ok := toInt(idx)
			if !ok {
				return execErr(line, "list indices must be integers, not %s", idx.Type())
			}
			n := int64(len(c.Elems))
			if i < 0 {
				i += n
			}
			if i < 0 || i >= n {
				return execErr(line, "list assignment index out of range")
			}
			c.Elems[i] = value
			return nil
		case *DictValue:
			if err := c.Set(idx, value); err != nil {
				return execErr(line, "%s", err)
			}
			return nil
		default:
			return execErr(line, "'%s' object does not support item assignment", obj.Type())
		}
	case *tupleExpr:
		items, err := iterate(value, line)
		if err != nil {
			return err
		}
		if len(items) != len(t.Elems) {
			return execErr(line, "cannot unpack %d values into %d targets", len(items), len(t.Elems))
		}
		for i, el := range t.Elems {
			if err := assignTo(ec, el, items[i], scope, line); err != nil {
				return err
			}
		}
		return nil
	default:
		return execErr(line, "cannot assign to this expression")
	}
}

func bindLoopVars(vars []string, item Value, scope *env, line int) error {
	if len(vars) == 1 {
		scope.set(vars[0], item)
		return nil
	}
	parts, err := iterate(item, line)
	if err != nil {
		return err
	}
	if len(parts) != len(vars) {
		return execErr(line, "cannot unpack %d values into %d names", len(parts), len(vars))
	}
	for i, name := range vars {
		scope.set(name, parts[i])
	}
	return nil
}

// iterate materializes an iterable into a slice. Strings iterate by rune.
func iterate(v Value, line int) ([]Value, error) {
	switch t := v.(type) {
	case *ListValue:
		return t.Elems, nil
	case StrValue:
		out := make([]Value, 0, len(t))
		for _, r := range string(t) {
			out = append(out, StrValue(string(r)))
		}
		return out, nil
	case *DictValue:
		return t.Keys(), nil
	default:
		return nil, execErr(line, "'%s' object is not iterable", v.Type())
	}
}

func evalExpr(ec *evalCtx, e expr, scope *env) (Value, error) {
	switch ex := e.(type) {
	case *literalExpr:
		return ex.Value, nil

	case *nameExpr:
		if v, ok := scope.lookup(ex.Name); ok {
			return v, nil
		}
		return nil, execErr(ex.Line, "name '%s' is not defined", ex.Name)

	case *listExpr:
		elems := make([]Value, len(ex.Elems))
		for i, el := range ex.Elems {
			v, err := evalExpr(ec, el, scope)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		if err := ec.alloc(int64(16*len(elems)+24), ex.Line); err != nil {
			return nil, err
		}
		return &ListValue{Elems: elems}, nil

	case *tupleExpr:
		elems := make([]Value, len(ex.Elems))
		for i, el := range ex.Elems {
			v, err := evalExpr(ec, el, scope)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		if err := ec.alloc(int64(16*len(elems)+24), ex.Line); err != nil {
			return nil, err
		}
		return &ListValue{Elems: elems}, nil

	case *dictExpr:
		d := NewDict()
		for i := range ex.Keys {
			k, err := evalExpr(ec, ex.Keys[i], scope)
			if err != nil {
				return nil, err
			}
			v, err := evalExpr(ec, ex.Values[i], scope)
			if err != nil {
				return nil, err
			}
			if err := d.Set(k, v); err != nil {
				return nil, execErr(ex.Line, "%s", err)
			}
		}
		if err := ec.alloc(int64(48*d.Len()+48), ex.Line); err != nil {
			return nil, err
		}
		return d, nil

	case *unaryExpr:
		v, err := evalExpr(ec, ex.Operand, scope)
		if err != nil {
			return nil, err
		}
		switch ex.Op {
		case "not":
			return BoolValue(!Truthy(v)), nil
		case "-":
			switch n := v.(type) {
			case IntValue:
				return IntValue(-n), nil
			case FloatValue:
				return FloatValue(-n), nil
			case BoolValue:
				if n {
					return IntValue(-1), nil
				}
				return IntValue(0), nil
			}
			return nil, execErr(ex.Line, "bad operand type for unary -: '%s'", v.Type())
		}
		return nil, execErr(ex.Line, "unknown unary operator %s", ex.Op)

	case *binaryExpr:
		left, err := evalExpr(ec, ex.Left, scope)
		if err != nil {
			return nil, err
		}
		right, err := evalExpr(ec, ex.Right, scope)
		if err != nil {
			return nil, err
		}
		return binaryOp(ec, ex.Op, left, right, ex.Line)

	case *boolExpr:
		left, err := evalExpr(ec, ex.Left, scope)
		if err != nil {
			return nil, err
		}
		if ex.Op == "and" {
			if !Truthy(left) {
				return left, nil
			}
		} else {
			if Truthy(left) {
				return left, nil
			}
		}
		return evalExpr(ec, ex.Right, scope)

	case *compareExpr:
		left, err := evalExpr(ec, ex.First, scope)
		if err != nil {
			return nil, err
		}
		for i, op := range ex.Ops {
			right, err := evalExpr(ec, ex.Rest[i], scope)
			if err != nil {
				return nil, err
			}
			ok, err := compareOp(op, left, right, ex.Line)
			if err != nil {
				return nil, err
			}
			if !ok {
				return BoolValue(false), nil
			}
			left = right
		}
		return BoolValue(true), nil

	case *condExpr:
		cond, err := evalExpr(ec, ex.Cond, scope)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return evalExpr(ec, ex.Then, scope)
		}
		return evalExpr(ec, ex.Else, scope)

	case *indexExpr:
		obj, err := evalExpr(ec, ex.Obj, scope)
		if err != nil {
			return nil, err
		}
		idx, err := evalExpr(ec, ex.Index, scope)
		if err != nil {
			return nil, err
		}
		return indexValue(obj, idx, ex.Line)

	case *sliceExpr:
		return evalSlice(ec, ex, scope)

	case *attrExpr:
		obj, err := evalExpr(ec, ex.Obj, scope)
		if err != nil {
			return nil, err
		}
		return attrValue(obj, ex.Name, ex.Line)

	case *callExpr:
		return evalCall(ec, ex, scope)

	case *compExpr:
		iter, err := evalExpr(ec, ex.Iter, scope)
		if err != nil {
			return nil, err
		}
		items, err := iterate(iter, ex.Line)
		if err != nil {
			return nil, err
		}
		inner := newEnv(scope)
		var out []Value
		for _, item := range items {
			if err := ec.step(ex.Line); err != nil {
				return nil, err
			}
			if err := bindLoopVars(ex.Vars, item, inner, ex.Line); err != nil {
				return nil, err
			}
			if ex.Cond != nil {
				c, err := evalExpr(ec, ex.Cond, inner)
				if err != nil {
					return nil, err
				}
				if !Truthy(c) {
					continue
				}
			}
			v, err := evalExpr(ec, ex.Out, inner)
			if err != nil {
				return nil, err
			}
			if err := ec.alloc(16, ex.Line); err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return &ListValue{Elems: out}, nil

	default:
		return nil, execErr(0, "unsupported expression %T", e)
	}
}

func evalCall(ec *evalCtx, ex *callExpr, scope *env) (Value, error) {
	fn, err := evalExpr(ec, ex.Fn, scope)
	if err != nil {
		return nil, err
	}
	args := make([]Value, len(ex.Args))
	for i, a := range ex.Args {
		v, err := evalExpr(ec, a, scope)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	var kwargs map[string]Value
	if len(ex.Kwargs) > 0 {
		kwargs = make(map[string]Value, len(ex.Kwargs))
		for name, kv := range ex.Kwargs {
			v, err := evalExpr(ec, kv, scope)
			if err != nil {
				return nil, err
			}
			kwargs[name] = v
		}
	}
	return callValue(ec, fn, args, kwargs, ex.Line)
}

func callValue(ec *evalCtx, fn Value, args []Value, kwargs map[string]Value, line int) (Value, error) {
	switch f := fn.(type) {
	case *BuiltinValue:
		v, err := f.Fn(ec, args, kwargs)
		if err != nil {
			var re *RuntimeError
			if errors.As(err, &re) {
				return nil, re
			}
			return nil, execErr(line, "%s: %s", f.Name, err)
		}
		return v, nil

	case *FuncValue:
		if ec.callDepth >= maxCallDepth {
			return nil, &RuntimeError{Kind: "resource_exceeded", Msg: "maximum recursion depth exceeded", Line: line}
		}
		local := newEnv(f.Closure)
		if err := bindParams(ec, f, args, kwargs, local, line); err != nil {
			return nil, err
		}
		ec.callDepth++
		err := execBlock(ec, f.Body, local)
		ec.callDepth--
		if err != nil {
			var rs returnSignal
			if errors.As(err, &rs) {
				return rs.value, nil
			}
			return nil, err
		}
		return theNil, nil

	default:
		return nil, execErr(line, "'%s' object is not callable", fn.Type())
	}
}

func bindParams(ec *evalCtx, f *FuncValue, args []Value, kwargs map[string]Value, local *env, line int) error {
	if len(args) > len(f.Params) {
		return execErr(line, "%s() takes %d arguments but %d were given", f.Name, len(f.Params), len(args))
	}
	for i, p := range f.Params {
		if i < len(args) {
			local.vars[p.Name] = args[i]
			continue
		}
		if kw, ok := kwargs[p.Name]; ok {
			local.vars[p.Name] = kw
			continue
		}
		if p.Default != nil {
			dv, err := evalExpr(ec, p.Default, f.Closure)
			if err != nil {
				return err
			}
			local.vars[p.Name] = dv
			continue
		}
		return execErr(line, "%s() missing required argument: '%s'", f.Name, p.Name)
	}
	for name := range kwargs {
		if _, ok := local.vars[name]; !ok {
			return execErr(line, "%s() got an unexpected keyword argument '%s'", f.Name, name)
		}
	}
	return nil
}

func compareOp(op string, left, right Value, line int) (bool, error) {
	switch op {
	case "==":
		return Equal(left, right), nil
	case "!=":
		return !Equal(left, right), nil
	case "in", "not in":
		found, err := contains(right, left, line)
		if err != nil {
			return false, err
		}
		if op == "not in" {
			return !found, nil
		}
		return found, nil
	}
	c, err := Compare(left, right)
	if err != nil {
		return false, execErr(line, "%s", err)
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, execErr(line, "unknown comparison operator %s", op)
}

func contains(container, item Value, line int) (bool, error) {
	switch c := container.(type) {
	case *ListValue:
		for _, e := range c.Elems {
			if Equal(e, item) {
				return true, nil
			}
		}
		return false, nil
	case StrValue:
		s, ok := item.(StrValue)
		if !ok {
			return false, execErr(line, "'in <string>' requires string as left operand, not %s", item.Type())
		}
		return strings.Contains(string(c), string(s)), nil
	case *DictValue:
		_, found, err := c.Get(item)
		if err != nil {
			return false, execErr(line, "%s", err)
		}
		return found, nil
	default:
		return false, execErr(line, "argument of type '%s' is not iterable", container.Type())
	}
}

func binaryOp(ec *evalCtx, op string, left, right Value, line int) (Value, error) {
	// String and list operations first.
	if ls, ok := left.(StrValue); ok {
		switch op {
		case "+":
			if rs, ok := right.(StrValue); ok {
				if err := ec.alloc(int64(len(ls)+len(rs)), line); err != nil {
					return nil, err
				}
				return ls + rs, nil
			}
			return nil, execErr(line, "can only concatenate str (not \"%s\") to str", right.Type())
		case "*":
			if n, ok := toInt(right); ok {
				return repeatStr(ec, ls, n, line)
			}
		case "%":
			return formatPercent(ec, string(ls), right, line)
		}
	}
	if ll, ok := left.(*ListValue); ok {
		switch op {
		case "+":
			rl, ok := right.(*ListValue)
			if !ok {
				return nil, execErr(line, "can only concatenate list (not \"%s\") to list", right.Type())
			}
			if err := ec.alloc(int64(16*(len(ll.Elems)+len(rl.Elems))), line); err != nil {
				return nil, err
			}
			out := make([]Value, 0, len(ll.Elems)+len(rl.Elems))
			out = append(out, ll.Elems...)
			out = append(out, rl.Elems...)
			return &ListValue{Elems: out}, nil
		case "*":
			if n, ok := toInt(right); ok {
				return repeatList(ec, ll, n, line)
			}
		}
	}

	// Integer arithmetic stays integral except for true division.
	li, lok := toInt(left)
	ri, rok := toInt(right)
	if lok && rok {
		switch op {
		case "+":
			return IntValue(li + ri), nil
		case "-":
			return IntValue(li - ri), nil
		case "*":
			return IntValue(li * ri), nil
		case "/":
			if ri == 0 {
				return nil, execErr(line, "division by zero")
			}
			return FloatValue(float64(li) / float64(ri)), nil
		case "//":
			if ri == 0 {
				return nil, execErr(line, "integer division or modulo by zero")
			}
			return IntValue(floorDiv(li, ri)), nil
		case "%":
			if ri == 0 {
				return nil, execErr(line, "integer division or modulo by zero")
			}
			return IntValue(pyMod(li, ri)), nil
		case "**":
			if ri >= 0 {
				return intPow(li, ri, line)
			}
			return FloatValue(math.Pow(float64(li), float64(ri))), nil
		}
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "+":
			return FloatValue(lf + rf), nil
		case "-":
			return FloatValue(lf - rf), nil
		case "*":
			return FloatValue(lf * rf), nil
		case "/":
			if rf == 0 {
				return nil, execErr(line, "float division by zero")
			}
			return FloatValue(lf / rf), nil
		case "//":
			if rf == 0 {
				return nil, execErr(line, "float floor division by zero")
			}
			return FloatValue(math.Floor(lf / rf)), nil
		case "%":
			if rf == 0 {
				return nil, execErr(line, "float modulo by zero")
			}
			m := math.Mod(lf, rf)
			if m != 0 && (m < 0) != (rf < 0) {
				m += rf
			}
			return FloatValue(m), nil
		case "**":
			return FloatValue(math.Pow(lf, rf)), nil
		}
	}

	return nil, execErr(line, "unsupported operand type(s) for %s: '%s' and '%s'", op, left.Type(), right.Type())
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func pyMod(a, b int64) int64 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func intPow(base, exp int64, line int) (Value, error) {
	if exp > 1024 {
		return nil, &RuntimeError{Kind: "resource_exceeded", Msg: "exponent too large", Line: line}
	}
	result := int64(1)
	for i := int64(0); i < exp; i++ {
		next := result * base
		if base != 0 && next/base != result {
			// Overflow falls back to float like a big-int promotion would.
			return FloatValue(math.Pow(float64(base), float64(exp))), nil
		}
		result = next
	}
	return IntValue(result), nil
}

func repeatStr(ec *evalCtx, s StrValue, n int64, line int) (Value, error) {
	if n <= 0 {
		return StrValue(""), nil
	}
	if err := ec.alloc(int64(len(s))*n, line); err != nil {
		return nil, err
	}
	return StrValue(strings.Repeat(string(s), int(n))), nil
}

func repeatList(ec *evalCtx, l *ListValue, n int64, line int) (Value, error) {
	if n <= 0 {
		return &ListValue{}, nil
	}
	if err := ec.alloc(16*int64(len(l.Elems))*n, line); err != nil {
		return nil, err
	}
	out := make([]Value, 0, int(n)*len(l.Elems))
	for i := int64(0); i < n; i++ {
		out = append(out, l.Elems...)
	}
	return &ListValue{Elems: out}, nil
}

// formatPercent supports the %s/%d/%f subset of old-style formatting.
func formatPercent(ec *evalCtx, format string, arg Value, line int) (Value, error) {
	args := []Value{arg}
	if l, ok := arg.(*ListValue); ok {
		args = l.Elems
	}
	var sb strings.Builder
	ai := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i == len(format)-1 {
			sb.WriteByte(format[i])
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			sb.WriteByte('%')
			continue
		}
		if ai >= len(args) {
			return nil, execErr(line, "not enough arguments for format string")
		}
		v := args[ai]
		ai++
		switch verb {
		case 's':
			sb.WriteString(Str(v))
		case 'd':
			n, ok := toInt(v)
			if !ok {
				if f, fok := toFloat(v); fok {
					n = int64(f)
				} else {
					return nil, execErr(line, "%%d format: a number is required, not %s", v.Type())
				}
			}
			fmt.Fprintf(&sb, "%d", n)
		case 'f':
			f, ok := toFloat(v)
			if !ok {
				return nil, execErr(line, "%%f format: a number is required, not %s", v.Type())
			}
			fmt.Fprintf(&sb, "%f", f)
		default:
			return nil, execErr(line, "unsupported format character '%c'", verb)
		}
	}
	if err := ec.alloc(int64(sb.Len()), line); err != nil {
		return nil, err
	}
	return StrValue(sb.String()), nil
}

func indexValue(obj, idx Value, line int) (Value, error) {
	switch c := obj.(type) {
	case *ListValue:
		i, ok := toInt(idx)
		if !ok {
			return nil, execErr(line, "list indices must be integers, not %s", idx.Type())
		}
		n := int64(len(c.Elems))
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, execErr(line, "list index out of range")
		}
		return c.Elems[i], nil
	case StrValue:
		runes := []rune(string(c))
		i, ok := toInt(idx)
		if !ok {
			return nil, execErr(line, "string indices must be integers, not %s", idx.Type())
		}
		n := int64(len(runes))
		if i < 0 {
			i += n
		}
		if i < 0 || i >= n {
			return nil, execErr(line, "string index out of range")
		}
		return StrValue(string(runes[i])), nil
	case *DictValue:
		v, found, err := c.Get(idx)
		if err != nil {
			return nil, execErr(line, "%s", err)
		}
		if !found {
			return nil, execErr(line, "KeyError: %s", Repr(idx))
		}
		return v, nil
	default:
		return nil, execErr(line, "'%s' object is not subscriptable", obj.Type())
	}
}

func evalSlice(ec *evalCtx, ex *sliceExpr, scope *env) (Value, error) {
	obj, err := evalExpr(ec, ex.Obj, scope)
	if err != nil {
		return nil, err
	}

	resolve := func(e expr, def int64, length int64) (int64, error) {
		if e == nil {
			return def, nil
		}
		v, err := evalExpr(ec, e, scope)
		if err != nil {
			return 0, err
		}
		i, ok := toInt(v)
		if !ok {
			return 0, execErr(ex.Line, "slice indices must be integers")
		}
		if i < 0 {
			i += length
		}
		if i < 0 {
			i = 0
		}
		if i > length {
			i = length
		}
		return i, nil
	}

	switch c := obj.(type) {
	case *ListValue:
		n := int64(len(c.Elems))
		start, err := resolve(ex.Start, 0, n)
		if err != nil {
			return nil, err
		}
		stop, err := resolve(ex.Stop, n, n)
		if err != nil {
			return nil, err
		}
		if start > stop {
			start = stop
		}
		out := make([]Value, stop-start)
		copy(out, c.Elems[start:stop])
		if err := ec.alloc(16*(stop-start), ex.Line); err != nil {
			return nil, err
		}
		return &ListValue{Elems: out}, nil
	case StrValue:
		runes := []rune(string(c))
		n := int64(len(runes))
		start, err := resolve(ex.Start, 0, n)
		if err != nil {
			return nil, err
		}
		stop, err := resolve(ex.Stop, n, n)
		if err != nil {
			return nil, err
		}
		if start > stop {
			start = stop
		}
		if err := ec.alloc(stop-start, ex.Line); err != nil {
			return nil, err
		}
		return StrValue(string(runes[start:stop])), nil
	default:
		return nil, execErr(ex.Line, "'%s' object is not subscriptable", obj.Type())
	}
}
