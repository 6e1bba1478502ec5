// Package interp implements the sandboxed code interpreter: a small
// Python-like language evaluated in-process under hard time, memory, and
// output caps. Code cannot touch the filesystem, network, or process
// environment; imports resolve against a whitelist of built-in modules.
package interp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Profile bounds one execution. MemoryLimit is accounted allocation, not
// RSS: container and string building charge the evaluator's allocator.
type Profile struct {
	Name        string
	Timeout     time.Duration
	MemoryLimit int64
}

// Profiles are the named execution tiers. Callers pick by name; unknown
// names fall back to "default".
var Profiles = map[string]Profile{
	"quick":    {Name: "quick", Timeout: 5 * time.Second, MemoryLimit: 128 << 20},
	"default":  {Name: "default", Timeout: 30 * time.Second, MemoryLimit: 512 << 20},
	"analysis": {Name: "analysis", Timeout: 120 * time.Second, MemoryLimit: 2 << 30},
	"extended": {Name: "extended", Timeout: 300 * time.Second, MemoryLimit: 4 << 30},
}

// ProfileByName resolves a profile name, defaulting to "default".
func ProfileByName(name string) Profile {
	if p, ok := Profiles[name]; ok {
		return p
	}
	return Profiles["default"]
}

// Result is the outcome of one execution.
type Result struct {
	Output          string
	Error           string
	ErrorKind       string // empty on success
	ExecutionTimeMS int64
	Truncated       bool
	MemoryPeakBytes *int64
}

// Interpreter is a persistent sandbox: top-level bindings and the shared
// context dict survive across executions. Bindings only persist when the
// execution succeeds; a failed run leaves state untouched.
type Interpreter struct {
	mu      sync.Mutex
	globals *env
	cache   *Cache
}

// New creates an interpreter with a fresh namespace. cache may be nil to
// disable memoization.
func New(cache *Cache) *Interpreter {
	i := &Interpreter{cache: cache}
	i.reset()
	return i
}

func (i *Interpreter) reset() {
	i.globals = &env{vars: baseGlobals()}
}

// Reset discards all state including the context dict.
func (i *Interpreter) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.reset()
}

// GetContext returns a snapshot of the shared context dict.
func (i *Interpreter) GetContext() map[string]string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]string)
	if d, ok := i.globals.vars["context"].(*DictValue); ok {
		for _, e := range d.entries {
			out[Str(e.key)] = Str(e.val)
		}
	}
	return out
}

// SetContext stores a string value in the shared context dict.
func (i *Interpreter) SetContext(key, value string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	d, ok := i.globals.vars["context"].(*DictValue)
	if !ok {
		d = NewDict()
		i.globals.vars["context"] = d
	}
	_ = d.Set(StrValue(key), StrValue(value))
}

// ClearContext empties the context dict and clears the result variable.
func (i *Interpreter) ClearContext() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.globals.vars["context"] = NewDict()
	i.globals.vars["result"] = theNil
}

// ResultVar returns the repr of the "result" variable, or "" when unset.
func (i *Interpreter) ResultVar() (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.globals.vars["result"]
	if !ok {
		return "", false
	}
	if _, isNil := v.(NilValue); isNil {
		return "", false
	}
	return Str(v), true
}

// Lookup returns the repr of a top-level variable.
func (i *Interpreter) Lookup(name string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.globals.vars[name]
	if !ok {
		return "", false
	}
	if _, isNil := v.(NilValue); isNil {
		return "", false
	}
	return Str(v), true
}

// StateHash fingerprints the user-visible state: every top-level binding
// that is not a builtin or module, rendered deterministically. Equal
// hashes mean an execution would observe identical state.
func (i *Interpreter) StateHash() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return stateHashLocked(i.globals)
}

func stateHashLocked(globals *env) string {
	names := make([]string, 0, len(globals.vars))
	for name, v := range globals.vars {
		switch v.(type) {
		case *BuiltinValue, *ModuleValue:
			continue
		default:
			names = append(names, name)
		}
	}
	sort.Strings(names)
	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s\n", name, StableRepr(globals.vars[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Execute runs code under the profile's caps. Failures of any kind are
// reported in the Result, never as a Go error: the engine turns them into
// tool results for the model.
func (i *Interpreter) Execute(ctx context.Context, code string, profile Profile) Result {
	i.mu.Lock()
	defer i.mu.Unlock()

	start := time.Now()

	tokens, err := lex(code)
	if err != nil {
		return failure(err, start)
	}
	if rerr := screen(tokens); rerr != nil {
		return failure(rerr, start)
	}
	stmts, err := parse(code)
	if err != nil {
		return failure(err, start)
	}

	var cacheKey string
	if i.cache != nil {
		cacheKey = memoKey(code, stateHashLocked(i.globals))
		if entry, ok := i.cache.Get(cacheKey); ok {
			i.globals = cloneNamespace(entry.globals)
			res := entry.Result
			res.ExecutionTimeMS = 0
			return res
		}
	}

	// The run evaluates against a detached clone of the namespace. Only a
	// worker that finishes cleanly commits its clone back; a timed-out
	// worker is abandoned together with its clone, so nothing it writes
	// afterwards can reach the session.
	scratch := cloneNamespace(i.globals)

	deadline := start.Add(profile.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	ec := &evalCtx{
		ctx:        ctx,
		deadline:   deadline,
		allocLimit: profile.MemoryLimit,
		out:        newBoundedWriter(MaxOutputSize),
	}

	// The worker runs the evaluator; the deadline is also enforced here so
	// a stuck builtin cannot hold the caller past its budget.
	done := make(chan error, 1)
	go func() {
		done <- execBlock(ec, stmts, scratch)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(time.Until(deadline) + 250*time.Millisecond):
		runErr = &RuntimeError{Kind: "timeout", Msg: fmt.Sprintf("execution exceeded %s timeout", profile.Timeout)}
	case <-ctx.Done():
		runErr = &RuntimeError{Kind: "timeout", Msg: "execution cancelled"}
	}

	if runErr != nil {
		// The scratch namespace is discarded; the session keeps its
		// pre-run state.
		var rs returnSignal
		if errors.As(runErr, &rs) {
			runErr = execErr(0, "'return' outside function")
		}
		if errors.Is(runErr, errBreak) || errors.Is(runErr, errContinue) {
			runErr = execErr(0, "'break' or 'continue' outside loop")
		}
		return failure(runErr, start)
	}

	output := ec.out.String()
	if rv, ok := scratch.vars["result"]; ok {
		if _, isNil := rv.(NilValue); !isNil {
			if output != "" && output[len(output)-1] != '\n' {
				output += "\n"
			}
			output += "result = " + Repr(rv)
		}
	}
	output, cut := TruncateOutput(output, MaxOutputSize, MaxOutputLines)

	peak := ec.allocBytes
	res := Result{
		Output:          output,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		Truncated:       cut || ec.out.Overflowed(),
		MemoryPeakBytes: &peak,
	}

	i.globals = scratch

	if i.cache != nil {
		i.cache.Put(cacheKey, CacheEntry{
			Result:  res,
			globals: cloneNamespace(scratch),
		})
	}
	return res
}

func failure(err error, start time.Time) Result {
	kind := "execution_error"
	var re *RuntimeError
	if errors.As(err, &re) {
		kind = re.Kind
	}
	return Result{
		Error:           err.Error(),
		ErrorKind:       kind,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}
}

func memoKey(code, stateHash string) string {
	h := sha256.Sum256([]byte(stateHash + "\x00" + code))
	return hex.EncodeToString(h[:])
}

// cloneNamespace deep-copies a namespace root: the scope chain, every
// container binding, and every function together with its captured scope.
// The clone shares nothing mutable with the original, so an abandoned
// worker still holding the original (or the clone) cannot write across.
// Builtins, modules, and function bodies are shared; they are read-only.
func cloneNamespace(root *env) *env {
	c := &cloner{
		envs: make(map[*env]*env),
		vals: make(map[Value]Value),
	}
	return c.cloneEnv(root)
}

type cloner struct {
	envs map[*env]*env // original scope -> clone, keeps closure sharing intact
	vals map[Value]Value
}

func (c *cloner) cloneEnv(e *env) *env {
	if e == nil {
		return nil
	}
	if done, ok := c.envs[e]; ok {
		return done
	}
	out := &env{vars: make(map[string]Value, len(e.vars))}
	c.envs[e] = out
	out.parent = c.cloneEnv(e.parent)
	for name, v := range e.vars {
		out.vars[name] = c.cloneVal(v)
	}
	return out
}

func (c *cloner) cloneVal(v Value) Value {
	switch t := v.(type) {
	case *ListValue:
		if done, ok := c.vals[v]; ok {
			return done
		}
		out := &ListValue{Elems: make([]Value, len(t.Elems))}
		c.vals[v] = out
		for i, e := range t.Elems {
			out.Elems[i] = c.cloneVal(e)
		}
		return out
	case *DictValue:
		if done, ok := c.vals[v]; ok {
			return done
		}
		out := NewDict()
		c.vals[v] = out
		for _, e := range t.entries {
			_ = out.Set(e.key, c.cloneVal(e.val))
		}
		return out
	case *FuncValue:
		if done, ok := c.vals[v]; ok {
			return done
		}
		out := &FuncValue{Name: t.Name, Params: t.Params, Body: t.Body}
		c.vals[v] = out
		out.Closure = c.cloneEnv(t.Closure)
		return out
	default:
		// Scalars are immutable; builtins and modules are read-only.
		return v
	}
}
