package filter

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/herd/pkg/inventory"
)

// maxStarlarkSteps bounds the work a single host evaluation may do.
const maxStarlarkSteps = 100000

// StarlarkPredicate matches hosts for which a Starlark expression is truthy.
//
// The expression sees these globals:
//
//	name      host name
//	hostname  resolved hostname or None
//	port      resolved port or None
//	username  resolved username or None
//	platform  resolved platform or None
//	groups    list of direct parent group names
//	data      merged data bag as a dict
//	host      struct with all of the above as attributes
//
// Evaluation errors make the predicate false for that host.
type StarlarkPredicate struct {
	src  string
	expr syntax.Expr
}

// Starlark compiles src into a predicate.
func Starlark(src string) (*StarlarkPredicate, error) {
	expr, err := syntax.ParseExpr("filter.star", src, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse starlark filter: %w", err)
	}
	return &StarlarkPredicate{src: src, expr: expr}, nil
}

// Match evaluates the expression against h.
func (p *StarlarkPredicate) Match(h *inventory.Host) bool {
	ok, err := p.Eval(h)
	return err == nil && ok
}

// Eval evaluates the expression against h and reports its truth value.
func (p *StarlarkPredicate) Eval(h *inventory.Host) (bool, error) {
	env, err := hostEnv(h)
	if err != nil {
		return false, err
	}

	thread := &starlark.Thread{
		Name:  "filter:" + h.Name(),
		Print: func(_ *starlark.Thread, msg string) {},
	}
	thread.SetMaxExecutionSteps(maxStarlarkSteps)

	v, err := starlark.EvalExpr(thread, p.expr, env)
	if err != nil {
		return false, fmt.Errorf("starlark filter failed for host %s: %w", h.Name(), err)
	}
	return bool(v.Truth()), nil
}

// Equal reports whether other is a Starlark predicate with the same source.
func (p *StarlarkPredicate) Equal(other Predicate) bool {
	o, ok := other.(*StarlarkPredicate)
	return ok && o.src == p.src
}

func (p *StarlarkPredicate) String() string {
	return fmt.Sprintf("Starlark(%q)", p.src)
}

func hostEnv(h *inventory.Host) (starlark.StringDict, error) {
	env := starlark.StringDict{
		"name": starlark.String(h.Name()),
	}

	for _, f := range inventory.Fields {
		if f == inventory.FieldPassword {
			continue
		}
		env[string(f)] = starlark.None
		if v, ok := h.Field(f); ok {
			sv, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			env[string(f)] = sv
		}
	}

	groups, err := toStarlarkValue(h.Groups().Names())
	if err != nil {
		return nil, err
	}
	env["groups"] = groups

	data, err := toStarlarkValue(h.Items())
	if err != nil {
		return nil, fmt.Errorf("failed to convert data of host %s: %w", h.Name(), err)
	}
	env["data"] = data

	fields := make(starlark.StringDict, len(env))
	for k, v := range env {
		fields[k] = v
	}
	env["host"] = starlarkstruct.FromStringDict(starlarkstruct.Default, fields)

	for _, v := range env {
		v.Freeze()
	}
	return env, nil
}

// toStarlarkValue converts a Go value to a Starlark value. Values with no
// Starlark counterpart are rendered with fmt.Sprint.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}

	if f, ok := toFloat(v); ok {
		if f == float64(int64(f)) {
			return starlark.MakeInt64(int64(f)), nil
		}
		return starlark.Float(f), nil
	}
	if list, ok := toList(v); ok {
		return toStarlarkValue(list)
	}
	if m, ok := v.(map[any]any); ok {
		converted := make(map[string]any, len(m))
		for k, item := range m {
			converted[fmt.Sprint(k)] = item
		}
		return toStarlarkValue(converted)
	}
	return starlark.String(fmt.Sprint(v)), nil
}
