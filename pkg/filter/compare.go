package filter

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/openfroyo/herd/pkg/inventory"
)

// Comparator names accepted as the trailing segment of a clause key.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpIn       = "in"
	OpContains = "contains"
	OpAny      = "any"
	OpAll      = "all"
)

// Separator splits clause keys into path segments.
const Separator = "__"

// Capability evaluates an operator against the clause value.
type Capability func(want any) bool

// Capable is implemented by host data values that answer named operators
// themselves. A clause "path__op" on such a value calls Capability(op).
type Capable interface {
	Capability(op string) (Capability, bool)
}

// Lookuper is implemented by nested values that resolve path segments.
type Lookuper interface {
	Lookup(key string) (any, bool)
}

type comparator func(got, want any) bool

var comparators = map[string]comparator{
	OpEq:       equal,
	OpNe:       func(got, want any) bool { return !equal(got, want) },
	OpIn:       in,
	OpContains: contains,
	OpAny:      anyOf,
	OpAll:      allOf,
}

var stringCapabilities = map[string]func(s string, want any) bool{
	"startswith": func(s string, want any) bool {
		w, ok := want.(string)
		return ok && strings.HasPrefix(s, w)
	},
	"endswith": func(s string, want any) bool {
		w, ok := want.(string)
		return ok && strings.HasSuffix(s, w)
	},
	"match": func(s string, want any) bool {
		w, ok := want.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(w)
		return err == nil && re.MatchString(s)
	},
	"lower": func(s string, want any) bool {
		return equal(strings.ToLower(s), want)
	},
	"upper": func(s string, want any) bool {
		return equal(strings.ToUpper(s), want)
	},
}

// IsOperator reports whether op is a comparator or built-in capability name.
func IsOperator(op string) bool {
	if _, ok := comparators[op]; ok {
		return true
	}
	_, ok := stringCapabilities[op]
	return ok
}

// evalClause resolves the path before the trailing operator. A Capable
// value answering the operator takes precedence over the built-in
// comparators and string capabilities.
func evalClause(h *inventory.Host, key string, want any) bool {
	segs := strings.Split(key, Separator)
	if len(segs) > 1 {
		op := segs[len(segs)-1]
		got, found := resolvePath(h, segs[:len(segs)-1])

		if c, ok := got.(Capable); found && ok {
			if capability, ok := c.Capability(op); ok {
				return capability(want)
			}
		}
		if cmp, ok := comparators[op]; ok {
			return found && cmp(got, want)
		}
		if fn, ok := stringCapabilities[op]; ok && found {
			s, isString := got.(string)
			return isString && fn(s, want)
		}
	}

	got, found := resolvePath(h, segs)
	return found && equal(got, want)
}

func resolvePath(h *inventory.Host, path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur, ok := h.Lookup(path[0])
	if !ok {
		return nil, false
	}
	for _, seg := range path[1:] {
		cur, ok = step(cur, seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func step(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		next, ok := m[key]
		return next, ok
	case map[any]any:
		next, ok := m[key]
		return next, ok
	case Lookuper:
		return m.Lookup(key)
	}
	return nil, false
}

func equal(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	if la, ok := toList(a); ok {
		lb, ok := toList(b)
		if !ok || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func in(got, want any) bool {
	list, ok := toList(want)
	if !ok {
		return false
	}
	return member(got, list)
}

func contains(got, want any) bool {
	if s, ok := got.(string); ok {
		w, ok := want.(string)
		return ok && strings.Contains(s, w)
	}
	list, ok := toList(got)
	if !ok {
		return false
	}
	return member(want, list)
}

func anyOf(got, want any) bool {
	have := asList(got)
	for _, w := range asList(want) {
		if member(w, have) {
			return true
		}
	}
	return false
}

func allOf(got, want any) bool {
	have, ok := toList(got)
	if !ok {
		return false
	}
	for _, w := range asList(want) {
		if !member(w, have) {
			return false
		}
	}
	return true
}

func member(v any, list []any) bool {
	for _, item := range list {
		if equal(v, item) {
			return true
		}
	}
	return false
}

func asList(v any) []any {
	if list, ok := toList(v); ok {
		return list
	}
	return []any{v}
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case nil, string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
