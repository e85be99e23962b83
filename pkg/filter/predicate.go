package filter

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/openfroyo/herd/pkg/inventory"
)

// Predicate is a host selector that can be combined and compared.
type Predicate interface {
	inventory.Predicate

	// Equal reports structural equality. AND and OR nodes are commutative.
	Equal(other Predicate) bool

	fmt.Stringer
}

// F is a set of clauses that must all hold.
type F map[string]any

// Match reports whether every clause in f holds for h.
func (f F) Match(h *inventory.Host) bool {
	for key, want := range f {
		if !evalClause(h, key, want) {
			return false
		}
	}
	return true
}

// Equal reports whether other is an F with the same clauses.
func (f F) Equal(other Predicate) bool {
	o, ok := other.(F)
	if !ok {
		return false
	}
	return reflect.DeepEqual(map[string]any(f), map[string]any(o))
}

func (f F) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%#v", k, f[k])
	}
	return "F(" + strings.Join(parts, ", ") + ")"
}

// AndPredicate holds when both operands hold.
type AndPredicate struct {
	Left, Right Predicate
}

// Match evaluates the conjunction, short-circuiting on Left.
func (p *AndPredicate) Match(h *inventory.Host) bool {
	return p.Left.Match(h) && p.Right.Match(h)
}

// Equal reports whether other is an AND over the same operands, in either order.
func (p *AndPredicate) Equal(other Predicate) bool {
	o, ok := other.(*AndPredicate)
	if !ok {
		return false
	}
	return commutativeEqual(p.Left, p.Right, o.Left, o.Right)
}

func (p *AndPredicate) String() string {
	return "(" + p.Left.String() + " AND " + p.Right.String() + ")"
}

// OrPredicate holds when either operand holds.
type OrPredicate struct {
	Left, Right Predicate
}

// Match evaluates the disjunction, short-circuiting on Left.
func (p *OrPredicate) Match(h *inventory.Host) bool {
	return p.Left.Match(h) || p.Right.Match(h)
}

// Equal reports whether other is an OR over the same operands, in either order.
func (p *OrPredicate) Equal(other Predicate) bool {
	o, ok := other.(*OrPredicate)
	if !ok {
		return false
	}
	return commutativeEqual(p.Left, p.Right, o.Left, o.Right)
}

func (p *OrPredicate) String() string {
	return "(" + p.Left.String() + " OR " + p.Right.String() + ")"
}

// NotPredicate negates its operand.
type NotPredicate struct {
	Operand Predicate
}

// Match negates the operand.
func (p *NotPredicate) Match(h *inventory.Host) bool {
	return !p.Operand.Match(h)
}

// Equal reports whether other negates an equal operand.
func (p *NotPredicate) Equal(other Predicate) bool {
	o, ok := other.(*NotPredicate)
	if !ok {
		return false
	}
	return p.Operand.Equal(o.Operand)
}

func (p *NotPredicate) String() string {
	return "NOT " + p.Operand.String()
}

// And folds the predicates left to right into AND nodes.
func And(first, second Predicate, rest ...Predicate) Predicate {
	p := Predicate(&AndPredicate{Left: first, Right: second})
	for _, r := range rest {
		p = &AndPredicate{Left: p, Right: r}
	}
	return p
}

// Or folds the predicates left to right into OR nodes.
func Or(first, second Predicate, rest ...Predicate) Predicate {
	p := Predicate(&OrPredicate{Left: first, Right: second})
	for _, r := range rest {
		p = &OrPredicate{Left: p, Right: r}
	}
	return p
}

// Not negates p.
func Not(p Predicate) Predicate {
	return &NotPredicate{Operand: p}
}

func commutativeEqual(a, b, c, d Predicate) bool {
	return (a.Equal(c) && b.Equal(d)) || (a.Equal(d) && b.Equal(c))
}
