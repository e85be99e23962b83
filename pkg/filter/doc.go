// Package filter selects hosts from an inventory.
//
// Predicates come in two equivalent forms. The combinator form builds trees
// from F clause maps:
//
//	p := filter.And(
//	    filter.F{"role": "web"},
//	    filter.Not(filter.F{"site__in": []any{"lon", "ams"}}),
//	)
//
// The textual form compiles to the same trees:
//
//	p, err := filter.Parse(`role == "web" AND NOT site in ["lon", "ams"]`)
//
// A clause key is a "__" separated path into the host, optionally ending in
// an operator. Comparators are eq (the default), ne, in, contains, any and all.
// A resolved value implementing Capable answers any operator it recognises
// itself, comparators included. Otherwise the comparators apply, and strings
// also answer startswith, endswith, match, lower and upper. A clause whose
// path does not resolve is false.
//
// Starlark builds a predicate from a Starlark boolean expression evaluated
// against a read-only document of each host.
package filter
