package inventory

import (
	"fmt"
	"sort"
)

// Predicate selects hosts.
type Predicate interface {
	Match(h *Host) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(h *Host) bool

// Match calls f(h).
func (f PredicateFunc) Match(h *Host) bool { return f(h) }

// Inventory is an ordered set of hosts plus the groups and defaults they
// inherit from.
type Inventory struct {
	hosts    []*Host
	index    map[string]*Host
	groups   map[string]*Group
	defaults *Defaults
}

// New returns an empty inventory. A nil defaults is replaced by an empty one.
func New(defaults *Defaults) *Inventory {
	if defaults == nil {
		defaults = NewDefaults()
	}
	return &Inventory{
		index:    make(map[string]*Host),
		groups:   make(map[string]*Group),
		defaults: defaults,
	}
}

// AddGroup adds g to the inventory and binds it to the inventory defaults.
func (i *Inventory) AddGroup(g *Group) error {
	if _, exists := i.groups[g.name]; exists {
		return &ConstructionError{Kind: KindGroup, Name: g.name, Err: ErrDuplicate}
	}
	g.defaults = i.defaults
	i.groups[g.name] = g
	return nil
}

// AddHost appends h to the inventory and binds it to the inventory defaults.
func (i *Inventory) AddHost(h *Host) error {
	if _, exists := i.index[h.name]; exists {
		return &ConstructionError{Kind: KindHost, Name: h.name, Err: ErrDuplicate}
	}
	h.defaults = i.defaults
	i.hosts = append(i.hosts, h)
	i.index[h.name] = h
	return nil
}

// Host returns the host with the given name.
func (i *Inventory) Host(name string) (*Host, bool) {
	h, ok := i.index[name]
	return h, ok
}

// Hosts returns the hosts in inventory order.
func (i *Inventory) Hosts() []*Host {
	out := make([]*Host, len(i.hosts))
	copy(out, i.hosts)
	return out
}

// HostNames returns the host names in inventory order.
func (i *Inventory) HostNames() []string {
	names := make([]string, len(i.hosts))
	for n, h := range i.hosts {
		names[n] = h.name
	}
	return names
}

// Len returns the number of hosts.
func (i *Inventory) Len() int { return len(i.hosts) }

// Group returns the group with the given name.
func (i *Inventory) Group(name string) (*Group, bool) {
	g, ok := i.groups[name]
	return g, ok
}

// GroupNames returns the sorted group names.
func (i *Inventory) GroupNames() []string {
	names := make([]string, 0, len(i.groups))
	for name := range i.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Defaults returns the inventory defaults.
func (i *Inventory) Defaults() *Defaults { return i.defaults }

// Filter returns a new inventory holding the hosts p matches, in the same
// order. Groups, defaults and host values are shared with the receiver.
func (i *Inventory) Filter(p Predicate) *Inventory {
	out := &Inventory{
		index:    make(map[string]*Host),
		groups:   i.groups,
		defaults: i.defaults,
	}
	for _, h := range i.hosts {
		if p == nil || p.Match(h) {
			out.hosts = append(out.hosts, h)
			out.index[h.name] = h
		}
	}
	return out
}

// FilterFunc is Filter with a plain function.
func (i *Inventory) FilterFunc(fn func(*Host) bool) *Inventory {
	return i.Filter(PredicateFunc(fn))
}

// ChildrenOfGroup returns the hosts that inherit from g, directly or
// transitively, in inventory order.
func (i *Inventory) ChildrenOfGroup(g *Group) []*Host {
	var out []*Host
	for _, h := range i.hosts {
		if h.HasParentGroupRef(g) {
			out = append(out, h)
		}
	}
	return out
}

// ChildrenOfGroupName is ChildrenOfGroup by name.
func (i *Inventory) ChildrenOfGroupName(name string) ([]*Host, error) {
	g, ok := i.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	return i.ChildrenOfGroup(g), nil
}

// Transform applies fn to every host in order and stops at the first error.
func (i *Inventory) Transform(fn func(*Host) error) error {
	for _, h := range i.hosts {
		if err := fn(h); err != nil {
			return fmt.Errorf("failed to transform host %s: %w", h.name, err)
		}
	}
	return nil
}
