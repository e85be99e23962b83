package inventory

import "fmt"

// ParentGroups is the ordered, duplicate-free list of parent groups of a host
// or group.
type ParentGroups struct {
	groups []*Group
}

// NewParentGroups builds a parent list. Duplicates are rejected.
func NewParentGroups(groups ...*Group) (*ParentGroups, error) {
	p := &ParentGroups{}
	for _, g := range groups {
		if err := p.Add(g); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Len returns the number of direct parents.
func (p *ParentGroups) Len() int {
	if p == nil {
		return 0
	}
	return len(p.groups)
}

// List returns the direct parents in declared order.
func (p *ParentGroups) List() []*Group {
	if p == nil {
		return nil
	}
	out := make([]*Group, len(p.groups))
	copy(out, p.groups)
	return out
}

// Names returns the names of the direct parents in declared order.
func (p *ParentGroups) Names() []string {
	if p == nil {
		return []string{}
	}
	names := make([]string, len(p.groups))
	for i, g := range p.groups {
		names[i] = g.name
	}
	return names
}

// Contains reports whether a direct parent has the given name.
func (p *ParentGroups) Contains(name string) bool {
	if p == nil {
		return false
	}
	for _, g := range p.groups {
		if g.name == name {
			return true
		}
	}
	return false
}

// ContainsGroup reports whether g itself is a direct parent.
func (p *ParentGroups) ContainsGroup(g *Group) bool {
	if p == nil {
		return false
	}
	for _, existing := range p.groups {
		if existing == g {
			return true
		}
	}
	return false
}

// Add appends g. Adding a group that is already a parent is an error.
func (p *ParentGroups) Add(g *Group) error {
	if g == nil {
		return fmt.Errorf("cannot add nil group")
	}
	if p.Contains(g.name) {
		return fmt.Errorf("group %s is already a parent", g.name)
	}
	p.groups = append(p.groups, g)
	return nil
}

// Remove drops g from the direct parents. Removing a group that is not a
// direct parent is an error. Data that g contributed stays visible if it is
// still reachable through another parent, since lookups always re-walk the
// current ancestry.
func (p *ParentGroups) Remove(g *Group) error {
	for i, existing := range p.groups {
		if existing == g {
			p.groups = append(p.groups[:i:i], p.groups[i+1:]...)
			return nil
		}
	}
	name := "<nil>"
	if g != nil {
		name = g.name
	}
	return fmt.Errorf("group %s is not a parent", name)
}
