package inventory

import "sort"

// walkFunc visits attribute sets in resolution order until visit returns true.
type walkFunc func(visit func(*Attributes) bool) bool

// walkAncestry visits self, then parents depth-first in declared order, then
// defaults. Groups already in seen are skipped.
func walkAncestry(self *Attributes, parents *ParentGroups, defaults *Defaults, seen map[*Group]struct{}, visit func(*Attributes) bool) bool {
	if visit(self) {
		return true
	}
	if walkGroups(parents, seen, visit) {
		return true
	}
	if defaults != nil && visit(&defaults.Attributes) {
		return true
	}
	return false
}

func walkGroups(parents *ParentGroups, seen map[*Group]struct{}, visit func(*Attributes) bool) bool {
	if parents == nil {
		return false
	}
	for _, g := range parents.groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		if visit(&g.Attributes) {
			return true
		}
		if walkGroups(g.groups, seen, visit) {
			return true
		}
	}
	return false
}

// lookup returns the first value get finds along the walk.
func lookup[T any](walk walkFunc, get func(*Attributes) (T, bool)) (T, bool) {
	var (
		out   T
		found bool
	)
	walk(func(a *Attributes) bool {
		if v, ok := get(a); ok {
			out, found = v, true
			return true
		}
		return false
	})
	return out, found
}

func resolveData(walk walkFunc, key string) (any, bool) {
	return lookup(walk, func(a *Attributes) (any, bool) { return a.data(key) })
}

func resolveField(walk walkFunc, kind string, f Field) (any, bool) {
	if kind != "" {
		if v, ok := lookup(walk, func(a *Attributes) (any, bool) { return a.options(kind).field(f) }); ok {
			return v, true
		}
	}
	return lookup(walk, func(a *Attributes) (any, bool) { return a.field(f) })
}

func resolveParams(walk walkFunc, kind string) ConnectionParams {
	var p ConnectionParams
	if v, ok := resolveField(walk, kind, FieldHostname); ok {
		p.Hostname = v.(string)
	}
	if v, ok := resolveField(walk, kind, FieldPort); ok {
		p.Port = v.(int)
	}
	if v, ok := resolveField(walk, kind, FieldUsername); ok {
		p.Username = v.(string)
	}
	if v, ok := resolveField(walk, kind, FieldPassword); ok {
		p.Password = v.(string)
	}
	if v, ok := resolveField(walk, kind, FieldPlatform); ok {
		p.Platform = v.(string)
	}
	if kind != "" {
		p.Extras, _ = lookup(walk, func(a *Attributes) (map[string]any, bool) {
			o := a.options(kind)
			if o == nil || o.Extras == nil {
				return nil, false
			}
			return o.Extras, true
		})
	}
	return p
}

// resolveItems merges every data bag along the walk. Nearer levels win.
func resolveItems(walk walkFunc) map[string]any {
	out := make(map[string]any)
	walk(func(a *Attributes) bool {
		for k, v := range a.Data {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
		return false
	})
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (h *Host) walk(visit func(*Attributes) bool) bool {
	return walkAncestry(&h.Attributes, h.groups, h.defaults, map[*Group]struct{}{}, visit)
}

func (g *Group) walk(visit func(*Attributes) bool) bool {
	return walkAncestry(&g.Attributes, g.groups, g.defaults, map[*Group]struct{}{g: {}}, visit)
}

// Get resolves key in the host's data bag, then its ancestry, then defaults.
func (h *Host) Get(key string) (any, bool) {
	return resolveData(h.walk, key)
}

// GetOr is Get with a fallback for missing keys.
func (h *Host) GetOr(key string, fallback any) any {
	if v, ok := h.Get(key); ok {
		return v
	}
	return fallback
}

// Set stores value in the host's own data bag. Inherited values are shadowed,
// never modified.
func (h *Host) Set(key string, value any) {
	if h.Data == nil {
		h.Data = make(map[string]any)
	}
	h.Data[key] = value
}

// Delete removes key from the host's own data bag.
func (h *Host) Delete(key string) {
	delete(h.Data, key)
}

// Has reports whether key resolves anywhere in the host's ancestry.
func (h *Host) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Items returns the merged data bag as seen from the host.
func (h *Host) Items() map[string]any {
	return resolveItems(h.walk)
}

// Keys returns the sorted keys of Items.
func (h *Host) Keys() []string {
	return sortedKeys(h.Items())
}

// Field resolves a first-class field through the host's ancestry.
func (h *Host) Field(f Field) (any, bool) {
	return resolveField(h.walk, "", f)
}

// ConnectionParameters resolves the parameters for a connection kind.
// An empty kind resolves only the base fields.
func (h *Host) ConnectionParameters(kind string) ConnectionParams {
	return resolveParams(h.walk, kind)
}

// Lookup resolves a filter key against the host. Keys that name a host
// attribute (name, groups, data and the first-class fields) are answered
// from the attribute; anything else resolves through the data bag.
func (h *Host) Lookup(key string) (any, bool) {
	switch key {
	case "name":
		return h.name, true
	case "groups":
		return h.groups.Names(), true
	case "data":
		return h.Items(), true
	}
	for _, f := range Fields {
		if string(f) == key {
			return h.Field(f)
		}
	}
	return h.Get(key)
}

// HasParentGroup reports whether the host inherits from a group with the
// given name, directly or through other groups.
func (h *Host) HasParentGroup(name string) bool {
	found := false
	h.eachAncestor(func(g *Group) bool {
		found = g.name == name
		return found
	})
	return found
}

// HasParentGroupRef is HasParentGroup comparing by identity.
func (h *Host) HasParentGroupRef(target *Group) bool {
	found := false
	h.eachAncestor(func(g *Group) bool {
		found = g == target
		return found
	})
	return found
}

func (h *Host) eachAncestor(fn func(*Group) bool) {
	eachAncestor(h.groups, map[*Group]struct{}{}, fn)
}

func eachAncestor(parents *ParentGroups, seen map[*Group]struct{}, fn func(*Group) bool) bool {
	if parents == nil {
		return false
	}
	for _, g := range parents.groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		if fn(g) || eachAncestor(g.groups, seen, fn) {
			return true
		}
	}
	return false
}

// Get resolves key through the group, its ancestry and the defaults.
func (g *Group) Get(key string) (any, bool) {
	return resolveData(g.walk, key)
}

// Set stores value in the group's own data bag.
func (g *Group) Set(key string, value any) {
	if g.Data == nil {
		g.Data = make(map[string]any)
	}
	g.Data[key] = value
}

// Items returns the merged data bag as seen from the group.
func (g *Group) Items() map[string]any {
	return resolveItems(g.walk)
}

// Field resolves a first-class field through the group's ancestry.
func (g *Group) Field(f Field) (any, bool) {
	return resolveField(g.walk, "", f)
}

// ConnectionParameters resolves the parameters for a connection kind as seen
// from the group.
func (g *Group) ConnectionParameters(kind string) ConnectionParams {
	return resolveParams(g.walk, kind)
}

// HasParentGroup reports whether the group inherits from a group with the
// given name.
func (g *Group) HasParentGroup(name string) bool {
	found := false
	eachAncestor(g.groups, map[*Group]struct{}{g: {}}, func(p *Group) bool {
		found = p.name == name
		return found
	})
	return found
}

// Field returns the defaults' own value for f.
func (d *Defaults) Field(f Field) (any, bool) {
	if d == nil {
		return nil, false
	}
	return d.field(f)
}

// ConnectionParameters resolves kind against the defaults alone.
func (d *Defaults) ConnectionParameters(kind string) ConnectionParams {
	return resolveParams(func(visit func(*Attributes) bool) bool {
		if d == nil {
			return false
		}
		return visit(&d.Attributes)
	}, kind)
}
