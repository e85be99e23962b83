package inventory

// Field names a first-class attribute shared by hosts, groups and defaults.
type Field string

const (
	// FieldHostname is the address used to reach the host.
	FieldHostname Field = "hostname"

	// FieldPort is the port used to reach the host.
	FieldPort Field = "port"

	// FieldUsername is the login user.
	FieldUsername Field = "username"

	// FieldPassword is the login password.
	FieldPassword Field = "password"

	// FieldPlatform is the platform tag (e.g. "ios", "junos", "linux").
	FieldPlatform Field = "platform"
)

// Fields lists all first-class fields in resolution order.
var Fields = []Field{FieldHostname, FieldPort, FieldUsername, FieldPassword, FieldPlatform}

// ConnectionOptions overrides first-class fields for one connection kind.
type ConnectionOptions struct {
	Hostname *string
	Port     *int
	Username *string
	Password *string
	Platform *string

	// Extras holds plugin-specific settings passed through to the plugin.
	Extras map[string]any
}

func (o *ConnectionOptions) field(f Field) (any, bool) {
	if o == nil {
		return nil, false
	}
	return fieldValue(f, o.Hostname, o.Port, o.Username, o.Password, o.Platform)
}

// Attributes is the attribute set carried by hosts, groups and defaults.
type Attributes struct {
	Hostname *string
	Port     *int
	Username *string
	Password *string
	Platform *string

	// Data is the free-form property bag.
	Data map[string]any

	// ConnectionOptions maps a connection kind to its overrides.
	ConnectionOptions map[string]*ConnectionOptions
}

func (a *Attributes) field(f Field) (any, bool) {
	return fieldValue(f, a.Hostname, a.Port, a.Username, a.Password, a.Platform)
}

func (a *Attributes) data(key string) (any, bool) {
	v, ok := a.Data[key]
	return v, ok
}

func (a *Attributes) options(kind string) *ConnectionOptions {
	return a.ConnectionOptions[kind]
}

func fieldValue(f Field, hostname *string, port *int, username, password, platform *string) (any, bool) {
	switch f {
	case FieldHostname:
		return deref(hostname)
	case FieldPort:
		if port == nil {
			return nil, false
		}
		return *port, true
	case FieldUsername:
		return deref(username)
	case FieldPassword:
		return deref(password)
	case FieldPlatform:
		return deref(platform)
	}
	return nil, false
}

func deref(s *string) (any, bool) {
	if s == nil {
		return nil, false
	}
	return *s, true
}

// ConnectionParams is the fully resolved set of parameters a connection
// plugin receives when it is opened.
type ConnectionParams struct {
	Hostname string
	Port     int
	Username string
	Password string
	Platform string
	Extras   map[string]any
}

// Defaults is the inventory-wide fallback attribute set.
type Defaults struct {
	Attributes
}

// NewDefaults returns an empty Defaults.
func NewDefaults() *Defaults {
	return &Defaults{Attributes: Attributes{Data: map[string]any{}}}
}

// Get returns the defaults' own data value for key.
func (d *Defaults) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	return d.data(key)
}

// Set stores value under key in the defaults' data bag.
func (d *Defaults) Set(key string, value any) {
	if d.Data == nil {
		d.Data = make(map[string]any)
	}
	d.Data[key] = value
}

// Group is a named, reusable attribute set that hosts and other groups inherit.
type Group struct {
	Attributes

	name     string
	groups   *ParentGroups
	defaults *Defaults
}

// NewGroup creates a detached group. It becomes part of an inventory through
// Inventory.AddGroup.
func NewGroup(name string, attrs Attributes) *Group {
	if attrs.Data == nil {
		attrs.Data = map[string]any{}
	}
	return &Group{Attributes: attrs, name: name, groups: &ParentGroups{}}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Groups returns the group's parents.
func (g *Group) Groups() *ParentGroups { return g.groups }

func (g *Group) String() string { return g.name }

// Host is a single managed endpoint.
type Host struct {
	Attributes

	name     string
	groups   *ParentGroups
	defaults *Defaults
}

// NewHost creates a detached host. It becomes part of an inventory through
// Inventory.AddHost.
func NewHost(name string, attrs Attributes) *Host {
	if attrs.Data == nil {
		attrs.Data = map[string]any{}
	}
	return &Host{Attributes: attrs, name: name, groups: &ParentGroups{}}
}

// Name returns the host name, which is also its inventory key.
func (h *Host) Name() string { return h.name }

// Groups returns the host's parent groups.
func (h *Host) Groups() *ParentGroups { return h.groups }

// Defaults returns the defaults the host falls back to.
func (h *Host) Defaults() *Defaults { return h.defaults }

func (h *Host) String() string { return h.name }
