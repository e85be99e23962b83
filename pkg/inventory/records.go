package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
)

// Errors returned while constructing an inventory.
var (
	// ErrGroupNotFound is returned when a parent group name does not resolve.
	ErrGroupNotFound = errors.New("group not found")

	// ErrDuplicate is returned when a host or group name is added twice.
	ErrDuplicate = errors.New("duplicate name")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("invalid record")
)

// Kinds of inventory elements named in a ConstructionError.
const (
	KindHost     = "host"
	KindGroup    = "group"
	KindDefaults = "defaults"
)

// ConstructionError reports a malformed inventory.
type ConstructionError struct {
	// Kind is the element kind (host, group or defaults).
	Kind string

	// Name is the element name. Empty for defaults.
	Name string

	// Err is the underlying error.
	Err error
}

func (e *ConstructionError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("invalid %s %s: %v", e.Kind, e.Name, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// ConnectionOptionsRecord is the raw form of ConnectionOptions.
type ConnectionOptionsRecord struct {
	Hostname *string        `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Port     *int           `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username *string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password *string        `json:"password,omitempty" yaml:"password,omitempty"`
	Platform *string        `json:"platform,omitempty" yaml:"platform,omitempty"`
	Extras   map[string]any `json:"extras,omitempty" yaml:"extras,omitempty"`
}

// DefaultsRecord is the raw form of Defaults.
type DefaultsRecord struct {
	Hostname          *string                            `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Port              *int                               `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username          *string                            `json:"username,omitempty" yaml:"username,omitempty"`
	Password          *string                            `json:"password,omitempty" yaml:"password,omitempty"`
	Platform          *string                            `json:"platform,omitempty" yaml:"platform,omitempty"`
	Data              map[string]any                     `json:"data,omitempty" yaml:"data,omitempty"`
	ConnectionOptions map[string]ConnectionOptionsRecord `json:"connection_options,omitempty" yaml:"connection_options,omitempty" validate:"dive"`
}

// HostRecord is the raw form of a Host or Group. Groups lists parent group
// names in declared order.
type HostRecord struct {
	Hostname          *string                            `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Port              *int                               `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Username          *string                            `json:"username,omitempty" yaml:"username,omitempty"`
	Password          *string                            `json:"password,omitempty" yaml:"password,omitempty"`
	Platform          *string                            `json:"platform,omitempty" yaml:"platform,omitempty"`
	Groups            []string                           `json:"groups,omitempty" yaml:"groups,omitempty" validate:"omitempty,unique,dive,required"`
	Data              map[string]any                     `json:"data,omitempty" yaml:"data,omitempty"`
	ConnectionOptions map[string]ConnectionOptionsRecord `json:"connection_options,omitempty" yaml:"connection_options,omitempty" validate:"dive"`
}

// GroupRecord is the raw form of a Group.
type GroupRecord = HostRecord

// Records is what a Loader produces: name-keyed raw records.
type Records struct {
	Hosts    map[string]HostRecord  `json:"hosts" yaml:"hosts"`
	Groups   map[string]GroupRecord `json:"groups" yaml:"groups"`
	Defaults DefaultsRecord         `json:"defaults" yaml:"defaults"`

	// HostOrder lists host names in source order. Hosts it does not name
	// follow in name order.
	HostOrder []string `json:"-" yaml:"-"`
}

// Loader produces raw inventory records from some source.
type Loader interface {
	Load(ctx context.Context) (*Records, error)
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	transform func(*Host) error
}

// WithTransform runs fn on every host after the inventory is wired.
func WithTransform(fn func(*Host) error) BuildOption {
	return func(o *buildOptions) {
		o.transform = fn
	}
}

var validate = validator.New()

// Load calls the loader and builds an inventory from its records.
func Load(ctx context.Context, l Loader, opts ...BuildOption) (*Inventory, error) {
	records, err := l.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	return Build(records, opts...)
}

// Build constructs an inventory in two phases: every group and host is
// created first, then parent group names are wired to Group values. Hosts
// keep the order of r.HostOrder.
func Build(r *Records, opts ...BuildOption) (*Inventory, error) {
	options := &buildOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if r == nil {
		r = &Records{}
	}

	if err := validate.Struct(r.Defaults); err != nil {
		return nil, &ConstructionError{Kind: KindDefaults, Err: fmt.Errorf("%w: %v", ErrInvalidRecord, err)}
	}
	defaults := &Defaults{Attributes: defaultsAttributes(r.Defaults)}
	inv := New(defaults)

	for _, name := range sortedNames(r.Groups) {
		rec := r.Groups[name]
		if err := validate.Struct(rec); err != nil {
			return nil, &ConstructionError{Kind: KindGroup, Name: name, Err: fmt.Errorf("%w: %v", ErrInvalidRecord, err)}
		}
		if err := inv.AddGroup(NewGroup(name, recordAttributes(rec))); err != nil {
			return nil, err
		}
	}

	for _, name := range hostOrder(r) {
		rec := r.Hosts[name]
		if err := validate.Struct(rec); err != nil {
			return nil, &ConstructionError{Kind: KindHost, Name: name, Err: fmt.Errorf("%w: %v", ErrInvalidRecord, err)}
		}
		if err := inv.AddHost(NewHost(name, recordAttributes(rec))); err != nil {
			return nil, err
		}
	}

	for _, name := range sortedNames(r.Groups) {
		g := inv.groups[name]
		if err := wireParents(inv, g.groups, r.Groups[name].Groups); err != nil {
			return nil, &ConstructionError{Kind: KindGroup, Name: name, Err: err}
		}
	}
	for _, h := range inv.hosts {
		if err := wireParents(inv, h.groups, r.Hosts[h.name].Groups); err != nil {
			return nil, &ConstructionError{Kind: KindHost, Name: h.name, Err: err}
		}
	}

	if options.transform != nil {
		if err := inv.Transform(options.transform); err != nil {
			return nil, err
		}
	}

	return inv, nil
}

func wireParents(inv *Inventory, parents *ParentGroups, names []string) error {
	for _, name := range names {
		g, ok := inv.groups[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
		}
		if err := parents.Add(g); err != nil {
			return err
		}
	}
	return nil
}

func recordAttributes(r HostRecord) Attributes {
	return Attributes{
		Hostname:          r.Hostname,
		Port:              r.Port,
		Username:          r.Username,
		Password:          r.Password,
		Platform:          r.Platform,
		Data:              copyData(r.Data),
		ConnectionOptions: optionsFromRecords(r.ConnectionOptions),
	}
}

func defaultsAttributes(r DefaultsRecord) Attributes {
	return Attributes{
		Hostname:          r.Hostname,
		Port:              r.Port,
		Username:          r.Username,
		Password:          r.Password,
		Platform:          r.Platform,
		Data:              copyData(r.Data),
		ConnectionOptions: optionsFromRecords(r.ConnectionOptions),
	}
}

func optionsFromRecords(records map[string]ConnectionOptionsRecord) map[string]*ConnectionOptions {
	if len(records) == 0 {
		return nil
	}
	out := make(map[string]*ConnectionOptions, len(records))
	for kind, r := range records {
		out[kind] = &ConnectionOptions{
			Hostname: r.Hostname,
			Port:     r.Port,
			Username: r.Username,
			Password: r.Password,
			Platform: r.Platform,
			Extras:   r.Extras,
		}
	}
	return out
}

func copyData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// hostOrder returns the names of r.Hosts, those listed in r.HostOrder first.
func hostOrder(r *Records) []string {
	names := make([]string, 0, len(r.Hosts))
	seen := make(map[string]struct{}, len(r.Hosts))
	for _, name := range r.HostOrder {
		if _, ok := r.Hosts[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for _, name := range sortedNames(r.Hosts) {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
