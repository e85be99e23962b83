package inventory

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func testRecords() *Records {
	return &Records{
		Defaults: DefaultsRecord{
			Username: strPtr("root"),
			Port:     intPtr(22),
			Data: map[string]any{
				"domain": "acme.com",
				"site":   "default",
			},
			ConnectionOptions: map[string]ConnectionOptionsRecord{
				"ssh": {Port: intPtr(2200)},
			},
		},
		Groups: map[string]GroupRecord{
			"global": {
				Platform: strPtr("linux"),
				Data:     map[string]any{"site": "global", "asn": 65000, "tier": "core"},
			},
			"bma": {
				Groups: []string{"global"},
				Data:   map[string]any{"site": "bma"},
				ConnectionOptions: map[string]ConnectionOptionsRecord{
					"netconf": {Port: intPtr(830), Extras: map[string]any{"hostkey_verify": false}},
				},
			},
			"cmh": {
				Groups: []string{"global"},
				Data:   map[string]any{"site": "cmh"},
			},
			"edge": {
				Username: strPtr("edge-admin"),
				Data:     map[string]any{"role": "edge", "tier": "edge"},
			},
		},
		Hosts: map[string]HostRecord{
			"dev1.bma": {
				Hostname: strPtr("10.0.0.1"),
				Groups:   []string{"bma", "edge"},
				Data:     map[string]any{"role": "leaf", "nested": map[string]any{"a": 1}},
				ConnectionOptions: map[string]ConnectionOptionsRecord{
					"netconf": {Username: strPtr("netconf-user")},
				},
			},
			"dev2.cmh": {
				Groups: []string{"cmh"},
				Port:   intPtr(2022),
			},
			"dev3": {},
		},
	}
}

func testInventory(t *testing.T) *Inventory {
	t.Helper()
	inv, err := Build(testRecords())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return inv
}

func mustHost(t *testing.T, inv *Inventory, name string) *Host {
	t.Helper()
	h, ok := inv.Host(name)
	if !ok {
		t.Fatalf("host %s not found", name)
	}
	return h
}

func TestBuild_HostOrder(t *testing.T) {
	inv := testInventory(t)

	want := []string{"dev1.bma", "dev2.cmh", "dev3"}
	if got := inv.HostNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("HostNames() = %v, want %v", got, want)
	}
	if got := inv.GroupNames(); !reflect.DeepEqual(got, []string{"bma", "cmh", "edge", "global"}) {
		t.Errorf("GroupNames() = %v", got)
	}
}

func TestBuild_SourceHostOrder(t *testing.T) {
	hosts := map[string]HostRecord{"zeta": {}, "alpha": {}, "mid": {}, "beta": {}}

	tests := []struct {
		name  string
		order []string
		want  []string
	}{
		{"no source order", nil, []string{"alpha", "beta", "mid", "zeta"}},
		{"full source order", []string{"zeta", "alpha", "mid", "beta"}, []string{"zeta", "alpha", "mid", "beta"}},
		{"unlisted hosts follow by name", []string{"mid", "zeta"}, []string{"mid", "zeta", "alpha", "beta"}},
		{"unknown and repeated names ignored", []string{"beta", "ghost", "beta", "alpha"}, []string{"beta", "alpha", "mid", "zeta"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Build(&Records{Hosts: hosts, HostOrder: tt.order})
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if got := inv.HostNames(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("HostNames() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHost_Get(t *testing.T) {
	inv := testInventory(t)

	tests := []struct {
		host  string
		key   string
		want  any
		found bool
	}{
		{"dev1.bma", "role", "leaf", true},
		{"dev1.bma", "site", "bma", true},
		{"dev1.bma", "asn", 65000, true},
		{"dev1.bma", "tier", "core", true}, // bma -> global is walked before edge
		{"dev1.bma", "domain", "acme.com", true},
		{"dev2.cmh", "site", "cmh", true},
		{"dev3", "site", "default", true},
		{"dev3", "asn", nil, false},
		{"dev1.bma", "missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.host+"/"+tt.key, func(t *testing.T) {
			got, ok := mustHost(t, inv, tt.host).Get(tt.key)
			if ok != tt.found {
				t.Fatalf("Get(%q) found = %v, want %v", tt.key, ok, tt.found)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Get(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestHost_Field(t *testing.T) {
	inv := testInventory(t)

	tests := []struct {
		host  string
		field Field
		want  any
		found bool
	}{
		{"dev1.bma", FieldHostname, "10.0.0.1", true},
		{"dev1.bma", FieldUsername, "edge-admin", true},
		{"dev1.bma", FieldPlatform, "linux", true},
		{"dev1.bma", FieldPort, 22, true},
		{"dev2.cmh", FieldPort, 2022, true},
		{"dev3", FieldUsername, "root", true},
		{"dev3", FieldPlatform, nil, false},
		{"dev3", FieldPassword, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.host+"/"+string(tt.field), func(t *testing.T) {
			got, ok := mustHost(t, inv, tt.host).Field(tt.field)
			if ok != tt.found || !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Field(%s) = %v, %v; want %v, %v", tt.field, got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestHost_ConnectionParameters(t *testing.T) {
	inv := testInventory(t)

	tests := []struct {
		name string
		host string
		kind string
		want ConnectionParams
	}{
		{
			name: "base fields only",
			host: "dev1.bma",
			want: ConnectionParams{Hostname: "10.0.0.1", Port: 22, Username: "edge-admin", Platform: "linux"},
		},
		{
			name: "fields drawn from different levels",
			host: "dev1.bma",
			kind: "netconf",
			want: ConnectionParams{
				Hostname: "10.0.0.1",
				Port:     830,
				Username: "netconf-user",
				Platform: "linux",
				Extras:   map[string]any{"hostkey_verify": false},
			},
		},
		{
			name: "no override anywhere falls back to base",
			host: "dev2.cmh",
			kind: "netconf",
			want: ConnectionParams{Port: 2022, Username: "root", Platform: "linux"},
		},
		{
			name: "defaults override beats inherited base",
			host: "dev2.cmh",
			kind: "ssh",
			want: ConnectionParams{Port: 2200, Username: "root", Platform: "linux"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustHost(t, inv, tt.host).ConnectionParameters(tt.kind)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ConnectionParameters(%q) = %+v, want %+v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestHost_SetShadowsInherited(t *testing.T) {
	inv := testInventory(t)
	h := mustHost(t, inv, "dev1.bma")

	h.Set("site", "override")
	if got, _ := h.Get("site"); got != "override" {
		t.Errorf("Get(site) = %v, want override", got)
	}
	g, _ := inv.Group("bma")
	if got, _ := g.Get("site"); got != "bma" {
		t.Errorf("group site = %v, want bma", got)
	}

	h.Delete("site")
	if got, _ := h.Get("site"); got != "bma" {
		t.Errorf("Get(site) after Delete = %v, want bma", got)
	}
}

func TestHost_ItemsAndKeys(t *testing.T) {
	inv := testInventory(t)
	h := mustHost(t, inv, "dev2.cmh")

	want := []string{"asn", "domain", "site", "tier"}
	if got := h.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if got := h.Items()["site"]; got != "cmh" {
		t.Errorf("Items()[site] = %v, want cmh", got)
	}
}

func TestHost_Lookup(t *testing.T) {
	inv := testInventory(t)
	h := mustHost(t, inv, "dev1.bma")

	tests := []struct {
		key   string
		want  any
		found bool
	}{
		{"name", "dev1.bma", true},
		{"groups", []string{"bma", "edge"}, true},
		{"hostname", "10.0.0.1", true},
		{"platform", "linux", true},
		{"site", "bma", true},
		{"password", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := h.Lookup(tt.key)
			if ok != tt.found || !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Lookup(%q) = %v, %v; want %v, %v", tt.key, got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestHost_HasParentGroup(t *testing.T) {
	inv := testInventory(t)
	h := mustHost(t, inv, "dev1.bma")
	global, _ := inv.Group("global")
	cmh, _ := inv.Group("cmh")

	if !h.HasParentGroup("bma") {
		t.Error("expected direct parent bma")
	}
	if !h.HasParentGroup("global") {
		t.Error("expected grandparent global")
	}
	if h.HasParentGroup("cmh") {
		t.Error("unexpected parent cmh")
	}
	if !h.HasParentGroupRef(global) {
		t.Error("expected grandparent global by reference")
	}
	if h.HasParentGroupRef(cmh) {
		t.Error("unexpected parent cmh by reference")
	}
}

func TestHost_AddRemoveGroup(t *testing.T) {
	inv := testInventory(t)
	h := mustHost(t, inv, "dev3")
	edge, _ := inv.Group("edge")

	if err := h.Groups().Add(edge); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got, _ := h.Field(FieldUsername); got != "edge-admin" {
		t.Errorf("username after Add = %v, want edge-admin", got)
	}
	if err := h.Groups().Add(edge); err == nil {
		t.Error("expected error adding duplicate group")
	}

	if err := h.Groups().Remove(edge); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if got, _ := h.Field(FieldUsername); got != "root" {
		t.Errorf("username after Remove = %v, want root", got)
	}
	if err := h.Groups().Remove(edge); err == nil {
		t.Error("expected error removing absent group")
	}
}

func TestResolution_CyclicGroups(t *testing.T) {
	records := &Records{
		Groups: map[string]GroupRecord{
			"a": {Groups: []string{"b"}, Data: map[string]any{"from_a": 1}},
			"b": {Groups: []string{"a"}, Data: map[string]any{"from_b": 2}},
		},
		Hosts: map[string]HostRecord{
			"h": {Groups: []string{"a"}},
		},
	}
	inv, err := Build(records)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	h := mustHost(t, inv, "h")

	if got, ok := h.Get("from_b"); !ok || got != 2 {
		t.Errorf("Get(from_b) = %v, %v", got, ok)
	}
	if _, ok := h.Get("missing"); ok {
		t.Error("expected missing key to be absent")
	}
	if h.HasParentGroup("c") {
		t.Error("unexpected parent c")
	}
	a, _ := inv.Group("a")
	if got, ok := a.Get("from_b"); !ok || got != 2 {
		t.Errorf("group Get(from_b) = %v, %v", got, ok)
	}
}

func TestResolution_DiamondRemoveParent(t *testing.T) {
	records := &Records{
		Groups: map[string]GroupRecord{
			"base": {Platform: strPtr("linux"), Data: map[string]any{"k": "base"}},
			"a":    {Groups: []string{"base"}},
			"b":    {Groups: []string{"base"}},
		},
		Hosts: map[string]HostRecord{
			"h": {Groups: []string{"a", "b"}},
		},
	}
	inv, err := Build(records)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	h := mustHost(t, inv, "h")
	a, _ := inv.Group("a")

	if err := h.Groups().Remove(a); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if h.HasParentGroup("a") {
		t.Error("a still a parent after Remove")
	}
	if !h.HasParentGroup("base") {
		t.Error("base no longer reachable through b")
	}
	if got, ok := h.Get("k"); !ok || got != "base" {
		t.Errorf("Get(k) = %v, %v; want base, true", got, ok)
	}
	if got, _ := h.Field(FieldPlatform); got != "linux" {
		t.Errorf("platform = %v, want linux", got)
	}
}

func TestResolution_DefaultsMutation(t *testing.T) {
	inv := testInventory(t)

	inv.Defaults().Set("site", "changed")
	inv.Defaults().Set("fresh", "from-defaults")

	tests := []struct {
		host string
		key  string
		want any
	}{
		{"dev1.bma", "site", "bma"},
		{"dev2.cmh", "site", "cmh"},
		{"dev3", "site", "changed"},
		{"dev1.bma", "fresh", "from-defaults"},
		{"dev3", "fresh", "from-defaults"},
		{"dev1.bma", "domain", "acme.com"},
	}

	for _, tt := range tests {
		t.Run(tt.host+"/"+tt.key, func(t *testing.T) {
			h := mustHost(t, inv, tt.host)
			if got, ok := h.Get(tt.key); !ok || got != tt.want {
				t.Errorf("Get(%q) = %v, %v; want %v", tt.key, got, ok, tt.want)
			}
		})
	}

	g, _ := inv.Group("global")
	if got, _ := g.Get("site"); got != "global" {
		t.Errorf("group site = %v, want global", got)
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Records)
		wantErr error
		kind    string
		element string
	}{
		{
			name: "unknown host parent",
			mutate: func(r *Records) {
				r.Hosts["dev3"] = HostRecord{Groups: []string{"nope"}}
			},
			wantErr: ErrGroupNotFound,
			kind:    KindHost,
			element: "dev3",
		},
		{
			name: "unknown group parent",
			mutate: func(r *Records) {
				r.Groups["edge"] = GroupRecord{Groups: []string{"nope"}}
			},
			wantErr: ErrGroupNotFound,
			kind:    KindGroup,
			element: "edge",
		},
		{
			name: "port out of range",
			mutate: func(r *Records) {
				r.Hosts["dev3"] = HostRecord{Port: intPtr(70000)}
			},
			wantErr: ErrInvalidRecord,
			kind:    KindHost,
			element: "dev3",
		},
		{
			name: "duplicate parent",
			mutate: func(r *Records) {
				r.Hosts["dev3"] = HostRecord{Groups: []string{"edge", "edge"}}
			},
			wantErr: ErrInvalidRecord,
			kind:    KindHost,
			element: "dev3",
		},
		{
			name: "invalid defaults",
			mutate: func(r *Records) {
				r.Defaults.Port = intPtr(0)
			},
			wantErr: ErrInvalidRecord,
			kind:    KindDefaults,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRecords()
			tt.mutate(r)

			_, err := Build(r)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Build() error = %v, want %v", err, tt.wantErr)
			}
			var cerr *ConstructionError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConstructionError, got %T", err)
			}
			if cerr.Kind != tt.kind || cerr.Name != tt.element {
				t.Errorf("ConstructionError = %s/%s, want %s/%s", cerr.Kind, cerr.Name, tt.kind, tt.element)
			}
		})
	}
}

func TestInventory_Filter(t *testing.T) {
	inv := testInventory(t)

	linux := inv.FilterFunc(func(h *Host) bool {
		p, _ := h.Field(FieldPlatform)
		return p == "linux"
	})
	if got := linux.HostNames(); !reflect.DeepEqual(got, []string{"dev1.bma", "dev2.cmh"}) {
		t.Errorf("Filter() hosts = %v", got)
	}
	if inv.Len() != 3 {
		t.Errorf("original inventory modified, Len() = %d", inv.Len())
	}

	bma := linux.FilterFunc(func(h *Host) bool { return h.HasParentGroup("bma") })
	if got := bma.HostNames(); !reflect.DeepEqual(got, []string{"dev1.bma"}) {
		t.Errorf("chained Filter() hosts = %v", got)
	}

	h1, _ := inv.Host("dev1.bma")
	h2, _ := bma.Host("dev1.bma")
	if h1 != h2 {
		t.Error("filtered inventory should share host values")
	}
	if bma.Defaults() != inv.Defaults() {
		t.Error("filtered inventory should share defaults")
	}

	none := inv.Filter(PredicateFunc(func(*Host) bool { return false }))
	if none.Len() != 0 {
		t.Errorf("empty filter Len() = %d", none.Len())
	}
}

func TestInventory_ChildrenOfGroup(t *testing.T) {
	inv := testInventory(t)

	hosts, err := inv.ChildrenOfGroupName("global")
	if err != nil {
		t.Fatalf("ChildrenOfGroupName() error = %v", err)
	}
	var names []string
	for _, h := range hosts {
		names = append(names, h.Name())
	}
	if !reflect.DeepEqual(names, []string{"dev1.bma", "dev2.cmh"}) {
		t.Errorf("ChildrenOfGroup(global) = %v", names)
	}

	if _, err := inv.ChildrenOfGroupName("nope"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
}

type staticLoader struct {
	records *Records
	err     error
}

func (l staticLoader) Load(ctx context.Context) (*Records, error) {
	return l.records, l.err
}

func TestLoad_Transform(t *testing.T) {
	inv, err := Load(context.Background(), staticLoader{records: testRecords()},
		WithTransform(func(h *Host) error {
			h.Set("managed", true)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	for _, h := range inv.Hosts() {
		if v, _ := h.Get("managed"); v != true {
			t.Errorf("host %s not transformed", h.Name())
		}
	}

	wantErr := errors.New("boom")
	_, err = Load(context.Background(), staticLoader{records: testRecords()},
		WithTransform(func(h *Host) error { return wantErr }))
	if !errors.Is(err, wantErr) {
		t.Errorf("Load() error = %v, want %v", err, wantErr)
	}

	_, err = Load(context.Background(), staticLoader{err: wantErr})
	if !errors.Is(err, wantErr) {
		t.Errorf("Load() error = %v, want %v", err, wantErr)
	}
}
