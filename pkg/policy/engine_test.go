package policy

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/filter"
	"github.com/openfroyo/herd/pkg/inventory"
)

func strPtr(s string) *string { return &s }

func testInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	inv, err := inventory.Build(&inventory.Records{
		Groups: map[string]inventory.GroupRecord{
			"web":  {Platform: strPtr("linux")},
			"prod": {Data: map[string]any{"env": "prod"}},
		},
		Hosts: map[string]inventory.HostRecord{
			"web1": {Hostname: strPtr("10.0.0.1"), Groups: []string{"web", "prod"}},
			"web2": {Hostname: strPtr("10.0.0.2"), Groups: []string{"web"}, Data: map[string]any{"maintenance": true}},
			"db1":  {Groups: []string{"prod"}},
		},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return inv
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func selected(inv *inventory.Inventory, p inventory.Predicate) []string {
	names := inv.Filter(p).HostNames()
	sort.Strings(names)
	return names
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
		if p.Enabled {
			t.Errorf("built-in policy %s should start disabled", p.Name)
		}
	}

	want := []string{"require-hostname", "require-platform", "skip-maintenance"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("built-in policies = %v, want %v", names, want)
	}
}

func TestSelector_NoEnabledPolicies(t *testing.T) {
	inv := testInventory(t)
	eng := newTestEngine(t)

	if got := selected(inv, eng.Selector(context.Background())); len(got) != 3 {
		t.Errorf("expected every host selected, got %v", got)
	}
}

func TestSelector_Builtins(t *testing.T) {
	tests := []struct {
		name    string
		enabled []string
		want    []string
	}{
		{"require-hostname", []string{"require-hostname"}, []string{"web1", "web2"}},
		{"require-platform", []string{"require-platform"}, []string{"web1", "web2"}},
		{"skip-maintenance", []string{"skip-maintenance"}, []string{"db1", "web1"}},
		{"combined", []string{"require-hostname", "skip-maintenance"}, []string{"web1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := testInventory(t)
			eng := newTestEngine(t)
			for _, name := range tt.enabled {
				if err := eng.EnablePolicy(name); err != nil {
					t.Fatalf("EnablePolicy(%s) error = %v", name, err)
				}
			}

			if got := selected(inv, eng.Selector(context.Background())); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("selected %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAddPolicy_Allow(t *testing.T) {
	inv := testInventory(t)
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.AddPolicy(ctx, Policy{
		Name:    "prod-web",
		Enabled: true,
		Rego: `package herd.select.prodweb

import rego.v1

default allow := false

allow if {
	"web" in input.groups
	input.data.env == "prod"
}
`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	if got := selected(inv, eng.Selector(ctx)); !reflect.DeepEqual(got, []string{"web1"}) {
		t.Errorf("selected %v, want [web1]", got)
	}

	// Combined with a regular filter.
	both := filter.And(eng.Selector(ctx), filter.F{"platform": "linux"})
	if got := selected(inv, both); !reflect.DeepEqual(got, []string{"web1"}) {
		t.Errorf("selected %v, want [web1]", got)
	}

	if err := eng.DisablePolicy("prod-web"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	if got := selected(inv, eng.Selector(ctx)); len(got) != 3 {
		t.Errorf("expected every host after disabling, got %v", got)
	}
}

func TestEvaluate_Reasons(t *testing.T) {
	inv := testInventory(t)
	eng := newTestEngine(t)
	if err := eng.EnablePolicy("require-hostname"); err != nil {
		t.Fatal(err)
	}

	h, _ := inv.Host("db1")
	decision, err := eng.Evaluate(context.Background(), h)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if decision.Allowed {
		t.Error("expected db1 to be rejected")
	}
	if len(decision.Reasons) != 1 || !strings.HasPrefix(decision.Reasons[0], "require-hostname: ") {
		t.Errorf("unexpected reasons %v", decision.Reasons)
	}
	if !reflect.DeepEqual(decision.EvaluatedPolicies, []string{"require-hostname"}) {
		t.Errorf("EvaluatedPolicies = %v", decision.EvaluatedPolicies)
	}
}

func TestAddPolicy_Invalid(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.AddPolicy(context.Background(), Policy{Name: "broken", Rego: "package x\n\nallow if {"})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("broken policy should not be stored")
	}
}

func TestEnablePolicy_Unknown(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.EnablePolicy("nope"); err == nil {
		t.Error("expected error for unknown policy")
	}
	if err := eng.DisablePolicy("nope"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestReloadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.AddPolicy(ctx, Policy{Name: "extra", Enabled: true, Rego: "package extra\n"}); err != nil {
		t.Fatal(err)
	}
	if err := eng.ReloadPolicies(ctx); err != nil {
		t.Fatalf("ReloadPolicies() error = %v", err)
	}
	if _, err := eng.GetPolicy("extra"); err == nil {
		t.Error("custom policy should be dropped on reload")
	}
	if len(eng.ListPolicies()) != 3 {
		t.Errorf("expected built-ins after reload, got %d", len(eng.ListPolicies()))
	}
}

func TestSelector_Equal(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	ctx := context.Background()

	if !a.Selector(ctx).Equal(a.Selector(ctx)) {
		t.Error("selectors over the same engine should be equal")
	}
	if a.Selector(ctx).Equal(b.Selector(ctx)) {
		t.Error("selectors over different engines should differ")
	}
	if a.Selector(ctx).Equal(filter.F{}) {
		t.Error("selector should not equal F")
	}
}
