package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/inventory"
)

// Engine holds compiled selection policies and evaluates hosts against the
// enabled ones.
type Engine struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	compiled map[string]*compiledPolicy
}

type compiledPolicy struct {
	policy Policy
	pkg    string
	query  rego.PreparedEvalQuery
}

// NewEngine returns an engine holding the built-in policies, all disabled.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{logger: logger.With().Str("component", "policy_engine").Logger()}
	if err := e.ReloadPolicies(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// prepare parses and compiles p. The query is the module's package document.
func prepare(ctx context.Context, p Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}
	pkg := module.Package.Path.String()

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(pkg),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
	}
	return &compiledPolicy{policy: p, pkg: pkg, query: query}, nil
}

// AddPolicy compiles p and stores it, replacing a policy of the same name.
// Nothing is stored when compilation fails.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := prepare(ctx, p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiled[p.Name] = cp
	e.mu.Unlock()

	e.logger.Debug().Str("policy", p.Name).Str("package", cp.pkg).Msg("Policy compiled")
	return nil
}

// LoadPolicies reads policy files from paths and adds them enabled.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.addAll(ctx, policies)
}

// addAll compiles every policy before storing any of them.
func (e *Engine) addAll(ctx context.Context, policies []Policy) error {
	prepared := make([]*compiledPolicy, 0, len(policies))
	for _, p := range policies {
		cp, err := prepare(ctx, p)
		if err != nil {
			return err
		}
		prepared = append(prepared, cp)
	}

	e.mu.Lock()
	for _, cp := range prepared {
		e.compiled[cp.policy.Name] = cp
	}
	e.mu.Unlock()

	e.logger.Info().Int("policies", len(prepared)).Msg("Loaded policies")
	return nil
}

// Watch reloads the policy files under paths each time one changes, until
// ctx is done. The returned loader can stop the watch early.
func (e *Engine) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.addAll(ctx, policies)
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}

// ReloadPolicies drops every policy and restores the built-ins, disabled.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	fresh := make(map[string]*compiledPolicy)
	for _, p := range GetBuiltinPolicies() {
		cp, err := prepare(ctx, p)
		if err != nil {
			return fmt.Errorf("built-in policy: %w", err)
		}
		fresh[p.Name] = cp
	}

	e.mu.Lock()
	e.compiled = fresh
	e.mu.Unlock()
	return nil
}

// Evaluate runs every enabled policy, in name order, with h as input.
func (e *Engine) Evaluate(ctx context.Context, h *inventory.Host) (*Decision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	start := time.Now()
	input := NewHostInput(h)
	d := &Decision{Host: h.Name(), Allowed: true}

	for _, name := range e.names() {
		cp := e.compiled[name]
		if !cp.policy.Enabled {
			continue
		}
		d.EvaluatedPolicies = append(d.EvaluatedPolicies, name)

		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("policy %s failed for host %s: %w", name, h.Name(), err)
		}
		allowed, reasons := verdict(rs)
		if !allowed {
			d.Allowed = false
		}
		for _, r := range reasons {
			d.Reasons = append(d.Reasons, name+": "+r)
		}
	}

	e.logger.Debug().
		Str("host", h.Name()).
		Bool("allowed", d.Allowed).
		Dur("duration", time.Since(start)).
		Msg("Evaluated host policies")
	return d, nil
}

// verdict reads "allow" and "deny" from the package document. An undefined
// allow counts as true; any deny message rejects the host.
func verdict(rs rego.ResultSet) (bool, []string) {
	allowed := true
	var reasons []string
	for _, r := range rs {
		if len(r.Expressions) == 0 {
			continue
		}
		doc, ok := r.Expressions[0].Value.(map[string]interface{})
		if !ok {
			continue
		}
		if v, ok := doc["allow"].(bool); ok && !v {
			allowed = false
		}
		deny, _ := doc["deny"].([]interface{})
		for _, item := range deny {
			reasons = append(reasons, denyMessage(item))
		}
	}
	return allowed && len(reasons) == 0, reasons
}

// denyMessage accepts a string or an object with a "message" field.
func denyMessage(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if m, ok := v.(map[string]interface{}); ok {
		if msg, ok := m["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprint(v)
}

// names returns the policy names sorted. Callers hold e.mu.
func (e *Engine) names() []string {
	out := make([]string, 0, len(e.compiled))
	for name := range e.compiled {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// GetPolicy returns a copy of the named policy.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.compiled[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	p := cp.policy
	return &p, nil
}

// ListPolicies returns every policy sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.compiled))
	for _, name := range e.names() {
		out = append(out, e.compiled[name].policy)
	}
	return out
}

// EnabledPolicies returns the names of the enabled policies, sorted.
func (e *Engine) EnabledPolicies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []string
	for _, name := range e.names() {
		if e.compiled[name].policy.Enabled {
			out = append(out, name)
		}
	}
	return out
}

// EnablePolicy turns the named policy on.
func (e *Engine) EnablePolicy(name string) error { return e.setEnabled(name, true) }

// DisablePolicy turns the named policy off.
func (e *Engine) DisablePolicy(name string) error { return e.setEnabled(name, false) }

func (e *Engine) setEnabled(name string, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.compiled[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = on
	e.logger.Info().Str("policy", name).Bool("enabled", on).Msg("Policy toggled")
	return nil
}
