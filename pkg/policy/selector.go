package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/herd/pkg/filter"
	"github.com/openfroyo/herd/pkg/inventory"
)

// Selector adapts an Engine to a host filter. Hosts whose evaluation fails
// are not selected.
type Selector struct {
	engine *Engine
	ctx    context.Context
}

// Selector returns a filter predicate backed by the engine's enabled policies.
func (e *Engine) Selector(ctx context.Context) *Selector {
	return &Selector{engine: e, ctx: ctx}
}

// Match reports whether h passes every enabled policy.
func (s *Selector) Match(h *inventory.Host) bool {
	decision, err := s.engine.Evaluate(s.ctx, h)
	if err != nil {
		s.engine.logger.Warn().Err(err).Str("host", h.Name()).Msg("Policy selection failed")
		return false
	}
	return decision.Allowed
}

// Equal reports whether other selects through the same engine.
func (s *Selector) Equal(other filter.Predicate) bool {
	o, ok := other.(*Selector)
	return ok && o.engine == s.engine
}

func (s *Selector) String() string {
	return fmt.Sprintf("Policy(%s)", strings.Join(s.engine.EnabledPolicies(), ", "))
}
