package tasks

import (
	"context"
	"maps"

	"github.com/openfroyo/herd/pkg/engine"
)

// Echo returns a copy of its parameters. It is useful to check host
// selection and parameter binding without touching any host.
func Echo(_ context.Context, t *engine.Task) (any, error) {
	return maps.Clone(t.Params), nil
}

// HostData returns the host's data merged over its groups and defaults.
func HostData(_ context.Context, t *engine.Task) (any, error) {
	return t.Host().Items(), nil
}
