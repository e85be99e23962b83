package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/engine"
	"github.com/openfroyo/herd/pkg/filter"
	"github.com/openfroyo/herd/pkg/inventory"
	"github.com/openfroyo/herd/pkg/loaders"
	"github.com/openfroyo/herd/pkg/policy"
	"github.com/openfroyo/herd/pkg/stores"
	"github.com/openfroyo/herd/pkg/telemetry"

	// Registers the local and ssh connection plugins.
	_ "github.com/openfroyo/herd/pkg/transports/local"
	_ "github.com/openfroyo/herd/pkg/transports/ssh"
)

// app holds everything a command needs after bootstrap.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	inv      *inventory.Inventory
	engine   *engine.Engine
	store    *stores.SQLiteStore
	recorder *stores.Recorder
}

// appOptions controls what bootstrap sets up.
type appOptions struct {
	// store opens the run history even when store.enabled is false.
	store bool

	// inventory loads the inventory and builds the engine.
	inventory bool

	// engine holds extra engine options.
	engine []engine.Option
}

// newApp loads configuration, telemetry, the inventory and the run history.
func newApp(ctx context.Context, g *globalOptions, opts appOptions) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.verbose {
		cfg.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(telemetry.FromConfig(cfg, g.version))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	a := &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.NewComponentLogger("cli").Zerolog(),
	}

	if opts.store || cfg.Store.Enabled {
		a.store, err = stores.Open(ctx, cfg.Store.Path)
		if err != nil {
			_ = a.close(ctx)
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		a.recorder = stores.NewRecorder(a.store, a.logger)
	}

	if !opts.inventory {
		return a, nil
	}

	loader, err := loaders.New(cfg.Inventory)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.inv, err = inventory.Load(ctx, loader)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	processors := []engine.Processor{
		engine.LoggingProcessor(a.logger),
		engine.MetricsProcessor(tel.Metrics),
	}
	if a.recorder != nil {
		processors = append(processors, a.recorder)
	}

	engineOpts := append([]engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(tel.Logger.Zerolog()),
		engine.WithTracer(tel.Tracer),
		engine.WithMetrics(tel.Metrics),
		engine.WithProcessors(processors...),
	}, opts.engine...)
	a.engine = engine.New(a.inv, engineOpts...)
	return a, nil
}

// close releases connections, the store and telemetry.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.recorder != nil {
		errs = append(errs, a.recorder.Err())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.tel.Shutdown(context.WithoutCancel(ctx)))
	return errors.Join(errs...)
}

// selection holds the host selection flags shared by commands.
type selection struct {
	filter   string
	starlark string
	policies []string
	hosts    []string
}

// apply narrows eng by every selection flag that is set.
func (s *selection) apply(ctx context.Context, eng *engine.Engine, logger zerolog.Logger) (*engine.Engine, error) {
	if len(s.hosts) > 0 {
		for _, name := range s.hosts {
			if _, ok := eng.Inventory().Host(name); !ok {
				return nil, fmt.Errorf("unknown host %q", name)
			}
		}
		eng = eng.Filter(inventory.PredicateFunc(func(h *inventory.Host) bool {
			return slices.Contains(s.hosts, h.Name())
		}))
	}

	if s.filter != "" {
		var err error
		eng, err = eng.FilterExpr(s.filter)
		if err != nil {
			return nil, err
		}
	}

	if s.starlark != "" {
		p, err := filter.Starlark(s.starlark)
		if err != nil {
			return nil, err
		}
		eng = eng.Filter(p)
	}

	if len(s.policies) > 0 {
		pe, err := policy.NewEngine(logger)
		if err != nil {
			return nil, err
		}
		if err := pe.LoadPolicies(ctx, s.policies); err != nil {
			return nil, err
		}
		eng = eng.Filter(pe.Selector(ctx))
	}

	return eng, nil
}
