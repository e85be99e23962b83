package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/herd/pkg/engine"
	"github.com/openfroyo/herd/pkg/stores"
	"github.com/openfroyo/herd/pkg/tasks"
)

// runFlags holds the execution flags shared by commands that run tasks.
type runFlags struct {
	sel        selection
	workers    int
	serial     bool
	dryRun     bool
	retries    int
	resume     string
	onFailed   bool
	connection string
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	addSelectionFlags(cmd, &f.sel)
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "number of hosts to run on concurrently (default from config)")
	cmd.Flags().BoolVar(&f.serial, "serial", false, "run on one host at a time")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report what would change without changing anything")
	cmd.Flags().IntVar(&f.retries, "retries", 0, "retry failed hosts up to this many extra times with backoff")
	cmd.Flags().BoolVar(&f.onFailed, "on-failed", false, "run only on the hosts that failed in a stored run")
	cmd.Flags().StringVar(&f.resume, "resume", "", `stored run whose failed hosts --on-failed selects (default "last")`)
	cmd.Flags().StringVar(&f.connection, "connection", "", `connection plugin to use, "ssh" or "local" (default "ssh")`)
}

// appOptions returns the bootstrap options the flags need.
func (f *runFlags) appOptions() appOptions {
	return appOptions{
		inventory: true,
		store:     f.resuming(),
		engine:    []engine.Option{engine.WithDryRun(f.dryRun)},
	}
}

func (f *runFlags) resuming() bool {
	return f.onFailed || f.resume != ""
}

// wrap applies --retries to a task body.
func (f *runFlags) wrap(fn engine.Func) engine.Func {
	if f.retries <= 0 {
		return fn
	}
	return engine.Retry(f.retries+1, func(ctx context.Context, t *engine.Task, attempt int) (any, error) {
		if attempt > 0 {
			t.Logger().Warn().Int("attempt", attempt+1).Msg("Retrying")
		}
		return fn(ctx, t)
	}, engine.WithBackoff())
}

// execute selects hosts, applies --resume and --connection and runs task.
func (f *runFlags) execute(ctx context.Context, a *app, task *engine.Task) (*engine.AggregatedResult, error) {
	if f.connection != "" {
		if task.Params == nil {
			task.Params = make(map[string]any)
		}
		task.Params[tasks.ParamConnection] = f.connection
	}

	eng, err := f.sel.apply(ctx, a.engine, a.logger)
	if err != nil {
		return nil, err
	}

	var opts []engine.RunOption
	switch {
	case f.serial:
		opts = append(opts, engine.RunWith(engine.SerialRunner{}))
	case f.workers > 0:
		opts = append(opts, engine.RunWith(engine.ThreadedRunner{Workers: f.workers}))
	}

	if f.resuming() {
		runID := f.resume
		if runID == "" {
			runID = "last"
		}
		failed, err := resumeHosts(ctx, a.store, runID)
		if err != nil {
			return nil, err
		}
		if len(failed) == 0 {
			a.logger.Info().Str("run", runID).Msg("No failed hosts to resume")
		}
		eng.Session().MarkFailed(failed...)
		opts = append(opts, engine.OnFailed(true), engine.OnGood(false))
	}

	return eng.Run(ctx, task, opts...)
}

// resumeHosts returns the failed hosts of a stored run.
func resumeHosts(ctx context.Context, store *stores.SQLiteStore, runID string) ([]string, error) {
	if runID == "last" {
		run, err := store.LatestRun(ctx)
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}
	return store.FailedHosts(ctx, runID)
}

func newRunCommand(g *globalOptions) *cobra.Command {
	var (
		flags runFlags
		sudo  bool
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- COMMAND [ARGS...]",
		Short: "Run a command on the selected hosts",
		Long: `Run a shell command on every selected host, over SSH unless
--connection names another plugin.

A host fails when the command cannot be run or exits non-zero. Failed
hosts are recorded when the run history is enabled and can be retried
later with --on-failed.`,
		Example: `  # Check uptime everywhere
  herd run -- uptime

  # Restart nginx on web hosts, 5 at a time, with sudo
  herd run --filter "role == 'web'" --workers 5 --sudo -- systemctl restart nginx

  # Run on the control node itself
  herd run --connection local --host localhost -- df -h

  # Retry the hosts that failed in the last run
  herd run --on-failed -- systemctl restart nginx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, flags.appOptions())
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			task := engine.NewTask(flags.wrap(tasks.Command),
				engine.WithName("command"),
				engine.WithParam(tasks.ParamCommand, strings.Join(args, " ")),
				engine.WithParam(tasks.ParamSudo, sudo),
			)

			result, err := flags.execute(ctx, a, task)
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), g, result); err != nil {
				return err
			}
			return result.RaiseOnError()
		},
	}

	addRunFlags(cmd, &flags)
	cmd.Flags().BoolVar(&sudo, "sudo", false, "run the command with sudo")

	return cmd
}

func newUploadCommand(g *globalOptions) *cobra.Command {
	var (
		flags runFlags
		mode  string
	)

	cmd := &cobra.Command{
		Use:   "upload SRC DEST",
		Short: "Copy a local file to the selected hosts",
		Example: `  # Push a config file to db hosts
  herd upload --filter "role == 'db'" --mode 0640 ./my.cnf /etc/mysql/my.cnf`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}

			taskOpts := []engine.TaskOption{
				engine.WithName("upload"),
				engine.WithParam(tasks.ParamSource, args[0]),
				engine.WithParam(tasks.ParamDest, args[1]),
			}
			if mode != "" {
				m, err := strconv.ParseUint(mode, 8, 32)
				if err != nil {
					return fmt.Errorf("invalid mode %q: %w", mode, err)
				}
				taskOpts = append(taskOpts, engine.WithParam(tasks.ParamMode, os.FileMode(m)))
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, g, flags.appOptions())
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			result, err := flags.execute(ctx, a, engine.NewTask(flags.wrap(tasks.Upload), taskOpts...))
			if err != nil {
				return err
			}
			if err := printResult(cmd.OutOrStdout(), g, result); err != nil {
				return err
			}
			return result.RaiseOnError()
		},
	}

	addRunFlags(cmd, &flags)
	cmd.Flags().StringVar(&mode, "mode", "", "octal file mode of the remote file")

	return cmd
}

// resultView is the JSON form of one Result.
type resultView struct {
	Name     string        `json:"name"`
	Failed   bool          `json:"failed"`
	Changed  bool          `json:"changed"`
	Severity string        `json:"severity"`
	Diff     string        `json:"diff,omitempty"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// runView is the JSON form of an AggregatedResult.
type runView struct {
	ID          string                  `json:"id"`
	Task        string                  `json:"task"`
	Status      engine.RunStatus        `json:"status"`
	StartedAt   time.Time               `json:"started_at"`
	Duration    time.Duration           `json:"duration_ns"`
	FailedHosts []string                `json:"failed_hosts"`
	Hosts       map[string][]resultView `json:"hosts"`
}

func newRunView(agg *engine.AggregatedResult) runView {
	v := runView{
		ID:          agg.ID,
		Task:        agg.Name,
		Status:      agg.Status(),
		StartedAt:   agg.StartedAt,
		Duration:    agg.Duration(),
		FailedHosts: agg.FailedHosts(),
		Hosts:       make(map[string][]resultView, agg.Len()),
	}
	if v.FailedHosts == nil {
		v.FailedHosts = []string{}
	}
	for name, m := range agg.Hosts {
		views := make([]resultView, 0, len(m))
		for _, r := range m {
			rv := resultView{
				Name:     r.Name,
				Failed:   r.Failed,
				Changed:  r.Changed,
				Severity: r.Severity.String(),
				Diff:     r.Diff,
				Output:   r.Payload,
				Duration: r.Duration(),
			}
			if r.Err != nil {
				rv.Error = r.Err.Error()
			}
			views = append(views, rv)
		}
		v.Hosts[name] = views
	}
	return v
}

// printResult writes a run as a host table plus a summary line, or JSON.
func printResult(w io.Writer, g *globalOptions, agg *engine.AggregatedResult) error {
	if g.jsonOutput {
		return writeJSON(w, newRunView(agg))
	}

	colors := newColorScheme(w, g.noColor)
	table := newTable(w, "Host", "Status", "Duration", "Output")

	changed := 0
	for _, name := range agg.HostNames() {
		m := agg.Hosts[name]
		r := m.First()
		if r == nil {
			continue
		}

		var status, output string
		switch {
		case m.Failed():
			status = colors.Error("failed")
			output = errorText(m.Err())
		case m.Changed():
			changed++
			status = colors.Changed("changed")
			output = resultText(r)
		default:
			status = colors.Success("ok")
			output = resultText(r)
		}

		table.Append([]string{
			colors.Host("%s", name),
			status,
			r.Duration().Round(time.Millisecond).String(),
			oneLine(output, 80),
		})
	}
	table.Render()

	failed := len(agg.FailedHosts())
	summary := fmt.Sprintf("%s: %d hosts, %d changed, %d failed in %s (run %s)",
		agg.Name, agg.Len(), changed, failed, agg.Duration().Round(time.Millisecond), agg.ID)
	if failed > 0 {
		summary = colors.Error("%s", summary)
	} else {
		summary = colors.Success("%s", summary)
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}

func resultText(r *engine.Result) string {
	if r.Diff != "" {
		return r.Diff
	}
	return r.String()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
