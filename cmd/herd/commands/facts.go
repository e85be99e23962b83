package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/herd/pkg/engine"
	"github.com/openfroyo/herd/pkg/tasks"
)

func newFactsCommand(g *globalOptions) *cobra.Command {
	var (
		flags     runFlags
		factTypes []string
	)

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Gather facts from the selected hosts",
		Long: `Gather typed facts from the selected hosts over SSH.

Facts are collected by one sub-task per type:
  - os.basic: OS name, version, kernel, architecture
  - hw.cpu: CPU model, vendor, cores
  - hw.memory: RAM and swap
  - hw.disk: mounted filesystems, capacity, usage
  - net.ifaces: network interfaces and addresses`,
		Example: `  # Gather all facts from all hosts
  herd facts --json

  # Gather specific fact types from web hosts
  herd facts --filter "role == 'web'" --type os.basic --type hw.cpu`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, ft := range factTypes {
				if !validFactType(ft) {
					return fmt.Errorf("unknown fact type %q (known: %s)", ft, strings.Join(tasks.FactTypes(), ", "))
				}
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, g, flags.appOptions())
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			opts := []engine.TaskOption{engine.WithName("facts")}
			if len(factTypes) > 0 {
				opts = append(opts, engine.WithParam(tasks.ParamGather, factTypes))
			}

			result, err := flags.execute(ctx, a, engine.NewTask(flags.wrap(tasks.Facts), opts...))
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
	cmd.Flags().StringSliceVar(&factTypes, "type", nil, "fact types to gather (default all)")

	return cmd
}

func validFactType(ft string) bool {
	for _, known := range tasks.FactTypes() {
		if ft == known {
			return true
		}
	}
	return false
}
