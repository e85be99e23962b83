package commands

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/herd/pkg/inventory"
)

// hostView is the JSON form of a host.
type hostView struct {
	Name     string         `json:"name"`
	Hostname string         `json:"hostname,omitempty"`
	Port     any            `json:"port,omitempty"`
	Platform string         `json:"platform,omitempty"`
	Groups   []string       `json:"groups"`
	Data     map[string]any `json:"data"`
}

func newHostView(h *inventory.Host) hostView {
	v := hostView{
		Name:   h.Name(),
		Groups: h.Groups().Names(),
		Data:   h.Items(),
	}
	if hostname, ok := h.Field(inventory.FieldHostname); ok && hostname != nil {
		v.Hostname = fmt.Sprint(hostname)
	}
	if port, ok := h.Field(inventory.FieldPort); ok {
		v.Port = port
	}
	if platform, ok := h.Field(inventory.FieldPlatform); ok && platform != nil {
		v.Platform = fmt.Sprint(platform)
	}
	return v
}

func newInventoryCommand(g *globalOptions) *cobra.Command {
	var (
		sel   selection
		group string
		data  bool
	)

	cmd := &cobra.Command{
		Use:     "inventory",
		Aliases: []string{"inv", "hosts"},
		Short:   "List hosts in the inventory",
		Long: `List the hosts of the inventory, optionally narrowed by a filter.

Filter expressions compare resolved host data, fields and groups:
  role == 'web' AND site in ['nyc', 'lon']
  NOT platform == 'ios' OR tags contains 'edge'`,
		Example: `  # List all hosts
  herd inventory

  # List web hosts in nyc
  herd inventory --filter "role == 'web' AND site == 'nyc'"

  # Select with a Starlark expression
  herd inventory --starlark "data.get('cpus', 0) >= 8"

  # Members of a group, with their merged data, as JSON
  herd inventory --group core --data --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, g, appOptions{inventory: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.close(ctx) }()

			eng, err := sel.apply(ctx, a.engine, a.logger)
			if err != nil {
				return err
			}

			hosts := eng.Inventory().Hosts()
			if group != "" {
				hosts, err = eng.Inventory().ChildrenOfGroupName(group)
				if err != nil {
					return err
				}
			}

			views := make([]hostView, 0, len(hosts))
			for _, h := range hosts {
				views = append(views, newHostView(h))
			}

			w := cmd.OutOrStdout()
			if g.jsonOutput {
				return writeJSON(w, views)
			}

			colors := newColorScheme(w, g.noColor)
			headers := []string{"Name", "Hostname", "Platform", "Groups"}
			if data {
				headers = append(headers, "Data")
			}
			table := newTable(w, headers...)
			for _, v := range views {
				row := []string{
					colors.Host("%s", v.Name),
					valueOrDash(v.Hostname, v.Hostname != ""),
					valueOrDash(v.Platform, v.Platform != ""),
					strings.Join(v.Groups, ","),
				}
				if data {
					row = append(row, formatData(v.Data))
				}
				table.Append(row)
			}
			table.Render()

			fmt.Fprintln(w, colors.Dim("%d of %d hosts", len(views), a.inv.Len()))
			return nil
		},
	}

	addSelectionFlags(cmd, &sel)
	cmd.Flags().StringVar(&group, "group", "", "only hosts inheriting from this group")
	cmd.Flags().BoolVar(&data, "data", false, "show merged host data")

	return cmd
}

func addSelectionFlags(cmd *cobra.Command, sel *selection) {
	cmd.Flags().StringVarP(&sel.filter, "filter", "f", "", "filter expression selecting hosts")
	cmd.Flags().StringVar(&sel.starlark, "starlark", "", "Starlark expression selecting hosts")
	cmd.Flags().StringSliceVar(&sel.policies, "policy", nil, "rego policy files or directories hosts must pass")
	cmd.Flags().StringSliceVarP(&sel.hosts, "host", "H", nil, "specific hosts")
}

// formatData renders a data bag as sorted key=value pairs.
func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", k, data[k])
	}
	return strings.Join(pairs, " ")
}
