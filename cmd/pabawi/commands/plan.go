package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pabawi/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compile the configuration and show the catalog",
		Long: `Compile the configuration into the ordered resource catalog without
touching any host.

The catalog lists every resource in the order apply would converge it,
with the component that declared it and the resources it waits for.
With --dot the component dependency graph is printed in Graphviz format.`,
		Example: `  # Show the catalog
  pabawi plan -c pabawi.yaml

  # Render the component graph
  pabawi plan --dot | dot -Tsvg > graph.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry(telemetryOptions{})
			if err != nil {
				return err
			}
			logger := tel.Logger.Zerolog()
			defer shutdown(tel, logger)

			plan, err := compile(cmd.Context(), tel)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case dot:
				fmt.Fprint(out, plan.Graph.ToDOT())
				return nil
			case jsonOutput:
				return writeJSON(out, plan.Catalog)
			}

			fmt.Fprintln(out, infoMsg("%d resources from %d components", plan.Catalog.Len(), len(plan.Catalog.Components)))
			fmt.Fprintln(out, renderCatalog(plan.Catalog))
			for _, w := range plan.Catalog.Warnings {
				fmt.Fprintln(out, warnMsg("%s", w.String()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the component graph in DOT format")

	return cmd
}

// renderCatalog renders the catalog in apply order.
func renderCatalog(catalog *engine.Catalog) string {
	rows := make([][]string, 0, catalog.Len())
	for i, r := range catalog.Resources {
		fatal := ""
		if r.Fatal {
			fatal = "yes"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			r.ID,
			r.Owner,
			fatal,
			strings.Join(r.After, ", "),
		})
	}
	return renderTable([]string{"#", "RESOURCE", "COMPONENT", "FATAL", "AFTER"}, rows)
}
