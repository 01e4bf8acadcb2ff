package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pabawi/pkg/components"
	"github.com/openfroyo/pabawi/pkg/engine"
)

func newComponentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "components [name]",
		Short: "List built-in components and their parameters",
		Long: `List the components a configuration can select.

Without arguments every component is listed with its kind. With a name
the component's parameters are shown with their types and defaults.`,
		Example: `  pabawi components
  pabawi components pabawi::install::npm`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			reg := components.NewRegistry()

			if len(args) == 1 {
				spec, err := reg.Resolve(args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, map[string]any{
						"name":        spec.Name,
						"kind":        spec.Kind,
						"description": spec.Description,
						"params":      spec.Params,
						"depends_on":  spec.DependsOn,
					})
				}
				fmt.Fprint(out, describeComponent(spec))
				return nil
			}

			specs := make([]*engine.ComponentSpec, 0)
			for _, name := range reg.List() {
				spec, _ := reg.Resolve(name)
				specs = append(specs, spec)
			}
			if jsonOutput {
				type entry struct {
					Name        string               `json:"name"`
					Kind        engine.ComponentKind `json:"kind"`
					Description string               `json:"description"`
				}
				entries := make([]entry, len(specs))
				for i, s := range specs {
					entries[i] = entry{Name: s.Name, Kind: s.Kind, Description: s.Description}
				}
				return writeJSON(out, entries)
			}

			rows := make([][]string, len(specs))
			for i, s := range specs {
				rows[i] = []string{s.Name, string(s.Kind), s.Description}
			}
			fmt.Fprintln(out, renderTable([]string{"COMPONENT", "KIND", "DESCRIPTION"}, rows))
			return nil
		},
	}

	return cmd
}

func describeComponent(spec *engine.ComponentSpec) string {
	var sb strings.Builder
	sb.WriteString(keyValues("",
		kv("name", spec.Name),
		kv("kind", string(spec.Kind)),
		kv("description", spec.Description),
	))

	if len(spec.DependsOn) > 0 {
		deps := make([]string, len(spec.DependsOn))
		for i, d := range spec.DependsOn {
			deps[i] = d.Name
			if d.Optional {
				deps[i] += " (optional)"
			}
		}
		sb.WriteString(keyValues("", kv("depends on", strings.Join(deps, ", "))))
	}

	if len(spec.Params) == 0 {
		return sb.String()
	}

	rows := make([][]string, len(spec.Params))
	for i, p := range spec.Params {
		def := ""
		if p.Default != nil {
			def = fmt.Sprintf("%v", p.Default)
		}
		if p.Required {
			def = "required"
		}
		rows[i] = []string{p.Name, string(p.Type), def, p.Description}
	}
	sb.WriteString(renderTable([]string{"PARAMETER", "TYPE", "DEFAULT", "DESCRIPTION"}, rows))
	sb.WriteString("\n")
	return sb.String()
}
