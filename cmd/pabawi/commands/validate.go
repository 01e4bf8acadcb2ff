package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pabawi/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Load and validate a configuration file.

This command checks:
  - syntax for the file's format (YAML, JSON, CUE or Starlark)
  - parameter types and identifiers
  - SSL and authentication dependencies
  - integration declarations

Every problem is reported, not only the first one.`,
		Example: `  # Validate the default configuration
  pabawi validate

  # Validate a CUE document
  pabawi validate -c site.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(cmd.Context(), configPath)
			if err != nil {
				var ve *config.ValidationError
				if errors.As(err, &ve) && !jsonOutput {
					fmt.Fprintln(out, errorMsg("%s is invalid", configPath))
					for _, problem := range ve.Problems {
						fmt.Fprintln(out, "  - "+problem.Error())
					}
				}
				return err
			}

			if jsonOutput {
				return writeJSON(out, cfg)
			}

			fmt.Fprintln(out, successMsg("%s is valid", configPath))
			fmt.Fprint(out, keyValues("  ",
				kv("proxy", selectionLabel(cfg.Proxy)),
				kv("install", selectionLabel(cfg.Install)),
				kv("integrations", fmt.Sprintf("%v", cfg.IntegrationNames())),
			))
			return nil
		},
	}

	return cmd
}

func selectionLabel(s config.Selection) string {
	if !s.Manage {
		return mutedStyle.Render("unmanaged")
	}
	return s.Class
}
