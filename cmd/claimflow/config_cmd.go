package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"claimflow/internal/config"
)

func newConfigCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	var showSources bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, meta, err := flags.loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Dump(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			source := "built-in defaults"
			if meta.ConfigFile != "" {
				source = meta.ConfigFile
			}
			fmt.Fprintln(out, styleTitle.Render("claimflow configuration")+" "+gray("("+source+")"))
			fmt.Fprintln(out, string(data))

			if showSources {
				fmt.Fprintln(out, styleTitle.Render("Sources"))
				for _, key := range meta.Keys() {
					if src := meta.Source(key); src != config.SourceDefault {
						fmt.Fprintf(out, "  %s %s\n", styleKey.Render(key), src)
					}
				}
				fmt.Fprintln(out)
			}

			if warnings := cfg.Warnings(); len(warnings) > 0 {
				lines := make([]string, 0, len(warnings))
				for _, w := range warnings {
					lines = append(lines, yellow("! ")+w)
				}
				fmt.Fprintln(out, styleBox.Render(strings.Join(lines, "\n")))
			}
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSources, "sources", false, "list values not taken from defaults")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := flags.loadConfig(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("configuration is valid"))
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}
