package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"claimflow/internal/llm"
	"claimflow/internal/remote"
	"claimflow/internal/stages"
)

func newStagesCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the pipeline stages the oracle can choose from",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}
			// Definitions only; no stage is run.
			registry, err := stages.NewDefaultRegistry(stages.Deps{
				Remote:  remote.NewClient(remote.Config{Endpoints: cfg.Endpoints}),
				Decider: llm.NewPipelineMock(cfg.LLM.Model),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, def := range registry.Definitions() {
				fmt.Fprintf(out, "%s %s\n", gray(fmt.Sprintf("%d.", i+1)), styleTitle.Render(def.Name))
				fmt.Fprintf(out, "   %s\n", def.Description)
				if len(def.Reads) > 0 {
					fmt.Fprintf(out, "   %s %s\n", styleKey.Render("reads: "), strings.Join(def.Reads, ", "))
				}
				if len(def.Writes) > 0 {
					fmt.Fprintf(out, "   %s %s\n", styleKey.Render("writes:"), strings.Join(def.Writes, ", "))
				}
			}
			if missing := cfg.Endpoints.Missing(); len(missing) > 0 {
				fmt.Fprintf(out, "\n%s %s\n", yellow("unconfigured endpoints:"), strings.Join(missing, ", "))
			}
			return nil
		},
	}
}
