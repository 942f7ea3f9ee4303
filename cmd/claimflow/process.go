package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"claimflow/internal/bootstrap"
	"claimflow/internal/claim"
	"claimflow/internal/orchestrator"
	jsonx "claimflow/internal/shared/json"
)

func newProcessCommand(flags *globalFlags) *cobra.Command {
	var (
		asJSON bool
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "process <files...>",
		Short: "Process claim documents and print the adjudication",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.logLevel == "" {
				flags.logLevel = "warn"
			}
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}

			container, err := bootstrap.BuildContainer(cfg, bootstrap.Options{LogOutput: os.Stderr})
			if err != nil {
				return err
			}
			defer func() { _ = container.Shutdown(context.Background()) }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var opts []orchestrator.RunOption
			if !quiet && !asJSON {
				opts = append(opts, orchestrator.WithListener(progressPrinter(out)))
			}
			result := container.Orchestrator.Run(ctx, args, opts...)

			if asJSON {
				return printJSON(out, result)
			}
			return printSummary(out, result)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print loop progress")
	return cmd
}

func progressPrinter(out io.Writer) orchestrator.EventListener {
	return orchestrator.ListenerFunc(func(event orchestrator.Event) {
		if line := formatEvent(event); line != "" {
			fmt.Fprintln(out, line)
		}
	})
}

func printJSON(out io.Writer, result claim.Result) error {
	data, err := jsonx.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printSummary(out io.Writer, result claim.Result) error {
	summary := buildSummary(result)
	renderer, err := NewMarkdownRenderer(!isTTY())
	if err != nil {
		_, err = fmt.Fprint(out, summary)
		return err
	}
	rendered, err := renderer.Render(summary)
	if err != nil {
		_, err = fmt.Fprint(out, summary)
		return err
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
