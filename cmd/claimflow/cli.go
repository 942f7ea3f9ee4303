package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"claimflow/internal/bootstrap"
	"claimflow/internal/config"
)

// isTTY checks if stdout is attached to a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleKey   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	provider   string
	model      string
	logLevel   string
}

func (f *globalFlags) loadConfig() (config.Config, config.Metadata, error) {
	var opts []config.Option
	if f.configFile != "" {
		opts = append(opts, config.WithConfigFile(f.configFile))
	}
	if f.provider != "" {
		opts = append(opts, config.WithOverride("llm.provider", f.provider))
	}
	if f.model != "" {
		opts = append(opts, config.WithOverride("llm.model", f.model))
	}
	if f.logLevel != "" {
		opts = append(opts, config.WithOverride("observability.logging.level", strings.ToLower(f.logLevel)))
	}
	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return config.Config{}, config.Metadata{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, meta, nil
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "claimflow",
		Short: "Claim document adjudication pipeline",
		Long: fmt.Sprintf(`%s

Runs claim documents through ingest, preprocess, extract, analyze, decide and
output stages, with a language model choosing the next stage each step.

%s
  claimflow process claim_form.pdf invoice.pdf
  claimflow serve --port 8080
  claimflow config show
  claimflow stages`, bold("claimflow"), bold("Examples:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       bootstrap.Version,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file (default: ./claimflow.yaml or $HOME/.claimflow/claimflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.provider, "provider", "", "llm provider override (openai|mock)")
	rootCmd.PersistentFlags().StringVar(&flags.model, "model", "", "llm model override")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug|info|warn|error)")

	rootCmd.AddCommand(
		newProcessCommand(flags),
		newServeCommand(flags),
		newConfigCommand(flags),
		newStagesCommand(flags),
	)
	return rootCmd
}
