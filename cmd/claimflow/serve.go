package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"claimflow/internal/bootstrap"
)

func newServeCommand(flags *globalFlags) *cobra.Command {
	var (
		host     string
		port     int
		pathRoot string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the claim API over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("path-root") {
				cfg.Server.PathRoot = pathRoot
			}

			container, err := bootstrap.BuildContainer(cfg, bootstrap.Options{LogOutput: os.Stderr})
			if err != nil {
				return err
			}
			defer func() { _ = container.Shutdown(context.Background()) }()

			srv, err := bootstrap.NewServer(container)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			fmt.Fprintf(cmd.OutOrStdout(), "%s listening on %s\n", green("claimflow"), cyan(cfg.Server.Addr()))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			fmt.Fprintln(cmd.OutOrStdout(), gray("shutting down..."))
			return srv.Shutdown(context.Background())
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	cmd.Flags().StringVar(&pathRoot, "path-root", "", "directory path requests may read from (overrides server.path_root)")
	return cmd
}
