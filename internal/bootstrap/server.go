package bootstrap

import (
	"claimflow/internal/logging"
	"claimflow/internal/server"
)

// Version is reported on /api/health and by the CLI.
var Version = "dev"

// NewServer builds the HTTP surface over the container's orchestrator.
func NewServer(c *Container, opts ...server.Option) (*server.Server, error) {
	base := []server.Option{
		server.WithVersion(Version),
		server.WithStageNames(c.StageNames()),
		server.WithBreakerStates(c.Remote.BreakerStates),
		server.WithDebug(c.Config.Observability.Logging.Level == "debug"),
		server.WithLogger(logging.NewComponentLogger("server")),
	}
	return server.New(c.Config.Server, c.Orchestrator, append(base, opts...)...)
}
