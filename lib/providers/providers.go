package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/primectl/primed/cmd/primed/config"
	"github.com/primectl/primed/lib/gpu"
	"github.com/primectl/primed/lib/helpers"
	"github.com/primectl/primed/lib/logger"
	"github.com/primectl/primed/lib/otel"
	"github.com/primectl/primed/lib/shell"
	"github.com/primectl/primed/lib/watch"
)

// ProvideLogger provides a structured logger, bridged to OTel when telemetry
// has been initialized.
func ProvideLogger() *slog.Logger {
	return logger.New(otel.GetGlobalLogHandler())
}

// ProvideContext provides a context with logger attached
func ProvideContext(log *slog.Logger) context.Context {
	return logger.AddToContext(context.Background(), log)
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvideResolver provides the helper binary resolver
func ProvideResolver() helpers.Resolver {
	return helpers.NewResolver()
}

// ProvideRunner provides the command runner with the configured timeout
func ProvideRunner(cfg *config.Config) (shell.Runner, error) {
	timeout, err := time.ParseDuration(cfg.CommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid COMMAND_TIMEOUT %q: %w", cfg.CommandTimeout, err)
	}
	return shell.NewRunner(timeout), nil
}

// ProvideGPUManager provides the GPU manager
func ProvideGPUManager(resolver helpers.Resolver, runner shell.Runner) gpu.Manager {
	return gpu.NewManager(resolver, runner)
}

// ProvideWatcher provides the selection state watcher
func ProvideWatcher(cfg *config.Config, mgr gpu.Manager) watch.Watcher {
	return watch.NewWatcher(cfg.PrimeStatePath, mgr)
}
