package main

import (
	"context"
	"log/slog"

	"github.com/primectl/primed/cmd/primed/api"
	"github.com/primectl/primed/cmd/primed/config"
	"github.com/primectl/primed/lib/gpu"
	"github.com/primectl/primed/lib/helpers"
	"github.com/primectl/primed/lib/shell"
	"github.com/primectl/primed/lib/watch"
)

// application holds the initialized components.
type application struct {
	Ctx        context.Context
	Logger     *slog.Logger
	Config     *config.Config
	Resolver   helpers.Resolver
	Runner     shell.Runner
	GPUManager gpu.Manager
	Watcher    watch.Watcher
	ApiService *api.ApiService
}
