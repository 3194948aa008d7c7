// Package gpu queries and switches the active graphics processor by
// shelling out to the vendor helper tools.
package gpu

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/primectl/primed/lib/helpers"
	"github.com/primectl/primed/lib/logger"
	"github.com/primectl/primed/lib/shell"
	"github.com/samber/lo"
)

// Manager provides GPU state queries and the switch operation
type Manager interface {
	// Active returns which GPU is currently driving the session. The value
	// is computed once and memoized; use Refresh after an external change.
	// Returns Unknown when the manager helper is not installed.
	Active(ctx context.Context) GPU

	// Refresh drops the memoized identity and recomputes it.
	Refresh(ctx context.Context) GPU

	// Selection returns the persisted GPU selection as reported by the
	// selector helper. Never memoized. Returns "unknown" when the selector
	// is not installed or produced no output.
	Selection(ctx context.Context) string

	// Switch asks the selector to persist a new GPU selection, running it
	// through the privilege-escalation helper. It returns a job id and a
	// channel that delivers exactly one SwitchResult; the switch itself is
	// fire-and-forget and cannot be canceled once launched.
	//
	// Preconditions are checked in order and surface as typed errors:
	// ErrInvalidGPU, ErrHelperMissing (sudo runner, then selector),
	// ErrAlreadySelected. No subprocess is spawned when any fails.
	Switch(ctx context.Context, target GPU) (string, <-chan SwitchResult, error)

	// OpenSettings launches the vendor settings UI in the background. The
	// outcome is discarded. Returns ErrHelperMissing when not installed.
	OpenSettings(ctx context.Context) error
}

type manager struct {
	resolver helpers.Resolver
	runner   shell.Runner

	mu     sync.Mutex
	active *GPU
}

// NewManager creates a new GPU manager
func NewManager(resolver helpers.Resolver, runner shell.Runner) Manager {
	return &manager{
		resolver: resolver,
		runner:   runner,
	}
}

func (m *manager) Active(ctx context.Context) GPU {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return *m.active
	}

	g := m.probeActive(ctx)
	m.active = &g
	return g
}

func (m *manager) Refresh(ctx context.Context) GPU {
	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
	return m.Active(ctx)
}

// probeActive runs `nvidia-smi -L`. Exit zero means the discrete GPU is up,
// anything else is taken as the integrated GPU. This mirrors what the
// desktop indicator tools do; it is an exit-code heuristic, not a real
// capability query.
func (m *manager) probeActive(ctx context.Context) GPU {
	path, ok := m.resolver.Resolve(helpers.RoleManager)
	if !ok {
		return Unknown
	}

	res := m.runner.Run(ctx, path, "-L")
	return lo.Ternary(res.Ok(), Nvidia, Intel)
}

func (m *manager) Selection(ctx context.Context) string {
	path, ok := m.resolver.Resolve(helpers.RoleSelector)
	if !ok {
		return string(Unknown)
	}

	res := m.runner.Run(ctx, path, "query")
	if out := strings.TrimSpace(res.Stdout); out != "" {
		return out
	}
	if out := strings.TrimSpace(res.Stderr); out != "" {
		return out
	}
	return string(Unknown)
}

func (m *manager) Switch(ctx context.Context, target GPU) (string, <-chan SwitchResult, error) {
	log := logger.FromContext(ctx)

	if _, err := Parse(string(target)); err != nil {
		return "", nil, err
	}

	sudo, ok := m.resolver.Resolve(helpers.RoleSudo)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrHelperMissing, helpers.RoleSudo)
	}
	selector, ok := m.resolver.Resolve(helpers.RoleSelector)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrHelperMissing, helpers.RoleSelector)
	}

	if m.Selection(ctx) == string(target) {
		return "", nil, ErrAlreadySelected
	}

	id := cuid2.Generate()
	start := time.Now()
	log.InfoContext(ctx, "switching gpu",
		"id", id,
		"target", target,
	)

	// The helper keeps running even if the caller goes away.
	bg := context.WithoutCancel(ctx)
	launched := m.runner.Start(bg, sudo, selector, string(target))

	done := make(chan SwitchResult, 1)
	go func() {
		res := <-launched

		sr := SwitchResult{Id: id, GPU: target, OK: res.Ok()}
		if sr.OK {
			log.InfoContext(bg, "gpu switch complete",
				"id", id,
				"target", target,
			)
		} else {
			sr.Output = strings.TrimSpace(res.Stderr)
			log.ErrorContext(bg, "gpu switch failed",
				"id", id,
				"target", target,
				"status", res.Status,
				"stderr", sr.Output,
			)
		}
		recordSwitch(bg, start, target, sr.OK)

		done <- sr
	}()

	return id, done, nil
}

func (m *manager) OpenSettings(ctx context.Context) error {
	path, ok := m.resolver.Resolve(helpers.RoleSettings)
	if !ok {
		return fmt.Errorf("%w: %s", ErrHelperMissing, helpers.RoleSettings)
	}

	logger.FromContext(ctx).InfoContext(ctx, "launching settings ui", "path", path)

	// Fire and forget; the UI outlives the request.
	m.runner.Start(context.WithoutCancel(ctx), path)
	return nil
}
