// Package helpers locates the external executables the daemon shells out to.
package helpers

import (
	"os/exec"
	"sort"

	"github.com/samber/lo"
)

// Role identifies the logical job an external helper performs.
type Role string

const (
	// RoleSudo escalates privileges for selector writes.
	RoleSudo Role = "sudo-runner"

	// RoleSelector persists and reports which GPU is chosen.
	RoleSelector Role = "selector"

	// RoleManager probes which GPU is currently driving the session.
	RoleManager Role = "manager"

	// RoleSettings opens the vendor settings UI.
	RoleSettings Role = "settings-ui"
)

// candidates maps each role to binary names tried in priority order.
// The first name found on PATH wins.
var candidates = map[Role][]string{
	RoleSudo:     {"pkexec", "gksudo"},
	RoleSelector: {"prime-select"},
	RoleManager:  {"nvidia-smi"},
	RoleSettings: {"nvidia-settings"},
}

// Resolver answers where a helper binary lives, if anywhere.
// The lookup happens once at construction; the table is immutable after that.
type Resolver interface {
	// Resolve returns the absolute path for a role. ok is false when no
	// candidate binary was found; missing helpers are not an error.
	Resolve(role Role) (path string, ok bool)

	// Installed returns a snapshot of every resolved role and its path.
	// Roles with no binary on PATH are omitted.
	Installed() map[Role]string

	// Roles returns all known roles in stable order.
	Roles() []Role
}

type resolver struct {
	paths map[Role]string
}

// NewResolver scans PATH for each role's candidate binaries and records the
// first match per role.
func NewResolver() Resolver {
	paths := make(map[Role]string, len(candidates))
	for role, names := range candidates {
		for _, name := range names {
			if p, err := exec.LookPath(name); err == nil {
				paths[role] = p
				break
			}
		}
	}
	return &resolver{paths: paths}
}

func (r *resolver) Resolve(role Role) (string, bool) {
	p, ok := r.paths[role]
	return p, ok
}

func (r *resolver) Installed() map[Role]string {
	out := make(map[Role]string, len(r.paths))
	for role, p := range r.paths {
		out[role] = p
	}
	return out
}

func (r *resolver) Roles() []Role {
	roles := lo.Keys(candidates)
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
