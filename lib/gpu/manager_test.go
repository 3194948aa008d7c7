package gpu

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/primectl/primed/lib/helpers"
	"github.com/primectl/primed/lib/shell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHelper(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
}

// newTestManager builds a manager whose resolver only sees dir.
func newTestManager(t *testing.T, dir string) Manager {
	t.Helper()
	t.Setenv("PATH", dir)
	return NewManager(helpers.NewResolver(), shell.NewRunner(10*time.Second))
}

func awaitSwitch(t *testing.T, done <-chan SwitchResult) SwitchResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("switch result not delivered")
		return SwitchResult{}
	}
}

func TestActiveManagerHelperAbsent(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	assert.Equal(t, Unknown, m.Active(context.Background()))
}

func TestActiveHeuristic(t *testing.T) {
	t.Run("exit zero means nvidia", func(t *testing.T) {
		dir := t.TempDir()
		writeHelper(t, dir, "nvidia-smi", "exit 0\n")
		m := newTestManager(t, dir)
		assert.Equal(t, Nvidia, m.Active(context.Background()))
	})

	t.Run("non-zero exit means intel", func(t *testing.T) {
		dir := t.TempDir()
		writeHelper(t, dir, "nvidia-smi", "exit 9\n")
		m := newTestManager(t, dir)
		assert.Equal(t, Intel, m.Active(context.Background()))
	})
}

func TestActiveMemoizedUntilRefresh(t *testing.T) {
	dir := t.TempDir()
	flag := filepath.Join(dir, "integrated")
	writeHelper(t, dir, "nvidia-smi", fmt.Sprintf("test -e %s && exit 1\nexit 0\n", flag))
	m := newTestManager(t, dir)
	ctx := context.Background()

	require.Equal(t, Nvidia, m.Active(ctx))

	// Flip the helper's behavior; the memoized value must not change.
	require.NoError(t, os.WriteFile(flag, nil, 0644))
	assert.Equal(t, Nvidia, m.Active(ctx))

	// Refresh recomputes.
	assert.Equal(t, Intel, m.Refresh(ctx))
	assert.Equal(t, Intel, m.Active(ctx))
}

func TestSelection(t *testing.T) {
	t.Run("selector absent", func(t *testing.T) {
		m := newTestManager(t, t.TempDir())
		assert.Equal(t, "unknown", m.Selection(context.Background()))
	})

	t.Run("trimmed stdout", func(t *testing.T) {
		dir := t.TempDir()
		writeHelper(t, dir, "prime-select", "echo nvidia\n")
		m := newTestManager(t, dir)
		assert.Equal(t, "nvidia", m.Selection(context.Background()))
	})

	t.Run("stderr fallback", func(t *testing.T) {
		dir := t.TempDir()
		writeHelper(t, dir, "prime-select", "echo 'no permission' >&2\nexit 1\n")
		m := newTestManager(t, dir)
		assert.Equal(t, "no permission", m.Selection(context.Background()))
	})

	t.Run("no output at all", func(t *testing.T) {
		dir := t.TempDir()
		writeHelper(t, dir, "prime-select", "exit 0\n")
		m := newTestManager(t, dir)
		assert.Equal(t, "unknown", m.Selection(context.Background()))
	})

	t.Run("not memoized", func(t *testing.T) {
		dir := t.TempDir()
		state := filepath.Join(dir, "state")
		writeHelper(t, dir, "prime-select", fmt.Sprintf("PATH=/usr/bin:/bin\ncat %s\n", state))
		m := newTestManager(t, dir)

		require.NoError(t, os.WriteFile(state, []byte("intel\n"), 0644))
		assert.Equal(t, "intel", m.Selection(context.Background()))

		require.NoError(t, os.WriteFile(state, []byte("nvidia\n"), 0644))
		assert.Equal(t, "nvidia", m.Selection(context.Background()))
	})
}

func TestSwitchPreconditions(t *testing.T) {
	t.Run("invalid target", func(t *testing.T) {
		m := newTestManager(t, t.TempDir())
		_, _, err := m.Switch(context.Background(), GPU("amd"))
		assert.ErrorIs(t, err, ErrInvalidGPU)
	})

	t.Run("sudo runner missing", func(t *testing.T) {
		dir := t.TempDir()
		writeHelper(t, dir, "prime-select", "echo intel\n")
		m := newTestManager(t, dir)
		_, _, err := m.Switch(context.Background(), Nvidia)
		assert.ErrorIs(t, err, ErrHelperMissing)
	})

	t.Run("selector missing", func(t *testing.T) {
		dir := t.TempDir()
		writeHelper(t, dir, "pkexec", "exit 0\n")
		m := newTestManager(t, dir)
		_, _, err := m.Switch(context.Background(), Nvidia)
		assert.ErrorIs(t, err, ErrHelperMissing)
	})

	t.Run("already selected spawns nothing", func(t *testing.T) {
		dir := t.TempDir()
		marker := filepath.Join(dir, "switched")
		writeHelper(t, dir, "pkexec", fmt.Sprintf("touch %s\nexec \"$@\"\n", marker))
		writeHelper(t, dir, "prime-select", "echo nvidia\n")
		m := newTestManager(t, dir)

		_, _, err := m.Switch(context.Background(), Nvidia)
		assert.ErrorIs(t, err, ErrAlreadySelected)
		assert.NoFileExists(t, marker)
	})
}

func TestSwitchSuccess(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "switched")
	writeHelper(t, dir, "pkexec", "exec \"$@\"\n")
	writeHelper(t, dir, "prime-select", fmt.Sprintf(
		"if [ \"$1\" = query ]; then echo intel; exit 0; fi\necho \"$1\" > %s\n", marker))
	m := newTestManager(t, dir)

	id, done, err := m.Switch(context.Background(), Nvidia)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res := awaitSwitch(t, done)
	assert.Equal(t, id, res.Id)
	assert.Equal(t, Nvidia, res.GPU)
	assert.True(t, res.OK)
	assert.Empty(t, res.Output)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "nvidia\n", string(data))
}

func TestSwitchFailure(t *testing.T) {
	dir := t.TempDir()
	writeHelper(t, dir, "pkexec", "exec \"$@\"\n")
	writeHelper(t, dir, "prime-select",
		"if [ \"$1\" = query ]; then echo nvidia; exit 0; fi\necho 'authentication dismissed' >&2\nexit 127\n")
	m := newTestManager(t, dir)

	_, done, err := m.Switch(context.Background(), Intel)
	require.NoError(t, err)

	res := awaitSwitch(t, done)
	assert.Equal(t, Intel, res.GPU)
	assert.False(t, res.OK)
	assert.Contains(t, res.Output, "authentication dismissed")
}

func TestOpenSettings(t *testing.T) {
	t.Run("helper missing", func(t *testing.T) {
		m := newTestManager(t, t.TempDir())
		assert.ErrorIs(t, m.OpenSettings(context.Background()), ErrHelperMissing)
	})

	t.Run("spawns and discards outcome", func(t *testing.T) {
		dir := t.TempDir()
		marker := filepath.Join(dir, "opened")
		writeHelper(t, dir, "nvidia-settings", fmt.Sprintf("PATH=/usr/bin:/bin\ntouch %s\n", marker))
		m := newTestManager(t, dir)

		require.NoError(t, m.OpenSettings(context.Background()))
		assert.Eventually(t, func() bool {
			_, err := os.Stat(marker)
			return err == nil
		}, 10*time.Second, 10*time.Millisecond)
	})
}
