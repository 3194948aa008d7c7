package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/primectl/primed/cmd/primed/api"
	"github.com/primectl/primed/lib/gpu"
	"github.com/primectl/primed/lib/helpers"
	"github.com/primectl/primed/lib/shell"
	"github.com/primectl/primed/lib/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router    http.Handler
	watcher   watch.Watcher
	binDir    string
	statePath string
}

func writeHelper(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body), 0755))
}

// setupEnv wires a real manager and watcher against fake helper binaries.
func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	binDir := t.TempDir()
	t.Setenv("PATH", binDir)

	stateDir := t.TempDir()
	statePath := filepath.Join(stateDir, "prime-discrete")
	require.NoError(t, os.WriteFile(statePath, []byte("off\n"), 0644))

	return &testEnv{binDir: binDir, statePath: statePath}
}

func (e *testEnv) build(t *testing.T) {
	t.Helper()

	resolver := helpers.NewResolver()
	mgr := gpu.NewManager(resolver, shell.NewRunner(10*time.Second))
	e.watcher = watch.NewWatcher(e.statePath, mgr)
	t.Cleanup(e.watcher.Stop)

	svc := api.New(mgr, e.watcher, resolver)
	r := chi.NewRouter()
	r.Get("/health", svc.GetHealth)
	r.Get("/v1/gpu", svc.GetGPU)
	r.Post("/v1/gpu/switch", svc.SwitchGPU)
	r.Post("/v1/gpu/settings", svc.LaunchSettings)
	r.Get("/v1/events", svc.Events)
	e.router = r
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestGetHealth(t *testing.T) {
	env := setupEnv(t)
	env.build(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetGPU(t *testing.T) {
	env := setupEnv(t)
	writeHelper(t, env.binDir, "nvidia-smi", "exit 0\n")
	writeHelper(t, env.binDir, "prime-select", "echo intel\n")
	env.build(t)

	rec := env.do(t, http.MethodGet, "/v1/gpu", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gpu.Nvidia, resp.Active)
	assert.Equal(t, "intel", resp.Selection)
	assert.Contains(t, resp.Helpers, helpers.RoleManager)
	assert.Contains(t, resp.Helpers, helpers.RoleSelector)
	assert.NotContains(t, resp.Helpers, helpers.RoleSudo)
}

func TestGetGPUNoHelpers(t *testing.T) {
	env := setupEnv(t)
	env.build(t)

	rec := env.do(t, http.MethodGet, "/v1/gpu", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp api.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gpu.Unknown, resp.Active)
	assert.Equal(t, "unknown", resp.Selection)
	assert.Empty(t, resp.Helpers)
}

func TestSwitchGPU(t *testing.T) {
	t.Run("invalid body", func(t *testing.T) {
		env := setupEnv(t)
		env.build(t)
		rec := env.do(t, http.MethodPost, "/v1/gpu/switch", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid gpu", func(t *testing.T) {
		env := setupEnv(t)
		env.build(t)
		rec := env.do(t, http.MethodPost, "/v1/gpu/switch", `{"gpu":"amd"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_gpu")
	})

	t.Run("helper missing", func(t *testing.T) {
		env := setupEnv(t)
		writeHelper(t, env.binDir, "prime-select", "echo intel\n")
		env.build(t)
		rec := env.do(t, http.MethodPost, "/v1/gpu/switch", `{"gpu":"nvidia"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "helper_missing")
	})

	t.Run("already selected", func(t *testing.T) {
		env := setupEnv(t)
		writeHelper(t, env.binDir, "pkexec", "exec \"$@\"\n")
		writeHelper(t, env.binDir, "prime-select", "echo nvidia\n")
		env.build(t)
		rec := env.do(t, http.MethodPost, "/v1/gpu/switch", `{"gpu":"nvidia"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "already_selected")
	})

	t.Run("accepted", func(t *testing.T) {
		env := setupEnv(t)
		marker := filepath.Join(env.binDir, "switched")
		writeHelper(t, env.binDir, "pkexec", "exec \"$@\"\n")
		writeHelper(t, env.binDir, "prime-select", fmt.Sprintf(
			"if [ \"$1\" = query ]; then echo intel; exit 0; fi\necho \"$1\" > %s\n", marker))
		env.build(t)

		rec := env.do(t, http.MethodPost, "/v1/gpu/switch", `{"gpu":"nvidia"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp api.SwitchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Id)
		assert.Equal(t, gpu.Nvidia, resp.GPU)

		assert.Eventually(t, func() bool {
			data, err := os.ReadFile(marker)
			return err == nil && strings.TrimSpace(string(data)) == "nvidia"
		}, 10*time.Second, 10*time.Millisecond)
	})
}

func TestLaunchSettings(t *testing.T) {
	t.Run("helper missing", func(t *testing.T) {
		env := setupEnv(t)
		env.build(t)
		rec := env.do(t, http.MethodPost, "/v1/gpu/settings", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("launches", func(t *testing.T) {
		env := setupEnv(t)
		marker := filepath.Join(env.binDir, "opened")
		writeHelper(t, env.binDir, "nvidia-settings", fmt.Sprintf("PATH=/usr/bin:/bin\ntouch %s\n", marker))
		env.build(t)

		rec := env.do(t, http.MethodPost, "/v1/gpu/settings", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Eventually(t, func() bool {
			_, err := os.Stat(marker)
			return err == nil
		}, 10*time.Second, 10*time.Millisecond)
	})
}

func TestEventsStream(t *testing.T) {
	env := setupEnv(t)
	writeHelper(t, env.binDir, "nvidia-smi", "exit 0\n")
	env.build(t)
	require.NoError(t, env.watcher.Start(context.Background()))

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Keep poking the state file until the stream delivers; the handler
	// subscribes asynchronously with respect to this test.
	go func() {
		ticker := time.NewTicker(300 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				os.WriteFile(env.statePath, []byte(fmt.Sprintf("on %d\n", i)), 0644)
			}
		}
	}()

	reader := bufio.NewReader(resp.Body)
	var sawEvent bool
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.HasPrefix(line, "event: gpu-change") {
			sawEvent = true
		}
		if sawEvent && strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, `"gpu":"nvidia"`)
			return
		}
	}
	t.Fatal("no gpu-change event received")
}
