package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apps-console/pkg/apps"
	"apps-console/pkg/config"
	"apps-console/pkg/rpc"
	"apps-console/pkg/rpc/rpctest"
	"apps-console/pkg/shell"
)

type fakeAttacher struct {
	targets []shell.Target
}

func (f *fakeAttacher) Attach(_ context.Context, t shell.Target) error {
	f.targets = append(f.targets, t)
	return nil
}

func strPtr(s string) *string { return &s }

type harness struct {
	caller   *rpctest.Caller
	attacher *fakeAttacher
	out      bytes.Buffer
	errOut   bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("APPS_BACKEND", config.BackendMiddleware)
	t.Setenv("APPS_HOST", "nas.local")
	t.Setenv("APPS_STATUS_POLL_INTERVAL", "1ms")
	t.Setenv("APPS_REFRESH_DEBOUNCE", "1ms")
	h := &harness{caller: rpctest.New(), attacher: &fakeAttacher{}}
	h.caller.Return(rpc.MethodServiceStarted, true)
	h.caller.Return(rpc.MethodCatalogQuery, []apps.Catalog{{
		ID:    "OFFICIAL",
		Label: "Official",
		Trains: map[string]map[string]apps.ChartItem{
			"charts": {
				"plex": {Name: "plex", Versions: map[string]apps.ChartVersion{
					"1.0.0": {AppReadme: "Plex"},
					"1.1.0": {AppReadme: "Plex media server"},
				}},
			},
		},
	}})
	return h
}

func (h *harness) run(args ...string) error {
	h.out.Reset()
	h.errOut.Reset()
	a := newApp(func(context.Context, *config.AppConfig, *logrus.Entry, shell.Stdio) (*backend, error) {
		return &backend{caller: h.caller, attacher: h.attacher}, nil
	})
	a.in = &bytes.Buffer{}
	a.out = &h.out
	a.errOut = &h.errOut
	cmd := a.rootCmd()
	cmd.SetArgs(append(args, "--log-level", "error"))
	return cmd.ExecuteContext(context.Background())
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("version"))
	assert.Equal(t, "appsctl version dev\n", h.out.String())
}

func TestUnknownOutputFormat(t *testing.T) {
	h := newHarness(t)
	err := h.run("catalog", "list", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestCatalogListJSON(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("catalog", "list", "-o", "json"))

	var items []map[string]any
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "plex", items[0]["name"])
	assert.Equal(t, "1.1.0", items[0]["latest_version"])
}

func TestCatalogShowYAML(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("catalog", "show", "plex", "-o", "yaml"))
	assert.Contains(t, h.out.String(), "latest_version: 1.1.0")
	assert.Contains(t, h.out.String(), "info: Plex media server")
}

func TestCatalogInstall(t *testing.T) {
	h := newHarness(t)
	h.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{Pool: strPtr("tank")})
	h.caller.Return(rpc.MethodReleaseCreate, map[string]any{"name": "media"})

	require.NoError(t, h.run("catalog", "install", "plex", "--name", "media", "--set", "service.port=32400", "-o", "json"))

	calls := h.caller.CallsTo(rpc.MethodReleaseCreate)
	require.Len(t, calls, 1)
	req := calls[0].Params[0].(apps.CreateRequest)
	assert.Equal(t, "media", req.ReleaseName)
	assert.Equal(t, "1.1.0", req.Version)
	assert.Equal(t, 32400, req.Values["service"].(map[string]any)["port"])
}

func TestCatalogInstallWithoutPool(t *testing.T) {
	h := newHarness(t)
	h.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{})
	h.caller.Return(rpc.MethodPoolQuery, []apps.Pool{{Name: "tank"}})

	err := h.run("catalog", "install", "plex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a pool is required")
	assert.Empty(t, h.caller.CallsTo(rpc.MethodReleaseCreate))
}

func TestPoolChooseAndShow(t *testing.T) {
	h := newHarness(t)
	h.caller.Return(rpc.MethodPoolQuery, []apps.Pool{{Name: "tank"}, {Name: "ssd"}})
	h.caller.Handle(rpc.MethodKubernetesUpdate, func(params []any) (any, error) {
		return apps.KubernetesConfig{Pool: params[0].(apps.PoolUpdate).Pool}, nil
	})

	require.NoError(t, h.run("pool", "choose", "ssd", "-o", "json"))
	var st poolStatus
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &st))
	assert.Equal(t, "ssd", st.Pool)
	assert.Len(t, st.Menu.Settings, 3)

	h.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{Pool: strPtr("ssd")})
	require.NoError(t, h.run("pool", "show"))
	assert.Contains(t, h.out.String(), "Pool:      ssd")
	assert.Contains(t, h.out.String(), "tank, ssd")
}

func TestPoolSettings(t *testing.T) {
	h := newHarness(t)
	h.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{
		Pool:               strPtr("tank"),
		KubernetesSettings: apps.KubernetesSettings{ClusterCIDR: "172.16.0.0/16"},
	})
	h.caller.Return(rpc.MethodKubernetesUpdate, apps.KubernetesConfig{})

	require.NoError(t, h.run("pool", "settings"))
	assert.Contains(t, h.out.String(), "172.16.0.0/16")
	assert.Empty(t, h.caller.CallsTo(rpc.MethodKubernetesUpdate))

	require.NoError(t, h.run("pool", "settings", "--node-ip", "10.0.0.2", "-o", "json"))
	calls := h.caller.CallsTo(rpc.MethodKubernetesUpdate)
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Job)
	assert.Equal(t, apps.KubernetesSettings{NodeIP: "10.0.0.2"}, calls[0].Params[0])

	err := h.run("pool", "settings", "--service-cidr", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service_cidr")
	assert.Len(t, h.caller.CallsTo(rpc.MethodKubernetesUpdate), 1)
}

func TestLaunch(t *testing.T) {
	h := newHarness(t)
	h.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{Pool: strPtr("tank")})
	h.caller.Return(rpc.MethodReleaseCreate, map[string]any{"name": "web"})

	require.NoError(t, h.run("launch", "web", "--set", "image.repository=nginx", "-o", "json"))
	assert.JSONEq(t, `{"release":"web","chart":"ix-chart"}`, h.out.String())

	calls := h.caller.CallsTo(rpc.MethodReleaseCreate)
	require.Len(t, calls, 1)
	req := calls[0].Params[0].(apps.CreateRequest)
	assert.Equal(t, "web", req.ReleaseName)
	assert.Equal(t, "ix-chart", req.Item)

	err := h.run("launch", "bare")
	require.Error(t, err)
	assert.Len(t, h.caller.CallsTo(rpc.MethodReleaseCreate), 1)
}

func TestReleasesStart(t *testing.T) {
	h := newHarness(t)
	h.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{Pool: strPtr("tank")})
	h.caller.Return(rpc.MethodReleaseScale, nil)
	h.caller.Return(rpc.MethodReleaseQuery, []apps.ChartRelease{{Name: "plex", ID: "plex", Status: "ACTIVE"}})

	require.NoError(t, h.run("releases", "start", "plex", "-o", "json"))
	assert.JSONEq(t, `{"name":"plex","status":"ACTIVE"}`, h.out.String())

	calls := h.caller.CallsTo(rpc.MethodReleaseScale)
	require.Len(t, calls, 1)
	assert.Equal(t, apps.ScaleOptions{ReplicaCount: 1}, calls[0].Params[1])
}

func TestReleasesDeleteNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	h.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{Pool: strPtr("tank")})
	h.caller.Return(rpc.MethodReleaseQuery, []apps.ChartRelease{{Name: "plex", ID: "plex", Status: "ACTIVE"}})
	h.caller.Return(rpc.MethodReleaseDelete, true)

	require.NoError(t, h.run("releases", "delete", "plex"))
	assert.Contains(t, h.out.String(), "Cancelled")
	assert.Empty(t, h.caller.CallsTo(rpc.MethodReleaseDelete))

	require.NoError(t, h.run("releases", "delete", "plex", "--yes"))
	assert.Len(t, h.caller.CallsTo(rpc.MethodReleaseDelete), 1)
}

func TestReleasesRollbackRequiresVersion(t *testing.T) {
	h := newHarness(t)
	h.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{Pool: strPtr("tank")})
	h.caller.Return(rpc.MethodReleaseQuery, []apps.ChartRelease{})
	h.caller.Return(rpc.MethodReleaseRollback, nil)

	err := h.run("releases", "rollback", "plex")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a version is required")

	require.NoError(t, h.run("releases", "rollback", "plex", "--version", "1.0.0", "--force"))
	calls := h.caller.CallsTo(rpc.MethodReleaseRollback)
	require.Len(t, calls, 1)
	assert.Equal(t, apps.RollbackOptions{ItemVersion: "1.0.0", Force: true}, calls[0].Params[1])
}

func TestReleasesShellAttaches(t *testing.T) {
	h := newHarness(t)
	h.caller.Return(rpc.MethodPodConsoleChoices, apps.ConsoleChoices{"plex-0": {"plex"}})

	require.NoError(t, h.run("releases", "shell", "plex", "--command", "/bin/sh"))
	require.Len(t, h.attacher.targets, 1)
	assert.Equal(t, shell.Target{Release: "plex", Pod: "plex-0", Container: "plex", Command: "/bin/sh"}, h.attacher.targets[0])
}

func TestParseValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte("image:\n  repository: nginx\n  tag: \"1.25\"\n"), 0o600))

	values, err := parseValues([]string{path}, []string{"image.tag=1.27", "replicas=2", "debug=true", "name=web"})
	require.NoError(t, err)
	image := values["image"].(map[string]any)
	assert.Equal(t, "nginx", image["repository"])
	assert.Equal(t, 1.27, image["tag"])
	assert.Equal(t, 2, values["replicas"])
	assert.Equal(t, true, values["debug"])
	assert.Equal(t, "web", values["name"])

	_, err = parseValues(nil, []string{"novalue"})
	assert.Error(t, err)
}
