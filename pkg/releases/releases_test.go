package releases

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
	"apps-console/pkg/jobs"
	applog "apps-console/pkg/log"
	"apps-console/pkg/rpc"
	"apps-console/pkg/rpc/rpctest"
	"apps-console/pkg/ui"
	"apps-console/pkg/ui/uitest"
)

func pool(name string) *string { return &name }

func chartRelease(name, status string) apps.ChartRelease {
	return apps.ChartRelease{
		Name:         name,
		ID:           name,
		Catalog:      "OFFICIAL",
		CatalogTrain: "charts",
		Status:       status,
		ChartMetadata: apps.ChartMetadata{
			Name:               name,
			Version:            "1.0.0",
			LatestChartVersion: "1.1.0",
			Description:        name + " server",
		},
		UpdateAvailable: true,
		Config: map[string]any{
			"image": map[string]any{"repository": "ix/" + name, "tag": "latest"},
		},
		PodStatus: apps.PodStatus{Available: 1, Desired: 1},
	}
}

type fixture struct {
	caller    *rpctest.Caller
	prompter  *uitest.Prompter
	navigator *uitest.Navigator
	notifier  *uitest.Notifier
	progress  *uitest.Progress
	view      *View
}

func newFixture(t *testing.T, charts ...apps.ChartRelease) *fixture {
	t.Helper()
	f := &fixture{
		caller:    rpctest.New(),
		prompter:  &uitest.Prompter{},
		navigator: &uitest.Navigator{},
		notifier:  &uitest.Notifier{},
		progress:  &uitest.Progress{},
	}
	f.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{Pool: pool("tank")})
	f.caller.Return(rpc.MethodServiceStarted, true)
	f.caller.Handle(rpc.MethodReleaseQuery, func(params []any) (any, error) {
		filters, _ := params[0].([]any)
		if len(filters) == 0 {
			return charts, nil
		}
		name := filters[0].([]any)[2]
		for _, cr := range charts {
			if cr.Name == name {
				return []apps.ChartRelease{cr}, nil
			}
		}
		return []apps.ChartRelease{}, nil
	})
	a := apps.NewService(f.caller)
	f.view = NewView(Deps{
		Apps:      a,
		Catalog:   appcatalog.NewService(a, applog.Discard()),
		Runner:    jobs.NewRunner(f.caller, f.progress, applog.Discard()),
		Prompter:  f.prompter,
		Navigator: f.navigator,
		Notifier:  f.notifier,
	}, Options{Debounce: 10 * time.Millisecond, PollInterval: 5 * time.Millisecond, PollMaxAttempts: 5}, applog.Discard())
	t.Cleanup(f.view.Close)
	return f
}

func TestFromChartRelease(t *testing.T) {
	cr := chartRelease("myapp", "ACTIVE")
	cr.PodStatus = apps.PodStatus{Available: 2, Desired: 3}
	cr.UsedPorts = []apps.UsedPort{{Port: 8080, Protocol: "TCP"}, {Port: 53, Protocol: "UDP"}}
	cr.Portals = map[string][]string{"web_portal": {"http://10.0.0.2:8080/", "http://other/"}}
	cr.History = map[string]json.RawMessage{"1.0.0": json.RawMessage(`{}`)}

	r := FromChartRelease(cr)
	assert.Equal(t, "2/3", r.Count)
	assert.Equal(t, 3, r.Desired)
	assert.Equal(t, `8080\TCP, 53\UDP`, r.UsedPorts)
	assert.Equal(t, "http://10.0.0.2:8080/", r.Portal)
	assert.True(t, r.HasHistory)
	assert.Equal(t, "ix/myapp", r.Repository)
	assert.Equal(t, "latest", r.Tag)
	assert.Equal(t, "1.0.0", r.Version)
	assert.Equal(t, "1.1.0", r.LatestVersion)
	assert.Equal(t, appcatalog.DefaultIcon, r.Icon)
	assert.Equal(t, appcatalog.KindSchema, r.Kind)

	generic := chartRelease("web", "ACTIVE")
	generic.ChartMetadata.Name = appcatalog.GenericChart
	generic.ChartMetadata.Icon = "/icons/ix.png"
	g := FromChartRelease(generic)
	assert.Equal(t, appcatalog.KindGeneric, g.Kind)
	assert.Equal(t, "/icons/ix.png", g.Icon)
	assert.Equal(t, "", g.UsedPorts)
	assert.False(t, g.HasHistory)
	assert.Equal(t, "", g.Portal)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, FirstUse, Classify(false, false, 0))
	assert.Equal(t, FirstUse, Classify(false, true, 5))
	assert.Equal(t, Errors, Classify(true, false, 0))
	assert.Equal(t, Errors, Classify(true, false, 3))
	assert.Equal(t, NoPageData, Classify(true, true, 0))
	assert.Equal(t, Loaded, Classify(true, true, 1))
}

func TestPlaceholders(t *testing.T) {
	for _, s := range []State{Loading, FirstUse, Errors, NoPageData} {
		p, ok := s.Placeholder()
		require.True(t, ok, s)
		assert.NotEmpty(t, p.Title, s)
		assert.Equal(t, s, p.Type)
	}
	_, ok := Loaded.Placeholder()
	assert.False(t, ok)

	p, _ := Loading.Placeholder()
	assert.Equal(t, ActionViewCatalog, p.CallToAction)
	p, _ = FirstUse.Placeholder()
	assert.Equal(t, ActionViewCatalog, p.CallToAction)
	p, _ = Errors.Placeholder()
	assert.Empty(t, p.CallToAction)
	p, _ = NoPageData.Placeholder()
	assert.Empty(t, p.CallToAction)
	assert.NotEmpty(t, p.Message)
}

func TestStoreGenerations(t *testing.T) {
	s := NewStore(nil)
	old := s.Begin()
	current := s.Begin()

	assert.False(t, s.Replace(old, Loaded, []Release{{Name: "stale"}}))
	assert.Equal(t, Loading, s.State())
	assert.True(t, s.Replace(current, Loaded, []Release{{Name: "b"}, {Name: "a"}}))
	assert.Equal(t, Loaded, s.State())

	names := []string{}
	for _, r := range s.Releases() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
	assert.False(t, s.Fail(old, assert.AnError))
}

func TestStorePatchStatus(t *testing.T) {
	s := NewStore(nil)
	gen := s.Begin()
	before := FromChartRelease(chartRelease("plex", "ACTIVE"))
	require.True(t, s.Replace(gen, Loaded, []Release{before}))

	assert.True(t, s.PatchStatus("plex", "STOPPED"))
	after, ok := s.Get("plex")
	require.True(t, ok)
	assert.Equal(t, "STOPPED", after.Status)
	before.Status = "STOPPED"
	assert.Equal(t, before, after)

	assert.False(t, s.PatchStatus("ghost", "ACTIVE"))
	_, ok = s.Get("ghost")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestReloadStates(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"), chartRelease("nextcloud", "ACTIVE"))
	state, err := f.view.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Loaded, state)
	snap := f.view.Snapshot()
	require.Len(t, snap.Releases, 2)
	assert.Equal(t, "nextcloud", snap.Releases[0].Name)
	assert.Nil(t, snap.Placeholder)

	f.caller.Return(rpc.MethodServiceStarted, false)
	state, err = f.view.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Errors, state)
	assert.Empty(t, f.view.Snapshot().Releases)

	f.caller.Return(rpc.MethodKubernetesConfig, apps.KubernetesConfig{})
	state, err = f.view.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FirstUse, state)
	assert.Len(t, f.caller.CallsTo(rpc.MethodReleaseQuery), 1)
}

func TestReloadWithoutReleases(t *testing.T) {
	f := newFixture(t)
	state, err := f.view.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NoPageData, state)
	require.NotNil(t, f.view.Snapshot().Placeholder)
}

func TestReloadFailureStaysLoading(t *testing.T) {
	f := newFixture(t)
	f.caller.Fail(rpc.MethodKubernetesConfig, rpc.NotSupported(rpc.MethodKubernetesConfig))
	state, err := f.view.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, Loading, state)
	snap := f.view.Snapshot()
	assert.Equal(t, Loading, snap.State)
	assert.NotEmpty(t, snap.Error)
}

func TestRefreshIsDebounced(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"))
	f.view.Refresh()
	f.view.Refresh()
	f.view.Refresh()
	assert.Equal(t, Loading, f.view.Snapshot().State)

	assert.Eventually(t, func() bool {
		return f.view.Snapshot().State == Loaded
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, f.caller.CallsTo(rpc.MethodKubernetesConfig), 1)
}

func TestRefreshDiscardsStaleRun(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"))
	release := make(chan struct{})
	var calls atomic.Int32
	f.caller.Handle(rpc.MethodKubernetesConfig, func([]any) (any, error) {
		if calls.Add(1) == 1 {
			<-release
		}
		return apps.KubernetesConfig{Pool: pool("tank")}, nil
	})

	done := make(chan State, 1)
	go func() {
		state, _ := f.view.Reload(context.Background())
		done <- state
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	state, err := f.view.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Loaded, state)
	close(release)

	<-done
	assert.Equal(t, Loaded, f.view.Snapshot().State)
	assert.Len(t, f.view.Snapshot().Releases, 1)
}

func TestWatchPatchesKnownReleases(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"))
	_, err := f.view.Reload(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan error, 1)
	go func() { watchDone <- f.view.Watch(ctx) }()
	require.Eventually(t, func() bool { return f.caller.Subscribers(rpc.TopicReleases) == 1 }, time.Second, time.Millisecond)

	before, _ := f.view.Store().Get("plex")
	f.caller.Publish(rpc.TopicReleases, "ghost", map[string]string{"status": "ACTIVE"})
	f.caller.Publish(rpc.TopicReleases, "plex", map[string]string{"status": "STOPPED"})

	assert.Eventually(t, func() bool {
		r, _ := f.view.Store().Get("plex")
		return r.Status == "STOPPED"
	}, time.Second, time.Millisecond)
	after, _ := f.view.Store().Get("plex")
	before.Status = "STOPPED"
	assert.Equal(t, before, after)
	assert.Equal(t, 1, f.view.Store().Len())

	cancel()
	select {
	case err := <-watchDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestUpdatesStreamSnapshots(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"))
	updates, unsubscribe := f.view.Updates()
	defer unsubscribe()

	_, err := f.view.Reload(context.Background())
	require.NoError(t, err)
	var last Snapshot
	require.Eventually(t, func() bool {
		select {
		case last = <-updates:
		default:
		}
		return last.State == Loaded
	}, time.Second, time.Millisecond)
	assert.Len(t, last.Releases, 1)
}

func TestUpdatesEndOnLatestSnapshot(t *testing.T) {
	var charts []apps.ChartRelease
	for i := 0; i < 8; i++ {
		charts = append(charts, chartRelease(fmt.Sprintf("app-%d", i), "ACTIVE"))
	}
	f := newFixture(t, charts...)
	_, err := f.view.Reload(context.Background())
	require.NoError(t, err)

	updates, unsubscribe := f.view.Updates()
	defer unsubscribe()

	var wg sync.WaitGroup
	for _, cr := range charts {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				f.view.Store().PatchStatus(name, StatusDeploying)
				f.view.Store().PatchStatus(name, "ACTIVE")
			}
			f.view.Store().PatchStatus(name, "STOPPED")
		}(cr.Name)
	}
	wg.Wait()

	select {
	case last := <-updates:
		assert.Equal(t, f.view.Snapshot(), last)
		for _, r := range last.Releases {
			assert.Equal(t, "STOPPED", r.Status, r.Name)
		}
	default:
		t.Fatal("no snapshot was delivered")
	}
}

func deployingFor(f *fixture, name string, polls int) *atomic.Int32 {
	var n atomic.Int32
	f.caller.Handle(rpc.MethodReleaseQuery, func(params []any) (any, error) {
		filters, _ := params[0].([]any)
		if len(filters) == 0 {
			return []apps.ChartRelease{chartRelease(name, "STOPPED")}, nil
		}
		status := "ACTIVE"
		if int(n.Add(1)) <= polls {
			status = StatusDeploying
		}
		return []apps.ChartRelease{chartRelease(name, status)}, nil
	})
	return &n
}

func TestStartPollsWhileDeploying(t *testing.T) {
	f := newFixture(t)
	polls := deployingFor(f, "plex", 3)
	f.caller.Return(rpc.MethodReleaseScale, map[string]any{})
	_, err := f.view.Reload(context.Background())
	require.NoError(t, err)

	status, err := f.view.Start(context.Background(), "plex")
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", status)
	assert.Equal(t, int32(4), polls.Load())

	scale := f.caller.CallsTo(rpc.MethodReleaseScale)
	require.Len(t, scale, 1)
	assert.True(t, scale[0].Job)
	assert.Equal(t, []any{"plex", apps.ScaleOptions{ReplicaCount: 1}}, scale[0].Params)

	r, _ := f.view.Store().Get("plex")
	assert.Equal(t, "ACTIVE", r.Status)
}

func TestStopScalesToZero(t *testing.T) {
	f := newFixture(t)
	deployingFor(f, "plex", 0)
	f.caller.Return(rpc.MethodReleaseScale, map[string]any{})
	_, err := f.view.Reload(context.Background())
	require.NoError(t, err)

	_, err = f.view.Stop(context.Background(), "plex")
	require.NoError(t, err)
	scale := f.caller.CallsTo(rpc.MethodReleaseScale)
	require.Len(t, scale, 1)
	assert.Equal(t, apps.ScaleOptions{ReplicaCount: 0}, scale[0].Params[1])
}

func TestPollStatusIsBounded(t *testing.T) {
	f := newFixture(t)
	polls := deployingFor(f, "plex", 1000)
	_, err := f.view.Reload(context.Background())
	require.NoError(t, err)

	status, err := f.view.PollStatus(context.Background(), "plex")
	assert.ErrorIs(t, err, ErrStillDeploying)
	assert.Equal(t, StatusDeploying, status)
	assert.Equal(t, int32(5), polls.Load())
}

func TestPollStatusStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	deployingFor(f, "plex", 1000)
	_, err := f.view.Reload(context.Background())
	require.NoError(t, err)
	f.view.opts.PollMaxAttempts = 0

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = f.view.PollStatus(ctx, "plex")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollStatusIgnoresUnknownRelease(t *testing.T) {
	f := newFixture(t)
	polls := deployingFor(f, "plex", 1000)

	status, err := f.view.PollStatus(context.Background(), "plex")
	require.NoError(t, err)
	assert.Equal(t, StatusDeploying, status)
	assert.Equal(t, int32(1), polls.Load())
}

func TestUpgradeRequiresConfirmation(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"))
	f.caller.Return(rpc.MethodReleaseUpgrade, map[string]any{})

	ok, err := f.view.Upgrade(context.Background(), "plex")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.caller.CallsTo(rpc.MethodReleaseUpgrade))

	f.prompter.ConfirmAnswer = true
	ok, err = f.view.Upgrade(context.Background(), "plex")
	require.NoError(t, err)
	assert.True(t, ok)
	calls := f.caller.CallsTo(rpc.MethodReleaseUpgrade)
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"plex"}, calls[0].Params)
	require.Len(t, f.progress.Opened(), 1)
	assert.Equal(t, TitleUpgradeJob, f.progress.Opened()[0].Title)
}

func TestRollback(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"))
	f.caller.Return(rpc.MethodReleaseRollback, map[string]any{})
	f.prompter.RollbackTo = ui.RollbackChoice{
		Options: apps.RollbackOptions{ItemVersion: "1.0.0", RollbackSnapshot: true},
		OK:      true,
	}

	ok, err := f.view.Rollback(context.Background(), "plex")
	require.NoError(t, err)
	assert.True(t, ok)
	calls := f.caller.CallsTo(rpc.MethodReleaseRollback)
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"plex", apps.RollbackOptions{ItemVersion: "1.0.0", RollbackSnapshot: true}}, calls[0].Params)

	f.prompter.RollbackTo = ui.RollbackChoice{}
	ok, err = f.view.Rollback(context.Background(), "plex")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, f.caller.CallsTo(rpc.MethodReleaseRollback), 1)
}

func TestDeleteRefreshes(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"))
	f.caller.Return(rpc.MethodReleaseDelete, true)
	f.prompter.ConfirmAnswer = true
	_, err := f.view.Reload(context.Background())
	require.NoError(t, err)
	configCalls := len(f.caller.CallsTo(rpc.MethodKubernetesConfig))

	ok, err := f.view.Delete(context.Background(), "plex")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{"plex"}, f.caller.CallsTo(rpc.MethodReleaseDelete)[0].Params)
	assert.Eventually(t, func() bool {
		return len(f.caller.CallsTo(rpc.MethodKubernetesConfig)) > configCalls
	}, time.Second, time.Millisecond)
}

func TestDeleteFailureKeepsDialogError(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"))
	f.caller.Fail(rpc.MethodReleaseDelete, &rpc.JobError{ID: 9, Method: rpc.MethodReleaseDelete, State: rpc.JobFailed, Reason: "in use"})
	f.prompter.ConfirmAnswer = true

	ok, err := f.view.Delete(context.Background(), "plex")
	require.Error(t, err)
	assert.False(t, ok)
	require.Len(t, f.progress.Opened(), 1)
	assert.Error(t, f.progress.Opened()[0].Failed())
}

func TestPullImage(t *testing.T) {
	f := newFixture(t, chartRelease("plex", "ACTIVE"))
	f.caller.Return(rpc.MethodImagePull, map[string]any{})
	f.prompter.ConfirmAnswer = true
	_, err := f.view.Reload(context.Background())
	require.NoError(t, err)

	ok, err := f.view.PullImage(context.Background(), "plex")
	require.NoError(t, err)
	assert.True(t, ok)
	calls := f.caller.CallsTo(rpc.MethodImagePull)
	require.Len(t, calls, 1)
	assert.Equal(t, []any{apps.ImagePull{FromImage: "ix/plex", Tag: "latest"}}, calls[0].Params)
	assert.Equal(t, []string{TitleImagePulled + ": " + MessageImagePulled}, f.notifier.Messages)
}

func TestEditDispatchesOnKind(t *testing.T) {
	generic := chartRelease("web", "ACTIVE")
	generic.ChartMetadata.Name = appcatalog.GenericChart
	f := newFixture(t, generic)
	f.caller.Return(rpc.MethodReleaseUpdate, map[string]any{})

	err := f.view.Edit(context.Background(), "web", map[string]any{"image": map[string]any{"repository": ""}})
	require.Error(t, err)
	assert.Empty(t, f.caller.CallsTo(rpc.MethodReleaseUpdate))

	err = f.view.Edit(context.Background(), "web", map[string]any{"image": map[string]any{"tag": "2"}})
	require.NoError(t, err)
	calls := f.caller.CallsTo(rpc.MethodReleaseUpdate)
	require.Len(t, calls, 1)
	assert.Equal(t, "web", calls[0].Params[0])
}

func TestPortal(t *testing.T) {
	withPortal := chartRelease("plex", "ACTIVE")
	withPortal.Portals = map[string][]string{"web_portal": {"http://nas:32400/web"}}
	f := newFixture(t, withPortal, chartRelease("redis", "ACTIVE"))

	url, err := f.view.Portal(context.Background(), "plex")
	require.NoError(t, err)
	assert.Equal(t, "http://nas:32400/web", url)
	assert.Equal(t, []string{"http://nas:32400/web"}, f.navigator.Visited())

	_, err = f.view.Portal(context.Background(), "redis")
	assert.ErrorIs(t, err, ErrNoPortal)

	_, err = f.view.Portal(context.Background(), "ghost")
	assert.True(t, rpc.IsNotFound(err))
}
