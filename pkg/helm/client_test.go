package helm

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chartutil"
	kubefake "helm.sh/helm/v3/pkg/kube/fake"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/repo"
	"helm.sh/helm/v3/pkg/storage"
	"helm.sh/helm/v3/pkg/storage/driver"
	helmtime "helm.sh/helm/v3/pkg/time"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
	"apps-console/pkg/config"
	"apps-console/pkg/metrics"
	"apps-console/pkg/rpc"
)

const (
	testNamespace = "apps"
	testRepoURL   = "https://charts.example.com"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testChart(name, version string) *chart.Chart {
	return &chart.Chart{
		Metadata: &chart.Metadata{
			APIVersion:  chart.APIVersionV2,
			Name:        name,
			Version:     version,
			AppVersion:  "1.40",
			Description: "Plex media server",
		},
		Values: map[string]interface{}{
			"image": map[string]interface{}{"repository": "plexinc/pms-docker", "tag": "1.40"},
		},
	}
}

func testIndex(t *testing.T) *repo.IndexFile {
	idx := repo.NewIndexFile()
	for _, v := range []string{"1.0.0", "1.1.0"} {
		md := &chart.Metadata{APIVersion: chart.APIVersionV2, Name: "plex", Version: v, Description: "Plex from index", Icon: "https://icons.example.com/plex.png"}
		require.NoError(t, idx.MustAdd(md, "plex-"+v+".tgz", testRepoURL, "sha256:0"))
	}
	return idx
}

func workload(release string, desired, available int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: release, Namespace: testNamespace, Labels: map[string]string{metrics.InstanceLabel: release}},
		Spec:       appsv1.DeploymentSpec{Replicas: &desired},
		Status:     appsv1.DeploymentStatus{AvailableReplicas: available},
	}
}

func nodePortService(release string, port int32) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: release, Namespace: testNamespace, Labels: map[string]string{metrics.InstanceLabel: release}},
		Spec: corev1.ServiceSpec{
			Type:  corev1.ServiceTypeNodePort,
			Ports: []corev1.ServicePort{{Name: "web", Port: 32400, NodePort: port, Protocol: corev1.ProtocolTCP}},
		},
	}
}

func runningPod(release, name string, containers ...string) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace, Labels: map[string]string{metrics.InstanceLabel: release}},
		Status:     corev1.PodStatus{Phase: corev1.PodRunning},
	}
	for _, c := range containers {
		pod.Spec.Containers = append(pod.Spec.Containers, corev1.Container{Name: c})
	}
	return pod
}

type fixture struct {
	client *Client
	kube   *fake.Clientset
	apps   *apps.Service
	state  string
}

func newFixture(t *testing.T, objects ...runtime.Object) *fixture {
	t.Helper()
	cfg := &config.AppConfig{
		AppInstallNamespace: testNamespace,
		HelmTimeout:         time.Second,
		EventPollInterval:   10 * time.Millisecond,
		PortalHost:          "nas.local",
	}
	actionCfg := &action.Configuration{
		Releases:     storage.Init(driver.NewMemory()),
		KubeClient:   &kubefake.PrintingKubeClient{Out: io.Discard},
		Capabilities: chartutil.DefaultCapabilities,
		Log:          func(string, ...interface{}) {},
	}
	statePath := filepath.Join(t.TempDir(), "state.yaml")
	state, err := loadState(statePath)
	require.NoError(t, err)

	kube := fake.NewSimpleClientset(objects...)
	registry := &Registry{Charts: []ChartMeta{{Name: "plex", Chart: "community/plex", RepoURL: testRepoURL}}}
	c := newClient(cfg, actionCfg, kube, metrics.NewService(nil, testLog()), registry, state, testLog())
	c.loadIndex = func(context.Context, string, string) (*repo.IndexFile, error) { return testIndex(t), nil }
	c.locateChart = func(meta ChartMeta, version string) (*chart.Chart, error) {
		if version == "" {
			version = "1.1.0"
		}
		return testChart(meta.ChartName(), version), nil
	}
	return &fixture{client: c, kube: kube, apps: apps.NewService(c), state: statePath}
}

func (f *fixture) seed(t *testing.T, name, version string, revision int, status release.Status) {
	t.Helper()
	rel := &release.Release{
		Name:      name,
		Namespace: testNamespace,
		Version:   revision,
		Info:      &release.Info{Status: status, LastDeployed: helmtime.Now()},
		Chart:     testChart("plex", version),
		Config:    map[string]interface{}{},
	}
	require.NoError(t, f.client.actionConfig.Releases.Create(rel))
}

func TestCatalogQuery(t *testing.T) {
	f := newFixture(t)
	catalogs, err := f.apps.Catalogs(context.Background())
	require.NoError(t, err)
	require.Len(t, catalogs, 1)
	assert.Equal(t, "community", catalogs[0].ID)

	item := catalogs[0].Trains[appcatalog.DefaultTrain]["plex"]
	assert.Equal(t, "https://icons.example.com/plex.png", item.IconURL)
	assert.Len(t, item.Versions, 2)
	assert.Equal(t, "Plex from index", item.Versions["1.0.0"].AppReadme)

	items, _ := appcatalog.Assemble(catalogs)
	require.Len(t, items, 1)
	assert.Equal(t, "1.1.0", items[0].LatestVersion)
}

func TestCatalogQueryCachesIndex(t *testing.T) {
	f := newFixture(t)
	loads := 0
	f.client.loadIndex = func(context.Context, string, string) (*repo.IndexFile, error) {
		loads++
		return testIndex(t), nil
	}
	for i := 0; i < 3; i++ {
		_, err := f.apps.Catalogs(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, loads)
}

func TestCatalogQuerySkipsUnreachableRepo(t *testing.T) {
	f := newFixture(t)
	f.client.loadIndex = func(context.Context, string, string) (*repo.IndexFile, error) {
		return nil, assert.AnError
	}
	catalogs, err := f.apps.Catalogs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, catalogs)
}

func TestPoolBinding(t *testing.T) {
	f := newFixture(t,
		&storagev1.StorageClass{ObjectMeta: metav1.ObjectMeta{Name: "slow"}},
		&storagev1.StorageClass{ObjectMeta: metav1.ObjectMeta{Name: "fast"}},
	)
	ctx := context.Background()

	pools, err := f.apps.Pools(ctx)
	require.NoError(t, err)
	assert.Equal(t, []apps.Pool{{Name: "fast"}, {Name: "slow"}}, pools)

	cfg, err := f.apps.KubernetesConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg.Pool)
	started, err := f.apps.KubernetesStarted(ctx)
	require.NoError(t, err)
	assert.False(t, started)

	fast := "fast"
	_, err = f.client.CallJob(ctx, rpc.MethodKubernetesUpdate, nil, apps.PoolUpdate{Pool: &fast})
	require.NoError(t, err)
	cfg, err = f.apps.KubernetesConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fast", cfg.PoolName())
	started, err = f.apps.KubernetesStarted(ctx)
	require.NoError(t, err)
	assert.True(t, started)

	persisted, err := loadState(f.state)
	require.NoError(t, err)
	assert.Equal(t, "fast", persisted.Pool())

	_, err = f.client.CallJob(ctx, rpc.MethodKubernetesUpdate, nil, apps.PoolUpdate{})
	require.NoError(t, err)
	assert.Empty(t, f.client.state.Pool())
}

func TestPoolBindingRejectsUnknownPool(t *testing.T) {
	f := newFixture(t)
	tank := "tank"
	_, err := f.client.Call(context.Background(), rpc.MethodKubernetesUpdate, apps.PoolUpdate{Pool: &tank})
	require.Error(t, err)
	var rerr *rpc.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rpc.CodeInvalid, rerr.Code)
	_, statErr := os.Stat(f.state)
	assert.True(t, os.IsNotExist(statErr))
}

func TestKubernetesSettingsKeepPool(t *testing.T) {
	f := newFixture(t, &storagev1.StorageClass{ObjectMeta: metav1.ObjectMeta{Name: "fast"}})
	ctx := context.Background()
	require.NoError(t, f.client.state.SetPool("fast"))

	_, err := f.client.CallJob(ctx, rpc.MethodKubernetesUpdate, nil, apps.KubernetesSettings{NodeIP: "10.0.0.2"})
	require.NoError(t, err)
	_, err = f.client.CallJob(ctx, rpc.MethodKubernetesUpdate, nil, apps.KubernetesSettings{ClusterCIDR: "172.16.0.0/16"})
	require.NoError(t, err)

	cfg, err := f.apps.KubernetesConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fast", cfg.PoolName())
	assert.Equal(t, apps.KubernetesSettings{NodeIP: "10.0.0.2", ClusterCIDR: "172.16.0.0/16"}, cfg.KubernetesSettings)

	persisted, err := loadState(f.state)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", persisted.Settings().NodeIP)
}

func TestReleaseQueryAssemblesRelease(t *testing.T) {
	f := newFixture(t,
		workload("plex", 2, 1),
		nodePortService("plex", 32400),
	)
	f.seed(t, "plex", "1.0.0", 1, release.StatusSuperseded)
	f.seed(t, "plex", "1.0.0", 2, release.StatusDeployed)

	list, err := f.apps.ChartReleases(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	cr := list[0]

	assert.Equal(t, "plex", cr.Name)
	assert.Equal(t, "community", cr.Catalog)
	assert.Equal(t, StatusDeploying, cr.Status)
	assert.Equal(t, apps.PodStatus{Available: 1, Desired: 2}, cr.PodStatus)
	assert.Equal(t, []apps.UsedPort{{Port: 32400, Protocol: "TCP"}}, cr.UsedPorts)
	assert.Equal(t, []string{"http://nas.local:32400/"}, cr.Portals[portalName])
	assert.Equal(t, "1.1.0", cr.ChartMetadata.LatestChartVersion)
	assert.True(t, cr.UpdateAvailable)
	assert.Contains(t, cr.History, "1.0.0")
	assert.Nil(t, cr.Stats)

	repository, tag := cr.Image()
	assert.Equal(t, "plexinc/pms-docker", repository)
	assert.Equal(t, "1.40", tag)
}

func TestReleaseQueryFilter(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "plex", "1.0.0", 1, release.StatusDeployed)
	f.seed(t, "minio", "1.0.0", 1, release.StatusDeployed)

	cr, err := f.apps.ChartRelease(context.Background(), "minio")
	require.NoError(t, err)
	assert.Equal(t, "minio", cr.Name)
	assert.Equal(t, StatusActive, cr.Status)

	_, err = f.apps.ChartRelease(context.Background(), "missing")
	assert.True(t, rpc.IsNotFound(err))
}

func TestReleaseStatus(t *testing.T) {
	deployed := &release.Release{Info: &release.Info{Status: release.StatusDeployed}}
	assert.Equal(t, StatusActive, releaseStatus(deployed, apps.PodStatus{}, 0))
	assert.Equal(t, StatusStopped, releaseStatus(deployed, apps.PodStatus{}, 1))
	assert.Equal(t, StatusDeploying, releaseStatus(deployed, apps.PodStatus{Available: 0, Desired: 1}, 1))
	assert.Equal(t, StatusActive, releaseStatus(deployed, apps.PodStatus{Available: 1, Desired: 1}, 1))

	pending := &release.Release{Info: &release.Info{Status: release.StatusPendingUpgrade}}
	assert.Equal(t, StatusDeploying, releaseStatus(pending, apps.PodStatus{}, 0))
	failed := &release.Release{Info: &release.Info{Status: release.StatusFailed}}
	assert.Equal(t, "FAILED", releaseStatus(failed, apps.PodStatus{}, 0))
}

func TestCreateRelease(t *testing.T) {
	f := newFixture(t, &storagev1.StorageClass{ObjectMeta: metav1.ObjectMeta{Name: "fast"}})
	require.NoError(t, f.client.state.SetPool("fast"))
	ctx := context.Background()

	var updates []rpc.JobProgress
	req := apps.CreateRequest{
		ReleaseName: "plex",
		Catalog:     "community",
		Train:       appcatalog.DefaultTrain,
		Item:        "plex",
		Version:     "1.0.0",
		Values:      map[string]any{"image": map[string]any{"tag": "1.41"}},
	}
	_, err := f.client.CallJob(ctx, rpc.MethodReleaseCreate, func(p rpc.JobProgress) { updates = append(updates, p) }, req)
	require.NoError(t, err)
	require.NotEmpty(t, updates)
	assert.Equal(t, float64(100), updates[len(updates)-1].Percent)

	rel, err := f.client.currentRelease("plex")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", rel.Chart.Metadata.Version)
	assert.Equal(t, "fast", appcatalog.Lookup(rel.Config, storageClassValue))

	cr, err := f.apps.ChartRelease(ctx, "plex")
	require.NoError(t, err)
	_, tag := cr.Image()
	assert.Equal(t, "1.41", tag)

	_, err = f.client.CallJob(ctx, rpc.MethodReleaseCreate, nil, req)
	var jerr *rpc.JobError
	require.ErrorAs(t, err, &jerr)
	assert.Contains(t, jerr.Reason, "already exists")
}

func TestCreateReleaseUnknownChart(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.CallJob(context.Background(), rpc.MethodReleaseCreate, nil,
		apps.CreateRequest{ReleaseName: "x", Catalog: "community", Item: "nextcloud"})
	var jerr *rpc.JobError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, rpc.JobFailed, jerr.State)
}

func TestUpdateReleaseMergesValues(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "plex", "1.0.0", 1, release.StatusDeployed)
	ctx := context.Background()

	_, err := f.client.CallJob(ctx, rpc.MethodReleaseUpdate, nil, "plex",
		apps.UpdateRequest{Values: map[string]any{"image": map[string]any{"tag": "1.42"}}})
	require.NoError(t, err)

	rel, err := f.client.currentRelease("plex")
	require.NoError(t, err)
	assert.Equal(t, 2, rel.Version)
	assert.Equal(t, "1.42", appcatalog.Lookup(rel.Config, "image.tag"))
}

func TestUpgradeReleaseToLatest(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "plex", "1.0.0", 1, release.StatusDeployed)
	ctx := context.Background()

	_, err := f.client.CallJob(ctx, rpc.MethodReleaseUpgrade, nil, "plex")
	require.NoError(t, err)
	rel, err := f.client.currentRelease("plex")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", rel.Chart.Metadata.Version)

	_, err = f.client.CallJob(ctx, rpc.MethodReleaseUpgrade, nil, "plex")
	var jerr *rpc.JobError
	require.ErrorAs(t, err, &jerr)
	assert.Contains(t, jerr.Reason, "already at chart version")
}

func TestRollbackReleaseByChartVersion(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "plex", "1.0.0", 1, release.StatusSuperseded)
	f.seed(t, "plex", "1.1.0", 2, release.StatusDeployed)
	ctx := context.Background()

	_, err := f.client.CallJob(ctx, rpc.MethodReleaseRollback, nil, "plex", apps.RollbackOptions{ItemVersion: "1.0.0", Force: true})
	require.NoError(t, err)
	rel, err := f.client.currentRelease("plex")
	require.NoError(t, err)
	assert.Equal(t, 3, rel.Version)
	assert.Equal(t, "1.0.0", rel.Chart.Metadata.Version)

	_, err = f.client.CallJob(ctx, rpc.MethodReleaseRollback, nil, "plex", apps.RollbackOptions{ItemVersion: "0.9.0"})
	assert.Error(t, err)
}

func TestDeleteRelease(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "plex", "1.0.0", 1, release.StatusDeployed)
	ctx := context.Background()

	_, err := f.client.CallJob(ctx, rpc.MethodReleaseDelete, nil, "plex")
	require.NoError(t, err)
	list, err := f.apps.ChartReleases(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.client.Call(ctx, rpc.MethodReleaseDelete, "plex")
	assert.True(t, rpc.IsNotFound(err))
}

func TestScaleRelease(t *testing.T) {
	f := newFixture(t, workload("plex", 1, 1))
	f.seed(t, "plex", "1.0.0", 1, release.StatusDeployed)
	ctx := context.Background()

	require.NoError(t, f.apps.SetReplicaCount(ctx, "plex", 0))
	d, err := f.kube.AppsV1().Deployments(testNamespace).Get(ctx, "plex", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), *d.Spec.Replicas)

	cr, err := f.apps.ChartRelease(ctx, "plex")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, cr.Status)

	assert.Error(t, f.apps.SetReplicaCount(ctx, "missing", 1))
}

func TestPodConsoleChoices(t *testing.T) {
	pending := runningPod("plex", "plex-pending", "plex")
	pending.Status.Phase = corev1.PodPending
	f := newFixture(t,
		runningPod("plex", "plex-7d9f-a", "plex", "sidecar"),
		pending,
		runningPod("minio", "minio-0", "minio"),
	)
	choices, err := f.apps.PodConsoleChoices(context.Background(), "plex")
	require.NoError(t, err)
	assert.Equal(t, apps.ConsoleChoices{"plex-7d9f-a": {"plex", "sidecar"}}, choices)
}

func TestUnsupportedMethods(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.CallJob(context.Background(), rpc.MethodImagePull, nil, apps.ImagePull{FromImage: "plexinc/pms-docker"})
	var rerr *rpc.Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, rpc.CodeNotSupported, rerr.Code)

	_, err = f.client.Subscribe(context.Background(), rpc.MethodGetJobs)
	require.ErrorAs(t, err, &rerr)
}

func TestSubscribeEmitsStatusChanges(t *testing.T) {
	f := newFixture(t, workload("plex", 1, 1))
	f.seed(t, "plex", "1.0.0", 1, release.StatusDeployed)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := f.client.Subscribe(ctx, rpc.TopicReleases)
	require.NoError(t, err)
	require.NoError(t, f.apps.SetReplicaCount(ctx, "plex", 0))

	select {
	case ev := <-events:
		assert.Equal(t, rpc.EventChanged, ev.Msg)
		assert.Equal(t, "plex", ev.StringID())
		assert.JSONEq(t, `{"status":"STOPPED"}`, string(ev.Fields))
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	for range events {
	}
}

func TestDiffStatuses(t *testing.T) {
	events := diffStatuses(
		map[string]string{"plex": "ACTIVE", "minio": "ACTIVE"},
		map[string]string{"plex": "STOPPED", "nextcloud": "DEPLOYING"},
	)
	byMsg := map[string]string{}
	for _, ev := range events {
		byMsg[ev.Msg] = ev.StringID()
	}
	assert.Equal(t, map[string]string{
		rpc.EventChanged: "plex",
		rpc.EventAdded:   "nextcloud",
		rpc.EventRemoved: "minio",
	}, byMsg)
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
charts:
  - chart: bitnami/nginx
    repo_url: https://charts.bitnami.com/bitnami
  - name: plex
    chart: community/plex
    version: 1.0.0
    repo_url: https://charts.example.com
`), 0o600))
	r, err := LoadRegistry(path)
	require.NoError(t, err)
	require.Len(t, r.Charts, 2)
	assert.Equal(t, "nginx", r.Charts[0].Name)
	assert.Equal(t, []string{"bitnami", "community"}, r.Repos())
	meta, ok := r.Lookup("", "plex")
	assert.True(t, ok)
	assert.Equal(t, "1.0.0", meta.Version)

	require.NoError(t, os.WriteFile(path, []byte("charts:\n  - chart: nginx\n"), 0o600))
	_, err = LoadRegistry(path)
	assert.Error(t, err)
}

func TestPortalHost(t *testing.T) {
	assert.Equal(t, "nas.local", portalHost("nas.local", "https://10.0.0.1:6443"))
	assert.Equal(t, "10.0.0.1", portalHost("", "https://10.0.0.1:6443"))
	assert.Equal(t, "localhost", portalHost("", ""))
}
