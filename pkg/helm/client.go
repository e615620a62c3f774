// Package helm serves the daemon's application methods from a Kubernetes cluster through the
// Helm SDK, so the console can run without the appliance.
package helm

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/repo"
	"helm.sh/helm/v3/pkg/storage/driver"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"apps-console/pkg/config"
	applog "apps-console/pkg/log"
	"apps-console/pkg/metrics"
	"apps-console/pkg/rpc"
)

const indexTTL = 10 * time.Minute

type handler func(ctx context.Context, params []any, report func(rpc.JobProgress)) (any, error)

// Client implements rpc.Caller against the install namespace of a cluster.
type Client struct {
	config       *config.AppConfig
	settings     *cli.EnvSettings
	actionConfig *action.Configuration
	kubeClient   kubernetes.Interface
	restConfig   *rest.Config
	metrics      *metrics.Service
	registry     *Registry
	state        *stateStore
	portalHost   string
	log          *logrus.Entry

	indexes     *expirable.LRU[string, *repo.IndexFile]
	loadIndex   func(ctx context.Context, name, url string) (*repo.IndexFile, error)
	locateChart func(meta ChartMeta, version string) (*chart.Chart, error)
	repoMu      sync.Mutex

	jobs    atomic.Int64
	methods map[string]handler
}

var _ rpc.Caller = (*Client)(nil)

// NewClient connects to the cluster named by the kubeconfig (or the in-cluster config) and
// prepares the install namespace.
func NewClient(ctx context.Context, cfg *config.AppConfig, log *logrus.Entry) (*Client, error) {
	log = log.WithField("component", "helm")

	settings := cli.New()
	settings.KubeConfig = cfg.KubeconfigPath
	settings.SetNamespace(cfg.AppInstallNamespace)

	actionCfg := new(action.Configuration)
	err := actionCfg.Init(settings.RESTClientGetter(), cfg.AppInstallNamespace, cfg.HelmDriver, applog.Printf(log))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialize Helm action configuration for namespace %s", cfg.AppInstallNamespace)
	}

	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		log.WithError(err).Debugf("Not in cluster, using kubeconfig from %s", settings.KubeConfig)
		k8sConfig, err = clientcmd.BuildConfigFromFlags("", settings.KubeConfig)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get Kubernetes config")
		}
	}
	kubeClient, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Kubernetes client")
	}
	var mc metricsclient.Interface
	if metricsClient, err := metricsclient.NewForConfig(k8sConfig); err != nil {
		log.WithError(err).Warn("Failed to create metrics client")
	} else {
		mc = metricsClient
	}

	registry, err := LoadRegistry(cfg.ChartConfigPath)
	if err != nil {
		log.WithError(err).Warn("Chart registry unavailable, the catalog will be empty")
		registry = &Registry{}
	}
	state, err := loadState(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	c := newClient(cfg, actionCfg, kubeClient, metrics.NewService(mc, log.WithField("component", "metrics")), registry, state, log)
	c.settings = settings
	c.restConfig = k8sConfig
	c.portalHost = portalHost(cfg.PortalHost, k8sConfig.Host)
	c.loadIndex = c.downloadIndex
	c.locateChart = c.pullChart

	if err := c.ensureNamespace(ctx); err != nil {
		log.WithError(err).Warnf("Namespace %s is not ready, please ensure it exists", cfg.AppInstallNamespace)
	}
	return c, nil
}

func newClient(cfg *config.AppConfig, actionCfg *action.Configuration, kc kubernetes.Interface, ms *metrics.Service, registry *Registry, state *stateStore, log *logrus.Entry) *Client {
	c := &Client{
		config:       cfg,
		settings:     cli.New(),
		actionConfig: actionCfg,
		kubeClient:   kc,
		metrics:      ms,
		registry:     registry,
		state:        state,
		portalHost:   portalHost(cfg.PortalHost, ""),
		log:          log,
		indexes:      expirable.NewLRU[string, *repo.IndexFile](32, nil, indexTTL),
	}
	c.methods = map[string]handler{
		rpc.MethodCatalogQuery:      c.queryCatalogs,
		rpc.MethodKubernetesConfig:  c.kubernetesConfig,
		rpc.MethodKubernetesUpdate:  c.kubernetesUpdate,
		rpc.MethodServiceStarted:    c.serviceStarted,
		rpc.MethodPoolQuery:         c.queryPools,
		rpc.MethodReleaseQuery:      c.queryReleases,
		rpc.MethodReleaseCreate:     c.createRelease,
		rpc.MethodReleaseUpdate:     c.updateRelease,
		rpc.MethodReleaseScale:      c.scaleRelease,
		rpc.MethodReleaseUpgrade:    c.upgradeRelease,
		rpc.MethodReleaseRollback:   c.rollbackRelease,
		rpc.MethodReleaseDelete:     c.deleteRelease,
		rpc.MethodPodConsoleChoices: c.podConsoleChoices,
	}
	return c
}

func portalHost(override, apiServer string) string {
	if override != "" {
		return override
	}
	if u, err := url.Parse(apiServer); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "localhost"
}

func (c *Client) ensureNamespace(ctx context.Context) error {
	ns := c.config.AppInstallNamespace
	_, err := c.kubeClient.CoreV1().Namespaces().Get(ctx, ns, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "failed to check namespace %s", ns)
	}
	c.log.Infof("Namespace %s not found, creating it", ns)
	_, err = c.kubeClient.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: ns}}, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return errors.Wrapf(err, "failed to create namespace %s", ns)
	}
	return nil
}

// KubeClient exposes the Kubernetes client, e.g. for shell sessions.
func (c *Client) KubeClient() kubernetes.Interface { return c.kubeClient }

// RESTConfig returns the cluster connection, for exec sessions.
func (c *Client) RESTConfig() *rest.Config { return c.restConfig }

// Namespace is the install namespace.
func (c *Client) Namespace() string { return c.config.AppInstallNamespace }

// Call runs a method in-process. Job methods run to completion before Call returns.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.invoke(ctx, method, params, func(rpc.JobProgress) {})
}

// CallJob runs a method as a job, reporting progress and wrapping failures in rpc.JobError.
func (c *Client) CallJob(ctx context.Context, method string, progress func(rpc.JobProgress), params ...any) (json.RawMessage, error) {
	if _, ok := c.methods[method]; !ok {
		return nil, rpc.NotSupported(method)
	}
	id := c.jobs.Add(1)
	report := func(p rpc.JobProgress) {
		if progress != nil {
			progress(p)
		}
	}
	report(rpc.JobProgress{Percent: 0, Description: "Running"})
	res, err := c.invoke(ctx, method, params, report)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &rpc.JobError{ID: id, Method: method, State: rpc.JobFailed, Reason: err.Error()}
	}
	report(rpc.JobProgress{Percent: 100, Description: "Done"})
	return res, nil
}

func (c *Client) invoke(ctx context.Context, method string, params []any, report func(rpc.JobProgress)) (json.RawMessage, error) {
	fn, ok := c.methods[method]
	if !ok {
		return nil, rpc.NotSupported(method)
	}
	start := time.Now()
	logger := c.log.WithField("method", method)
	res, err := fn(ctx, params, report)
	if err != nil {
		logger.WithError(err).Debug("Method failed")
		return nil, err
	}
	logger.WithField("took", time.Since(start)).Debug("Method completed")
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s result", method)
	}
	return raw, nil
}

// param decodes params[i] into dst; the value may be a typed struct or a decoded JSON value.
func param(params []any, i int, dst any) error {
	if i >= len(params) {
		return rpc.Invalid("missing parameter %d", i+1)
	}
	raw, err := json.Marshal(params[i])
	if err != nil {
		return rpc.Invalid("parameter %d: %v", i+1, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return rpc.Invalid("parameter %d: %v", i+1, err)
	}
	return nil
}

func optionalParam(params []any, i int, dst any) error {
	if i >= len(params) || params[i] == nil {
		return nil
	}
	return param(params, i, dst)
}

func releaseName(params []any) (string, error) {
	var name string
	if err := param(params, 0, &name); err != nil {
		return "", err
	}
	if name == "" {
		return "", rpc.Invalid("release name is required")
	}
	return name, nil
}

func isReleaseNotFound(err error) bool {
	return errors.Is(err, driver.ErrReleaseNotFound) || strings.Contains(err.Error(), "release: not found")
}

// releaseError maps Helm's missing-release error onto the daemon's not-found error.
func releaseError(err error, name string) error {
	if isReleaseNotFound(err) {
		return rpc.NotFound("release %q not found", name)
	}
	return err
}
