// Package api exposes the applications console over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
	"apps-console/pkg/jobs"
	"apps-console/pkg/pool"
	"apps-console/pkg/releases"
	"apps-console/pkg/rpc"
	"apps-console/pkg/shell"
)

// scaleWait bounds how long a start or stop request follows the release status before answering
// 202; clients follow /api/releases/events from there.
const scaleWait = 15 * time.Second

// ErrNoPool is returned by install endpoints while no pool is bound.
var ErrNoPool = errors.New("no pool is bound, choose a pool first")

// APIHandler holds dependencies for API handlers.
type APIHandler struct {
	apps     *apps.Service
	catalog  *appcatalog.Service
	binder   *pool.Binder
	view     *releases.View
	shell    *shell.Flow
	runner   *jobs.Runner
	gatherer prometheus.Gatherer
	log      *logrus.Entry

	scaleWait time.Duration
}

// NewAPIHandler wires the views to request-scoped dialogs. gatherer may be nil.
func NewAPIHandler(a *apps.Service, runner *jobs.Runner, opts releases.Options, gatherer prometheus.Gatherer, log *logrus.Entry) *APIHandler {
	log = log.WithField("component", "api")
	notifier := logNotifier{log: log}
	catalog := appcatalog.NewService(a, log)
	h := &APIHandler{
		apps:      a,
		catalog:   catalog,
		binder:    pool.NewBinder(a, runner, requestPrompter{}, requestNavigator{}, notifier, log),
		shell:     shell.NewFlow(a, requestPrompter{}, requestNavigator{}, log),
		runner:    runner,
		gatherer:  gatherer,
		log:       log,
		scaleWait: scaleWait,
	}
	h.view = releases.NewView(releases.Deps{
		Apps:      a,
		Catalog:   catalog,
		Runner:    runner,
		Prompter:  requestPrompter{},
		Navigator: requestNavigator{},
		Notifier:  notifier,
	}, opts, log)
	h.binder.Settings = pool.NewSettingsEditor(a, runner, requestSettings, notifier, log)
	h.binder.Launcher = appcatalog.NewLauncher(catalog, runner, requestLaunch)
	// A pool change moves the release view between first use and loaded.
	h.binder.OnMenuChange(func(pool.Menu) { h.view.Refresh() })
	return h
}

// Start loads the pool binding, schedules the first refresh and follows release events until ctx ends.
func (h *APIHandler) Start(ctx context.Context) {
	if _, err := h.binder.Check(ctx); err != nil {
		h.log.WithError(err).Warn("Could not read the pool binding")
	}
	if err := h.catalog.Load(ctx); err != nil {
		h.log.WithError(err).Warn("Could not load the catalog")
	}
	h.view.Refresh()
	go func() {
		if err := h.view.Watch(ctx); err != nil && ctx.Err() == nil {
			h.log.WithError(err).Warn("Release events stopped")
		}
	}()
}

// Close stops background refreshes.
func (h *APIHandler) Close() { h.view.Close() }

// View exposes the release view.
func (h *APIHandler) View() *releases.View { return h.view }

func statusOf(err error) int {
	var verr *appcatalog.ValidationError
	var rerr *rpc.Error
	switch {
	case rpc.IsNotFound(err), errors.Is(err, appcatalog.ErrItemNotFound), errors.Is(err, shell.ErrNoPods), errors.Is(err, releases.ErrNoPortal):
		return http.StatusNotFound
	case errors.Is(err, ErrNoPool):
		return http.StatusConflict
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &rerr) && rerr.Code == rpc.CodeInvalid:
		return http.StatusBadRequest
	case rpc.IsRemote(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *APIHandler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func bad(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *APIHandler) requirePool(c *gin.Context) bool {
	cfg, err := h.apps.KubernetesConfig(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return false
	}
	if cfg.PoolName() == "" {
		h.fail(c, ErrNoPool)
		return false
	}
	return true
}

// GetCatalogHandler lists the installable applications.
func (h *APIHandler) GetCatalogHandler(c *gin.Context) {
	if err := h.catalog.Load(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.catalog.Items())
}

// GetCatalogItemHandler returns one catalog item.
func (h *APIHandler) GetCatalogItemHandler(c *gin.Context) {
	item, err := h.catalog.ItemByName(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type installRequest struct {
	ReleaseName string         `json:"release_name" binding:"required"`
	Values      map[string]any `json:"values"`
}

// InstallHandler installs a catalog item through its form.
func (h *APIHandler) InstallHandler(c *gin.Context) {
	var req installRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bad(c, err)
		return
	}
	if !h.requirePool(c) {
		return
	}
	form, err := h.catalog.InstallForm(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.install(c, form, req)
}

// LaunchHandler installs the generic chart, as the toolbar launch button does.
func (h *APIHandler) LaunchHandler(c *gin.Context) {
	var req installRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bad(c, err)
		return
	}
	h.dispatch(c, pool.ActionLaunch, &answers{Release: req.ReleaseName, Values: req.Values})
}

func (h *APIHandler) install(c *gin.Context, form appcatalog.Form, req installRequest) {
	res, err := appcatalog.Install(c.Request.Context(), h.runner, form, req.ReleaseName, req.Values)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.view.Refresh()
	c.JSON(http.StatusOK, gin.H{"release": req.ReleaseName, "result": res})
}

// GetMenuHandler returns the toolbar for the current pool binding.
func (h *APIHandler) GetMenuHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.binder.Menu())
}

// GetPoolHandler returns the bound pool.
func (h *APIHandler) GetPoolHandler(c *gin.Context) {
	cfg, err := h.apps.KubernetesConfig(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// SetPoolHandler runs the pool selection with the pool named in the body.
func (h *APIHandler) SetPoolHandler(c *gin.Context) {
	var body struct {
		Pool string `json:"pool" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		bad(c, err)
		return
	}
	a := &answers{Pool: body.Pool}
	outcome, err := h.binder.Select(withAnswers(c.Request.Context(), a))
	if err != nil {
		h.fail(c, err)
		return
	}
	switch outcome {
	case pool.NavigatedToStorage:
		c.JSON(http.StatusConflict, gin.H{"error": pool.MessageNoPool, "navigate": a.navigated()})
	case pool.Bound:
		c.JSON(http.StatusOK, gin.H{"pool": h.binder.Pool(), "menu": h.binder.Menu()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "pool was not bound"})
	}
}

// UnsetPoolHandler clears the pool binding.
func (h *APIHandler) UnsetPoolHandler(c *gin.Context) {
	if err := h.binder.Unset(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pool": nil, "menu": h.binder.Menu()})
}

type toolbarRequest struct {
	Pool        string                   `json:"pool"`
	Settings    *apps.KubernetesSettings `json:"settings"`
	ReleaseName string                   `json:"release_name"`
	Values      map[string]any           `json:"values"`
}

// ToolbarHandler runs a toolbar action. The body carries the answers of the action's dialog.
func (h *APIHandler) ToolbarHandler(c *gin.Context) {
	var body toolbarRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			bad(c, err)
			return
		}
	}
	h.dispatch(c, pool.Action(c.Param("action")), &answers{
		Pool:     body.Pool,
		Settings: body.Settings,
		Release:  body.ReleaseName,
		Values:   body.Values,
	})
}

func (h *APIHandler) dispatch(c *gin.Context, action pool.Action, a *answers) {
	ctx := c.Request.Context()
	cfg, err := h.apps.KubernetesConfig(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !pool.MenuFor(pool.StateOf(cfg.PoolName())).Has(action) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "toolbar action " + string(action) + " is not available"})
		return
	}
	if action == pool.ActionLaunch && cfg.PoolName() == "" {
		h.fail(c, ErrNoPool)
		return
	}

	outcome, err := h.binder.Handle(withAnswers(ctx, a), action)
	if err != nil {
		h.fail(c, err)
		return
	}
	switch outcome {
	case pool.NavigatedToStorage:
		c.JSON(http.StatusConflict, gin.H{"error": pool.MessageNoPool, "navigate": a.navigated()})
	case pool.Unchanged:
		c.JSON(http.StatusBadRequest, gin.H{"error": "toolbar action " + string(action) + " needs an answer", "outcome": outcome})
	default:
		if action == pool.ActionLaunch {
			h.view.Refresh()
		}
		c.JSON(http.StatusOK, gin.H{"outcome": outcome, "pool": h.binder.Pool(), "menu": h.binder.Menu(), "release": a.Release})
	}
}

// ListPoolsHandler lists the storage pools.
func (h *APIHandler) ListPoolsHandler(c *gin.Context) {
	pools, err := h.apps.Pools(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pools)
}

// ListReleasesHandler returns the current release view.
func (h *APIHandler) ListReleasesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.view.Snapshot())
}

// RefreshReleasesHandler schedules a refresh of the release view.
func (h *APIHandler) RefreshReleasesHandler(c *gin.Context) {
	h.view.Refresh()
	c.JSON(http.StatusAccepted, h.view.Snapshot())
}

// ReleaseEventsHandler streams release view snapshots as server-sent events.
func (h *APIHandler) ReleaseEventsHandler(c *gin.Context) {
	updates, unsubscribe := h.view.Updates()
	defer unsubscribe()
	ctx := c.Request.Context()

	c.SSEvent("snapshot", h.view.Snapshot())
	c.Stream(func(_ io.Writer) bool {
		select {
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", snap)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// GetReleaseHandler returns one release.
func (h *APIHandler) GetReleaseHandler(c *gin.Context) {
	r, err := h.view.Release(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *APIHandler) scaleHandler(scale func(context.Context, string) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.scaleWait)
		defer cancel()
		name := c.Param("name")
		status, err := scale(ctx, name)
		if errors.Is(err, context.DeadlineExceeded) && c.Request.Context().Err() == nil {
			if r, ok := h.view.Store().Get(name); ok {
				status = r.Status
			}
			err = releases.ErrStillDeploying
		}
		switch {
		case errors.Is(err, releases.ErrStillDeploying):
			c.JSON(http.StatusAccepted, gin.H{"status": status})
		case err != nil:
			h.fail(c, err)
		default:
			c.JSON(http.StatusOK, gin.H{"status": status})
		}
	}
}

// StartHandler scales a release up and reports its status.
func (h *APIHandler) StartHandler(c *gin.Context) { h.scaleHandler(h.view.Start)(c) }

// StopHandler scales a release down and reports its status.
func (h *APIHandler) StopHandler(c *gin.Context) { h.scaleHandler(h.view.Stop)(c) }

func (h *APIHandler) confirmed(c *gin.Context, ok bool, err error) {
	switch {
	case err != nil:
		h.fail(c, err)
	case !ok:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action was not confirmed"})
	default:
		c.JSON(http.StatusOK, gin.H{"release": c.Param("name")})
	}
}

// UpgradeHandler upgrades a release to its latest chart version.
func (h *APIHandler) UpgradeHandler(c *gin.Context) {
	ok, err := h.view.Upgrade(c.Request.Context(), c.Param("name"))
	h.confirmed(c, ok, err)
}

// RollbackHandler rolls a release back to the chart version in the body.
func (h *APIHandler) RollbackHandler(c *gin.Context) {
	var opts apps.RollbackOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		bad(c, err)
		return
	}
	ctx := withAnswers(c.Request.Context(), &answers{Rollback: opts})
	ok, err := h.view.Rollback(ctx, c.Param("name"))
	h.confirmed(c, ok, err)
}

// PullImageHandler pulls the configured image of a release.
func (h *APIHandler) PullImageHandler(c *gin.Context) {
	ok, err := h.view.PullImage(c.Request.Context(), c.Param("name"))
	h.confirmed(c, ok, err)
}

// DeleteReleaseHandler deletes a release.
func (h *APIHandler) DeleteReleaseHandler(c *gin.Context) {
	ok, err := h.view.Delete(c.Request.Context(), c.Param("name"))
	h.confirmed(c, ok, err)
}

// EditReleaseHandler submits new values through the release's form.
func (h *APIHandler) EditReleaseHandler(c *gin.Context) {
	var body struct {
		Values map[string]any `json:"values" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		bad(c, err)
		return
	}
	if err := h.view.Edit(c.Request.Context(), c.Param("name"), body.Values); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"release": c.Param("name")})
}

// ShellChoicesHandler lists the pods and containers a shell can attach to, with defaults.
func (h *APIHandler) ShellChoicesHandler(c *gin.Context) {
	name := c.Param("name")
	choices, err := h.apps.PodConsoleChoices(c.Request.Context(), name)
	if err != nil {
		h.fail(c, err)
		return
	}
	p := shell.Prompt(name, choices)
	c.JSON(http.StatusOK, gin.H{
		"choices": choices,
		"default": gin.H{"pod": p.Pod, "container": p.Container, "command": p.Command},
	})
}

// OpenShellHandler resolves the shell target of a release and returns its route.
func (h *APIHandler) OpenShellHandler(c *gin.Context) {
	var body struct {
		Pod       string `json:"pod"`
		Container string `json:"container"`
		Command   string `json:"command"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			bad(c, err)
			return
		}
	}
	a := &answers{Pod: body.Pod, Container: body.Container, Command: body.Command}
	target, err := h.shell.Open(withAnswers(c.Request.Context(), a), c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": target, "route": a.navigated()})
}
