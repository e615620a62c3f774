package releases

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
	"apps-console/pkg/jobs"
	"apps-console/pkg/rpc"
	"apps-console/pkg/ui"
)

// Options tune the refresh and status polling timers.
type Options struct {
	// Debounce delays a refresh so that rapid triggers coalesce into one run.
	Debounce time.Duration
	// PollInterval separates status queries while a release is deploying.
	PollInterval time.Duration
	// PollMaxAttempts bounds the status queries of one poll; zero or less polls until ctx ends.
	PollMaxAttempts int
}

// DefaultOptions returns the timers used by the web console.
func DefaultOptions() Options {
	return Options{
		Debounce:        time.Second,
		PollInterval:    3 * time.Second,
		PollMaxAttempts: 100,
	}
}

// Deps are the collaborators of a View. Catalog, Prompter, Navigator and Notifier are needed by
// the interactive actions only.
type Deps struct {
	Apps      *apps.Service
	Catalog   *appcatalog.Service
	Runner    *jobs.Runner
	Prompter  ui.Prompter
	Navigator ui.Navigator
	Notifier  ui.Notifier
}

// View keeps the installed releases in sync with the daemon.
type View struct {
	Deps
	opts  Options
	log   *logrus.Entry
	store *Store

	ctx    context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc

	subMu  sync.Mutex
	nextID int
	subs   map[int]chan Snapshot
}

// NewView creates a release view. Close releases its timers.
func NewView(deps Deps, opts Options, log *logrus.Entry) *View {
	ctx, stop := context.WithCancel(context.Background())
	v := &View{
		Deps: deps,
		opts: opts,
		log:  log.WithField("component", "releases"),
		ctx:  ctx,
		stop: stop,
		subs: map[int]chan Snapshot{},
	}
	v.store = NewStore(v.notify)
	return v
}

// Close stops pending and running refreshes.
func (v *View) Close() {
	v.mu.Lock()
	if v.timer != nil {
		v.timer.Stop()
	}
	v.mu.Unlock()
	v.stop()
}

// Store exposes the release mapping.
func (v *View) Store() *Store { return v.store }

// Snapshot returns what the view currently renders.
func (v *View) Snapshot() Snapshot { return v.store.Snapshot() }

// Updates streams a snapshot after every change. Slow readers only see the latest snapshot.
// The returned func unsubscribes and closes the channel.
func (v *View) Updates() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	v.subMu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = ch
	v.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.subMu.Lock()
			delete(v.subs, id)
			v.subMu.Unlock()
			close(ch)
		})
	}
}

func (v *View) notify() {
	v.subMu.Lock()
	defer v.subMu.Unlock()
	snap := v.store.Snapshot()
	for _, ch := range v.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// Refresh shows the loading state and schedules a reload after the debounce delay. A trigger
// arriving while a reload is pending or running supersedes it.
func (v *View) Refresh() {
	v.store.Begin()
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(v.opts.Debounce, func() {
		if _, err := v.run(v.ctx, v.store.Generation()); err != nil && !errors.Is(err, context.Canceled) {
			v.log.WithError(err).Warn("Failed to refresh releases")
		}
	})
}

// Reload refreshes immediately and returns the resulting state.
func (v *View) Reload(ctx context.Context) (State, error) {
	gen := v.store.Begin()
	return v.run(ctx, gen)
}

func (v *View) run(parent context.Context, gen uint64) (State, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	v.mu.Lock()
	if v.cancel != nil {
		v.cancel()
	}
	v.cancel = cancel
	v.mu.Unlock()

	state, list, err := v.load(ctx)
	if err != nil {
		v.store.Fail(gen, err)
		return Loading, err
	}
	if !v.store.Replace(gen, state, list) {
		v.log.WithField("generation", gen).Debug("Discarding stale release refresh")
		return v.store.State(), nil
	}
	v.log.WithField("state", state).Debugf("Loaded %d releases", len(list))
	return state, nil
}

// load runs the pool, runtime and release checks in order.
func (v *View) load(ctx context.Context) (State, []Release, error) {
	cfg, err := v.Apps.KubernetesConfig(ctx)
	if err != nil {
		return Loading, nil, errors.Wrap(err, "could not read kubernetes configuration")
	}
	if cfg.PoolName() == "" {
		return FirstUse, nil, nil
	}
	started, err := v.Apps.KubernetesStarted(ctx)
	if err != nil {
		return Loading, nil, errors.Wrap(err, "could not check kubernetes service")
	}
	if !started {
		return Errors, nil, nil
	}
	charts, err := v.Apps.ChartReleases(ctx)
	if err != nil {
		return Loading, nil, errors.Wrap(err, "could not list chart releases")
	}
	list := make([]Release, 0, len(charts))
	for _, cr := range charts {
		list = append(list, FromChartRelease(cr))
	}
	return Classify(true, true, len(list)), list, nil
}

type statusFields struct {
	Status *string `json:"status"`
}

// Watch subscribes to release status events and patches known releases until ctx ends or the
// subscription closes.
func (v *View) Watch(ctx context.Context) error {
	events, err := v.Apps.Caller().Subscribe(ctx, rpc.TopicReleases)
	if err != nil {
		return errors.Wrap(err, "could not subscribe to release events")
	}
	for ev := range events {
		v.apply(ev)
	}
	return ctx.Err()
}

func (v *View) apply(ev rpc.Event) {
	if ev.Msg != rpc.EventChanged && ev.Msg != rpc.EventAdded {
		return
	}
	var fields statusFields
	if len(ev.Fields) == 0 || json.Unmarshal(ev.Fields, &fields) != nil || fields.Status == nil {
		return
	}
	name := ev.StringID()
	if v.store.PatchStatus(name, *fields.Status) {
		v.log.WithFields(logrus.Fields{"release": name, "status": *fields.Status}).Debug("Release status changed")
	}
}
