// Package pool binds the container runtime to a storage pool and builds the toolbar menu that
// depends on that binding.
package pool

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"apps-console/pkg/apps"
	"apps-console/pkg/jobs"
	"apps-console/pkg/rpc"
	"apps-console/pkg/ui"
)

// Dialog texts.
const (
	TitleJob         = "Configuring..."
	TitleSuccess     = "Success"
	TitleNoPool      = "No Pools"
	MessageNoPool    = "There are no pools available. Would you like to create one?"
	ActionCreatePool = "Create Pool"
	MessagePoolSet   = "Using pool "
	MessagePoolUnset = "Pool has been unset."
)

// Outcome of a selection flow.
type Outcome int

const (
	// Unchanged: the user declined or the dialog was dismissed.
	Unchanged Outcome = iota
	// Bound: a pool is now bound.
	Bound
	// Unbound: the pool was unset.
	Unbound
	// NavigatedToStorage: there were no pools and the user went to create one.
	NavigatedToStorage
	// Applied: the advanced settings were saved or the generic chart was launched.
	Applied
)

func (o Outcome) String() string {
	switch o {
	case Bound:
		return "bound"
	case Unbound:
		return "unbound"
	case NavigatedToStorage:
		return "navigated_to_storage"
	case Applied:
		return "applied"
	}
	return "unchanged"
}

// MarshalText renders the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Settings edits the advanced container runtime settings and reports whether they were saved.
type Settings interface {
	Edit(ctx context.Context) (bool, error)
}

// Launcher opens the generic install flow and reports whether a release was created.
type Launcher interface {
	Launch(ctx context.Context) (bool, error)
}

// Binder owns the pool binding state. The zero pool means no pool is bound.
type Binder struct {
	apps      *apps.Service
	runner    *jobs.Runner
	prompter  ui.Prompter
	navigator ui.Navigator
	notifier  ui.Notifier
	log       *logrus.Entry

	// Settings and Launcher back the advanced_settings and launch actions; either may be nil.
	Settings Settings
	Launcher Launcher

	mu       sync.RWMutex
	pool     string
	listener func(Menu)
}

// NewBinder creates a pool binder.
func NewBinder(a *apps.Service, runner *jobs.Runner, prompter ui.Prompter, navigator ui.Navigator, notifier ui.Notifier, log *logrus.Entry) *Binder {
	return &Binder{
		apps:      a,
		runner:    runner,
		prompter:  prompter,
		navigator: navigator,
		notifier:  notifier,
		log:       log.WithField("component", "pool"),
	}
}

// OnMenuChange registers fn to receive the rebuilt menu after every state change.
func (b *Binder) OnMenuChange(fn func(Menu)) {
	b.mu.Lock()
	b.listener = fn
	b.mu.Unlock()
}

// Pool returns the bound pool or "".
func (b *Binder) Pool() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pool
}

// Menu returns the toolbar for the current state.
func (b *Binder) Menu() Menu {
	return MenuFor(StateOf(b.Pool()))
}

func (b *Binder) setPool(pool string) {
	b.mu.Lock()
	b.pool = pool
	listener := b.listener
	b.mu.Unlock()
	if listener != nil {
		listener(MenuFor(StateOf(pool)))
	}
}

// Check loads the current binding and runs the selection flow when no pool is bound.
func (b *Binder) Check(ctx context.Context) (Outcome, error) {
	cfg, err := b.apps.KubernetesConfig(ctx)
	if err != nil {
		return Unchanged, errors.Wrap(err, "could not read kubernetes configuration")
	}
	if pool := cfg.PoolName(); pool != "" {
		b.setPool(pool)
		return Bound, nil
	}
	b.setPool("")
	return b.Select(ctx)
}

// Select lists the pools and lets the user bind one. Without pools, the user is offered to go
// create one instead.
func (b *Binder) Select(ctx context.Context) (Outcome, error) {
	pools, err := b.apps.Pools(ctx)
	if err != nil {
		return Unchanged, errors.Wrap(err, "could not list pools")
	}
	if len(pools) == 0 {
		ok, err := b.prompter.Confirm(ctx, ui.Confirmation{
			Title:   TitleNoPool,
			Message: MessageNoPool,
			Action:  ActionCreatePool,
		})
		if err != nil || !ok {
			return Unchanged, err
		}
		if err := b.navigator.Navigate(ctx, ui.RouteStorageManager...); err != nil {
			return Unchanged, err
		}
		return NavigatedToStorage, nil
	}

	names := make([]string, 0, len(pools))
	for _, p := range pools {
		names = append(names, p.Name)
	}
	choice, err := b.prompter.ChoosePool(ctx, names)
	if err != nil || !choice.OK {
		return Unchanged, err
	}
	if err := b.Bind(ctx, choice.Pool); err != nil {
		return Unchanged, err
	}
	return Bound, nil
}

// Bind submits kubernetes.update with pool and records it on success.
func (b *Binder) Bind(ctx context.Context, pool string) error {
	if pool == "" {
		return rpc.Invalid("pool name is required")
	}
	res, err := b.submit(ctx, &pool)
	if err != nil {
		return err
	}
	bound := pool
	var cfg apps.KubernetesConfig
	if json.Unmarshal(res, &cfg) == nil && cfg.PoolName() != "" {
		bound = cfg.PoolName()
	}
	b.setPool(bound)
	b.log.WithField("pool", bound).Info("pool bound")
	b.notifier.Info(TitleSuccess, MessagePoolSet+bound)
	return nil
}

// Unset submits kubernetes.update with a null pool.
func (b *Binder) Unset(ctx context.Context) error {
	if _, err := b.submit(ctx, nil); err != nil {
		return err
	}
	b.setPool("")
	b.log.Info("pool unset")
	b.notifier.Info(TitleSuccess, MessagePoolUnset)
	return nil
}

func (b *Binder) submit(ctx context.Context, pool *string) (json.RawMessage, error) {
	return b.runner.Submit(ctx, TitleJob, rpc.MethodKubernetesUpdate, apps.PoolUpdate{Pool: pool}).Await(ctx)
}

// Handle dispatches a toolbar action.
func (b *Binder) Handle(ctx context.Context, action Action) (Outcome, error) {
	switch action {
	case ActionSelectPool:
		return b.Select(ctx)
	case ActionUnsetPool:
		if err := b.Unset(ctx); err != nil {
			return Unchanged, err
		}
		return Unbound, nil
	case ActionAdvancedSettings:
		if b.Settings == nil {
			return Unchanged, errors.New("advanced settings are not available")
		}
		return applied(b.Settings.Edit(ctx))
	case ActionLaunch:
		if b.Launcher == nil {
			return Unchanged, errors.New("launch is not available")
		}
		return applied(b.Launcher.Launch(ctx))
	}
	return Unchanged, errors.Errorf("unknown toolbar action %q", action)
}

func applied(ok bool, err error) (Outcome, error) {
	if err != nil || !ok {
		return Unchanged, err
	}
	return Applied, nil
}
