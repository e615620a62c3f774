package main

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"apps-console/pkg/appcatalog"
	"apps-console/pkg/apps"
	"apps-console/pkg/config"
	"apps-console/pkg/jobs"
	applog "apps-console/pkg/log"
	"apps-console/pkg/pool"
	"apps-console/pkg/releases"
	"apps-console/pkg/shell"
	"apps-console/pkg/ui"
	uiterm "apps-console/pkg/ui/term"
)

type globalFlags struct {
	backend  string
	host     string
	apiKey   string
	logLevel string
	output   string
	yes      bool
}

// app holds what the commands share: configuration, the backend connection and the terminal.
type app struct {
	connect connectFunc
	in      io.Reader
	out     io.Writer
	errOut  io.Writer

	flags   globalFlags
	cfg     *config.AppConfig
	log     *logrus.Entry
	backend *backend
	apps    *apps.Service
}

func newApp(connect connectFunc) *app {
	return &app{connect: connect, in: os.Stdin, out: os.Stdout, errOut: os.Stderr}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "appsctl",
		Short: "Manage the applications of a storage appliance",
		Long: `appsctl browses the application catalog, installs charts and manages the
installed releases, either through the appliance's management daemon or
directly against a Kubernetes cluster with the local backend.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}
	cmd.SetIn(a.in)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)

	f := cmd.PersistentFlags()
	f.StringVar(&a.flags.backend, "backend", "", "backend to use: middleware or local (env APPS_BACKEND)")
	f.StringVar(&a.flags.host, "host", "", "appliance host for the middleware backend (env APPS_HOST)")
	f.StringVar(&a.flags.apiKey, "api-key", "", "API key for the middleware backend (env APPS_API_KEY)")
	f.StringVar(&a.flags.logLevel, "log-level", "", "log level (env APPS_LOG_LEVEL)")
	f.StringVarP(&a.flags.output, "output", "o", "table", "output format: table, json or yaml")
	f.BoolVar(&a.flags.yes, "yes", false, "answer yes to every confirmation")

	cmd.AddCommand(
		a.catalogCmd(),
		a.launchCmd(),
		a.releasesCmd(),
		a.poolCmd(),
		a.watchCmd(),
		a.serveCmd(),
		newVersionCmd(),
	)
	return cmd
}

// setup loads the configuration, applies flag overrides and creates the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("backend") {
		cfg.Backend = a.flags.backend
	}
	if f.Changed("host") {
		cfg.Host = a.flags.host
	}
	if f.Changed("api-key") {
		cfg.APIKey = a.flags.apiKey
	}
	if f.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch a.flags.output {
	case outputTable, outputJSON, outputYAML:
	default:
		return errors.Errorf("unknown output format %q", a.flags.output)
	}
	log, err := applog.New(cfg.LogLevel, a.errOut)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// open connects to the backend once.
func (a *app) open(ctx context.Context) error {
	if a.backend != nil {
		return nil
	}
	b, err := a.connect(ctx, a.cfg, a.log, shell.Stdio{In: a.in, Out: a.out, ErrOut: a.errOut})
	if err != nil {
		return err
	}
	a.backend = b
	a.apps = apps.NewService(b.caller)
	return nil
}

func (a *app) close() error {
	if a.backend == nil || a.backend.close == nil {
		return nil
	}
	err := a.backend.close()
	a.backend = nil
	return err
}

// interactive reports whether dialogs can be shown on the terminal.
func (a *app) interactive() bool {
	if a.flags.yes {
		return false
	}
	f, ok := a.in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// prompter returns the terminal prompter, or the preset answers when the session is not
// interactive or the caller got explicit answers from flags.
func (a *app) prompter(preset *uiterm.NonInteractive) ui.Prompter {
	explicit := preset != nil
	if !explicit {
		preset = &uiterm.NonInteractive{}
	}
	preset.Yes = preset.Yes || a.flags.yes
	if preset.Out == nil {
		preset.Out = a.errOut
	}
	if explicit || !a.interactive() {
		return preset
	}
	return &uiterm.Prompter{In: a.in, Out: a.errOut}
}

func (a *app) runner() *jobs.Runner {
	var progress ui.Progress = &uiterm.Progress{Out: a.errOut}
	if a.flags.output != outputTable {
		progress = ui.NoProgress{}
	}
	return jobs.NewRunner(a.backend.caller, progress, a.log)
}

func (a *app) navigator() ui.Navigator {
	return &uiterm.Navigator{Out: a.errOut, WebURL: a.cfg.WebURL, Log: a.log}
}

func (a *app) notifier() ui.Notifier {
	return &uiterm.Notifier{Out: a.errOut}
}

func (a *app) catalog() *appcatalog.Service {
	return appcatalog.NewService(a.apps, a.log)
}

func (a *app) binder(p ui.Prompter) *pool.Binder {
	return pool.NewBinder(a.apps, a.runner(), p, a.navigator(), a.notifier(), a.log)
}

func (a *app) viewOptions() releases.Options {
	return releases.Options{
		Debounce:        a.cfg.RefreshDebounce,
		PollInterval:    a.cfg.StatusPollInterval,
		PollMaxAttempts: a.cfg.StatusPollMaxAttempts,
	}
}

func (a *app) view(p ui.Prompter) *releases.View {
	return releases.NewView(releases.Deps{
		Apps:      a.apps,
		Catalog:   a.catalog(),
		Runner:    a.runner(),
		Prompter:  p,
		Navigator: a.navigator(),
		Notifier:  a.notifier(),
	}, a.viewOptions(), a.log)
}

// ensurePool runs the pool check, entering pool selection when none is bound. Without a terminal
// the check is skipped and the release view reports the missing pool itself.
func (a *app) ensurePool(ctx context.Context) error {
	if !a.interactive() {
		return nil
	}
	_, err := a.binder(a.prompter(nil)).Check(ctx)
	return err
}
