package config

import (
	"path/filepath"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"k8s.io/client-go/util/homedir"
)

// Backends the console can drive.
const (
	BackendMiddleware = "middleware"
	BackendLocal      = "local"
)

// AppConfig holds the application configuration.
type AppConfig struct {
	Backend  string `env:"BACKEND" envDefault:"middleware"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Secure   bool   `env:"SECURE" envDefault:"false"`
	APIKey   string `env:"API_KEY"`
	Username string `env:"USERNAME" envDefault:"root"`
	Password string `env:"PASSWORD"`

	ListenPort string `env:"LISTEN_PORT" envDefault:"8080"`
	GinMode    string `env:"GIN_MODE" envDefault:"release"` // "debug" for development
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	RefreshDebounce       time.Duration `env:"REFRESH_DEBOUNCE" envDefault:"1s"`
	StatusPollInterval    time.Duration `env:"STATUS_POLL_INTERVAL" envDefault:"3s"`
	StatusPollMaxAttempts int           `env:"STATUS_POLL_MAX_ATTEMPTS" envDefault:"100"`
	CallTimeout           time.Duration `env:"CALL_TIMEOUT" envDefault:"0s"` // 0 waits forever

	// Local backend.
	KubeconfigPath      string        `env:"KUBECONFIG"`
	AppInstallNamespace string        `env:"APP_INSTALL_NAMESPACE" envDefault:"app-store-apps"`
	HelmDriver          string        `env:"HELM_DRIVER" envDefault:"secret"` // "secret", "configmap", or "memory"
	HelmTimeout         time.Duration `env:"HELM_TIMEOUT" envDefault:"300s"`
	ChartConfigPath     string        `env:"CHART_CONFIG_PATH" envDefault:"charts.yaml"` // YAML file listing chart repositories
	StatePath           string        `env:"STATE_PATH"`
	EventPollInterval   time.Duration `env:"EVENT_POLL_INTERVAL" envDefault:"5s"`
	PortalHost          string        `env:"PORTAL_HOST"` // host used in NodePort portal links, defaults to the API server host
}

// LoadConfig loads configuration from APPS_-prefixed environment variables or defaults.
func LoadConfig() (*AppConfig, error) {
	var cfg AppConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "APPS_"}); err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration")
	}
	if cfg.KubeconfigPath == "" {
		if home := homedir.HomeDir(); home != "" {
			cfg.KubeconfigPath = filepath.Join(home, ".kube", "config")
		}
	}
	if cfg.StatePath == "" {
		if home := homedir.HomeDir(); home != "" {
			cfg.StatePath = filepath.Join(home, ".config", "appsctl", "state.yaml")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the console cannot run with.
func (c *AppConfig) Validate() error {
	switch c.Backend {
	case BackendMiddleware, BackendLocal:
	default:
		return errors.Errorf("unknown backend %q, expected %q or %q", c.Backend, BackendMiddleware, BackendLocal)
	}
	if c.RefreshDebounce < 0 || c.StatusPollInterval <= 0 {
		return errors.New("refresh debounce must be >= 0 and status poll interval > 0")
	}
	if c.StatusPollMaxAttempts <= 0 {
		return errors.Errorf("status poll max attempts must be positive, got %d", c.StatusPollMaxAttempts)
	}
	if c.Backend == BackendMiddleware && c.Host == "" {
		return errors.New("host is required for the middleware backend")
	}
	return nil
}

// WebsocketURL returns the daemon's RPC endpoint.
func (c *AppConfig) WebsocketURL(path string) string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	return scheme + "://" + c.Host + path
}

// WebURL returns the appliance's web UI address for a route.
func (c *AppConfig) WebURL(route string) string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return scheme + "://" + c.Host + "/ui/" + route
}
