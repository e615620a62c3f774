package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"apps-console/pkg/apps"
	"apps-console/pkg/config"
	"apps-console/pkg/helm"
	"apps-console/pkg/middleware"
	"apps-console/pkg/rpc"
	"apps-console/pkg/shell"
)

// backend is an open connection to whatever serves the application methods.
type backend struct {
	caller   rpc.Caller
	attacher shell.Attacher
	close    func() error
}

type connectFunc func(ctx context.Context, cfg *config.AppConfig, log *logrus.Entry, stdio shell.Stdio) (*backend, error)

// dialBackend connects to the management daemon, or drives the cluster directly in local mode.
func dialBackend(ctx context.Context, cfg *config.AppConfig, log *logrus.Entry, stdio shell.Stdio) (*backend, error) {
	if cfg.Backend == config.BackendLocal {
		c, err := helm.NewClient(ctx, cfg, log.WithField("component", "helm"))
		if err != nil {
			return nil, err
		}
		return &backend{
			caller: c,
			attacher: &shell.KubeAttacher{
				Config:    c.RESTConfig(),
				Client:    c.KubeClient(),
				Namespace: c.Namespace(),
				Stdio:     stdio,
			},
			close: func() error { return nil },
		}, nil
	}

	c, err := middleware.Dial(ctx, middleware.Options{
		URL:         cfg.WebsocketURL("/websocket"),
		APIKey:      cfg.APIKey,
		Username:    cfg.Username,
		Password:    cfg.Password,
		CallTimeout: cfg.CallTimeout,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	return &backend{
		caller: c,
		attacher: &shell.WebsocketAttacher{
			URL:   cfg.WebsocketURL("/websocket/shell"),
			Token: apps.NewService(c).GenerateToken,
			Stdio: stdio,
			Log:   log,
		},
		close: c.Close,
	}, nil
}
