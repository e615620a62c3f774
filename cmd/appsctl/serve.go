package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"apps-console/pkg/api"
	"apps-console/pkg/jobs"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCmd() *cobra.Command {
	var listenPort string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the applications console as an HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("port") {
				a.cfg.ListenPort = listenPort
			}
			if err := a.open(ctx); err != nil {
				return err
			}
			gin.SetMode(a.cfg.GinMode)

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			runner := jobs.NewRunner(a.backend.caller, nil, a.log).WithMetrics(jobs.NewMetrics(reg))
			handler := api.NewAPIHandler(a.apps, runner, a.viewOptions(), reg, a.log)
			defer handler.Close()
			handler.Start(ctx)

			srv := &http.Server{
				Addr:              ":" + a.cfg.ListenPort,
				Handler:           api.SetupRouter(handler, a.log),
				ReadHeaderTimeout: 10 * time.Second,
			}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.log.Infof("API server starting on %s in %s mode", srv.Addr, a.cfg.GinMode)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return errors.Wrap(err, "failed to run server")
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				a.log.Info("Shutting down API server")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&listenPort, "port", "", "listen port (env APPS_LISTEN_PORT)")
	return cmd
}
