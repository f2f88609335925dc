package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nainya/entityversion/internal/server"
)

// serveMetricsCmd handles the serve-metrics command.
func serveMetricsCmd(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("serve-metrics", stderr)
	addr := fs.String("addr", "", "Listen address (default from config)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	return withApp(common, stderr, func(ctx context.Context, a *app) error {
		listen := a.cfg.MetricsAddr
		if *addr != "" {
			listen = *addr
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		obs := server.NewObservabilityServer(listen, a.registry, a.ready, a.log)
		a.log.LogServerStart(listen, a.cfg.Storage.Driver)

		errc := make(chan error, 1)
		go func() { errc <- obs.Start() }()

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return obs.Shutdown(shutdownCtx)
	})
}
