package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/TrackHooks/internal/api/webhooks_api"
	"github.com/BearBump/TrackHooks/internal/services/delivery"
	"github.com/BearBump/TrackHooks/internal/services/monitor"
	"github.com/BearBump/TrackHooks/internal/services/webhooks"
	"github.com/go-chi/chi/v5"
)

type httpServerOpts struct {
	addr     string
	onListen func(addr string)

	svc            *webhooks.Service
	monitorWorker  *monitor.Worker
	deliveryWorker *delivery.Worker
}

func runHTTPServer(ctx context.Context, opts httpServerOpts) error {
	if opts.addr == "" {
		opts.addr = ":8083"
	}

	lis, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Get("/stats/workers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"monitor":  opts.monitorWorker.Stats(),
			"delivery": opts.deliveryWorker.Stats(),
		})
	})

	webhooks_api.New(opts.svc).Routes(r)

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
