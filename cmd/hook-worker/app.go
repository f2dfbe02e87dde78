package main

import (
	"context"
	"time"

	"github.com/BearBump/TrackHooks/config"
	"github.com/BearBump/TrackHooks/internal/broker/kafka"
	"github.com/BearBump/TrackHooks/internal/cache/rediscache"
	"github.com/BearBump/TrackHooks/internal/cache/trackcache"
	"github.com/BearBump/TrackHooks/internal/integrations/carrier"
	"github.com/BearBump/TrackHooks/internal/integrations/carrier/emulatorhttp"
	"github.com/BearBump/TrackHooks/internal/integrations/carrier/fake"
	"github.com/BearBump/TrackHooks/internal/queue/hookqueue"
	"github.com/BearBump/TrackHooks/internal/services/cleanup"
	"github.com/BearBump/TrackHooks/internal/services/delivery"
	"github.com/BearBump/TrackHooks/internal/services/monitor"
	"github.com/BearBump/TrackHooks/internal/services/webhooks"
	"github.com/BearBump/TrackHooks/internal/storage/pgwebhook"
)

type appFactories struct {
	newStorage     func(cfg *config.Config) (storage, func(), error)
	newRateLimiter func(cfg *config.Config) monitor.RateLimiter
	newProducer    func(cfg *config.Config) monitor.Producer
	newRegistry    func(cfg *config.Config) *carrier.Registry
}

// storage — всё, что воркеры и фасад хотят от хранилища.
type storage interface {
	monitor.Repository
	delivery.Repository
	cleanup.Repository
	webhooks.Repository
}

func defaultAppFactories() appFactories {
	return appFactories{
		newStorage: func(cfg *config.Config) (storage, func(), error) {
			st, err := pgwebhook.New(cfg.Database.URL)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRateLimiter: func(cfg *config.Config) monitor.RateLimiter {
			if cfg.Hooks.CarrierRateLimitPerMinute <= 0 {
				return nil
			}
			return rediscache.NewRateLimiter(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
		},
		newProducer: func(cfg *config.Config) monitor.Producer {
			if !cfg.Kafka.Enabled() {
				return nil
			}
			return kafka.NewProducer([]string{cfg.Kafka.Addr()})
		},
		newRegistry: func(cfg *config.Config) *carrier.Registry {
			reg := carrier.NewRegistry()
			for _, cc := range cfg.Carriers {
				switch cc.Kind {
				case "emulator":
					reg.Register(cc.ID, emulatorhttp.New(cc.BaseURL, cc.APIKey, cc.ID))
				default:
					reg.Register(cc.ID, fake.New(cc.ID))
				}
			}
			return reg
		},
	}
}

func runHookWorker(ctx context.Context, cfg *config.Config, f appFactories) error {
	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	cache := trackcache.New(cfg.Hooks.CacheTTL(), cfg.Hooks.CacheMaxSize)
	registry := f.newRegistry(cfg)

	redisOpt := hookqueue.RedisOpt(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	q := hookqueue.New(redisOpt)
	defer func() { _ = q.Close() }()

	monitorWorker := monitor.New(st, cache, registry, q).
		WithRateLimiter(f.newRateLimiter(cfg), int64(cfg.Hooks.CarrierRateLimitPerMinute)).
		WithProducer(f.newProducer(cfg), cfg.Kafka.WebhookChangedTopicName)

	deliveryTimeout := time.Duration(cfg.Hooks.DeliveryTimeoutSeconds) * time.Second
	deliveryWorker := delivery.New(st, delivery.NewSender(deliveryTimeout))

	cleanupWorker := cleanup.New(st, cache)

	svc := webhooks.New(st, q, registry, cache, cfg.Hooks.Production())

	srv := hookqueue.NewServer(redisOpt, hookqueue.ServerConfig{
		MonitorConcurrency:  cfg.Hooks.MonitorConcurrency,
		DeliveryConcurrency: cfg.Hooks.DeliveryConcurrency,
		MonitorInterval:     cfg.Hooks.MonitorInterval(),
	}, hookqueue.Handlers{
		Monitor:         monitorWorker.Process,
		MonitorDispatch: monitorWorker.Dispatch,
		Delivery:        deliveryWorker.Process,
		Cleanup:         cleanupWorker.Process,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Shutdown()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, httpServerOpts{
			addr:           cfg.Hooks.HTTPAddr,
			svc:            svc,
			monitorWorker:  monitorWorker,
			deliveryWorker: deliveryWorker,
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}
