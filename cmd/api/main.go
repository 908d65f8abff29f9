package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"campusvote.org/internal/cache"
	"campusvote.org/internal/config"
	"campusvote.org/internal/election"
	"campusvote.org/internal/events"
	"campusvote.org/internal/graph"
	"campusvote.org/internal/httpapi"
	"campusvote.org/internal/identity"
	"campusvote.org/internal/lock"
	"campusvote.org/internal/obs"
	"campusvote.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("CAMPUSVOTE_CONFIG"), "optional YAML config file")
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := obs.SetLevel(cfg.Log.Level); err != nil {
		log.WithError(err).Fatal("log level")
	}
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("campusvote-api stopped with error")
	}
	log.Info("stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	log := obs.Logger()

	tokens, err := identity.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	var (
		elections election.ElectionStore
		votes     election.VoteLedger
		probes    httpapi.Probes
		closers   []func() error
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	if cfg.Postgres.DSN != "" {
		store, err := pg.Open(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		closers = append(closers, store.Close)
		elections, votes = store, store
		probes = append(probes, store)
		log.Info("using postgres store")
	} else {
		mem := election.NewInMemory()
		elections, votes = mem, mem
		log.Warn("postgres.dsn is empty; using in-memory store")
	}

	opts := []election.Option{election.WithStrictWindow(cfg.Election.StrictWindow)}

	if cfg.Redis.Addr != "" {
		rc, err := cache.Dial(ctx, cache.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			ResultsTTL: cfg.Redis.ResultsTTL,
		})
		if err != nil {
			return err
		}
		closers = append(closers, rc.Close)
		probes = append(probes, rc)
		opts = append(opts, election.WithCache(rc))
	}

	kafkaCfg := events.Config{
		Brokers:         cfg.Kafka.Brokers,
		VotesTopic:      cfg.Kafka.VoteTopic,
		ReconcileTopic:  cfg.Kafka.ReconcileTopic,
		ConsumerGroupID: cfg.Kafka.GroupID,
	}
	if len(kafkaCfg.Brokers) > 0 {
		producer, err := events.NewProducer(kafkaCfg)
		if err != nil {
			return err
		}
		closers = append(closers, producer.Close)
		opts = append(opts, election.WithPublisher(producer))
	}

	var locker election.Locker = lock.NewLocal()
	if len(cfg.Etcd.Endpoints) > 0 {
		el, err := lock.NewEtcd(lock.EtcdConfig{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			TTL:         cfg.Etcd.LockTTL,
		})
		if err != nil {
			return err
		}
		closers = append(closers, el.Close)
		locker = el
	}
	opts = append(opts, election.WithReconcilerOptions(
		election.WithLocker(locker),
		election.WithInterval(cfg.Reconcile.Interval),
		election.WithWorkers(cfg.Reconcile.Workers),
	))

	svc := election.NewService(elections, votes, opts...)

	trusted, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return err
	}
	api := httpapi.New(svc, tokens, httpapi.Options{
		Ready:        probes,
		Version:      version,
		GraphQL:      graph.NewHandler(svc),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		CORSOrigin:   cfg.HTTP.CORSOrigin,
		RatePerSec:   cfg.RateLimit.RPS,
		RateBurst:    cfg.RateLimit.Burst,

		TrustedProxies: trusted,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcSrv := httpapi.NewGRPCServer(svc, tokens, probes)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": version}).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		log.WithField("addr", cfg.GRPC.Addr).Info("grpc listening")
		return grpcSrv.Server.Serve(lis)
	})

	g.Go(func() error {
		grpcSrv.WatchReadiness(gctx)
		return nil
	})

	if recon := svc.Reconciler(); recon != nil {
		g.Go(func() error { return recon.Run(gctx) })
	}

	if len(kafkaCfg.Brokers) > 0 {
		consumer, err := events.NewConsumer(kafkaCfg, svc.HandleReconcileRequest)
		if err != nil {
			return err
		}
		closers = append(closers, consumer.Close)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcSrv.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
