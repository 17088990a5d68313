package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gobridgetracker/EVMRPC"
	"gobridgetracker/bridge"
	"gobridgetracker/config"
	"gobridgetracker/events"
	"gobridgetracker/fees"
	"gobridgetracker/identity"
	"gobridgetracker/logger"
	"gobridgetracker/metrics"
	"gobridgetracker/monitor"
	"gobridgetracker/recovery"
	"gobridgetracker/redis"
	"gobridgetracker/registry"
	"gobridgetracker/store"
	"gobridgetracker/workers"
	"gobridgetracker/workers/handlers"

	"github.com/andres-erbsen/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	config.Init()
	cfg := &config.Config

	f, err := logger.OpenDaily(cfg.Server.LogDir, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	log := logger.New(io.MultiWriter(os.Stdout, f), cfg.Server.LogLevel, cfg.Server.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("bridge tracker stopped with error")
		f.Close()
		os.Exit(1)
	}
	log.Info().Msg("bridge tracker stopped")
}

func run(cfg *config.Configuration, log zerolog.Logger) error {
	log.Info().Int("chains", len(cfg.Chains)).Msg("Starting bridge tracker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := registry.New(cfg.Chains)
	if err != nil {
		return fmt.Errorf("chain registry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(promRegistry)
	clk := clock.New()

	static, err := fees.ParseStaticRates(cfg.Fees.NetworkRates, cfg.Fees.DefaultRate)
	if err != nil {
		return fmt.Errorf("network rates: %w", err)
	}
	rpc := EVMRPC.NewClient(cfg.Chains, log)
	var rates fees.RateSource = static
	if cfg.Fees.LiveGas {
		rates = EVMRPC.NewGasRates(static, cfg.Fees.ReferenceGasPrice, rpc.SuggestGasPrice)
		log.Info().Msg("fee quotes follow live gas prices")
	}
	estimator := fees.NewEstimator(reg, rates, fees.NewCache(cfg.Fees.CacheTTL), fees.Options{
		BridgeFeeRate: decimal.RequireFromString(cfg.Fees.BridgeFeeRate),
		SlowDuration:  cfg.Fees.SlowDuration,
		FastDuration:  cfg.Fees.FastDuration,
		QuoteTimeout:  cfg.Fees.QuoteTimeout,
	}, m, log)

	// redis keeps transfers across restarts, memory is used when it is down
	var persistence store.Persistence = store.NewMemory()
	var health func(ctx context.Context) error
	rc := redis.New(fmt.Sprintf("%s:%d", cfg.Server.RedisHost, cfg.Server.RedisPort), redis.DEFAULT_PREFIX, log)
	defer rc.Close()
	if err := rc.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, transfers are kept in memory only")
	} else {
		persistence = rc
		health = rc.Ping
	}

	bus := events.NewBus(m, log)
	st := store.New(store.Deps{
		Routes:      reg,
		Fees:        estimator,
		Persistence: persistence,
		Events:      bus,
		Clock:       clk,
		Metrics:     m,
		Logger:      log,
	}, store.Options{
		HistoryLimit: cfg.Store.HistoryLimit,
		WriteRetries: cfg.Store.WriteRetries,
		RetryDelay:   cfg.Store.RetryDelay,
	})
	if err := st.Load(ctx); err != nil {
		return fmt.Errorf("loading active transfers: %w", err)
	}

	var confirmations monitor.ConfirmationSource = monitor.ETAConfirmations{}
	if cfg.Monitor.HeadConfirmations {
		confirmations = EVMRPC.NewHeadConfirmations(rpc.HeadTime)
	}
	var faults monitor.FaultSource = monitor.NoFaults{}
	if !cfg.Monitor.DisableFaults {
		seed := cfg.Monitor.FaultSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		faults = monitor.NewRandomFaults(cfg.Monitor.FaultProbability, seed)
	}
	mon := monitor.New(st, confirmations, faults, clk, monitor.Options{
		PollInterval: cfg.Monitor.PollInterval,
		ConfirmAfter: cfg.Monitor.ConfirmAfter,
	}, m, log)

	svc := bridge.NewService(bridge.Components{
		Registry:  reg,
		Estimator: estimator,
		Store:     st,
		Monitor:   mon,
		Bus:       bus,
		Identity:  identity.Request{Fallback: identity.Static(cfg.Owner.Address)},
		Clock:     clk,
		Metrics:   m,
		Logger:    log,
	})
	worker := recovery.NewWorker(svc.Analyzer(), st, clk, cfg.Recovery.Interval, cfg.Recovery.AutoCheckStuck, m, log)

	var sink *events.Sink
	var publisher events.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = events.NewJetStreamPublisher(cfg.NATS.URL, log)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer publisher.Close()
		sink = events.NewSink(bus, publisher, handlers.DEFAULT_STREAM_BUFFER, m, log)
	}

	// the sink outlives the loops so their last events are forwarded
	sinkDone := make(chan error, 1)
	if sink != nil {
		go func() { sinkDone <- sink.Run(context.WithoutCancel(ctx)) }()
	} else {
		close(sinkDone)
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := mon.Start(gctx); err != nil {
		return err
	}
	worker.Start(gctx)

	api := handlers.New(svc, health, log)
	router := workers.NewRouter(api, m, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}), log)
	g.Go(func() error {
		return workers.Worker_HTTP(gctx, workers.ServerOptions{
			Addr:   cfg.Server.Addr,
			UseSSL: cfg.Server.UseSSL,
		}, router, log)
	})

	err = g.Wait()

	// HTTP is down here, stop the loops and write what is still pending
	mon.Stop()
	worker.Stop()
	if sink != nil {
		sink.Stop()
	}
	if serr := <-sinkDone; serr != nil {
		log.Error().Err(serr).Msg("event sink")
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), workers.SHUTDOWN_TIMEOUT)
	defer cancel()
	if ferr := st.Flush(flushCtx); ferr != nil {
		log.Error().Err(ferr).Msg("some transfers were not persisted before exit")
	}
	return err
}
