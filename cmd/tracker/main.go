package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"curve-tracker/internal/curve"
	"curve-tracker/internal/events"
	"curve-tracker/internal/ingestion"
	"curve-tracker/internal/observability"
	"curve-tracker/internal/pipeline"
	"curve-tracker/internal/price"
	"curve-tracker/internal/solana"
	"curve-tracker/internal/storage"
	chstore "curve-tracker/internal/storage/clickhouse"
	"curve-tracker/internal/storage/memory"
	"curve-tracker/internal/storage/migrations"
	"curve-tracker/internal/storage/postgres"
)

const envPrefix = "CURVE"

type config struct {
	SaveThresholdUSD float64       `conf:"default:8888"`
	SaveAllTokens    bool          `conf:"default:false"`
	MaxRetries       int           `conf:"default:3"`
	MinBatchSize     int           `conf:"default:10"`
	MaxBatchSize     int           `conf:"default:500"`
	BatchTimeoutMS   int           `conf:"default:1000"`
	MaxQueueSize     int           `conf:"default:10000"`
	ProgressWindow   string        `conf:"default:30-85"`
	StrictGraduation bool          `conf:"default:true"`
	ShutdownTimeout  time.Duration `conf:"default:30s"`

	Stream struct {
		WSEndpoint       string   `conf:"default:wss://api.mainnet-beta.solana.com"`
		RPCEndpoint      string   `conf:"default:https://api.mainnet-beta.solana.com"`
		Commitment       string   `conf:"default:confirmed"`
		Programs         []string `conf:"default:6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"`
		ResolveBlockTime bool     `conf:"default:true"`
	}
	Price struct {
		URL             string        `conf:"default:https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd"`
		RefreshInterval time.Duration `conf:"default:5s"`
		InitialUSD      float64       `conf:"optional"`
	}
	Storage struct {
		Backend          string `conf:"default:memory"`
		PostgresDSN      string `conf:"optional,noprint"`
		PostgresMaxConns int32  `conf:"default:4"`
		ClickhouseDSN    string `conf:"optional,noprint"`
	}
	Broker struct {
		BootstrapServers []string `conf:"optional"`
		ProduceTopic     string   `conf:"default:curve-tracker-events"`
	}
	Server struct {
		MetricsHost      string `conf:"default:0.0.0.0:9999"`
		MetricsNamespace string `conf:"default:curve_tracker"`
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	var cfg config
	if err := conf.Parse(os.Args[1:], envPrefix, &cfg); err != nil {
		switch {
		case errors.Is(err, conf.ErrHelpWanted):
			usage, err := conf.Usage(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case errors.Is(err, conf.ErrVersionWanted):
			version, err := conf.VersionString(envPrefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	logger, err := newLogger()
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	defer logger.Sync()

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	logger.Infof("main: Config :\n%v\n", out)

	pcfg, err := pipelineConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.Server.MetricsNamespace, reg)

	bus := events.NewBus(logger.Named("events"))
	metrics.Subscribe(bus)

	if len(cfg.Broker.BootstrapServers) > 0 {
		kcl, err := newKafkaClient(cfg, reg)
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kcl.Flush(flushCtx); err != nil {
				logger.Warnw("main: flushing kafka producer", "error", err)
			}
			kcl.Close()
		}()
		publisher := events.NewKafkaPublisher(kcl, cfg.Broker.ProduceTopic, logger.Named("kafka"),
			func(error) { metrics.PublishErrors.Inc() })
		bus.Subscribe(publisher.Handler())
		logger.Infow("main: publishing events to kafka", "topic", cfg.Broker.ProduceTopic)
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	oracle := price.NewOracle(price.Config{
		RefreshInterval: cfg.Price.RefreshInterval,
		InitialPriceUSD: cfg.Price.InitialUSD,
	}, price.NewHTTPSource(cfg.Price.URL), logger.Named("price"))

	pl, err := pipeline.New(pcfg, pipeline.Options{
		Store:     store,
		Oracle:    oracle,
		Publisher: bus,
		Metrics:   metrics,
		Logger:    logger.Named("pipeline"),
	})
	if err != nil {
		return errors.Wrap(err, "creating pipeline")
	}

	wsCfg := solana.DefaultWSConfig()
	wsCfg.Commitment = cfg.Stream.Commitment
	ws, err := solana.NewLogsClient(ctx, cfg.Stream.WSEndpoint, wsCfg, logger.Named("ws"))
	if err != nil {
		return errors.Wrap(err, "connecting log stream")
	}
	defer ws.Close()

	var blockTimes solana.BlockTimeSource
	if cfg.Stream.ResolveBlockTime {
		blockTimes = solana.NewHTTPClient(cfg.Stream.RPCEndpoint)
	}
	scfg := ingestion.DefaultConfig()
	scfg.Programs = cfg.Stream.Programs
	source := ingestion.NewStreamSource(scfg, ws, blockTimes, logger.Named("stream"))

	metrics.GaugeFunc("stream", "reconnects", "Websocket reconnects since start.", func() float64 {
		return float64(ws.Reconnects())
	})
	metrics.GaugeFunc("stream", "handler_errors", "Stream messages rejected by the pipeline.", func() float64 {
		return float64(source.Stats().HandlerErrors)
	})

	health := func() error {
		if oracle.UpdatedAt().IsZero() && oracle.GetCurrentSolPriceUSD() == 0 {
			return errors.New("sol price not available yet")
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return source.Run(gctx, pl.ProcessMessage) })
	g.Go(func() error { return oracle.Run(gctx) })
	g.Go(func() error { return pl.Run(gctx) })
	g.Go(func() error {
		return observability.Serve(gctx, cfg.Server.MetricsHost,
			observability.NewHandler(reg, health), logger.Named("http"))
	})

	logger.Info("main: Service started.")
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if runErr != nil {
		logger.Errorw("main: component failed, shutting down", "error", runErr)
	} else {
		logger.Info("main: Received shutdown signal, shutting down...")
	}

	if err := pl.FlushAndClose(context.Background()); err != nil {
		logger.Errorw("main: draining pipeline", "error", err)
	}
	stats := pl.Stats()
	logger.Infow("main: final statistics",
		"messages", stats.Messages,
		"events", stats.EventsDecoded,
		"graduations", stats.Graduations,
		"persisted", stats.Engine.Persisted,
		"dropped", stats.Engine.Dropped,
		"unflushed", stats.Engine.Unflushed)
	if s, err := store.GetStats(context.Background()); err == nil {
		logger.Infow("main: store rows", "tokens", s.Tokens, "trades", s.Trades)
	}
	return runErr
}

func newLogger() (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)
	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func pipelineConfig(cfg config) (pipeline.Config, error) {
	window, err := curve.ParseProgressWindow(cfg.ProgressWindow)
	if err != nil {
		return pipeline.Config{}, errors.Wrap(err, "parsing progress window")
	}

	pcfg := pipeline.DefaultConfig()
	pcfg.Window = window
	pcfg.StrictGraduation = cfg.StrictGraduation

	pcfg.Discovery.ThresholdUSD = cfg.SaveThresholdUSD
	pcfg.Discovery.SaveAll = cfg.SaveAllTokens
	pcfg.Discovery.MaxRetries = cfg.MaxRetries

	pcfg.Batch.MinBatchSize = cfg.MinBatchSize
	pcfg.Batch.MaxBatchSize = cfg.MaxBatchSize
	pcfg.Batch.InitialTimeout = time.Duration(cfg.BatchTimeoutMS) * time.Millisecond
	pcfg.Batch.MaxQueueSize = cfg.MaxQueueSize
	pcfg.Batch.MaxRetries = cfg.MaxRetries
	pcfg.Batch.ShutdownTimeout = cfg.ShutdownTimeout
	return pcfg, nil
}

func newKafkaClient(cfg config, reg *prometheus.Registry) (*kgo.Client, error) {
	m := kprom.NewMetrics(cfg.Server.MetricsNamespace,
		kprom.Registerer(reg),
		kprom.Gatherer(reg))
	kcl, err := kgo.NewClient(
		kgo.WithHooks(m),
		kgo.SeedBrokers(cfg.Broker.BootstrapServers...),
		kgo.DefaultProduceTopic(cfg.Broker.ProduceTopic),
		kgo.ProducerBatchCompression(kgo.ZstdCompression()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating kafka client")
	}
	return kcl, nil
}

// openStore opens the configured backend and applies its migrations.
func openStore(ctx context.Context, cfg config) (storage.TokenStore, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.NewTokenStore(), func() {}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN,
			postgres.WithMaxConns(cfg.Storage.PostgresMaxConns))
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening postgres")
		}
		if err := migrations.RunPostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "migrating postgres")
		}
		return postgres.NewTokenStore(pool), pool.Close, nil
	case "clickhouse":
		conn, err := migrations.RunClickhouse(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "opening clickhouse")
		}
		return chstore.NewTokenStore(conn), func() { _ = conn.Close() }, nil
	default:
		return nil, nil, errors.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
