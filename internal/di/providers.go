package di

import (
	"context"
	"fmt"
	"time"

	"TradeAlchemist/internal/domain/repository"
	"TradeAlchemist/internal/handler/api"
	"TradeAlchemist/internal/handler/stream"
	internalrepo "TradeAlchemist/internal/repository"
	"TradeAlchemist/internal/service/ratelimit"
	"TradeAlchemist/internal/services/simulation"
	"TradeAlchemist/internal/usecase"
	pkgcache "TradeAlchemist/pkg/cache"
	pkgch "TradeAlchemist/pkg/clickhouse"
	"TradeAlchemist/pkg/config"
	xhttp "TradeAlchemist/pkg/http"
	pkgkafka "TradeAlchemist/pkg/kafka"
	"TradeAlchemist/pkg/logger"
	"TradeAlchemist/pkg/metrics"
	"TradeAlchemist/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const initTimeout = 15 * time.Second

// Stores bundles the backend ports chosen by backend.type.
type Stores struct {
	Prices  repository.LivePriceStore
	History repository.HistoryLog
	Vols    repository.VolatilityProvider
	Regimes repository.RegimeStore
	// Lock is nil unless tick_lock is enabled.
	Lock repository.TickLock
}

// TriggerConsumer pairs the Kafka consumer with its tick trigger handler. Both are nil
// when no trigger topic is configured.
type TriggerConsumer struct {
	Consumer *pkgkafka.Consumer
	Handler  *usecase.TickTriggerHandler
}

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the process registry with Go runtime collectors.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(cfg *config.Config, reg *prometheus.Registry) repository.Metrics {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}
	}
	return metrics.NewWithRegistry(reg)
}

// ProvideStores opens the configured backend and seeds configured instruments that
// have no history yet.
func ProvideStores(cfg *config.Config, log *logger.Logger) (*Stores, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	switch cfg.Backend.Type {
	case "sqlite":
		return provideSQLiteStores(ctx, cfg, log)
	case "cluster":
		return provideClusterStores(ctx, cfg, log)
	default:
		mem, err := internalrepo.NewSeededMemoryStore(cfg.Instruments, time.Now().UTC())
		if err != nil {
			return nil, nil, fmt.Errorf("memory store: %w", err)
		}
		log.Info("memory backend ready", logger.Int("instruments", len(cfg.Instruments)))
		return &Stores{Prices: mem, History: mem, Vols: mem, Regimes: mem}, func() {}, nil
	}
}

func provideSQLiteStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stores, func(), error) {
	db, err := internalrepo.NewSQLiteStore(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Warn("sqlite close error", logger.Error(err))
		}
	}

	n, err := db.SeedInstruments(ctx, cfg.Instruments, time.Now().UTC())
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("seed sqlite: %w", err)
	}
	log.Info("sqlite backend ready", logger.String("path", cfg.SQLite.Path), logger.Int("seeded", n))

	stores := &Stores{Prices: db, History: db, Vols: db, Regimes: db}
	if cfg.VolatilityCache.Enabled {
		mc := pkgcache.NewMemoryCache(pkgcache.WithMemoryMaxSize(cfg.VolatilityCache.MemoryMaxSize))
		stores.Vols = internalrepo.NewCachedVolatilityProvider(db, mc, cfg.VolatilityCache.TTL, log)
		inner := cleanup
		cleanup = func() {
			_ = mc.Close()
			inner()
		}
	}
	return stores, cleanup, nil
}

func provideClusterStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stores, func(), error) {
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Redis.Host),
		pkgcache.WithRedisPort(cfg.Redis.Port),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}

	ch, err := ProvideClickHouseClient(ctx, cfg)
	if err != nil {
		_ = rc.Close()
		return nil, nil, err
	}

	layered := pkgcache.NewLayeredCache(rc,
		pkgcache.WithLayeredMemorySize(cfg.VolatilityCache.MemoryMaxSize),
		pkgcache.WithLayeredMemoryTTL(cfg.VolatilityCache.TTL),
	)
	cleanup := func() {
		if err := ch.Close(); err != nil {
			log.Warn("clickhouse close error", logger.Error(err))
		}
		st := layered.Stats()
		log.Info("layered cache stats",
			logger.Int64("near_hits", st.NearHits),
			logger.Int64("far_hits", st.FarHits),
			logger.Int64("misses", st.Misses),
		)
		if err := layered.Close(); err != nil {
			log.Warn("redis close error", logger.Error(err))
		}
	}

	history := internalrepo.NewCHHistoryLog(ch, qualify(cfg, cfg.ClickHouse.HistoryTable), log)
	chVols := internalrepo.NewCHVolatilityProvider(ch, qualify(cfg, cfg.ClickHouse.VolatilityTable))
	if _, err := history.SeedInstruments(ctx, chVols, cfg.Instruments, time.Now().UTC()); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("seed clickhouse: %w", err)
	}

	live := internalrepo.NewRedisStore(rc.Client(), cfg.Redis.Prefix)
	stores := &Stores{Prices: live, History: history, Vols: chVols, Regimes: live}
	if cfg.VolatilityCache.Enabled {
		stores.Vols = internalrepo.NewCachedVolatilityProvider(chVols, layered, cfg.VolatilityCache.TTL, log)
	}
	if cfg.TickLock.Enabled {
		stores.Lock = internalrepo.NewCacheTickLock(rc, cfg.TickLock.Key, cfg.TickLock.TTL)
	}

	log.Info("cluster backend ready",
		logger.String("redis", fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)),
		logger.String("clickhouse_db", cfg.ClickHouse.Database),
		logger.Bool("tick_lock", stores.Lock != nil),
	)
	return stores, cleanup, nil
}

// ProvideClickHouseClient creates a ClickHouse client and applies the schema.
func ProvideClickHouseClient(ctx context.Context, cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	stmts := append(
		[]string{"CREATE DATABASE IF NOT EXISTS " + cfg.ClickHouse.Database},
		internalrepo.ClickHouseSchema(qualify(cfg, cfg.ClickHouse.HistoryTable), qualify(cfg, cfg.ClickHouse.VolatilityTable))...,
	)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func qualify(cfg *config.Config, table string) string {
	return cfg.ClickHouse.Database + "." + table
}

// ProvideRegimeMachine maps the regime config onto the simulation constants.
func ProvideRegimeMachine(cfg *config.Config) (*simulation.RegimeMachine, error) {
	r := cfg.Simulation.Regime
	rc := simulation.RegimeConfig{
		CrashProb:       r.CrashProb,
		BoomProb:        r.BoomProb,
		CrashMinTicks:   r.CrashMinTicks,
		CrashMaxTicks:   r.CrashMaxTicks,
		BoomMinTicks:    r.BoomMinTicks,
		BoomMaxTicks:    r.BoomMaxTicks,
		CrashMultiplier: r.CrashMultiplier,
		BoomMultiplier:  r.BoomMultiplier,
		CrashBias:       r.CrashBias,
		BoomBias:        r.BoomBias,
	}
	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("regime config: %w", err)
	}
	return simulation.NewRegimeMachine(rc), nil
}

// ProvideGenerator selects the generator profile and applies overrides.
func ProvideGenerator(cfg *config.Config) (*simulation.Generator, error) {
	p, err := simulation.ProfileFor(cfg.Simulation.GeneratorVersion)
	if err != nil {
		return nil, err
	}
	if cfg.Simulation.BaseMove > 0 {
		p.BaseMove = cfg.Simulation.BaseMove
	}
	p.VolumeMin, p.VolumeMax = cfg.Simulation.VolumeMin, cfg.Simulation.VolumeMax
	return simulation.NewGenerator(p), nil
}

// ProvideHub creates the websocket tick stream.
func ProvideHub(cfg *config.Config, log *logger.Logger) *stream.Hub {
	return stream.NewHub(log, cfg.Server.AllowOrigins, 32)
}

// ProvideTickPublisher fans ticks out to websocket subscribers and, when enabled, Kafka.
func ProvideTickPublisher(cfg *config.Config, hub *stream.Hub, reg *prometheus.Registry, log *logger.Logger) (repository.TickPublisher, func(), error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.TickTopic == "" {
		return internalrepo.MultiPublisher{hub}, func() {}, nil
	}

	opts := []pkgkafka.ProducerOption{
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, pkgkafka.WithProducerRegisterer(reg))
	}
	producer, err := pkgkafka.NewProducer(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	log.Info("kafka tick publisher enabled",
		logger.Strings("brokers", cfg.Kafka.Brokers),
		logger.String("topic", cfg.Kafka.TickTopic),
	)
	cleanup := func() {
		if err := producer.Close(); err != nil {
			log.Warn("kafka producer close error", logger.Error(err))
		}
	}
	return internalrepo.MultiPublisher{hub, internalrepo.NewKafkaTickPublisher(producer, cfg.Kafka.TickTopic)}, cleanup, nil
}

// ProvideOrchestrator creates the tick orchestrator.
func ProvideOrchestrator(
	cfg *config.Config,
	stores *Stores,
	machine *simulation.RegimeMachine,
	gen *simulation.Generator,
	pub repository.TickPublisher,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.Orchestrator {
	opts := []usecase.OrchestratorOption{
		usecase.WithPublisher(pub),
		usecase.WithWorkers(cfg.Simulation.Workers),
	}
	if cfg.Simulation.Seed != 0 {
		opts = append(opts, usecase.WithSeed(cfg.Simulation.Seed))
	}
	if stores.Lock != nil {
		opts = append(opts, usecase.WithTickLock(stores.Lock))
	}
	return usecase.NewOrchestrator(stores.Prices, stores.History, stores.Vols, stores.Regimes, machine, gen, m, log, opts...)
}

// ProvideMarketInitializer creates the market initialization use case.
func ProvideMarketInitializer(stores *Stores, log *logger.Logger) *usecase.MarketInitializer {
	return usecase.NewMarketInitializer(stores.Prices, stores.History, stores.Regimes, log)
}

// ProvideMarketQuery creates the read side.
func ProvideMarketQuery(stores *Stores) *usecase.MarketQuery {
	return usecase.NewMarketQuery(stores.Prices, stores.History, stores.Regimes)
}

// ProvideScheduler returns nil when the scheduler is disabled.
func ProvideScheduler(cfg *config.Config, orch *usecase.Orchestrator, m repository.Metrics, log *logger.Logger) *usecase.TickScheduler {
	if !cfg.Scheduler.Enabled {
		return nil
	}
	return usecase.NewTickScheduler(orch, cfg.Scheduler.Interval, m, log)
}

// ProvideTriggerConsumer creates a consumer on kafka.trigger_topic.
func ProvideTriggerConsumer(
	cfg *config.Config,
	orch *usecase.Orchestrator,
	m repository.Metrics,
	reg *prometheus.Registry,
	log *logger.Logger,
) (*TriggerConsumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.TriggerTopic == "" {
		return &TriggerConsumer{}, nil
	}

	c := cfg.Kafka.Consumer
	opts := []pkgkafka.ConsumerOption{
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerOffsetReset("latest"),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
		pkgkafka.WithConsumerLogger(log),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, pkgkafka.WithConsumerRegisterer(reg))
	}
	consumer, err := pkgkafka.NewConsumer(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return &TriggerConsumer{
		Consumer: consumer,
		Handler:  usecase.NewTickTriggerHandler(cfg.Kafka.TriggerTopic, orch, m, log, cfg.Simulation.TickTimeout),
	}, nil
}

// ProvideRateLimiter creates the limiter shared by rate-limited routes.
func ProvideRateLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideHTTPServer mounts the market API and the tick stream on one Echo instance.
func ProvideHTTPServer(
	cfg *config.Config,
	log *logger.Logger,
	reg *prometheus.Registry,
	query *usecase.MarketQuery,
	orch *usecase.Orchestrator,
	limiter *ratelimit.Limiter,
	hub *stream.Hub,
) *xhttp.Server {
	market := api.NewMarketEchoHandler(log, query, orch, limiter, api.TriggerLimit{
		Burst:     cfg.RateLimit.TriggerBurst,
		PerSecond: cfg.RateLimit.TriggerPerSecond,
		Timeout:   cfg.Server.WriteTimeout,
	})

	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	}
	if len(cfg.Server.AllowOrigins) > 0 {
		opts = append(opts, xhttp.WithAllowOrigins(cfg.Server.AllowOrigins))
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, reg), xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer(log, []xhttp.Handler{market, hub}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	orch *usecase.Orchestrator,
	initializer *usecase.MarketInitializer,
	scheduler *usecase.TickScheduler,
	trigger *TriggerConsumer,
	srv *xhttp.Server,
	hub *stream.Hub,
) *server.App {
	c := server.Components{
		Ticks:       orch,
		Initializer: initializer,
		Scheduler:   scheduler,
		HTTPServer:  srv,
		Hub:         hub,
	}
	if trigger.Consumer != nil {
		c.Consumer, c.Trigger = trigger.Consumer, trigger.Handler
	}
	return server.New(cfg, log, c)
}
