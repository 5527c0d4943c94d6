package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/juno-intents/ton-gateway/internal/blobstore"
	"github.com/juno-intents/ton-gateway/internal/chainstore"
	boltstore "github.com/juno-intents/ton-gateway/internal/chainstore/bolt"
	pgstore "github.com/juno-intents/ton-gateway/internal/chainstore/postgres"
	"github.com/juno-intents/ton-gateway/internal/config"
	"github.com/juno-intents/ton-gateway/internal/depositlog"
	"github.com/juno-intents/ton-gateway/internal/gateway"
	"github.com/juno-intents/ton-gateway/internal/gatewayapi"
	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/inbound"
	"github.com/juno-intents/ton-gateway/internal/metrics"
	"github.com/juno-intents/ton-gateway/internal/queue"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

const (
	storeMemory   = "memory"
	storeBolt     = "bolt"
	storePostgres = "postgres"

	submitDirect = "direct"
	submitQueue  = "queue"
)

func main() {
	var (
		configPath = flag.String("config", "", "gateway YAML config (required)")
		listenAddr = flag.String("listen", "127.0.0.1:8090", "HTTP listen address")
		logFormat  = flag.String("log-format", "text", "log format: text|json")
		logLevel   = flag.String("log-level", "info", "log level: debug|info|warn|error")

		storeDriver = flag.String("store-driver", storeBolt, "chain store driver: memory|bolt|postgres")
		boltPath    = flag.String("bolt-path", "gateway.db", "bbolt database path (store-driver=bolt)")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")

		blobDriver = flag.String("blob-driver", blobstore.DriverMemory, "code and snapshot archive driver: memory|s3")
		blobBucket = flag.String("blob-bucket", "", "S3 bucket (required when --blob-driver=s3)")
		blobPrefix = flag.String("blob-prefix", "ton-gateway", "archive key prefix")

		queueDriver  = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers = flag.String("queue-brokers", "", "comma-separated queue brokers (kafka)")
		queueGroup   = flag.String("queue-group", "ton-gateway", "consumer group for inbound messages")
		queueTLS     = flag.Bool("queue-tls", queue.TLSFromEnv(), "use TLS for Kafka (default from "+queue.EnvTLS+")")
		msgTopic     = flag.String("messages-topic", queue.TopicMessages, "inbound message topic")
		depositTopic = flag.String("deposits-topic", queue.TopicDeposits, "deposit log topic")
		maxLineBytes = flag.Int("queue-max-line-bytes", 1<<20, "maximum queue record size")
		ackTimeout   = flag.Duration("queue-ack-timeout", 5*time.Second, "timeout for queue message acknowledgements")

		consumeMessages = flag.Bool("consume-messages", false, "apply messages from --messages-topic")
		publishDeposits = flag.Bool("publish-deposits", false, "publish deposit logs to --deposits-topic")
		submitMode      = flag.String("submit-mode", submitDirect, "external submission: direct|queue|off")
		applyTimeout    = flag.Duration("apply-timeout", 30*time.Second, "timeout for applying one message")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		readTimeout       = flag.Duration("read-timeout", 10*time.Second, "http.Server ReadTimeout")
		writeTimeout      = flag.Duration("write-timeout", 10*time.Second, "http.Server WriteTimeout")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
	)
	flag.Parse()

	log, err := newLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if strings.TrimSpace(*configPath) == "" {
		fmt.Fprintln(os.Stderr, "error: --config is required")
		os.Exit(2)
	}
	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --listen must be non-empty")
		os.Exit(2)
	}
	if *readHeaderTimeout <= 0 || *readTimeout <= 0 || *writeTimeout <= 0 || *idleTimeout <= 0 || *ackTimeout <= 0 || *applyTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeouts must be > 0")
		os.Exit(2)
	}
	switch *submitMode {
	case submitDirect, submitQueue, "off":
	default:
		fmt.Fprintln(os.Stderr, "error: --submit-mode must be direct, queue or off")
		os.Exit(2)
	}
	if *queueDriver == queue.DriverStdio && *consumeMessages && *submitMode == submitQueue {
		// Both ends would share the process stdio.
		fmt.Fprintln(os.Stderr, "error: --submit-mode=queue cannot be combined with a stdio consumer")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	genesis, err := cfg.Genesis()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, *storeDriver, *boltPath, *postgresDSN)
	if err != nil {
		log.Error("init chain store", "driver", *storeDriver, "err", err)
		os.Exit(2)
	}
	defer closeStore()

	archive, err := openArchive(ctx, *blobDriver, *blobBucket, *blobPrefix)
	if err != nil {
		log.Error("init archive", "driver", *blobDriver, "err", err)
		os.Exit(2)
	}

	m := metrics.New()
	machine, err := gateway.NewMachine(schedule)
	if err != nil {
		log.Error("init gateway machine", "err", err)
		os.Exit(2)
	}
	reg := host.NewRegistry()
	code := machine.Register(reg)

	var producer queue.Producer
	if *publishDeposits || *submitMode == submitQueue {
		producer, err = queue.NewProducer(queue.ProducerConfig{
			Driver:          *queueDriver,
			Brokers:         queue.SplitCommaList(*queueBrokers),
			TLS:             *queueTLS,
			MaxMessageBytes: *maxLineBytes,
		})
		if err != nil {
			log.Error("init queue producer", "err", err)
			os.Exit(2)
		}
		defer func() { _ = producer.Close() }()
	}

	gatewayRaw := wire.RawAddress(genesis.Address)
	var onCommit []func(context.Context, chainstore.Transaction)

	var publisher *depositlog.Publisher
	if *publishDeposits {
		publisher, err = depositlog.New(depositlog.Config{
			Account: gatewayRaw,
			Topic:   *depositTopic,
		}, store, producer, m, log)
		if err != nil {
			log.Error("init deposit log publisher", "err", err)
			os.Exit(2)
		}
		onCommit = append(onCommit, publisher.OnCommit)
	}

	var exec *host.Executor
	onCommit = append(onCommit, func(ctx context.Context, tx chainstore.Transaction) {
		if tx.Account != gatewayRaw {
			return
		}
		updateLedger(ctx, exec, machine, genesis, m, log)
	})

	exec, err = host.New(host.Config{
		Store:         store,
		Registry:      reg,
		Archive:       archive,
		SnapshotEvery: cfg.Gateway.SnapshotEvery,
		MaxCascade:    cfg.Gateway.MaxCascade,
		Metrics:       m,
		OnCommit:      onCommit,
		Logger:        log,
	})
	if err != nil {
		log.Error("init executor", "err", err)
		os.Exit(2)
	}

	if err := deployGenesis(ctx, exec, code, genesis, log); err != nil {
		log.Error("deploy gateway", "err", err)
		os.Exit(2)
	}
	if receipts, err := exec.Resume(ctx); err != nil {
		log.Warn("resume pending messages", "err", err)
	} else if len(receipts) > 0 {
		log.Info("delivered pending messages", "transactions", len(receipts))
	}
	updateLedger(ctx, exec, machine, genesis, m, log)

	var submitter gatewayapi.Submitter
	switch *submitMode {
	case submitDirect:
		submitter, err = gatewayapi.NewExecutorSubmitter(exec, genesis.Address)
	case submitQueue:
		submitter, err = gatewayapi.NewQueueSubmitter(producer, *msgTopic, genesis.Address)
	}
	if err != nil {
		log.Error("init submitter", "mode", *submitMode, "err", err)
		os.Exit(2)
	}

	handler, err := gatewayapi.NewHandler(gatewayapi.Config{
		Gateway:                 genesis.Address,
		Getters:                 machine,
		Accounts:                exec,
		Transactions:            store,
		Submitter:               submitter,
		Metrics:                 m,
		MetricsHandler:          m.Handler(),
		RateLimitPerIPPerSecond: cfg.API.RateLimitPerSecond,
		RateLimitBurst:          cfg.API.RateLimitBurst,
		MaxBodyBytes:            cfg.API.MaxBodyBytes,
		MaxListLimit:            cfg.API.MaxListLimit,
		Now:                     time.Now,
		Logger:                  log,
	})
	if err != nil {
		log.Error("init gateway api handler", "err", err)
		os.Exit(2)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	workerErrCh := make(chan error, 2)

	if publisher != nil {
		go func() {
			if err := publisher.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				workerErrCh <- fmt.Errorf("deposit log publisher: %w", err)
			}
		}()
	}

	if *consumeMessages {
		consumer, err := queue.NewConsumer(runCtx, queue.ConsumerConfig{
			Driver:       *queueDriver,
			Brokers:      queue.SplitCommaList(*queueBrokers),
			Group:        *queueGroup,
			Topics:       []string{*msgTopic},
			TLS:          *queueTLS,
			MaxLineBytes: *maxLineBytes,
			Logger:       log,
		})
		if err != nil {
			log.Error("init queue consumer", "err", err)
			os.Exit(2)
		}
		defer func() { _ = consumer.Close() }()

		processor, err := inbound.New(inbound.Config{
			Gateway:      genesis.Address,
			ApplyTimeout: *applyTimeout,
			AckTimeout:   *ackTimeout,
		}, exec, log)
		if err != nil {
			log.Error("init inbound processor", "err", err)
			os.Exit(2)
		}
		go func() {
			err := processor.Run(runCtx, consumer)
			if err != nil && !errors.Is(err, context.Canceled) {
				workerErrCh <- fmt.Errorf("inbound processor: %w", err)
				return
			}
			log.Info("inbound stream closed", "stats", processor.Stats())
		}()
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gatewayd listening", "addr", *listenAddr, "gateway", gatewayRaw, "store", *storeDriver, "submitMode", *submitMode)
		errCh <- srv.ListenAndServe()
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-workerErrCh:
		log.Error("worker stopped", "err", err)
		exitCode = 1
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			exitCode = 1
		}
	}

	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if exitCode != 0 {
		// os.Exit skips deferred calls.
		closeStore()
		os.Exit(exitCode)
	}
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("--log-format must be text or json")
	}
}

func openStore(ctx context.Context, driver, boltPath, dsn string) (chainstore.Store, func(), error) {
	switch driver {
	case storeMemory:
		return chainstore.NewMemoryStore(), func() {}, nil
	case storeBolt:
		if strings.TrimSpace(boltPath) == "" {
			return nil, nil, errors.New("--bolt-path is required")
		}
		st, err := boltstore.Open(boltPath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case storePostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, nil, errors.New("--postgres-dsn is required")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("init pgx pool: %w", err)
		}
		st, err := pgstore.New(pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return st, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func openArchive(ctx context.Context, driver, bucket, prefix string) (*blobstore.Archive, error) {
	cfg := blobstore.Config{Driver: driver, Prefix: prefix, Bucket: bucket}
	if driver == blobstore.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg.S3Client = s3.NewFromConfig(awsCfg)
	}
	bs, err := blobstore.New(cfg)
	if err != nil {
		return nil, err
	}
	return blobstore.NewArchive(bs)
}
