package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/archon-research/stl-logfeed/internal/adapters/inbound/http"
	"github.com/archon-research/stl-logfeed/internal/adapters/outbound/ethrpc"
	"github.com/archon-research/stl-logfeed/internal/adapters/outbound/redis"
	"github.com/archon-research/stl-logfeed/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl-logfeed/internal/pkg/env"
	"github.com/archon-research/stl-logfeed/internal/pkg/networks"
	"github.com/archon-research/stl-logfeed/internal/services/log_list"
	"github.com/archon-research/stl-logfeed/internal/services/shared"
)

const shutdownTimeout = 10 * time.Second

// runOptions holds flags for the run command.
type runOptions struct {
	*rootOptions
	network      string
	addr         string
	pageSize     int
	redisAddr    string
	otlpEndpoint string
	traceStdout  bool
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Follow the selected network and serve the log list",
		Long: `Start the log feed. The initial network comes from --network and can be
changed at runtime with PUT /network. Without a network the list stays empty.

Example:
  logfeed run --config networks.yaml --network mainnet
  logfeed run --network base --redis localhost:6379 --otlp-endpoint localhost:4317`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.resolveEnv(cmd)
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.network, "network", "", "initial network (env LOGFEED_NETWORK)")
	cmd.Flags().StringVar(&opts.addr, "addr", ":8080", "HTTP listen address (env LOGFEED_ADDR)")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", log_list.ConfigDefaults().PageSize, "logs per historical page (env LOGFEED_PAGE_SIZE)")
	cmd.Flags().StringVar(&opts.redisAddr, "redis", "", "publish snapshots to this Redis address (env REDIS_ADDR)")
	cmd.Flags().StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector for traces and metrics (env OTEL_EXPORTER_OTLP_ENDPOINT)")
	cmd.Flags().BoolVar(&opts.traceStdout, "trace-stdout", false, "print spans to stdout when no collector is set")

	return cmd
}

// resolveEnv fills every flag the user did not set from its environment variable.
func (o *runOptions) resolveEnv(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("network") {
		o.network = env.Get("LOGFEED_NETWORK", o.network)
	}
	if !flags.Changed("addr") {
		o.addr = env.Get("LOGFEED_ADDR", o.addr)
	}
	if !flags.Changed("page-size") {
		o.pageSize = env.GetInt("LOGFEED_PAGE_SIZE", o.pageSize)
	}
	if !flags.Changed("redis") {
		o.redisAddr = env.Get("REDIS_ADDR", o.redisAddr)
	}
	if !flags.Changed("otlp-endpoint") {
		o.otlpEndpoint = env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", o.otlpEndpoint)
	}
}

func run(parent context.Context, opts *runOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := opts.logger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := initTelemetry(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("failed to flush telemetry", "error", err)
		}
	}()

	registry, err := networks.LoadRegistry(opts.configPath)
	if err != nil {
		return err
	}
	selector, err := networks.NewSelector(registry, opts.network)
	if err != nil {
		return err
	}
	logger.Info("networks loaded", "path", opts.configPath, "networks", registry.Names(), "initial", opts.network)

	appTelemetry, err := shared.NewAppTelemetry()
	if err != nil {
		return fmt.Errorf("failed to create app telemetry: %w", err)
	}
	rpcTelemetry, err := ethrpc.NewTelemetry()
	if err != nil {
		return fmt.Errorf("failed to create rpc telemetry: %w", err)
	}

	clientConfig := ethrpc.ClientConfigDefaults()
	clientConfig.Networks = registry
	clientConfig.Logger = logger
	clientConfig.Telemetry = rpcTelemetry
	client, err := ethrpc.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("failed to create rpc client: %w", err)
	}

	subscriber, err := ethrpc.NewSubscriber(ethrpc.SubscriberConfig{
		Networks:  registry,
		Logger:    logger,
		Telemetry: rpcTelemetry,
	})
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}

	svc, err := log_list.NewService(log_list.Config{
		PageSize: opts.pageSize,
		Logger:   logger,
		Metrics:  appTelemetry,
	}, subscriber, client)
	if err != nil {
		return fmt.Errorf("failed to create log list service: %w", err)
	}

	stopPublishing, err := startPublisher(ctx, opts, svc, logger)
	if err != nil {
		svc.Destroy()
		return err
	}

	var shuttingDown atomic.Bool
	healthConfig := httpadapter.HealthServerConfigDefaults()
	healthConfig.Addr = opts.addr
	healthConfig.Logger = logger
	server := httpadapter.NewHealthServer(healthConfig, svc, &shuttingDown)
	server.Mount(httpadapter.NewHandler(svc, selector, logger))
	server.Start()

	changes, stopWatch := selector.Watch()
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx, changes)
	}()

	logger.Info("log feed started", "addr", opts.addr)
	<-ctx.Done()
	logger.Info("shutting down")

	shuttingDown.Store(true)
	stopWatch()
	<-done
	stopPublishing()

	if err := server.Shutdown(shutdownTimeout); err != nil {
		logger.Error("failed to shut down http server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func initTelemetry(ctx context.Context, opts *runOptions) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if opts.otlpEndpoint == "" && !opts.traceStdout {
		return noop, nil
	}

	defaults := telemetry.TracerConfigDefaults()
	tracerConfig := defaults
	tracerConfig.OTLPEndpoint = opts.otlpEndpoint
	tracerConfig.Environment = env.Get("ENVIRONMENT", defaults.Environment)
	shutdownTracer, err := telemetry.InitTracer(ctx, tracerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    tracerConfig.ServiceName,
		ServiceVersion: tracerConfig.ServiceVersion,
		Environment:    tracerConfig.Environment,
		OTLPEndpoint:   opts.otlpEndpoint,
	})
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	return func(ctx context.Context) error {
		metricsErr := shutdownMetrics(ctx)
		if err := shutdownTracer(ctx); err != nil {
			return err
		}
		return metricsErr
	}, nil
}

// startPublisher forwards list snapshots to Redis when an address is set.
// The returned function stops forwarding and closes the connection.
func startPublisher(ctx context.Context, opts *runOptions, svc *log_list.Service, logger *slog.Logger) (func(), error) {
	if opts.redisAddr == "" {
		return func() {}, nil
	}

	redisConfig := redis.ConfigDefaults()
	redisConfig.Addr = opts.redisAddr
	redisConfig.Password = env.Get("REDIS_PASSWORD", "")
	redisConfig.KeyPrefix = env.Get("REDIS_KEY_PREFIX", redisConfig.KeyPrefix)
	sink, err := redis.NewSnapshotSink(redisConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis sink: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sink.Ping(pingCtx); err != nil {
		logger.Warn("redis not reachable yet, snapshots will be retried on change", "addr", opts.redisAddr, "error", err)
	}

	publisher, err := log_list.NewSnapshotPublisher(log_list.SnapshotPublisherConfig{Logger: logger}, sink)
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("failed to create snapshot publisher: %w", err)
	}
	if err := publisher.Start(ctx); err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("failed to start snapshot publisher: %w", err)
	}
	unsubscribe := svc.Subscribe(publisher.Offer)

	logger.Info("publishing snapshots to redis", "addr", opts.redisAddr, "prefix", redisConfig.KeyPrefix)
	return func() {
		unsubscribe()
		if err := publisher.Stop(); err != nil {
			logger.Warn("failed to stop snapshot publisher", "error", err)
		}
	}, nil
}
