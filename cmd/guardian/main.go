package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/bus"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/classifier"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/connector"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/engine"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/metrics"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/registry"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/relay"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/sink"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/strategy"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/transport"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var config struct {
	HTTPAddr        string        `long:"http-addr" env:"GUARDIAN_HTTP_ADDR" description:"control-plane listen address" default:":8080"`
	Networks        []string      `long:"network" env:"GUARDIAN_NETWORKS" env-delim:"," description:"network feed as name=rpc-endpoint, repeatable"`
	RelayEndpoint   string        `long:"relay-endpoint" env:"GUARDIAN_RELAY_ENDPOINT" description:"private relay json-rpc endpoint" default:"https://rpc.flashbots.net"`
	EventCollector  string        `long:"event-collector" env:"GUARDIAN_EVENT_COLLECTOR" description:"external store endpoint for audit events (disabled when empty)"`
	PollInterval    time.Duration `long:"poll-interval" env:"GUARDIAN_POLL_INTERVAL" description:"pending tx poll interval" default:"500ms"`
	WindowSpan      time.Duration `long:"window-span" env:"GUARDIAN_WINDOW_SPAN" description:"classification window span" default:"2s"`
	ClassifyBudget  time.Duration `long:"classify-budget" env:"GUARDIAN_CLASSIFY_BUDGET" description:"per-transaction classification budget" default:"500ms"`
	EventQueueSize  int           `long:"event-queue-size" env:"GUARDIAN_EVENT_QUEUE_SIZE" description:"per-subscriber event queue bound" default:"256"`
	BridgeContracts []string      `long:"bridge-contract" env:"GUARDIAN_BRIDGE_CONTRACTS" env-delim:"," description:"bridge contracts watched for validator-level attacks"`
	BridgeOperators []string      `long:"bridge-operator" env:"GUARDIAN_BRIDGE_OPERATORS" env-delim:"," description:"senders allowed to call privileged bridge functions"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if _, err := flags.ParseArgs(&config, os.Args); err != nil {
		logger.Fatal("Failed to parse arguments", zap.Error(err))
	}
	if len(config.Networks) == 0 {
		logger.Fatal("At least one --network name=rpc-endpoint is required")
	}

	b := bus.New(logger, config.EventQueueSize)
	reg := registry.New(logger)
	window := classifier.NewWindow(config.WindowSpan)

	clsCfg := classifier.DefaultConfig()
	clsCfg.Budget = config.ClassifyBudget
	clsCfg.WindowSpan = config.WindowSpan
	clsCfg.BridgeContracts = config.BridgeContracts
	clsCfg.BridgeOperators = config.BridgeOperators
	cls := classifier.New(clsCfg, logger)

	relayClient, err := relay.Dial(ctx, config.RelayEndpoint, metrics.NewRelay(), logger)
	if err != nil {
		logger.Fatal("Failed to dial private relay", zap.String("endpoint", config.RelayEndpoint), zap.Error(err))
	}

	pipelineMetrics := metrics.NewPipeline()
	protector := strategy.New(relayClient, reg, pipelineMetrics, logger)

	connectorMetrics := metrics.NewConnector()
	feeds := make(map[model.Network]engine.Feed, len(config.Networks))
	for _, spec := range config.Networks {
		name, endpoint, ok := strings.Cut(spec, "=")
		if !ok || name == "" || endpoint == "" {
			logger.Fatal("Invalid --network value, want name=rpc-endpoint", zap.String("value", spec))
		}
		source, err := connector.DialEthSource(ctx, endpoint, logger)
		if err != nil {
			logger.Fatal("Failed to dial network", zap.String("network", name), zap.Error(err))
		}
		defer source.Close()

		feeds[model.Network(name)] = connector.New(
			model.Network(name),
			source,
			b,
			connectorMetrics,
			connector.Config{PollInterval: config.PollInterval},
			logger,
		)
	}

	eng := engine.New(feeds, cls, reg, protector, b, window, pipelineMetrics, logger)

	handler := transport.NewHandler(reg, b, eng, logger)
	httpMux := http.NewServeMux()
	httpMux.Handle("/", handler.Router())
	httpMux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              config.HTTPAddr,
		Handler:           cors.Default().Handler(httpMux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(ctx)
	})
	if config.EventCollector != "" {
		writer := sink.NewHTTPWriter(config.EventCollector, 5*time.Second)
		s := sink.New(b, writer, logger)
		g.Go(func() error {
			return s.Run(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down the http server")
		return server.Shutdown(context.Background())
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", config.HTTPAddr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Engine terminated", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
