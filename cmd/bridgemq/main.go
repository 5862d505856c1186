package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgewire/bridgemq-go/config"
	"github.com/edgewire/bridgemq-go/health"
	"github.com/edgewire/bridgemq-go/internal/amqp"
	"github.com/edgewire/bridgemq-go/internal/ipc"
	"github.com/edgewire/bridgemq-go/messaging"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridgemq",
		Short: "Bridge local process messages to an AMQP broker",
		Long: `bridgemq relays messages between local processes and an AMQP broker.
Outbound messages arrive on a local ingress socket with their bodies
staged in per-sender FIFOs; inbound messages are routed to per-service
sockets based on their service property.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		Long:  "Start the ingress loop and the inbound consumer and run until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(verbose)
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a running bridge's resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkHealth(verbose)
		},
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func serve(verbose bool) error {
	logger := newLogger(verbose)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting bridge",
		"version", version,
		"broker", amqp.SanitizeURL(cfg.BrokerURL),
		"ingress", cfg.IngressSocket)

	cm := amqp.NewConnectionManager(cfg.BrokerURL, amqp.WithConnectionLogger(logger))
	if err := cm.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer cm.Close()

	publisher := amqp.NewPublisher(cm, cfg.Exchange, cfg.RoutingKey,
		amqp.WithPublisherLogger(logger))
	defer publisher.Close()

	tracker := messaging.NewDeliveryTracker(publisher,
		messaging.WithTrackerLogger(logger))
	publisher.OnConfirmation(tracker.OnOutcome)

	queue, err := ipc.NewUnixgramQueue(cfg.IngressSocket, cfg.MaxIngressSize,
		ipc.WithQueueLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open ingress socket: %w", err)
	}
	defer queue.Close()

	bodies, err := ipc.NewFIFOBodySource(cfg.BodyDir, cfg.MaxBodySize,
		ipc.WithFetchTimeout(cfg.FetchTimeout),
		ipc.WithBodyLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to set up body source: %w", err)
	}

	assembler := messaging.NewAssembler(messaging.WithAssemblerLogger(logger))
	loop := messaging.NewIngressLoop(queue, bodies, assembler, tracker,
		messaging.WithIngressLogger(logger))

	sockets := ipc.NewSocketResolver(cfg.ServiceDir, ipc.WithResolverLogger(logger))
	router := messaging.NewInboundRouter(
		messaging.ServiceResolverFunc(func(name string) (messaging.ServiceChannel, error) {
			return sockets.Resolve(name)
		}),
		messaging.WithRouterLogger(logger))

	consumer := amqp.NewConsumer(cm, cfg.InboundQueue, router.Route,
		amqp.WithConsumerLogger(logger))
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start inbound consumer: %w", err)
	}

	err = loop.Run(ctx)

	stop()
	counters := tracker.Snapshot()
	logger.Info("bridge stopped",
		"attempted", counters.Attempted,
		"succeeded", counters.Succeeded,
		"failed", counters.Failed,
		"pending", tracker.PendingCount())

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func checkHealth(verbose bool) error {
	logger := newLogger(verbose)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cm := amqp.NewConnectionManager(cfg.BrokerURL, amqp.WithConnectionLogger(logger))
	if err := cm.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer cm.Close()

	results := health.RunAll(ctx,
		health.NewBrokerChecker(cm),
		health.NewIngressChecker(cfg.IngressSocket),
	)

	failed := false
	for _, r := range results {
		line := fmt.Sprintf("%-10s %-10s %s", r.Name, r.Status, r.Message)
		if r.Error != "" {
			line += " (" + r.Error + ")"
		}
		fmt.Println(line)
		if r.Status == health.StatusUnhealthy {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}
