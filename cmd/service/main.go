package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/bus"
	"github.com/clinicdesk/appointment-lock/internal/config"
	"github.com/clinicdesk/appointment-lock/internal/coordinator"
	"github.com/clinicdesk/appointment-lock/internal/health"
	"github.com/clinicdesk/appointment-lock/internal/history"
	"github.com/clinicdesk/appointment-lock/internal/logger"
	"github.com/clinicdesk/appointment-lock/internal/metrics"
	"github.com/clinicdesk/appointment-lock/internal/server"
	"github.com/clinicdesk/appointment-lock/internal/store"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "service",
	Short: "Appointment lock coordinator",
	Long:  `A coordination service granting time-bounded editing leases on appointments.`,
	RunE:  runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit:  %s\n", commit)
		fmt.Printf("Built:   %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Configuration flags
	rootCmd.Flags().Int("api-port", 8080, "API server port")
	rootCmd.Flags().String("api-host", "0.0.0.0", "API server host")
	rootCmd.Flags().Int("probe-port", 8081, "Probe server port")
	rootCmd.Flags().String("probe-host", "0.0.0.0", "Probe server host")
	rootCmd.Flags().Int("metrics-port", 9090, "Metrics server port")
	rootCmd.Flags().String("metrics-host", "0.0.0.0", "Metrics server host")
	rootCmd.Flags().Bool("tls-enabled", false, "Enable TLS for API server")
	rootCmd.Flags().String("tls-cert", "", "Path to TLS certificate")
	rootCmd.Flags().String("tls-key", "", "Path to TLS key")
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "json", "Log format (json, console)")
	rootCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout (e.g., 30s)")
	rootCmd.Flags().Duration("health-check-timeout", 5*time.Second, "Health check timeout (e.g., 5s)")
	rootCmd.Flags().Duration("health-cache-duration", 10*time.Second, "Health check cache duration (e.g., 10s)")

	// Lock coordination flags
	rootCmd.Flags().Duration("lease-ttl", coordinator.DefaultLeaseTTL, "Editing lease duration")
	rootCmd.Flags().Duration("sweep-interval", coordinator.DefaultSweepInterval, "Expiry sweep interval")

	// Lock store flags
	rootCmd.Flags().String("store-backend", "olric", "Lock store backend (olric/memory)")
	rootCmd.Flags().String("store-bind-addr", store.DefaultBindAddr, "Olric bind address")
	rootCmd.Flags().Int("store-bind-port", store.DefaultBindPort, "Olric bind port")
	rootCmd.Flags().Int("store-memberlist-port", 0, "Olric memberlist port (0 for random)")
	rootCmd.Flags().String("store-join", "", "Comma-separated cluster join addresses")
	rootCmd.Flags().Int("store-replication-factor", store.DefaultReplicationFactor, "Olric replication factor")
	rootCmd.Flags().String("store-log-level", store.DefaultLogLevel, "Olric log level (DEBUG/INFO/WARN/ERROR)")

	// History flags
	rootCmd.Flags().String("history-backend", "mongo", "History backend (mongo/memory)")
	rootCmd.Flags().String("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI")
	rootCmd.Flags().String("mongo-database", "appointment_lock", "MongoDB database name")
	rootCmd.Flags().Int("history-retention-days", 90, "History retention in days")

	// Notification bus flags
	rootCmd.Flags().String("nats-url", "", "NATS server URL (empty for in-process bus)")

	// Bind flags to viper
	_ = viper.BindPFlag("api.port", rootCmd.Flags().Lookup("api-port"))
	_ = viper.BindPFlag("api.host", rootCmd.Flags().Lookup("api-host"))
	_ = viper.BindPFlag("probe.port", rootCmd.Flags().Lookup("probe-port"))
	_ = viper.BindPFlag("probe.host", rootCmd.Flags().Lookup("probe-host"))
	_ = viper.BindPFlag("metrics.port", rootCmd.Flags().Lookup("metrics-port"))
	_ = viper.BindPFlag("metrics.host", rootCmd.Flags().Lookup("metrics-host"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.Flags().Lookup("tls-enabled"))
	_ = viper.BindPFlag("tls.cert", rootCmd.Flags().Lookup("tls-cert"))
	_ = viper.BindPFlag("tls.key", rootCmd.Flags().Lookup("tls-key"))
	_ = viper.BindPFlag("log.level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.Flags().Lookup("log-format"))
	_ = viper.BindPFlag("shutdown.timeout", rootCmd.Flags().Lookup("shutdown-timeout"))
	_ = viper.BindPFlag("health.check_timeout", rootCmd.Flags().Lookup("health-check-timeout"))
	_ = viper.BindPFlag("health.cache_duration", rootCmd.Flags().Lookup("health-cache-duration"))
	_ = viper.BindPFlag("lock.lease_ttl", rootCmd.Flags().Lookup("lease-ttl"))
	_ = viper.BindPFlag("lock.sweep_interval", rootCmd.Flags().Lookup("sweep-interval"))
	_ = viper.BindPFlag("store.backend", rootCmd.Flags().Lookup("store-backend"))
	_ = viper.BindPFlag("store.bind_addr", rootCmd.Flags().Lookup("store-bind-addr"))
	_ = viper.BindPFlag("store.bind_port", rootCmd.Flags().Lookup("store-bind-port"))
	_ = viper.BindPFlag("store.memberlist_port", rootCmd.Flags().Lookup("store-memberlist-port"))
	_ = viper.BindPFlag("store.join", rootCmd.Flags().Lookup("store-join"))
	_ = viper.BindPFlag("store.replication_factor", rootCmd.Flags().Lookup("store-replication-factor"))
	_ = viper.BindPFlag("store.log_level", rootCmd.Flags().Lookup("store-log-level"))
	_ = viper.BindPFlag("history.backend", rootCmd.Flags().Lookup("history-backend"))
	_ = viper.BindPFlag("history.mongo_uri", rootCmd.Flags().Lookup("mongo-uri"))
	_ = viper.BindPFlag("history.database", rootCmd.Flags().Lookup("mongo-database"))
	_ = viper.BindPFlag("history.retention_days", rootCmd.Flags().Lookup("history-retention-days"))
	_ = viper.BindPFlag("bus.nats_url", rootCmd.Flags().Lookup("nats-url"))
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting appointment lock coordinator",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	buildInfo := map[string]string{
		"version": version,
		"commit":  commit,
		"date":    date,
	}
	m := metrics.NewMetrics(cfg.MetricsNamespace, buildInfo)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelStartup()

	// Lock store
	var lockStore store.Store
	switch cfg.StoreBackend {
	case "olric":
		olricStore, err := store.NewOlricStore(startupCtx, cfg.Olric, log)
		if err != nil {
			return fmt.Errorf("failed to start lock store: %w", err)
		}
		lockStore = olricStore
	default:
		log.Warn("Using in-memory lock store; locks are lost on restart")
		lockStore = store.NewMemoryStore()
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := lockStore.Close(ctx); err != nil {
			log.Error("Failed to close lock store", zap.Error(err))
		}
	}()

	// History recorder
	var recorder history.Recorder
	switch cfg.HistoryBackend {
	case "mongo":
		mongoRecorder, err := history.NewMongoRecorder(startupCtx, cfg.MongoURI, cfg.MongoDatabase, log)
		if err != nil {
			return fmt.Errorf("failed to connect history recorder: %w", err)
		}
		recorder = mongoRecorder
	default:
		log.Warn("Using in-memory history recorder; audit records are lost on restart")
		recorder = history.NewMemoryRecorder()
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := recorder.Close(ctx); err != nil {
			log.Error("Failed to close history recorder", zap.Error(err))
		}
	}()

	// Notification bus
	var notifications bus.Bus
	if cfg.NATSURL != "" {
		natsBus, err := bus.NewNATSBus(cfg.NATSURL, log)
		if err != nil {
			return fmt.Errorf("failed to connect notification bus: %w", err)
		}
		notifications = natsBus
	} else {
		notifications = bus.NewMemoryBus()
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifications.Close(ctx); err != nil {
			log.Error("Failed to close notification bus", zap.Error(err))
		}
	}()

	// Coordinator and sweeper
	coord := coordinator.New(lockStore, recorder, notifications, log, m, cfg.LeaseTTL)
	sweeper := coordinator.NewSweeper(coord, cfg.SweepInterval, log)
	sweeper.Start()
	defer sweeper.Stop()

	// Health checks
	healthManager := health.NewManager(log, m, cfg.HealthCheckCacheDuration, cfg.HealthCheckTimeout)
	healthManager.RegisterChecker(health.NewConfigChecker(log))
	healthManager.RegisterChecker(health.NewStoreChecker(log, lockStore))
	healthManager.RegisterChecker(health.NewHistoryChecker(log, recorder))
	healthManager.RegisterChecker(health.NewSweeperChecker(log, sweeper))
	healthManager.RegisterChecker(health.NewServerChecker(log))
	healthManager.RegisterChecker(health.NewReadinessChecker(log))

	// HTTP servers
	srv, err := server.New(cfg, log, m, server.Dependencies{
		Coordinator: coord,
		Sweeper:     sweeper,
		Recorder:    recorder,
		Bus:         notifications,
		Health:      healthManager,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	healthManager.SetServersRunning(true)

	log.Info("Service started successfully",
		zap.Duration("lease_ttl", cfg.LeaseTTL),
		zap.Duration("sweep_interval", cfg.SweepInterval),
	)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutdown signal received")
	healthManager.SetShuttingDown(true)

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}

	log.Info("Service stopped gracefully")
	return nil
}
