// feederd is the pet-feeder central core.
//
// It connects to the feeder MQTT bus, reconciles device state from the
// mixed-generation firmware traffic, tracks liveness, and serves the
// operator HTTP/WebSocket API. Commands are audited to SQLite and device
// telemetry is optionally written to InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/feeder-core/internal/api"
	"github.com/nerrad567/feeder-core/internal/audit"
	"github.com/nerrad567/feeder-core/internal/auth"
	"github.com/nerrad567/feeder-core/internal/command"
	"github.com/nerrad567/feeder-core/internal/device"
	"github.com/nerrad567/feeder-core/internal/engine"
	"github.com/nerrad567/feeder-core/internal/infrastructure/config"
	"github.com/nerrad567/feeder-core/internal/infrastructure/database"
	"github.com/nerrad567/feeder-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/feeder-core/internal/infrastructure/logging"
	"github.com/nerrad567/feeder-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/feeder-core/internal/metrics"
	"github.com/nerrad567/feeder-core/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "FEEDER_CONFIG"

	// devTokenTTL is the lifetime of tokens printed by --issue-token.
	devTokenTTL = 12 * time.Hour
)

// options holds the parsed command line.
type options struct {
	configPath string
	version    bool
	issueRole  string
	subject    string
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.version {
		fmt.Printf("feederd %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	if opts.issueRole != "" {
		if err := issueToken(os.Stdout, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args into options. Help output goes to out.
func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("feederd", pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file (default $"+configEnvVar+" or "+defaultConfigPath+")")
	flagSet.BoolVar(&opts.version, "version", false, "print version information and exit")
	flagSet.StringVar(&opts.issueRole, "issue-token", "", "print a development role token (operator or developer) signed with the configured secret and exit")
	flagSet.StringVar(&opts.subject, "subject", "dev", "subject recorded in tokens printed by --issue-token")
	flagSet.Usage = func() {
		fmt.Fprintf(out, "Usage: feederd [flags]\n\nFlags:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if flagSet.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}

	opts.configPath = getConfigPath(opts.configPath)
	return opts, nil
}

// getConfigPath resolves the configuration file: the --config flag wins,
// then FEEDER_CONFIG, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// issueToken prints a role token for local testing against the API.
func issueToken(w io.Writer, opts options) error {
	role, err := auth.ParseRole(opts.issueRole)
	if err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := auth.GenerateToken(opts.subject, role, cfg.Security.JWT.Secret, devTokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// run wires the core together and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	// Default logger until config is loaded
	log := logging.Default()
	log.Info("starting feeder core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site", cfg.Site.ID,
		"level", cfg.Logging.Level,
	)

	// Audit trail
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx, migrations.FS, migrations.Dir); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	auditRepo := audit.NewSQLiteRepository(db.DB)
	log.Info("database ready", "path", db.Path())

	// Telemetry (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		influxClient = nil
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	registry := device.NewRegistry(device.Options{Logger: log.Component("registry")})

	// Engine hooks are attached once the engine runs; the initial connect
	// is replayed through HandleConnect.
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithLogger(log.Component("mqtt")))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	var cmdTelemetry command.Telemetry
	if influxClient != nil {
		cmdTelemetry = influxClient
	}

	qos := byte(cfg.MQTT.QoS)
	translator := command.New(command.Config{
		Publisher:      mqttClient,
		Registry:       registry,
		Gate:           auth.NewGate(log.Component("auth")),
		Audit:          auditRepo,
		Metrics:        m,
		Telemetry:      cmdTelemetry,
		Logger:         log.Component("command"),
		QoS:            qos,
		PendingTimeout: cfg.Engine.PendingEditTimeoutDuration(),
	})

	eng, err := engine.New(engine.Config{
		Transport:         mqttClient,
		Registry:          registry,
		Translator:        translator,
		QoS:               qos,
		IntakeBuffer:      cfg.Engine.IntakeBuffer,
		LivenessInterval:  cfg.Engine.LivenessIntervalDuration(),
		LivenessThreshold: cfg.Engine.LivenessThresholdDuration(),
		AutoReconnect:     true,
		Metrics:           m,
		Logger:            log.Component("engine"),
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	if influxClient != nil {
		eng.OnChange(engine.TelemetryListener(influxClient))
	}

	if startErr := eng.Start(ctx); startErr != nil {
		return fmt.Errorf("starting engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping engine")
		eng.Stop()
	}()

	mqttClient.SetOnConnect(eng.HandleConnect)
	mqttClient.SetOnDisconnect(eng.HandleConnectionLost)
	mqttClient.SetOnReconnecting(eng.HandleReconnecting)
	if mqttClient.IsConnected() {
		eng.HandleConnect()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{
			"database": db,
			"mqtt":     mqttClient,
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}

		srv, srvErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Engine:   eng,
			Audit:    auditRepo,
			Metrics:  m.Handler(),
			Checks:   checks,
			Version:  version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, engine, MQTT, InfluxDB, database.
	log.Info("feeder core stopped")
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when telemetry is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
