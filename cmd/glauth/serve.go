package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-auth/internal/api"
	"github.com/nerrad567/gray-logic-auth/internal/audit"
	"github.com/nerrad567/gray-logic-auth/internal/auth"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-auth/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-auth/internal/session"
)

// sentryFlushTimeout bounds how long shutdown waits for queued error reports.
const sentryFlushTimeout = 2 * time.Second

func serveCmd(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath())
		},
	}
}

// run is the service lifecycle, separated from the command for testability.
// It returns nil on clean shutdown once ctx is cancelled.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo,funlen // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Auth",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", configPath)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			SampleRate:       cfg.Sentry.SampleRate,
			Release:          "glauth@" + version,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("initialising sentry: %w", err)
		}
		defer sentry.Flush(sentryFlushTimeout)
		log.Info("sentry error reporting enabled", "environment", cfg.Sentry.Environment)
	}

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
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
	} else {
		log.Info("InfluxDB disabled")
	}

	auditRepo := audit.NewRepository(db)
	recorder, err := newRecorder(cfg, log, registry, auditRepo, mqttClient, influxClient)
	if err != nil {
		return err
	}

	authManager, err := newAuthManager(db, cfg, log, auth.WithEvents(recorder))
	if err != nil {
		return err
	}

	password, err := auth.SeedAdmin(ctx, authManager, log.Logger)
	if err != nil {
		return fmt.Errorf("seeding admin: %w", err)
	}
	if password != "" {
		log.Warn("initial admin account created, change this password now",
			"username", auth.SeedAdminUsername,
			"password", password,
		)
	}

	var rdb *redis.Client
	if cfg.Session.Backend == config.SessionBackendRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := rdb.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		if pingErr := rdb.Ping(ctx).Err(); pingErr != nil {
			return fmt.Errorf("connecting to Redis: %w", pingErr)
		}
		log.Info("Redis session backend connected", "addr", cfg.Redis.Addr)
	}

	var sessionRedis session.RedisClient
	if rdb != nil {
		sessionRedis = rdb
	}
	sessions, err := session.NewStore(cfg.Session, cfg.Redis, sessionRedis)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}

	cookies := session.CookieOptions{
		Path:   cfg.Auth.Cookie.Path,
		Domain: cfg.Auth.Cookie.Domain,
		Secure: cfg.Auth.Cookie.Secure,
	}
	if cfg.Auth.Cookie.SigningKey != "" {
		cookies.Codec = session.NewCodec(cfg.Auth.Cookie.SigningKey)
	}

	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		Security:    cfg.Security,
		Logger:      log,
		Auth:        authManager,
		Sessions:    sessions,
		SessionName: cfg.Session.Name,
		Cookies:     cookies,
		AuditRepo:   auditRepo,
		DB:          db,
		MQTT:        mqttClient,
		Registry:    registry,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	janitor := auth.NewJanitor(authManager, cfg.Auth.JanitorPeriod())
	janitor.Start(ctx)
	defer janitor.Stop()

	if mqttClient != nil {
		topic := mqtt.Topics{}.RevokeCommand()
		if err := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), revokeHandler(ctx, authManager)); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		log.Info("listening for revoke commands", "topic", topic)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse: janitor, API, Redis, InfluxDB, MQTT,
	// database, then the Sentry flush.
	return nil
}

// newRecorder fans security events out to every configured sink. The SQL
// audit log is always present.
func newRecorder(cfg *config.Config, log *logging.Logger, reg prometheus.Registerer,
	repo *audit.Repository, mqttClient *mqtt.Client, influxClient *influxdb.Client,
) (*audit.Recorder, error) {
	metricsSink, err := audit.NewMetricsSink(reg)
	if err != nil {
		return nil, fmt.Errorf("registering audit metrics: %w", err)
	}

	sinks := []audit.Sink{repo, metricsSink, audit.NewLogSink(log.Logger)}
	if mqttClient != nil {
		sinks = append(sinks, audit.NewMQTTSink(mqttClient, mqtt.Topics{}.Event, byte(cfg.MQTT.QoS)))
	}
	if influxClient != nil {
		sinks = append(sinks, audit.NewInfluxSink(influxClient))
	}
	return audit.NewRecorder(log.Logger, sinks...), nil
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
