package main

import (
	"context"
	"errors"
	"fmt"

	_ "github.com/nerrad567/courier-core/migrations"

	"github.com/nerrad567/courier-core/internal/api"
	"github.com/nerrad567/courier-core/internal/infrastructure/config"
	"github.com/nerrad567/courier-core/internal/infrastructure/database"
	"github.com/nerrad567/courier-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/courier-core/internal/infrastructure/logging"
	"github.com/nerrad567/courier-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/courier-core/internal/manager"
	"github.com/nerrad567/courier-core/internal/netwatch"
	"github.com/nerrad567/courier-core/internal/persistence"
	"github.com/nerrad567/courier-core/internal/session"
)

// run is the daemon, separated from the command for testability.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - configPath: Configuration file to load
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Courier",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("flow store ready", "backend", cfg.Persistence.Backend, "persistent", st.flows.Persistent())

	// Telemetry points are tagged with the client id, so it is fixed here
	// rather than generated inside the MQTT client.
	if cfg.Auth.ClientID == "" {
		cfg.Auth.ClientID = session.GenerateClientID()
		log.Info("generated client id", "client_id", cfg.Auth.ClientID)
	}

	var handlers []manager.EventHandler
	influxClient, err := influxdb.Connect(cfg.Telemetry, cfg.Auth.ClientID)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("telemetry disabled")
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
		handlers = append(handlers, influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.Telemetry.URL,
			"org", cfg.Telemetry.Org,
			"bucket", cfg.Telemetry.Bucket,
		)
	}

	mqttClient, err := mqtt.Connect(ctx, *cfg, mqtt.Deps{
		Store:         st.flows,
		Subscriptions: st.subs,
		Incoming:      st.incoming,
		EventHandlers: handlers,
		Logger:        log.With("component", "mqtt"),
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected", "broker", cfg.Broker.URL, "client_id", mqttClient.ClientID())

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// With holding on, messages for restored filters nobody handles wait
	// in the store for a matching subscription instead.
	if cfg.GetIncomingTTL() > 0 {
		log.Info("holding unhandled messages", "ttl", cfg.GetIncomingTTL())
	} else {
		mqttClient.SetDefaultHandler(logMessage(log))
	}
	for _, sub := range cfg.Subscriptions {
		if err := mqttClient.Subscribe(sub.Topic, byte(sub.QoS), logMessage(log)); err != nil {
			return fmt.Errorf("subscribing to %q: %w", sub.Topic, err)
		}
		log.Info("subscribed", "topic", sub.Topic, "qos", sub.QoS)
	}

	reloader, err := watchSubscriptions(ctx, configPath, cfg.Subscriptions, mqttClient, log.With("component", "reload"))
	if err != nil {
		log.Warn("config watch unavailable, subscriptions need a restart to change", "error", err)
	} else {
		defer reloader.Stop()
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log.With("component", "api"),
			Client:     mqttClient,
			Store:      st.flows,
			Version:    version,
			DefaultQoS: byte(cfg.Session.QoS),
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
		mqttClient.Manager().AddEventHandler(apiServer)
	} else {
		log.Info("API disabled")
	}

	if cfg.Network.Watch {
		watcher := netwatch.New(cfg.GetNetworkInterval(), mqttClient.Manager().NetworkChanged,
			netwatch.WithLogger(log.With("component", "netwatch")))
		watcher.Start()
		defer watcher.Stop()
	}

	if err := healthCheck(ctx, st, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred closes run in reverse: netwatch, API, reload, MQTT, InfluxDB, database.
	return nil
}

// stores bundles the flow and subscription stores with the database that
// backs them, if any.
type stores struct {
	flows    persistence.Store
	subs     persistence.SubscriptionStore
	incoming persistence.IncomingStore
	db    *database.DB
}

// openStores builds the stores selected by persistence.backend. The sqlite
// backend opens and migrates the database.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	limits := persistence.Limits{
		MaxMessages: cfg.Persistence.MaxMessages,
		MaxSize:     cfg.Persistence.MaxSize,
	}

	if cfg.Persistence.Backend != "sqlite" {
		return &stores{
			flows:    persistence.NewMemoryStore(limits),
			subs:     persistence.NewMemorySubscriptionStore(),
			incoming: persistence.NewMemoryIncomingStore(),
		}, nil
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Persistence.Path,
		WALMode:     cfg.Persistence.WALMode,
		BusyTimeout: cfg.Persistence.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &stores{
		flows:    persistence.NewSQLiteStore(db.DB, limits),
		subs:     persistence.NewSQLiteSubscriptionStore(db.DB),
		incoming: persistence.NewSQLiteIncomingStore(db.DB),
		db:       db,
	}, nil
}

// Close closes the database, if one was opened.
func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// logMessage returns a handler that logs every message it receives.
func logMessage(log *logging.Logger) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		log.Info("message received", "topic", topic, "size", len(payload))
		return nil
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - st: Stores to check (the database only for the sqlite backend)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, st *stores, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if st.db != nil {
		if err := st.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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
