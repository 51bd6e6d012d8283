// FleetLink Core tracks hardware agents and the dashboards watching them.
//
// Agents report presence and hardware state over a WebSocket; dashboards
// authenticate, receive scoped device events and can ask FleetLink to shut a
// device down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/fleetlink-core/migrations"

	"github.com/nerrad567/fleetlink-core/internal/agent"
	"github.com/nerrad567/fleetlink-core/internal/api"
	"github.com/nerrad567/fleetlink-core/internal/audit"
	"github.com/nerrad567/fleetlink-core/internal/auth"
	"github.com/nerrad567/fleetlink-core/internal/broadcast"
	"github.com/nerrad567/fleetlink-core/internal/dashboard"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/database"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/fleetlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetlink-core/internal/relay"
	"github.com/nerrad567/fleetlink-core/internal/tasks"
)

// Set at build time via -ldflags "-X main.version=1.0.0 -X main.commit=abc123".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// queueDrainTimeout bounds how long pending broadcasts may run after
	// the API has stopped.
	queueDrainTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, serves until ctx is cancelled, then shuts down
// in dependency order: channels first, then background work, then backends.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting FleetLink Core", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	queue := tasks.NewQueue(cfg.Broadcast.QueueSize, cfg.Broadcast.Workers)
	queue.SetLogger(log.With("component", "tasks"))
	queue.Start(ctx)
	defer func() {
		//nolint:errcheck // no-op after the explicit drain below
		queue.Close(context.Background())
	}()

	verifier, err := auth.NewVerifier(auth.Mode(cfg.Security.Session.AuthMode), cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer)
	if err != nil {
		return fmt.Errorf("creating session verifier: %w", err)
	}

	bridge := broadcast.NewBridge(st.devices, queue)
	bridge.SetLogger(log.With("component", "broadcast"))

	dispatcher := agent.NewDispatcher(st.devices, agent.NewRegistry(), bridge)
	dispatcher.SetLogger(log.With("component", "agent"))

	hub := dashboard.NewHub(st.devices, verifier, bridge)
	hub.SetLogger(log.With("component", "dashboard"))
	bridge.Attach(hub)

	commands := relay.New(st.devices, dispatcher.Registry(), hub, bridge, queue)
	commands.SetLogger(log.With("component", "relay"))
	hub.SetRelay(commands)

	if st.audit != nil {
		recorder := audit.NewRecorder(st.audit, queue)
		recorder.SetLogger(log.With("component", "audit"))
		commands.SetAudit(recorder)
	}

	mqttClient, err := connectBroker(cfg.MQTT, log, bridge, commands)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectTelemetry(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		dispatcher.SetTelemetry(influxClient)
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.With("component", "api"),
		Store:    st.devices,
		Agents:   dispatcher,
		Hub:      hub,
		Verifier: verifier,
		Relay:    commands,
		Bridge:   bridge,
		Audit:    st.audit,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	if err := healthCheck(ctx, st, mqttClient, influxClient); err != nil {
		server.Close() //nolint:errcheck // already failing
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete",
		"auth_mode", verifier.Mode(),
		"database", cfg.Database.Driver,
		"mqtt", mqttClient != nil,
		"influxdb", influxClient != nil,
		"debug_routes", cfg.API.Debug,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Closing the server runs every channel's close sweep, which queues
	// disconnect broadcasts; drain them before the store goes away.
	if err := server.Close(); err != nil {
		log.Error("error closing API server", "error", err)
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), queueDrainTimeout)
	defer cancel()
	if err := queue.Close(drainCtx); err != nil {
		log.Warn("task queue did not drain", "pending", queue.Pending(), "error", err)
	}

	log.Info("FleetLink Core stopped")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("FLEETLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// storage is the opened device store plus, on SQLite, the audit trail.
type storage struct {
	devices device.Store
	audit   audit.Repository
	health  func(context.Context) error
	close   func()
}

func openStorage(ctx context.Context, cfg *config.Config, log *logging.Logger) (*storage, error) {
	if cfg.Database.Driver == config.DriverPostgres {
		pool, err := database.OpenPostgres(ctx, cfg.Database.Postgres)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		store := device.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("creating postgres schema: %w", err)
		}
		log.Info("postgres connected; audit trail disabled (sqlite only)")
		return &storage{
			devices: store,
			health:  pool.Ping,
			close: func() {
				log.Info("closing postgres pool")
				pool.Close()
			},
		}, nil
	}

	db, err := database.Open(cfg.Database.SQLite)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	return &storage{
		devices: device.NewSQLiteStore(db.DB),
		audit:   audit.NewSQLiteRepository(db.DB),
		health:  db.HealthCheck,
		close: func() {
			log.Info("closing database")
			if err := db.Close(); err != nil {
				log.Error("error closing database", "error", err)
			}
		},
	}, nil
}

// connectBroker connects to MQTT when enabled and hooks it into the bridge
// (event mirror) and the relay (fallback command publish).
func connectBroker(cfg config.MQTTConfig, log *logging.Logger, bridge *broadcast.Bridge, commands *relay.Relay) (*mqtt.Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.With("component", "mqtt"))
	client.SetOnConnect(func() { log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)

	broker := mqtt.NewBroker(client, byte(cfg.QoS)) //nolint:gosec // QoS validated to 0-2
	bridge.SetMirror(broker)
	commands.SetPublisher(broker)

	err = broker.OnAck(func(mac string, ack mqtt.Ack) {
		log.Info("command acknowledged over MQTT",
			"mac_address", mac, "command", ack.Command, "success", ack.Success, "message", ack.Message)
	})
	if err != nil {
		log.Warn("subscribing to command acknowledgements failed", "error", err)
	}
	return client, nil
}

func connectTelemetry(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	client, err := influxdb.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

func healthCheck(ctx context.Context, st *storage, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := st.health(ctx); err != nil {
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
