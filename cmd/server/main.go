// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dnc-service/internal/config"
	"dnc-service/internal/database"
	"dnc-service/internal/discovery"
	"dnc-service/internal/driver"
	"dnc-service/internal/handler"
	"dnc-service/internal/model"
	"dnc-service/internal/publisher"
	"dnc-service/internal/repository"
	"dnc-service/internal/routes"
	"dnc-service/internal/stats"
	"dnc-service/internal/supervisor"
	"dnc-service/internal/transport"
	"dnc-service/internal/utils"
)

const journalCleanupInterval = time.Hour

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	// Core
	registry   *driver.Registry
	factory    *driver.Factory
	recorder   *stats.Recorder
	supervisor *supervisor.Supervisor
	discovery  *discovery.Manager

	// Events
	bus       *handler.EventBus
	websocket *handler.WebSocketHandler
	sinks     []sinkBinding
	journal   *publisher.JournalSink

	// Repositories
	commandRepo repository.CommandRepository
	statusRepo  repository.StatusRepository

	cancel context.CancelFunc
}

// sinkBinding pairs a sink with the event types it receives. No types means all.
type sinkBinding struct {
	sink  publisher.Sink
	types []model.EventType
}

func main() {
	app, err := NewApplication()
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg.App)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeCore()
	app.initializeEvents()

	if err := app.initializeServer(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return app, nil
}

// initializeDatabase opens the journal database when it is enabled and runs migrations
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Command journal disabled")
		return nil
	}

	db, err := database.NewConnection(&app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	migrator := database.NewMigrator(db, app.logger)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.commandRepo = repository.NewCommandRepository(db, app.logger)
	app.statusRepo = repository.NewStatusRepository(db, app.logger)

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeCore builds the adapter registry, link factory, stats recorder and supervisor
func (app *Application) initializeCore() {
	app.registry = driver.NewRegistry(app.logger)
	driver.RegisterDefaultAdapters(app.registry, app.logger)

	app.factory = driver.NewFactory(app.registry, app.logger)
	app.recorder = stats.NewRecorder(app.config.Device.HistorySize)

	app.supervisor = supervisor.New(app.factory, app.recorder, supervisor.Config{
		LivenessInterval: app.config.Device.LivenessInterval,
		DisconnectGrace:  app.config.Device.DisconnectGrace,
		IOErrorThreshold: app.config.Device.IOErrorThreshold,
		DefaultTimeout:   app.config.Device.OperationTimeout,
	}, app.logger)

	app.discovery = app.newDiscovery()

	app.logger.Info("Core initialized successfully",
		zap.Int("registered_adapters", len(app.registry.ListVendors())),
		zap.Int("history_size", app.recorder.Capacity()),
	)
}

// newDiscovery registers the serial and USB endpoint scanners. Reported endpoints
// carry the configured line defaults and vendor.
func (app *Application) newDiscovery() *discovery.Manager {
	serialDefaults := app.config.Device.DefaultPorts.Serial
	vendor, err := model.ParseVendor(app.config.Device.Connection.Vendor)
	if err != nil {
		vendor = ""
	}

	manager := discovery.NewManager(app.logger)
	manager.Register(discovery.NewSerialScanner(model.SerialParams{
		BaudRate: serialDefaults.BaudRate,
		DataBits: serialDefaults.DataBits,
		StopBits: serialDefaults.StopBits,
		Parity:   serialDefaults.Parity,
	}, vendor, app.logger))
	manager.Register(discovery.NewUSBScanner(vendor, app.logger))
	return manager
}

// initializeEvents creates the event bus, the WebSocket stream and the enabled sinks
func (app *Application) initializeEvents() {
	app.bus = handler.NewEventBus(app.logger)
	app.websocket = handler.NewWebSocketHandler(app.bus, app.supervisor, app.config.Server.AllowedOrigins, app.logger)

	events := app.config.Events
	if events.MQTT.Enabled {
		app.sinks = append(app.sinks, sinkBinding{
			sink: publisher.NewMQTTSink(&events.MQTT, app.config.GetMQTTBrokerURL(), app.logger),
		})
	}
	if events.Valkey.Enabled {
		app.sinks = append(app.sinks, sinkBinding{
			sink: publisher.NewValkeySink(&events.Valkey, app.logger),
		})
	}
	if events.Kafka.Enabled {
		app.sinks = append(app.sinks, sinkBinding{
			sink:  publisher.NewKafkaSink(&events.Kafka, app.logger),
			types: []model.EventType{model.EventCommandResult},
		})
	}
	if app.database != nil {
		app.journal = publisher.NewJournalSink(app.commandRepo, app.statusRepo, app.logger)
		app.sinks = append(app.sinks, sinkBinding{sink: app.journal})
	}

	app.logger.Info("Event sinks configured", zap.Int("sinks", len(app.sinks)))
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() error {
	handlers := routes.Handlers{
		Connection: handler.NewConnectionHandler(
			app.supervisor,
			app.factory,
			app.config.Device.ApplyDefaults,
			transport.ListSerialPorts,
			app.logger,
		),
		Command:   handler.NewCommandHandler(app.supervisor, app.logger),
		Discovery: handler.NewDiscoveryHandler(app.discovery, app.logger),
		WebSocket: app.websocket,
	}

	if app.database != nil {
		handlers.Health = handler.NewHealthHandler(app.database, app.supervisor, app.config, app.logger)
		handlers.Journal = handler.NewJournalHandler(app.commandRepo, app.statusRepo, app.logger)
	} else {
		handlers.Health = handler.NewHealthHandler(nil, app.supervisor, app.config, app.logger)
	}

	router := routes.NewRouter(app.config, app.logger, handlers).SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.server.Addr))
	return nil
}

// startBackgroundServices starts the bus, the sinks and the journal cleanup
func (app *Application) startBackgroundServices(ctx context.Context) {
	go app.bus.Start(ctx)
	app.bus.Attach(app.config.App.Name, app.supervisor)
	go app.websocket.Run(ctx)

	started := app.sinks[:0]
	for _, binding := range app.sinks {
		if err := binding.sink.Start(ctx); err != nil {
			app.logger.Error("Failed to start event sink, continuing without it",
				zap.String("sink", binding.sink.Name()),
				zap.Error(err),
			)
			continue
		}
		go publisher.Run(ctx, binding.sink, app.bus.Subscribe(binding.types...), publisher.DefaultPublishTimeout, app.logger)
		started = append(started, binding)
	}
	app.sinks = started

	if app.journal != nil && app.config.Database.RetentionDays > 0 {
		go app.startCleanupService(ctx)
	}

	app.logger.Info("Background services started", zap.Int("active_sinks", len(app.sinks)))
}

// startCleanupService removes journal entries past the retention period
func (app *Application) startCleanupService(ctx context.Context) {
	retention := time.Duration(app.config.Database.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(journalCleanupInterval)
	defer ticker.Stop()

	app.logger.Info("Journal cleanup started", zap.Duration("retention", retention))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			if err := app.journal.Cleanup(cleanupCtx, retention); err != nil {
				app.logger.Error("Failed to cleanup journal", zap.Error(err))
			}
			cancel()
		}
	}
}

// autoConnect opens the configured default connection
func (app *Application) autoConnect(ctx context.Context) {
	params, err := app.config.ConnectionDefaults()
	if err != nil {
		app.logger.Error("Invalid default connection, skipping auto connect", zap.Error(err))
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, 2*params.Timeout+app.config.Device.OperationTimeout)
	defer cancel()

	if err := app.supervisor.Connect(connectCtx, params); err != nil {
		app.logger.Error("Auto connect failed",
			zap.String("address", params.Address()),
			zap.Error(err),
		)
		return
	}
	app.logger.Info("Auto connect succeeded", zap.String("address", params.Address()))
}

// Start runs the application until a shutdown signal arrives
func (app *Application) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	app.startBackgroundServices(ctx)

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if app.config.Device.AutoConnect {
		go app.autoConnect(ctx)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		return app.shutdown("shutdown signal received")
	case err := <-serverErr:
		app.shutdown("http server failed")
		return fmt.Errorf("http server failed: %w", err)
	}
}

// shutdown stops the server, closes the connection, the sinks and the database
func (app *Application) shutdown(reason string) error {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop(reason)

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	var errs error
	if err := app.server.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http server shutdown: %w", err))
	}

	if err := app.supervisor.Disconnect(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("controller disconnect: %w", err))
	}
	if err := app.factory.DisconnectAll(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("link cleanup: %w", err))
	}

	// Let the final status change reach the sinks before they stop
	time.Sleep(100 * time.Millisecond)
	if app.cancel != nil {
		app.cancel()
	}

	for _, binding := range app.sinks {
		if err := binding.sink.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s sink: %w", binding.sink.Name(), err))
		}
	}

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		app.logger.Error("Shutdown completed with errors", zap.Error(errs))
	} else {
		app.logger.Info("Application shutdown completed")
	}

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
	return errs
}
