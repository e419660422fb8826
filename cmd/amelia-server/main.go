// Command amelia-server wires the orchestration core (package orchestrator),
// its persistence and checkpoint backends, the event bus's mandatory
// subscribers, and the HTTP/WebSocket wire layers into one runnable process
// (SPEC_FULL.md §0 "cmd/amelia-server/ entrypoint"). Flag parsing, logger
// setup, and the signal-driven shutdown sequence are grounded on the
// teacher's example/cmd/assistant/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"goa.design/clue/log"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/amelia-dev/amelia/checkpoint/mongodoc"
	"github.com/amelia-dev/amelia/config"
	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/orchestrator"
	"github.com/amelia-dev/amelia/pipeline/amelia"
	"github.com/amelia-dev/amelia/pipeline/inmem"
	"github.com/amelia-dev/amelia/repo/postgres"
	"github.com/amelia-dev/amelia/telemetry"
	httpwire "github.com/amelia-dev/amelia/wire/http"
	"github.com/amelia-dev/amelia/wire/ws"
)

func main() {
	dbgF := flag.Bool("debug", false, "Log request and response bodies")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	if err := run(ctx); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var profiles *config.FileProfileStore
	if cfg.ProfilesPath != "" {
		profiles, err = config.LoadProfiles(cfg.ProfilesPath)
		if err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
	}

	logger := telemetry.NewClueLogger()

	pgPool, err := postgres.Open(ctx, postgres.Options{DSN: cfg.PostgresDSN})
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer pgPool.Close()

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Printf(ctx, "mongo disconnect: %v", err)
		}
	}()

	checkpoints, err := mongodoc.New(mongodoc.Options{
		Client:   mongoClient,
		Database: cfg.MongoDatabase,
	})
	if err != nil {
		return fmt.Errorf("create checkpoint store: %w", err)
	}

	bus := events.New(logger)
	bus.Subscribe(events.NewPersister(pgPool.Events(), logger))
	bus.Subscribe(events.NewTokenUsageSink(pgPool.TokenUsage(), logger))

	broker := ws.NewBroker(pgPool.Events(), logger, cfg.WebsocketQueueDepth)
	bus.Subscribe(broker)

	graph := amelia.Build(amelia.Agents{
		Architect: unconfiguredAgent("architect"),
		Developer: unconfiguredAgent("developer"),
		Reviewer:  unconfiguredAgent("reviewer"),
	}, bus, logger, cfg.MaxPipelineSteps)
	engine := inmem.New(graph, checkpoints, logger)

	opts := orchestrator.Options{
		Workflows:              pgPool.Workflows(),
		Events:                 pgPool.Events(),
		TokenUsage:             pgPool.TokenUsage(),
		Checkpoints:            checkpoints,
		Engine:                 engine,
		Bus:                    bus,
		Tracker:                unconfiguredTracker{},
		Logger:                 logger,
		MaxConcurrentWorkflows: cfg.MaxConcurrentWorkflows,
		CancelGracePeriod:      cfg.CancelGracePeriod,
	}
	if profiles != nil {
		opts.Profiles = profiles
	}

	svc, err := orchestrator.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	httpwire.Serve(ctx, cfg.HTTPAddr, svc, httpwire.Options{}, logger, &wg, errc)
	serveWebSocket(ctx, cfg.WSAddr, broker, logger, &wg, errc)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
	return nil
}
