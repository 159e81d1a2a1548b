package main

import (
	"context"
	"log"
	"time"

	"bookshelf/internal/identity"
	"bookshelf/internal/remote"
	"bookshelf/internal/remote/memory"
	"bookshelf/internal/server"
	"bookshelf/internal/storage"
	"bookshelf/internal/storage/redisfeed"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"
)

// appConfig selects the backend halves
type appConfig struct {
	Store   string `env:"STORE" envDefault:"postgres"`
	Feed    string `env:"FEED" envDefault:"postgres"`
	Migrate bool   `env:"MIGRATE" envDefault:"true"`
}

type backend struct {
	remote.Store
	remote.Feed
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	var (
		app       appConfig
		serverCfg server.EnvConfig
		idCfg     identity.Config
	)
	for _, cfg := range []interface{}{&app, &serverCfg, &idCfg} {
		if err := env.Parse(cfg); err != nil {
			sugar.Fatalf("Cannot parse env config: %v", err)
		}
	}

	verifier, err := identity.NewVerifier(idCfg)
	if err != nil {
		sugar.Fatalf("Cannot create token verifier: %v", err)
	}

	ctx := context.Background()
	var (
		b       backend
		pg      *storage.Store
		mem     *memory.Store
		cleanup []func()
	)

	switch app.Store {
	case "postgres":
		var dbCfg storage.Config
		if err := env.Parse(&dbCfg); err != nil {
			sugar.Fatalf("Cannot parse db config: %v", err)
		}

		pg, err = storage.NewStore(ctx, sugar, dbCfg, storage.ConnectionTimeout(30*time.Second))
		if err != nil {
			sugar.Fatalf("Cannot create Store instance: %v", err)
		}
		cleanup = append(cleanup, pg.Close)

		if app.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				sugar.Fatalf("Cannot migrate database: %v", err)
			}
		}
		b.Store = pg
	case "memory":
		mem = memory.New(memory.WithReferences())
		b.Store = mem
	default:
		sugar.Fatalf("Unknown STORE %q, expected postgres or memory", app.Store)
	}

	switch app.Feed {
	case "postgres":
		if pg == nil {
			sugar.Fatal("FEED=postgres requires STORE=postgres")
		}
		l := storage.NewListener(sugar)
		if err := l.Start(ctx, pg); err != nil {
			sugar.Fatalf("Cannot listen for changes: %v", err)
		}
		// closed before the pool it was taken from
		cleanup = append([]func(){l.Close}, cleanup...)
		b.Feed = l
	case "redis":
		var redisCfg redisfeed.Config
		if err := env.Parse(&redisCfg); err != nil {
			sugar.Fatalf("Cannot parse redis config: %v", err)
		}

		client := redisfeed.NewClient(redisCfg)
		sub := redisfeed.NewSubscriber(sugar, client)
		if err := sub.Start(ctx); err != nil {
			sugar.Fatalf("Cannot subscribe to redis: %v", err)
		}
		cleanup = append([]func(){func() { sub.Close(); client.Close() }}, cleanup...)

		b.Store = redisfeed.NewPublisher(sugar, b.Store, client)
		b.Feed = sub
	case "memory":
		if mem == nil {
			sugar.Fatal("FEED=memory requires STORE=memory")
		}
		b.Feed = mem
	default:
		sugar.Fatalf("Unknown FEED %q, expected postgres, redis or memory", app.Feed)
	}

	serverOpts := []server.Option{
		server.WithEnvConfig(serverCfg),
		server.ReadTimeout(5 * time.Second),
		server.TimeoutHandler(10*time.Second, "Request timed out"),
	}
	for _, f := range cleanup {
		serverOpts = append(serverOpts, server.RegisterAfterShutdown(f))
	}

	srv, err := server.NewServer(sugar, b, verifier, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
