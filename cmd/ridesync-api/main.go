// README: Entry point; loads config, wires services, starts HTTP server and background loops.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"ridesync/internal/config"
	httptransport "ridesync/internal/http"
	"ridesync/internal/infra"
	"ridesync/internal/kv"
	"ridesync/internal/maps"
	"ridesync/internal/modules/broadcast"
	"ridesync/internal/modules/identity"
	"ridesync/internal/modules/location"
	"ridesync/internal/modules/pricing"
	"ridesync/internal/modules/registry"
	"ridesync/internal/modules/session"
	"ridesync/internal/modules/taxi"
	"ridesync/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := infra.NewLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("ridesync-api exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Firebase.ProjectID == "" {
		return errors.New("RIDESYNC_FIREBASE_PROJECT_ID is required")
	}
	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
	if err != nil {
		return err
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		return fmt.Errorf("firebase init: %w", err)
	}

	var (
		store       kv.Store
		redisClient *redis.Client
	)
	switch cfg.Store {
	case config.StoreRedis:
		if redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr); err != nil {
			return err
		}
		defer redisClient.Close()
		store = kv.NewRedisStore(redisClient, "ridesync:")
	default:
		store = kv.NewMemoryStore()
	}

	pool := session.NewPool(nil, log)
	users := identity.NewStore(store, log)
	tokens := taxi.NewTokenSource(store)
	users.OnSessionChange(func(id types.ID) {
		pool.Reset(id)
		tokens.Forget()
	})

	prices := pricing.NewService(nil)
	var requestStore registry.Store = registry.NewBlobStore(store)
	if cfg.Registry == config.RegistryPostgres {
		db, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		requestStore = registry.NewPGStore(db)
		prices = pricing.NewService(pricing.NewStore(db))
	}
	reg := registry.NewService(requestStore, pool, users, log)
	pool.SetPruner(reg)

	hub := broadcast.NewHub(cfg.Trips.HubBuffer, log)
	var publisher broadcast.Publisher = hub
	if redisClient != nil {
		bus := broadcast.NewRedisBus(redisClient, hub, log)
		publisher = broadcast.Fanout{hub, bus}
		go func() {
			if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis event bus stopped", "err", err)
			}
		}()
	}
	events := broadcast.NewLog(store, publisher, log)

	client := taxi.NewClient(cfg.API.BaseURL, tokens, log)
	locations := location.NewService(location.NewStore(store), reg, events, log)
	if client.Configured() {
		locations.AddSyncer(client)
	}
	if cfg.Firebase.DatabaseURL != "" {
		rtdb, err := infra.NewFirebaseDatabase(ctx, app)
		if err != nil {
			return err
		}
		locations.AddSyncer(location.NewFirebaseMirror(rtdb))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sink := location.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer sink.Close()
		locations.AddSyncer(sink)
	}

	var places taxi.PlaceResolver
	if cfg.Maps.Key != "" {
		mc, err := maps.NewClient(cfg.Maps.Key)
		if err != nil {
			return err
		}
		locations.SetRouter(maps.NewRouteService(mc))
		places = maps.NewPlacesService(mc)
	}

	trips := taxi.NewService(taxi.Deps{
		Client:   client,
		Tokens:   tokens,
		Registry: reg,
		Sessions: pool,
		Events:   events,
		Pricing:  prices,
		Places:   places,
		KV:       store,
		Log:      log,
	})

	go pool.RunSearchTicker(ctx, cfg.Trips.SearchTick)

	server := httptransport.NewServer(httptransport.ServerDeps{
		Registry:       reg,
		Trips:          trips,
		Sessions:       pool,
		Users:          users,
		Location:       locations,
		Pricing:        prices,
		Events:         events,
		Hub:            hub,
		Verifier:       verifier,
		Log:            log,
		NearbyRadiusKm: cfg.Trips.NearbyRadius,
	})
	err = server.Run(ctx, cfg.HTTP.Addr)

	// Let background cleanups and syncs finish before the stores close.
	pool.Wait()
	locations.WaitSync()
	return err
}
