// README: Entry point; loads config, wires stores and services, starts HTTP server and background loops.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ridehail/internal/config"
	httptransport "ridehail/internal/http"
	"ridehail/internal/http/ws"
	"ridehail/internal/infra"
	"ridehail/internal/maps"
	"ridehail/internal/modules/fare"
	"ridehail/internal/modules/matching"
	"ridehail/internal/modules/profile"
	"ridehail/internal/modules/rating"
	"ridehail/internal/modules/ride"
	"ridehail/internal/modules/session"
	"ridehail/internal/types"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := infra.NewLogger("ridehail-api", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("ridehail-api stopped", "error", err)
		os.Exit(1)
	}
}

// backends are the external clients shared by stores. Nil fields are not
// configured for the selected backend.
type backends struct {
	db       *pgxpool.Pool
	redis    *redis.Client
	firebase *firebase.App
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var b backends
	var err error

	if cfg.Store.Backend != "memory" {
		b.db, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer b.db.Close()
		if cfg.DB.MigrationsDir != "" {
			if err := infra.Migrate(ctx, b.db, cfg.DB.MigrationsDir); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations applied", "dir", cfg.DB.MigrationsDir)
		}
		b.redis = infra.NewRedis(cfg.Redis.Addr)
		defer b.redis.Close()
	}
	if cfg.Firebase.ProjectID != "" {
		b.firebase, err = infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
	}

	verifier, err := newVerifier(ctx, cfg, b)
	if err != nil {
		return err
	}

	rideStore, listen, err := newRideStore(ctx, cfg, b, log)
	if err != nil {
		return err
	}

	var sinks []ride.EventSink
	surge := fare.AnySurge{fare.NewKeywordSurge(cfg.Fare.SurgeKeywords)}
	if b.redis != nil {
		demand := fare.NewRedisSurge(b.redis, cfg.Fare.SurgeDemandThreshold)
		sinks = append(sinks, demand)
		surge = append(surge, demand)
	}
	if cfg.AMQP.URL != "" {
		conn, ch, err := infra.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer conn.Close()
		defer ch.Close()
		sinks = append(sinks, ride.NewAMQPSink(ch, cfg.AMQP.Exchange))
	}
	if len(sinks) > 0 {
		rideStore = ride.NewEventingStore(rideStore, log, sinks...)
	}

	var (
		sessions  session.Store
		profiles  profile.Store
		prompts   rating.PromptStore
		overrides fare.OverrideSource
	)
	if b.db != nil {
		sessions = session.NewRedisStore(b.redis)
		profiles = profile.NewPostgresStore(b.db)
		prompts = rating.NewPostgresStore(b.db)
		overrides = fare.NewStore(b.db)
	} else {
		sessions = session.NewMemoryStore()
		profiles = profile.NewMemoryStore()
		prompts = rating.NewMemoryStore()
	}

	gateway, err := newGateway(cfg, log)
	if err != nil {
		return err
	}

	hub := ws.NewHub(log)
	ratings := rating.NewService(prompts, log)
	controller := ride.NewController(rideStore, sessions, profiles, ratings, hub, log)
	defer controller.Close()
	rides := ride.NewService(rideStore, ratings, cfg.Ride.PendingTimeout, cfg.Ride.ExpiryTick, log)
	feed := matching.NewFeed(rideStore, profiles, profiles, gateway, log)
	fares := fare.NewService(gateway, fare.NewTariffBook(cfg.Fare.Tariffs, overrides, log), surge, cfg.Fare.Currency, log)

	server := httptransport.NewServer(httptransport.ServerDeps{
		Controller: controller,
		Rides:      rides,
		Feed:       feed,
		Fares:      fares,
		Ratings:    ratings,
		Places:     gateway,
		Hub:        hub,
		Verifier:   verifier,
		Log:        log,
	})
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: server.Routes()}

	if listen != nil {
		go func() {
			if err := listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("ride change listener exited", "error", err)
			}
		}()
	}
	go rides.RunPendingExpiry(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Backend, "auth", cfg.Auth.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newVerifier(ctx context.Context, cfg config.Config, b backends) (infra.TokenVerifier, error) {
	if cfg.Auth.Mode == "jwt" {
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret), nil
	}
	if b.firebase == nil {
		return nil, errors.New("firebase auth requires RIDEHAIL_FIREBASE_PROJECT_ID")
	}
	return infra.NewFirebaseVerifier(ctx, b.firebase)
}

// newRideStore returns the configured store and, for Postgres, the
// notification listener that must run for watches to see changes.
func newRideStore(ctx context.Context, cfg config.Config, b backends, log *slog.Logger) (ride.Store, func(context.Context) error, error) {
	switch cfg.Store.Backend {
	case "firestore":
		client, err := infra.NewFirestore(ctx, b.firebase)
		if err != nil {
			return nil, nil, err
		}
		return ride.NewFirestoreStore(client, cfg.Store.FirestoreCollection, log), nil, nil
	case "postgres":
		s := ride.NewPostgresStore(b.db, log)
		return s, s.Listen, nil
	default:
		return ride.NewMemoryStore(), nil, nil
	}
}

func newGateway(cfg config.Config, log *slog.Logger) (maps.Gateway, error) {
	if cfg.Maps.APIKey != "" {
		return maps.NewGoogleGateway(cfg.Maps.APIKey, cfg.Maps.Region, cfg.Maps.Language)
	}
	log.Warn("RIDEHAIL_MAPS_API_KEY not set, using the offline gazetteer")
	return maps.NewStaticGateway(lisbonPlaces, 0), nil
}

var lisbonPlaces = []maps.Suggestion{
	{DisplayName: "Praça do Comércio, Lisboa", Coords: types.Point{Lat: 38.7075, Lng: -9.1364}},
	{DisplayName: "Aeroporto Humberto Delgado, Lisboa", Coords: types.Point{Lat: 38.7742, Lng: -9.1342}},
	{DisplayName: "Estação do Oriente, Lisboa", Coords: types.Point{Lat: 38.7678, Lng: -9.0990}},
	{DisplayName: "Marquês de Pombal, Lisboa", Coords: types.Point{Lat: 38.7253, Lng: -9.1500}},
	{DisplayName: "Torre de Belém, Lisboa", Coords: types.Point{Lat: 38.6916, Lng: -9.2160}},
	{DisplayName: "Cais do Sodré, Lisboa", Coords: types.Point{Lat: 38.7061, Lng: -9.1449}},
	{DisplayName: "Campo Pequeno, Lisboa", Coords: types.Point{Lat: 38.7425, Lng: -9.1456}},
}
