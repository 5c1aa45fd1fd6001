package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/activitymap"
	"github.com/goliatone/go-identity/bus"
	"github.com/goliatone/go-identity/middleware/jwtware"
	repo "github.com/goliatone/go-identity/repository"
	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config *gconfig.Container[*Config]
	bunDB  *bun.DB
	repo   repo.Manager
	keys   *identity.KeyRing
	bus    identity.EventBus
	auther *identity.Auther
	tokens *identity.TokenValidator
	srv    router.Server[*fiber.App]
	logger *glog.BaseLogger
}

func (a *App) Config() *Config {
	return a.config.Raw()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("identityd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg := gconfig.New(&Config{}).
		WithLogger(lgr.GetLogger("config"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfg.Load(ctx); err != nil {
		panic(err)
	}

	if cfg.Raw().GetApp().Debug {
		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(cfg.Raw()))
		fmt.Println("============")
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithSigningKeys(ctx, app); err != nil {
		panic(err)
	}

	if err := WithEventBus(ctx, app); err != nil {
		panic(err)
	}

	WithIdentity(app)

	if err := WithHTTPServer(app); err != nil {
		panic(err)
	}

	app.srv.Serve(app.Config().GetApp().GetAddr())

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	cancel()

	if err := app.bunDB.Close(); err != nil {
		app.GetLogger("app").Error("database close", "error", err)
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.Config().GetPersistence()

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.GetServer())
	if err != nil {
		return err
	}

	persistence.RegisterModel((*repo.UserModel)(nil))
	persistence.RegisterModel((*repo.UserRoleModel)(nil))
	persistence.RegisterModel((*repo.UserClaimModel)(nil))
	persistence.RegisterModel((*repo.SigningKeyModel)(nil))

	client, err := persistence.New(cfg, sqldb, sqlitedialect.New())
	if err != nil {
		return err
	}
	client.SetLogger(app.GetLogger("persistence"))

	migrationsFS, err := fs.Sub(repo.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return err
	}
	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
	)

	if err := client.Migrate(ctx); err != nil {
		return err
	}

	if report := client.Report(); report != nil && !report.IsZero() {
		app.GetLogger("persistence").Info("migrations applied", "report", report.String())
	}

	manager := repo.NewRepositoryManager(client.DB())
	if err := manager.Validate(); err != nil {
		return err
	}

	app.bunDB = client.DB()
	app.repo = manager
	return nil
}

func WithSigningKeys(ctx context.Context, app *App) error {
	icfg := app.Config().GetIdentity()

	keys := identity.NewKeyRing(app.repo.SigningKeys(), icfg.Options()).
		WithLogger(app.GetLogger("keys"))

	if err := keys.Load(ctx); err != nil {
		return err
	}

	if _, err := keys.RotateIfDue(ctx); err != nil {
		return err
	}

	go func() {
		if err := keys.Run(ctx, icfg.GetKeyCheckInterval()); err != nil && ctx.Err() == nil {
			app.GetLogger("keys").Error("key rotation loop stopped", "error", err)
		}
	}()

	app.keys = keys
	return nil
}

func WithEventBus(ctx context.Context, app *App) error {
	bcfg := app.Config().GetBus()

	if bcfg.Driver == "memory" {
		// development only: every registration is accepted
		app.bus = bus.NewMemory(func(_ context.Context, req identity.RegistrationRequest) (identity.RegistrationResult, error) {
			return identity.RegistrationResult{CorrelationID: req.CorrelationID, Valid: true}, nil
		})
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: bcfg.RedisAddr,
		DB:   bcfg.RedisDB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	app.bus = bus.NewRedis(client, bus.RedisOptions{
		QueueKey:    bcfg.QueueKey,
		ReplyTTL:    bcfg.GetReplyTTL(),
		WaitTimeout: bcfg.GetWaitTimeout(),
	}).WithLogger(app.GetLogger("bus"))

	return nil
}

func WithIdentity(app *App) {
	opts := app.Config().GetIdentity().Options()
	sink := identity.ActivitySinkFunc(func(_ context.Context, event identity.ActivityEvent) error {
		record := activitymap.Normalize(event)
		app.GetLogger("activity").Info(record.Verb,
			"actor_id", record.ActorID,
			"object_type", record.ObjectType,
			"object_id", record.ObjectID,
			"metadata", record.Metadata,
		)
		return nil
	})

	directory := repo.NewDirectory(app.repo, opts).
		WithLogger(app.GetLogger("directory"))

	issuer := identity.NewTokenIssuer(app.keys, opts).
		WithLogger(app.GetLogger("tokens"))

	validator := identity.NewTokenValidator(app.keys, opts).
		WithLogger(app.GetLogger("tokens"))

	coordinator := identity.NewRegistrationCoordinator(directory, app.bus, issuer, opts).
		WithLogger(app.GetLogger("registration")).
		WithActivitySink(sink)

	app.keys.WithActivitySink(sink)
	app.tokens = validator
	app.auther = identity.NewAuthenticator(directory, issuer, validator).
		WithLogger(app.GetLogger("auth")).
		WithActivitySink(sink).
		WithRegistrationCoordinator(coordinator)
}

func WithHTTPServer(app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.Config().GetApp().Debug,
			StrictRouting:     false,
		}))
	})

	r := srv.Router()

	identity.RegisterIdentityRoutes(r,
		identity.WithControllerDebug(app.Config().GetApp().Debug),
		identity.WithControllerLogger(app.GetLogger("http")),
		identity.WithControllerService(app.auther),
		identity.WithControllerKeySet(identity.KeySetFromProvider(app.keys)),
	)

	protected := jwtware.New(jwtware.Config{
		Validator:       app.tokens,
		ContextKey:      identity.DefaultClaimsKey,
		ContextEnricher: identity.WithClaimsContext,
		Logger:          app.GetLogger("jwt"),
	})

	r.Get("/api/identity/me", Me, protected).SetName("identity.me.get")

	app.srv = srv
	return nil
}

// Me echoes the claims of the caller's access token
func Me(ctx router.Context) error {
	claims, ok := identity.GetRouterClaims(ctx, identity.DefaultClaimsKey)
	if !ok {
		return ctx.JSON(router.StatusUnauthorized, identity.APIResponse{
			Errors: []string{"Unauthorized"},
		})
	}
	return ctx.JSON(router.StatusOK, identity.APIResponse{Success: true, Data: claims})
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
