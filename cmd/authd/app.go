package main

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"

	auth "github.com/greensol/go-auth"
	"github.com/greensol/go-auth/activitymap"
	"github.com/greensol/go-auth/config"
	"github.com/greensol/go-auth/metrics"
	"github.com/greensol/go-auth/notifier"
)

// service holds everything serve starts and stops
type service struct {
	cfg        *config.Config
	logger     *auth.ZapLogger
	repo       auth.RepositoryManager
	dispatcher *auth.Dispatcher
	metrics    *metrics.Server
	server     router.Server[*fiber.App]
	app        *fiber.App
}

func newService(ctx context.Context, cfg *config.Config) (*service, error) {
	zl, err := auth.NewProductionLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryValidation, "invalid log configuration")
	}
	logger := auth.NewZapLogger(zl)

	repo, err := auth.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "connect to database")
	}

	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, errors.Wrap(err, errors.CategoryInternal, "run migrations")
	}

	svc := &service{cfg: cfg, logger: logger, repo: repo}

	var sinks auth.MultiActivitySink
	sinks = append(sinks, activitymap.NewLogSink(logger))

	if cfg.Metrics.Addr != "" {
		svc.metrics = metrics.NewServer(cfg.Metrics.Addr, func() bool {
			return repo.DB().PingContext(context.Background()) == nil
		}, logger)
		sinks = append(sinks, svc.metrics.Sink())
	}

	mailNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		repo.Close()
		return nil, err
	}

	svc.dispatcher = auth.NewDispatcher(mailNotifier,
		auth.WithDispatchLogger(logger),
		auth.WithDispatchActivitySink(sinks),
	)

	mailer, err := auth.NewVerificationMailer(cfg.GetBaseURL(), auth.WithMailAppName(cfg.Mail.AppName))
	if err != nil {
		repo.Close()
		return nil, err
	}

	pool := auth.NewWorkerPool(cfg.Auth.Workers)
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)

	tokens := auth.NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenTTL(),
		cfg.GetIssuer(),
		auth.WithTokenWorkerPool(pool),
		auth.WithTokenLogger(logger),
		auth.WithPreviousSigningKeys(cfg.GetPreviousSigningKeys()...),
	)

	auther := auth.NewAuthenticator(repo.Users(), tokens).
		WithLogger(logger).
		WithActivitySink(sinks).
		WithPasswordHasher(hasher).
		WithWorkerPool(pool)

	routes := auth.NewHTTPAuthenticator(auther, cfg.GetTokenHeader())
	routes.Logger = logger
	routes.Debug = cfg.HTTP.Debug

	fiberCfg := auth.FiberConfig(logger)
	fiberCfg.ErrorHandler = routes.ErrorHandler
	svc.app = fiber.New(fiberCfg)
	svc.server = router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		return svc.app
	})

	auth.RegisterAuthRoutes(svc.server.Router(),
		auth.WithAuthenticator(auther, cfg.GetTokenHeader()),
		auth.WithControllerLogger(logger),
		auth.WithDebug(cfg.HTTP.Debug),
		auth.WithVerifyRedirect(cfg.GetVerifyRedirectURL()),
		auth.WithHashidIDs(cfg.Auth.UseHashid),
		auth.WithCommandDeps(auth.CommandDeps{
			Users:           repo.Users(),
			Tokens:          tokens,
			Hasher:          hasher,
			Pool:            pool,
			Logger:          logger,
			Activity:        sinks,
			Mailer:          mailer,
			Dispatcher:      svc.dispatcher,
			VerificationTTL: cfg.GetVerificationTTL(),
		}),
	)

	return svc, nil
}

func newNotifier(cfg *config.Config, logger auth.Logger) (auth.Notifier, error) {
	switch cfg.Mail.Driver {
	case "smtp":
		return notifier.NewSMTP(notifier.SMTPConfig{
			Host:        cfg.Mail.Host,
			Port:        cfg.Mail.Port,
			Username:    cfg.Mail.Username,
			Password:    cfg.Mail.Password,
			From:        cfg.Mail.From,
			ImplicitTLS: cfg.Mail.ImplicitTLS,
		}, logger)
	default:
		return notifier.NewLog(logger, 0), nil
	}
}

// shutdown stops intake first, then drains pending mail
func (s *service) shutdown(ctx context.Context) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(s.app.ShutdownWithContext(ctx))
	keep(s.dispatcher.Close(ctx))
	if s.metrics != nil {
		keep(s.metrics.Stop(ctx))
	}
	keep(s.repo.Close())

	// stdout sync errors are expected on some platforms
	_ = s.logger.Sync()

	return first
}
