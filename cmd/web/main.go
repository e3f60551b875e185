package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tablerelay/internal/config"
	"tablerelay/internal/game"
	"tablerelay/internal/handlers"
	"tablerelay/internal/rules"
	"tablerelay/internal/rules/luarules"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	logger := cfg.Logger()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	_ = mime.AddExtensionType(".js", "application/javascript")
	_ = mime.AddExtensionType(".css", "text/css")

	factory, err := engineFactory(cfg.RulesScript)
	if err != nil {
		return err
	}
	store := game.NewStore(factory, game.StoreOptions{
		Version:      cfg.Version(),
		GameLogDelay: cfg.GameLogDelay,
		Logger:       logger,
	})
	defer store.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))
	r.Use(middleware.Recoverer)

	staticFS, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		return err
	}
	r.Mount("/static", http.StripPrefix("/static", http.FileServer(http.FS(staticFS))))

	homeHandler := handlers.NewHomeHandler(store, cfg.Players, logger)
	gameHandler := handlers.NewGameHandler(store, cfg.BaseURL, logger)

	// Streams and sockets stay open, so only the plain pages get a timeout.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		homeHandler.RegisterRoutes(r)
	})
	gameHandler.RegisterRoutes(r)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.Addr()).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store.Close()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func engineFactory(script string) (game.EngineFactory, error) {
	if script == "" {
		return func() (rules.Engine, error) {
			e, err := luarules.NewBuiltin("pile")
			if err != nil {
				return nil, err
			}
			return e, nil
		}, nil
	}
	src, err := os.ReadFile(script)
	if err != nil {
		return nil, err
	}
	// Fail at startup rather than on the first game.
	probe, err := luarules.New(script, src)
	if err != nil {
		return nil, err
	}
	probe.Close()
	return func() (rules.Engine, error) {
		e, err := luarules.New(script, src)
		if err != nil {
			return nil, err
		}
		return e, nil
	}, nil
}

//go:embed static/*
var embeddedStatic embed.FS
