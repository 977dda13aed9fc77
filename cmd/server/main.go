package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bionicpro/auth-service/auth"
	"github.com/bionicpro/auth-service/internal/config"
	"github.com/bionicpro/auth-service/kvstore"
	"github.com/bionicpro/auth-service/pkce"
	"github.com/bionicpro/auth-service/provider"
	"github.com/bionicpro/auth-service/server"
	"github.com/bionicpro/auth-service/sessions"
	"github.com/bionicpro/auth-service/vault"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Error().Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()

	c := config.New()
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx := context.Background()
	srv, err := buildServer(ctx, c)
	if err != nil {
		return err
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func buildServer(ctx context.Context, c config.Config) (*server.Server, error) {
	store, err := kvstore.NewRedisStore(ctx, kvstore.RedisConfig{
		Addr: c.GetRedisAddr(),
		DB:   c.GetRedisDB(),
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore.NewRedisStore: %w", err)
	}

	tokenVault, err := vault.New(c.GetTokenEncryptionKey())
	if err != nil {
		return nil, fmt.Errorf("vault.New: %w", err)
	}

	idp, err := provider.New(ctx, provider.Config{
		IssuerURL:       c.GetIssuerURL(),
		PublicIssuerURL: c.GetPublicIssuerURL(),
		ClientID:        c.GetClientID(),
		ClientSecret:    c.GetClientSecret(),
		RedirectURL:     c.GetRedirectURL(),
		Scopes:          c.GetScopes(),
		Timeout:         c.GetProviderTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("provider.New: %w", err)
	}

	manager, err := auth.NewSessionManager(
		sessions.NewRepo(store, c.GetSessionTTL()),
		pkce.NewGenerator(store, c.GetPKCETTL()),
		tokenVault,
		idp,
		c.GetDefaultAccessTokenTTL(),
	)
	if err != nil {
		return nil, fmt.Errorf("auth.NewSessionManager: %w", err)
	}

	return server.New(c, manager, store), nil
}

func setupLogging(c config.Config) {
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
