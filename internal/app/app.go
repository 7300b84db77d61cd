package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/vovakirdan/serverbot/internal/config"
	"github.com/vovakirdan/serverbot/internal/console"
	"github.com/vovakirdan/serverbot/internal/core"
	applog "github.com/vovakirdan/serverbot/internal/log"
	"github.com/vovakirdan/serverbot/internal/presence/gateway"
	"github.com/vovakirdan/serverbot/internal/profile"
	"github.com/vovakirdan/serverbot/internal/query"
	"github.com/vovakirdan/serverbot/internal/store"
	"github.com/vovakirdan/serverbot/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/serverbot/internal/transport/http"
)

const sessionDBName = "session.db"

// Options override the process streams, mostly for tests.
type Options struct {
	In  io.Reader
	Out io.Writer
}

// App wires the agent to its network clients, the console and the optional status API.
type App struct {
	agent           *core.Agent
	console         *console.Console
	gateway         *gateway.Client
	server          *stdhttp.Server
	store           store.SessionStore
	shutdownTimeout time.Duration
	cancel          context.CancelFunc
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger, opts Options) (*App, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	dbPath := filepath.Join(cfg.DataFolder, sessionDBName)
	st, err := sqlite.New(dbPath, store.NewSealer(cfg.Steam.Username, cfg.Steam.Password))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", dbPath).Msg("session store initialized")

	fs := afero.NewOsFs()
	prof, err := profile.New(cfg.Profile.BaseURL, cfg.Profile.ReloginEvery, fs, applog.Component(logger, "profile"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init profile client: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	gw := gateway.New(ctx, gateway.Options{
		URL:            cfg.Presence.GatewayURL,
		ReconnectDelay: cfg.Presence.ReconnectDelay,
		Store:          st,
		Logger:         applog.Component(logger, "gateway"),
	})

	agent := core.New(core.Deps{
		Config:    cfg,
		Presence:  gw,
		Profile:   prof,
		Transport: query.NewUDPTransport(),
		Fs:        fs,
		Logger:    logger,
		Out:       opts.Out,
	})
	cons := console.New(opts.In, agent, applog.Component(logger, "console"))
	agent.AttachConsole(cons)

	a := &App{
		agent:           agent,
		console:         cons,
		gateway:         gw,
		store:           st,
		shutdownTimeout: cfg.HTTP.ShutdownTimeout,
		cancel:          cancel,
		log:             logger,
	}
	if cfg.HTTP.Addr != "" {
		a.server = transporthttp.NewServer(agent, cfg.HTTP, applog.Component(logger, "http"))
	}
	return a, nil
}

// Agent returns the wired agent.
func (a *App) Agent() *core.Agent {
	return a.agent
}

// Run starts the bot and blocks until it quits, ctx is cancelled or the status API fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	agentErr := make(chan error, 1)
	go func() {
		agentErr <- a.agent.Run(ctx)
	}()
	a.console.Start()

	serverErr := make(chan error, 1)
	if a.server != nil {
		a.log.Info().Str("addr", a.server.Addr).Msg("status api listening")
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				serverErr <- err
				return
			}
			serverErr <- nil
		}()
	}

	var err error
	select {
	case err = <-agentErr:
	case err = <-serverErr:
		// the status api died; take the agent down with it
		cancel()
		<-agentErr
		a.server = nil
	}

	if a.server != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancelShutdown()

		a.log.Info().Msg("shutting down status api")
		if shutdownErr := a.server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}
	return err
}

// cleanup closes the gateway, the console and the store.
func (a *App) cleanup() {
	if err := a.gateway.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close gateway")
	}
	a.cancel()
	if err := a.console.Close(); err != nil {
		a.log.Debug().Err(err).Msg("console close")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
