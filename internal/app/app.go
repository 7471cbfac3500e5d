package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ws2dgo/server/internal/command"
	"github.com/ws2dgo/server/internal/config"
	wsnet "github.com/ws2dgo/server/internal/net"
	"github.com/ws2dgo/server/internal/server"
)

// PreStarter is implemented by games that register packet types or
// commands. It runs before the registries are frozen.
type PreStarter interface {
	PreStart(a *App) error
}

// Starter is implemented by games that act once the loop is running. Start
// runs on the tick goroutine during the first tick.
type Starter interface {
	Start(a *App)
}

// Shutdowner is implemented by games that clean up after the loop exits.
type Shutdowner interface {
	Shutdown(a *App)
}

// App wires the server, its transport and the game together.
type App struct {
	Config   *config.Config
	Server   *server.Server
	Commands *command.Registry
	Game     any
	Log      *zap.Logger

	listener *wsnet.Listener
	ready    chan struct{}
	booted   bool
	once     sync.Once
}

// New builds an App. game may be nil or implement any of the lifecycle
// interfaces.
func New(cfg *config.Config, game any, log *zap.Logger) *App {
	return &App{
		Config:   cfg,
		Server:   server.New(cfg.Network, log.Named("server")),
		Commands: command.NewRegistry(),
		Game:     game,
		Log:      log,
		ready:    make(chan struct{}),
	}
}

// Boot registers the preset packets and commands, then runs the game's
// PreStart. Any error aborts startup.
func (a *App) Boot() error {
	if a.booted {
		return nil
	}
	if err := a.Server.RegisterPresets(); err != nil {
		return err
	}
	if err := command.RegisterBuiltins(a.Commands); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	if g, ok := a.Game.(PreStarter); ok {
		if err := a.guard("pre-start", func() error { return g.PreStart(a) }); err != nil {
			return err
		}
	}
	a.booted = true
	return nil
}

// Run listens, drives the tick loop until shutdown and then closes the
// listener and runs the game's Shutdown hook.
func (a *App) Run(ctx context.Context) error {
	if err := a.Boot(); err != nil {
		return err
	}

	n := a.Config.Network
	rl := a.Config.RateLimit
	ln, err := wsnet.Listen(wsnet.Options{
		BindAddress:       n.BindAddress,
		ClientDir:         n.ClientDir,
		MainHTML:          n.MainHTML,
		OutQueueSize:      n.OutQueueSize,
		ReadLimit:         n.ReadLimit,
		WriteTimeout:      n.WriteTimeout,
		MaxSockets:        n.MaxSockets,
		RateLimit:         rl.Enabled,
		FramesPerSecond:   rl.FramesPerSecond,
		ConnectsPerMinute: rl.ConnectsPerMinute,
	}, server.NetHandler{Server: a.Server}, a.Log.Named("net"))
	if err != nil {
		return err
	}
	a.listener = ln
	close(a.ready)
	a.Log.Info("hosting http service", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := ln.Serve(); err != nil {
			a.Log.Error("http service failed", zap.Error(err))
			a.Shutdown()
		}
	}()

	if g, ok := a.Game.(Starter); ok {
		a.Server.Scheduler().RunTaskLater(func() {
			a.guard("start", func() error {
				g.Start(a)
				return nil
			})
		}, 0)
	}

	a.Server.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ln.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("http shutdown", zap.Error(err))
	}
	if g, ok := a.Game.(Shutdowner); ok {
		a.guard("shutdown", func() error {
			g.Shutdown(a)
			return nil
		})
	}
	return nil
}

// Shutdown asks the loop to stop. Safe to call any number of times from any
// goroutine.
func (a *App) Shutdown() {
	a.once.Do(func() {
		a.Log.Info("shutting down")
		a.Server.Shutdown()
	})
}

// Ready is closed once Run is listening.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr returns the listening address. Only valid after Ready is closed.
func (a *App) Addr() string {
	select {
	case <-a.ready:
		return a.listener.Addr().String()
	default:
		return ""
	}
}

// guard runs a game hook, turning a panic into a logged error.
func (a *App) guard(hook string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			a.Log.Error("game hook panicked", zap.String("hook", hook), zap.Any("panic", rec))
			err = fmt.Errorf("game %s hook panicked: %v", hook, rec)
		}
	}()
	if err = fn(); err != nil {
		a.Log.Error("game hook failed", zap.String("hook", hook), zap.Error(err))
		err = fmt.Errorf("game %s: %w", hook, err)
	}
	return err
}
