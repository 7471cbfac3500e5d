package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ws2dgo/server/internal/app"
	"github.com/ws2dgo/server/internal/command"
	"github.com/ws2dgo/server/internal/config"
	"github.com/ws2dgo/server/internal/game"
	"github.com/ws2dgo/server/internal/persist"
	"github.com/ws2dgo/server/internal/scripting"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Printf("\033[36;1m  │\033[0m              ws2d  v%-22s\033[36;1m│\033[0m\n", version)
	fmt.Println("\033[36;1m  │\033[0m      real-time WebSocket game server      \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printWarn(msg string) {
	fmt.Printf("  \033[33m!\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("WS2D_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, warnings, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	printSection("config")
	printOK(fmt.Sprintf("loaded %s", cfgPath))
	for _, w := range warnings {
		printWarn(w)
		log.Warn("config value ignored", zap.String("detail", w))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Load the game
	var module any
	if cfg.Game.Manifest != "" {
		printSection("game")
		manifest, err := game.LoadManifest(cfg.Game.Manifest)
		if err != nil {
			return err
		}
		for _, w := range manifest.Apply(cfg) {
			printWarn(w)
			log.Warn("game setting ignored", zap.String("detail", w))
		}
		m, err := scripting.NewModule(manifest.ScriptPath(), log.Named("lua"))
		if err != nil {
			return fmt.Errorf("game %s: %w", manifest.Name, err)
		}
		defer m.Close()
		module = m
		printOK(fmt.Sprintf("loaded %q", manifest.Name))
	}
	fmt.Println()

	a := app.New(cfg, module, log)

	// 4. Optional connection journal
	if cfg.Database.DSN != "" {
		printSection("database")
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		journal, closeJournal, err := persist.OpenJournal(dbCtx, cfg.Database, cfg.Server.Name, log)
		cancel()
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer closeJournal()
		a.Server.SetJournal(journal)
		if err := a.Commands.Register(command.Journal(journal)); err != nil {
			return fmt.Errorf("register journal command: %w", err)
		}
		printOK("connection journal enabled")
		fmt.Println()
	}

	// 5. Register presets, commands and the game's packets
	if err := a.Boot(); err != nil {
		return err
	}

	printSection("ready")
	printReady(fmt.Sprintf("listening on %s", cfg.Network.BindAddress))
	printReady(fmt.Sprintf("tick loop at %d tps (heartbeat %ds, %d connections)",
		cfg.Network.TicksPerSecond, cfg.Network.HeartbeatInterval, cfg.Network.MaxConnections))
	fmt.Println()

	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		command.NewConsole(a.Commands, a.Server, os.Stdout, log.Named("console")).Run(ctx)
	}()

	// 6. Run until stop command or signal
	runErr := a.Run(ctx)
	a.Shutdown()
	select {
	case <-consoleDone:
	case <-time.After(time.Second):
	}
	if runErr != nil {
		return runErr
	}
	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
