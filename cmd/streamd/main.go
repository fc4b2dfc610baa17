package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/worldstream/server/internal/config"
	"github.com/worldstream/server/internal/core/event"
	coresys "github.com/worldstream/server/internal/core/system"
	"github.com/worldstream/server/internal/data"
	gonet "github.com/worldstream/server/internal/net"
	"github.com/worldstream/server/internal/observer"
	"github.com/worldstream/server/internal/persist"
	"github.com/worldstream/server/internal/scripting"
	"github.com/worldstream/server/internal/stream"
	"github.com/worldstream/server/internal/system"
	"github.com/worldstream/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

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
	fmt.Println("\033[36;1m  │\033[0m            worldstream  v0.1.0            \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       proximity entity streaming          \033[36;1m│\033[0m")
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

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfg, err := config.Load(config.Path("config/server.toml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Streamer) == 0 {
		return fmt.Errorf("config declares no [[streamer]] kinds")
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Optional PostgreSQL
	var db *persist.DB
	if cfg.Database.Enabled {
		printSection("database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err = persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")
		if err := persist.RunMigrations(ctx, db.Pool); err != nil {
			cancel()
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
		if cfg.Database.StatsKeep > 0 {
			if err := persist.NewStatsRepo(db).Prune(ctx, cfg.Database.StatsKeep); err != nil {
				log.Warn("cycle stats prune failed", zap.Error(err))
			}
		}
		cancel()
		fmt.Println()
	}

	// 4. Streamers, one per kind
	printSection("streamers")
	observers := observer.NewRegistry()
	ws := world.NewState(observers, log)
	defer ws.Close()
	for _, sc := range cfg.Streamer {
		ks, err := ws.AddKind(streamConfig(sc), world.KindOptions{
			EngineLimit: sc.EngineLimit,
			Interval:    sc.Interval,
		})
		if err != nil {
			return fmt.Errorf("streamer: %w", err)
		}
		c := ks.Streamer.Config()
		printOK(fmt.Sprintf("%s  max=%d  distance=%.0f  ratio=%.2f  lru=%v",
			c.Kind, c.MaxVisible, c.StreamingDistance, c.SaturationRatio, c.LRU))
	}
	fmt.Println()

	// 5. Content: YAML, database, Lua. Registration is lazy; every kind is
	// optimised once everything is in.
	printSection("content")
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer loadCancel()
	if err := loadPlacements(loadCtx, ws, cfg.Content, db, log); err != nil {
		return err
	}
	lua, err := scripting.NewEngine(cfg.Content.ScriptDir, ws, log)
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer lua.Close()
	printOK("Lua scripts loaded")
	for _, ks := range ws.Kinds() {
		ks.Streamer.Optimise()
		printStat(ks.Name, ks.Streamer.Len())
	}
	fmt.Println()

	// 6. Stream drivers
	driverCtx, stopDrivers := context.WithCancel(context.Background())
	defer stopDrivers()
	ws.RunDrivers(driverCtx)

	// 7. Observer feed
	netServer, err := gonet.NewServer(cfg.Network.BindAddress, gonet.ServerOptions{
		InQueueSize:  cfg.Network.InQueueSize,
		OutQueueSize: cfg.Network.OutQueueSize,
		ReadTimeout:  cfg.Network.ReadTimeout,
		WriteTimeout: cfg.Network.WriteTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.Serve()

	// 8. Create systems and register with runner
	bus := event.NewBus()
	event.Subscribe(bus, func(e event.ObserverJoined) {
		lua.ObserverJoined(observer.Observer{ID: observer.ID(e.SessionID), Pos: e.Pos, Scope: e.Scope})
	})
	event.Subscribe(bus, func(e event.ObserverLeft) {
		lua.ObserverLeft(observer.ID(e.SessionID))
	})

	store := gonet.NewSessionStore()
	runner := coresys.NewRunner()
	runner.Register(system.NewInputSystem(netServer, store, observers, bus, cfg.Network.MaxMessagesPerTick, log))
	runner.Register(system.NewEventDispatchSystem(bus))
	runner.Register(system.NewStreamSystem(ws, bus, log))
	runner.Register(system.NewVisibilitySystem(ws, store, bus, cfg.Network.ViewInterval))
	var persistSys *system.PersistenceSystem
	if db != nil {
		persistSys = system.NewPersistenceSystem(persist.NewStatsRepo(db), bus, cfg.Database.StatsInterval, log)
		runner.Register(persistSys)
	}

	// 9. Start game loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	tick := cfg.Server.TickRate
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	inputTicker := time.NewTicker(tick / 10)
	defer inputTicker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("observers on ws://%s/observe", netServer.Addr().String()))
	printReady(fmt.Sprintf("game loop running (tick: %s)", tick))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			runner.Tick(tick)
		case <-inputTicker.C:
			runner.TickPhase(coresys.PhaseInput, tick/10)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			stopDrivers()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := netServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("observer server shutdown", zap.Error(err))
			}
			cancel()
			if persistSys != nil {
				persistSys.Flush()
			}
			log.Info("server stopped")
			return nil
		}
	}
}

func streamConfig(sc config.StreamerConfig) stream.Config {
	return stream.Config{
		Kind:              sc.Kind,
		MaxVisible:        sc.MaxVisible,
		StreamingDistance: sc.StreamingDistance,
		SaturationRatio:   sc.SaturationRatio,
		LRU:               sc.LRU,
		AutoOptimise:      sc.AutoOptimise,
		CycleBudget:       sc.CycleBudget,
	}
}

// loadPlacements registers YAML placements and, with a database, the
// stored ones of every declared kind.
func loadPlacements(ctx context.Context, ws *world.State, cfg config.ContentConfig, db *persist.DB, log *zap.Logger) error {
	rng := rand.New(rand.NewSource(cfg.Seed))
	set, err := data.LoadPlacementDir(cfg.PlacementDir)
	if err != nil {
		return fmt.Errorf("placements: %w", err)
	}
	total := 0
	for _, kind := range set.Kinds() {
		n, err := placeAll(ctx, ws, kind, set.Kind(kind), rng)
		if err != nil {
			return err
		}
		total += n
	}
	printStat("yaml placements", total)

	if db == nil {
		return nil
	}
	repo := persist.NewPlacementRepo(db)
	total = 0
	for _, ks := range ws.Kinds() {
		ps, err := repo.LoadByKind(ctx, ks.Name)
		if err != nil {
			return fmt.Errorf("db placements: %w", err)
		}
		n, err := placeAll(ctx, ws, ks.Name, ps, rng)
		if err != nil {
			return err
		}
		total += n
	}
	printStat("db placements", total)
	log.Debug("placements registered")
	return nil
}

func placeAll(ctx context.Context, ws *world.State, kind string, ps []data.Placement, rng *rand.Rand) (int, error) {
	total := 0
	for i := range ps {
		n, err := ws.Place(ctx, kind, ps[i].Spots(rng))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
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
