// Command vexchange is the virtual spot exchange binary: a Binance Spot v3
// compatible REST/WebSocket server (serve) and a deterministic order-tape
// replay runner (backtest), dispatched by subcommand with per-command flag
// sets and a shared graceful-shutdown path.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/tradsys/vexchange/internal/config"
	"github.com/tradsys/vexchange/internal/exchange"
	"github.com/tradsys/vexchange/internal/replay"
	"github.com/tradsys/vexchange/internal/timeutil"
	"github.com/tradsys/vexchange/internal/wiring"
)

const (
	appName    = "vexchange"
	appVersion = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	switch command {
	case "serve":
		runServe(os.Args[2:])
	case "backtest":
		runBacktest(os.Args[2:])
	case "version":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("%s v%s\n", appName, appVersion)
	fmt.Printf("Usage: %s <command> [options]\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  serve      - Run the REST/WebSocket exchange server")
	fmt.Println("  backtest   - Deterministically replay a CSV order tape")
	fmt.Println("  version    - Show version information")
	fmt.Println("  help       - Show this help message")
}

func printVersion() {
	fmt.Printf("%s v%s\n", appName, appVersion)
}

// runServe builds the fx.App composition root (internal/wiring.Module) and
// blocks until SIGINT/SIGTERM, relying on fx.Lifecycle hooks to start and
// stop every component rather than managing a single inline http.Server.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file (defaults built in if empty)")
	_ = fs.Parse(args)

	app := fx.New(
		fx.Provide(func() (*config.Config, error) { return config.Load(*configPath) }),
		wiring.Module,
		fx.NopLogger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: failed to start: %v\n", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: shutdown error: %v\n", err)
		os.Exit(1)
	}
}

// runBacktest builds a standalone exchange.Exchange (no HTTP façades) and
// drives it from a CSV order tape through a replay.Controller run to
// completion synchronously, printing the number of data points emitted and
// each symbol's trade count. There is
// no long-lived server process involved: load data, run to exhaustion,
// report results, exit.
func runBacktest(args []string) {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML configuration file")
	inputPath := fs.String("input", "", "Path to the CSV order tape to replay")
	speed := fs.Float64("speed", 0, "Override replay.speed_factor (0 keeps the config value)")
	snapshotPath := fs.String("snapshot", "", "Path to a sqlite snapshot archive (created if absent)")
	loadLabel := fs.String("load-snapshot", "", "Restore exchange state from this label before replaying")
	saveLabel := fs.String("save-snapshot", "", "Save exchange state under this label after replaying")
	_ = fs.Parse(args)

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "vexchange: backtest requires -input <file.csv>")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: config: %v\n", err)
		os.Exit(1)
	}
	cfg.Replay.Mode = string(replay.ModeBacktest)
	if *speed > 0 {
		cfg.Replay.SpeedFactor = *speed
	}

	logger, err := wiring.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metrics := wiring.NewMetrics(cfg)
	ex := wiring.NewExchange(cfg, logger, metrics)
	ex.Clock.SetMode(timeutil.ModeBacktest)

	snapshots, err := wiring.OpenSnapshotStore(*snapshotPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: snapshot store: %v\n", err)
		os.Exit(1)
	}
	if snapshots != nil {
		defer snapshots.Close()
	}

	if *loadLabel != "" {
		if snapshots == nil {
			fmt.Fprintln(os.Stderr, "vexchange: -load-snapshot requires -snapshot")
			os.Exit(1)
		}
		if err := wiring.LoadSnapshot(ex, snapshots, *loadLabel); err != nil {
			fmt.Fprintf(os.Stderr, "vexchange: load snapshot: %v\n", err)
			os.Exit(1)
		}
	} else if err := registerBacktestSymbols(ex, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: %v\n", err)
		os.Exit(1)
	}

	source, err := loadBacktestSource(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller, err := wiring.AttachReplay(ctx, ex, cfg, metrics, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: %v\n", err)
		os.Exit(1)
	}
	defer controller.Close()

	if err := controller.AddSource("backtest-tape", source); err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: add source: %v\n", err)
		os.Exit(1)
	}

	points, err := controller.ProcessAllSync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vexchange: replay: %v\n", err)
		os.Exit(1)
	}

	progress := controller.Progress()
	fmt.Printf("backtest complete: %d data points emitted, elapsed %s\n", len(points), progress.Elapsed)
	for _, sym := range ex.ExchangeInfo() {
		trades, _ := ex.RecentTrades(sym.Symbol, 0)
		fmt.Printf("  %s: %d trades\n", sym.Symbol, len(trades))
	}

	if *saveLabel != "" {
		if snapshots == nil {
			fmt.Fprintln(os.Stderr, "vexchange: -save-snapshot requires -snapshot")
			os.Exit(1)
		}
		if err := wiring.SaveSnapshot(ex, snapshots, *saveLabel); err != nil {
			fmt.Fprintf(os.Stderr, "vexchange: save snapshot: %v\n", err)
			os.Exit(1)
		}
	}
}

func registerBacktestSymbols(ex *exchange.Exchange, cfg *config.Config) error {
	for _, sc := range cfg.Exchange.Symbols {
		spec, err := wiring.SymbolFromConfig(sc)
		if err != nil {
			return fmt.Errorf("symbol %s: %w", sc.Symbol, err)
		}
		ex.RegisterSymbol(spec)
	}
	return nil
}
