// Package wiring is the composition root assembling the exchange core, its
// REST and WebSocket façades, telemetry and optional snapshot persistence
// into a single runnable application using fx.Provide/fx.Invoke/fx.Options
// and fx.Lifecycle OnStart/OnStop hooks. There is no event-sourced write
// model here, so components are wired as direct-call façades rather than
// command/query/projection buses.
package wiring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tradsys/vexchange/internal/api"
	"github.com/tradsys/vexchange/internal/config"
	"github.com/tradsys/vexchange/internal/domain"
	"github.com/tradsys/vexchange/internal/exchange"
	"github.com/tradsys/vexchange/internal/matching"
	"github.com/tradsys/vexchange/internal/persistence"
	"github.com/tradsys/vexchange/internal/replay"
	"github.com/tradsys/vexchange/internal/telemetry"
	"github.com/tradsys/vexchange/internal/wsgateway"
)

// Module bundles every fx.Provide/fx.Invoke this application needs,
// following practice of one fx.Module per subsystem
// (NewMarketDataModule, NewOrdersModule, ...) collapsed here to a single
// module since this core has one cohesive domain rather than several
// bounded contexts.
var Module = fx.Options(
	fx.Provide(NewLogger),
	fx.Provide(NewMetrics),
	fx.Provide(NewExchange),
	fx.Provide(NewKeyManager),
	fx.Provide(NewRESTServer),
	fx.Provide(NewWSGateway),
	fx.Invoke(registerSymbols),
	fx.Invoke(registerHooks),
)

// NewLogger builds the application-wide zap.Logger from cfg.Logging.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Logging.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Logging.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// NewMetrics builds the Prometheus collector set, or returns nil if metrics
// are disabled in configuration so nothing registers against the default
// registry in a process that never serves /metrics.
func NewMetrics(cfg *config.Config) *telemetry.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return telemetry.New()
}

// NewExchange builds the VirtualExchange façade; the configured symbols are
// registered afterwards by registerSymbols.
func NewExchange(cfg *config.Config, logger *zap.Logger, metrics *telemetry.Metrics) *exchange.Exchange {
	engineCfg := matching.Config{
		CommissionRateMaker: decimal.NewFromFloat(cfg.Exchange.CommissionRateMaker),
		CommissionRateTaker: decimal.NewFromFloat(cfg.Exchange.CommissionRateTaker),
		RecentTradesCap:     cfg.Exchange.RecentTradesCapacity,
		ArchiveRetention:    time.Duration(cfg.Exchange.ArchiveRetentionDays) * 24 * time.Hour,
		SlippageBuffer:      decimal.NewFromFloat(0.01),
	}
	return exchange.New(logger, engineCfg, 1000, metrics)
}

func registerSymbols(ex *exchange.Exchange, cfg *config.Config, logger *zap.Logger) error {
	for _, sc := range cfg.Exchange.Symbols {
		spec, err := SymbolFromConfig(sc)
		if err != nil {
			return fmt.Errorf("wiring: symbol %s: %w", sc.Symbol, err)
		}
		ex.RegisterSymbol(spec)
		logger.Info("wiring: registered symbol", zap.String("symbol", spec.Symbol))
	}
	return nil
}

// SymbolFromConfig converts one config.SymbolConfig into a domain.Symbol,
// parsing its decimal-string filter fields. Exported so the backtest CLI
// subcommand (which builds an exchange.Exchange outside the fx graph) can
// register symbols the same way the serve subcommand does.
func SymbolFromConfig(sc config.SymbolConfig) (domain.Symbol, error) {
	dec := func(s, field string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s %q: %w", field, s, err)
		}
		return d, nil
	}
	priceMin, err := dec(sc.PriceMin, "price_min")
	if err != nil {
		return domain.Symbol{}, err
	}
	priceMax, err := dec(sc.PriceMax, "price_max")
	if err != nil {
		return domain.Symbol{}, err
	}
	priceTick, err := dec(sc.PriceTick, "price_tick")
	if err != nil {
		return domain.Symbol{}, err
	}
	lotMin, err := dec(sc.LotMin, "lot_min")
	if err != nil {
		return domain.Symbol{}, err
	}
	lotMax, err := dec(sc.LotMax, "lot_max")
	if err != nil {
		return domain.Symbol{}, err
	}
	lotStep, err := dec(sc.LotStep, "lot_step")
	if err != nil {
		return domain.Symbol{}, err
	}
	minNotional, err := dec(sc.MinNotional, "min_notional")
	if err != nil {
		return domain.Symbol{}, err
	}
	return domain.Symbol{
		Symbol:         sc.Symbol,
		BaseAsset:      sc.BaseAsset,
		QuoteAsset:     sc.QuoteAsset,
		BasePrecision:  sc.BasePrecision,
		QuotePrecision: sc.QuotePrecision,
		Price:          domain.SymbolFilterPrice{Min: priceMin, Max: priceMax, Tick: priceTick},
		Lot:            domain.SymbolFilterLot{Min: lotMin, Max: lotMax, Step: lotStep},
		MinNotional:    minNotional,
	}, nil
}

// NewKeyManager builds the shared listenKey manager the REST façade mints
// keys from and the WS gateway authenticates private connections against.
func NewKeyManager(cfg *config.Config) *wsgateway.KeyManager {
	return wsgateway.NewKeyManager(cfg.WS.JWTSigningSecret, cfg.WS.ListenKeyExpiry)
}

// NewRESTServer builds the Binance Spot REST v3 façade.
func NewRESTServer(ex *exchange.Exchange, cfg *config.Config, keys *wsgateway.KeyManager, logger *zap.Logger) *api.Server {
	return api.NewServer(ex, cfg, keys, logger)
}

// NewWSGateway builds the WebSocket façade.
func NewWSGateway(ex *exchange.Exchange, cfg *config.Config, keys *wsgateway.KeyManager, logger *zap.Logger) *wsgateway.Gateway {
	return wsgateway.NewGateway(ex, keys, cfg.Exchange.AvgPriceMins, logger)
}

// restSrv and wsSrv are separate http.Server instances
// (REST and WS listen on independent host:port pairs), started and
// gracefully shut down by the fx.Lifecycle hooks below.
func registerHooks(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	rest *api.Server,
	ws *wsgateway.Gateway,
) {
	restSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      rest.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WS.Path, func(w http.ResponseWriter, r *http.Request) {
		if err := ws.ServeMarketStreams(w, r); err != nil {
			logger.Warn("wsgateway: market stream upgrade failed", zap.Error(err))
		}
	})
	mux.HandleFunc(cfg.WS.Path+"/user", func(w http.ResponseWriter, r *http.Request) {
		if err := ws.ServeUserStream(w, r); err != nil {
			logger.Warn("wsgateway: user stream upgrade failed", zap.Error(err))
		}
	})
	wsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.WS.Host, cfg.WS.Port),
		Handler: mux,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("wiring: REST façade listening", zap.String("addr", restSrv.Addr))
				if err := restSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("wiring: REST façade stopped", zap.Error(err))
				}
			}()
			go func() {
				logger.Info("wiring: WS façade listening", zap.String("addr", wsSrv.Addr))
				if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("wiring: WS façade stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := restSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("wiring: REST façade shutdown error", zap.Error(err))
			}
			if err := wsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("wiring: WS façade shutdown error", zap.Error(err))
			}
			return nil
		},
	})
}

// AttachReplay wires a new replay.Controller into ex (the caller adds its
// sources afterwards), and samples its progress into metrics every
// progressSampleInterval until the controller
// completes or ctx is cancelled. Exposed
// standalone rather than via fx.Invoke since only the backtest CLI subcommand
// needs a replay controller; the live serve subcommand never constructs one.
func AttachReplay(ctx context.Context, ex *exchange.Exchange, cfg *config.Config, metrics *telemetry.Metrics, logger *zap.Logger) (*replay.Controller, error) {
	mode := replay.Mode(cfg.Replay.Mode)
	if mode == "" {
		mode = replay.ModeBacktest
	}
	rcfg := replay.Config{
		Mode:            mode,
		SpeedFactor:     cfg.Replay.SpeedFactor,
		BatchCallbacks:  cfg.Replay.BatchCallbacks,
		MemoryOptimized: cfg.Replay.MemoryOptimized,
		PoolSize:        cfg.Replay.PoolSize,
	}
	controller, err := replay.New(ex.Clock, rcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("wiring: new replay controller: %w", err)
	}
	ex.AttachReplay(controller)

	if metrics != nil {
		go sampleReplayProgress(ctx, controller, metrics)
	}
	return controller, nil
}

const progressSampleInterval = 500 * time.Millisecond

func sampleReplayProgress(ctx context.Context, controller *replay.Controller, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(progressSampleInterval)
	defer ticker.Stop()
	var lastEmitted int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := controller.Progress()
			metrics.ReplayLagSeconds.Set(p.Elapsed.Seconds())
			if delta := p.Emitted - lastEmitted; delta > 0 {
				metrics.ReplayEmittedTotal.Add(float64(delta))
				lastEmitted = p.Emitted
			}
			if controller.Status() == replay.StatusCompleted || controller.Status() == replay.StatusStopped {
				return
			}
		}
	}
}

// OpenSnapshotStore opens the optional sqlite-backed snapshot archive at
// path, or returns (nil, nil) if path is empty.
func OpenSnapshotStore(path string, logger *zap.Logger) (*persistence.Store, error) {
	if path == "" {
		return nil, nil
	}
	return persistence.Open(path, logger)
}

// LoadSnapshot restores ex's state from store's most recently saved
// snapshot under label.
func LoadSnapshot(ex *exchange.Exchange, store *persistence.Store, label string) error {
	payload, err := store.Load(label)
	if err != nil {
		return err
	}
	return persistence.Restore(ex, payload)
}

// SaveSnapshot captures ex's current state and writes it to store under
// label.
func SaveSnapshot(ex *exchange.Exchange, store *persistence.Store, label string) error {
	return store.Save(label, persistence.Capture(ex))
}
