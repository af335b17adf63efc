// Command stratum-engine is the CLI entrypoint spec.md §6 describes as
// thin external glue over the core: it loads a YAML config file, wires
// together whichever of the Stratum/Bitcoin-P2P/Exchange sessions are
// enabled, and runs them under the Engine Scheduler until signalled to
// stop. All of the hard parts (framing, state machines, hashing) live in
// internal/*; this file only does flag parsing, config loading, and
// construction.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/djkazic/stratum-engine/internal/checkpoint"
	"github.com/djkazic/stratum-engine/internal/config"
	"github.com/djkazic/stratum-engine/internal/engine"
	"github.com/djkazic/stratum-engine/internal/hashkernel"
	"github.com/djkazic/stratum-engine/internal/mempool"
	"github.com/djkazic/stratum-engine/internal/metrics"
	"github.com/djkazic/stratum-engine/internal/miner"
)

// Exit codes per spec.md §6.
const (
	exitClean        = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

type options struct {
	ConfigPath string `short:"c" long:"config" description:"path to the engine's YAML config file" default:""`
	Version    bool   `short:"v" long:"version" description:"print version and exit"`
}

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Name = "stratum-engine"
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return exitClean
		}
		return exitConfigError
	}

	if opts.Version {
		fmt.Println("stratum-engine " + version)
		return exitClean
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stratum-engine: "+err.Error())
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "stratum-engine: "+err.Error())
		return exitConfigError
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "stratum-engine: build logger: "+err.Error())
		return exitConfigError
	}
	defer logger.Sync()

	// Probe the hash kernel's SIMD capability once, here, per spec.md §9's
	// "immutable after engine_init" — every miner lane goroutine reads the
	// result via hashkernel.Selected() rather than re-probing.
	capability := hashkernel.Init()
	logger.Info("hash kernel capability selected", zap.Int("capability", int(capability)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cp, err := openCheckpointer(cfg.Checkpoint)
	if err != nil {
		logger.Error("open checkpointer", zap.Error(err))
		return exitConfigError
	}
	defer cp.Close()

	e := newEngine(ctx, logger, cfg, cp)

	startMetricsServer(ctx, logger, cfg.Metrics.ListenAddr)

	if err := e.run(ctx); err != nil {
		logger.Error("engine exited with error", zap.Error(err))
		return exitRuntimeError
	}
	logger.Info("clean shutdown")
	return exitClean
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zcfg.Build()
}

func openCheckpointer(cfg config.CheckpointConfig) (checkpoint.Checkpointer, error) {
	if cfg.Path == "" {
		return checkpoint.NoopCheckpointer{}, nil
	}
	return checkpoint.OpenBoltCheckpointer(cfg.Path)
}

func startMetricsServer(ctx context.Context, logger *zap.Logger, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// engineHandle bundles the Scheduler and the session runners the CLI
// starts under it.
type engineHandle struct {
	logger     *zap.Logger
	cfg        config.Config
	checkpoint checkpoint.Checkpointer

	scheduler  *engine.Scheduler
	minerPool  *miner.Pool
	mempoolIdx *mempool.Index

	stratumGeneration atomic.Uint64
}

func newEngine(ctx context.Context, logger *zap.Logger, cfg config.Config, cp checkpoint.Checkpointer) *engineHandle {
	lanes := cfg.Stratum.Lanes
	if lanes <= 0 {
		lanes = runtime.NumCPU()
	}

	policy := mempool.RejectIncomingIfLowest
	if !cfg.Mempool.RejectIncomingIfLowest {
		policy = mempool.EvictToAdmit
	}

	e := &engineHandle{
		logger:     logger,
		cfg:        cfg,
		checkpoint: cp,
		scheduler:  engine.NewScheduler(ctx, logger),
		minerPool:  miner.NewPool(lanes),
		mempoolIdx: mempool.NewIndex(cfg.Mempool.CapBytes, policy),
	}

	e.mempoolIdx.SetEvictHook(func(entry *mempool.Entry) {
		metrics.MempoolEvictions.Inc()
		if err := e.checkpoint.RecordMempoolEviction(checkpoint.MempoolEviction{
			Txid:      entry.Txid,
			FeeRate:   entry.FeeRate(),
			EvictedAt: time.Now(),
			Reason:    "cap_exceeded",
		}); err != nil {
			logger.Warn("record mempool eviction checkpoint", zap.Error(err))
		}
	})

	return e
}

// run starts every enabled session runner and the miner pool, and blocks
// until the scheduler's supervised goroutines all exit (normally via ctx
// cancellation from a signal).
func (e *engineHandle) run(ctx context.Context) error {
	stopMiner := make(chan struct{})
	go e.minerPool.Run(stopMiner)
	defer close(stopMiner)

	if e.cfg.Stratum.Enabled {
		e.scheduler.Go(func(ctx context.Context) error {
			return e.runStratum(ctx)
		})
	}
	if e.cfg.BTCP2P.Enabled {
		e.scheduler.Go(func(ctx context.Context) error {
			return e.runBTCP2P(ctx)
		})
	}
	if e.cfg.Exchange.Enabled {
		e.scheduler.Go(func(ctx context.Context) error {
			return e.runExchange(ctx)
		})
	}

	<-ctx.Done()
	return e.scheduler.Wait()
}
