// Command chaincored runs a single validator node: it loads
// configuration and signing key material, recovers or bootstraps
// chain state, and wires the consensus, mempool, assembly and audit
// subsystems together through pkg/orchestrator until it receives
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metanode/chaincore/pkg/audit/zjl"
	"github.com/metanode/chaincore/pkg/config"
	"github.com/metanode/chaincore/pkg/crypto/bls"
	"github.com/metanode/chaincore/pkg/kvdb"
	"github.com/metanode/chaincore/pkg/metrics"
	"github.com/metanode/chaincore/pkg/nodestate"
	"github.com/metanode/chaincore/pkg/orchestrator"
	"github.com/metanode/chaincore/pkg/validatorset"
)

func main() {
	var (
		configPath  = flag.String("config", "./config.yaml", "Path to the node's YAML config file")
		validatorID = flag.String("validator-id", "validator-0", "This node's roster identity")
	)
	flag.Parse()

	if err := run(*configPath, *validatorID); err != nil {
		fmt.Fprintf(os.Stderr, "chaincored: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, validatorID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := bls.Initialize(); err != nil {
		return fmt.Errorf("initializing bls backend: %w", err)
	}
	km := bls.NewKeyManager(cfg.Keys.BLSKeyPath)
	if err := km.LoadOrGenerateKey(); err != nil {
		return fmt.Errorf("loading validator key: %w", err)
	}

	// Single-validator devnet roster: this node is the only entry, so
	// the IBFT threshold is 1-of-1 and LoopbackTransport below is a
	// correct stand-in for a real peer-to-peer transport. A multi-
	// validator deployment replaces both with a roster file and an
	// HTTP/gossip Transport implementation.
	validators := validatorset.NewSet(1, []validatorset.Info{
		{ID: validatorID, BlsPubKey: km.PublicKey(), VrfPubKey: km.PublicKey(), Stake: 1, Address: km.Address()},
	})

	if err := os.MkdirAll(cfg.NodeState.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating nodestate dir: %w", err)
	}
	db, err := dbm.NewGoLevelDB("chaincore-state", cfg.NodeState.DataDir)
	if err != nil {
		return fmt.Errorf("opening nodestate db: %w", err)
	}
	defer db.Close()
	store := nodestate.NewStore(kvdb.NewKVAdapter(db))

	if err := os.MkdirAll(cfg.ZJL.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating zjl dir: %w", err)
	}
	zjlPath := filepath.Join(cfg.ZJL.DataDir, "segment-000000.zjlock")
	zjlFile, err := os.Create(zjlPath)
	if err != nil {
		return fmt.Errorf("creating zjl segment %s: %w", zjlPath, err)
	}
	defer zjlFile.Close()
	wcfg := zjl.DefaultWriterConfig()
	if cfg.ZJL.EnableSignatures {
		wcfg.SignKey = km.PrivateKey()
	}
	zw, err := zjl.Create(zjlFile, wcfg)
	if err != nil {
		return fmt.Errorf("opening zjl writer: %w", err)
	}

	promReg := prometheus.NewRegistry()
	reg := metrics.NewRegistry(promReg)

	transport := orchestrator.NewLoopbackTransport(0)

	logger := log.New(os.Stdout, "[chaincored] ", log.LstdFlags)
	node, err := orchestrator.NewNode(cfg, orchestrator.Deps{
		Validators: validators,
		SelfIndex:  0,
		SelfKey:    km.PrivateKey(),
		Store:      store,
		ZJLWriter:  zw,
		Transport:  transport,
		Metrics:    reg,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Metrics.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Printf("shutdown signal received")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := node.Shutdown(shutdownCtx); err != nil {
		logger.Printf("node shutdown error: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("metrics server shutdown error: %v", err)
	}
	if err := transport.Close(); err != nil {
		logger.Printf("transport close error: %v", err)
	}
	return nil
}
