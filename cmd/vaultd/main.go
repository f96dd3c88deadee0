package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketvault/config"
	"marketvault/core/state"
	"marketvault/native/market"
	"marketvault/native/registry"
	"marketvault/native/token"
	"marketvault/observability/logging"
	"marketvault/rpc"
	"marketvault/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULT_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("vaultd", env, cfg.LogFile)

	vault, borrower, controller, err := cfg.Addresses()
	if err != nil {
		logger.Error("Failed to decode configured addresses", slog.Any("error", err))
		return 1
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store := state.NewStore(db)

	ledger := token.NewLedger()
	ledger.SetState(store)

	roles := registry.NewRegistry(controller)
	roles.SetState(store)

	engine := market.NewEngine(vault, borrower, controller, cfg.Market.WithdrawalBatchDuration)
	engine.SetState(store)
	engine.SetAssetLedger(ledger)
	engine.SetRoles(roles)

	if err := bootstrap(store, cfg.Market); err != nil {
		logger.Error("Failed to initialise vault state", slog.Any("error", err))
		return 1
	}

	server := rpc.NewServer(engine, roles, ledger, logger)
	server.SetCommitter(store)

	logger.Info("vault daemon ready",
		slog.String("vault", vault.String()),
		slog.String("rpcAddress", cfg.RPCAddress),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(cfg.RPCAddress)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("RPC server stopped", slog.Any("error", err))
			return 1
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown did not complete cleanly", slog.Any("error", err))
			return 1
		}
		<-serveErr
		logger.Info("vault daemon stopped")
	}
	return 0
}

// bootstrap writes the initial vault snapshot on first run. An existing
// snapshot is left untouched; parameter changes on a live vault go through
// the controller setters.
func bootstrap(store *state.Store, params market.Parameters) error {
	initialized, err := store.Initialized()
	if err != nil {
		return err
	}
	if initialized {
		return nil
	}
	now := uint64(time.Now().Unix())
	if err := store.PutMarketState(market.NewState(params, now)); err != nil {
		return err
	}
	return store.Commit()
}
