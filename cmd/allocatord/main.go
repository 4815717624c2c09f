// Command allocatord is the main entry point for the allocation core of a
// resource-lock allocator.
//
// Usage:
//
//	allocatord [flags]
//
// Flags:
//
//	--listen        HTTP listen address (default: 127.0.0.1:8787)
//	--datadir       Data directory path (default: ./data)
//	--indexer       Chain indexer HTTP endpoint
//	--allocator     This allocator's on-chain address
//	--chainid       Default chain id handled by this deployment
//	--finalization  Finalisation threshold in seconds for --chainid
//	--maxretries    Bounded retry count on nonce races (default: 3)
//	--verbosity     Log level 0-4 (default: 2)
//	--version       Print version and exit
package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/compactlabs/allocator/config"
	"github.com/compactlabs/allocator/indexer"
	alog "github.com/compactlabs/allocator/log"
	"github.com/compactlabs/allocator/nonceledger"
	"github.com/compactlabs/allocator/signer"
	"github.com/compactlabs/allocator/store"
	"github.com/compactlabs/allocator/transport"
	"github.com/compactlabs/allocator/typedhash"
	"github.com/compactlabs/allocator/validate"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, flags, exit, code := parseFlags(args)
	if exit {
		return code
	}

	logger := alog.New(verbosityToLevel(flags.Verbosity))
	alog.SetDefault(logger)

	logger.Info("allocatord starting", "version", version, "commit", commit)
	logger.Info("configuration",
		"listen", cfg.ListenAddr,
		"datadir", cfg.DataDir,
		"indexer", flags.IndexerEndpoint,
		"allocator", cfg.AllocatorAddress,
		"maxNonceRetries", cfg.MaxNonceRetries,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}
	typedhash.VerifyingContract = cfg.VerifyingContract

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "error", err)
		return 1
	}

	db, err := sql.Open("sqlite", cfg.DataDir+"/allocator.db")
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}
	defer db.Close()

	if _, err := db.Exec(nonceledger.Schema); err != nil {
		logger.Error("failed to apply nonce ledger schema", "error", err)
		return 1
	}
	if _, err := db.Exec(store.Schema); err != nil {
		logger.Error("failed to apply compact store schema", "error", err)
		return 1
	}

	ledger := nonceledger.NewSQLReader(db)
	compactStore := store.NewSQLStore(db)
	idxClient := indexer.NewHTTPClient(flags.IndexerEndpoint, nil)

	oracle, err := loadSigner(cfg.SignerKeyFile)
	if err != nil {
		logger.Error("failed to load signer key", "error", err)
		return 1
	}

	v := validate.New(ledger, idxClient, compactStore, cfg, cfg.AllocatorAddress)
	svc := transport.New(ledger, v, compactStore, oracle, cfg.MaxNonceRetries)

	httpServer := transport.NewHTTPServer(flags.ListenAddr, svc, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server exited", "error", err)
		return 1
	}

	if err := httpServer.Shutdown(); err != nil {
		logger.Error("error during shutdown", "error", err)
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}

func verbosityToLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelError + 4 // effectively silent
	case v == 1:
		return slog.LevelWarn
	case v == 2:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func loadSigner(keyFile string) (*signer.LocalKey, error) {
	if keyFile == "" {
		return signer.GenerateLocalKey()
	}
	return signer.LoadLocalKey(keyFile)
}

// cliFlags holds the values parsed from the command line that aren't
// carried directly by config.Config (transport-level and signer settings,
// plus the chainId/finalization pair that feeds cfg.FinalizationThresholds).
type cliFlags struct {
	ListenAddr      string
	IndexerEndpoint string
	SignerKeyFile   string
	Verbosity       int
	ChainID         string
	Finalization    uint64
}

// parseFlags parses CLI arguments into a Config and cliFlags. Returns
// whether the caller should exit immediately, and the exit code.
func parseFlags(args []string) (*config.Config, cliFlags, bool, int) {
	cfg := config.Default()
	flags := cliFlags{ListenAddr: cfg.ListenAddr, Verbosity: 2, Finalization: config.DefaultFinalizationThreshold}

	var allocatorHex string
	fs := newFlagSet(cfg, &flags, &allocatorHex)
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, flags, true, 2
	}

	cfg.ListenAddr = flags.ListenAddr
	cfg.SignerKeyFile = flags.SignerKeyFile
	if allocatorHex != "" {
		cfg.AllocatorAddress = common.HexToAddress(allocatorHex)
	}
	if flags.ChainID != "" {
		cfg.FinalizationThresholds[flags.ChainID] = flags.Finalization
	}

	if *showVersion {
		fmt.Printf("allocatord %s (commit %s)\n", version, commit)
		return cfg, flags, true, 0
	}

	return cfg, flags, false, 0
}

// newFlagSet creates a flag.FlagSet that binds all CLI flags to cfg and
// flags. The FlagSet uses ContinueOnError so callers control the error
// handling behavior.
func newFlagSet(cfg *config.Config, flags *cliFlags, allocatorHex *string) *flagSet {
	fs := newCustomFlagSet("allocatord")
	fs.StringVar(&flags.ListenAddr, "listen", flags.ListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "data directory path")
	fs.StringVar(&flags.IndexerEndpoint, "indexer", "", "chain indexer HTTP endpoint")
	fs.StringVar(allocatorHex, "allocator", "", "this allocator's on-chain address")
	fs.StringVar(&flags.SignerKeyFile, "signerkey", "", "path to the allocator's private key (empty generates an ephemeral key)")
	fs.IntVar(&flags.Verbosity, "verbosity", flags.Verbosity, "log level 0-4 (0=silent, 4=debug)")
	fs.IntVar(&cfg.MaxNonceRetries, "maxretries", cfg.MaxNonceRetries, "bounded retry count on nonce races")
	fs.StringVar(&flags.ChainID, "chainid", "", "default chain id handled by this deployment")
	fs.Uint64Var(&flags.Finalization, "finalization", flags.Finalization, "finalisation threshold in seconds for --chainid")
	return fs
}
