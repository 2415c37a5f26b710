// Command reconcore runs the reconciliation, workflow, and classification
// core as one process, following the teacher's cli.v1 App-with-commands
// shape (cmd/kcn/main.go) generalized from node subcommands (init,
// account, console) to this module's own operational subcommands.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	"github.com/vaultworks/reconcore/internal/config"
	"github.com/vaultworks/reconcore/internal/log"
	"github.com/vaultworks/reconcore/internal/metrics"
	"github.com/vaultworks/reconcore/service"
)

var (
	logger = log.NewModuleLogger("cmd/reconcore")

	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to a reconcore TOML config file",
	}

	app = cli.NewApp()
)

func init() {
	app.Name = "reconcore"
	app.Usage = "blockchain reconciliation and transaction-workflow core"
	app.HideVersion = true
	app.Flags = []cli.Flag{configFlag}
	app.Commands = []cli.Command{
		workerCommand,
		dumpConfigCommand,
	}
	app.Action = runWorker
}

// loadConfig resolves the --config flag, falling back to
// config.Default() when it is not supplied, per cmd/kcn's
// flag-then-default precedence.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	path := ctx.GlobalString(configFlag.Name)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

var workerCommand = cli.Command{
	Name:   "worker",
	Usage:  "run the reconciliation pool and classification worker",
	Action: runWorker,
}

func runWorker(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	// Concrete C6 provider clients (a chain SDK, CoinGecko, Noves, the
	// RBAC resolver) are constructed by the deployment's own wiring code,
	// out of this module's scope; a real binary would import them here.
	providers := service.Providers{}

	container, err := service.New(cfg, providers)
	if err != nil {
		return fmt.Errorf("construct service: %w", err)
	}

	go func() {
		logger.Info("metrics listening", "addr", cfg.Metrics.ListenAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
			logger.Error("metrics listener failed", "err", err)
		}
	}()

	runCtx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	container.Run(runCtx)
	return container.Shutdown()
}

var dumpConfigCommand = cli.Command{
	Name:   "dumpconfig",
	Usage:  "print the effective configuration as TOML",
	Action: runDumpConfig,
}

func runDumpConfig(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
