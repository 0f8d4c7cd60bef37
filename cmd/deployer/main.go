// deployer/cmd/deployer/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bloocube/ai-deployer/cloudrun"
	"github.com/bloocube/ai-deployer/config"
	"github.com/bloocube/ai-deployer/docker"
	"github.com/bloocube/ai-deployer/health"
	"github.com/bloocube/ai-deployer/orchestrator"
	"github.com/bloocube/ai-deployer/preflight"
	"github.com/bloocube/ai-deployer/provision"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = logger

	fs := config.NewFlagSet()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		logger.Error().Err(err).Msg("Failed to parse flags")
		return 1
	}

	cfg, err := config.Load(logger, fs)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load deployment configuration")
		return 1
	}

	if !cfg.Force && !confirm(cfg, os.Stdin) {
		logger.Info().Msg("Deployment aborted by operator.")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Client construction needs credentials; failures here are preflight
	// class, nothing has been mutated yet.
	runClient, err := cloudrun.NewClient(ctx, cfg.ProjectID, cfg.Region, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create Cloud Run client")
		return 1
	}
	defer func() { _ = runClient.Close() }()

	gcpClients, err := provision.NewGCPClients(ctx, cfg.ProjectID, cfg.Region, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create provisioning clients")
		return 1
	}
	defer func() { _ = gcpClients.Close() }()

	pipeline := orchestrator.New(
		cfg,
		preflight.NewChecker(preflight.ExecRunner{}, logger),
		provision.NewProvisioner(gcpClients.Ensurers(), logger),
		docker.NewImageBuilder(docker.ExecRunner{}, logger),
		runClient,
		health.NewValidator(cfg.Health.RequestTimeout.Std(), logger),
		logger,
	)

	report, runErr := pipeline.Run(ctx)
	report.Log(logger)

	if cfg.SummaryPath != "" {
		if err := report.WriteSummary(cfg.SummaryPath); err != nil {
			logger.Warn().Err(err).Msg("Failed to write run summary")
		} else {
			logger.Info().Str("path", cfg.SummaryPath).Msg("Run summary written.")
		}
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Deployment pipeline failed")
		return 1
	}
	// Health warnings are already in the report and deliberately do not
	// change the exit code.
	return 0
}

// confirm asks the operator before anything is mutated; --force bypasses it.
func confirm(cfg *config.DeploymentConfig, in *os.File) bool {
	fmt.Printf("Deploy %s to project %s (%s, environment %s)? [y/N]: ",
		cfg.ServiceName, cfg.ProjectID, cfg.Region, cfg.Environment)
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
