// Package commands defines the ebbridge CLI.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ebbridge/internal/config"
	"ebbridge/internal/domain/auth"
	"ebbridge/internal/domain/mappings"
	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/infrastructure/storage/postgres"
	"ebbridge/internal/migration/run"
	"ebbridge/pkg/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ebbridge",
	Short: "E-Boekhouden to ERP bookkeeping migration engine",
	Long: `ebbridge migrates bookkeeping mutations from E-Boekhouden into the
target administration: invoices, payments, cash movements and memorials,
with at-most-once posting and a reviewable failure log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "ebbridge.yaml", "path to the configuration file")
}

// app bundles everything a command needs. Close releases the pool and the
// source API session.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	pool     *postgres.Pool
	txm      *postgres.TxManager
	client   eboekhouden.Client
	runner   *run.Runner
	runs     *postgres.RunRepo
	mappings *mappings.Service
	auth     *auth.Service
	jwt      *auth.JWTService
}

func (a *app) Close() {
	if a.client != nil {
		_ = a.client.Close(context.Background())
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// buildApp loads configuration and wires the full pipeline.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.LogDevelopment,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	txm := postgres.NewTxManager(pool)
	mappingRepo := postgres.NewMappingRepo(txm)
	importRepo := postgres.NewImportLogRepo(txm)
	runRepo := postgres.NewRunRepo(txm)
	writer := postgres.NewDocumentWriter(txm)
	locker := postgres.NewAdvisoryLocker(pool)

	cache, err := postgres.NewMutationCache(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	client, err := cfg.NewClient()
	if err != nil {
		pool.Close()
		return nil, err
	}

	runner := run.NewRunner(run.Deps{
		Cfg:      cfg,
		Client:   client,
		Cache:    cache,
		Mappings: mappingRepo,
		Imported: importRepo,
		Runs:     runRepo,
		Writer:   writer,
		TxM:      txm,
		Locker:   locker,
	})

	jwtService := auth.NewJWTService(auth.DefaultJWTConfig(cfg.Server.JWTSecret))
	authService := auth.NewService(postgres.NewOperatorRepo(txm), jwtService, auth.DefaultServiceConfig())

	return &app{
		cfg:      cfg,
		log:      log,
		pool:     pool,
		txm:      txm,
		client:   client,
		runner:   runner,
		runs:     runRepo,
		mappings: mappings.NewService(mappingRepo, txm),
		auth:     authService,
		jwt:      jwtService,
	}, nil
}
