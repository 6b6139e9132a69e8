package cmd

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/fundora/apiserver/config"
	"github.com/fundora/apiserver/internal/cleanup"
	"github.com/fundora/apiserver/internal/mq"
	"github.com/fundora/apiserver/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consumes receipt cleanup jobs",
	Long: `Consumes receipt cleanup jobs published by the API server and deletes
the referenced objects. Requires CLEANUP_BACKEND=rabbitmq or pubsub.

	fundora worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.Cleanup.Backend == config.CleanupInline {
			return errors.New("the inline cleanup backend needs no worker; set CLEANUP_BACKEND to rabbitmq or pubsub")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		objects, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			return err
		}

		broker, err := mq.Connect(ctx, cfg.Cleanup)
		if err != nil {
			return err
		}
		defer func() {
			if err := broker.Close(); err != nil {
				logger.Warn("failed to close broker", zap.Error(err))
			}
		}()

		return cleanup.NewWorker(broker, cfg.Cleanup.Channel, objects, logger).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
