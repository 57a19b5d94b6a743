package cmd

import (
	"context"

	"gpusweep/internal/config"
	"gpusweep/internal/journal"
	"gpusweep/internal/logging"
	"gpusweep/internal/provisioning"
	"gpusweep/internal/sshkey"
	"gpusweep/internal/sweep"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runSkipPreflight bool

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sweep over the configured regions",
	Long: `Execute the full sweep: for each configured region, in order, create a
GPU instance, run the setup sequence over SSH, delete the instance and
cool down before moving on.`,
	Run: func(cmd *cobra.Command, args []string) {
		logging.Logger().Info("Loading configuration")
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}
		if runSkipPreflight {
			cfg.Preflight = false
		}

		keys, err := sshkey.LoadOrGenerate(cfg.SSHKeyPath)
		if err != nil {
			logging.Logger().Fatal("Failed to prepare SSH key pair", zap.Error(err))
		}
		logging.Logger().Info("Using SSH key",
			zap.String("private_key", keys.PrivateKeyPath),
			zap.String("public_key", keys.PublicKeyPath))

		ctx := context.Background()

		provisioner, err := provisioning.NewProvisioner(ctx, cfg)
		if err != nil {
			logging.Logger().Fatal("Failed to create provisioner", zap.Error(err))
		}

		jrnl := journal.NewJournal(cfg.EtcdEndpoints)
		defer jrnl.Close()

		if err := sweep.New(cfg, provisioner, jrnl).Run(ctx); err != nil {
			logging.Logger().Fatal("sweep failed", zap.Error(err))
		}

		logging.Logger().Info("sweep completed")
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runSkipPreflight, "skip-preflight", false, "Skip the artifact URL reachability probes")
}
