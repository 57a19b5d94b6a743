package cmd

import (
	"fmt"
	"os"

	"gpusweep/internal/config"
	"gpusweep/internal/logging"
	"gpusweep/internal/provisioning"
	"gpusweep/internal/sweep"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var planRegion string

type regionPlan struct {
	Region           string `yaml:"region"`
	Instance         string `yaml:"instance"`
	MachineType      string `yaml:"machine_type"`
	DiskType         string `yaml:"disk_type"`
	DiskSizeGB       int64  `yaml:"disk_size_gb"`
	ImageProject     string `yaml:"image_project"`
	ImageFamily      string `yaml:"image_family"`
	AcceleratorType  string `yaml:"accelerator_type,omitempty"`
	AcceleratorCount int64  `yaml:"accelerator_count,omitempty"`
	SetupCommands    int    `yaml:"setup_commands"`
}

// buildPlans resolves the configuration into the per-region specs the sweep
// would submit. An empty only value keeps every configured region.
func buildPlans(cfg *config.Config, only string) []regionPlan {
	commands := cfg.SetupCommands
	if len(commands) == 0 {
		commands = sweep.DefaultSetupCommands()
	}

	var plans []regionPlan
	for _, region := range cfg.Regions {
		if only != "" && region != only {
			continue
		}
		plans = append(plans, regionPlan{
			Region:           region,
			Instance:         sweep.InstanceName(region),
			MachineType:      provisioning.NormalizeMachineType(region, cfg.MachineType),
			DiskType:         fmt.Sprintf("zones/%s/diskTypes/pd-standard", region),
			DiskSizeGB:       cfg.DiskSizeGB,
			ImageProject:     cfg.SourceProject,
			ImageFamily:      cfg.SourceFamily,
			AcceleratorType:  cfg.AcceleratorType,
			AcceleratorCount: cfg.AcceleratorCount,
			SetupCommands:    len(commands),
		})
	}
	return plans
}

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print what the sweep would do, without touching the cloud",
	Long: `Resolve the configuration into the concrete per-region instance specs
the sweep would create, and print them as YAML. No API calls are made.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		plans := buildPlans(cfg, planRegion)
		if planRegion != "" && len(plans) == 0 {
			logging.Logger().Fatal("Region is not in the configuration", zap.String("region", planRegion))
		}

		out, err := yaml.Marshal(plans)
		if err != nil {
			logging.Logger().Fatal("Failed to render plan", zap.Error(err))
		}
		os.Stdout.Write(out)
	},
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planRegion, "region", "", "Limit the plan to a single region")
}
