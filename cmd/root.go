/*
Copyright © 2025 renatuscartesius <cartesius.absolute@gmail.com>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gpusweep",
	Short: "Sweep cloud regions for GPU capacity",
	Long: `gpusweep walks a list of regions one at a time, provisions a GPU
instance in each, drives it through a CUDA setup sequence over SSH,
and tears it down again. Regions without capacity or quota are logged
and skipped; everything else aborts the run.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			os.Setenv("CONFIG_PATH", cfgFile)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to the configuration file (default gpusweep.yaml)")
}
