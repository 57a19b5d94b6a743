package cmd

import (
	"context"
	"fmt"

	"gpusweep/internal/config"
	"gpusweep/internal/journal"
	"gpusweep/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var journalLimit int

// journalCmd represents the journal command
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List recorded sweep outcomes",
	Long: `Print the per-region outcomes recorded by previous runs, oldest first.
Requires etcd endpoints in the configuration; without them the journal
only lives for the duration of a run.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}

		jrnl := journal.NewJournal(cfg.EtcdEndpoints)
		defer jrnl.Close()

		entries, err := jrnl.List(context.Background())
		if err != nil {
			logging.Logger().Fatal("Failed to list journal entries", zap.Error(err))
		}

		if journalLimit > 0 && len(entries) > journalLimit {
			entries = entries[len(entries)-journalLimit:]
		}

		if len(entries) == 0 {
			fmt.Println("No journal entries.")
			return
		}

		for _, e := range entries {
			line := fmt.Sprintf("%s  %-8s  %-16s  %s",
				e.Time.Format("2006-01-02 15:04:05"), e.Outcome, e.Region, e.Instance)
			if e.Outcome == journal.OutcomeCreated {
				line += fmt.Sprintf(" (%d commands)", e.CommandsRun)
			}
			if e.Detail != "" {
				line += " - " + e.Detail
			}
			fmt.Println(line)
		}
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().IntVar(&journalLimit, "limit", 0, "Show only the most recent N entries")
}
