package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reliefbase/fieldsync/internal/schema"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store status and offline readiness",
	Long: `Display row counts per region, pending queue depth, per-collection
last-sync watermarks, and current connectivity.`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := cmd.Context()

		stats, err := st.Stats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Local store: %s\n\n", st.Path())
		fmt.Printf("Cached entities:\n")
		fmt.Printf("  Beneficiaries: %d\n", stats.Beneficiaries)
		fmt.Printf("  Households:    %d\n", stats.Households)
		fmt.Printf("  Projects:      %d\n", stats.Projects)
		fmt.Printf("  Activities:    %d\n", stats.Activities)
		fmt.Printf("Drafts:\n")
		fmt.Printf("  Distributions: %d\n", stats.DistributionDrafts)
		fmt.Printf("  Field notes:   %d\n", stats.FieldNotes)
		fmt.Printf("Queue:\n")
		fmt.Printf("  Total:   %d\n", stats.QueueItems)
		fmt.Printf("  Pending: %d\n", stats.PendingQueueItems)

		fmt.Printf("Last sync:\n")
		for _, collection := range schema.Collections() {
			last, err := st.LastSync(ctx, collection)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if last.IsZero() {
				fmt.Printf("  %-14s never\n", collection)
				continue
			}
			fmt.Printf("  %-14s %s (%v ago)\n", collection,
				last.Format("2006-01-02 15:04:05"), time.Since(last).Round(time.Second))
		}

		// Connectivity needs a configured backend; skip quietly otherwise.
		if viper.GetString("backend.url") != "" {
			_, probe, err := newEngine(st)
			if err == nil {
				if probe.Online() {
					fmt.Printf("\nConnectivity: online\n")
				} else {
					fmt.Printf("\nConnectivity: offline\n")
				}
			}
		}
	},
}
