package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Incrementally refresh cached collections from the server",
	Long: `Fetch records updated since the last pull for each cached collection
(beneficiaries, households, projects, activities) and upsert them into the
local cache.

Collections are isolated: one collection's failure does not block the
others, and only non-failing collections advance their watermark.`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		eng, _, err := newEngine(st)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		orgID := requireOrg()

		start := time.Now()
		result, err := eng.SyncFromServer(cmd.Context(), orgID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during pull: %v\n", err)
			os.Exit(1)
		}

		elapsed := time.Since(start).Round(time.Millisecond)
		fmt.Printf("Pull complete in %v: %d record(s) upserted\n", elapsed, result.Synced)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		if !result.Success {
			os.Exit(1)
		}
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Drain the outbound mutation queue",
	Long: `Apply every pending queue item to the server, sequentially in the
order the mutations were recorded.

If the device is offline no item is touched and the command reports the
precondition. Items that keep failing move to the failed state after the
retry ceiling and wait for an explicit 'fieldsync queue retry'.`,
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		eng, _, err := newEngine(st)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		result, err := eng.ProcessSyncQueue(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during push: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Push complete: synced=%d failed=%d\n", result.Synced, result.Failed)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "  %s\n", e)
		}
		if !result.Success {
			os.Exit(1)
		}
	},
}
