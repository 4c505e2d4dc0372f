package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reliefbase/fieldsync/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the outbound mutation queue",
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueClearFailedCmd)
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending and failed queue items",
	Run: func(cmd *cobra.Command, args []string) {
		st, err := openStore()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := cmd.Context()

		pending, err := st.PendingQueueItems(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		failed, err := st.FailedQueueItems(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Pending: %d\n", len(pending))
		for _, item := range pending {
			fmt.Printf("  %s  %-6s %-14s %s (retries: %d)\n",
				item.CreatedAt.Format("2006-01-02 15:04:05"),
				item.Action, item.EntityType, item.EntityID, item.RetryCount)
		}

		fmt.Printf("Failed: %d\n", len(failed))
		for _, item := range failed {
			fmt.Printf("  %s  %-6s %-14s %s: %s\n",
				item.CreatedAt.Format("2006-01-02 15:04:05"),
				item.Action, item.EntityType, item.EntityID, item.Error)
		}
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reset failed queue items to pending",
	Long: `Return every failed item to the pending state with a fresh retry
budget. The items are re-attempted on the next push or daemon cycle.`,
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(st *store.Store) error {
			n, err := st.ResetFailedQueueItems(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Reset %d failed item(s) to pending\n", n)
			return nil
		})
	},
}

var queueClearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Discard failed queue items",
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(st *store.Store) error {
			n, err := st.PurgeFailedQueueItems(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Discarded %d failed item(s)\n", n)
			return nil
		})
	},
}

// withStore opens the store, runs fn, and exits non-zero on error.
func withStore(fn func(*store.Store) error) {
	st, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := fn(st); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
