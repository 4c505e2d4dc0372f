package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reliefbase/fieldsync/internal/store"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Wipe cached server data (logout)",
	Long: `Delete all cached collections and their pull watermarks. The next
pull refetches every collection from scratch.

Drafts and queued mutations are preserved: unsynced local work is never
discarded by a cache clear.`,
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(st *store.Store) error {
			ctx := cmd.Context()

			pending, err := st.PendingQueueCount(ctx)
			if err != nil {
				return err
			}

			if err := st.ClearCache(ctx); err != nil {
				return err
			}

			fmt.Println("Cache cleared")
			if pending > 0 {
				fmt.Printf("%d pending queue item(s) preserved; run 'fieldsync push' when online\n", pending)
			}
			return nil
		})
	},
}
