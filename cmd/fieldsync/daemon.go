package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/reliefbase/fieldsync/internal/daemon"
	"github.com/reliefbase/fieldsync/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the long-lived sync loop: periodic pull and queue drain, an
immediate drain when connectivity is restored, and a local dashboard
serving live sync status over WebSocket.

Interval settings are hot-reloaded when the config file changes.`,
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
		logger := daemonLogger()

		var dash *dashboard.Server
		if port := viper.GetInt("dashboard.port"); port > 0 {
			dash = dashboard.NewServer(st, &dashboard.Config{Port: port, Logger: logger})
			if err := dash.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
				os.Exit(1)
			}
			defer dash.Stop()
		}

		cfg := &daemon.Config{
			SyncInterval: viper.GetDuration("sync.interval"),
			PollInterval: viper.GetDuration("sync.poll_interval"),
			ConfigFile:   viper.ConfigFileUsed(),
			Reload: func() (*daemon.Config, error) {
				if err := viper.ReadInConfig(); err != nil {
					return nil, err
				}
				return &daemon.Config{
					SyncInterval: viper.GetDuration("sync.interval"),
					PollInterval: viper.GetDuration("sync.poll_interval"),
				}, nil
			},
			Logger: logger,
		}

		d, err := daemon.New(eng, orgID, dash, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}

// daemonLogger writes to stderr, and additionally to a size-rotated log
// file when log.file is configured.
func daemonLogger() *log.Logger {
	out := io.Writer(os.Stderr)
	if file := viper.GetString("log.file"); file != "" {
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = io.MultiWriter(os.Stderr, rotated)
	}
	return log.New(out, "[daemon] ", log.LstdFlags)
}
