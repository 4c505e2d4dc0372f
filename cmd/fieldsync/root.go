package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reliefbase/fieldsync/internal/remote"
	"github.com/reliefbase/fieldsync/internal/store"
	"github.com/reliefbase/fieldsync/internal/sync"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first data layer for reliefbase field operations",
	Long: `fieldsync maintains a local cache of server records, a durable
mutation queue that survives disconnection, and the sync daemon that moves
data both ways when connectivity is available.

Configuration is read from --config, ./fieldsync.yaml, or
~/.fieldsync/fieldsync.yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().String("db", "", "local database path")
	rootCmd.PersistentFlags().String("backend-url", "", "backend base URL")
	rootCmd.PersistentFlags().String("org", "", "organization id")

	_ = viper.BindPFlag("db.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("backend.url", rootCmd.PersistentFlags().Lookup("backend-url"))
	_ = viper.BindPFlag("org_id", rootCmd.PersistentFlags().Lookup("org"))

	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(clearCacheCmd)
}

// initConfig loads viper configuration and defaults.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("fieldsync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".fieldsync"))
		}
	}

	viper.SetEnvPrefix("FIELDSYNC")
	viper.AutomaticEnv()

	viper.SetDefault("db.path", defaultDBPath())
	viper.SetDefault("backend.timeout", "30s")
	viper.SetDefault("sync.interval", "5m")
	viper.SetDefault("sync.poll_interval", "15s")
	viper.SetDefault("sync.max_retries", sync.DefaultMaxRetries)
	viper.SetDefault("dashboard.port", 8787)

	if err := viper.ReadInConfig(); err != nil {
		// Missing config is fine; flags and env carry the required values.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".fieldsync", "local.db")
	}
	return filepath.Join(home, ".fieldsync", "local.db")
}

// openStore opens the local database and ensures the schema is current.
func openStore() (*store.Store, error) {
	st, err := store.Open(viper.GetString("db.path"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize local store: %w", err)
	}
	return st, nil
}

// newEngine wires the sync engine from configuration.
func newEngine(st *store.Store) (sync.Engine, *remote.Probe, error) {
	baseURL := viper.GetString("backend.url")
	if baseURL == "" {
		return nil, nil, fmt.Errorf("backend URL is required (--backend-url or backend.url in config)")
	}

	client, err := remote.NewHTTPClient(remote.Config{
		BaseURL: baseURL,
		Token:   viper.GetString("backend.token"),
		Timeout: viper.GetDuration("backend.timeout"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	probe := remote.NewProbe(baseURL+"/health", 5*time.Second)

	eng := sync.New(st, client, probe, sync.Config{
		MaxRetries: viper.GetInt("sync.max_retries"),
	})
	return eng, probe, nil
}

// requireOrg returns the configured organization id or exits.
func requireOrg() string {
	orgID := viper.GetString("org_id")
	if orgID == "" {
		fmt.Fprintf(os.Stderr, "Error: organization id is required (--org or org_id in config)\n")
		os.Exit(1)
	}
	return orgID
}
