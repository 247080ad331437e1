package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/tangent/pkg/store"
)

var rootCmd = &cobra.Command{
	Use:   "tangent",
	Short: "Branch AI chat conversations into explorable trees",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
			return err
		}
		initLogger(viper.GetString("log-level"))
		return nil
	},
}

func initLogger(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
}

func defaultStatePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".tangent", "state.json")
}

// openSlot picks the storage backend from configuration. An unusable backend
// degrades to memory-only operation instead of refusing to start.
func openSlot() store.Slot {
	path := viper.GetString("store-path")
	if path == "" {
		path = defaultStatePath()
	}
	switch viper.GetString("store") {
	case "memory":
		return store.NewMemorySlot()
	case "sqlite":
		slot, err := store.NewSQLiteSlot(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("could not open sqlite store, falling back to memory")
			return store.NewMemorySlot()
		}
		return slot
	default:
		return store.NewFileSlot(path)
	}
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("store", "file", "state backend (file, sqlite, memory)")
	rootCmd.PersistentFlags().String("store-path", "", "state file or database path")
	rootCmd.PersistentFlags().String("openai-api-key", "", "OpenAI API key")
	rootCmd.PersistentFlags().String("model", "", "model to use for completion and naming")

	viper.SetEnvPrefix("TANGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newExportCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
