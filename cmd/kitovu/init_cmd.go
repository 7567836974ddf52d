package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/kitovu/kitovu/internal/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

// newInitCmd writes the app config file so later runs need no path flags.
// An existing config file is left alone.
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the kitovu config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			configPath := resolveConfigPath(cmd)

			existing, err := config.LoadFromFile(configPath)
			if err == nil {
				fmt.Fprintln(out, "kitovu already initialized")
				printConfig(out, existing)
				return nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Fprintln(out, "kitovu initialized")
			printConfig(out, cfg)
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	addPathFlags(cmd)
	cmd.Flags().String("history", config.DefaultHistoryPath, "run history database, empty to disable")
	cmd.Flags().IntP("workers", "w", 1, "connections synced concurrently")
	cmd.Flags().Bool("no-keyring", false, "do not read or store secrets in the OS keyring")
	return cmd
}

func printConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Config Path: %s\n", green(cfg.Path))
	fmt.Fprintf(w, "Settings:    %s\n", cyan(cfg.SettingsPath))
	fmt.Fprintf(w, "Cache:       %s\n", cyan(cfg.CachePath))
	fmt.Fprintf(w, "History:     %s\n", cyan(cfg.HistoryPath))
	fmt.Fprintf(w, "Workers:     %s\n", cyan(cfg.Workers))
	fmt.Fprintf(w, "Keyring:     %s\n", cyan(cfg.UseKeyring))
}
