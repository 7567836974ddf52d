package main

import (
	"fmt"
	"log/slog"

	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/backend/builtin"
	"github.com/kitovu/kitovu/internal/config"
	"github.com/kitovu/kitovu/internal/filecache"
	"github.com/kitovu/kitovu/internal/history"
	"github.com/kitovu/kitovu/internal/secrets"
	"github.com/kitovu/kitovu/internal/settings"
	"github.com/kitovu/kitovu/internal/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func addPathFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("settings", "s", config.DefaultSettingsPath, "sync settings file (YAML)")
	cmd.Flags().String("cache", config.DefaultCachePath, "digest cache file")
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download everything that changed remotely",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			strict, _ := cmd.Flags().GetBool("strict")

			s, err := settings.Load(cfg.SettingsPath)
			if err != nil {
				return err
			}

			reporters := []sync.Reporter{sync.NewLogReporter(slog.Default())}
			if journal := openJournal(cfg); journal != nil {
				defer journal.Close()
				reporters = append(reporters, journal)
			}

			engine := sync.NewEngine(
				&sync.Config{Settings: s, Workers: cfg.Workers, DryRun: dryRun},
				builtin.Registry(backend.Deps{Secrets: secretStore(cfg)}),
				filecache.New(cfg.CachePath),
				reporters...,
			)

			summary, err := engine.Run(cmd.Context())
			if summary != nil {
				printSummary(cmd.OutOrStdout(), summary)
			}
			if err != nil {
				return err
			}
			if strict && summary.HasFailures() {
				return fmt.Errorf("%d units failed", summary.FileFailures+summary.SubjectFailures+summary.ConnectionFailures)
			}
			return nil
		},
	}

	addPathFlags(cmd)
	cmd.Flags().String("history", config.DefaultHistoryPath, "run history database, empty to disable")
	cmd.Flags().IntP("workers", "w", 1, "connections synced concurrently")
	cmd.Flags().BoolP("dry-run", "n", false, "only report what would be downloaded")
	cmd.Flags().Bool("strict", false, "exit non-zero when any file, subject or connection failed")
	cmd.Flags().Bool("no-keyring", false, "do not read or store secrets in the OS keyring")
	return cmd
}

func secretStore(cfg *config.Config) secrets.Store {
	if !cfg.UseKeyring {
		return secrets.NewPromptStore(secrets.NewTerminalPrompter())
	}
	return secrets.NewKeyringStore(secrets.NewTerminalPrompter())
}

// openJournal returns nil when history is disabled or unavailable.
func openJournal(cfg *config.Config) *history.Journal {
	if cfg.HistoryPath == "" {
		return nil
	}
	journal, err := history.Open(cfg.HistoryPath)
	if err != nil {
		slog.Warn("run history disabled", "path", cfg.HistoryPath, "error", err)
		return nil
	}
	return journal
}
