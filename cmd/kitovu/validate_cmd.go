package main

import (
	"fmt"

	"github.com/kitovu/kitovu/internal/backend"
	"github.com/kitovu/kitovu/internal/backend/builtin"
	"github.com/kitovu/kitovu/internal/secrets"
	"github.com/kitovu/kitovu/internal/settings"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newValidateCmd())
}

// newValidateCmd checks the settings file and every connection's options
// without connecting anywhere.
func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the sync settings without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			s, err := settings.Load(cfg.SettingsPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			registry := builtin.Registry(backend.Deps{Secrets: secrets.NewMemoryStore()})
			failed := 0
			for _, conn := range s.SortedConnections() {
				b, err := registry.New(conn.Backend)
				if err == nil {
					err = b.Configure(conn.Options)
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s %s: %v\n", red("✗"), conn.Name, err)
					continue
				}
				fmt.Fprintf(out, "%s %s (%s, %s)\n", green("✓"), conn.Name, conn.Backend, plural(len(conn.Subjects), "subject"))
			}

			if failed > 0 {
				return fmt.Errorf("%s invalid", plural(failed, "connection"))
			}
			fmt.Fprintf(out, "%s is valid\n", cfg.SettingsPath)
			return nil
		},
	}
	addPathFlags(cmd)
	return cmd
}
