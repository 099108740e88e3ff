package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harrison/conductor/internal/config"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize conductor in the current directory",
		Long: `Create .conductor/ with a default config.yaml, the workspaces and
logs directories, and the SQLite database with its schema applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, dir := range []string{".conductor", filepath.Join(".conductor", "workspaces"), filepath.Join(".conductor", "logs")} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}

			configPath := filepath.Join(".conductor", "config.yaml")
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				v := viper.New()
				config.SetDefaults(v)
				if err := v.WriteConfigAs(configPath); err != nil {
					return fmt.Errorf("write %s: %w", configPath, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", configPath)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, leaving it untouched\n", configPath)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized database at %s\n", a.cfg.Database.Path)
			return nil
		},
	}
}
