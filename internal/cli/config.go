package cli

import (
	"relief-cli/internal/model"
	"relief-cli/internal/store"

	"github.com/spf13/cobra"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change ~/.relief/config.json",
	}
	cmd.AddCommand(newConfigShowCmd(app))
	cmd.AddCommand(newConfigSetCmd(app))
	return cmd
}

func effectiveConfig(cfg *store.GlobalConfig) map[string]any {
	return map[string]any{
		"pageSize":          cfg.PageSizeOrDefault(model.DefaultPageSize),
		"pollInterval":      cfg.PollInterval().String(),
		"resetPageOnSearch": cfg.ResetsPageOnSearch(),
		"restoreTimeout":    cfg.RestoreTimeout().String(),
	}
}

func newConfigShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the config file and the effective values",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := store.ConfigPath()
			if err != nil {
				return writeErr(cmd, err)
			}
			cfg, err := store.LoadConfig()
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{
				"path":      path,
				"config":    cfg,
				"effective": effectiveConfig(cfg),
			}})
		},
	}
}

func newConfigSetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Set one config value",
		Args:      cobra.ExactArgs(2),
		ValidArgs: store.ConfigKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := store.LoadConfig()
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return writeErr(cmd, err)
			}
			if err := store.SaveConfig(cfg); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"data": map[string]any{
				"config":    cfg,
				"effective": effectiveConfig(cfg),
			}})
		},
	}
}
