package cli

import (
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/bolasblack/coldaw-export/internal/config"
	"github.com/bolasblack/coldaw-export/internal/util"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Change one setting",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.SettingKeys(),
	RunE:      runConfigSet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.SettingsPath(dataDir))
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	env := newEnv()
	settings, err := config.LoadSettings(env.Fs, config.SettingsPath(dataDir))
	if err != nil {
		return err
	}
	if settings.Session.Token != "" {
		settings.Session.Token = "********"
	}

	data, err := toml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	env := newEnv()
	path := config.SettingsPath(dataDir)
	settings, err := config.LoadSettings(env.Fs, path)
	if err != nil {
		return err
	}

	if err := settings.Set(args[0], args[1]); err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := config.SaveSettings(env.Fs, path, settings); err != nil {
		return err
	}

	util.ProgressDone(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
	return nil
}
