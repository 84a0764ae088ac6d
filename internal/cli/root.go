// Package cli implements the coldaw command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bolasblack/coldaw-export/internal/logger"
	"github.com/bolasblack/coldaw-export/internal/util"
)

var (
	// Version, Commit, and Date are set at build time via ldflags
	Version = "dev"
	Commit  = ""
	Date    = ""
)

var (
	dataDir string
	verbose bool

	appLog = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "coldaw",
	Short: "ColDaw export - sync Ableton projects to ColDaw",
	Long: `ColDaw export (coldaw) keeps an Ableton Live project in sync with ColDaw.

Log in once, pick the .als file you are working on, and export it manually
or let 'coldaw watch' upload it every time you save.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupRoot,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GetRootCmd returns the root command for documentation generation.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func setupRoot(cmd *cobra.Command, args []string) error {
	level := "warn"
	if verbose {
		level = "debug"
	}
	appLog = logger.Setup(level, cmd.ErrOrStderr())
	slog.SetDefault(appLog)

	if dataDir == "" {
		dir, err := util.AppDataDir()
		if err != nil {
			return err
		}
		dataDir = dir
	}
	return nil
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("coldaw version %s\ncommit: %s\ndate: %s\n", Version, Commit, Date))

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory holding settings and state (default: user config dir/ColDaw)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(useCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(configCmd)
}
