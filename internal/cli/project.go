package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bolasblack/coldaw-export/internal/util"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Look for a project saved in the last 30 minutes",
	Long: `Scan the projects directory for the most recently saved .als file.
The file is offered, not selected: run 'coldaw use' to start syncing it.`,
	Args: cobra.NoArgs,
	RunE: runDetect,
}

func runDetect(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close(&err)

	out := cmd.OutOrStdout()
	util.ProgressStep(out, "Scanning %s\n", a.settings.ProjectsDir)
	found := a.engine.DetectOnStartup()
	if found == nil {
		fmt.Fprintln(out, "No project saved in the last 30 minutes.")
		return nil
	}
	util.ProgressDone(out, "Detected %s (saved %s)\n", found.FileName(), found.ModTime.Format("15:04:05"))
	fmt.Fprintln(out, "Run 'coldaw use' to start syncing it.")
	return nil
}

var useCmd = &cobra.Command{
	Use:   "use",
	Short: "Select the detected project",
	Args:  cobra.NoArgs,
	RunE:  runUse,
}

func runUse(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close(&err)

	if a.engine.Status().DetectedName == "" {
		a.engine.DetectOnStartup()
	}
	if err := a.engine.UseDetectedFile(); err != nil {
		return fmt.Errorf("no recently saved project found: run 'coldaw select <file.als>' instead")
	}
	return reportStatus(cmd.OutOrStdout(), a.engine.Status())
}

var selectLabel string

var selectCmd = &cobra.Command{
	Use:   "select <file.als>",
	Short: "Select the project file to export",
	Args:  cobra.ExactArgs(1),
	RunE:  runSelect,
}

func init() {
	selectCmd.Flags().StringVar(&selectLabel, "label", "", "Project path label to remember for this file")
}

func runSelect(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close(&err)

	if err := a.engine.SetCurrentProjectFile(args[0]); err != nil {
		return err
	}
	if selectLabel != "" {
		if err := a.engine.SetProjectPath(selectLabel); err != nil {
			return err
		}
	}
	return reportStatus(cmd.OutOrStdout(), a.engine.Status())
}

var labelList bool

var labelCmd = &cobra.Command{
	Use:   "label [project-path]",
	Short: "Show or set the project path label of the selected file",
	Long: `Labels are remembered per file and restored whenever that file is selected
again. With --list every remembered label is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLabel,
}

func init() {
	labelCmd.Flags().BoolVar(&labelList, "list", false, "List every remembered label")
}

func runLabel(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close(&err)

	out := cmd.OutOrStdout()
	if labelList {
		labels := a.mappings.Snapshot()
		paths := make([]string, 0, len(labels))
		for p := range labels {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Fprintf(out, "%s\t%s\n", p, labels[p])
		}
		return nil
	}

	st := a.engine.Status()
	if st.CurrentPath == "" {
		return fmt.Errorf("no project selected: run 'coldaw select <file.als>' first")
	}
	if len(args) == 0 {
		fmt.Fprintln(out, st.ProjectPath)
		return nil
	}
	if err := a.engine.SetProjectPath(args[0]); err != nil {
		return err
	}
	util.ProgressDone(out, "Label for %s set to %q\n", st.CurrentName, args[0])
	return nil
}
