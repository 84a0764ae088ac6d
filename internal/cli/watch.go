package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bolasblack/coldaw-export/internal/util"
)

// watchRefresh is how often status changes are printed.
const watchRefresh = 250 * time.Millisecond

var (
	watchNoBrowser  bool
	watchAutoExport bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Export the project every time it is saved",
	Long: `Poll the selected project and upload it whenever Ableton saves it.
When nothing is selected, a project saved in the last few minutes is picked
up automatically. Stop with Ctrl-C.

Requires auto_export to be enabled in the settings, or --auto-export to
enable it for this run.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoBrowser, "no-browser", false, "Do not open the project page after uploads")
	watchCmd.Flags().BoolVar(&watchAutoExport, "auto-export", false, "Enable auto-export for this run regardless of the setting")
}

func runWatch(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, appOptions{schedule: true, noBrowser: watchNoBrowser})
	if err != nil {
		return err
	}
	defer a.close(&err)

	if watchAutoExport {
		a.engine.SetAutoExport(true)
	}
	if !a.engine.Status().AutoExport {
		return errors.New("auto-export is disabled: run 'coldaw config set auto_export true' or pass --auto-export")
	}

	out := cmd.OutOrStdout()
	if a.engine.Status().CurrentPath == "" {
		// Only offered here; the save cycle adopts files saved from now on.
		a.engine.DetectOnStartup()
	}

	st := a.engine.Status()
	if !st.LoggedIn {
		fmt.Fprintln(cmd.ErrOrStderr(), "Not logged in: saves will be detected but not uploaded. Run 'coldaw login'.")
	}
	util.ProgressStep(out, "Watching %s every %s (Ctrl-C to stop)\n", a.settings.ProjectsDir, a.settings.PollEvery())

	ticker := time.NewTicker(watchRefresh)
	defer ticker.Stop()

	last := ""
	for {
		st := a.engine.Status()
		if st.Message != last {
			last = st.Message
			renderMessage(out, st)
			if perr := a.persist(); perr != nil {
				appLog.Warn("failed to persist state", "error", perr)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
