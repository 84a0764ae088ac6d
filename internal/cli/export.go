package cli

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	apperrors "github.com/bolasblack/coldaw-export/internal/errors"
)

var (
	exportNoBrowser bool
	exportLabel     string
)

var exportCmd = &cobra.Command{
	Use:   "export [file.als]",
	Short: "Upload the selected project to ColDaw",
	Long: `Upload the selected project file. When a file is given it is selected
first; when nothing is selected the most recently saved project is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().BoolVar(&exportNoBrowser, "no-browser", false, "Do not open the project page afterwards")
	exportCmd.Flags().StringVar(&exportLabel, "label", "", "Project path label to remember for this file")
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd.Context(), appOptions{noBrowser: exportNoBrowser})
	if err != nil {
		return err
	}
	defer a.close(&err)

	if len(args) == 1 {
		if err := a.engine.SetCurrentProjectFile(args[0]); err != nil {
			return err
		}
	}
	if exportLabel != "" {
		if err := a.engine.SetProjectPath(exportLabel); err != nil {
			return err
		}
	}

	done, err := a.engine.Export(cmd.Context())
	if err != nil {
		return exportRefused(err)
	}
	stop := startSpinner(cmd.ErrOrStderr(), " "+a.engine.Status().Message)
	<-done
	stop()

	return reportStatus(cmd.OutOrStdout(), a.engine.Status())
}

// startSpinner shows a spinner on terminals and returns its stop func.
func startSpinner(w io.Writer, suffix string) func() {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = suffix
	s.Start()
	return s.Stop
}

// exportRefused turns a refused export into a command error.
func exportRefused(err error) error {
	switch apperrors.KindOf(err) {
	case apperrors.KindUnauthorized:
		return errors.New("not logged in: run 'coldaw login' first")
	case apperrors.KindBusy:
		return errors.New("an export is already in progress")
	default:
		return err
	}
}
