package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bolasblack/coldaw-export/internal/browser"
)

var openCmd = &cobra.Command{
	Use:   "open [project-id]",
	Short: "Open a project page in the browser",
	Long:  `Open the given project, or the last uploaded one, on the ColDaw website.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOpen,
}

func runOpen(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close(&err)

	id := a.state.LastProjectID
	if len(args) == 1 {
		id = args[0]
	}

	url := a.settings.ResolvedWebURL()
	if id != "" {
		url = browser.ProjectURL(url, id, false)
	}
	if err := browser.NewOpener(a.env.Cmd).Open(url); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Opened %s\n", url)
	return nil
}
