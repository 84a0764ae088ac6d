package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "github.com/bolasblack/coldaw-export/internal/errors"
)

var statusVerify bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show login and project status",
	Long:  `Display who is logged in, which project file is tracked, and the result of the last action.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusVerify, "verify", false, "Check the session with the server")
}

func runStatus(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close(&err)

	if statusVerify && a.session.IsAuthenticated() {
		if verr := a.session.Verify(cmd.Context()); verr != nil {
			if !apperrors.Is(verr, apperrors.KindUnauthorized) {
				return fmt.Errorf("could not verify session: %w", verr)
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "Session is no longer valid. Please login again.")
		}
	}

	renderStatus(cmd.OutOrStdout(), a.engine.Status(), a.settings)
	return nil
}
