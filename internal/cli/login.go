package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginPasswordStdin bool

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Log in to ColDaw",
	Long: `Log in with your ColDaw email and password. The session is kept in the
settings file so later commands reuse it.

Without --password-stdin the password is prompted for on a terminal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "Read the password from stdin")
	logoutCmd.Flags().BoolVar(&logoutForget, "forget", false, "Also forget the tracked project")
}

func runLogin(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close(&err)

	username := a.settings.Session.Username
	if len(args) == 1 {
		username = args[0]
	}

	var password string
	switch {
	case loginPasswordStdin:
		password, err = readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
	case term.IsTerminal(int(os.Stdin.Fd())):
		username, password, err = promptCredentials(username)
		if err != nil {
			return fmt.Errorf("login cancelled: %w", err)
		}
	}

	<-a.engine.Login(cmd.Context(), strings.TrimSpace(username), password)
	return reportStatus(cmd.OutOrStdout(), a.engine.Status())
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func promptCredentials(username string) (string, string, error) {
	var password string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Value(&username),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password),
		),
	).Run()
	return username, password, err
}

var logoutForget bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out of ColDaw",
	Long: `End the session. With --forget the tracked project, its save watermark
and the last uploaded project id are cleared as well.`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func runLogout(cmd *cobra.Command, args []string) (err error) {
	a, err := openApp(cmd.Context(), appOptions{})
	if err != nil {
		return err
	}
	defer a.close(&err)

	a.engine.Logout()
	a.forget = logoutForget
	return reportStatus(cmd.OutOrStdout(), a.engine.Status())
}
