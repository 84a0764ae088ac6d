// Package browser hands a project URL to the user's default browser.
package browser

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"

	"github.com/bolasblack/coldaw-export/internal/util"
)

// ProjectURL builds {webBase}/project/{projectID}, flagged with from=vst when
// the hand-off follows an upload.
func ProjectURL(webBase, projectID string, fromPlugin bool) string {
	u := strings.TrimRight(webBase, "/") + "/project/" + url.PathEscape(projectID)
	if fromPlugin {
		u += "?from=vst"
	}
	return u
}

// Opener launches URLs through the platform's open command.
type Opener struct {
	Cmd  util.CommandRunner
	GOOS string
}

// NewOpener creates an Opener for the running platform.
func NewOpener(cmd util.CommandRunner) *Opener {
	return &Opener{Cmd: cmd, GOOS: runtime.GOOS}
}

// Open starts the browser without waiting for it.
func (o *Opener) Open(target string) error {
	name, args := openCommand(o.GOOS, target)
	if err := o.Cmd.Start(name, args...); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

func openCommand(goos, target string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}
	default:
		return "xdg-open", []string{target}
	}
}
