package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/bolasblack/coldaw-export/internal/config"
	"github.com/bolasblack/coldaw-export/internal/engine"
)

// stateStyle picks the color for a state. lipgloss strips it when w is not
// a TTY.
func stateStyle(r *lipgloss.Renderer, s engine.State) lipgloss.Style {
	style := r.NewStyle()
	switch s {
	case engine.StateSuccess:
		return style.Foreground(lipgloss.Color("2"))
	case engine.StateError:
		return style.Foreground(lipgloss.Color("1"))
	case engine.StateLoggingIn, engine.StateDetecting, engine.StateExporting:
		return style.Foreground(lipgloss.Color("3"))
	default:
		return style
	}
}

func renderMessage(w io.Writer, st engine.Status) {
	r := lipgloss.NewRenderer(w)
	_, _ = fmt.Fprintln(w, stateStyle(r, st.State).Render(st.Message))
}

func renderStatus(w io.Writer, st engine.Status, settings config.Settings) {
	r := lipgloss.NewRenderer(w)
	label := r.NewStyle().Bold(true).Width(14)
	dim := r.NewStyle().Faint(true)

	row := func(name, value string) {
		_, _ = fmt.Fprintln(w, label.Render(name)+value)
	}

	row("Status:", stateStyle(r, st.State).Render(st.Message))
	if st.LoggedIn {
		row("User:", st.Username)
	} else {
		row("User:", dim.Render("not logged in"))
	}
	row("Project:", st.CurrentName)
	if st.CurrentPath != "" {
		row("File:", dim.Render(st.CurrentPath))
	}
	if st.ProjectPath != "" {
		row("Label:", st.ProjectPath)
	}
	if st.DetectedName != "" && st.DetectedName != st.CurrentName {
		row("Detected:", st.DetectedName+dim.Render("  (run 'coldaw use' to select it)"))
	}
	row("Auto export:", onOff(st.AutoExport))
	row("Server:", settings.ServerURL)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
