package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-multierror"

	"github.com/bolasblack/coldaw-export/internal/browser"
	"github.com/bolasblack/coldaw-export/internal/config"
	"github.com/bolasblack/coldaw-export/internal/engine"
	"github.com/bolasblack/coldaw-export/internal/mapping"
	"github.com/bolasblack/coldaw-export/internal/session"
	"github.com/bolasblack/coldaw-export/internal/state"
	"github.com/bolasblack/coldaw-export/internal/upload"
	"github.com/bolasblack/coldaw-export/internal/util"
)

// newEnv builds the environment commands run against. Tests swap it.
var newEnv = util.NewOsEnv

// httpClient overrides the default clients when set. Tests swap it.
var httpClient *http.Client

// app wires settings, state and the engine for one command invocation.
type app struct {
	env      *util.Env
	settings config.Settings
	state    *state.State
	session  *session.Manager
	mappings *mapping.Store
	engine   *engine.Engine
	// forget drops the tracking state on close instead of saving it.
	forget bool
}

type appOptions struct {
	// schedule enables the auto-export cycle.
	schedule  bool
	noBrowser bool
}

// openApp loads settings and state from the data directory and starts an
// engine restored to where the previous command left off.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	env := newEnv()

	settingsPath := config.SettingsPath(dataDir)
	settings, err := config.LoadSettings(env.Fs, settingsPath)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", settingsPath, err)
	}

	st, created, err := state.LoadOrCreate(env.Fs, dataDir)
	if err != nil {
		return nil, err
	}
	if created {
		appLog.Debug("created state file", "path", state.FilePath(dataDir), "install_id", st.InstallID)
	}

	mgr := session.NewManager(settings.ServerURL, httpClient, appLog)
	mgr.Restore(session.Session{
		Username: settings.Session.Username,
		UserID:   settings.Session.CurrentUserID,
		Token:    settings.Session.Token,
	})

	store := mapping.Open(env.Fs, mapping.FilePath(dataDir), appLog)
	pipe := upload.NewPipeline(upload.Options{
		Fs:       env.Fs,
		BaseURL:  settings.ServerURL,
		Client:   httpClient,
		Labels:   store,
		ClientID: st.InstallID,
		Logger:   appLog,
	})

	eopts := engine.Options{
		Fs:            env.Fs,
		Session:       mgr,
		Uploader:      pipe,
		Labels:        store,
		Browser:       browser.NewOpener(env.Cmd),
		Logger:        appLog,
		ProjectsDir:   settings.ProjectsDir,
		WebURL:        settings.ResolvedWebURL(),
		DefaultAuthor: settings.Author,
		AutoExport:    settings.AutoExport,
		OpenBrowser:   settings.OpenBrowser && !opts.noBrowser,
		SettleDelay:   settings.Settle(),
	}
	if opts.schedule {
		eopts.PollInterval = settings.PollEvery()
	}
	eng := engine.New(eopts)
	eng.Restore(st.Current, st.Watermark, st.Detected)
	if err := eng.Start(ctx); err != nil {
		return nil, err
	}

	return &app{
		env:      env,
		settings: settings,
		state:    st,
		session:  mgr,
		mappings: store,
		engine:   eng,
	}, nil
}

// persist writes tracking state and the session back to disk.
func (a *app) persist() error {
	current, watermark, detected := a.engine.Tracking()
	a.state.Track(current, watermark, detected)
	if id := a.engine.Status().LastProjectID; id != "" {
		a.state.LastProjectID = id
	}

	s := a.session.Current()
	username := s.Username
	if username == "" {
		// Keep the last email around as the login default.
		username = a.settings.Session.Username
	}
	a.settings.Session = config.SessionSettings{
		Username:      username,
		Token:         s.Token,
		CurrentUserID: s.UserID,
	}

	var result *multierror.Error
	saveState := func() error { return state.Save(a.env.Fs, dataDir, a.state) }
	if a.forget {
		saveState = func() error { return state.Delete(a.env.Fs, dataDir) }
	}
	if err := saveState(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := config.SaveSettings(a.env.Fs, config.SettingsPath(dataDir), a.settings); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// close stops the engine and persists. A persist failure is reported
// through errp unless the command already failed.
func (a *app) close(errp *error) {
	a.engine.Stop()
	if err := a.persist(); err != nil {
		appLog.Error("failed to persist state", "error", err)
		if *errp == nil {
			*errp = err
		}
	}
}

// reportStatus prints the engine's message and turns the Error state into a
// command failure.
func reportStatus(w io.Writer, st engine.Status) error {
	if st.State == engine.StateError {
		return errors.New(st.Message)
	}
	renderMessage(w, st)
	return nil
}
