// Package engine drives the export workflow: it owns the selected project
// file, the save watermark, and the user-visible status, and it schedules
// login and upload work off the caller's goroutine.
package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"github.com/bolasblack/coldaw-export/internal/detect"
	apperrors "github.com/bolasblack/coldaw-export/internal/errors"
	"github.com/bolasblack/coldaw-export/internal/logger"
	"github.com/bolasblack/coldaw-export/internal/session"
	"github.com/bolasblack/coldaw-export/internal/upload"
)

// State is the coarse export state shown to the user.
type State int

const (
	StateIdle State = iota
	StateLoggingIn
	StateDetecting
	StateExporting
	StateSuccess
	StateError
)

var stateNames = map[State]string{
	StateIdle:      "idle",
	StateLoggingIn: "logging-in",
	StateDetecting: "detecting",
	StateExporting: "exporting",
	StateSuccess:   "success",
	StateError:     "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

const (
	msgWelcome       = "Please login to continue"
	msgCredentials   = "Error: Username and password required"
	msgLoggingIn     = "Logging in..."
	msgLoggedOut     = "Logged out. Please login to continue"
	msgLoginFirst    = "Error: Please login first"
	msgInProgress    = "Export already in progress..."
	msgExporting     = "Exporting selected project to ColDaw..."
	msgDetecting     = "Detecting recently saved project..."
	msgNoRecent      = "No recently saved project found. Please select a file manually."
	msgNoFolder      = "Error: Ableton folder not found. Please select a file manually."
	msgAutoExport    = "Detected project save, auto-exporting..."
	msgPending       = "Project updated! Pending changes ready to push."
	msgAuthFailed    = "Error: Authentication failed. Please login again."
	msgConnection    = "Error: Could not connect to server"
	msgLabelNotSaved = "Error: Could not save project path"
	noneName         = "None"
)

// Authenticator is the session surface the engine needs.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (session.Session, error)
	Logout()
	Invalidate(rejectedToken string)
	Current() session.Session
}

// Uploader sends one project file.
type Uploader interface {
	Upload(ctx context.Context, path string, meta upload.Metadata, token string) upload.Result
}

// Labels looks up and remembers project-path labels.
type Labels interface {
	Get(path string) (string, bool)
	Set(path, label string) error
}

// Browser hands a URL to the desktop.
type Browser interface {
	Open(url string) error
}

// Options configures an Engine. Session, Uploader, and Labels are required.
type Options struct {
	Fs       afero.Fs
	Session  Authenticator
	Uploader Uploader
	Labels   Labels
	// Browser may be nil, in which case no hand-off happens.
	Browser  Browser
	Logger   *slog.Logger

	ProjectsDir   string
	WebURL        string
	DefaultAuthor string
	AutoExport    bool
	OpenBrowser   bool

	// PollInterval of zero disables the scheduler; Tick can still be
	// driven by hand.
	PollInterval time.Duration
	// SettleDelay is waited before reading a file whose save was just
	// observed.
	SettleDelay  time.Duration
	Now          func() time.Time
}

// Status is a consistent snapshot for presentation.
type Status struct {
	State         State
	Message       string
	Exporting     bool
	LoggedIn      bool
	Username      string
	AutoExport    bool
	CurrentName   string
	CurrentPath   string
	DetectedName  string
	ProjectPath   string
	LastOutcome   upload.Outcome
	LastProjectID string
}

// Engine is safe for concurrent use. Worker results are applied by a single
// goroutine started with Start.
type Engine struct {
	fs          afero.Fs
	session     Authenticator
	uploader    Uploader
	labels      Labels
	browser     Browser
	detector    *detect.Detector
	logger      *slog.Logger
	projectsDir string
	webURL      string
	author      string
	openBrowser bool
	poll        time.Duration
	settle      time.Duration
	now         func() time.Time

	mu            sync.Mutex
	state         State
	message       string
	exporting     bool
	autoExport    bool
	current       *detect.FileRef
	watermark     time.Time
	detected      *detect.FileRef
	projectPath   string
	lastOutcome   upload.Outcome
	lastProjectID string

	results chan result
	workers sync.WaitGroup
	sched   *cron.Cron
	quit    chan struct{}
	stopped chan struct{}
	running bool
}

// New creates an Engine in the Idle state.
func New(opts Options) *Engine {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		fs:          fs,
		session:     opts.Session,
		uploader:    opts.Uploader,
		labels:      opts.Labels,
		browser:     opts.Browser,
		detector:    &detect.Detector{Fs: fs, Root: opts.ProjectsDir, Now: now},
		logger:      logger.OrDefault(opts.Logger).With("component", "engine"),
		projectsDir: opts.ProjectsDir,
		webURL:      opts.WebURL,
		author:      opts.DefaultAuthor,
		openBrowser: opts.OpenBrowser,
		poll:        opts.PollInterval,
		settle:      opts.SettleDelay,
		now:         now,
		autoExport:  opts.AutoExport,
		state:       StateIdle,
		message:     msgWelcome,
		results:     make(chan result, 8),
	}
	if s := e.session.Current(); s.IsAuthenticated() {
		e.message = "Logged in as: " + s.Username
	}
	return e
}

// Status returns a snapshot of the engine and session state.
func (e *Engine) Status() Status {
	sess := e.session.Current()
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		State:         e.state,
		Message:       e.message,
		Exporting:     e.exporting,
		LoggedIn:      sess.IsAuthenticated(),
		Username:      sess.Username,
		AutoExport:    e.autoExport,
		CurrentName:   noneName,
		ProjectPath:   e.projectPath,
		LastOutcome:   e.lastOutcome,
		LastProjectID: e.lastProjectID,
	}
	if e.current != nil {
		st.CurrentName = e.current.Name()
		st.CurrentPath = e.current.Path
	}
	if e.detected != nil {
		st.DetectedName = e.detected.Name()
	}
	return st
}

func (e *Engine) setLocked(state State, message string) {
	e.state = state
	e.message = message
}

// Login authenticates in the background. The returned channel closes once
// the outcome is reflected in Status.
func (e *Engine) Login(ctx context.Context, username, password string) <-chan struct{} {
	e.mu.Lock()
	if username == "" || password == "" {
		e.setLocked(StateError, msgCredentials)
		e.mu.Unlock()
		return closedChan()
	}
	e.setLocked(StateLoggingIn, msgLoggingIn)
	e.mu.Unlock()

	done := make(chan struct{})
	e.spawn(func() result {
		_, err := e.session.Login(ctx, username, password)
		return &loginResult{username: username, err: err, done: done}
	})
	return done
}

// Logout clears the session. An upload already in flight keeps its token.
func (e *Engine) Logout() {
	e.session.Logout()
	e.mu.Lock()
	e.setLocked(StateIdle, msgLoggedOut)
	e.mu.Unlock()
}

// SetAutoExport toggles the save-triggered export.
func (e *Engine) SetAutoExport(enabled bool) {
	e.mu.Lock()
	e.autoExport = enabled
	e.mu.Unlock()
}

// SetCurrentProjectFile selects path as the export target. Files that do
// not exist or are not project files are rejected without any change.
func (e *Engine) SetCurrentProjectFile(path string) error {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if !detect.HasProjectExt(path) {
		return apperrors.New(apperrors.KindInvalidInput, "not an Ableton project file: "+filepath.Base(path), nil)
	}
	ref, ok := detect.Stat(e.fs, path)
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "File does not exist", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.adoptLocked(ref)
	e.setLocked(StateIdle, "File selected: "+ref.Name())
	return nil
}

// adoptLocked makes ref the current file, advancing the watermark to its
// modification time and loading its remembered label.
func (e *Engine) adoptLocked(ref *detect.FileRef) {
	e.current = ref
	e.watermark = ref.ModTime
	e.projectPath = ""
	if label, ok := e.labels.Get(ref.Path); ok {
		e.projectPath = label
	}
}

// SetProjectPath labels the current file and remembers the label.
func (e *Engine) SetProjectPath(label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.projectPath = label
	if e.current == nil {
		return nil
	}
	if err := e.labels.Set(e.current.Path, label); err != nil {
		e.logger.Warn("could not save project path", "path", e.current.Path, "error", err)
		e.setLocked(StateError, msgLabelNotSaved)
		return err
	}
	return nil
}

// DetectOnStartup looks for a project saved within the startup window and
// offers it without selecting it.
func (e *Engine) DetectOnStartup() *detect.FileRef {
	e.mu.Lock()
	prev := e.state
	e.state = StateDetecting
	e.mu.Unlock()

	found := e.detector.Recent(detect.StartupWindow)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = prev
	if found != nil {
		e.detected = found
		e.state = StateIdle
		e.message = "Detected: " + found.Name() + " (use it to start syncing)"
	}
	return found
}

// UseDetectedFile selects the file offered by DetectOnStartup.
func (e *Engine) UseDetectedFile() error {
	e.mu.Lock()
	detected := e.detected
	e.mu.Unlock()
	if detected == nil {
		return apperrors.New(apperrors.KindNotFound, "no detected project file", nil)
	}
	if err := e.SetCurrentProjectFile(detected.Path); err != nil {
		return err
	}
	e.mu.Lock()
	e.message = "Using: " + detected.Name()
	e.mu.Unlock()
	return nil
}

// Restore reinstates tracking state saved by a previous process. Tracked
// files that no longer exist are dropped.
func (e *Engine) Restore(current *detect.FileRef, watermark time.Time, detected *detect.FileRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if current != nil {
		if _, ok := detect.Stat(e.fs, current.Path); ok {
			e.adoptLocked(current)
			e.watermark = watermark
		}
	}
	if detected != nil {
		if _, ok := detect.Stat(e.fs, detected.Path); ok {
			e.detected = detected
		}
	}
}

// Tracking returns the state worth persisting across processes.
func (e *Engine) Tracking() (current *detect.FileRef, watermark time.Time, detected *detect.FileRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.watermark, e.detected
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
