package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolasblack/coldaw-export/internal/config"
	"github.com/bolasblack/coldaw-export/internal/engine"
	apperrors "github.com/bolasblack/coldaw-export/internal/errors"
	"github.com/bolasblack/coldaw-export/internal/state"
	"github.com/bolasblack/coldaw-export/internal/util"
)

const (
	testDataDir     = "/data"
	testProjectsDir = "/projects"
)

type testServer struct {
	*httptest.Server
	uploads   atomic.Int32
	verifyErr atomic.Bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/login":
			var body struct {
				Email    string `json:"email"`
				Password string `json:"password"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body.Password != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid email or password"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "token-1", "userId": "u-1"})
		case "/api/auth/verify":
			if ts.verifyErr.Load() {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Token expired"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"userId": "u-1", "email": "alice@example.com"})
		case "/api/projects/smart-import":
			if r.Header.Get("Authorization") != "Bearer token-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			ts.uploads.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"projectId": "abc123", "isNewProject": true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

// setupCLI points the commands at an in-memory env configured for srv.
func setupCLI(t *testing.T, srv *testServer) *util.Env {
	t.Helper()
	env := util.NewTestEnv()
	env.Cmd.(*util.MockCommandRunner).AllowUnexpected()

	s := config.DefaultSettings()
	s.ServerURL = srv.URL
	s.ProjectsDir = testProjectsDir
	require.NoError(t, config.SaveSettings(env.Fs, config.SettingsPath(testDataDir), s))
	require.NoError(t, env.Fs.MkdirAll(testProjectsDir, 0o755))

	oldEnv, oldClient := newEnv, httpClient
	newEnv = func() *util.Env { return env }
	httpClient = srv.Client()
	t.Cleanup(func() {
		newEnv, httpClient = oldEnv, oldClient
		dataDir = ""
	})
	return env
}

func resetFlags() {
	verbose = false
	loginPasswordStdin = false
	statusVerify = false
	selectLabel = ""
	labelList = false
	exportNoBrowser = false
	exportLabel = ""
	watchNoBrowser = false
	watchAutoExport = false
	logoutForget = false
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--data-dir", testDataDir}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeProject(t *testing.T, env *util.Env, name string) string {
	t.Helper()
	path := testProjectsDir + "/" + name
	require.NoError(t, afero.WriteFile(env.Fs, path, []byte("als"), 0o644))
	return path
}

func loadSettings(t *testing.T, env *util.Env) config.Settings {
	t.Helper()
	s, err := config.LoadSettings(env.Fs, config.SettingsPath(testDataDir))
	require.NoError(t, err)
	return s
}

func TestLoginPersistsSession(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)

	out, err := run(t, "secret\n", "login", "--password-stdin", "alice@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as: alice@example.com")

	s := loadSettings(t, env)
	assert.Equal(t, "alice@example.com", s.Session.Username)
	assert.Equal(t, "token-1", s.Session.Token)
	assert.Equal(t, "u-1", s.Session.CurrentUserID)
}

func TestLoginFailures(t *testing.T) {
	t.Run("wrong password", func(t *testing.T) {
		srv := newTestServer(t)
		env := setupCLI(t, srv)

		_, err := run(t, "nope\n", "login", "--password-stdin", "alice@example.com")
		require.Error(t, err)
		assert.Equal(t, "Login failed: Invalid email or password", err.Error())
		assert.Empty(t, loadSettings(t, env).Session.Token)
	})

	t.Run("no password", func(t *testing.T) {
		srv := newTestServer(t)
		setupCLI(t, srv)

		_, err := run(t, "", "login", "alice@example.com")
		require.Error(t, err)
		assert.Equal(t, "Error: Username and password required", err.Error())
	})
}

func TestLogoutKeepsUsername(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)

	_, err := run(t, "secret\n", "login", "--password-stdin", "alice@example.com")
	require.NoError(t, err)

	out, err := run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out. Please login to continue")

	s := loadSettings(t, env)
	assert.Empty(t, s.Session.Token)
	assert.Equal(t, "alice@example.com", s.Session.Username)
}

func TestExportFlow(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)
	path := writeProject(t, env, "Song.als")

	_, err := run(t, "secret\n", "login", "--password-stdin", "alice@example.com")
	require.NoError(t, err)

	out, err := run(t, "", "select", path, "--label", "albums/first")
	require.NoError(t, err)
	assert.Contains(t, out, "File selected: Song")

	out, err = run(t, "", "export")
	require.NoError(t, err)
	assert.Contains(t, out, "New project created! Project ID: abc123")
	assert.Equal(t, int32(1), srv.uploads.Load())

	st, err := state.Load(env.Fs, testDataDir)
	require.NoError(t, err)
	require.NotNil(t, st.Current)
	assert.Equal(t, path, st.Current.Path)
	assert.Equal(t, "abc123", st.LastProjectID)

	mock := env.Cmd.(*util.MockCommandRunner)
	var opened bool
	for _, key := range mock.CallKeys() {
		if strings.Contains(key, "/project/abc123?from=vst") {
			opened = true
		}
	}
	assert.True(t, opened, "expected browser hand-off, got %v", mock.CallKeys())

	out, err = run(t, "", "label", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, path+"\talbums/first")
}

func TestExportNoBrowser(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)
	path := writeProject(t, env, "Song.als")

	_, err := run(t, "secret\n", "login", "--password-stdin", "alice@example.com")
	require.NoError(t, err)
	_, err = run(t, "", "export", "--no-browser", path)
	require.NoError(t, err)

	assert.Empty(t, env.Cmd.(*util.MockCommandRunner).CallKeys())
}

func TestExportRequiresLogin(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)
	path := writeProject(t, env, "Song.als")

	out, err := run(t, "", "export", path)
	require.Error(t, err)
	assert.Equal(t, "not logged in: run 'coldaw login' first", err.Error())
	assert.NotContains(t, out, "Error: Please login first")
	assert.Zero(t, srv.uploads.Load())
}

func TestExportRefused(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unauthorized", apperrors.New(apperrors.KindUnauthorized, "Error: Please login first", nil), "not logged in: run 'coldaw login' first"},
		{"busy", apperrors.New(apperrors.KindBusy, "Export already in progress...", nil), "an export is already in progress"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, exportRefused(tt.err), tt.want)
		})
	}
}

func TestSelectRejectsNonProject(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)
	require.NoError(t, afero.WriteFile(env.Fs, testProjectsDir+"/notes.txt", []byte("x"), 0o644))

	_, err := run(t, "", "select", testProjectsDir+"/notes.txt")
	require.Error(t, err)

	st, err := state.Load(env.Fs, testDataDir)
	require.NoError(t, err)
	if st != nil {
		assert.Nil(t, st.Current)
	}
}

func TestLabelRequiresSelection(t *testing.T) {
	srv := newTestServer(t)
	setupCLI(t, srv)

	_, err := run(t, "", "label", "albums/first")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no project selected")
}

func TestDetectAndUse(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)
	path := writeProject(t, env, "Fresh.als")

	out, err := run(t, "", "detect")
	require.NoError(t, err)
	assert.Contains(t, out, "Detected Fresh.als")

	out, err = run(t, "", "use")
	require.NoError(t, err)
	assert.Contains(t, out, "Using: Fresh")

	st, err := state.Load(env.Fs, testDataDir)
	require.NoError(t, err)
	require.NotNil(t, st.Current)
	assert.Equal(t, path, st.Current.Path)
}

func TestUseWithoutRecentProject(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)
	path := writeProject(t, env, "Old.als")
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, env.Fs.Chtimes(path, old, old))

	_, err := run(t, "", "use")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coldaw select")
}

func TestLogoutForgetClearsTracking(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)
	path := writeProject(t, env, "Song.als")

	_, err := run(t, "secret\n", "login", "--password-stdin", "alice@example.com")
	require.NoError(t, err)
	_, err = run(t, "", "select", path)
	require.NoError(t, err)

	_, err = run(t, "", "logout", "--forget")
	require.NoError(t, err)

	st, err := state.Load(env.Fs, testDataDir)
	require.NoError(t, err)
	assert.Nil(t, st, "state file is removed")
	assert.Empty(t, loadSettings(t, env).Session.Token)

	out, err := run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "None")
}

func TestStatusVerify(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)

	_, err := run(t, "secret\n", "login", "--password-stdin", "alice@example.com")
	require.NoError(t, err)

	out, err := run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "alice@example.com")
	assert.Contains(t, out, "None")

	srv.verifyErr.Store(true)
	out, err = run(t, "", "status", "--verify")
	require.NoError(t, err)
	assert.Contains(t, out, "Please login again")
	assert.Contains(t, out, "not logged in")
	assert.Empty(t, loadSettings(t, env).Session.Token)
}

func TestOpenLastProject(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)

	st, _, err := state.LoadOrCreate(env.Fs, testDataDir)
	require.NoError(t, err)
	st.LastProjectID = "p-9"
	require.NoError(t, state.Save(env.Fs, testDataDir, st))

	out, err := run(t, "", "open")
	require.NoError(t, err)
	assert.Contains(t, out, srv.URL+"/project/p-9")
	assert.NotContains(t, out, "from=vst")
}

func TestConfigSetAndShow(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)

	_, err := run(t, "secret\n", "login", "--password-stdin", "alice@example.com")
	require.NoError(t, err)

	out, err := run(t, "", "config", "set", "auto_export", "true")
	require.NoError(t, err)
	assert.Contains(t, out, "auto_export = true")
	assert.True(t, loadSettings(t, env).AutoExport)

	_, err = run(t, "", "config", "set", "poll_interval", "10ms")
	require.Error(t, err)
	assert.Equal(t, "2s", loadSettings(t, env).PollInterval)

	out, err = run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "auto_export = true")
	assert.NotContains(t, out, "token-1")

	out, err = run(t, "", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, config.SettingsPath(testDataDir)+"\n", out)
}

func TestWatchStopsWithContext(t *testing.T) {
	srv := newTestServer(t)
	env := setupCLI(t, srv)
	writeProject(t, env, "Fresh.als")
	resetFlags()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--data-dir", testDataDir, "watch", "--auto-export"})

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()
	require.NoError(t, rootCmd.ExecuteContext(ctx))

	assert.Contains(t, out.String(), "Detected: Fresh (use it to start syncing)")
	assert.Contains(t, out.String(), "Not logged in")
	assert.Zero(t, srv.uploads.Load())

	st, err := state.Load(env.Fs, testDataDir)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Nil(t, st.Current, "startup candidate is offered, not selected")
	require.NotNil(t, st.Detected)
	assert.Equal(t, testProjectsDir+"/Fresh.als", st.Detected.Path)
}

// watchFor runs watch with args until timeout and returns its output.
func watchFor(t *testing.T, timeout time.Duration, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--data-dir", testDataDir, "watch"}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestWatchHonoursAutoExportSetting(t *testing.T) {
	prepare := func(t *testing.T, autoExport bool) (*testServer, *util.Env, string) {
		srv := newTestServer(t)
		env := setupCLI(t, srv)
		s := loadSettings(t, env)
		s.AutoExport = autoExport
		s.PollInterval = "1s"
		s.SettleDelay = "0s"
		require.NoError(t, config.SaveSettings(env.Fs, config.SettingsPath(testDataDir), s))

		path := writeProject(t, env, "Song.als")
		_, err := run(t, "secret\n", "login", "--password-stdin", "alice@example.com")
		require.NoError(t, err)
		_, err = run(t, "", "select", path)
		require.NoError(t, err)
		return srv, env, path
	}
	bumpAfter := func(env *util.Env, path string, d time.Duration) {
		go func() {
			time.Sleep(d)
			later := time.Now().Add(time.Minute)
			_ = env.Fs.Chtimes(path, later, later)
		}()
	}

	t.Run("disabled refuses to watch", func(t *testing.T) {
		srv, env, path := prepare(t, false)
		bumpAfter(env, path, 300*time.Millisecond)

		_, err := watchFor(t, 2500*time.Millisecond, "--no-browser")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "auto-export is disabled")

		time.Sleep(500 * time.Millisecond)
		assert.Zero(t, srv.uploads.Load())
		assert.False(t, loadSettings(t, env).AutoExport)
	})

	t.Run("enabled uploads a save", func(t *testing.T) {
		srv, env, path := prepare(t, true)
		bumpAfter(env, path, 300*time.Millisecond)

		out, err := watchFor(t, 2500*time.Millisecond, "--no-browser")
		require.NoError(t, err)
		assert.Equal(t, int32(1), srv.uploads.Load())
		assert.Contains(t, out, "New project created! Project ID: abc123")
	})

	t.Run("flag overrides a disabled setting", func(t *testing.T) {
		srv, env, path := prepare(t, false)
		bumpAfter(env, path, 300*time.Millisecond)

		_, err := watchFor(t, 2500*time.Millisecond, "--no-browser", "--auto-export")
		require.NoError(t, err)
		assert.Equal(t, int32(1), srv.uploads.Load())
		assert.False(t, loadSettings(t, env).AutoExport, "the flag is not persisted")
	})
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer
	renderStatus(&buf, engine.Status{
		State:        engine.StateError,
		Message:      "Error: Could not connect to server",
		CurrentName:  "Song",
		CurrentPath:  "/p/Song.als",
		ProjectPath:  "albums/first",
		DetectedName: "Other",
	}, config.Settings{ServerURL: "https://coldaw.example"})

	out := buf.String()
	assert.Contains(t, out, "Error: Could not connect to server")
	assert.Contains(t, out, "not logged in")
	assert.Contains(t, out, "albums/first")
	assert.Contains(t, out, "coldaw use")
	assert.Contains(t, out, "https://coldaw.example")
	assert.NotContains(t, out, "\x1b[")
}
