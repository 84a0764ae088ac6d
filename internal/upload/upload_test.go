package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bolasblack/coldaw-export/internal/logger"
)

type fakeLabels struct {
	set map[string]string
	err error
}

func (f *fakeLabels) Set(path, label string) error {
	if f.err != nil {
		return f.err
	}
	if f.set == nil {
		f.set = map[string]string{}
	}
	f.set[path] = label
	return nil
}

const projectPath = "/music/Ableton/Song Project/Song.als"

func newFs(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, projectPath, []byte("\x1f\x8bbinary-als"), 0o644))
	return fs
}

func newPipeline(t *testing.T, fs afero.Fs, labels LabelStore, handler http.HandlerFunc) (*Pipeline, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	p := NewPipeline(Options{
		Fs:       fs,
		BaseURL:  srv.URL + "/",
		Client:   srv.Client(),
		Labels:   labels,
		ClientID: "install-1",
		Logger:   logger.Discard(),
	})
	return p, &calls
}

func TestUpload_RequestShape(t *testing.T) {
	fs := newFs(t)
	p, _ := newPipeline(t, fs, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/projects/smart-import", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "install-1", r.Header.Get(HeaderClientID))
		assert.NotEmpty(t, r.Header.Get(HeaderRequestID))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Song", r.FormValue(FieldProjectName))
		assert.Equal(t, "me@example.com", r.FormValue(FieldAuthor))
		assert.Equal(t, "Update from VST plugin - now", r.FormValue(FieldMessage))

		f, hdr, err := r.FormFile(FieldFile)
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "Song.als", hdr.Filename)
		assert.Equal(t, "application/octet-stream", hdr.Header.Get("Content-Type"))
		data, _ := io.ReadAll(f)
		assert.Equal(t, "\x1f\x8bbinary-als", string(data))

		_, _ = w.Write([]byte(`{"projectId":"p1"}`))
	})

	meta := Metadata{ProjectName: "Song", Author: "me@example.com", Message: "Update from VST plugin - now"}
	res := p.Upload(context.Background(), projectPath, meta, "tok")
	assert.Equal(t, OutcomeUpdatedExisting, res.Outcome)
	assert.Equal(t, "p1", res.ProjectID)
}

func TestUpload_NoTokenOmitsHeader(t *testing.T) {
	p, _ := newPipeline(t, newFs(t), nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"projectId":"p1"}`))
	})
	res := p.Upload(context.Background(), projectPath, Metadata{}, "")
	assert.True(t, res.Outcome.Succeeded())
}

func TestUpload_Interpretation(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantOutcome Outcome
		wantID      string
		wantMsg     string
	}{
		{"new project", 200, `{"projectId":"abc123","isNewProject":true}`, OutcomeNewProject, "abc123", ""},
		{"new project as string flag", 200, `{"projectId":"abc123","isNewProject":"true"}`, OutcomeNewProject, "abc123", ""},
		{"pending changes", 200, `{"projectId":"abc123","isNewProject":false,"hasPendingChanges":true}`, OutcomePendingChanges, "abc123", ""},
		{"updated existing when ambiguous", 200, `{"projectId":"abc123"}`, OutcomeUpdatedExisting, "abc123", ""},
		{"numeric project id", 201, `{"projectId":42}`, OutcomeUpdatedExisting, "42", ""},
		{"validation error", 200, `{"error":"Invalid ALS file"}`, OutcomeValidationError, "", "Invalid ALS file"},
		{"neither id nor error", 200, `{"ok":true}`, OutcomeValidationError, "", "Invalid server response"},
		{"malformed body", 200, `<html>`, OutcomeValidationError, "", "Invalid server response"},
		{"auth failed", 401, `{"error":"Invalid token"}`, OutcomeAuthFailed, "", "Authentication failed"},
		{"server error", 500, `{"error":"boom"}`, OutcomeServerError, "", "Upload failed (Status: 500)"},
		{"bad request", 400, `{"error":"No file uploaded"}`, OutcomeServerError, "", "Upload failed (Status: 400)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newPipeline(t, newFs(t), nil, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			res := p.Upload(context.Background(), projectPath, Metadata{ProjectName: "Song"}, "tok")
			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantID, res.ProjectID)
			assert.Equal(t, tt.status, res.Status)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, res.Message)
			}
		})
	}
}

func TestUpload_MissingFileMakesNoRequest(t *testing.T) {
	p, calls := newPipeline(t, afero.NewMemMapFs(), nil, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})

	res := p.Upload(context.Background(), "/missing.als", Metadata{}, "tok")
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, "File does not exist", res.Message)
	assert.False(t, res.Outcome.Succeeded())
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestUpload_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewPipeline(Options{Fs: newFs(t), BaseURL: url, Logger: logger.Discard()})
	res := p.Upload(context.Background(), projectPath, Metadata{}, "tok")
	assert.Equal(t, OutcomeNetworkError, res.Outcome)
	assert.Equal(t, "Could not connect to server", res.Message)
	assert.Error(t, res.Err)
}

func TestUpload_RemembersLabelOnSuccessOnly(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		labels := &fakeLabels{}
		p, _ := newPipeline(t, newFs(t), labels, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"projectId":"p1","isNewProject":true}`))
		})
		p.Upload(context.Background(), projectPath, Metadata{ProjectPath: "albums/first"}, "tok")
		assert.Equal(t, map[string]string{projectPath: "albums/first"}, labels.set)
	})

	t.Run("failure", func(t *testing.T) {
		labels := &fakeLabels{}
		p, _ := newPipeline(t, newFs(t), labels, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		p.Upload(context.Background(), projectPath, Metadata{ProjectPath: "albums/first"}, "tok")
		assert.Nil(t, labels.set)
	})

	t.Run("empty label", func(t *testing.T) {
		labels := &fakeLabels{}
		p, _ := newPipeline(t, newFs(t), labels, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"projectId":"p1"}`))
		})
		p.Upload(context.Background(), projectPath, Metadata{}, "tok")
		assert.Nil(t, labels.set)
	})

	t.Run("store failure does not change outcome", func(t *testing.T) {
		labels := &fakeLabels{err: errors.New("disk full")}
		p, _ := newPipeline(t, newFs(t), labels, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"projectId":"p1"}`))
		})
		res := p.Upload(context.Background(), projectPath, Metadata{ProjectPath: "x"}, "tok")
		assert.Equal(t, OutcomeUpdatedExisting, res.Outcome)
	})
}

func TestNewMetadata(t *testing.T) {
	now := time.Date(2025, 6, 15, 14, 5, 9, 0, time.UTC)

	m := NewMetadata(projectPath, "me@example.com", "Ableton User", "albums/first", now)
	assert.Equal(t, "Song", m.ProjectName)
	assert.Equal(t, "me@example.com", m.Author)
	assert.Equal(t, "Update from VST plugin - 15 Jun 2025 2:05:09pm", m.Message)
	assert.Equal(t, "albums/first", m.ProjectPath)

	m = NewMetadata(projectPath, "", "Ableton User", "", now)
	assert.Equal(t, "Ableton User", m.Author)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "new_project", OutcomeNewProject.String())
	assert.Equal(t, "outcome(99)", Outcome(99).String())

	for _, o := range []Outcome{OutcomeNewProject, OutcomeUpdatedExisting, OutcomePendingChanges} {
		assert.True(t, o.Succeeded(), o.String())
	}
	for _, o := range []Outcome{OutcomeAuthFailed, OutcomeValidationError, OutcomeServerError, OutcomeNetworkError, OutcomeNotFound} {
		assert.False(t, o.Succeeded(), o.String())
	}
}
