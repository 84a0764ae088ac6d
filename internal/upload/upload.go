// Package upload sends a project file plus metadata to the import endpoint and
// interprets the response into an Outcome.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/bolasblack/coldaw-export/internal/logger"
)

const (
	// Timeout bounds one upload; project files can be large.
	Timeout = 30 * time.Second

	importPath = "/api/projects/smart-import"

	// Form field names expected by the import endpoint.
	FieldProjectName = "projectName"
	FieldAuthor      = "author"
	FieldMessage     = "message"
	FieldFile        = "alsFile"

	// HeaderClientID identifies the installation sending the upload.
	HeaderClientID = "X-Client-ID"
	// HeaderRequestID identifies a single upload attempt.
	HeaderRequestID = "X-Request-ID"
)

// Outcome is the tagged result of one upload attempt.
type Outcome int

const (
	OutcomeNewProject Outcome = iota
	OutcomeUpdatedExisting
	OutcomePendingChanges
	OutcomeAuthFailed
	OutcomeValidationError
	OutcomeServerError
	OutcomeNetworkError
	OutcomeNotFound
)

var outcomeNames = map[Outcome]string{
	OutcomeNewProject:      "new_project",
	OutcomeUpdatedExisting: "updated_existing",
	OutcomePendingChanges:  "pending_changes",
	OutcomeAuthFailed:      "auth_failed",
	OutcomeValidationError: "validation_error",
	OutcomeServerError:     "server_error",
	OutcomeNetworkError:    "network_error",
	OutcomeNotFound:        "not_found",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Succeeded reports whether the server accepted the project.
func (o Outcome) Succeeded() bool {
	return o == OutcomeNewProject || o == OutcomeUpdatedExisting || o == OutcomePendingChanges
}

// Result is the outcome of one upload. It is never persisted.
type Result struct {
	Outcome   Outcome
	ProjectID string
	// Message carries the server's validation error or a local failure reason.
	Message string
	// Status is the HTTP status, zero when no response was received.
	Status int
	Err    error
}

// Metadata is sent as discrete form fields next to the file.
type Metadata struct {
	ProjectName string
	Author      string
	Message     string
	// ProjectPath is the user's label for this file; it is remembered on
	// success and not sent to the server.
	ProjectPath string
}

// NewMetadata derives the metadata for path. The author is the logged-in
// username when present, else defaultAuthor.
func NewMetadata(path, username, defaultAuthor, projectPath string, now time.Time) Metadata {
	base := filepath.Base(path)
	author := defaultAuthor
	if username != "" {
		author = username
	}
	return Metadata{
		ProjectName: strings.TrimSuffix(base, filepath.Ext(base)),
		Author:      author,
		Message:     "Update from VST plugin - " + now.Format("2 Jan 2006 3:04:05pm"),
		ProjectPath: projectPath,
	}
}

// LabelStore remembers the project-path label for a file.
type LabelStore interface {
	Set(path, label string) error
}

// Pipeline performs uploads against one server.
type Pipeline struct {
	fs         afero.Fs
	baseURL    string
	httpClient *http.Client
	labels     LabelStore
	clientID   string
	logger     *slog.Logger
}

// Options configures a Pipeline.
type Options struct {
	Fs      afero.Fs
	BaseURL string
	// Client defaults to one with Timeout.
	Client   *http.Client
	Labels   LabelStore
	ClientID string
	Logger   *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts Options) *Pipeline {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: Timeout}
	}
	return &Pipeline{
		fs:         opts.Fs,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: client,
		labels:     opts.Labels,
		clientID:   opts.ClientID,
		logger:     logger.OrDefault(opts.Logger).With("component", "upload"),
	}
}

type importResponse struct {
	ProjectID         json.RawMessage `json:"projectId"`
	IsNewProject      json.RawMessage `json:"isNewProject"`
	HasPendingChanges json.RawMessage `json:"hasPendingChanges"`
	Error             string          `json:"error"`
}

// Upload sends the file at path. token is attached as a bearer credential
// when non-empty.
func (p *Pipeline) Upload(ctx context.Context, path string, meta Metadata, token string) Result {
	info, err := p.fs.Stat(path)
	if err != nil || info.IsDir() {
		return Result{Outcome: OutcomeNotFound, Message: "File does not exist", Err: err}
	}
	data, err := afero.ReadFile(p.fs, path)
	if err != nil {
		return Result{Outcome: OutcomeNotFound, Message: "Could not read file", Err: err}
	}

	body, contentType, err := encodeBody(filepath.Base(path), meta, data)
	if err != nil {
		return Result{Outcome: OutcomeNetworkError, Message: "Could not encode upload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+importPath, body)
	if err != nil {
		return Result{Outcome: OutcomeNetworkError, Message: "Could not connect to server", Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(HeaderRequestID, requestID)
	if p.clientID != "" {
		req.Header.Set(HeaderClientID, p.clientID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	log := p.logger.With("request_id", requestID, "file", path)
	log.Debug("uploading project", "bytes", len(data))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		log.Warn("upload request failed", "error", err)
		return Result{Outcome: OutcomeNetworkError, Message: "Could not connect to server", Err: err}
	}
	defer resp.Body.Close()

	result := interpret(resp)
	log.Info("upload finished", "outcome", result.Outcome, "status", result.Status, "project_id", result.ProjectID)

	if result.Outcome.Succeeded() && meta.ProjectPath != "" && p.labels != nil {
		if err := p.labels.Set(path, meta.ProjectPath); err != nil {
			log.Warn("failed to remember project path", "error", err)
		}
	}
	return result
}

func encodeBody(fileName string, meta Metadata, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{FieldProjectName, meta.ProjectName},
		{FieldAuthor, meta.Author},
		{FieldMessage, meta.Message},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldFile, fileName))
	h.Set("Content-Type", "application/octet-stream")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func interpret(resp *http.Response) Result {
	status := resp.StatusCode
	switch {
	case status == http.StatusUnauthorized:
		return Result{Outcome: OutcomeAuthFailed, Status: status, Message: "Authentication failed"}
	case status < 200 || status >= 300:
		return Result{Outcome: OutcomeServerError, Status: status, Message: fmt.Sprintf("Upload failed (Status: %d)", status)}
	}

	var parsed importResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{Outcome: OutcomeValidationError, Status: status, Message: "Invalid server response", Err: err}
	}

	projectID := scalarString(parsed.ProjectID)
	if projectID == "" {
		if parsed.Error != "" {
			return Result{Outcome: OutcomeValidationError, Status: status, Message: parsed.Error}
		}
		return Result{Outcome: OutcomeValidationError, Status: status, Message: "Invalid server response"}
	}

	outcome := OutcomeUpdatedExisting
	switch {
	case truthy(parsed.IsNewProject):
		outcome = OutcomeNewProject
	case truthy(parsed.HasPendingChanges):
		outcome = OutcomePendingChanges
	}
	return Result{Outcome: outcome, Status: status, ProjectID: projectID}
}

// scalarString renders a JSON string or number as text.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// truthy accepts true or "true"; anything else is false.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(s, "true")
	}
	return false
}
