package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/bolasblack/coldaw-export/internal/browser"
	"github.com/bolasblack/coldaw-export/internal/detect"
	apperrors "github.com/bolasblack/coldaw-export/internal/errors"
	"github.com/bolasblack/coldaw-export/internal/upload"
)

// Export uploads the current file, or the most recently saved one when
// nothing usable is selected. The returned channel closes once the outcome
// is reflected in Status. A refused export returns a KindUnauthorized or
// KindBusy error along with an already closed channel.
func (e *Engine) Export(ctx context.Context) (<-chan struct{}, error) {
	return e.startExport(ctx, 0)
}

// exportJob is what a worker needs, captured under the lock.
type exportJob struct {
	current     *detect.FileRef
	projectPath string
	username    string
	token       string
	settle      time.Duration
}

func (e *Engine) startExport(ctx context.Context, settle time.Duration) (<-chan struct{}, error) {
	sess := e.session.Current()

	e.mu.Lock()
	if !sess.IsAuthenticated() {
		e.message = msgLoginFirst
		e.mu.Unlock()
		return closedChan(), apperrors.New(apperrors.KindUnauthorized, msgLoginFirst, nil)
	}
	if e.exporting {
		e.message = msgInProgress
		e.mu.Unlock()
		return closedChan(), apperrors.New(apperrors.KindBusy, msgInProgress, nil)
	}
	e.exporting = true
	job := exportJob{
		current:     e.current,
		projectPath: e.projectPath,
		username:    sess.Username,
		token:       sess.Token,
		settle:      settle,
	}
	if job.current != nil && e.exists(job.current.Path) {
		e.setLocked(StateExporting, msgExporting)
	} else {
		e.setLocked(StateDetecting, msgDetecting)
	}
	e.mu.Unlock()

	// The upload runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	done := make(chan struct{})
	e.spawn(func() result {
		return e.runExport(ctx, job, done)
	})
	return done, nil
}

func (e *Engine) runExport(ctx context.Context, job exportJob, done chan struct{}) result {
	if job.settle > 0 {
		time.Sleep(job.settle)
	}

	target, scanned := pickExportFile(job.current, e.exists, func() *detect.FileRef {
		return e.detector.Recent(detect.SaveWindow)
	})
	if target == nil {
		msg := msgNoRecent
		if ok, _ := afero.DirExists(e.fs, e.projectsDir); !ok {
			msg = msgNoFolder
		}
		return &exportResult{message: msg, done: done}
	}

	label := job.projectPath
	if scanned {
		label, _ = e.labels.Get(target.Path)
		e.deliver(&adoptResult{ref: target})
	}

	meta := upload.NewMetadata(target.Path, job.username, e.author, label, e.now())
	e.logger.Info("uploading project", "path", target.Path, "project", meta.ProjectName)
	res := e.uploader.Upload(ctx, target.Path, meta, job.token)
	e.logger.Info("upload finished", "outcome", res.Outcome.String(), "status", res.Status, "project_id", res.ProjectID)
	return &exportResult{token: job.token, upload: &res, done: done}
}

// pickExportFile prefers the selected file while it exists on disk and
// otherwise falls back to scan. scanned reports that the fallback was used.
func pickExportFile(current *detect.FileRef, exists func(string) bool, scan func() *detect.FileRef) (target *detect.FileRef, scanned bool) {
	if current != nil && exists(current.Path) {
		return current, false
	}
	if found := scan(); found != nil {
		return found, true
	}
	return nil, false
}

// Tick is one auto-export cycle. It adopts a freshly saved project when
// nothing usable is selected, and exports the current file when its
// modification time has moved past the watermark.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	if !e.autoExport || e.exporting {
		e.mu.Unlock()
		return
	}
	current := e.current
	watermark := e.watermark
	e.mu.Unlock()

	if current == nil || !e.exists(current.Path) {
		found := e.detector.Recent(detect.SaveWindow)
		if found == nil {
			return
		}
		e.mu.Lock()
		if e.current != current {
			e.mu.Unlock()
			return
		}
		e.adoptLocked(found)
		e.mu.Unlock()
		e.logger.Debug("adopted recently saved project", "path", found.Path)
		return
	}

	ref, ok := detect.Stat(e.fs, current.Path)
	if !ok || !ref.ModTime.After(watermark) {
		return
	}

	e.mu.Lock()
	if e.exporting || e.current == nil || e.current.Path != current.Path {
		e.mu.Unlock()
		return
	}
	e.watermark = ref.ModTime
	e.current = ref
	e.message = msgAutoExport
	e.mu.Unlock()

	e.logger.Info("project saved", "path", ref.Path, "mod_time", ref.ModTime)
	if _, err := e.startExport(ctx, e.settle); err != nil {
		e.logger.Debug("auto-export refused", "error", err)
	}
}

func (e *Engine) exists(path string) bool {
	_, ok := detect.Stat(e.fs, path)
	return ok
}

// exportResult carries a finished export back to the applier.
type exportResult struct {
	token   string
	upload  *upload.Result
	message string
	done    chan struct{}
}

func (r *exportResult) apply(e *Engine) {
	e.exporting = false
	if r.upload == nil {
		e.setLocked(StateError, r.message)
		return
	}

	res := r.upload
	e.lastOutcome = res.Outcome
	e.lastProjectID = res.ProjectID
	switch res.Outcome {
	case upload.OutcomeNewProject:
		e.setLocked(StateSuccess, "New project created! Project ID: "+res.ProjectID)
	case upload.OutcomePendingChanges:
		e.setLocked(StateSuccess, msgPending)
	case upload.OutcomeUpdatedExisting:
		e.setLocked(StateSuccess, "New version added to existing project! ID: "+res.ProjectID)
	case upload.OutcomeAuthFailed:
		e.session.Invalidate(r.token)
		e.setLocked(StateError, msgAuthFailed)
	case upload.OutcomeServerError:
		e.setLocked(StateError, fmt.Sprintf("Error: Upload failed (Status: %d)", res.Status))
	case upload.OutcomeNetworkError:
		e.setLocked(StateError, msgConnection)
	default:
		msg := res.Message
		if msg == "" && res.Err != nil {
			msg = apperrors.MessageOf(res.Err)
		}
		e.setLocked(StateError, "Error: "+msg)
	}

	if res.Outcome.Succeeded() && e.openBrowser && e.browser != nil && res.ProjectID != "" {
		url := browser.ProjectURL(e.webURL, res.ProjectID, true)
		if err := e.browser.Open(url); err != nil {
			e.logger.Warn("could not open browser", "url", url, "error", err)
		}
	}
}

func (r *exportResult) finish() { close(r.done) }

// adoptResult selects a file the export fell back to.
type adoptResult struct {
	ref *detect.FileRef
}

func (r *adoptResult) apply(e *Engine) {
	e.adoptLocked(r.ref)
	e.setLocked(StateExporting, "Detected recent file: "+r.ref.FileName())
}

func (r *adoptResult) finish() {}
