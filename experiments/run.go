package experiments

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/animus-labs/mlregistry-go/internal/domain"
)

// ActiveRun is the handle of a started run. Parameters, metrics and
// artifacts accumulate locally until End or Fail pushes them. Safe for
// concurrent use.
type ActiveRun struct {
	controller *Controller

	mu     sync.Mutex
	run    domain.Run
	report UploadReport
}

func newActiveRun(c *Controller, run domain.Run) *ActiveRun {
	return &ActiveRun{controller: c, run: run}
}

// Resume wraps a run that was started elsewhere, e.g. one fetched with
// GetRun.
func (r *Registry) Resume(run Run) (*ActiveRun, error) {
	if !run.IsStarted() {
		return nil, errors.New("run has no ml id")
	}
	if run.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrRunFinished, run.MLID)
	}
	if run.ProjectName == "" {
		run.ProjectName = r.Project()
	}
	return newActiveRun(r.controller, run.Clone()), nil
}

// Run returns a snapshot of the current state.
func (a *ActiveRun) Run() Run {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run.Clone()
}

func (a *ActiveRun) MLID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run.MLID
}

// Report is the artifact outcome of End or Fail.
func (a *ActiveRun) Report() UploadReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report
}

func (a *ActiveRun) mutable() error {
	if a.run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrRunFinished, a.run.MLID)
	}
	return nil
}

func (a *ActiveRun) LogParam(key, value string) error {
	return a.LogParams(map[string]string{key: value})
}

func (a *ActiveRun) LogParams(params map[string]string) error {
	for k := range params {
		if strings.TrimSpace(k) == "" {
			return errors.New("parameter name is required")
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mutable(); err != nil {
		return err
	}
	if a.run.Parameters == nil {
		a.run.Parameters = make(map[string]string, len(params))
	}
	maps.Copy(a.run.Parameters, params)
	return nil
}

// LogMetric records value under key. NaN and infinite values are
// rejected.
func (a *ActiveRun) LogMetric(key string, value float64) error {
	if err := domain.ValidateMetric(key, value); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mutable(); err != nil {
		return err
	}
	if a.run.Metrics == nil {
		a.run.Metrics = map[string]float64{}
	}
	a.run.Metrics[key] = value
	return nil
}

// LogArtifact queues a local file for upload at End. The file is not read
// until then.
func (a *ActiveRun) LogArtifact(localPath string) error {
	if strings.TrimSpace(localPath) == "" {
		return errors.New("artifact path is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mutable(); err != nil {
		return err
	}
	a.run.Artifacts = append(a.run.Artifacts, domain.Artifact{LocalPath: localPath})
	return nil
}

// End uploads the queued artifacts and marks the run FINISHED. Missing or
// failed artifacts do not fail End; inspect the returned report.
func (a *ActiveRun) End(ctx context.Context) (UploadReport, error) {
	return a.finish(ctx, a.controller.EndRun)
}

// Fail is End with a FAILED status.
func (a *ActiveRun) Fail(ctx context.Context) (UploadReport, error) {
	return a.finish(ctx, a.controller.FailRun)
}

func (a *ActiveRun) finish(ctx context.Context, end func(context.Context, domain.Run) (domain.Run, UploadReport, error)) (UploadReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mutable(); err != nil {
		return UploadReport{}, err
	}
	next, report, err := end(ctx, a.run)
	if err != nil {
		return report, err
	}
	a.run = next
	a.report = report
	return report, nil
}
