package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/animus-labs/mlregistry-go/internal/domain"
	"github.com/animus-labs/mlregistry-go/internal/platform/auditlog"
	"github.com/animus-labs/mlregistry-go/internal/platform/requestid"
	"github.com/animus-labs/mlregistry-go/internal/storage"
)

// ExperimentStore is the registry experiments endpoint.
type ExperimentStore interface {
	Get(ctx context.Context, name string) (domain.Experiment, error)
	List(ctx context.Context) ([]domain.Experiment, error)
	Put(ctx context.Context, cfg domain.ExperimentConfiguration) (domain.Experiment, error)
	Delete(ctx context.Context, name string) error
}

// RunStore is the registry runs endpoint.
type RunStore interface {
	Put(ctx context.Context, experiment string, cfg domain.RunConfiguration) (domain.Run, error)
	Get(ctx context.Context, experiment, mlID string) (domain.Run, error)
	List(ctx context.Context, experiment string) ([]domain.Run, error)
	Delete(ctx context.Context, experiment, mlID string) error
}

type ControllerDeps struct {
	Project     string
	Experiments ExperimentStore
	Runs        RunStore
	FS          storage.FS
	Audit       auditlog.Recorder
	Logger      *slog.Logger
	// Actor is recorded on audit events; defaults to "client".
	Actor string
	Now   func() time.Time
}

// Controller drives the experiment and run lifecycle. It holds no per-run
// state; every call is independent.
type Controller struct {
	project     string
	experiments ExperimentStore
	runs        RunStore
	fs          storage.FS
	alloc       *Allocator
	audit       auditlog.Recorder
	logger      *slog.Logger
	actor       string
	now         func() time.Time
}

func NewController(deps ControllerDeps) (*Controller, error) {
	if strings.TrimSpace(deps.Project) == "" {
		return nil, errors.New("project is required")
	}
	if deps.Experiments == nil || deps.Runs == nil {
		return nil, errors.New("registry endpoints are required")
	}
	if deps.FS == nil {
		return nil, errors.New("storage is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := deps.Audit
	if audit == nil {
		audit = auditlog.Nop{}
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Controller{
		project:     deps.Project,
		experiments: deps.Experiments,
		runs:        deps.Runs,
		fs:          deps.FS,
		alloc:       NewAllocator(deps.FS, logger),
		audit:       audit,
		logger:      logger,
		actor:       strings.TrimSpace(deps.Actor),
		now:         now,
	}, nil
}

func (c *Controller) Project() string { return c.project }

// CheckDataset fails with *MissingDatasetError when the project's
// Experiments dataset is absent.
func (c *Controller) CheckDataset(ctx context.Context) error {
	root := domain.ExperimentsRoot(c.project)
	ok, err := c.fs.Exists(ctx, root)
	if err != nil {
		return fmt.Errorf("check %s: %w", root, err)
	}
	if !ok {
		return &MissingDatasetError{Project: c.project, Path: root}
	}
	return nil
}

func (c *Controller) ensureDir(ctx context.Context, p string) error {
	ok, err := c.fs.Exists(ctx, p)
	if err != nil {
		return fmt.Errorf("check %s: %w", p, err)
	}
	if ok {
		return nil
	}
	if err := c.fs.Mkdir(ctx, p); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

type ExperimentOptions struct {
	Description string
}

// CreateExperiment creates the experiment directory (when missing) and
// writes its metadata. Nothing is written when the Experiments dataset is
// absent.
func (c *Controller) CreateExperiment(ctx context.Context, name string, opts ExperimentOptions) (domain.Experiment, error) {
	exp := domain.NewExperiment(c.project, name)
	exp.Description = opts.Description
	if err := exp.Validate(); err != nil {
		return domain.Experiment{}, err
	}
	if err := c.CheckDataset(ctx); err != nil {
		return domain.Experiment{}, err
	}
	if err := c.ensureDir(ctx, exp.Path()); err != nil {
		return domain.Experiment{}, err
	}
	saved, err := c.experiments.Put(ctx, exp.Configuration())
	if err != nil {
		return domain.Experiment{}, err
	}
	exp = exp.ApplyUpdate(saved)
	c.record(ctx, "experiment.created", "experiment", exp.Name, map[string]any{"path": exp.Path()})
	c.logger.Info("experiment created", "project", c.project, "experiment", exp.Name)
	return exp, nil
}

// Save re-writes the experiment metadata without touching its runs.
func (c *Controller) Save(ctx context.Context, exp domain.Experiment) (domain.Experiment, error) {
	if exp.ProjectName == "" {
		exp.ProjectName = c.project
	}
	if err := exp.Validate(); err != nil {
		return domain.Experiment{}, err
	}
	saved, err := c.experiments.Put(ctx, exp.Configuration())
	if err != nil {
		return domain.Experiment{}, err
	}
	return exp.ApplyUpdate(saved), nil
}

// StartRun allocates the run's MLID, creates its directory and registers it
// as RUNNING. The MLID is fixed before any directory or metadata write.
func (c *Controller) StartRun(ctx context.Context, run domain.Run, exp domain.Experiment) (domain.Run, error) {
	if run.IsStarted() {
		return domain.Run{}, fmt.Errorf("%w: %s", ErrRunAlreadyStarted, run.MLID)
	}
	if exp.ProjectName == "" {
		exp.ProjectName = c.project
	}
	if err := exp.Validate(); err != nil {
		return domain.Run{}, err
	}
	if err := domain.ValidateMetrics(run.Metrics); err != nil {
		return domain.Run{}, err
	}
	if err := c.CheckDataset(ctx); err != nil {
		return domain.Run{}, err
	}
	if err := c.ensureDir(ctx, exp.Path()); err != nil {
		return domain.Run{}, err
	}

	n, err := c.alloc.NextIndex(ctx, exp.Path())
	if err != nil {
		return domain.Run{}, err
	}
	run = run.Clone()
	run.ProjectName = exp.ProjectName
	run.ExperimentName = exp.Name
	run.MLID = domain.FormatMLID(exp.Name, n)

	runPath := run.Path()
	if err := c.fs.Mkdir(ctx, runPath); err != nil {
		return domain.Run{}, fmt.Errorf("mkdir %s: %w", runPath, err)
	}
	if err := c.fs.Chmod(ctx, runPath, storage.ModeRunDir); err != nil {
		return domain.Run{}, fmt.Errorf("chmod %s: %w", runPath, err)
	}

	saved, err := c.runs.Put(ctx, exp.Name, run.Configuration(domain.RunStatusRunning))
	if err != nil {
		return domain.Run{}, err
	}
	run = run.ApplyUpdate(saved)
	if run.Status == domain.RunStatusCreated {
		run.Status = domain.RunStatusRunning
	}
	if run.Started == nil {
		started := c.now()
		run.Started = &started
	}
	c.record(ctx, "run.started", "run", run.MLID, map[string]any{"experiment": exp.Name, "path": runPath})
	c.logger.Info("run started", "project", c.project, "experiment", exp.Name, "ml_id", run.MLID)
	return run, nil
}

// EndRun uploads the pending artifacts and finalizes the run as FINISHED.
func (c *Controller) EndRun(ctx context.Context, run domain.Run) (domain.Run, UploadReport, error) {
	return c.finish(ctx, run, domain.RunStatusFinished)
}

// FailRun is EndRun with a FAILED final status.
func (c *Controller) FailRun(ctx context.Context, run domain.Run) (domain.Run, UploadReport, error) {
	return c.finish(ctx, run, domain.RunStatusFailed)
}

// finish uploads each pending artifact independently: a missing local file
// is skipped, a failed upload is reported, and neither stops the finalize
// write.
func (c *Controller) finish(ctx context.Context, run domain.Run, status domain.RunStatus) (domain.Run, UploadReport, error) {
	var report UploadReport
	if !run.IsStarted() || run.Status != domain.RunStatusRunning {
		return domain.Run{}, report, fmt.Errorf("%w: %s is %s", ErrRunNotRunning, run.MLID, run.Status)
	}
	if run.ProjectName == "" {
		run.ProjectName = c.project
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, report, fmt.Errorf("run %s: %w", run.MLID, err)
	}
	runPath := run.Path()
	for _, a := range run.Artifacts {
		if _, err := os.Stat(a.LocalPath); err != nil {
			missing := &LocalArtifactMissingError{Path: a.LocalPath, Err: err}
			report.Skipped = append(report.Skipped, missing)
			c.logger.Warn("artifact skipped", "ml_id", run.MLID, "path", a.LocalPath, "error", err)
			continue
		}
		remote, err := c.fs.Upload(ctx, a.LocalPath, runPath)
		if err != nil {
			report.Failed = append(report.Failed, &ArtifactUploadError{Path: a.LocalPath, Err: err})
			c.logger.Warn("artifact upload failed", "ml_id", run.MLID, "path", a.LocalPath, "error", err)
			continue
		}
		report.Uploaded = append(report.Uploaded, remote)
	}

	saved, err := c.runs.Put(ctx, run.ExperimentName, run.Configuration(status))
	if err != nil {
		return domain.Run{}, report, err
	}
	next := run.ApplyUpdate(saved)
	next.Status = status
	if next.Finished == nil {
		finished := c.now()
		next.Finished = &finished
	}
	next.Artifacts = nil

	action := "run.finished"
	if status == domain.RunStatusFailed {
		action = "run.failed"
	}
	c.record(ctx, action, "run", next.MLID, map[string]any{
		"experiment": next.ExperimentName,
		"uploaded":   len(report.Uploaded),
		"skipped":    len(report.Skipped),
		"failed":     len(report.Failed),
	})
	c.logger.Info("run ended", "project", c.project, "experiment", next.ExperimentName, "ml_id", next.MLID, "status", string(status))
	return next, report, nil
}

// DeleteExperiment removes the experiment metadata (the registry cascades
// to its runs) and then its storage directory. A directory that is already
// gone is not an error.
func (c *Controller) DeleteExperiment(ctx context.Context, exp domain.Experiment) error {
	if exp.ProjectName == "" {
		exp.ProjectName = c.project
	}
	if err := exp.Validate(); err != nil {
		return err
	}
	if err := c.experiments.Delete(ctx, exp.Name); err != nil {
		return err
	}
	if err := c.fs.Delete(ctx, exp.Path()); err != nil && !errors.Is(err, storage.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", exp.Path(), err)
	}
	c.record(ctx, "experiment.deleted", "experiment", exp.Name, nil)
	return nil
}

func (c *Controller) DeleteRun(ctx context.Context, run domain.Run) error {
	if !run.IsStarted() {
		return errors.New("run has no ml id")
	}
	if run.ProjectName == "" {
		run.ProjectName = c.project
	}
	if err := run.Validate(); err != nil {
		return err
	}
	if err := c.runs.Delete(ctx, run.ExperimentName, run.MLID); err != nil {
		return err
	}
	if err := c.fs.Delete(ctx, run.Path()); err != nil && !errors.Is(err, storage.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", run.Path(), err)
	}
	c.record(ctx, "run.deleted", "run", run.MLID, map[string]any{"experiment": run.ExperimentName})
	return nil
}

// record is best effort: a failing audit sink is logged, never returned.
func (c *Controller) record(ctx context.Context, action, resourceType, resourceID string, payload map[string]any) {
	reqID, _ := requestid.FromContext(ctx)
	if payload == nil {
		payload = map[string]any{}
	}
	err := c.audit.Record(ctx, auditlog.Event{
		OccurredAt:   c.now(),
		Actor:        c.actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    reqID,
		Project:      c.project,
		Payload:      payload,
	})
	if err != nil {
		c.logger.Warn("audit record failed", "action", action, "resource_id", resourceID, "error", err)
	}
}
