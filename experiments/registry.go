package experiments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/animus-labs/mlregistry-go/internal/config"
	"github.com/animus-labs/mlregistry-go/internal/domain"
	"github.com/animus-labs/mlregistry-go/internal/platform/auditlog"
	"github.com/animus-labs/mlregistry-go/internal/platform/auth"
	"github.com/animus-labs/mlregistry-go/internal/platform/logging"
	"github.com/animus-labs/mlregistry-go/internal/platform/postgres"
	"github.com/animus-labs/mlregistry-go/internal/registry"
	"github.com/animus-labs/mlregistry-go/internal/storage"
	"github.com/animus-labs/mlregistry-go/internal/storage/datasetfs"
	"github.com/animus-labs/mlregistry-go/internal/storage/objectfs"
)

const userAgent = "mlregistry-go"

// ModelTagStore is the registry model tags endpoint.
type ModelTagStore interface {
	Set(ctx context.Context, ref domain.ModelRef, name string, value json.RawMessage) error
	Delete(ctx context.Context, ref domain.ModelRef, name string) error
	Get(ctx context.Context, ref domain.ModelRef, name string) (map[string]json.RawMessage, error)
}

// Registry is the entry point of the client: experiment lookups, run
// handles and model tags for one project.
type Registry struct {
	controller  *Controller
	experiments ExperimentStore
	runs        RunStore
	tags        ModelTagStore
	logger      *slog.Logger
	closers     []func() error
	// webURL is nil unless built by Connect.
	webURL func(segs ...string) string
}

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	fs         storage.FS
	audit      auditlog.Recorder
	actor      string
	now        func() time.Time
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTPClient sets the base client; credentials are layered on top.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithStorage replaces the backend chosen by the profile's transport mode.
func WithStorage(fs storage.FS) Option {
	return func(o *options) { o.fs = fs }
}

// WithAuditRecorder replaces the audit sink built from the profile.
func WithAuditRecorder(r auditlog.Recorder) Option {
	return func(o *options) { o.audit = r }
}

func WithActor(actor string) Option {
	return func(o *options) { o.actor = actor }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Connect builds a Registry from profile. Unless the profile skips it, the
// project's Experiments dataset must already exist.
func Connect(ctx context.Context, profile config.Profile, opts ...Option) (*Registry, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		l, err := logging.New(profile.Logging, nil)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	base := o.httpClient
	if base == nil {
		base = &http.Client{Timeout: profile.RequestTimeout}
	}
	httpClient, err := auth.HTTPClient(ctx, profile.Auth, base)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	client, err := registry.New(registry.Config{
		APIRoot:       profile.APIRoot,
		Attempts:      profile.RetryAttempts,
		RetryInterval: profile.RetryInterval,
		UserAgent:     userAgent,
	}, httpClient, logger)
	if err != nil {
		return nil, err
	}

	project := registry.Project{ID: profile.ProjectID, Name: profile.ProjectName}
	if project.ID == 0 {
		project, err = client.GetProject(ctx, profile.ProjectName)
		if err != nil {
			return nil, err
		}
	}
	logger = logger.With("project", project.Name)

	r := &Registry{
		experiments: registry.NewExperiments(client, project),
		runs:        registry.NewRuns(client, project),
		tags:        registry.NewModelTags(client, project),
		logger:      logger,
		webURL: func(segs ...string) string {
			return client.WebURL(project, segs...)
		},
	}

	fs := o.fs
	if fs == nil {
		fs, err = openStorage(ctx, profile, client, project, logger)
		if err != nil {
			return nil, err
		}
	}

	audit := o.audit
	if audit == nil {
		audit, err = r.openAudit(ctx, profile.Audit, logger)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
	}

	r.controller, err = NewController(ControllerDeps{
		Project:     project.Name,
		Experiments: r.experiments,
		Runs:        r.runs,
		FS:          fs,
		Audit:       audit,
		Logger:      logger,
		Actor:       o.actor,
		Now:         o.now,
	})
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	if !profile.SkipDatasetCheck {
		if err := r.controller.CheckDataset(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	logger.Debug("registry connected", "project_id", project.ID, "transport_mode", string(profile.TransportMode))
	return r, nil
}

func openStorage(ctx context.Context, profile config.Profile, client *registry.Client, project registry.Project, logger *slog.Logger) (storage.FS, error) {
	switch profile.TransportMode {
	case config.TransportManaged:
		fs, err := objectfs.Open(ctx, profile.ObjectStore, logger)
		if err != nil {
			return nil, fmt.Errorf("managed storage: %w", err)
		}
		return fs, nil
	default:
		fs, err := datasetfs.New(registry.NewDatasets(client, project, profile.UploadChunkSize), logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

func (r *Registry) openAudit(ctx context.Context, cfg postgres.Config, logger *slog.Logger) (auditlog.Recorder, error) {
	recorders := auditlog.Multi{auditlog.NewLogRecorder(logger)}
	if !cfg.Enabled() {
		return recorders, nil
	}
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	r.closers = append(r.closers, db.Close)
	if err := auditlog.EnsureSchema(ctx, db); err != nil {
		return nil, err
	}
	sqlRecorder, err := auditlog.NewSQLRecorder(db)
	if err != nil {
		return nil, err
	}
	return append(recorders, sqlRecorder), nil
}

// NewRegistry wires a Registry from already built parts.
func NewRegistry(controller *Controller, experiments ExperimentStore, runs RunStore, tags ModelTagStore, logger *slog.Logger) (*Registry, error) {
	if controller == nil || experiments == nil || runs == nil {
		return nil, errors.New("controller and registry endpoints are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{controller: controller, experiments: experiments, runs: runs, tags: tags, logger: logger}, nil
}

func (r *Registry) Controller() *Controller { return r.controller }

func (r *Registry) Project() string { return r.controller.Project() }

// ExperimentsURL is the UI page listing the project's experiments, or ""
// when the registry host is unknown.
func (r *Registry) ExperimentsURL() string {
	if r.webURL == nil {
		return ""
	}
	return r.webURL("experiments")
}

// RunsURL is the UI page listing the runs of experiment.
func (r *Registry) RunsURL(experiment string) string {
	if r.webURL == nil || experiment == "" {
		return ""
	}
	return r.webURL("experiments", experiment, "runs")
}

func (r *Registry) GetExperiment(ctx context.Context, name string) (Experiment, error) {
	if err := domain.ValidateExperimentName(name); err != nil {
		return Experiment{}, err
	}
	return r.experiments.Get(ctx, name)
}

// GetOrCreateExperiment creates the experiment only when the registry
// reports it as not found.
func (r *Registry) GetOrCreateExperiment(ctx context.Context, name string, opts ExperimentOptions) (Experiment, error) {
	exp, err := r.GetExperiment(ctx, name)
	if err == nil {
		return exp, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Experiment{}, err
	}
	r.logger.Debug("experiment not found, creating", "experiment", name)
	return r.controller.CreateExperiment(ctx, name, opts)
}

func (r *Registry) ListExperiments(ctx context.Context) ([]Experiment, error) {
	return r.experiments.List(ctx)
}

func (r *Registry) CreateExperiment(ctx context.Context, name string, opts ExperimentOptions) (Experiment, error) {
	return r.controller.CreateExperiment(ctx, name, opts)
}

func (r *Registry) SaveExperiment(ctx context.Context, exp Experiment) (Experiment, error) {
	return r.controller.Save(ctx, exp)
}

func (r *Registry) DeleteExperiment(ctx context.Context, exp Experiment) error {
	return r.controller.DeleteExperiment(ctx, exp)
}

func (r *Registry) GetRun(ctx context.Context, experiment, mlID string) (Run, error) {
	return r.runs.Get(ctx, experiment, mlID)
}

func (r *Registry) ListRuns(ctx context.Context, experiment string) ([]Run, error) {
	return r.runs.List(ctx, experiment)
}

func (r *Registry) DeleteRun(ctx context.Context, run Run) error {
	return r.controller.DeleteRun(ctx, run)
}

type RunOptions struct {
	Environment string
	Program     string
	Parameters  map[string]string
}

// StartRun starts a new run in exp and returns its handle.
func (r *Registry) StartRun(ctx context.Context, exp Experiment, opts RunOptions) (*ActiveRun, error) {
	run := domain.NewRun(r.Project(), exp.Name)
	run.Environment = opts.Environment
	run.Program = opts.Program
	for k, v := range opts.Parameters {
		if run.Parameters == nil {
			run.Parameters = make(map[string]string, len(opts.Parameters))
		}
		run.Parameters[k] = v
	}
	started, err := r.controller.StartRun(ctx, run, exp)
	if err != nil {
		return nil, err
	}
	if u := r.RunsURL(started.ExperimentName); u != "" {
		r.logger.Info("run started", "ml_id", started.MLID, "url", u)
	}
	return newActiveRun(r.controller, started), nil
}

func (r *Registry) modelTags() (ModelTagStore, error) {
	if r.tags == nil {
		return nil, errors.New("model tags endpoint is not configured")
	}
	return r.tags, nil
}

// SetModelTag attaches name to the model; value is marshalled to JSON.
func (r *Registry) SetModelTag(ctx context.Context, ref ModelRef, name string, value any) error {
	tags, err := r.modelTags()
	if err != nil {
		return err
	}
	raw, ok := value.(json.RawMessage)
	if !ok {
		raw, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("tag %s value: %w", name, err)
		}
	}
	return tags.Set(ctx, ref, name, raw)
}

func (r *Registry) DeleteModelTag(ctx context.Context, ref ModelRef, name string) error {
	tags, err := r.modelTags()
	if err != nil {
		return err
	}
	return tags.Delete(ctx, ref, name)
}

// GetModelTags returns all tags of the model, or only name when non-empty.
func (r *Registry) GetModelTags(ctx context.Context, ref ModelRef, name string) (map[string]json.RawMessage, error) {
	tags, err := r.modelTags()
	if err != nil {
		return nil, err
	}
	return tags.Get(ctx, ref, name)
}

// Close releases the audit database, if one was opened.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
