package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"
)

// Artifact is a local file queued for upload into the run directory when
// the run ends.
type Artifact struct {
	LocalPath string
	Name      string
}

// Run is one execution attempt within an experiment. MLID is assigned once,
// when the run starts.
type Run struct {
	ID          int64
	MLID        string
	Status      RunStatus
	Started     *time.Time
	Finished    *time.Time
	Creator     string
	Environment string
	Program     string
	Parameters  map[string]string
	Metrics     map[string]float64

	ExperimentName string
	ProjectName    string

	// Artifacts are pending uploads. They never leave the process.
	Artifacts []Artifact
}

func NewRun(project, experiment string) Run {
	return Run{ProjectName: project, ExperimentName: experiment}
}

// IsStarted reports whether an MLID has been allocated.
func (r Run) IsStarted() bool {
	return r.MLID != ""
}

// Index is the n of "{experiment}_run_{n}".
func (r Run) Index() (int, bool) {
	return ParseRunIndex(r.MLID)
}

// RunFolder is the MLID with the experiment prefix dropped ("run_n").
func (r Run) RunFolder() string {
	if r.MLID == "" {
		return ""
	}
	if r.ExperimentName != "" {
		if folder, ok := strings.CutPrefix(r.MLID, r.ExperimentName+"_"); ok {
			return folder
		}
	}
	if n, ok := r.Index(); ok {
		return RunFolderName(n)
	}
	return r.MLID
}

// Path resolves to /Projects/{project}/Experiments/{experiment}/run_{n}, or
// "" before the run is started.
func (r Run) Path() string {
	folder := r.RunFolder()
	if folder == "" {
		return ""
	}
	return ExperimentPath(r.ProjectName, r.ExperimentName) + "/" + folder
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ProjectName) == "" {
		return errors.New("project name is required")
	}
	if strings.TrimSpace(r.ExperimentName) == "" {
		return errors.New("experiment name is required")
	}
	return ValidateMetrics(r.Metrics)
}

// ValidateMetrics rejects NaN and infinite values, which have no JSON
// encoding.
func ValidateMetrics(metrics map[string]float64) error {
	for k, v := range metrics {
		if err := ValidateMetric(k, v); err != nil {
			return err
		}
	}
	return nil
}

func ValidateMetric(name string, value float64) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("metric name is required")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("metric %s: value %v is not finite", name, value)
	}
	return nil
}

// Clone deep-copies the mutable collections.
func (r Run) Clone() Run {
	r.Parameters = maps.Clone(r.Parameters)
	r.Metrics = maps.Clone(r.Metrics)
	r.Artifacts = slices.Clone(r.Artifacts)
	if r.Started != nil {
		v := *r.Started
		r.Started = &v
	}
	if r.Finished != nil {
		v := *r.Finished
		r.Finished = &v
	}
	return r
}

// ApplyUpdate returns a copy of r with the server-populated fields of patch
// laid over it. Identity (MLID, experiment, project) and pending artifacts
// come from r; patch only fills them when r has none.
func (r Run) ApplyUpdate(patch Run) Run {
	next := r.Clone()
	if patch.ID != 0 {
		next.ID = patch.ID
	}
	if next.MLID == "" {
		next.MLID = patch.MLID
	}
	if patch.Status != RunStatusCreated {
		next.Status = patch.Status
	}
	if patch.Started != nil {
		v := *patch.Started
		next.Started = &v
	}
	if patch.Finished != nil {
		v := *patch.Finished
		next.Finished = &v
	}
	if patch.Creator != "" {
		next.Creator = patch.Creator
	}
	if patch.Environment != "" {
		next.Environment = patch.Environment
	}
	if patch.Program != "" {
		next.Program = patch.Program
	}
	if patch.Parameters != nil {
		next.Parameters = maps.Clone(patch.Parameters)
	}
	if patch.Metrics != nil {
		next.Metrics = maps.Clone(patch.Metrics)
	}
	if next.ExperimentName == "" {
		next.ExperimentName = patch.ExperimentName
	}
	if next.ProjectName == "" {
		next.ProjectName = patch.ProjectName
	}
	return next
}

// RunConfiguration is the body of PUT .../experiments/{name}/runs.
type RunConfiguration struct {
	Type        string             `json:"type"`
	MLID        string             `json:"mlId"`
	Status      RunStatus          `json:"status"`
	Parameters  map[string]string  `json:"parameters"`
	Metrics     map[string]float64 `json:"metrics"`
	Environment string             `json:"environment,omitempty"`
	Program     string             `json:"program,omitempty"`
}

const runConfigurationType = "runConfiguration"

// Configuration renders the write body for r with the given status.
// Unset parameters and metrics go out as null.
func (r Run) Configuration(status RunStatus) RunConfiguration {
	return RunConfiguration{
		Type:        runConfigurationType,
		MLID:        r.MLID,
		Status:      status,
		Parameters:  maps.Clone(r.Parameters),
		Metrics:     maps.Clone(r.Metrics),
		Environment: r.Environment,
		Program:     r.Program,
	}
}

type runWire struct {
	Type           string             `json:"type,omitempty"`
	ID             int64              `json:"id,omitempty"`
	MLID           string             `json:"mlId,omitempty"`
	Status         RunStatus          `json:"status,omitempty"`
	Started        *timestamp         `json:"started,omitempty"`
	Finished       *timestamp         `json:"finished,omitempty"`
	Creator        string             `json:"creator,omitempty"`
	Environment    string             `json:"environment,omitempty"`
	Program        string             `json:"program,omitempty"`
	Parameters     map[string]string  `json:"parameters,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	ExperimentName string             `json:"experimentName,omitempty"`
	Href           string             `json:"href,omitempty"`
}

func (r Run) MarshalJSON() ([]byte, error) {
	return json.Marshal(runWire{
		ID:             r.ID,
		MLID:           r.MLID,
		Status:         r.Status,
		Started:        newTimestamp(r.Started),
		Finished:       newTimestamp(r.Finished),
		Creator:        r.Creator,
		Environment:    r.Environment,
		Program:        r.Program,
		Parameters:     r.Parameters,
		Metrics:        r.Metrics,
		ExperimentName: r.ExperimentName,
	})
}

func (r *Run) UnmarshalJSON(b []byte) error {
	var w runWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Run{
		ID:             w.ID,
		MLID:           w.MLID,
		Status:         w.Status,
		Started:        w.Started.ptr(),
		Finished:       w.Finished.ptr(),
		Creator:        w.Creator,
		Environment:    w.Environment,
		Program:        w.Program,
		Parameters:     w.Parameters,
		Metrics:        w.Metrics,
		ExperimentName: w.ExperimentName,
	}
	return nil
}

// DecodeRuns decodes any of the list shapes and binds the runs to
// project and experiment.
func DecodeRuns(raw []byte, project, experiment string) ([]Run, error) {
	runs, err := DecodeList[Run](raw)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].ProjectName = project
		if runs[i].ExperimentName == "" {
			runs[i].ExperimentName = experiment
		}
	}
	return runs, nil
}

func DecodeRun(raw []byte, project, experiment string) (Run, error) {
	run, err := DecodeOne[Run](raw)
	if err != nil {
		return Run{}, err
	}
	run.ProjectName = project
	if run.ExperimentName == "" {
		run.ExperimentName = experiment
	}
	return run, nil
}

// SortByRecency orders runs most recently started first; unstarted runs go
// last, ties fall back to descending run index.
func SortByRecency(runs []Run) {
	slices.SortStableFunc(runs, func(a, b Run) int {
		switch {
		case a.Started != nil && b.Started != nil:
			if c := b.Started.Compare(*a.Started); c != 0 {
				return c
			}
		case a.Started != nil:
			return -1
		case b.Started != nil:
			return 1
		}
		ai, _ := a.Index()
		bi, _ := b.Index()
		return bi - ai
	})
}
