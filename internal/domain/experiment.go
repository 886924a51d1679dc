package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Experiment is a named container of runs. Name is unique within a project
// and never changes once the experiment exists.
type Experiment struct {
	ID          int64
	Name        string
	Created     *time.Time
	Description string
	Creator     string
	ProjectName string
	Href        string

	// Runs are ordered most recent first.
	Runs []Run
}

func NewExperiment(project, name string) Experiment {
	return Experiment{ProjectName: project, Name: name}
}

// Path resolves to /Projects/{project}/Experiments/{name}.
func (e Experiment) Path() string {
	return ExperimentPath(e.ProjectName, e.Name)
}

func (e Experiment) Validate() error {
	if strings.TrimSpace(e.ProjectName) == "" {
		return errors.New("project name is required")
	}
	return ValidateExperimentName(e.Name)
}

func ValidateExperimentName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("experiment name is required")
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("experiment name %q has surrounding whitespace", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("experiment name %q must not contain path separators", name)
	}
	return nil
}

// ApplyUpdate returns a copy of e carrying the server fields of patch. Name
// and project always come from e.
func (e Experiment) ApplyUpdate(patch Experiment) Experiment {
	next := e
	next.Runs = slices.Clone(e.Runs)
	if patch.ID != 0 {
		next.ID = patch.ID
	}
	if patch.Created != nil {
		v := *patch.Created
		next.Created = &v
	}
	if patch.Description != "" {
		next.Description = patch.Description
	}
	if patch.Creator != "" {
		next.Creator = patch.Creator
	}
	if patch.Href != "" {
		next.Href = patch.Href
	}
	if patch.Runs != nil {
		next.Runs = make([]Run, len(patch.Runs))
		for i, r := range patch.Runs {
			r = r.Clone()
			r.ProjectName = next.ProjectName
			r.ExperimentName = next.Name
			next.Runs[i] = r
		}
	}
	return next
}

// ExperimentConfiguration is the body of PUT .../experiments/{name}.
type ExperimentConfiguration struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (e Experiment) Configuration() ExperimentConfiguration {
	return ExperimentConfiguration{
		Type:        "experimentConfiguration",
		Name:        e.Name,
		Description: e.Description,
	}
}

type experimentWire struct {
	Type        string          `json:"type,omitempty"`
	ID          int64           `json:"id,omitempty"`
	Name        string          `json:"name"`
	Created     *timestamp      `json:"created,omitempty"`
	Description string          `json:"description,omitempty"`
	Creator     string          `json:"creator,omitempty"`
	Href        string          `json:"href,omitempty"`
	Runs        json.RawMessage `json:"runs,omitempty"`
}

func (e Experiment) MarshalJSON() ([]byte, error) {
	var runs json.RawMessage
	if e.Runs != nil {
		b, err := json.Marshal(e.Runs)
		if err != nil {
			return nil, err
		}
		runs = b
	}
	return json.Marshal(experimentWire{
		ID:          e.ID,
		Name:        e.Name,
		Created:     newTimestamp(e.Created),
		Description: e.Description,
		Creator:     e.Creator,
		Href:        e.Href,
		Runs:        runs,
	})
}

func (e *Experiment) UnmarshalJSON(b []byte) error {
	var w experimentWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = Experiment{
		ID:          w.ID,
		Name:        w.Name,
		Created:     w.Created.ptr(),
		Description: w.Description,
		Creator:     w.Creator,
		Href:        w.Href,
	}
	if len(w.Runs) > 0 {
		runs, err := DecodeList[Run](w.Runs)
		if err != nil {
			return fmt.Errorf("experiment %s runs: %w", w.Name, err)
		}
		SortByRecency(runs)
		e.Runs = runs
	}
	return nil
}

func bindExperiment(e *Experiment, project string) {
	e.ProjectName = project
	for i := range e.Runs {
		e.Runs[i].ProjectName = project
		if e.Runs[i].ExperimentName == "" {
			e.Runs[i].ExperimentName = e.Name
		}
	}
}

// DecodeExperiments decodes any of the list shapes and binds the result to
// project.
func DecodeExperiments(raw []byte, project string) ([]Experiment, error) {
	exps, err := DecodeList[Experiment](raw)
	if err != nil {
		return nil, err
	}
	for i := range exps {
		bindExperiment(&exps[i], project)
	}
	return exps, nil
}

func DecodeExperiment(raw []byte, project string) (Experiment, error) {
	exp, err := DecodeOne[Experiment](raw)
	if err != nil {
		return Experiment{}, err
	}
	bindExperiment(&exp, project)
	return exp, nil
}
