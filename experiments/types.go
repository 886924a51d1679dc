package experiments

import (
	"errors"

	"github.com/animus-labs/mlregistry-go/internal/config"
	"github.com/animus-labs/mlregistry-go/internal/domain"
)

type (
	Experiment = domain.Experiment
	Run        = domain.Run
	RunStatus  = domain.RunStatus
	Artifact   = domain.Artifact
	ModelRef   = domain.ModelRef

	Profile       = config.Profile
	TransportMode = config.TransportMode
)

const (
	RunStatusCreated  = domain.RunStatusCreated
	RunStatusRunning  = domain.RunStatusRunning
	RunStatusFinished = domain.RunStatusFinished
	RunStatusFailed   = domain.RunStatusFailed

	TransportLocal   = config.TransportLocal
	TransportManaged = config.TransportManaged
)

// LoadProfile reads the profile file at path (missing is fine), applies
// MLREG_* overrides and validates. An empty path means $MLREG_PROFILE or
// ~/.config/mlregistry/profile.yaml.
func LoadProfile(path string) (Profile, error) {
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// UploadReport lists what happened to each pending artifact when a run
// ended.
type UploadReport struct {
	Uploaded []string
	Skipped  []*LocalArtifactMissingError
	Failed   []*ArtifactUploadError
}

// Err joins the skipped and failed entries, or returns nil.
func (r UploadReport) Err() error {
	errs := make([]error, 0, len(r.Skipped)+len(r.Failed))
	for _, e := range r.Skipped {
		errs = append(errs, e)
	}
	for _, e := range r.Failed {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}
