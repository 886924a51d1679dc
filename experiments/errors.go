package experiments

import (
	"errors"
	"fmt"

	"github.com/animus-labs/mlregistry-go/internal/registry"
)

var (
	ErrMissingDataset       = errors.New("experiments dataset missing")
	ErrLocalArtifactMissing = errors.New("local artifact missing")

	ErrRunAlreadyStarted = errors.New("run already started")
	ErrRunNotRunning     = errors.New("run is not running")
	ErrRunFinished       = errors.New("run already finished")

	// ErrNotFound matches registry 404s.
	ErrNotFound = registry.ErrNotFound
)

// RegistryAccessError is returned for every non-2xx registry response.
type RegistryAccessError = registry.APIError

// MissingDatasetError reports that the project's Experiments dataset does
// not exist. It is never created by the client.
type MissingDatasetError struct {
	Project string
	Path    string
}

func (e *MissingDatasetError) Error() string {
	return fmt.Sprintf("no Experiments dataset exists in project %s (%s), please create the dataset manually", e.Project, e.Path)
}

func (e *MissingDatasetError) Is(target error) bool {
	return target == ErrMissingDataset
}

// LocalArtifactMissingError reports a logged artifact whose local file was
// gone at upload time.
type LocalArtifactMissingError struct {
	Path string
	Err  error
}

func (e *LocalArtifactMissingError) Error() string {
	return fmt.Sprintf("local artifact missing: %s", e.Path)
}

func (e *LocalArtifactMissingError) Unwrap() error {
	return e.Err
}

func (e *LocalArtifactMissingError) Is(target error) bool {
	return target == ErrLocalArtifactMissing
}

// ArtifactUploadError carries a failed upload of one artifact.
type ArtifactUploadError struct {
	Path string
	Err  error
}

func (e *ArtifactUploadError) Error() string {
	return fmt.Sprintf("upload artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactUploadError) Unwrap() error {
	return e.Err
}
