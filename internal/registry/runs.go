package registry

import (
	"context"
	"fmt"

	"github.com/animus-labs/mlregistry-go/internal/domain"
)

type Runs struct {
	c       *Client
	project Project
}

func NewRuns(c *Client, project Project) *Runs {
	return &Runs{c: c, project: project}
}

// Put writes the run configuration under experiment. The server creates the
// run on first write and updates it afterwards, keyed by mlId.
func (r *Runs) Put(ctx context.Context, experiment string, cfg domain.RunConfiguration) (domain.Run, error) {
	raw, err := r.c.Send(ctx, Request{
		Method: "PUT",
		Path:   r.project.path("experiments", experiment, "runs"),
		Body:   cfg,
	})
	if err != nil {
		return domain.Run{}, fmt.Errorf("put run %s: %w", cfg.MLID, err)
	}
	if raw == nil {
		return domain.Run{MLID: cfg.MLID, Status: cfg.Status, ExperimentName: experiment, ProjectName: r.project.Name}, nil
	}
	run, err := domain.DecodeRun(raw, r.project.Name, experiment)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode run %s: %w", cfg.MLID, err)
	}
	return run, nil
}

func (r *Runs) Get(ctx context.Context, experiment, mlID string) (domain.Run, error) {
	raw, err := r.c.Send(ctx, Request{Method: "GET", Path: r.project.path("experiments", experiment, "runs", mlID)})
	if err != nil {
		return domain.Run{}, fmt.Errorf("get run %s: %w", mlID, err)
	}
	run, err := domain.DecodeRun(raw, r.project.Name, experiment)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode run %s: %w", mlID, err)
	}
	return run, nil
}

func (r *Runs) List(ctx context.Context, experiment string) ([]domain.Run, error) {
	raw, err := r.c.Send(ctx, Request{Method: "GET", Path: r.project.path("experiments", experiment, "runs")})
	if err != nil {
		return nil, fmt.Errorf("list runs of %s: %w", experiment, err)
	}
	runs, err := domain.DecodeRuns(raw, r.project.Name, experiment)
	if err != nil {
		return nil, fmt.Errorf("decode runs of %s: %w", experiment, err)
	}
	domain.SortByRecency(runs)
	return runs, nil
}

func (r *Runs) Delete(ctx context.Context, experiment, mlID string) error {
	if _, err := r.c.Send(ctx, Request{Method: "DELETE", Path: r.project.path("experiments", experiment, "runs", mlID)}); err != nil {
		return fmt.Errorf("delete run %s: %w", mlID, err)
	}
	return nil
}
