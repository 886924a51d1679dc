package registry

import (
	"context"
	"fmt"
	"net/url"

	"github.com/animus-labs/mlregistry-go/internal/domain"
)

type Experiments struct {
	c       *Client
	project Project
}

func NewExperiments(c *Client, project Project) *Experiments {
	return &Experiments{c: c, project: project}
}

// Get fetches one experiment with its runs expanded.
func (e *Experiments) Get(ctx context.Context, name string) (domain.Experiment, error) {
	raw, err := e.c.Send(ctx, Request{
		Method: "GET",
		Path:   e.project.path("experiments", name),
		Query:  url.Values{"expand": {"runs"}},
	})
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("get experiment %s: %w", name, err)
	}
	exp, err := domain.DecodeExperiment(raw, e.project.Name)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("decode experiment %s: %w", name, err)
	}
	return exp, nil
}

func (e *Experiments) List(ctx context.Context) ([]domain.Experiment, error) {
	raw, err := e.c.Send(ctx, Request{Method: "GET", Path: e.project.path("experiments")})
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	exps, err := domain.DecodeExperiments(raw, e.project.Name)
	if err != nil {
		return nil, fmt.Errorf("decode experiments: %w", err)
	}
	return exps, nil
}

// Put creates or updates the experiment metadata. An empty response body
// yields the experiment as sent.
func (e *Experiments) Put(ctx context.Context, cfg domain.ExperimentConfiguration) (domain.Experiment, error) {
	raw, err := e.c.Send(ctx, Request{
		Method: "PUT",
		Path:   e.project.path("experiments", cfg.Name),
		Body:   cfg,
	})
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("put experiment %s: %w", cfg.Name, err)
	}
	sent := domain.NewExperiment(e.project.Name, cfg.Name)
	sent.Description = cfg.Description
	if raw == nil {
		return sent, nil
	}
	exp, err := domain.DecodeExperiment(raw, e.project.Name)
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("decode experiment %s: %w", cfg.Name, err)
	}
	return sent.ApplyUpdate(exp), nil
}

func (e *Experiments) Delete(ctx context.Context, name string) error {
	if _, err := e.c.Send(ctx, Request{Method: "DELETE", Path: e.project.path("experiments", name)}); err != nil {
		return fmt.Errorf("delete experiment %s: %w", name, err)
	}
	return nil
}
