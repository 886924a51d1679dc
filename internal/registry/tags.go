package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/animus-labs/mlregistry-go/internal/domain"
)

type ModelTags struct {
	c       *Client
	project Project
}

func NewModelTags(c *Client, project Project) *ModelTags {
	return &ModelTags{c: c, project: project}
}

func (t *ModelTags) path(ref domain.ModelRef, name string) []string {
	segs := t.project.path("modelregistries", ref.RegistryIDString(), "models", ref.ModelID, "tags")
	if name != "" {
		segs = append(segs, name)
	}
	return segs
}

// Set attaches name=value to the model. value must be a JSON document.
func (t *ModelTags) Set(ctx context.Context, ref domain.ModelRef, name string, value json.RawMessage) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("tag name is required")
	}
	if !json.Valid(value) {
		return fmt.Errorf("tag %s: value is not valid json", name)
	}
	_, err := t.c.Send(ctx, Request{
		Method: "PUT",
		Path:   t.path(ref, name),
		Body:   RawBody{ContentType: "application/json", Data: value},
	})
	if err != nil {
		return fmt.Errorf("set tag %s on model %s: %w", name, ref.ModelID, err)
	}
	return nil
}

func (t *ModelTags) Delete(ctx context.Context, ref domain.ModelRef, name string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if name == "" {
		return errors.New("tag name is required")
	}
	if _, err := t.c.Send(ctx, Request{Method: "DELETE", Path: t.path(ref, name)}); err != nil {
		return fmt.Errorf("delete tag %s on model %s: %w", name, ref.ModelID, err)
	}
	return nil
}

// Get returns every tag of the model, or only name when it is set.
func (t *ModelTags) Get(ctx context.Context, ref domain.ModelRef, name string) (map[string]json.RawMessage, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	raw, err := t.c.Send(ctx, Request{Method: "GET", Path: t.path(ref, name)})
	if err != nil {
		return nil, fmt.Errorf("get tags of model %s: %w", ref.ModelID, err)
	}
	tags, err := domain.DecodeTags(raw)
	if err != nil {
		return nil, fmt.Errorf("decode tags of model %s: %w", ref.ModelID, err)
	}
	return tags, nil
}
