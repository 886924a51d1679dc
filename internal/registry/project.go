package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Project scopes every endpoint wrapper.
type Project struct {
	ID   int64
	Name string
}

func (p Project) Validate() error {
	if p.ID <= 0 {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("project name is required")
	}
	return nil
}

func (p Project) path(segs ...string) []string {
	return append([]string{"project", strconv.FormatInt(p.ID, 10)}, segs...)
}

type projectWire struct {
	ProjectID   int64  `json:"projectId"`
	ProjectName string `json:"projectName"`
}

// GetProject resolves a project by name.
func (c *Client) GetProject(ctx context.Context, name string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, errors.New("project name is required")
	}
	raw, err := c.Send(ctx, Request{Method: "GET", Path: []string{"project", "getProjectInfo", name}})
	if err != nil {
		return Project{}, fmt.Errorf("get project %s: %w", name, err)
	}
	var w projectWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Project{}, fmt.Errorf("decode project %s: %w", name, err)
	}
	p := Project{ID: w.ProjectID, Name: w.ProjectName}
	if p.Name == "" {
		p.Name = name
	}
	if err := p.Validate(); err != nil {
		return Project{}, fmt.Errorf("project %s: %w", name, err)
	}
	return p, nil
}

// WebURL is the registry UI address under project p, on the API root's host.
func (c *Client) WebURL(p Project, segs ...string) string {
	u := url.URL{Scheme: c.root.Scheme, Host: c.root.Host}
	parts := append([]string{"p", strconv.FormatInt(p.ID, 10)}, segs...)
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	u.RawPath = "/" + strings.Join(parts, "/")
	u.Path, _ = url.PathUnescape(u.RawPath)
	return u.String()
}
