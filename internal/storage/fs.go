// Package storage defines the filesystem the run lifecycle writes to. Paths
// are absolute, slash separated, and rooted at /Projects.
package storage

import (
	"context"
	"errors"
	"path"
	"slices"
	"strings"
)

var ErrNotExist = errors.New("storage: path does not exist")

type SortBy string

const (
	SortNone     SortBy = ""
	SortNameAsc  SortBy = "NAME:asc"
	SortNameDesc SortBy = "NAME:desc"
)

func (s SortBy) Valid() bool {
	switch s {
	case SortNone, SortNameAsc, SortNameDesc:
		return true
	}
	return false
}

// ModeRunDir is applied to every new run directory.
const ModeRunDir = "ug+rwx"

type Entry struct {
	Name       string
	Path       string
	Dir        bool
	Size       int64
	Attributes map[string]any
}

type FS interface {
	Exists(ctx context.Context, p string) (bool, error)
	// List returns the direct children of p. A missing p yields ErrNotExist.
	List(ctx context.Context, p string, sortBy SortBy) ([]Entry, error)
	Mkdir(ctx context.Context, p string) error
	Chmod(ctx context.Context, p, mode string) error
	// Upload copies a local file into remoteDir and returns its remote path.
	Upload(ctx context.Context, localPath, remoteDir string) (string, error)
	// Delete removes p and everything under it.
	Delete(ctx context.Context, p string) error
}

// Clean normalizes p to an absolute slash path without a trailing slash.
func Clean(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	return path.Clean("/" + p)
}

// SortEntries orders entries in place by name.
func SortEntries(entries []Entry, by SortBy) {
	switch by {
	case SortNameAsc:
		slices.SortStableFunc(entries, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	case SortNameDesc:
		slices.SortStableFunc(entries, func(a, b Entry) int { return strings.Compare(b.Name, a.Name) })
	}
}
