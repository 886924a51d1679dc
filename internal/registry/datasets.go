package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/animus-labs/mlregistry-go/internal/domain"
)

// DefaultChunkSize is the flow chunk size used by Datasets.Upload.
const DefaultChunkSize int64 = 1 << 20

// Inode is one entry of a dataset listing.
type Inode struct {
	Name       string
	Path       string
	Dir        bool
	Size       int64
	Attributes map[string]any
}

type inodeAttributes struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Dir  bool   `json:"dir"`
	Size int64  `json:"size"`
}

func (n *Inode) UnmarshalJSON(b []byte) error {
	var w struct {
		Attributes json.RawMessage `json:"attributes"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	attrsRaw := w.Attributes
	if len(attrsRaw) == 0 {
		attrsRaw = b
	}
	var attrs inodeAttributes
	if err := json.Unmarshal(attrsRaw, &attrs); err != nil {
		return fmt.Errorf("decode inode: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal(attrsRaw, &all); err != nil {
		return fmt.Errorf("decode inode: %w", err)
	}
	*n = Inode{Name: attrs.Name, Path: attrs.Path, Dir: attrs.Dir, Size: attrs.Size, Attributes: all}
	if n.Name == "" && n.Path != "" {
		n.Name = filepath.Base(n.Path)
	}
	return nil
}

// Datasets is the project-scoped dataset (file) API.
type Datasets struct {
	c         *Client
	project   Project
	chunkSize int64
}

func NewDatasets(c *Client, project Project, chunkSize int64) *Datasets {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Datasets{c: c, project: project, chunkSize: chunkSize}
}

func splitPath(p string) []string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (d *Datasets) path(p string, prefix ...string) []string {
	segs := d.project.path(append([]string{"dataset"}, prefix...)...)
	return append(segs, splitPath(p)...)
}

// Stat returns ErrNotFound (via *APIError) when p is absent.
func (d *Datasets) Stat(ctx context.Context, p string) (Inode, error) {
	raw, err := d.c.Send(ctx, Request{
		Method: "GET",
		Path:   d.path(p),
		Query:  url.Values{"action": {"stat"}},
	})
	if err != nil {
		return Inode{}, fmt.Errorf("stat %s: %w", p, err)
	}
	inode, err := domain.DecodeOne[Inode](raw)
	if err != nil {
		return Inode{}, fmt.Errorf("decode stat %s: %w", p, err)
	}
	if inode.Path == "" {
		inode.Path = p
	}
	return inode, nil
}

// List returns the children of directory p. sortBy is passed through, e.g.
// "NAME:desc".
func (d *Datasets) List(ctx context.Context, p, sortBy string) ([]Inode, error) {
	q := url.Values{"action": {"listing"}, "expand": {"inodes"}}
	if sortBy != "" {
		q.Set("sort_by", sortBy)
	}
	raw, err := d.c.Send(ctx, Request{Method: "GET", Path: d.path(p), Query: q})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p, err)
	}
	inodes, err := domain.DecodeList[Inode](raw)
	if err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", p, err)
	}
	return inodes, nil
}

func (d *Datasets) Mkdir(ctx context.Context, p string) error {
	_, err := d.c.Send(ctx, Request{
		Method: "POST",
		Path:   d.path(p),
		Query:  url.Values{"action": {"create"}, "generate_readme": {"false"}},
	})
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (d *Datasets) Delete(ctx context.Context, p string) error {
	if _, err := d.c.Send(ctx, Request{Method: "DELETE", Path: d.path(p)}); err != nil {
		return fmt.Errorf("delete %s: %w", p, err)
	}
	return nil
}

// Upload sends localPath into remoteDir in flow chunks and returns the
// remote file path.
func (d *Datasets) Upload(ctx context.Context, localPath, remoteDir string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("upload %s: is a directory", localPath)
	}

	name := filepath.Base(localPath)
	total := info.Size()
	chunks := total / d.chunkSize
	if total%d.chunkSize != 0 || chunks == 0 {
		chunks++
	}
	identifier := strconv.FormatInt(total, 10) + "_" + name

	buf := make([]byte, d.chunkSize)
	for n := int64(1); n <= chunks; n++ {
		read, err := io.ReadFull(f, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("upload %s: read chunk %d: %w", localPath, n, err)
		}
		fields := map[string]string{
			"templateId":           "-1",
			"flowChunkNumber":      strconv.FormatInt(n, 10),
			"flowChunkSize":        strconv.FormatInt(d.chunkSize, 10),
			"flowCurrentChunkSize": strconv.Itoa(read),
			"flowTotalSize":        strconv.FormatInt(total, 10),
			"flowIdentifier":       identifier,
			"flowFilename":         name,
			"flowRelativePath":     name,
			"flowTotalChunks":      strconv.FormatInt(chunks, 10),
		}
		body, contentType, err := flowChunk(fields, name, buf[:read])
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", localPath, err)
		}
		if _, err := d.c.Send(ctx, Request{
			Method: "POST",
			Path:   d.path(remoteDir, "upload"),
			Body:   RawBody{ContentType: contentType, Data: body},
		}); err != nil {
			return "", fmt.Errorf("upload %s chunk %d/%d: %w", localPath, n, chunks, err)
		}
	}
	return strings.TrimRight(remoteDir, "/") + "/" + name, nil
}

func flowChunk(fields map[string]string, filename string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, k := range flowFieldOrder {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var flowFieldOrder = []string{
	"templateId",
	"flowChunkNumber",
	"flowChunkSize",
	"flowCurrentChunkSize",
	"flowTotalSize",
	"flowIdentifier",
	"flowFilename",
	"flowRelativePath",
	"flowTotalChunks",
}
