package experiments

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/animus-labs/mlregistry-go/internal/domain"
	"github.com/animus-labs/mlregistry-go/internal/platform/auditlog"
	"github.com/animus-labs/mlregistry-go/internal/storage"
)

type memFS struct {
	mu        sync.Mutex
	dirs      map[string]bool
	files     map[string]string
	modes     map[string]string
	calls     []string
	listErr   error
	failFiles map[string]error
}

func newMemFS(dirs ...string) *memFS {
	fs := &memFS{
		dirs:      map[string]bool{},
		files:     map[string]string{},
		modes:     map[string]string{},
		failFiles: map[string]error{},
	}
	for _, d := range dirs {
		fs.dirs[storage.Clean(d)] = true
	}
	return fs
}

func (m *memFS) log(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *memFS) Exists(ctx context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = storage.Clean(p)
	m.log("exists %s", p)
	_, isFile := m.files[p]
	return m.dirs[p] || isFile, nil
}

func (m *memFS) List(ctx context.Context, p string, sortBy storage.SortBy) ([]storage.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = storage.Clean(p)
	m.log("list %s %s", p, sortBy)
	if m.listErr != nil {
		return nil, m.listErr
	}
	if !m.dirs[p] {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotExist, p)
	}
	var entries []storage.Entry
	for d := range m.dirs {
		if path.Dir(d) == p && d != p {
			entries = append(entries, storage.Entry{Name: path.Base(d), Path: d, Dir: true})
		}
	}
	for f := range m.files {
		if path.Dir(f) == p {
			entries = append(entries, storage.Entry{Name: path.Base(f), Path: f})
		}
	}
	storage.SortEntries(entries, sortBy)
	return entries, nil
}

func (m *memFS) Mkdir(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = storage.Clean(p)
	m.log("mkdir %s", p)
	m.dirs[p] = true
	return nil
}

func (m *memFS) Chmod(ctx context.Context, p, mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = storage.Clean(p)
	m.log("chmod %s %s", p, mode)
	m.modes[p] = mode
	return nil
}

func (m *memFS) Upload(ctx context.Context, localPath, remoteDir string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := filepath.Base(localPath)
	m.log("upload %s %s", name, storage.Clean(remoteDir))
	if err := m.failFiles[name]; err != nil {
		return "", err
	}
	remote := storage.Clean(remoteDir + "/" + name)
	m.files[remote] = localPath
	return remote, nil
}

func (m *memFS) Delete(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = storage.Clean(p)
	m.log("delete %s", p)
	found := false
	for d := range m.dirs {
		if d == p || strings.HasPrefix(d, p+"/") {
			delete(m.dirs, d)
			found = true
		}
	}
	for f := range m.files {
		if strings.HasPrefix(f, p+"/") {
			delete(m.files, f)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", storage.ErrNotExist, p)
	}
	return nil
}

func (m *memFS) callsWith(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

type stubExperiments struct {
	mu      sync.Mutex
	byName  map[string]domain.Experiment
	puts    []domain.ExperimentConfiguration
	deletes []string
	getErr  error
	nextID  int64
}

func newStubExperiments() *stubExperiments {
	return &stubExperiments{byName: map[string]domain.Experiment{}}
}

func (s *stubExperiments) Get(ctx context.Context, name string) (domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.Experiment{}, s.getErr
	}
	exp, ok := s.byName[name]
	if !ok {
		return domain.Experiment{}, &RegistryAccessError{Method: "GET", URL: "/experiments/" + name, StatusCode: 404}
	}
	return exp, nil
}

func (s *stubExperiments) List(ctx context.Context) ([]domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Experiment, 0, len(s.byName))
	for _, e := range s.byName {
		out = append(out, e)
	}
	return out, nil
}

func (s *stubExperiments) Put(ctx context.Context, cfg domain.ExperimentConfiguration) (domain.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, cfg)
	exp, ok := s.byName[cfg.Name]
	if !ok {
		s.nextID++
		exp = domain.Experiment{ID: s.nextID, Name: cfg.Name, Creator: "alice"}
	}
	exp.Description = cfg.Description
	s.byName[cfg.Name] = exp
	return exp, nil
}

func (s *stubExperiments) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, name)
	delete(s.byName, name)
	return nil
}

type stubRuns struct {
	mu      sync.Mutex
	puts    []domain.RunConfiguration
	deletes []string
	putErr  error
	nextID  int64
}

func (s *stubRuns) Put(ctx context.Context, experiment string, cfg domain.RunConfiguration) (domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, cfg)
	if s.putErr != nil {
		return domain.Run{}, s.putErr
	}
	s.nextID++
	return domain.Run{ID: 100 + s.nextID, MLID: cfg.MLID, Status: cfg.Status, Parameters: cfg.Parameters, Metrics: cfg.Metrics}, nil
}

func (s *stubRuns) Get(ctx context.Context, experiment, mlID string) (domain.Run, error) {
	return domain.Run{}, errors.New("not implemented")
}

func (s *stubRuns) List(ctx context.Context, experiment string) ([]domain.Run, error) {
	return nil, nil
}

func (s *stubRuns) Delete(ctx context.Context, experiment, mlID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, experiment+"/"+mlID)
	return nil
}

func (s *stubRuns) lastPut() domain.RunConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[len(s.puts)-1]
}

type recordingAudit struct {
	mu     sync.Mutex
	events []auditlog.Event
	err    error
}

func (r *recordingAudit) Record(ctx context.Context, event auditlog.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}
