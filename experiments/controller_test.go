package experiments

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/animus-labs/mlregistry-go/internal/domain"
	"github.com/animus-labs/mlregistry-go/internal/platform/logging"
	"github.com/animus-labs/mlregistry-go/internal/platform/requestid"
)

const experimentsRoot = "/Projects/p/Experiments"

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	fs    *memFS
	exps  *stubExperiments
	runs  *stubRuns
	audit *recordingAudit
	c     *Controller
}

func newFixture(t *testing.T, dirs ...string) *fixture {
	t.Helper()
	f := &fixture{
		fs:    newMemFS(dirs...),
		exps:  newStubExperiments(),
		runs:  &stubRuns{},
		audit: &recordingAudit{},
	}
	c, err := NewController(ControllerDeps{
		Project:     "p",
		Experiments: f.exps,
		Runs:        f.runs,
		FS:          f.fs,
		Audit:       f.audit,
		Logger:      logging.Discard(),
		Now:         func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("NewController() err=%v", err)
	}
	f.c = c
	return f
}

func TestNewControllerRequiresDeps(t *testing.T) {
	if _, err := NewController(ControllerDeps{Project: "p"}); err == nil {
		t.Fatalf("NewController() expected error without endpoints")
	}
	if _, err := NewController(ControllerDeps{Project: "p", Experiments: newStubExperiments(), Runs: &stubRuns{}}); err == nil {
		t.Fatalf("NewController() expected error without storage")
	}
}

func TestCreateExperimentMissingDataset(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.CreateExperiment(context.Background(), "e1", ExperimentOptions{})
	if !errors.Is(err, ErrMissingDataset) {
		t.Fatalf("CreateExperiment() err=%v, want ErrMissingDataset", err)
	}
	var missing *MissingDatasetError
	if !errors.As(err, &missing) || missing.Path != experimentsRoot {
		t.Fatalf("CreateExperiment() err=%#v", err)
	}
	if !strings.Contains(err.Error(), "Experiments dataset") || !strings.Contains(err.Error(), "p") {
		t.Fatalf("message=%q", err.Error())
	}
	if got := f.fs.callsWith("mkdir"); len(got) != 0 {
		t.Fatalf("mkdir calls=%v, want none", got)
	}
	if len(f.exps.puts) != 0 {
		t.Fatalf("registry writes=%v, want none", f.exps.puts)
	}
	if len(f.audit.events) != 0 {
		t.Fatalf("audit events=%v", f.audit.actions())
	}
}

func TestCreateExperiment(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	exp, err := f.c.CreateExperiment(context.Background(), "e1", ExperimentOptions{Description: "baseline"})
	if err != nil {
		t.Fatalf("CreateExperiment() err=%v", err)
	}
	if exp.ID != 1 || exp.Name != "e1" || exp.ProjectName != "p" || exp.Description != "baseline" || exp.Creator != "alice" {
		t.Fatalf("CreateExperiment()=%+v", exp)
	}
	if got := f.fs.callsWith("mkdir"); len(got) != 1 || got[0] != "mkdir "+e1Path {
		t.Fatalf("mkdir calls=%v", got)
	}
	if len(f.exps.puts) != 1 || f.exps.puts[0].Type != "experimentConfiguration" {
		t.Fatalf("puts=%+v", f.exps.puts)
	}
	if got := f.audit.actions(); !reflect.DeepEqual(got, []string{"experiment.created"}) {
		t.Fatalf("audit=%v", got)
	}
}

func TestCreateExperimentExistingDirectory(t *testing.T) {
	f := newFixture(t, experimentsRoot, e1Path)
	if _, err := f.c.CreateExperiment(context.Background(), "e1", ExperimentOptions{}); err != nil {
		t.Fatalf("CreateExperiment() err=%v", err)
	}
	if got := f.fs.callsWith("mkdir"); len(got) != 0 {
		t.Fatalf("mkdir calls=%v, want none", got)
	}
}

func TestCreateExperimentRejectsBadName(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	if _, err := f.c.CreateExperiment(context.Background(), "a/b", ExperimentOptions{}); err == nil {
		t.Fatalf("CreateExperiment() expected name error")
	}
	if len(f.fs.calls) != 0 {
		t.Fatalf("calls=%v, want none", f.fs.calls)
	}
}

func TestStartRunScenario(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	exp := domain.NewExperiment("p", "e1")
	ctx := context.Background()

	first, err := f.c.StartRun(ctx, domain.NewRun("p", "e1"), exp)
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	if first.MLID != "e1_run_1" || first.Path() != "/Projects/p/Experiments/e1/run_1" {
		t.Fatalf("first run=%+v path=%s", first, first.Path())
	}
	if first.ID != 101 || first.Status != domain.RunStatusRunning || first.Started == nil || !first.Started.Equal(fixedNow) {
		t.Fatalf("first run server fields=%+v", first)
	}
	if f.fs.modes[first.Path()] != "ug+rwx" {
		t.Fatalf("mode=%q", f.fs.modes[first.Path()])
	}

	second, err := f.c.StartRun(ctx, domain.NewRun("p", "e1"), exp)
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	if second.MLID != "e1_run_2" || second.Path() != "/Projects/p/Experiments/e1/run_2" {
		t.Fatalf("second run=%+v", second)
	}
	if got := f.audit.actions(); !reflect.DeepEqual(got, []string{"run.started", "run.started"}) {
		t.Fatalf("audit=%v", got)
	}
}

func TestStartRunOrdering(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	if _, err := f.c.StartRun(context.Background(), domain.NewRun("p", "e1"), domain.NewExperiment("p", "e1")); err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	want := []string{
		"exists " + experimentsRoot,
		"exists " + e1Path,
		"mkdir " + e1Path,
		"list " + e1Path + " NAME:desc",
		"mkdir " + e1Path + "/run_1",
		"chmod " + e1Path + "/run_1 ug+rwx",
	}
	if !reflect.DeepEqual(f.fs.calls, want) {
		t.Fatalf("calls=\n%v\nwant\n%v", f.fs.calls, want)
	}
	put := f.runs.lastPut()
	if put.MLID != "e1_run_1" || put.Status != domain.RunStatusRunning || put.Type != "runConfiguration" {
		t.Fatalf("put=%+v", put)
	}
}

func TestStartRunTwiceFails(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	exp := domain.NewExperiment("p", "e1")
	run, err := f.c.StartRun(context.Background(), domain.NewRun("p", "e1"), exp)
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	_, err = f.c.StartRun(context.Background(), run, exp)
	if !errors.Is(err, ErrRunAlreadyStarted) {
		t.Fatalf("StartRun() again err=%v, want ErrRunAlreadyStarted", err)
	}
	if len(f.runs.puts) != 1 {
		t.Fatalf("puts=%d, want 1", len(f.runs.puts))
	}
}

func TestStartRunMissingDataset(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.StartRun(context.Background(), domain.NewRun("p", "e1"), domain.NewExperiment("p", "e1"))
	if !errors.Is(err, ErrMissingDataset) {
		t.Fatalf("StartRun() err=%v, want ErrMissingDataset", err)
	}
	if len(f.runs.puts) != 0 || len(f.fs.callsWith("mkdir")) != 0 {
		t.Fatalf("unexpected writes: puts=%d calls=%v", len(f.runs.puts), f.fs.calls)
	}
}

func writeArtifact(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
		t.Fatalf("WriteFile() err=%v", err)
	}
	return p
}

func TestEndRunUploadsExistingArtifacts(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	ctx := context.Background()
	run, err := f.c.StartRun(ctx, domain.NewRun("p", "e1"), domain.NewExperiment("p", "e1"))
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}

	dir := t.TempDir()
	run.Parameters = map[string]string{"lr": "0.1"}
	run.Metrics = map[string]float64{"acc": 0.93}
	run.Artifacts = []domain.Artifact{
		{LocalPath: writeArtifact(t, dir, "model.bin")},
		{LocalPath: filepath.Join(dir, "vanished.bin")},
		{LocalPath: writeArtifact(t, dir, "broken.bin")},
		{LocalPath: writeArtifact(t, dir, "metrics.json")},
	}
	f.fs.failFiles["broken.bin"] = errors.New("quota exceeded")

	ended, report, err := f.c.EndRun(ctx, run)
	if err != nil {
		t.Fatalf("EndRun() err=%v", err)
	}
	if ended.Status != domain.RunStatusFinished || ended.Finished == nil || len(ended.Artifacts) != 0 {
		t.Fatalf("EndRun()=%+v", ended)
	}
	wantUploaded := []string{run.Path() + "/model.bin", run.Path() + "/metrics.json"}
	if !reflect.DeepEqual(report.Uploaded, wantUploaded) {
		t.Fatalf("uploaded=%v, want %v", report.Uploaded, wantUploaded)
	}
	if len(report.Skipped) != 1 || !errors.Is(report.Skipped[0], ErrLocalArtifactMissing) || !errors.Is(report.Skipped[0], os.ErrNotExist) {
		t.Fatalf("skipped=%v", report.Skipped)
	}
	if len(report.Failed) != 1 || !strings.Contains(report.Failed[0].Error(), "quota exceeded") {
		t.Fatalf("failed=%v", report.Failed)
	}
	if report.Err() == nil {
		t.Fatalf("report.Err() expected joined error")
	}
	if got := f.fs.callsWith("upload"); len(got) != 3 {
		t.Fatalf("upload calls=%v", got)
	}

	put := f.runs.lastPut()
	if put.Status != domain.RunStatusFinished || put.Parameters["lr"] != "0.1" || put.Metrics["acc"] != 0.93 {
		t.Fatalf("finalize put=%+v", put)
	}
	if got := f.audit.actions(); !reflect.DeepEqual(got, []string{"run.started", "run.finished"}) {
		t.Fatalf("audit=%v", got)
	}
}

func TestEndRunUploadsBeforeFinalize(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	ctx := context.Background()
	run, err := f.c.StartRun(ctx, domain.NewRun("p", "e1"), domain.NewExperiment("p", "e1"))
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	run.Artifacts = []domain.Artifact{{LocalPath: writeArtifact(t, t.TempDir(), "a.txt")}}
	f.runs.putErr = errors.New("registry down")

	_, report, err := f.c.EndRun(ctx, run)
	if err == nil {
		t.Fatalf("EndRun() expected finalize error")
	}
	if len(report.Uploaded) != 1 {
		t.Fatalf("uploaded=%v, want the artifact uploaded before finalize", report.Uploaded)
	}
}

func TestEndRunRequiresRunning(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	if _, _, err := f.c.EndRun(context.Background(), domain.NewRun("p", "e1")); !errors.Is(err, ErrRunNotRunning) {
		t.Fatalf("EndRun() unstarted err=%v", err)
	}
	done := domain.NewRun("p", "e1")
	done.MLID = "e1_run_1"
	done.Status = domain.RunStatusFinished
	if _, _, err := f.c.EndRun(context.Background(), done); !errors.Is(err, ErrRunNotRunning) {
		t.Fatalf("EndRun() finished err=%v", err)
	}
	if len(f.runs.puts) != 0 {
		t.Fatalf("puts=%d, want 0", len(f.runs.puts))
	}
}

func TestStartRunRejectsNonFiniteMetrics(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	run := domain.NewRun("p", "e1")
	run.Metrics = map[string]float64{"loss": math.NaN()}
	if _, err := f.c.StartRun(context.Background(), run, domain.NewExperiment("p", "e1")); err == nil {
		t.Fatalf("StartRun() expected error for NaN metric")
	}
	if len(f.fs.calls) != 0 || len(f.runs.puts) != 0 {
		t.Fatalf("unexpected writes: calls=%v puts=%d", f.fs.calls, len(f.runs.puts))
	}
}

func TestEndRunRejectsNonFiniteMetrics(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		f := newFixture(t, experimentsRoot)
		run := domain.NewRun("p", "e1")
		run.MLID = "e1_run_1"
		run.Status = domain.RunStatusRunning
		run.Metrics = map[string]float64{"loss": v}
		run.Artifacts = []domain.Artifact{{LocalPath: writeArtifact(t, t.TempDir(), "a.txt")}}

		if _, _, err := f.c.EndRun(context.Background(), run); err == nil {
			t.Fatalf("EndRun() metric %v expected error", v)
		}
		if got := f.fs.callsWith("upload"); len(got) != 0 || len(f.runs.puts) != 0 {
			t.Fatalf("metric %v: uploads=%v puts=%d, want none", v, got, len(f.runs.puts))
		}
	}
}

func TestEndRunDefaultsProject(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	run := domain.NewRun("", "e1")
	run.MLID = "e1_run_1"
	run.Status = domain.RunStatusRunning
	run.Artifacts = []domain.Artifact{{LocalPath: writeArtifact(t, t.TempDir(), "a.txt")}}

	ended, report, err := f.c.EndRun(context.Background(), run)
	if err != nil {
		t.Fatalf("EndRun() err=%v", err)
	}
	if ended.ProjectName != "p" {
		t.Fatalf("ProjectName=%q, want p", ended.ProjectName)
	}
	if want := []string{e1Path + "/run_1/a.txt"}; !reflect.DeepEqual(report.Uploaded, want) {
		t.Fatalf("uploaded=%v, want %v", report.Uploaded, want)
	}
}

func TestEndRunRequiresExperimentName(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	run := domain.NewRun("p", "")
	run.MLID = "e1_run_1"
	run.Status = domain.RunStatusRunning
	if _, _, err := f.c.EndRun(context.Background(), run); err == nil {
		t.Fatalf("EndRun() expected error without experiment name")
	}
	if len(f.runs.puts) != 0 || len(f.fs.calls) != 0 {
		t.Fatalf("unexpected writes: calls=%v puts=%d", f.fs.calls, len(f.runs.puts))
	}
}

func TestFailRun(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	run, err := f.c.StartRun(context.Background(), domain.NewRun("p", "e1"), domain.NewExperiment("p", "e1"))
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	failed, _, err := f.c.FailRun(context.Background(), run)
	if err != nil {
		t.Fatalf("FailRun() err=%v", err)
	}
	if failed.Status != domain.RunStatusFailed || f.runs.lastPut().Status != domain.RunStatusFailed {
		t.Fatalf("FailRun()=%+v", failed)
	}
	if got := f.audit.actions(); got[len(got)-1] != "run.failed" {
		t.Fatalf("audit=%v", got)
	}
}

func TestStartEndRoundTrip(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	ctx := context.Background()
	run, err := f.c.StartRun(ctx, domain.NewRun("p", "e1"), domain.NewExperiment("p", "e1"))
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	run.Parameters = map[string]string{"epochs": "3"}
	ended, _, err := f.c.EndRun(ctx, run)
	if err != nil {
		t.Fatalf("EndRun() err=%v", err)
	}
	if run.Status != domain.RunStatusRunning || ended.Status != domain.RunStatusFinished {
		t.Fatalf("status %s -> %s", run.Status, ended.Status)
	}

	raw, err := json.Marshal(ended)
	if err != nil {
		t.Fatalf("Marshal() err=%v", err)
	}
	back, err := domain.DecodeRun(raw, "p", "e1")
	if err != nil {
		t.Fatalf("DecodeRun() err=%v", err)
	}
	back.ID, ended.ID = 0, 0
	if !back.Started.Equal(*ended.Started) || !back.Finished.Equal(*ended.Finished) {
		t.Fatalf("timestamps %v/%v, want %v/%v", back.Started, back.Finished, ended.Started, ended.Finished)
	}
	back.Started, back.Finished = ended.Started, ended.Finished
	if !reflect.DeepEqual(back, ended) {
		t.Fatalf("round trip:\n got %+v\nwant %+v", back, ended)
	}
}

func TestDeleteExperiment(t *testing.T) {
	f := newFixture(t, experimentsRoot, e1Path, e1Path+"/run_1")
	if err := f.c.DeleteExperiment(context.Background(), domain.NewExperiment("p", "e1")); err != nil {
		t.Fatalf("DeleteExperiment() err=%v", err)
	}
	if f.fs.dirs[e1Path] || f.fs.dirs[e1Path+"/run_1"] {
		t.Fatalf("directories left: %v", f.fs.dirs)
	}
	if !reflect.DeepEqual(f.exps.deletes, []string{"e1"}) {
		t.Fatalf("deletes=%v", f.exps.deletes)
	}

	// Already gone on storage.
	if err := f.c.DeleteExperiment(context.Background(), domain.NewExperiment("p", "e1")); err != nil {
		t.Fatalf("DeleteExperiment() second err=%v", err)
	}
}

func TestDeleteRun(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	run, err := f.c.StartRun(context.Background(), domain.NewRun("p", "e1"), domain.NewExperiment("p", "e1"))
	if err != nil {
		t.Fatalf("StartRun() err=%v", err)
	}
	if err := f.c.DeleteRun(context.Background(), run); err != nil {
		t.Fatalf("DeleteRun() err=%v", err)
	}
	if f.fs.dirs[run.Path()] || !reflect.DeepEqual(f.runs.deletes, []string{"e1/e1_run_1"}) {
		t.Fatalf("dirs=%v deletes=%v", f.fs.dirs, f.runs.deletes)
	}
	if err := f.c.DeleteRun(context.Background(), domain.NewRun("p", "e1")); err == nil {
		t.Fatalf("DeleteRun() expected error for unstarted run")
	}
}

func TestAuditFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	f.audit.err = errors.New("audit db down")
	ctx := requestid.WithContext(context.Background(), "req-9")
	if _, err := f.c.CreateExperiment(ctx, "e1", ExperimentOptions{}); err != nil {
		t.Fatalf("CreateExperiment() err=%v", err)
	}
	ev := f.audit.events[0]
	if ev.RequestID != "req-9" || ev.Project != "p" || ev.ResourceID != "e1" || !ev.OccurredAt.Equal(fixedNow) {
		t.Fatalf("event=%+v", ev)
	}
}

func TestSave(t *testing.T) {
	f := newFixture(t, experimentsRoot)
	exp := domain.NewExperiment("p", "e1")
	exp.Description = "v2"
	saved, err := f.c.Save(context.Background(), exp)
	if err != nil {
		t.Fatalf("Save() err=%v", err)
	}
	if saved.Description != "v2" || saved.ID == 0 || len(f.fs.calls) != 0 {
		t.Fatalf("Save()=%+v calls=%v", saved, f.fs.calls)
	}
}
