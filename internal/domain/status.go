package domain

import "fmt"

type RunStatus string

const (
	// RunStatusCreated is the local state of a run that was never started.
	RunStatusCreated  RunStatus = ""
	RunStatusRunning  RunStatus = "RUNNING"
	RunStatusFinished RunStatus = "FINISHED"
	RunStatusFailed   RunStatus = "FAILED"
)

// IsTerminal is true for FINISHED and FAILED, and for any status the
// server reports that this client does not know (e.g. KILLED).
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusCreated && s != RunStatusRunning
}

// Valid reports whether s is one of the statuses this client writes.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusCreated, RunStatusRunning, RunStatusFinished, RunStatusFailed:
		return true
	}
	return false
}

func (s RunStatus) String() string {
	if s == RunStatusCreated {
		return "CREATED"
	}
	return string(s)
}

func ParseRunStatus(raw string) (RunStatus, error) {
	s := RunStatus(raw)
	if raw == "CREATED" {
		s = RunStatusCreated
	}
	if !s.Valid() {
		return "", fmt.Errorf("unknown run status %q", raw)
	}
	return s, nil
}
