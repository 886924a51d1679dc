package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ExperimentsDataset is the per-project dataset holding experiment
// directories. It is provisioned with the project, never by this client.
const ExperimentsDataset = "Experiments"

const runFolderPrefix = "run_"

func ProjectPath(project string) string {
	return "/Projects/" + project
}

func ExperimentsRoot(project string) string {
	return ProjectPath(project) + "/" + ExperimentsDataset
}

func ExperimentPath(project, experiment string) string {
	return ExperimentsRoot(project) + "/" + experiment
}

func FormatMLID(experiment string, index int) string {
	return fmt.Sprintf("%s_%s%d", experiment, runFolderPrefix, index)
}

func RunFolderName(index int) string {
	return runFolderPrefix + strconv.Itoa(index)
}

// ParseRunIndex reads the positive integer after the last underscore of
// name, so both "run_7" and "e1_run_7" yield 7.
func ParseRunIndex(name string) (int, bool) {
	i := strings.LastIndexByte(name, '_')
	if i < 0 || i == len(name)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
