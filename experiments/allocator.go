package experiments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/animus-labs/mlregistry-go/internal/domain"
	"github.com/animus-labs/mlregistry-go/internal/registry"
	"github.com/animus-labs/mlregistry-go/internal/storage"
)

// Allocator picks the next run index for an experiment by scanning the
// run directories under its storage path.
//
// Allocation is not atomic. Two StartRun calls racing on the same
// experiment can list the same directory contents and compute the same
// index; nothing server side rejects the second one. Callers that need
// strict uniqueness must serialize run starts per experiment.
type Allocator struct {
	fs     storage.FS
	logger *slog.Logger
}

func NewAllocator(fs storage.FS, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{fs: fs, logger: logger}
}

// NextIndex returns one past the highest run index found under
// experimentPath, or 1 when there is none. Entries whose name has no
// "_<int>" suffix are ignored. A listing rejected by the registry, or of a
// path that does not exist, counts as empty.
func (a *Allocator) NextIndex(ctx context.Context, experimentPath string) (int, error) {
	if a == nil || a.fs == nil {
		return 0, errors.New("allocator storage is required")
	}
	entries, err := a.fs.List(ctx, experimentPath, storage.SortNameDesc)
	if err != nil {
		if !registry.IsAPIError(err) && !errors.Is(err, storage.ErrNotExist) {
			return 0, fmt.Errorf("list runs under %s: %w", experimentPath, err)
		}
		a.logger.Debug("run listing unavailable, allocating from empty", "path", experimentPath, "error", err)
		entries = nil
	}

	highest := 0
	for _, e := range entries {
		n, ok := domain.ParseRunIndex(e.Name)
		if !ok {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}
