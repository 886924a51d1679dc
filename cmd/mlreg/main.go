package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/mlregistry-go/experiments"
	"github.com/animus-labs/mlregistry-go/internal/platform/logging"
	"github.com/spf13/cobra"
)

type cli struct {
	profilePath      string
	skipDatasetCheck bool
}

// connect loads the profile and opens a registry; logs go to the command's
// stderr so stdout stays JSON.
func (c *cli) connect(cmd *cobra.Command) (*experiments.Registry, error) {
	profile, err := experiments.LoadProfile(c.profilePath)
	if err != nil {
		return nil, err
	}
	if c.skipDatasetCheck {
		profile.SkipDatasetCheck = true
	}
	logger, err := logging.New(profile.Logging, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return experiments.Connect(cmd.Context(), profile, experiments.WithLogger(logger), experiments.WithActor("mlreg"))
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "mlreg",
		Short: "ML experiment registry client",
		Long: `mlreg talks to an experiment registry: it manages experiments, records
runs with their parameters, metrics and artifacts, and tags registered models.
Settings come from a profile file and MLREG_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.profilePath, "profile", "", "profile file path (default $MLREG_PROFILE or ~/.config/mlregistry/profile.yaml)")
	root.PersistentFlags().BoolVar(&c.skipDatasetCheck, "skip-dataset-check", false, "do not require the Experiments dataset at connect")

	root.AddCommand(c.experimentCmd(), c.runCmd(), c.tagCmd())
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
