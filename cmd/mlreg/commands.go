package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/animus-labs/mlregistry-go/experiments"
	"github.com/spf13/cobra"
)

// withRegistry connects, runs fn and closes the registry.
func (c *cli) withRegistry(fn func(cmd *cobra.Command, reg *experiments.Registry, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		reg, err := c.connect(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = reg.Close() }()
		return fn(cmd, reg, args)
	}
}

func (c *cli) experimentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"exp"},
		Short:   "Manage experiments",
	}

	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Show an experiment and its runs",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			exp, err := reg.GetExperiment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), exp)
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List experiments of the project",
		Args:  cobra.NoArgs,
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			exps, err := reg.ListExperiments(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), exps)
		}),
	}

	var description string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an experiment, or return it when it exists",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			exp, err := reg.GetOrCreateExperiment(cmd.Context(), args[0], experiments.ExperimentOptions{Description: description})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), exp)
		}),
	}
	create.Flags().StringVar(&description, "description", "", "experiment description")

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete an experiment, its runs and its directory",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			exp, err := reg.GetExperiment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return reg.DeleteExperiment(cmd.Context(), exp)
		}),
	}

	cmd.AddCommand(get, list, create, del)
	return cmd
}

// parseKV splits "k=v" pairs.
func parseKV(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[k] = v
	}
	return out, nil
}

func parseMetrics(pairs []string) (map[string]float64, error) {
	kv, err := parseKV(pairs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(kv))
	for k, v := range kv {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

type runResult struct {
	MLID     string   `json:"mlId"`
	Path     string   `json:"path"`
	Status   string   `json:"status"`
	URL      string   `json:"url,omitempty"`
	Uploaded []string `json:"uploaded"`
	Skipped  []string `json:"skipped,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Record and inspect runs",
	}

	var (
		params    []string
		metrics   []string
		artifacts []string
		program   string
		failed    bool
	)
	record := &cobra.Command{
		Use:   "record EXPERIMENT",
		Short: "Start a run, log values and artifacts, and end it",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			ps, err := parseKV(params)
			if err != nil {
				return err
			}
			ms, err := parseMetrics(metrics)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			exp, err := reg.GetOrCreateExperiment(ctx, args[0], experiments.ExperimentOptions{})
			if err != nil {
				return err
			}
			run, err := reg.StartRun(ctx, exp, experiments.RunOptions{Program: program, Parameters: ps})
			if err != nil {
				return err
			}
			for k, v := range ms {
				if err := run.LogMetric(k, v); err != nil {
					return err
				}
			}
			for _, a := range artifacts {
				if err := run.LogArtifact(a); err != nil {
					return err
				}
			}
			end := run.End
			if failed {
				end = run.Fail
			}
			report, err := end(ctx)
			if err != nil {
				return err
			}
			snap := run.Run()
			res := runResult{MLID: snap.MLID, Path: snap.Path(), Status: snap.Status.String(), URL: reg.RunsURL(snap.ExperimentName), Uploaded: report.Uploaded}
			for _, s := range report.Skipped {
				res.Skipped = append(res.Skipped, s.Error())
			}
			for _, f := range report.Failed {
				res.Failed = append(res.Failed, f.Error())
			}
			return writeJSON(cmd.OutOrStdout(), res)
		}),
	}
	record.Flags().StringArrayVar(&params, "param", nil, "parameter key=value (repeatable)")
	record.Flags().StringArrayVar(&metrics, "metric", nil, "metric key=number (repeatable)")
	record.Flags().StringArrayVar(&artifacts, "artifact", nil, "local file uploaded at the end (repeatable)")
	record.Flags().StringVar(&program, "program", "", "program that produced the run")
	record.Flags().BoolVar(&failed, "failed", false, "end the run as FAILED")

	list := &cobra.Command{
		Use:   "list EXPERIMENT",
		Short: "List runs, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			runs, err := reg.ListRuns(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		}),
	}

	get := &cobra.Command{
		Use:   "get EXPERIMENT ML_ID",
		Short: "Show one run",
		Args:  cobra.ExactArgs(2),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			run, err := reg.GetRun(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), run)
		}),
	}

	del := &cobra.Command{
		Use:   "delete EXPERIMENT ML_ID",
		Short: "Delete a run and its directory",
		Args:  cobra.ExactArgs(2),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			run, err := reg.GetRun(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return reg.DeleteRun(cmd.Context(), run)
		}),
	}

	cmd.AddCommand(record, list, get, del)
	return cmd
}

// tagValue keeps JSON documents as they are and quotes anything else.
func tagValue(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	b, _ := json.Marshal(raw)
	return b
}

func (c *cli) tagCmd() *cobra.Command {
	var (
		registryID int64
		modelID    string
	)
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage model tags",
	}
	cmd.PersistentFlags().Int64Var(&registryID, "registry-id", 0, "model registry id")
	cmd.PersistentFlags().StringVar(&modelID, "model", "", "model id, e.g. mnist_1")
	ref := func() experiments.ModelRef {
		return experiments.ModelRef{RegistryID: registryID, ModelID: modelID}
	}

	set := &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Set a tag; VALUE is stored as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			return reg.SetModelTag(cmd.Context(), ref(), args[0], tagValue(args[1]))
		}),
	}

	get := &cobra.Command{
		Use:   "get [NAME]",
		Short: "Show all tags, or one",
		Args:  cobra.MaximumNArgs(1),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			tags, err := reg.GetModelTags(cmd.Context(), ref(), name)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tags)
		}),
	}

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a tag",
		Args:  cobra.ExactArgs(1),
		RunE: c.withRegistry(func(cmd *cobra.Command, reg *experiments.Registry, args []string) error {
			return reg.DeleteModelTag(cmd.Context(), ref(), args[0])
		}),
	}

	cmd.AddCommand(set, get, del)
	return cmd
}
