// Package experiments is a client for an ML experiment registry.
//
// A Registry is built from a Profile (see LoadProfile) with Connect. Experiments are
// fetched or created through it, and StartRun returns an ActiveRun that
// accumulates parameters, metrics and artifact files until End:
//
//	profile, err := experiments.LoadProfile("")
//	reg, err := experiments.Connect(ctx, profile)
//	exp, err := reg.GetOrCreateExperiment(ctx, "mnist", experiments.ExperimentOptions{})
//	run, err := reg.StartRun(ctx, exp, experiments.RunOptions{Program: "train.py"})
//	_ = run.LogParam("lr", "0.01")
//	_ = run.LogMetric("accuracy", 0.98)
//	_ = run.LogArtifact("model.bin")
//	report, err := run.End(ctx)
//
// Each run owns the directory /Projects/{project}/Experiments/{experiment}/run_{n}.
// Run indexes are allocated by listing that directory, so concurrent
// StartRun calls on one experiment may collide.
package experiments
