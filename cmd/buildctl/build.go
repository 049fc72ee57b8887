package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"bldr/internal/actioncache"
	"bldr/internal/backpressure"
	"bldr/internal/cas"
	"bldr/internal/config"
	"bldr/internal/digest"
	"bldr/internal/graph"
	"bldr/internal/sandbox"
	"bldr/internal/scheduler"
	"bldr/internal/storage"
)

var (
	buildCasDir      string
	buildCacheDBPath string
	buildShardCount  int
)

var buildCmd = &cobra.Command{
	Use:   "build <manifest.json>",
	Short: "Run a build graph from a manifest on this machine, no coordinator required",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildCasDir, "cas-dir", cas.DefaultRoot(), "content-addressable store root")
	buildCmd.Flags().StringVar(&buildCacheDBPath, "cache-db", "", "action cache database path, empty disables caching")
	buildCmd.Flags().IntVar(&buildShardCount, "shards", 16, "scheduler shard count")
	rootCmd.AddCommand(buildCmd)
}

// buildManifest is the on-disk description of a local build graph: a flat
// list of actions naming their own dependencies by ID, resolved into graph
// edges before scheduling.
type buildManifest struct {
	Actions []buildManifestAction `json:"actions"`
}

type buildManifestAction struct {
	ID          string            `json:"id"`
	DependsOn   []string          `json:"depends_on"`
	Priority    string            `json:"priority"`
	Command     []string          `json:"command"`
	Env         map[string]string `json:"env"`
	Inputs      []buildInputSpec  `json:"inputs"`
	OutputPaths []string          `json:"output_paths"`
}

// buildInputSpec names a local file to ingest into the CAS before the
// action runs; Path is where the sandboxed workspace expects to find it.
type buildInputSpec struct {
	Path   string `json:"path"`
	Source string `json:"source"`
}

func parsePriority(s string) backpressure.Priority {
	switch s {
	case "low":
		return backpressure.PriorityLow
	case "high":
		return backpressure.PriorityHigh
	case "critical":
		return backpressure.PriorityCritical
	default:
		return backpressure.PriorityNormal
	}
}

// runBuild executes every action in the manifest's dependency order on this
// process: the same ready-queue -> cache lookup/lease -> sandbox ->
// cache record -> graph completion cycle the distributed coordinator runs
// per worker, minus the network hop.
func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if !cmd.Flags().Changed("shards") && cfg.Execution.ShardCount > 0 {
		buildShardCount = cfg.Execution.ShardCount
	}
	if !cmd.Flags().Changed("cache-db") && cfg.Cache.Dir != "" {
		buildCacheDBPath = cfg.Cache.Dir + "/build.db"
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	var manifest buildManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}

	store, err := cas.Open(buildCasDir, cas.Config{MaxBytes: cfg.Cache.MaxBytes, EvictionPolicy: cas.EvictionLRU})
	if err != nil {
		return fmt.Errorf("opening CAS: %w", err)
	}

	var cache *actioncache.Cache
	if buildCacheDBPath != "" {
		db, err := storage.NewSQLiteStore(buildCacheDBPath)
		if err != nil {
			return fmt.Errorf("opening cache database: %w", err)
		}
		defer db.Close()
		cache = actioncache.New(db)
	}

	g := graph.New()
	sched := scheduler.New(g, buildShardCount)
	specs := make(map[string]buildManifestAction, len(manifest.Actions))

	for _, a := range manifest.Actions {
		g.AddNode(a.ID)
		specs[a.ID] = a
	}
	for _, a := range manifest.Actions {
		for _, dep := range a.DependsOn {
			if err := g.AddEdge(dep, a.ID); err != nil {
				return fmt.Errorf("action %s depends_on %s: %w", a.ID, dep, err)
			}
		}
	}
	for _, a := range manifest.Actions {
		if err := sched.Submit(a.ID, parsePriority(a.Priority)); err != nil {
			return fmt.Errorf("submitting action %s: %w", a.ID, err)
		}
	}

	exec := sandbox.NewExecutor(store, time.Now().Unix())
	ctx := context.Background()

	remaining := len(manifest.Actions)
	for remaining > 0 {
		assignment, ok := sched.Dispatch("local")
		if !ok {
			return fmt.Errorf("build stalled with %d action(s) never becoming ready (cycle or missing dependency)", remaining)
		}
		if err := runLocalAction(ctx, cmd, sched, exec, store, cache, specs[assignment.ActionID]); err != nil {
			return err
		}
		remaining--
	}

	fmt.Fprintf(cmd.OutOrStdout(), "build complete: %d action(s)\n", len(manifest.Actions))
	return nil
}

func runLocalAction(ctx context.Context, cmd *cobra.Command, sched *scheduler.Scheduler, exec *sandbox.Executor, store *cas.Store, cache *actioncache.Cache, a buildManifestAction) error {
	inputs := make([]digest.InputPair, 0, len(a.Inputs))
	for _, in := range a.Inputs {
		data, err := os.ReadFile(in.Source)
		if err != nil {
			return fmt.Errorf("reading input %s for action %s: %w", in.Source, a.ID, err)
		}
		d, err := store.Put(cas.KindFile, data)
		if err != nil {
			return fmt.Errorf("ingesting input %s for action %s: %w", in.Source, a.ID, err)
		}
		inputs = append(inputs, digest.InputPair{Path: in.Path, Digest: d})
	}

	fp := digest.FingerprintAction(digest.ActionSpec{
		Command:     a.Command,
		Env:         a.Env,
		Inputs:      inputs,
		OutputPaths: a.OutputPaths,
	})

	if cache != nil {
		if _, hit, err := cache.Lookup(ctx, fp); err == nil && hit {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: cached\n", a.ID)
			_, err := sched.Complete(a.ID)
			return err
		}
	}

	var lease *actioncache.Lease
	if cache != nil {
		if l, err := cache.AcquireBuildLease(ctx, fp); err == nil {
			lease = l
			defer lease.Release(ctx)
		}
	}

	result, err := exec.Execute(ctx, sandbox.ActionSpec{
		ID:          a.ID,
		Command:     a.Command,
		Env:         a.Env,
		Inputs:      inputs,
		OutputPaths: a.OutputPaths,
	})
	if err != nil {
		_, _ = sched.Fail(a.ID, true)
		return fmt.Errorf("action %s failed: %w", a.ID, err)
	}
	if result.ExitCode != 0 || result.TimedOut {
		_, _ = sched.Fail(a.ID, false)
		return fmt.Errorf("action %s exited %d (timed out: %v)", a.ID, result.ExitCode, result.TimedOut)
	}

	if _, err := sched.Complete(a.ID); err != nil {
		return err
	}
	if cache != nil {
		_ = cache.Record(ctx, fp, actioncache.Entry{
			Outputs:      result.Outputs,
			ExitStatus:   result.ExitCode,
			StderrDigest: result.StderrDigest,
			Duration:     result.Duration,
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ran (%s)\n", a.ID, result.Duration)
	return nil
}
