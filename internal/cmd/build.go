package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tundra-build/tundra/internal/abort"
	"github.com/tundra-build/tundra/internal/config"
	"github.com/tundra-build/tundra/internal/engine"
	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/graph"
	"github.com/tundra-build/tundra/internal/graphfile"
	"github.com/tundra-build/tundra/internal/introspect"
	"github.com/tundra-build/tundra/internal/job"
	"github.com/tundra-build/tundra/internal/osfs"
	"github.com/tundra-build/tundra/internal/report"
	"github.com/tundra-build/tundra/internal/runner"
	"github.com/tundra-build/tundra/internal/scanner"
	"github.com/tundra-build/tundra/internal/signature"
)

var buildCmd = &cobra.Command{
	Use:   "build [graph-file]",
	Short: "Build every node declared in a graph file",
	Long:  `build loads a declarative graph file and runs every node reachable from its root, skipping anything already up to date.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().Int("threads", 0, "worker thread count (default: config value)")
	buildCmd.Flags().Bool("dry-run", false, "scan and report without running any command")
	buildCmd.Flags().Bool("continue-on-error", false, "keep building independent branches after a failure")
	buildCmd.Flags().Int("profile", 0, "print the N slowest nodes after the run")
	buildCmd.Flags().String("inspect", "", "mount a read-only FUSE view of the finished build's job state at this directory")
}

func runBuild(cmd *cobra.Command, args []string) error {
	graphPath := "tundra.yaml"
	if len(args) > 0 {
		graphPath = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if threads, _ := cmd.Flags().GetInt("threads"); threads > 0 {
		cfg.ThreadCount = threads
	}
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		cfg.DryRun = true
	}
	if cont, _ := cmd.Flags().GetBool("continue-on-error"); cont {
		cfg.ContinueOnError = true
	}

	reg := filereg.New(func(path string) (filereg.Stat, error) { return osfs.OS{}.Stat(path) }, signature.Content)

	g, root, err := graphfile.Load(graphPath, reg)
	if err != nil {
		return fmt.Errorf("load graph %s: %w", graphPath, err)
	}

	eng, err := engine.New(*cfg, reg, g, osfs.OS{})
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	stop := abort.WatchSignals(eng.Abort())
	defer stop()

	sc := scanner.Keyword{Registry: reg, Triggers: []string{"#include"}}
	rn := &runner.Exec{Stdout: os.Stdout, Stderr: os.Stderr, EchoCommand: cfg.Verbosity > 0}

	ctx := context.Background()
	result, err := eng.Build(ctx, root, &sc, rn)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	report.Summary(os.Stdout, result.Stats, result.Elapsed)
	if n, _ := cmd.Flags().GetInt("profile"); n > 0 {
		report.Profile(os.Stdout, result.Jobs, n)
	}

	if inspectDir, _ := cmd.Flags().GetString("inspect"); inspectDir != "" {
		if err := inspect(ctx, eng.Abort(), inspectDir, result.Jobs); err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
	}

	if result.Stats.Failed > 0 {
		return fmt.Errorf("%d node(s) failed", result.Stats.Failed)
	}
	return nil
}

// inspect mounts a read-only snapshot of the finished build's job
// state at dir and blocks until the user unmounts it or sends
// SIGINT/SIGTERM (the abort token build's signal handler already
// watches).
func inspect(ctx context.Context, tok *abort.Token, dir string, jobs map[*graph.Node]*job.Job) error {
	root := introspect.New(func() []introspect.Entry { return introspect.FromJobs(jobs) })
	server, err := root.Mount(dir)
	if err != nil {
		return err
	}
	fmt.Printf("job state mounted at %s; press Ctrl+C to unmount\n", dir)

	go func() {
		<-tok.Done()
		server.Unmount()
	}()
	server.Wait()
	return nil
}
