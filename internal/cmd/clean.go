package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tundra-build/tundra/internal/config"
	"github.com/tundra-build/tundra/internal/engine"
	"github.com/tundra-build/tundra/internal/filereg"
	"github.com/tundra-build/tundra/internal/graphfile"
	"github.com/tundra-build/tundra/internal/osfs"
	"github.com/tundra-build/tundra/internal/signature"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [graph-file]",
	Short: "Remove every output reachable from the graph's root",
	Long:  `clean walks the same reachable set build would, deleting every non-precious output and any directory that leaves empty. It never touches the ancestor journal or relation cache.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	graphPath := "tundra.yaml"
	if len(args) > 0 {
		graphPath = args[0]
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
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

	result := eng.Clean(root)
	fmt.Printf("removed %d file(s), %d director(y/ies)\n", result.FilesRemoved, result.DirsRemoved)
	return nil
}
