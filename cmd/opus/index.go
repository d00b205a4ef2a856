package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"opusgraph/spatial"
)

var indexAt string

var indexCmd = &cobra.Command{
	Use:   "index <file>",
	Short: "Build the layout index of a document and optionally hit-test it",
	Long: `Builds the quad-tree area index over a document's live nodes, in
absolute coordinates, and prints a summary. With --at x,y it also prints
every node under the point and the topmost one.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexAt, "at", "", "Point to hit-test, as x,y")
}

func runIndex(cmd *cobra.Command, args []string) error {
	doc, _, err := loadDocument(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	ix, err := spatial.Build(doc.Snapshot(), cfg.SpatialConfig(logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Entries: %d\n", ix.Len())
	fmt.Fprintf(out, "Bounds:  %s\n", ix.Bounds())
	fmt.Fprintf(out, "Depth:   %d\n", ix.Depth())

	if indexAt == "" {
		return nil
	}
	x, y, err := parsePoint(indexAt)
	if err != nil {
		return err
	}
	hits := ix.QueryPoint(x, y)
	fmt.Fprintf(out, "At %g,%g: %d nodes\n", x, y, len(hits))
	for _, e := range hits {
		n, _ := doc.Node(e.ID)
		fmt.Fprintf(out, "  %-11s %s %s %s\n", e.Kind, shortNodeID(e.ID), e.Area, n.Name)
	}
	if top, ok := ix.HitTest(x, y); ok {
		n, _ := doc.Node(top.ID)
		fmt.Fprintf(out, "Top: %s %s\n", top.Kind, n.Name)
	}
	return nil
}

func parsePoint(s string) (float64, float64, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("point %q: want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("point %q: %w", s, err)
	}
	return x, y, nil
}
