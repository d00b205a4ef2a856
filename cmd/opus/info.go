package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"opusgraph/cas"
	"opusgraph/graph"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Print a document's structure",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	doc, data, err := loadDocument(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printInfo(cmd.OutOrStdout(), doc.Snapshot(), cas.Blake3HashHex(data))
	return nil
}

func printInfo(w io.Writer, v *graph.View, digest string) {
	fmt.Fprintf(w, "Composition: %s\n", v.Name())
	fmt.Fprintf(w, "ID:          %s\n", v.Root())
	fmt.Fprintf(w, "Digest:      %s\n", cas.ShortDigest(digest))
	fmt.Fprintf(w, "Resolution:  %d ticks per quarter\n", v.Time().TicksPerQuarter)

	if entries := v.Metadata().Entries(); len(entries) > 0 {
		fmt.Fprintln(w, "Metadata:")
		for _, m := range entries {
			fmt.Fprintf(w, "  %s = %s\n", m.Name, m.Value)
		}
	}

	channels := v.Channels()
	fmt.Fprintf(w, "Channels:    %d\n", len(channels))
	for _, ch := range channels {
		regions := v.Regions(ch.ID)
		fmt.Fprintf(w, "  %s %s %d regions\n", ch.Name, ch.Bounds, len(regions))
		for _, r := range regions {
			p, _ := r.Payload.(graph.Region)
			name := r.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(w, "    %s %s %s %s %s, %d notes\n",
				name, r.Bounds, p.TimeSignature, keyName(p.KeySignature), shortNodeID(r.ID), p.Notes.Len())
		}
	}
}

func keyName(ks graph.KeySignature) string {
	switch {
	case ks.Fifths > 0:
		return fmt.Sprintf("%d#-%s", ks.Fifths, ks.Mode())
	case ks.Fifths < 0:
		return fmt.Sprintf("%db-%s", -ks.Fifths, ks.Mode())
	default:
		return "0-" + ks.Mode()
	}
}

// shortNodeID returns the first block of a node id.
func shortNodeID(id graph.NodeID) string {
	return id.String()[:8]
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return cas.HashReader(f)
}
