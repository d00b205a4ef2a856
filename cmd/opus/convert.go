package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"opusgraph/cas"
)

var (
	convertVersion  string
	convertCompress bool
	convertTemp     string
)

var convertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Rewrite a document in another format version",
	Long: `Parses <in> and writes it to <out> with the selected serializer. The
output is written to a temporary file first and renamed into place, so
<out> is either replaced completely or left as it was.`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVar(&convertVersion, "format-version", "", "Format version to write (default: config, else newest)")
	convertCmd.Flags().BoolVar(&convertCompress, "compress", false, "Write a zstd compressed document")
	convertCmd.Flags().StringVar(&convertTemp, "temp", "", "Temporary file path (must be on the same filesystem as <out>)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]
	doc, _, err := loadDocument(cmd.Context(), in)
	if err != nil {
		return err
	}

	compress := cfg.Format.Compress
	if cmd.Flags().Changed("compress") {
		compress = convertCompress
	}
	s, err := newSerializer(convertVersion, compress)
	if err != nil {
		return err
	}
	if err := s.SerializeAtomically(out, convertTemp, doc.Snapshot()); err != nil {
		return err
	}

	digest, size, err := hashFile(out)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (format %s, %d bytes, %s)\n", out, s.Version(), size, cas.ShortDigest(digest))
	return nil
}
