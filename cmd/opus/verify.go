package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"opusgraph/cas"
	"opusgraph/codec"
)

var (
	verifyDiff   bool
	verifyStrict bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <glob>...",
	Short: "Check that documents survive a parse and serialize cycle",
	Long: `Parses every matching document, serializes it with the writer for the
version it declares, parses that output and serializes again. A document
passes when both serializations are byte-identical and the reparsed
document equals the first one.

A document whose file content differs from its canonical serialization is
reported as non-canonical. With --strict that counts as a failure; with
--diff the difference is printed.

Patterns support ** (e.g. "songs/**/*.xml").`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyDiff, "diff", false, "Show a diff for non-canonical documents")
	verifyCmd.Flags().BoolVar(&verifyStrict, "strict", false, "Fail documents that are not in canonical form")
}

type verifyResult struct {
	path      string
	digest    string
	canonical bool
	diff      string
	err       error
}

func runVerify(cmd *cobra.Command, args []string) error {
	paths, err := expandGlobs(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no documents match %v", args)
	}

	results := make([]verifyResult, len(paths))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(cfg.Verify.Workers)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = verifyFile(ctx, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := reportVerify(cmd.OutOrStdout(), results)
	logger.Debug("verify finished", "documents", len(results), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed verification", failed, len(results))
	}
	return nil
}

// expandGlobs resolves patterns to a sorted, duplicate-free file list.
// Arguments without glob syntax are taken literally so missing files are
// reported instead of silently matching nothing.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		if !doublestar.ValidatePathPattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", pattern, err)
		}
		if len(matches) == 0 && !hasMeta(pattern) {
			matches = []string{pattern}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func verifyFile(ctx context.Context, path string) verifyResult {
	res := verifyResult{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		res.err = err
		return res
	}
	res.digest = cas.Blake3HashHex(data)

	doc, schema, err := parseBytes(ctx, path, data)
	if err != nil {
		res.err = err
		return res
	}
	version, ok := registry.VersionOf(schema)
	if !ok {
		res.err = &codec.UnsupportedFormatError{Schema: schema}
		return res
	}
	s, err := registry.CreateSerializerFor(version, codec.WithCompression(codec.IsCompressed(data)))
	if err != nil {
		res.err = err
		return res
	}

	first, err := s.Bytes(doc.Snapshot())
	if err != nil {
		res.err = err
		return res
	}
	again, _, err := parseBytes(ctx, path+" (reparsed)", first)
	if err != nil {
		res.err = fmt.Errorf("reparsing serialized output: %w", err)
		return res
	}
	if !again.Snapshot().Equal(doc.Snapshot()) {
		res.err = errors.New("reparsed document differs from the original")
		return res
	}
	second, err := s.Bytes(again.Snapshot())
	if err != nil {
		res.err = err
		return res
	}
	if !bytes.Equal(first, second) {
		res.err = errors.New("serialization is not stable across a round trip")
		res.diff = unifiedDiff("first", "second", string(first), string(second))
		return res
	}

	res.canonical = bytes.Equal(data, first)
	if !res.canonical {
		if verifyDiff && !codec.IsCompressed(data) {
			res.diff = unifiedDiff(path, "canonical", string(data), string(first))
		}
		if verifyStrict {
			res.err = errors.New("document is not in canonical form")
		}
	}
	return res
}

func reportVerify(w io.Writer, results []verifyResult) (failed int) {
	for _, r := range results {
		switch {
		case r.err != nil:
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", r.path, r.err)
		case r.canonical:
			fmt.Fprintf(w, "ok   %s %s\n", r.path, cas.ShortDigest(r.digest))
		default:
			fmt.Fprintf(w, "ok   %s %s (not canonical)\n", r.path, cas.ShortDigest(r.digest))
		}
		if r.diff != "" {
			fmt.Fprint(w, r.diff)
		}
	}
	return failed
}
