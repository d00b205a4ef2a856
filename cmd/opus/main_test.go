package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"opusgraph/codec/scorexml"
	"opusgraph/graph"
	"opusgraph/notes"
)

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runOpus executes the CLI in-process and returns its standard output.
func runOpus(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeSong writes a small document in format 1.0 and returns its path.
func writeSong(t *testing.T, dir, name string) string {
	t.Helper()
	g := graph.New("Song", graph.WithMetadata(graph.NewMetadata(graph.MetadataEntry{Name: "composer", Value: "Anon"})))
	ch, err := g.AddChannel("Drums", graph.WithBounds(graph.Rect(0, 0, 1000, 100)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddRegion(ch, graph.Rect(0, 0, 1000, 10),
		graph.WithName("Intro"),
		graph.WithNotes(notes.MustNew(36, 0, 240), notes.MustNew(38, 240, 240)),
	); err != nil {
		t.Fatal(err)
	}

	reg, err := scorexml.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	s, err := reg.CreateSerializerFor(scorexml.V1_0)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := s.SerializeAtomically(path, "", g.Snapshot()); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "opus" {
		t.Errorf("expected Use 'opus', got %q", rootCmd.Use)
	}
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"archive", "convert", "formats", "index", "info", "verify"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing command %q in %v", want, names)
		}
	}
	if !archiveCmd.HasSubCommands() {
		t.Error("archive should have subcommands")
	}
}

func TestFormats(t *testing.T) {
	out, err := runOpus(t, "formats")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"{urn:opusgraph:score:1.0}composition", "{urn:opusgraph:score:1.1}composition", "1.1 (default)"} {
		if !strings.Contains(out, want) {
			t.Errorf("formats output missing %q:\n%s", want, out)
		}
	}
}

func TestConvertVerifyInfoIndex(t *testing.T) {
	dir := t.TempDir()
	in := writeSong(t, dir, "song.xml")
	converted := filepath.Join(dir, "song-1.1.xml.zst")

	out, err := runOpus(t, "convert", in, converted, "--compress")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !strings.Contains(out, "format 1.1") {
		t.Errorf("unexpected convert output %q", out)
	}

	out, err = runOpus(t, "verify", filepath.Join(dir, "*"))
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if strings.Count(out, "ok   ") != 2 || strings.Contains(out, "not canonical") {
		t.Errorf("unexpected verify output:\n%s", out)
	}

	out, err = runOpus(t, "info", converted)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	for _, want := range []string{"Composition: Song", "composer = Anon", "Drums", "Intro", "2 notes"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}

	out, err = runOpus(t, "index", in, "--at", "5,5")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	for _, want := range []string{"Entries: 3", "Top: Region Intro"} {
		if !strings.Contains(out, want) {
			t.Errorf("index output missing %q:\n%s", want, out)
		}
	}
}

func TestVerifyNonCanonical(t *testing.T) {
	dir := t.TempDir()
	path := writeSong(t, dir, "song.xml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	loose := strings.Replace(string(data), "  <timing", "<timing", 1)
	if err := os.WriteFile(path, []byte(loose), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runOpus(t, "verify", path, "--diff")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "(not canonical)") || !strings.Contains(out, "+  <timing") {
		t.Errorf("expected a non-canonical report with diff:\n%s", out)
	}

	if _, err := runOpus(t, "verify", "--strict", path); err == nil {
		t.Error("--strict should fail a non-canonical document")
	}
}

func TestVerifyFailures(t *testing.T) {
	dir := t.TempDir()
	good := writeSong(t, dir, "a/good.xml")
	bad := filepath.Join(dir, "a", "bad.xml")
	if err := os.WriteFile(bad, []byte("<composition xmlns=\"urn:elsewhere\"/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runOpus(t, "verify", filepath.Join(dir, "**", "*.xml"), good, filepath.Join(dir, "missing.xml"))
	if err == nil || !strings.Contains(err.Error(), "2 of 3") {
		t.Errorf("expected 2 of 3 failures, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "FAIL "+bad) || !strings.Contains(out, "unsupported format") {
		t.Errorf("bad document not reported:\n%s", out)
	}

	if _, err := runOpus(t, "verify", filepath.Join(dir, "*.none")); err == nil {
		t.Error("expected an error when nothing matches")
	}
}

func TestArchiveCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPUS_ARCHIVE", filepath.Join(dir, "store", "archive.db"))
	path := writeSong(t, dir, "song.xml")
	first, _ := os.ReadFile(path)

	if out, err := runOpus(t, "archive", "put", path); err != nil || !strings.HasPrefix(out, "song@1 ") {
		t.Fatalf("first put: %q, %v", out, err)
	}
	if _, err := runOpus(t, "convert", path, path, "--format-version", "1.1"); err != nil {
		t.Fatal(err)
	}
	if out, err := runOpus(t, "archive", "put", path); err != nil || !strings.HasPrefix(out, "song@2 ") {
		t.Fatalf("second put: %q, %v", out, err)
	}

	out, err := runOpus(t, "archive", "log", "song")
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 2 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "2 ") {
		t.Errorf("unexpected log:\n%s", out)
	}

	restored := filepath.Join(dir, "restored.xml")
	if _, err := runOpus(t, "archive", "checkout", "song", restored, "--seq", "1"); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(restored)
	if !bytes.Equal(got, first) {
		t.Error("checked out revision differs from the original file")
	}

	if _, err := runOpus(t, "archive", "checkout", "nothing", restored); err == nil {
		t.Error("expected an error for an unknown name")
	}
}

func TestUnifiedDiff(t *testing.T) {
	if d := unifiedDiff("a", "b", "x\ny\n", "x\ny\n"); d != "" {
		t.Errorf("equal inputs produced a diff: %q", d)
	}
	before := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n"
	after := "1\n2\n3\n4\nfive\n6\n7\n8\n9\n10\n"
	want := "--- a\n+++ b\n@@ -2,7 +2,7 @@\n 2\n 3\n 4\n-5\n+five\n 6\n 7\n 8\n"
	if got := unifiedDiff("a", "b", before, after); got != want {
		t.Errorf("unexpected diff:\n%s\nwant:\n%s", got, want)
	}
}

func TestParsePoint(t *testing.T) {
	x, y, err := parsePoint(" 1.5, -2")
	if err != nil || x != 1.5 || y != -2 {
		t.Errorf("parsePoint = %v %v %v", x, y, err)
	}
	for _, bad := range []string{"1", "a,2", "1,b"} {
		if _, _, err := parsePoint(bad); err == nil {
			t.Errorf("parsePoint(%q) should fail", bad)
		}
	}
}
