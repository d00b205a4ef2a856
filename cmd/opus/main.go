// Package main provides the opus CLI: round-trip verification, format
// conversion, inspection, hit-testing and a revision archive for
// composition documents.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"opusgraph/codec"
	"opusgraph/codec/scorexml"
	"opusgraph/config"
	"opusgraph/graph"
)

// Version is the current opus CLI version
var Version = "0.3.0"

var (
	configPath string
	logLevel   string

	cfg      *config.Config
	logger   *slog.Logger
	registry *codec.Registry
)

var rootCmd = &cobra.Command{
	Use:   "opus",
	Short: "Opus - composition document tooling",
	Long: `Opus reads and writes composition documents: it verifies that files
survive a parse and serialize cycle unchanged, converts between format
versions, prints document structure, hit-tests the layout and keeps a
history of saved revisions.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the registered document formats",
	Args:  cobra.NoArgs,
	RunE:  runFormats,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(formatsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(archiveCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	l, err := c.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	reg, err := scorexml.NewRegistry()
	if err != nil {
		return err
	}
	reg.SetLogger(l)

	cfg, logger, registry = c, l, reg
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runFormats(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Parsers:")
	for _, s := range registry.Parsers() {
		fmt.Fprintf(out, "  %s\n", s)
	}
	fmt.Fprintln(out, "Serializers:")
	versions := registry.Serializers()
	for i, v := range versions {
		marker := ""
		if i == len(versions)-1 {
			marker = " (default)"
		}
		fmt.Fprintf(out, "  %s%s\n", v, marker)
	}
	return nil
}

// parseBytes parses an in-memory document and reports the schema it
// declared.
func parseBytes(ctx context.Context, source string, data []byte) (*graph.Graph, codec.Schema, error) {
	p := registry.NewParser(source, bytes.NewReader(data))
	g, err := p.Execute(ctx)
	return g, p.Schema(), err
}

// loadDocument reads and parses the file at path.
func loadDocument(ctx context.Context, path string) (*graph.Graph, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	g, _, err := parseBytes(ctx, path, data)
	if err != nil {
		return nil, nil, err
	}
	return g, data, nil
}

// newSerializer picks the serializer from flags, falling back to config.
// An empty version selects the configured one or else the newest.
func newSerializer(version string, compress bool) (*codec.Serializer, error) {
	opts := []codec.SerializerOption{codec.WithCompression(compress)}
	if version == "" {
		v, ok, err := cfg.FormatVersion()
		if err != nil {
			return nil, err
		}
		if !ok {
			return registry.CreateSerializer(opts...)
		}
		return registry.CreateSerializerFor(v, opts...)
	}
	v, err := codec.ParseVersion(version)
	if err != nil {
		return nil, err
	}
	return registry.CreateSerializerFor(v, opts...)
}
