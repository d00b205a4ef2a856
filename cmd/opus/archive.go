package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opusgraph/archive"
	"opusgraph/cas"
)

var (
	archivePutName string
	checkoutSeq    int64
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Keep a history of document revisions",
}

var archivePutCmd = &cobra.Command{
	Use:   "put <file>",
	Short: "Record a document as the next revision of its name",
	Long: `Parses <file> to make sure it is a valid document, then stores its bytes
as the next revision. The name defaults to the file name without its
extension.`,
	Args: cobra.ExactArgs(1),
	RunE: runArchivePut,
}

var archiveLogCmd = &cobra.Command{
	Use:   "log [name]",
	Short: "List revisions of a document, or all archived names",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runArchiveLog,
}

var archiveCheckoutCmd = &cobra.Command{
	Use:   "checkout <name> <out>",
	Short: "Write a revision of a document to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runArchiveCheckout,
}

func init() {
	archivePutCmd.Flags().StringVar(&archivePutName, "name", "", "Revision name (default: file name)")
	archiveCheckoutCmd.Flags().Int64Var(&checkoutSeq, "seq", 0, "Revision number (default: latest)")

	archiveCmd.AddCommand(archivePutCmd)
	archiveCmd.AddCommand(archiveLogCmd)
	archiveCmd.AddCommand(archiveCheckoutCmd)
}

func openArchive() (*archive.Archive, error) {
	a, err := archive.Open(cfg.Archive.Path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", cfg.Archive.Path, err)
	}
	return a, nil
}

func runArchivePut(cmd *cobra.Command, args []string) error {
	path := args[0]
	_, data, err := loadDocument(cmd.Context(), path)
	if err != nil {
		return err
	}

	name := archivePutName
	if name == "" {
		base := filepath.Base(path)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	a, err := openArchive()
	if err != nil {
		return err
	}
	defer a.Close()

	rev, err := a.Put(cmd.Context(), name, data)
	if err != nil {
		return err
	}
	logger.Debug("revision stored", "name", rev.Name, "seq", rev.Seq, "digest", rev.Digest)
	fmt.Fprintf(cmd.OutOrStdout(), "%s@%d %s\n", rev.Name, rev.Seq, cas.ShortDigest(rev.Digest))
	return nil
}

func runArchiveLog(cmd *cobra.Command, args []string) error {
	a, err := openArchive()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		names, err := a.Names(cmd.Context())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}
		return nil
	}

	revs, err := a.Log(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(revs) == 0 {
		return fmt.Errorf("no revisions of %s", args[0])
	}
	for _, r := range revs {
		created := time.UnixMilli(r.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(out, "%4d  %s  %8d  %s\n", r.Seq, cas.ShortDigest(r.Digest), r.Size, created)
	}
	return nil
}

func runArchiveCheckout(cmd *cobra.Command, args []string) error {
	name, out := args[0], args[1]
	a, err := openArchive()
	if err != nil {
		return err
	}
	defer a.Close()

	var rev archive.Revision
	if checkoutSeq > 0 {
		rev, err = a.Revision(cmd.Context(), name, checkoutSeq)
	} else {
		rev, err = a.Latest(cmd.Context(), name)
	}
	if err != nil {
		return err
	}
	data, err := a.Get(cmd.Context(), rev.Digest)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(out, data); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Checked out %s@%d to %s\n", rev.Name, rev.Seq, out)
	return nil
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()
	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming to %s: %w", path, err)
	}
	success = true
	return nil
}
