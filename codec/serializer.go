package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"opusgraph/graph"
)

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithCompression wraps output in a single zstd frame. Compressed output is
// as deterministic as the plain form.
func WithCompression(on bool) SerializerOption {
	return func(s *Serializer) { s.compress = on }
}

// Serializer writes snapshots in one format version. It holds no per-call
// state and may be reused.
type Serializer struct {
	provider SerializerProvider
	compress bool
	logger   *slog.Logger
}

func (s *Serializer) Version() Version { return s.provider.Version() }
func (s *Serializer) Schema() Schema   { return s.provider.Schema() }
func (s *Serializer) Compressed() bool { return s.compress }

// Serialize writes v to w.
func (s *Serializer) Serialize(w io.Writer, v *graph.View) error {
	if !s.compress {
		if err := s.provider.NewWriter().Write(w, v); err != nil {
			return fmt.Errorf("serialize %s: %w", s.Version(), err)
		}
		return nil
	}
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderCRC(true),
	)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	if err := s.provider.NewWriter().Write(enc, v); err != nil {
		enc.Close()
		return fmt.Errorf("serialize %s: %w", s.Version(), err)
	}
	if err := enc.Close(); err != nil {
		return &IOError{Op: "compress", Err: err}
	}
	return nil
}

// Bytes returns the serialized form of v.
func (s *Serializer) Bytes(v *graph.View) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Serialize(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializeAtomically writes v to tmp, flushes it to stable storage and
// renames it over dest. tmp must be on the same filesystem as dest; when
// empty, a temporary file next to dest is used. On any failure dest keeps
// its previous content and the temporary file is removed.
func (s *Serializer) SerializeAtomically(dest, tmp string, v *graph.View) (err error) {
	dir := filepath.Dir(dest)
	var f *os.File
	if tmp == "" {
		f, err = os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	} else {
		if sameFile(tmp, dest) {
			return &IOError{Op: "create", Path: tmp, Err: ErrTempIsDestination}
		}
		f, err = os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return &IOError{Op: "create", Path: tmp, Err: err}
	}
	tmp = f.Name()

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := s.Serialize(bw, v); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return &IOError{Op: "write", Path: tmp, Err: err}
	}
	if info, err := os.Stat(dest); err == nil {
		if err := f.Chmod(info.Mode().Perm()); err != nil {
			return &IOError{Op: "chmod", Path: tmp, Err: err}
		}
	}
	if err := f.Sync(); err != nil {
		return &IOError{Op: "sync", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		return &IOError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return &IOError{Op: "rename", Path: dest, Err: err}
	}
	success = true
	syncDir(dir)

	s.logger.Debug("document written", "path", dest, "version", s.Version().String(), "compress", s.compress)
	return nil
}

// sameFile reports whether a and b name the same file, either by path or,
// when both exist, through a link.
func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	if absA, err := filepath.Abs(a); err == nil {
		if absB, err := filepath.Abs(b); err == nil && absA == absB {
			return true
		}
	}
	ia, err := os.Stat(a)
	if err != nil {
		return false
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
