// Package archive keeps a history of serialized documents in SQLite.
// Contents are stored once per BLAKE3 digest, zstd compressed; each save
// under a name appends a numbered revision pointing at its content.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"opusgraph/cas"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

var (
	ErrNotFound        = errors.New("not found in archive")
	ErrAmbiguousPrefix = errors.New("ambiguous digest prefix")
	ErrCorrupt         = errors.New("archived content does not match its digest")
	ErrInvalidName     = errors.New("invalid revision name")
)

// minPrefix is the shortest digest prefix Get resolves.
const minPrefix = 4

// Revision is one saved version of a named document.
type Revision struct {
	Name      string
	Seq       int64
	Digest    string
	Size      int64
	CreatedAt int64
}

// Archive is an open revision database. It is safe for concurrent use.
type Archive struct {
	conn *sql.DB
	path string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// Open opens or creates the archive at path, creating parent directories.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		conn.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Archive{conn: conn, path: path, enc: enc, dec: dec}, nil
}

// Path returns the database file location.
func (a *Archive) Path() string { return a.path }

// Close releases the database and codec resources.
func (a *Archive) Close() error {
	a.dec.Close()
	a.enc.Close()
	return a.conn.Close()
}

// Put records data as the next revision of name. Identical content is
// stored once.
func (a *Archive) Put(ctx context.Context, name string, data []byte) (Revision, error) {
	if strings.TrimSpace(name) == "" {
		return Revision{}, ErrInvalidName
	}
	rev := Revision{
		Name:      name,
		Digest:    cas.Blake3HashHex(data),
		Size:      int64(len(data)),
		CreatedAt: cas.NowMs(),
	}

	tx, err := a.conn.BeginTx(ctx, nil)
	if err != nil {
		return Revision{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO blobs (digest, size, data, created_at) VALUES (?, ?, ?, ?)`,
		rev.Digest, rev.Size, a.enc.EncodeAll(data, nil), rev.CreatedAt,
	)
	if err != nil {
		return Revision{}, fmt.Errorf("inserting blob: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM revisions WHERE name = ?`, name,
	).Scan(&rev.Seq)
	if err != nil {
		return Revision{}, fmt.Errorf("allocating revision: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO revisions (name, seq, digest, created_at) VALUES (?, ?, ?, ?)`,
		rev.Name, rev.Seq, rev.Digest, rev.CreatedAt,
	)
	if err != nil {
		return Revision{}, fmt.Errorf("inserting revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Revision{}, fmt.Errorf("committing revision: %w", err)
	}
	return rev, nil
}

// Get returns the content with the given digest or unique digest prefix,
// verified against its digest.
func (a *Archive) Get(ctx context.Context, digest string) ([]byte, error) {
	digest = strings.ToLower(strings.TrimSpace(digest))
	if len(digest) < minPrefix {
		return nil, fmt.Errorf("digest prefix %q: need at least %d characters: %w", digest, minPrefix, ErrNotFound)
	}

	rows, err := a.conn.QueryContext(ctx,
		`SELECT digest, data FROM blobs WHERE digest >= ? AND digest < ? ORDER BY digest LIMIT 2`,
		digest, digest+"\x7f",
	)
	if err != nil {
		return nil, fmt.Errorf("querying blob: %w", err)
	}
	defer rows.Close()

	var (
		found      string
		compressed []byte
		matches    int
	)
	for rows.Next() {
		var d string
		var data []byte
		if err := rows.Scan(&d, &data); err != nil {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}
		matches++
		found, compressed = d, data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading blobs: %w", err)
	}
	switch matches {
	case 0:
		return nil, fmt.Errorf("blob %s: %w", digest, ErrNotFound)
	case 1:
	default:
		return nil, fmt.Errorf("blob %s: %w", digest, ErrAmbiguousPrefix)
	}

	data, err := a.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("blob %s: %w: %v", cas.ShortDigest(found), ErrCorrupt, err)
	}
	if cas.Blake3HashHex(data) != found {
		return nil, fmt.Errorf("blob %s: %w", cas.ShortDigest(found), ErrCorrupt)
	}
	return data, nil
}

// Revision returns revision seq of name.
func (a *Archive) Revision(ctx context.Context, name string, seq int64) (Revision, error) {
	rev := Revision{Name: name, Seq: seq}
	err := a.conn.QueryRowContext(ctx,
		`SELECT r.digest, b.size, r.created_at FROM revisions r JOIN blobs b ON b.digest = r.digest
		 WHERE r.name = ? AND r.seq = ?`,
		name, seq,
	).Scan(&rev.Digest, &rev.Size, &rev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, fmt.Errorf("revision %s@%d: %w", name, seq, ErrNotFound)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("querying revision: %w", err)
	}
	return rev, nil
}

// Latest returns the newest revision of name.
func (a *Archive) Latest(ctx context.Context, name string) (Revision, error) {
	revs, err := a.log(ctx, name, 1)
	if err != nil {
		return Revision{}, err
	}
	if len(revs) == 0 {
		return Revision{}, fmt.Errorf("revisions of %s: %w", name, ErrNotFound)
	}
	return revs[0], nil
}

// Log lists the revisions of name, newest first.
func (a *Archive) Log(ctx context.Context, name string) ([]Revision, error) {
	return a.log(ctx, name, -1)
}

func (a *Archive) log(ctx context.Context, name string, limit int) ([]Revision, error) {
	rows, err := a.conn.QueryContext(ctx,
		`SELECT r.seq, r.digest, b.size, r.created_at FROM revisions r JOIN blobs b ON b.digest = r.digest
		 WHERE r.name = ? ORDER BY r.seq DESC LIMIT ?`,
		name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		rev := Revision{Name: name}
		if err := rows.Scan(&rev.Seq, &rev.Digest, &rev.Size, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning revision: %w", err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

// Names lists every document name with at least one revision.
func (a *Archive) Names(ctx context.Context) ([]string, error) {
	rows, err := a.conn.QueryContext(ctx, `SELECT DISTINCT name FROM revisions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
