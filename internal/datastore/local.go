package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vk/pipecrate/internal/ctxlog"
)

// Local is a data store rooted at a mounted directory, the layout the
// generated container sees under --dataset. Plain relative paths under
// the root are valid references; stored outputs live under objects/ and
// are tracked in a sqlite index so overwrites keep a stable location.
type Local struct {
	root string
	db   *sql.DB
}

// OpenLocal opens (or initializes) a local store rooted at dir.
func OpenLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("initializing data store: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, ".pipecrate-index.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open store index: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping store index: %w", err)
	}

	store := &Local{root: dir, db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Local) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS objects (
		ref        TEXT PRIMARY KEY,
		id         TEXT NOT NULL,
		path       TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate store index: %w", err)
	}
	return nil
}

// Close releases the index handle.
func (s *Local) Close() error {
	return s.db.Close()
}

// Fetch resolves a reference to a local path. Indexed objects win;
// otherwise a reference naming an existing path under the root is
// registered and returned as-is.
func (s *Local) Fetch(ctx context.Context, ref string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	var path string
	err := s.db.QueryRowContext(ctx, `SELECT path FROM objects WHERE ref = ?`, ref).Scan(&path)
	switch {
	case err == nil:
		logger.Debug("Reference resolved from index.", "ref", ref, "path", path)
		return path, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("querying store index for %q: %w", ref, err)
	}

	candidate := filepath.Join(s.root, filepath.FromSlash(ref))
	if _, statErr := os.Stat(candidate); statErr != nil {
		return "", &NotFoundError{Ref: ref}
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (ref, id, path) VALUES (?, ?, ?)
		 ON CONFLICT(ref) DO UPDATE SET updated_at = ?`,
		ref, uuid.NewString(), candidate, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("indexing %q: %w", ref, err)
	}
	logger.Debug("Reference resolved from dataset root.", "ref", ref, "path", candidate)
	return candidate, nil
}

// Put copies localPath into the store under ref. An existing reference
// keeps its stored location and is overwritten in place.
func (s *Local) Put(ctx context.Context, localPath, ref string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	var dest string
	err := s.db.QueryRowContext(ctx, `SELECT path FROM objects WHERE ref = ?`, ref).Scan(&dest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		dest = filepath.Join(s.root, "objects", uuid.NewString(), filepath.Base(localPath))
	case err != nil:
		return "", fmt.Errorf("querying store index for %q: %w", ref, err)
	}

	if err := copyAny(localPath, dest); err != nil {
		return "", fmt.Errorf("storing %q: %w", ref, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO objects (ref, id, path) VALUES (?, ?, ?)
		 ON CONFLICT(ref) DO UPDATE SET path = excluded.path, updated_at = ?`,
		ref, uuid.NewString(), dest, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("indexing %q: %w", ref, err)
	}

	logger.Debug("Object stored.", "ref", ref, "path", dest)
	return ref, nil
}

func copyAny(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(src, dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return copyFile(src, dest, info.Mode().Perm())
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
