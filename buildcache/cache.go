// Package buildcache indexes built artifacts in SQLite so an unchanged
// design is loaded instead of rebuilt.
//
// Stored artifacts are copied to a directory named by their key next to
// the database, so a later build in the same build directory cannot change
// what an earlier key resolves to. Each entry also records the artifact's
// SHA-256 digest, checked on every Lookup.
package buildcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/wippyai/vlsim/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	key               TEXT PRIMARY KEY,
	module            TEXT NOT NULL,
	path              TEXT NOT NULL,
	verilator_version TEXT NOT NULL,
	target            TEXT NOT NULL,
	digest            TEXT NOT NULL,
	built_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_module ON artifacts(module);
`

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the buildcache package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the buildcache package's logger.
func SetLogger(l *zap.Logger) {
	logger = l
}

// Entry is one indexed artifact.
type Entry struct {
	Key              string
	Module           string
	Path             string
	VerilatorVersion string
	Target           string
	Digest           string
	BuiltAt          time.Time
}

const columns = `key, module, path, verilator_version, target, digest, built_at`

// Cache is an artifact index backed by one SQLite database.
type Cache struct {
	mu  sync.Mutex
	db  *sql.DB
	dir string
}

// Open opens or creates the index at path.
func Open(ctx context.Context, path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseBuild, errors.KindPrecondition, err, "create cache directory")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "open cache database")
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "initialize cache schema")
	}
	return &Cache{db: db, dir: filepath.Dir(path)}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the entry for key when it is recorded and its artifact
// still exists on disk with the recorded digest.
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var e Entry
	var builtAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM artifacts WHERE key = ?`, key).
		Scan(&e.Key, &e.Module, &e.Path, &e.VerilatorVersion, &e.Target, &e.Digest, &builtAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "query cache")
	}
	e.BuiltAt = time.Unix(builtAt, 0)

	digest, err := FileDigest(e.Path)
	if err != nil {
		Logger().Debug("cached artifact vanished", zap.String("path", e.Path), zap.Error(err))
		return nil, false, nil
	}
	if digest != e.Digest {
		Logger().Debug("cached artifact changed", zap.String("path", e.Path))
		return nil, false, nil
	}
	return &e, true, nil
}

// Record stores or replaces e. An empty Digest is computed from e.Path.
func (c *Cache) Record(ctx context.Context, e Entry) error {
	if e.Digest == "" {
		d, err := FileDigest(e.Path)
		if err != nil {
			return errors.New(errors.PhaseBuild, errors.KindPrecondition).
				Path(e.Path).
				Cause(err).
				Detail("hash artifact").
				Build()
		}
		e.Digest = d
	}
	if e.BuiltAt.IsZero() {
		e.BuiltAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, e.Module, e.Path, e.VerilatorVersion, e.Target, e.Digest, e.BuiltAt.Unix())
	if err != nil {
		return errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "record artifact")
	}
	return nil
}

// Store copies artifact to <cache dir>/artifacts/<key>/ and records e
// pointing at the copy. The returned entry carries the stored path and
// digest.
func (c *Cache) Store(ctx context.Context, e Entry, artifact string) (*Entry, error) {
	if e.Key == "" {
		return nil, errors.Precondition(errors.PhaseBuild, "cache entry without a key")
	}
	dir := filepath.Join(c.dir, "artifacts", e.Key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseBuild, errors.KindPrecondition, err, "create artifact directory")
	}
	dst := filepath.Join(dir, filepath.Base(artifact))
	digest, err := copyFile(dst, artifact)
	if err != nil {
		return nil, errors.New(errors.PhaseBuild, errors.KindPrecondition).
			Path(artifact).
			Cause(err).
			Detail("copy artifact into cache").
			Build()
	}
	e.Path, e.Digest = dst, digest
	if err := c.Record(ctx, e); err != nil {
		return nil, err
	}
	Logger().Debug("stored artifact", zap.String("key", e.Key), zap.String("path", dst))
	return &e, nil
}

// copyFile writes src to dst through a temporary file renamed into place
// and returns the content digest.
func copyFile(dst, src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".store-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), in); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FileDigest returns the hex SHA-256 of the file at path.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Entries lists every recorded artifact for module, newest first. An
// empty module lists all.
func (c *Cache) Entries(ctx context.Context, module string) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := `SELECT ` + columns + ` FROM artifacts`
	var args []any
	if module != "" {
		q += ` WHERE module = ?`
		args = append(args, module)
	}
	q += ` ORDER BY built_at DESC, key`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "list cache")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var builtAt int64
		if err := rows.Scan(&e.Key, &e.Module, &e.Path, &e.VerilatorVersion, &e.Target, &e.Digest, &builtAt); err != nil {
			return nil, errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "scan cache row")
		}
		e.BuiltAt = time.Unix(builtAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries whose artifact no longer exists and returns how
// many were removed.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	entries, err := c.Entries(ctx, "")
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, e := range entries {
		if _, err := os.Stat(e.Path); err == nil {
			continue
		}
		if _, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, e.Key); err != nil {
			return removed, errors.Wrap(errors.PhaseBuild, errors.KindInvalidData, err, "prune cache")
		}
		removed++
	}
	return removed, nil
}

// KeyInput is everything that influences a built artifact.
type KeyInput struct {
	Files            []string
	SearchPaths      []string
	Defines          []string
	ExtraArgs        []string
	TraceFormat      string
	TraceDepth       int
	Target           string
	JSON             []byte
	VerilatorVersion string
	GlueVersion      string
}

// Key hashes the design files' contents together with every build
// setting. Search paths contribute the contents of their .v/.sv files.
func Key(in KeyInput) (string, error) {
	h := sha256.New()
	field := func(name string, vals ...string) {
		io.WriteString(h, name)
		h.Write([]byte{0})
		for _, v := range vals {
			io.WriteString(h, v)
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}

	hashFile := func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrap(errors.PhaseBuild, errors.KindPrecondition, err, "hash design file")
		}
		defer f.Close()
		field("file", filepath.Base(path))
		_, err = io.Copy(h, f)
		return err
	}

	for _, path := range in.Files {
		if err := hashFile(path); err != nil {
			return "", err
		}
	}
	for _, dir := range in.SearchPaths {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.v"))
		sv, _ := filepath.Glob(filepath.Join(dir, "*.sv"))
		matches = append(matches, sv...)
		sort.Strings(matches)
		for _, path := range matches {
			if err := hashFile(path); err != nil {
				return "", err
			}
		}
	}

	field("defines", in.Defines...)
	field("extra", in.ExtraArgs...)
	field("trace", in.TraceFormat, strconv.Itoa(in.TraceDepth))
	field("target", in.Target)
	field("json", string(in.JSON))
	field("verilator", in.VerilatorVersion)
	field("glue", in.GlueVersion)
	return hex.EncodeToString(h.Sum(nil)), nil
}
