// Package store records build runs and their raw transition counts.
//
// Bare paths and sqlite:// URLs open a pure-Go SQLite database; postgres://
// URLs go through lib/pq. Queries live in embedded .sql files loaded with
// dotsql and are rebound per driver by sqlx.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver.
	"github.com/qustavo/dotsql"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/keystate"
	"github.com/Floozutter/stowjar/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

//go:embed queries/*.sql
var queriesFS embed.FS

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound indicates an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

var migrations = []string{
	"create-runs-table",
	"create-run-streams-table",
	"create-run-transitions-table",
	"create-runs-finished-index",
}

// Store wraps SQL access for run history.
type Store struct {
	db  *sqlx.DB
	dot *dotsql.DotSql
}

// NewRunID returns a time-ordered UUIDv7 run identifier.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Open opens or creates the database named by dbURL and applies migrations.
func Open(dbURL string) (*Store, error) {
	driverName, dataSource, err := resolveURL(dbURL)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dataSource), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driverName == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	dot, err := loadQueries()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store := &Store{db: db, dot: dot}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// resolveURL maps a store URL to a driver name and data source.
func resolveURL(dbURL string) (string, string, error) {
	if dbURL == "" {
		return "", "", fmt.Errorf("database URL is empty")
	}
	if !strings.Contains(dbURL, "://") {
		return "sqlite", dbURL, nil
	}
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid database URL: %w", err)
	}
	switch u.Scheme {
	case "sqlite":
		// sqlite://file.db is relative, sqlite:///abs/file.db is absolute.
		if u.Host != "" {
			return "sqlite", u.Host + u.Path, nil
		}
		return "sqlite", u.Path, nil
	case "postgres", "postgresql":
		return "postgres", dbURL, nil
	default:
		return "", "", fmt.Errorf("unsupported database scheme: %s (expected sqlite or postgres)", u.Scheme)
	}
}

func loadQueries() (*dotsql.DotSql, error) {
	var combined strings.Builder
	err := fs.WalkDir(queriesFS, "queries", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".sql" {
			return nil
		}
		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		combined.Write(content)
		combined.WriteByte('\n')
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load query files: %w", err)
	}
	dot, err := dotsql.LoadFromString(combined.String())
	if err != nil {
		return nil, fmt.Errorf("failed to parse queries: %w", err)
	}
	return dot, nil
}

// query returns the named statement rebound for the active driver.
func (s *Store) query(name string) string {
	raw, err := s.dot.Raw(name)
	if err != nil {
		// Names are compile-time constants backed by the embedded files.
		panic(fmt.Sprintf("store: %v", err))
	}
	return s.db.Rebind(raw)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	for _, name := range migrations {
		if _, err := s.db.Exec(s.query(name)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

// InsertRun stores a run, its streams and the raw counts in one transaction.
func (s *Store) InsertRun(ctx context.Context, run model.RunSummary, streams []model.StreamSummary, c *chain.Counter) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, s.query("insert-run"),
		run.ID,
		run.StartedAt.UTC().Format(timeLayout),
		run.FinishedAt.UTC().Format(timeLayout),
		run.ChainPath,
		run.Format,
		run.SinkDuration,
		run.SinkWeight,
		run.Streams,
		run.Events,
		run.Transitions,
		run.States,
	); err != nil {
		return err
	}

	streamStmt, err := tx.PreparexContext(ctx, s.query("insert-run-stream"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := streamStmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for i, st := range streams {
		if _, err = streamStmt.ExecContext(ctx, run.ID, i, st.Path, st.Digest, st.Events, st.Transitions, st.Skipped); err != nil {
			return err
		}
	}

	edgeStmt, err := tx.PreparexContext(ctx, s.query("insert-run-transition"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := edgeStmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	for _, e := range c.Edges() {
		src, merr := encodeState(e.From)
		if merr != nil {
			return merr
		}
		dst, merr := encodeState(e.To)
		if merr != nil {
			return merr
		}
		if _, err = edgeStmt.ExecContext(ctx, run.ID, src, dst, e.Duration, e.Count); err != nil {
			return err
		}
	}

	return tx.Commit()
}

type runRow struct {
	ID           string `db:"id"`
	StartedAt    string `db:"started_at"`
	FinishedAt   string `db:"finished_at"`
	ChainPath    string `db:"chain_path"`
	Format       string `db:"format"`
	SinkDuration int64  `db:"sink_duration"`
	SinkWeight   int64  `db:"sink_weight"`
	Streams      int    `db:"streams"`
	Events       int    `db:"events"`
	Transitions  int    `db:"transitions"`
	States       int    `db:"states"`
}

func (r runRow) summary() (model.RunSummary, error) {
	started, err := time.Parse(timeLayout, r.StartedAt)
	if err != nil {
		return model.RunSummary{}, err
	}
	finished, err := time.Parse(timeLayout, r.FinishedAt)
	if err != nil {
		return model.RunSummary{}, err
	}
	return model.RunSummary{
		ID:           r.ID,
		StartedAt:    started,
		FinishedAt:   finished,
		ChainPath:    r.ChainPath,
		Format:       r.Format,
		SinkDuration: r.SinkDuration,
		SinkWeight:   r.SinkWeight,
		Streams:      r.Streams,
		Events:       r.Events,
		Transitions:  r.Transitions,
		States:       r.States,
	}, nil
}

// ListRuns returns up to limit runs, newest first. A limit below 1 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit < 1 {
		limit = math.MaxInt32
	}
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, s.query("list-runs"), limit); err != nil {
		return nil, err
	}
	runs := make([]model.RunSummary, 0, len(rows))
	for _, row := range rows {
		run, err := row.summary()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// GetRun returns a single run.
func (s *Store) GetRun(ctx context.Context, runID string) (model.RunSummary, error) {
	var row runRow
	if err := s.db.GetContext(ctx, &row, s.query("get-run"), runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunSummary{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return model.RunSummary{}, err
	}
	return row.summary()
}

// ListStreams returns the streams of a run in their original order.
func (s *Store) ListStreams(ctx context.Context, runID string) ([]model.StreamSummary, error) {
	var rows []struct {
		Path        string `db:"path"`
		Digest      string `db:"digest"`
		Events      int    `db:"events"`
		Transitions int    `db:"transitions"`
		Skipped     int    `db:"skipped"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.query("list-run-streams"), runID); err != nil {
		return nil, err
	}
	out := make([]model.StreamSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.StreamSummary{
			Path:        r.Path,
			Digest:      r.Digest,
			Events:      r.Events,
			Transitions: r.Transitions,
			Skipped:     r.Skipped,
		})
	}
	return out, nil
}

// LoadCounter rebuilds the raw counter recorded for a run.
func (s *Store) LoadCounter(ctx context.Context, runID string) (*chain.Counter, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	var rows []struct {
		Src      string `db:"src"`
		Dst      string `db:"dst"`
		Duration int64  `db:"duration"`
		Count    int64  `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.query("list-run-transitions"), runID); err != nil {
		return nil, err
	}
	c := chain.NewCounter()
	for _, r := range rows {
		src, err := decodeState(r.Src)
		if err != nil {
			return nil, err
		}
		dst, err := decodeState(r.Dst)
		if err != nil {
			return nil, err
		}
		c.AddCount(src, dst, r.Duration, r.Count)
	}
	return c, nil
}

func encodeState(s keystate.State) (string, error) {
	keys := s.Keys()
	if keys == nil {
		keys = []string{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeState(raw string) (keystate.State, error) {
	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return keystate.State{}, fmt.Errorf("invalid stored state %q: %w", raw, err)
	}
	return keystate.Of(keys...), nil
}
