// Package sqlite implements [datastore.Store] on an on-disk SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/datastore"
)

//go:embed queries
var queries embed.FS

// LoadQuery loads the named query from [queries].
func loadQuery(name string) string {
	b, err := fs.ReadFile(queries, path.Join("queries", name+".sql"))
	if err != nil {
		panic("programmer error: bad query name: " + err.Error())
	}
	return string(b)
}

// TimeFormat is fixed-width so that stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

var (
	queryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nspmirror",
			Subsystem: "sqlite",
			Name:      "queries_total",
			Help:      "Total number of database queries issued, by query.",
		},
		[]string{"query"},
	)
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nspmirror",
			Subsystem: "sqlite",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries, by query.",
		},
		[]string{"query"},
	)
)

func observe(query string, start time.Time) {
	queryCounter.WithLabelValues(query).Inc()
	queryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// Store is a handle to a SQLite-backed store.
type Store struct {
	db *sql.DB
}

var _ datastore.Store = (*Store)(nil)

// Open opens (creating if needed) the named SQLite database.
//
// Must be a file on-disk. The returned Store must have its Close method
// called, or the process may panic.
func Open(ctx context.Context, f string) (*Store, error) {
	const op = `datastore/sqlite/Open`
	u := url.URL{
		Scheme: `file`,
		Opaque: f,
		RawQuery: url.Values{
			"_pragma": {
				"busy_timeout(5000)",
				"foreign_keys(1)",
				"journal_mode(WAL)",
			},
		}.Encode(),
	}
	db, err := sql.Open(`sqlite`, u.String())
	if err != nil {
		return nil, &nspmirror.Error{Op: op, Kind: nspmirror.ErrInvalid, Message: "unable to open database", Inner: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &nspmirror.Error{Op: op, Kind: nspmirror.ErrPrecondition, Message: "unable to open database", Inner: err}
	}
	if _, err := db.ExecContext(ctx, loadQuery("schema")); err != nil {
		db.Close()
		return nil, &nspmirror.Error{Op: op, Kind: nspmirror.ErrPrecondition, Message: "unable to create schema", Inner: err}
	}
	s := Store{db: db}
	_, file, line, _ := runtime.Caller(1)
	runtime.SetFinalizer(&s, func(s *Store) {
		panic(fmt.Sprintf("%s:%d: sqlite store not closed", file, line))
	})
	return &s, nil
}

// Close implements [datastore.Store].
func (s *Store) Close() error {
	runtime.SetFinalizer(s, nil)
	return s.db.Close()
}

// Session implements [datastore.Store].
func (s *Store) Session(ctx context.Context) (datastore.Session, error) {
	c, err := s.db.Conn(ctx)
	if err != nil {
		return nil, &nspmirror.Error{
			Op:      `datastore/sqlite/Store.Session`,
			Kind:    nspmirror.ErrTransient,
			Message: "unable to acquire connection",
			Inner:   err,
		}
	}
	return &session{conn: c}, nil
}

type session struct {
	conn *sql.Conn
}

// Upsert implements [datastore.Session].
func (s *session) Upsert(ctx context.Context, v *nspmirror.Vulnerability) (created bool, err error) {
	const op = `datastore/sqlite/Session.Upsert`
	args, err := encode(v)
	if err != nil {
		return false, &nspmirror.Error{Op: op, Kind: nspmirror.ErrInvalid, Message: v.Key(), Inner: err}
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, &nspmirror.Error{Op: op, Kind: nspmirror.ErrTransient, Message: "unable to begin transaction", Inner: err}
	}
	defer tx.Rollback()

	start := time.Now()
	var exists bool
	err = tx.QueryRowContext(ctx, loadQuery("exists"), string(v.Source), v.VulnID).Scan(&exists)
	observe("exists", start)
	if err != nil {
		return false, &nspmirror.Error{Op: op, Kind: nspmirror.ErrTransient, Message: v.Key(), Inner: err}
	}
	start = time.Now()
	_, err = tx.ExecContext(ctx, loadQuery("upsert"), args...)
	observe("upsert", start)
	if err != nil {
		return false, &nspmirror.Error{Op: op, Kind: nspmirror.ErrTransient, Message: v.Key(), Inner: err}
	}
	if err := tx.Commit(); err != nil {
		return false, &nspmirror.Error{Op: op, Kind: nspmirror.ErrTransient, Message: "unable to commit", Inner: err}
	}
	return !exists, nil
}

// Close implements [datastore.Session].
func (s *session) Close() error {
	err := s.conn.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

// Get implements [datastore.Store].
func (s *Store) Get(ctx context.Context, source nspmirror.Source, id string) (*nspmirror.Vulnerability, error) {
	defer observe("get", time.Now())
	var v nspmirror.Vulnerability
	var created, published, updated, cvss2, cvss3 sql.NullString
	var cves string
	err := s.db.QueryRowContext(ctx, loadQuery("get"), string(source), id).Scan(
		&v.Source, &v.VulnID, &v.Title, &v.SubTitle, &v.Description,
		&created, &published, &updated,
		&cvss2, &cvss3,
		&v.Credits, &v.Recommendation, &v.References,
		&v.VulnerableVersions, &v.PatchedVersions, &cves, &v.PackageURL,
	)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("sqlite: %s/%s: %w", source, id, datastore.ErrNotFound)
	default:
		return nil, fmt.Errorf("sqlite: get %s/%s: %w", source, id, err)
	}
	for _, t := range []struct {
		dst *time.Time
		src sql.NullString
	}{
		{&v.Created, created},
		{&v.Published, published},
		{&v.Updated, updated},
	} {
		if !t.src.Valid {
			continue
		}
		if *t.dst, err = time.Parse(timeFormat, t.src.String); err != nil {
			return nil, fmt.Errorf("sqlite: bad stored time: %w", err)
		}
	}
	if v.CVSSv2, err = decodeCVSS(cvss2); err != nil {
		return nil, err
	}
	if v.CVSSv3, err = decodeCVSS(cvss3); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cves), &v.CVEs); err != nil {
		return nil, fmt.Errorf("sqlite: bad stored CVE list: %w", err)
	}
	return &v, nil
}

// Count implements [datastore.Store].
func (s *Store) Count(ctx context.Context, source nspmirror.Source) (n int, err error) {
	defer observe("count", time.Now())
	if err := s.db.QueryRowContext(ctx, loadQuery("count"), string(source)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

// RecordRun implements [datastore.Store].
func (s *Store) RecordRun(ctx context.Context, r *datastore.Run) error {
	defer observe("recordrun", time.Now())
	var finished sql.NullString
	if !r.Finished.IsZero() {
		finished = sql.NullString{String: r.Finished.UTC().Format(timeFormat), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, loadQuery("recordrun"),
		r.Ref.String(), r.Started.UTC().Format(timeFormat), finished,
		r.State, r.Pages, r.Advisories, r.Error)
	if err != nil {
		return fmt.Errorf("sqlite: record run: %w", err)
	}
	return nil
}

// LatestRun implements [datastore.Store].
func (s *Store) LatestRun(ctx context.Context) (*datastore.Run, error) {
	defer observe("latestrun", time.Now())
	var r datastore.Run
	var ref, started string
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx, loadQuery("latestrun")).Scan(
		&ref, &started, &finished, &r.State, &r.Pages, &r.Advisories, &r.Error)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("sqlite: latest run: %w", err)
	}
	if r.Ref, err = uuid.Parse(ref); err != nil {
		return nil, fmt.Errorf("sqlite: bad stored run ref: %w", err)
	}
	if r.Started, err = time.Parse(timeFormat, started); err != nil {
		return nil, fmt.Errorf("sqlite: bad stored time: %w", err)
	}
	if finished.Valid {
		if r.Finished, err = time.Parse(timeFormat, finished.String); err != nil {
			return nil, fmt.Errorf("sqlite: bad stored time: %w", err)
		}
	}
	return &r, nil
}

// Encode returns the arguments for the upsert query, in column order.
func encode(v *nspmirror.Vulnerability) ([]any, error) {
	ts := func(t time.Time) sql.NullString {
		if t.IsZero() {
			return sql.NullString{}
		}
		return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
	}
	cvss2, err := encodeCVSS(v.CVSSv2)
	if err != nil {
		return nil, err
	}
	cvss3, err := encodeCVSS(v.CVSSv3)
	if err != nil {
		return nil, err
	}
	cves := v.CVEs
	if cves == nil {
		cves = []string{}
	}
	cb, err := json.Marshal(cves)
	if err != nil {
		return nil, err
	}
	return []any{
		string(v.Source), v.VulnID, v.Title, v.SubTitle, v.Description,
		ts(v.Created), ts(v.Published), ts(v.Updated),
		cvss2, cvss3, v.Severity(),
		v.Credits, v.Recommendation, v.References,
		v.VulnerableVersions, v.PatchedVersions, string(cb), v.PackageURL,
	}, nil
}

func encodeCVSS(c *nspmirror.CVSS) (sql.NullString, error) {
	if c == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeCVSS(s sql.NullString) (*nspmirror.CVSS, error) {
	if !s.Valid {
		return nil, nil
	}
	var c nspmirror.CVSS
	if err := json.Unmarshal([]byte(s.String), &c); err != nil {
		return nil, fmt.Errorf("sqlite: bad stored CVSS: %w", err)
	}
	return &c, nil
}
