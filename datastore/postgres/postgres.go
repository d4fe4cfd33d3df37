// Package postgres implements [datastore.Store] on PostgreSQL.
//
// The write path builds its statements with goqu; fixed queries are embedded.
// A [pglock.Locker] over the same pool is available for coordinating mirror
// runs across processes.
package postgres

import (
	"context"
	_ "embed" // embed the schema
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/datastore"
	"github.com/quay/nspmirror/locksource/pglock"
)

//go:embed queries/schema.sql
var schema string

var (
	queryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nspmirror",
			Subsystem: "postgres",
			Name:      "queries_total",
			Help:      "Total number of database queries issued, by query.",
		},
		[]string{"query"},
	)
	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nspmirror",
			Subsystem: "postgres",
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries, by query.",
		},
		[]string{"query"},
	)
)

var tracer trace.Tracer = otel.Tracer("github.com/quay/nspmirror/datastore/postgres")

func observe(query string, start time.Time) {
	queryCounter.WithLabelValues(query).Inc()
	queryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

var psql = goqu.Dialect("postgres")

// Store is a PostgreSQL-backed [datastore.Store].
type Store struct {
	pool *pgxpool.Pool
}

var _ datastore.Store = (*Store)(nil)

// New creates the schema if needed and returns a Store using the pool.
//
// The Store takes ownership of the pool; closing the Store closes it.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, &nspmirror.Error{
			Op:      `datastore/postgres/New`,
			Kind:    nspmirror.ErrPrecondition,
			Message: "unable to create schema",
			Inner:   err,
		}
	}
	return &Store{pool: pool}, nil
}

// Open connects to the database described by dsn and returns a Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := Connect(ctx, dsn, "nspmirror")
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Locker returns a cross-process lock source sharing the Store's pool.
func (s *Store) Locker() *pglock.Locker {
	return pglock.New(s.pool)
}

// Close implements [datastore.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Session implements [datastore.Store].
func (s *Store) Session(ctx context.Context) (datastore.Session, error) {
	c, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, &nspmirror.Error{
			Op:      `datastore/postgres/Store.Session`,
			Kind:    nspmirror.ErrTransient,
			Message: "unable to acquire connection",
			Inner:   err,
		}
	}
	return &session{conn: c}, nil
}

type session struct {
	conn *pgxpool.Conn
}

// Upsert implements [datastore.Session].
func (s *session) Upsert(ctx context.Context, v *nspmirror.Vulnerability) (created bool, err error) {
	const op = `datastore/postgres/Session.Upsert`
	if s.conn == nil {
		return false, &nspmirror.Error{Op: op, Kind: nspmirror.ErrInternal, Message: "session closed"}
	}
	ctx, span := tracer.Start(ctx, "Upsert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("nspmirror.key", v.Key()),
	))
	defer span.End()

	q, args, err := upsertQuery(v)
	if err != nil {
		return false, &nspmirror.Error{Op: op, Kind: nspmirror.ErrInvalid, Message: v.Key(), Inner: err}
	}
	defer observe("upsert", time.Now())
	if err := s.conn.QueryRow(ctx, q, args...).Scan(&created); err != nil {
		span.RecordError(err)
		return false, &nspmirror.Error{Op: op, Kind: nspmirror.ErrTransient, Message: v.Key(), Inner: err}
	}
	return created, nil
}

// Close implements [datastore.Session].
func (s *session) Close() error {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
	return nil
}

// UpsertQuery builds the insert-or-update statement for a record.
//
// The returned statement reports whether the row was newly inserted: "xmax" is
// only zero for a tuple that wasn't produced by an update.
func upsertQuery(v *nspmirror.Vulnerability) (string, []any, error) {
	cvss2, err := encodeCVSS(v.CVSSv2)
	if err != nil {
		return "", nil, err
	}
	cvss3, err := encodeCVSS(v.CVSSv3)
	if err != nil {
		return "", nil, err
	}
	cves := v.CVEs
	if cves == nil {
		cves = []string{}
	}
	cb, err := json.Marshal(cves)
	if err != nil {
		return "", nil, err
	}
	row := goqu.Record{
		"source":              string(v.Source),
		"vuln_id":             v.VulnID,
		"title":               v.Title,
		"subtitle":            v.SubTitle,
		"description":         v.Description,
		"created":             nullTime(v.Created),
		"published":           nullTime(v.Published),
		"updated":             nullTime(v.Updated),
		"cvss_v2":             cvss2,
		"cvss_v3":             cvss3,
		"severity":            v.Severity().String(),
		"credits":             v.Credits,
		"recommendation":      v.Recommendation,
		"refs":                v.References,
		"vulnerable_versions": v.VulnerableVersions,
		"patched_versions":    v.PatchedVersions,
		"cves":                string(cb),
		"package_url":         v.PackageURL,
	}
	update := goqu.Record{}
	for k := range row {
		if k == "source" || k == "vuln_id" {
			continue
		}
		update[k] = goqu.L("EXCLUDED." + k)
	}
	return psql.Insert("vulnerability").
		Rows(row).
		OnConflict(goqu.DoUpdate("source, vuln_id", update)).
		Returning(goqu.L("(xmax = 0)")).
		Prepared(true).
		ToSQL()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func encodeCVSS(c *nspmirror.CVSS) (*string, error) {
	if c == nil {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// Get implements [datastore.Store].
func (s *Store) Get(ctx context.Context, source nspmirror.Source, id string) (*nspmirror.Vulnerability, error) {
	const query = `
SELECT
	source, vuln_id, title, subtitle, description,
	created, published, updated,
	cvss_v2, cvss_v3,
	credits, recommendation, refs,
	vulnerable_versions, patched_versions, cves, package_url
FROM vulnerability
WHERE source = $1 AND vuln_id = $2;`
	defer observe("get", time.Now())
	var v nspmirror.Vulnerability
	var src string
	var created, published, updated *time.Time
	var cvss2, cvss3, cves []byte
	err := s.pool.QueryRow(ctx, query, string(source), id).Scan(
		&src, &v.VulnID, &v.Title, &v.SubTitle, &v.Description,
		&created, &published, &updated,
		&cvss2, &cvss3,
		&v.Credits, &v.Recommendation, &v.References,
		&v.VulnerableVersions, &v.PatchedVersions, &cves, &v.PackageURL,
	)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("postgres: %s/%s: %w", source, id, datastore.ErrNotFound)
	default:
		return nil, fmt.Errorf("postgres: get %s/%s: %w", source, id, err)
	}
	v.Source = nspmirror.Source(src)
	for _, t := range []struct {
		dst *time.Time
		src *time.Time
	}{
		{&v.Created, created},
		{&v.Published, published},
		{&v.Updated, updated},
	} {
		if t.src != nil {
			*t.dst = t.src.UTC()
		}
	}
	if err := json.Unmarshal(cves, &v.CVEs); err != nil {
		return nil, fmt.Errorf("postgres: bad stored CVE list: %w", err)
	}
	if len(cvss2) != 0 {
		v.CVSSv2 = new(nspmirror.CVSS)
		if err := json.Unmarshal(cvss2, v.CVSSv2); err != nil {
			return nil, fmt.Errorf("postgres: bad stored CVSS: %w", err)
		}
	}
	if len(cvss3) != 0 {
		v.CVSSv3 = new(nspmirror.CVSS)
		if err := json.Unmarshal(cvss3, v.CVSSv3); err != nil {
			return nil, fmt.Errorf("postgres: bad stored CVSS: %w", err)
		}
	}
	return &v, nil
}

// Count implements [datastore.Store].
func (s *Store) Count(ctx context.Context, source nspmirror.Source) (n int, err error) {
	const query = `SELECT count(*) FROM vulnerability WHERE source = $1;`
	defer observe("count", time.Now())
	if err := s.pool.QueryRow(ctx, query, string(source)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// RecordRun implements [datastore.Store].
func (s *Store) RecordRun(ctx context.Context, r *datastore.Run) error {
	defer observe("recordrun", time.Now())
	q, args, err := psql.Insert("mirror_run").
		Rows(goqu.Record{
			"ref":        r.Ref.String(),
			"started":    r.Started.UTC(),
			"finished":   nullTime(r.Finished),
			"state":      r.State,
			"pages":      r.Pages,
			"advisories": r.Advisories,
			"error":      r.Error,
		}).
		OnConflict(goqu.DoUpdate("ref", goqu.Record{
			"finished":   goqu.L("EXCLUDED.finished"),
			"state":      goqu.L("EXCLUDED.state"),
			"pages":      goqu.L("EXCLUDED.pages"),
			"advisories": goqu.L("EXCLUDED.advisories"),
			"error":      goqu.L("EXCLUDED.error"),
		})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("postgres: record run: %w", err)
	}
	if _, err := s.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("postgres: record run: %w", err)
	}
	return nil
}

// LatestRun implements [datastore.Store].
func (s *Store) LatestRun(ctx context.Context) (*datastore.Run, error) {
	const query = `
SELECT ref, started, finished, state, pages, advisories, error
FROM mirror_run
ORDER BY started DESC
LIMIT 1;`
	defer observe("latestrun", time.Now())
	var r datastore.Run
	var finished *time.Time
	err := s.pool.QueryRow(ctx, query).Scan(
		&r.Ref, &r.Started, &finished, &r.State, &r.Pages, &r.Advisories, &r.Error)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("postgres: latest run: %w", err)
	}
	r.Started = r.Started.UTC()
	if finished != nil {
		r.Finished = finished.UTC()
	}
	return &r, nil
}
