package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/datastore"
	"github.com/quay/nspmirror/internal/telemetry"
)

// SyncStats counts the outcome of a [Synchronizer.Sync] call.
type SyncStats struct {
	Created int
	Updated int
}

// Synchronizer writes batches of records into a [datastore.Store].
type Synchronizer struct {
	store  datastore.Store
	tracer trace.Tracer
}

// NewSynchronizer returns a Synchronizer writing to s.
func NewSynchronizer(s datastore.Store) *Synchronizer {
	return &Synchronizer{store: s, tracer: defaultTracer()}
}

// Sync upserts every record, keyed on its (Source, VulnID) identity.
//
// A Session is held for the duration of the call and released on every
// return path. Each upsert is atomic on its own; records written before an
// error remain written.
func (s *Synchronizer) Sync(ctx context.Context, vs []*nspmirror.Vulnerability) (st SyncStats, err error) {
	ctx, span := s.tracer.Start(ctx, "Sync", trace.WithAttributes(
		attribute.Int("nspmirror.records", len(vs)),
	))
	defer func() {
		span.SetAttributes(
			attribute.Int("nspmirror.created", st.Created),
			attribute.Int("nspmirror.updated", st.Updated),
		)
		telemetry.HandleError(span, err)
		span.End()
	}()

	sess, err := s.store.Session(ctx)
	if err != nil {
		return st, fmt.Errorf("mirror: unable to acquire session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			slog.WarnContext(ctx, "unable to release session", "reason", cerr)
			if err == nil {
				err = fmt.Errorf("mirror: unable to release session: %w", cerr)
			}
		}
	}()

	for _, v := range vs {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		created, err := sess.Upsert(ctx, v)
		if err != nil {
			return st, fmt.Errorf("mirror: unable to store %s: %w", v.Key(), err)
		}
		if created {
			st.Created++
			syncCounter.WithLabelValues("created").Inc()
		} else {
			st.Updated++
			syncCounter.WithLabelValues("updated").Inc()
		}
	}
	slog.DebugContext(ctx, "synchronized records",
		"created", st.Created,
		"updated", st.Updated)
	return st, nil
}
