// Package datastore defines the persistence boundary for mirrored
// vulnerabilities.
//
// Implementations live in subpackages. Writes go through a [Session], which
// callers acquire before a batch of upserts and must release afterwards.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/quay/nspmirror"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("datastore: not found")

// Store is the interface mirror runs persist through.
type Store interface {
	// Session acquires a handle for writing. The returned Session must be
	// closed.
	Session(context.Context) (Session, error)
	// Get returns the record identified by the source and id, or an error
	// satisfying errors.Is(err, ErrNotFound).
	Get(ctx context.Context, source nspmirror.Source, id string) (*nspmirror.Vulnerability, error)
	// Count reports how many records exist for the source.
	Count(context.Context, nspmirror.Source) (int, error)
	// RecordRun stores the outcome of a mirror run.
	RecordRun(context.Context, *Run) error
	// LatestRun reports the most recently started run, or nil if there has
	// never been one.
	LatestRun(context.Context) (*Run, error)
	// Close releases held resources.
	Close() error
}

// Session is a scoped handle on a Store.
type Session interface {
	// Upsert inserts the record or replaces the stored record with the same
	// (Source, VulnID) identity. Each call is atomic on its own.
	//
	// The reported bool is true if the record did not previously exist.
	Upsert(context.Context, *nspmirror.Vulnerability) (created bool, err error)
	// Close releases the Session. It is safe to call more than once.
	Close() error
}

// Run describes one mirror run.
type Run struct {
	Ref        uuid.UUID `json:"ref"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	State      string    `json:"state"`
	Pages      int       `json:"pages"`
	Advisories int       `json:"advisories"`
	// Error is the failure reason, if any.
	Error string `json:"error,omitempty"`
}
