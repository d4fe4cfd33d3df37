package mirror

import (
	"errors"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/test"
	mock_datastore "github.com/quay/nspmirror/test/mock/datastore"
)

func records(ids ...string) []*nspmirror.Vulnerability {
	vs := make([]*nspmirror.Vulnerability, len(ids))
	for i, id := range ids {
		vs[i] = &nspmirror.Vulnerability{Source: nspmirror.SourceNSP, VulnID: id}
	}
	return vs
}

func TestSync(t *testing.T) {
	ctx := test.Logging(t)
	ctl := gomock.NewController(t)
	store := mock_datastore.NewMockStore(ctl)
	sess := mock_datastore.NewMockSession(ctl)
	vs := records("1", "2", "3")

	store.EXPECT().Session(gomock.Any()).Return(sess, nil)
	gomock.InOrder(
		sess.EXPECT().Upsert(gomock.Any(), vs[0]).Return(true, nil),
		sess.EXPECT().Upsert(gomock.Any(), vs[1]).Return(false, nil),
		sess.EXPECT().Upsert(gomock.Any(), vs[2]).Return(true, nil),
		sess.EXPECT().Close().Return(nil),
	)

	st, err := NewSynchronizer(store).Sync(ctx, vs)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := st, (SyncStats{Created: 2, Updated: 1}); got != want {
		t.Errorf("got: %+v, want: %+v", got, want)
	}
}

func TestSyncEmpty(t *testing.T) {
	ctx := test.Logging(t)
	ctl := gomock.NewController(t)
	store := mock_datastore.NewMockStore(ctl)
	sess := mock_datastore.NewMockSession(ctl)

	store.EXPECT().Session(gomock.Any()).Return(sess, nil)
	sess.EXPECT().Close().Return(nil)

	st, err := NewSynchronizer(store).Sync(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st != (SyncStats{}) {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestSyncReleasesOnError(t *testing.T) {
	ctx := test.Logging(t)
	ctl := gomock.NewController(t)
	store := mock_datastore.NewMockStore(ctl)
	sess := mock_datastore.NewMockSession(ctl)
	vs := records("1", "2", "3")
	boom := errors.New("boom")

	store.EXPECT().Session(gomock.Any()).Return(sess, nil)
	gomock.InOrder(
		sess.EXPECT().Upsert(gomock.Any(), vs[0]).Return(true, nil),
		sess.EXPECT().Upsert(gomock.Any(), vs[1]).Return(false, boom),
		sess.EXPECT().Close().Return(nil),
	)

	st, err := NewSynchronizer(store).Sync(ctx, vs)
	if !errors.Is(err, boom) {
		t.Errorf("unexpected error: %v", err)
	}
	if got, want := st.Created, 1; got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
}

func TestSyncSessionError(t *testing.T) {
	ctx := test.Logging(t)
	ctl := gomock.NewController(t)
	store := mock_datastore.NewMockStore(ctl)
	boom := errors.New("no connections")

	store.EXPECT().Session(gomock.Any()).Return(nil, boom)

	if _, err := NewSynchronizer(store).Sync(ctx, records("1")); !errors.Is(err, boom) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSyncCloseError(t *testing.T) {
	ctx := test.Logging(t)
	ctl := gomock.NewController(t)
	store := mock_datastore.NewMockStore(ctl)
	sess := mock_datastore.NewMockSession(ctl)
	boom := errors.New("release failed")

	store.EXPECT().Session(gomock.Any()).Return(sess, nil)
	sess.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(true, nil)
	sess.EXPECT().Close().Return(boom)

	if _, err := NewSynchronizer(store).Sync(ctx, records("1")); !errors.Is(err, boom) {
		t.Errorf("unexpected error: %v", err)
	}
}
