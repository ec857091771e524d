package source_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willbryant/kitchen-sync/internal/applier"
	"github.com/willbryant/kitchen-sync/internal/driver"
	"github.com/willbryant/kitchen-sync/internal/driver/memdriver"
	"github.com/willbryant/kitchen-sync/internal/klog"
	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/source"
	"github.com/willbryant/kitchen-sync/internal/target"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

// A second, external test package (source_test) stands in for the cmd/
// entrypoint that will actually wire these two engines together: it can
// only reach source.Engine through its exported surface, the same as the
// real caller.

func newPair(t *testing.T, srcConn, tgtConn driver.Conn) (*target.Engine, chan error) {
	t.Helper()
	targetSide, sourceSide := net.Pipe()
	t.Cleanup(func() {
		targetSide.Close()
		sourceSide.Close()
	})

	tgt := target.New(wire.NewWriter(targetSide), wire.NewReader(targetSide), tgtConn, klog.Nop(), applier.CommitAtEnd, false)
	src := source.New(wire.NewWriter(sourceSide), wire.NewReader(sourceSide), srcConn, klog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- src.Serve(context.Background()) }()
	return tgt, errCh
}

func finish(t *testing.T, tgt *target.Engine, errCh chan error) {
	t.Helper()
	require.NoError(t, tgt.Quit())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("source.Engine.Serve did not return after QUIT")
	}
}

func TestHandshakeNegotiatesMatchingProtocolVersion(t *testing.T) {
	tgt, errCh := newPair(t, memdriver.NewConn(memdriver.NewStore()), memdriver.NewConn(memdriver.NewStore()))
	require.NoError(t, tgt.Handshake(context.Background()))
	finish(t, tgt, errCh)
}

func TestHashAlgorithmNegotiationEchoesRequestedName(t *testing.T) {
	tgt, errCh := newPair(t, memdriver.NewConn(memdriver.NewStore()), memdriver.NewConn(memdriver.NewStore()))
	require.NoError(t, tgt.SendHashAlgorithm(context.Background()))
	finish(t, tgt, errCh)
}

func TestTargetBlockSizeRoundTrips(t *testing.T) {
	tgt, errCh := newPair(t, memdriver.NewConn(memdriver.NewStore()), memdriver.NewConn(memdriver.NewStore()))
	require.NoError(t, tgt.SendTargetBlockSize(context.Background()))
	finish(t, tgt, errCh)
}

func TestSendTypesDoesNotDisruptTheCommandStream(t *testing.T) {
	tgt, errCh := newPair(t, memdriver.NewConn(memdriver.NewStore()), memdriver.NewConn(memdriver.NewStore()))
	require.NoError(t, tgt.SendTypes([]string{"int", "text", "uuid"}))
	// a later round trip on the same connection proves the source's
	// dispatch loop correctly resumed after the no-reply TYPES frame.
	require.NoError(t, tgt.Handshake(context.Background()))
	finish(t, tgt, errCh)
}

func TestSendFiltersBeforeSchemaDoesNotDisruptTheCommandStream(t *testing.T) {
	sourceStore := memdriver.NewStore()
	def := &schema.Table{
		Name:              "widgets",
		Columns:           []schema.Column{{Name: "id", Type: schema.ColumnTypeSignedInt}},
		PrimaryKeyColumns: []int{0},
		PrimaryKeyKind:    schema.PrimaryKeyExplicit,
	}
	sourceStore.CreateTable(def)

	tgt, errCh := newPair(t, memdriver.NewConn(sourceStore), memdriver.NewConn(memdriver.NewStore()))
	require.NoError(t, tgt.SendFilters(context.Background(), "widgets", driver.Filter{
		Where:             "active = 1",
		ColumnExpressions: map[string]string{"id": "id"},
	}))
	require.NoError(t, tgt.Handshake(context.Background()))
	finish(t, tgt, errCh)
}

func TestSnapshotChoreographyRoundTrips(t *testing.T) {
	sourceStore := memdriver.NewStore()
	def := &schema.Table{
		Name:              "widgets",
		Columns:           []schema.Column{{Name: "id", Type: schema.ColumnTypeSignedInt}},
		PrimaryKeyColumns: []int{0},
		PrimaryKeyKind:    schema.PrimaryKeyExplicit,
	}
	sourceStore.CreateTable(def)
	sourceStore.SetRows("widgets", []schema.Row{{wire.Int(1)}})

	tgt, errCh := newPair(t, memdriver.NewConn(sourceStore), memdriver.NewConn(memdriver.NewStore()))

	token, err := tgt.ExportSnapshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	require.NoError(t, tgt.ImportSnapshot(context.Background(), token))
	require.NoError(t, tgt.UnholdSnapshot(context.Background()))
	finish(t, tgt, errCh)
}

func TestWithoutSnapshotStartsAnOrdinaryReadTransaction(t *testing.T) {
	tgt, errCh := newPair(t, memdriver.NewConn(memdriver.NewStore()), memdriver.NewConn(memdriver.NewStore()))
	require.NoError(t, tgt.WithoutSnapshot(context.Background()))
	finish(t, tgt, errCh)
}
