package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// failingStore always errors, used to verify the gateway's best-effort
// shadow-write policy: a broken shadow must never surface to the caller.
type failingStore struct{}

func (failingStore) Bootstrap(context.Context, Collection) error        { return errors.New("shadow down") }
func (failingStore) Upsert(context.Context, Collection, []Point) error  { return errors.New("shadow down") }
func (failingStore) Delete(context.Context, Collection, []string) error { return errors.New("shadow down") }
func (failingStore) DeleteByFilter(context.Context, Collection, Filter) error {
	return errors.New("shadow down")
}
func (failingStore) Search(context.Context, Collection, []float32, int, Filter) ([]SearchHit, error) {
	return nil, errors.New("shadow down")
}
func (failingStore) Scroll(context.Context, Collection, Filter, int, string) ([]Point, string, error) {
	return nil, "", errors.New("shadow down")
}
func (failingStore) Count(context.Context, Collection, Filter) (int64, error) {
	return 0, errors.New("shadow down")
}
func (failingStore) Close() error { return nil }

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	authoritative, err := NewSQLiteStore(filepath.Join(t.TempDir(), "authoritative.db"))
	require.NoError(t, err)
	t.Cleanup(func() { authoritative.Close() })
	return NewGateway(authoritative, failingStore{})
}

func TestGateway_BrokenShadowDoesNotFailAuthoritativeWrite(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.Bootstrap(ctx, CollectionMessages))

	vec := make([]float32, EmbeddingDimension)
	err := gw.Upsert(ctx, CollectionMessages, []Point{{ID: "m1", Vector: vec}})
	require.NoError(t, err, "shadow write failure must never surface to the caller")

	count, err := gw.Count(ctx, CollectionMessages, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestGateway_AuthoritativeFailureSurfaces(t *testing.T) {
	gw := NewGateway(failingStore{}, nil)
	err := gw.Upsert(context.Background(), CollectionMessages, []Point{{ID: "m1"}})
	require.Error(t, err, "authoritative write failure must surface")
}

func TestGateway_NilShadowIsPassthrough(t *testing.T) {
	authoritative, err := NewSQLiteStore(filepath.Join(t.TempDir(), "authoritative.db"))
	require.NoError(t, err)
	t.Cleanup(func() { authoritative.Close() })

	gw := NewGateway(authoritative, nil)
	ctx := context.Background()
	require.NoError(t, gw.Bootstrap(ctx, CollectionUsers))
	require.NoError(t, gw.Upsert(ctx, CollectionUsers, []Point{{ID: "u1", Vector: make([]float32, EmbeddingDimension)}}))
}
