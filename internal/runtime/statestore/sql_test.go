package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/ids"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, "cache", []sidecar.StateItem{
		{Key: "weapon", Value: "DeathStar"},
		{Key: "planet", Value: map[string]any{"name": "Tatooine"}},
	}))

	item, err := store.Get(ctx, "cache", "weapon")
	require.NoError(t, err)
	assert.True(t, item.Found())
	assert.JSONEq(t, `"DeathStar"`, string(item.Data))
	assert.NotEmpty(t, item.Etag)

	item, err = store.Get(ctx, "cache", "planet")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Tatooine"}`, string(item.Data))
}

func TestEtagCarriesSaveTime(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	before := time.Now().Truncate(time.Millisecond)
	require.NoError(t, store.Save(ctx, "cache", []sidecar.StateItem{{Key: "k", Value: 1}}))
	after := time.Now()

	first, err := store.Get(ctx, "cache", "k")
	require.NoError(t, err)
	savedAt, err := ids.Time(first.Etag)
	require.NoError(t, err)
	assert.False(t, savedAt.Before(before), "etag time %s before %s", savedAt, before)
	assert.False(t, savedAt.After(after), "etag time %s after %s", savedAt, after)

	require.NoError(t, store.Save(ctx, "cache", []sidecar.StateItem{{Key: "k", Value: 2}}))
	second, err := store.Get(ctx, "cache", "k")
	require.NoError(t, err)
	assert.Less(t, first.Etag, second.Etag)
}

func TestStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, "cache", []sidecar.StateItem{{Key: "k", Value: 1}}))

	item, err := store.Get(ctx, "primary", "k")
	require.NoError(t, err)
	assert.False(t, item.Found())
	assert.Equal(t, "k", item.Key)
}

func TestSaveChecksEtag(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, "cache", []sidecar.StateItem{{Key: "weapon", Value: "DeathStar"}}))
	first, err := store.Get(ctx, "cache", "weapon")
	require.NoError(t, err)

	err = store.Save(ctx, "cache", []sidecar.StateItem{{Key: "weapon", Value: "X-Wing", Etag: "1234"}})
	require.ErrorIs(t, err, errspkg.ErrEtagMismatch)

	require.NoError(t, store.Save(ctx, "cache", []sidecar.StateItem{{Key: "weapon", Value: "X-Wing", Etag: first.Etag}}))
	second, err := store.Get(ctx, "cache", "weapon")
	require.NoError(t, err)
	assert.JSONEq(t, `"X-Wing"`, string(second.Data))
	assert.NotEqual(t, first.Etag, second.Etag)
}

func TestSaveWithEtagInsertsMissingKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, "cache", []sidecar.StateItem{{Key: "weapon", Value: "DeathStar", Etag: "1234"}}))

	item, err := store.Get(ctx, "cache", "weapon")
	require.NoError(t, err)
	assert.True(t, item.Found())
}

func TestSaveIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.Save(ctx, "cache", []sidecar.StateItem{{Key: "a", Value: 1}, {Key: "", Value: 2}})
	require.Error(t, err)

	item, err := store.Get(ctx, "cache", "a")
	require.NoError(t, err)
	assert.False(t, item.Found())
}

func TestGetBulkAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, "cache", []sidecar.StateItem{{Key: "a", Value: 1}, {Key: "b", Value: 2}}))
	require.NoError(t, store.Delete(ctx, "cache", "a"))

	items, err := store.GetBulk(ctx, "cache", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.False(t, items[0].Found())
	assert.JSONEq(t, `2`, string(items[1].Data))
	assert.False(t, items[2].Found())
}

func TestTransact(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, "cache", []sidecar.StateItem{{Key: "old", Value: true}}))

	err := store.Transact(ctx, "cache", []sidecar.TransactionOperation{
		{Operation: sidecar.OperationUpsert, Request: sidecar.StateItem{Key: "new", Value: "v"}},
		{Operation: sidecar.OperationDelete, Request: sidecar.StateItem{Key: "old"}},
	})
	require.NoError(t, err)

	item, err := store.Get(ctx, "cache", "new")
	require.NoError(t, err)
	assert.True(t, item.Found())
	item, err = store.Get(ctx, "cache", "old")
	require.NoError(t, err)
	assert.False(t, item.Found())
}

func TestTransactRollsBackOnUnknownOperation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.Transact(ctx, "cache", []sidecar.TransactionOperation{
		{Operation: sidecar.OperationUpsert, Request: sidecar.StateItem{Key: "new", Value: "v"}},
		{Operation: "merge", Request: sidecar.StateItem{Key: "other"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation 1")

	item, err := store.Get(ctx, "cache", "new")
	require.NoError(t, err)
	assert.False(t, item.Found())
}

func seedPeople(t *testing.T, store *SQLStore) {
	t.Helper()
	people := []sidecar.StateItem{
		{Key: "1", Value: map[string]any{"person": map[string]any{"id": 1, "org": "Dev"}, "state": "CA"}},
		{Key: "2", Value: map[string]any{"person": map[string]any{"id": 2, "org": "Ops"}, "state": "WA"}},
		{Key: "3", Value: map[string]any{"person": map[string]any{"id": 3, "org": "Dev"}, "state": "CA"}},
		{Key: "4", Value: map[string]any{"person": map[string]any{"id": 4, "org": "Finance"}, "state": "CA"}},
	}
	require.NoError(t, store.Save(context.Background(), "primary", people))
}

func keys(items []sidecar.Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Key)
	}
	return out
}

func TestQueryFilterSortAndPage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedPeople(t, store)

	q := sidecar.Query{
		Filter: map[string]any{"EQ": map[string]any{"state": "CA"}},
		Sort:   []sidecar.SortKey{{Key: "person.id", Order: "DESC"}},
		Page:   sidecar.Page{Limit: 2},
	}
	resp, err := store.Query(ctx, "primary", q)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3"}, keys(resp.Results))
	assert.Equal(t, "2", resp.Token)

	q.Page.Token = resp.Token
	resp, err = store.Query(ctx, "primary", q)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, keys(resp.Results))
	assert.Empty(t, resp.Token)
}

func TestQueryCompoundFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedPeople(t, store)

	resp, err := store.Query(ctx, "primary", sidecar.Query{
		Filter: map[string]any{"OR": []any{
			map[string]any{"EQ": map[string]any{"person.org": "Ops"}},
			map[string]any{"AND": []any{
				map[string]any{"IN": map[string]any{"person.org": []any{"Dev", "Finance"}}},
				map[string]any{"EQ": map[string]any{"person.id": 1}},
			}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, keys(resp.Results))
}

func TestQueryRejectsUnknownOperator(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedPeople(t, store)

	_, err := store.Query(ctx, "primary", sidecar.Query{Filter: map[string]any{"LIKE": map[string]any{"state": "C%"}}})
	require.Error(t, err)

	_, err = store.Query(ctx, "primary", sidecar.Query{Page: sidecar.Page{Token: "nope"}})
	require.Error(t, err)
}

func TestRebindForPostgres(t *testing.T) {
	s := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	s.driver = DriverSQLite
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}
