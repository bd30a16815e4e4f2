package userstore_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prilive-com/ezsticker/internal/persist"
	"github.com/prilive-com/ezsticker/internal/userstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counter(t *testing.T, s userstore.Store, name string) int64 {
	t.Helper()
	v, err := s.Counters().Get(context.Background(), name)
	require.NoError(t, err)
	return v
}

func TestMemoryStore_GetOrCreateDefaults(t *testing.T) {
	s := userstore.NewMemoryStore(testLogger())
	rec, err := s.GetOrCreate(context.Background(), "1", "")
	require.NoError(t, err)

	assert.Equal(t, "en", rec.Lang)
	assert.True(t, rec.OptIn)
	assert.Zero(t, rec.Uses)
	assert.False(t, rec.IconWarned)
	assert.Equal(t, userstore.SchemaVersion, rec.SchemaVersion)
	assert.Zero(t, counter(t, s, userstore.CounterLangsAutoSet))
}

func TestMemoryStore_HintOnlyAppliesOnCreate(t *testing.T) {
	ctx := context.Background()
	s := userstore.NewMemoryStore(testLogger())

	rec, err := s.GetOrCreate(ctx, "1", "de")
	require.NoError(t, err)
	assert.Equal(t, "de", rec.Lang)
	assert.Equal(t, int64(1), counter(t, s, userstore.CounterLangsAutoSet))

	rec, err = s.GetOrCreate(ctx, "1", "fr")
	require.NoError(t, err)
	assert.Equal(t, "de", rec.Lang)
	assert.Equal(t, int64(1), counter(t, s, userstore.CounterLangsAutoSet))
}

func TestMemoryStore_ConcurrentFirstContactCreatesOnce(t *testing.T) {
	ctx := context.Background()
	s := userstore.NewMemoryStore(testLogger())

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetOrCreate(ctx, "7", "es")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(1), counter(t, s, userstore.CounterLangsAutoSet))
}

func TestMemoryStore_ConcurrentIncrementUsage(t *testing.T) {
	ctx := context.Background()
	s := userstore.NewMemoryStore(testLogger())
	_, err := s.GetOrCreate(ctx, "1", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementUsage(ctx, "1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, ok, err := s.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), rec.Uses)
	assert.Equal(t, int64(100), counter(t, s, userstore.CounterUses))
}

func TestMemoryStore_UnknownUser(t *testing.T) {
	ctx := context.Background()
	s := userstore.NewMemoryStore(testLogger())

	_, ok, err := s.Get(ctx, "404")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.IncrementUsage(ctx, "404")
	assert.ErrorIs(t, err, userstore.ErrNotFound)
	_, err = userstore.SetOptIn(ctx, s, "404", false)
	assert.ErrorIs(t, err, userstore.ErrNotFound)
	_, _, err = s.AddToPack(ctx, "404", "file")
	assert.ErrorIs(t, err, userstore.ErrNotFound)
}

func TestMemoryStore_UpdateTouchesOnlyPreferences(t *testing.T) {
	ctx := context.Background()
	s := userstore.NewMemoryStore(testLogger())
	_, err := s.GetOrCreate(ctx, "1", "")
	require.NoError(t, err)
	_, err = s.IncrementUsage(ctx, "1")
	require.NoError(t, err)

	rec, err := s.Update(ctx, "1", func(r *userstore.Record) {
		r.Uses = 999
		r.OptIn = false
	})
	require.NoError(t, err)
	assert.False(t, rec.OptIn)
	assert.Equal(t, int64(1), rec.Uses)
}

func TestSetLang_ClearsIconWarned(t *testing.T) {
	ctx := context.Background()
	s := userstore.NewMemoryStore(testLogger())
	_, err := s.GetOrCreate(ctx, "1", "")
	require.NoError(t, err)

	rec, err := userstore.SetIconWarned(ctx, s, "1")
	require.NoError(t, err)
	assert.True(t, rec.IconWarned)

	rec, err = userstore.SetLang(ctx, s, "1", "ru")
	require.NoError(t, err)
	assert.Equal(t, "ru", rec.Lang)
	assert.False(t, rec.IconWarned)
}

func TestMemoryStore_AddToPack(t *testing.T) {
	ctx := context.Background()
	s := userstore.NewMemoryStore(testLogger())
	_, err := s.GetOrCreate(ctx, "1", "")
	require.NoError(t, err)

	_, added, err := s.AddToPack(ctx, "1", "file-a")
	require.NoError(t, err)
	assert.True(t, added)

	rec, added, err := s.AddToPack(ctx, "1", "file-a")
	require.NoError(t, err)
	assert.False(t, added)
	require.Len(t, rec.Pack, 1)
	assert.Equal(t, 2, rec.Pack[0].UseCount)

	rec, added, err = s.AddToPack(ctx, "1", "file-b")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, rec.Pack, 2)
	assert.Equal(t, int64(2), counter(t, s, userstore.CounterPersonalStickersAdded))
}

func TestMemoryStore_ReturnedRecordIsACopy(t *testing.T) {
	ctx := context.Background()
	s := userstore.NewMemoryStore(testLogger())
	_, err := s.GetOrCreate(ctx, "1", "")
	require.NoError(t, err)
	rec, _, err := s.AddToPack(ctx, "1", "file-a")
	require.NoError(t, err)

	rec.Pack[0].AssetRef = "changed"
	rec.Lang = "xx"

	got, _, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "en", got.Lang)
	assert.Equal(t, "file-a", got.Pack[0].AssetRef)
}

func TestMemoryStore_UsersSorted(t *testing.T) {
	ctx := context.Background()
	s := userstore.NewMemoryStore(testLogger())
	for _, id := range []string{"30", "10", "20"} {
		_, err := s.GetOrCreate(ctx, id, "")
		require.NoError(t, err)
	}

	users, err := s.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "10", users[0].ID)
	assert.Equal(t, "30", users[2].ID)
}

func TestMemoryStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	compressor, err := persist.NewZstdCompressor()
	require.NoError(t, err)
	fm := persist.NewFileManager(filepath.Join(t.TempDir(), "users.json.zst"), compressor, testLogger())

	s := userstore.NewMemoryStore(testLogger())
	_, err = s.GetOrCreate(ctx, "1", "it")
	require.NoError(t, err)
	_, err = s.IncrementUsage(ctx, "1")
	require.NoError(t, err)
	require.NoError(t, s.Save(fm))

	restored := userstore.NewMemoryStore(testLogger())
	require.NoError(t, restored.Load(fm))

	rec, ok, err := restored.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "it", rec.Lang)
	assert.Equal(t, int64(1), rec.Uses)
	assert.Equal(t, int64(1), counter(t, restored, userstore.CounterUses))
	assert.Equal(t, int64(1), counter(t, restored, userstore.CounterLangsAutoSet))
}

func TestMemoryStore_LoadMissingFile(t *testing.T) {
	compressor, err := persist.NewZstdCompressor()
	require.NoError(t, err)
	fm := persist.NewFileManager(filepath.Join(t.TempDir(), "none.zst"), compressor, testLogger())

	s := userstore.NewMemoryStore(testLogger())
	require.NoError(t, s.Load(fm))
	assert.Zero(t, s.Len())
}

func TestMemoryStore_LoadLegacyUsersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	legacy := `{"12":{"lang":"pt","opt_in":false,"uses":4},"13":{"uses":1}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	compressor, err := persist.NewZstdCompressor()
	require.NoError(t, err)
	s := userstore.NewMemoryStore(testLogger())
	require.NoError(t, s.Load(persist.NewFileManager(path, compressor, testLogger())))

	ctx := context.Background()
	rec, ok, err := s.Get(ctx, "12")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pt", rec.Lang)
	assert.False(t, rec.OptIn)
	assert.Equal(t, int64(4), rec.Uses)
	assert.Equal(t, userstore.SchemaVersion, rec.SchemaVersion)

	rec, _, err = s.Get(ctx, "13")
	require.NoError(t, err)
	assert.Equal(t, "en", rec.Lang)
	assert.True(t, rec.OptIn, "missing opt_in defaults to true")
}

func TestFillDefaults(t *testing.T) {
	rec := userstore.FillDefaults(userstore.Record{Uses: -3})
	assert.Equal(t, "en", rec.Lang)
	assert.Zero(t, rec.Uses)
	assert.Equal(t, userstore.SchemaVersion, rec.SchemaVersion)
}

func TestSessions_IconMode(t *testing.T) {
	var s userstore.Sessions
	assert.False(t, s.IconMode("1"))
	s.SetIconMode("1", true)
	assert.True(t, s.IconMode("1"))
	s.SetIconMode("1", false)
	assert.False(t, s.IconMode("1"))
}
