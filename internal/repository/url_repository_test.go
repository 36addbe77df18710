package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashlink/shortener/internal/model"
	"github.com/flashlink/shortener/internal/testutil"
)

var (
	testDB    *testutil.TestDB
	testCache *testutil.TestCache
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testutil.SetupTestDB(ctx)
	if err != nil {
		panic("failed to setup test database: " + err.Error())
	}

	testCache, err = testutil.SetupTestCache(ctx)
	if err != nil {
		panic("failed to setup test cache: " + err.Error())
	}

	code := m.Run()

	testCache.Teardown(ctx)
	testDB.Teardown(ctx)
	os.Exit(code)
}

func newMapping(id int64, code string, expiresAt *time.Time) *model.URLMapping {
	return &model.URLMapping{
		ID:          id,
		ShortCode:   code,
		OriginalURL: "https://example.com/" + code,
		ExpiresAt:   expiresAt,
	}
}

func TestURLRepository_Create(t *testing.T) {
	repo := NewURLRepository(testDB.Pool)
	ctx := context.Background()

	t.Run("success - create mapping without expiry", func(t *testing.T) {
		testDB.Cleanup(ctx)

		m := newMapping(1, "abc123", nil)
		err := repo.Create(ctx, m)
		require.NoError(t, err)

		assert.False(t, m.CreatedAt.IsZero(), "RETURNING should populate created_at")
		assert.True(t, m.Active, "new mappings start active")

		var count int
		testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM url_mappings WHERE short_code = $1", "abc123").Scan(&count)
		assert.Equal(t, 1, count)
	})

	t.Run("success - create mapping with expiry", func(t *testing.T) {
		testDB.Cleanup(ctx)

		expiresAt := time.Now().AddDate(0, 0, 7)
		require.NoError(t, repo.Create(ctx, newMapping(2, "def456", &expiresAt)))

		got, err := repo.GetByCode(ctx, "def456")
		require.NoError(t, err)
		require.NotNil(t, got.ExpiresAt)
		assert.WithinDuration(t, expiresAt, *got.ExpiresAt, time.Second)
	})

	t.Run("duplicate short code returns ErrCodeConflict", func(t *testing.T) {
		testDB.Cleanup(ctx)

		require.NoError(t, repo.Create(ctx, newMapping(3, "dup111", nil)))
		err := repo.Create(ctx, newMapping(4, "dup111", nil))
		assert.ErrorIs(t, err, ErrCodeConflict)
	})
}

func TestURLRepository_GetByCode(t *testing.T) {
	repo := NewURLRepository(testDB.Pool)
	ctx := context.Background()

	t.Run("returns full row", func(t *testing.T) {
		testDB.Cleanup(ctx)

		require.NoError(t, repo.Create(ctx, newMapping(10, "get001", nil)))

		got, err := repo.GetByCode(ctx, "get001")
		require.NoError(t, err)
		assert.Equal(t, int64(10), got.ID)
		assert.Equal(t, "https://example.com/get001", got.OriginalURL)
		assert.Zero(t, got.RedirectCount)
		assert.Nil(t, got.LastRedirectAt)
		assert.True(t, got.Active)
	})

	t.Run("unknown code returns ErrNotFound", func(t *testing.T) {
		_, err := repo.GetByCode(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestURLRepository_Delete(t *testing.T) {
	repo := NewURLRepository(testDB.Pool)
	ctx := context.Background()

	testDB.Cleanup(ctx)
	require.NoError(t, repo.Create(ctx, newMapping(20, "del001", nil)))

	require.NoError(t, repo.Delete(ctx, "del001"))

	_, err := repo.GetByCode(ctx, "del001")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "del001"), ErrNotFound)
}

func TestURLRepository_Deactivate(t *testing.T) {
	repo := NewURLRepository(testDB.Pool)
	ctx := context.Background()

	testDB.Cleanup(ctx)
	require.NoError(t, repo.Create(ctx, newMapping(30, "off001", nil)))

	retired, err := repo.Deactivate(ctx, "off001")
	require.NoError(t, err)
	assert.True(t, retired)

	got, err := repo.GetByCode(ctx, "off001")
	require.NoError(t, err)
	assert.False(t, got.Active)

	// Second deactivation is a no-op, not an error.
	retired, err = repo.Deactivate(ctx, "off001")
	require.NoError(t, err)
	assert.False(t, retired)
}

func TestURLRepository_FindExpired(t *testing.T) {
	repo := NewURLRepository(testDB.Pool)
	ctx := context.Background()

	testDB.Cleanup(ctx)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	require.NoError(t, repo.Create(ctx, newMapping(40, "old001", &past)))
	require.NoError(t, repo.Create(ctx, newMapping(41, "old002", &past)))
	require.NoError(t, repo.Create(ctx, newMapping(42, "new001", &future)))
	require.NoError(t, repo.Create(ctx, newMapping(43, "forever", nil)))

	// Already-inactive rows must not come back.
	require.NoError(t, repo.Create(ctx, newMapping(44, "old003", &past)))
	_, err := repo.Deactivate(ctx, "old003")
	require.NoError(t, err)

	codes, err := repo.FindExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old001", "old002"}, codes)

	limited, err := repo.FindExpired(ctx, time.Now(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestURLRepository_ApplyClicks(t *testing.T) {
	repo := NewURLRepository(testDB.Pool)
	ctx := context.Background()

	t.Run("increments counters in one batch", func(t *testing.T) {
		testDB.Cleanup(ctx)

		require.NoError(t, repo.Create(ctx, newMapping(50, "clk001", nil)))
		require.NoError(t, repo.Create(ctx, newMapping(51, "clk002", nil)))

		now := time.Now().UTC().Truncate(time.Second)
		err := repo.ApplyClicks(ctx, []model.ClickRollup{
			{ShortCode: "clk001", Count: 3, LastAt: now},
			{ShortCode: "clk002", Count: 1, LastAt: now},
		})
		require.NoError(t, err)

		got, err := repo.GetByCode(ctx, "clk001")
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.RedirectCount)
		require.NotNil(t, got.LastRedirectAt)
		assert.WithinDuration(t, now, *got.LastRedirectAt, time.Second)
	})

	t.Run("applies are cumulative and last_redirect_at is monotonic", func(t *testing.T) {
		testDB.Cleanup(ctx)

		require.NoError(t, repo.Create(ctx, newMapping(52, "clk003", nil)))

		late := time.Now().UTC().Truncate(time.Second)
		early := late.Add(-time.Hour)

		require.NoError(t, repo.ApplyClicks(ctx, []model.ClickRollup{
			{ShortCode: "clk003", Count: 2, LastAt: late},
		}))
		// A replayed, older batch may bump the count again but must not
		// move the timestamp backwards.
		require.NoError(t, repo.ApplyClicks(ctx, []model.ClickRollup{
			{ShortCode: "clk003", Count: 1, LastAt: early},
		}))

		got, err := repo.GetByCode(ctx, "clk003")
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.RedirectCount)
		require.NotNil(t, got.LastRedirectAt)
		assert.WithinDuration(t, late, *got.LastRedirectAt, time.Second)
	})

	t.Run("unknown codes are ignored", func(t *testing.T) {
		testDB.Cleanup(ctx)

		err := repo.ApplyClicks(ctx, []model.ClickRollup{
			{ShortCode: "ghost", Count: 5, LastAt: time.Now()},
		})
		assert.NoError(t, err)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		assert.NoError(t, repo.ApplyClicks(ctx, nil))
	})
}

func TestURLRepository_List(t *testing.T) {
	repo := NewURLRepository(testDB.Pool)
	ctx := context.Background()

	testDB.Cleanup(ctx)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newMapping(60+i, "lst00"+string(rune('a'+i)), nil)))
	}

	page, err := repo.List(ctx, 3, 0)
	require.NoError(t, err)
	assert.Len(t, page, 3)

	rest, err := repo.List(ctx, 3, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestURLRepository_AggregateStats(t *testing.T) {
	repo := NewURLRepository(testDB.Pool)
	ctx := context.Background()

	testDB.Cleanup(ctx)

	require.NoError(t, repo.Create(ctx, newMapping(70, "agg001", nil)))
	require.NoError(t, repo.Create(ctx, newMapping(71, "agg002", nil)))
	_, err := repo.Deactivate(ctx, "agg002")
	require.NoError(t, err)

	require.NoError(t, repo.ApplyClicks(ctx, []model.ClickRollup{
		{ShortCode: "agg001", Count: 4, LastAt: time.Now()},
	}))

	stats, err := repo.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalMappings)
	assert.Equal(t, int64(1), stats.ActiveMappings)
	assert.Equal(t, int64(4), stats.TotalRedirects)
}
