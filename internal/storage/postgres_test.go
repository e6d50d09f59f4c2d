package storage

import (
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mybadgelife/internal/config"
	"github.com/mybadgelife/internal/models"
	"github.com/mybadgelife/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgres connects to a local database with the schema applied,
// skipping when none is reachable
func newTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	skipIntegration(t)

	cfg := &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "mybadgelife_test",
		User:           "badgelife",
		Password:       os.Getenv("POSTGRES_PASSWORD"),
		MaxConnections: 5,
	}

	db, err := NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := NewMigrator(cfg.URL(), "../../migrations/postgres").Up(); err != nil {
		t.Skipf("Skipping test - migrations failed: %v", err)
	}
	return db
}

func TestPostgres_BadgeLifecycle(t *testing.T) {
	db := newTestPostgres(t)
	ctx := testContext(t)

	profiles := NewProfileRepository(db)
	badges := NewBadgeRepository(db)
	images := NewBadgeImageRepository(db)
	ownerships := NewOwnershipRepository(db)
	embeddings := NewEmbeddingRepository(db)

	userID := uuid.New().String()
	profile, err := profiles.Ensure(ctx, userID, "maker@example.com")
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, profile.Role)

	again, err := profiles.Ensure(ctx, userID, "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, "maker@example.com", again.Email)

	badge := &models.Badge{Name: "Test Badge", EventName: "DEF CON", Status: types.StatusApproved, CreatedBy: userID}
	require.NoError(t, badges.Create(ctx, badge))
	t.Cleanup(func() { _ = badges.Delete(ctx, badge.ID) })

	first := &models.BadgeImage{BadgeID: badge.ID, StorageKey: "badges/a.png", URL: "http://x/a.png", UploadedBy: userID}
	require.NoError(t, images.Create(ctx, first))
	assert.True(t, first.IsPrimary)

	second := &models.BadgeImage{BadgeID: badge.ID, StorageKey: "badges/b.png", URL: "http://x/b.png", UploadedBy: userID}
	require.NoError(t, images.Create(ctx, second))
	assert.False(t, second.IsPrimary)

	require.NoError(t, images.SetPrimary(ctx, badge.ID, second.ID))
	list, err := images.ListByBadge(ctx, badge.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	_, err = ownerships.Upsert(ctx, userID, badge.ID, types.OwnershipWant)
	require.NoError(t, err)
	_, err = ownerships.Upsert(ctx, userID, badge.ID, types.OwnershipOwn)
	require.NoError(t, err)
	counts, err := ownerships.CountsForBadge(ctx, badge.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Own)
	assert.Equal(t, 0, counts.Want)

	require.NoError(t, embeddings.Upsert(ctx, &models.BadgeEmbedding{
		BadgeID: badge.ID, ImageID: first.ID, Embedding: []float64{0.1, 0.2, 0.3}, Model: "clip",
	}))
	all, err := embeddings.ListApproved(ctx)
	require.NoError(t, err)
	var found bool
	for _, e := range all {
		if e.ImageID == first.ID {
			found = true
			assert.Equal(t, []float64{0.1, 0.2, 0.3}, e.Embedding)
		}
	}
	assert.True(t, found)
}

func TestPostgres_ConcurrentFirstImagesPickOnePrimary(t *testing.T) {
	db := newTestPostgres(t)
	ctx := testContext(t)

	profiles := NewProfileRepository(db)
	badges := NewBadgeRepository(db)
	images := NewBadgeImageRepository(db)

	userID := uuid.New().String()
	_, err := profiles.Ensure(ctx, userID, "racer@example.com")
	require.NoError(t, err)

	badge := &models.Badge{Name: "Race Badge", EventName: "BSides", Status: types.StatusApproved, CreatedBy: userID}
	require.NoError(t, badges.Create(ctx, badge))
	t.Cleanup(func() { _ = badges.Delete(ctx, badge.ID) })

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img := &models.BadgeImage{BadgeID: badge.ID, StorageKey: uuid.New().String(), URL: "http://x/img.png", UploadedBy: userID}
			errs[i] = images.Create(ctx, img)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}
	list, err := images.ListByBadge(ctx, badge.ID)
	require.NoError(t, err)
	require.Len(t, list, writers)

	primaries := 0
	for _, img := range list {
		if img.IsPrimary {
			primaries++
		}
	}
	assert.Equal(t, 1, primaries)
}

func TestPostgres_ImageForMissingBadge(t *testing.T) {
	db := newTestPostgres(t)
	images := NewBadgeImageRepository(db)

	err := images.Create(testContext(t), &models.BadgeImage{BadgeID: uuid.New().String(), StorageKey: "badges/none.png"})
	assert.ErrorIs(t, err, ErrReferenceMissing)
}
