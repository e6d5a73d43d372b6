package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reseller-order-engine/models"
	"reseller-order-engine/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateOrderDefaults(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOrder(ctx, models.Order{
		ID:        "ord-1",
		TenantID:  "t1",
		PackageID: "p1",
		UserID:    "u1",
		Quantity:  2,
		SellPrice: decimal.RequireFromString("4.50"),
	}))

	order, err := store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.ExternalStatusNotSent, order.ExternalStatus)
	assert.Equal(t, models.ModeManual, order.Mode)
	assert.Equal(t, "4.5", order.SellPrice.String())
	assert.Empty(t, order.ChainPath)
	assert.False(t, order.FallbackAttempted)
	assert.False(t, order.CreatedAt.IsZero())
}

func TestGetOrderMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetOrder(context.Background(), "nope")
	assert.True(t, errors.Is(err, models.ErrOrderNotFound))
}

func TestRecordSubmissionSetsSentAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, models.Order{ID: "ord-1", TenantID: "t1"}))

	providerID := "int-1"
	require.NoError(t, store.RecordSubmission(ctx, "ord-1", storage.Submission{
		Mode:            models.ModeAuto,
		ProviderID:      &providerID,
		ExternalOrderID: "ext-1",
		ExternalStatus:  models.ExternalStatusSent,
	}))

	order, err := store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", order.ExternalOrderID)
	require.NotNil(t, order.SentAt, "an external reference implies sent_at")
	firstSentAt := *order.SentAt

	// A later submission without an explicit timestamp keeps sent_at.
	require.NoError(t, store.RecordSubmission(ctx, "ord-1", storage.Submission{
		Mode:            models.ModeAuto,
		ProviderID:      &providerID,
		ExternalOrderID: "ext-1",
		ExternalStatus:  models.ExternalStatusSent,
		SentAt:          nil,
	}))
	order, err = store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	require.NotNil(t, order.SentAt)
	assert.True(t, !order.SentAt.Before(firstSentAt))
}

func TestMarkFallbackAttempted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, models.Order{ID: "ord-1", TenantID: "t1"}))

	already, err := store.MarkFallbackAttempted(ctx, "ord-1")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = store.MarkFallbackAttempted(ctx, "ord-1")
	require.NoError(t, err)
	assert.True(t, already, "second mark must report the existing flag")

	_, err = store.MarkFallbackAttempted(ctx, "missing")
	assert.True(t, errors.Is(err, models.ErrOrderNotFound))
}

// Two dispatches racing for the same order must not both win the
// fallback attempt.
func TestMarkFallbackAttemptedConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, models.Order{ID: "ord-1", TenantID: "t1"}))

	const callers = 8
	wins := make(chan bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			already, err := store.MarkFallbackAttempted(ctx, "ord-1")
			assert.NoError(t, err)
			wins <- !already
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for w := range wins {
		if w {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one caller claims the fallback")
}

func TestAppendChainPathRejectsCycles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, models.Order{ID: "ord-1", TenantID: "t1"}))

	require.NoError(t, store.AppendChainPath(ctx, "ord-1", "ancestor-a"))
	require.NoError(t, store.AppendChainPath(ctx, "ord-1", "ancestor-b"))

	err := store.AppendChainPath(ctx, "ord-1", "ancestor-a")
	assert.True(t, errors.Is(err, models.ErrChainCycle))

	err = store.AppendChainPath(ctx, "ord-1", "ord-1")
	assert.True(t, errors.Is(err, models.ErrChainCycle))

	order, err := store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ancestor-a", "ancestor-b"}, order.ChainPath)
}

func TestIdempotencyKeyLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertIdempotencyKey(ctx, models.IdempotencyKey{
		TokenID:     "tok-1",
		Key:         "client-key",
		RequestHash: "hash-a",
		OrderID:     "ord-1",
		TTLSeconds:  3600,
		CreatedAt:   time.Now().UTC(),
	}))

	row, found, err := store.GetIdempotencyKey(ctx, "tok-1", "client-key", "hash-a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ord-1", row.OrderID)

	// Same key, different body hash: a distinct entry, not a hit.
	_, found, err = store.GetIdempotencyKey(ctx, "tok-1", "client-key", "hash-b")
	require.NoError(t, err)
	assert.False(t, found)

	// Expired rows are misses.
	require.NoError(t, store.UpsertIdempotencyKey(ctx, models.IdempotencyKey{
		TokenID:     "tok-1",
		Key:         "stale-key",
		RequestHash: "hash-a",
		OrderID:     "ord-2",
		TTLSeconds:  1,
		CreatedAt:   time.Now().UTC().Add(-2 * time.Second),
	}))
	_, found, err = store.GetIdempotencyKey(ctx, "tok-1", "stale-key", "hash-a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCodeAllocation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddCodes(ctx, "grp-1", []string{"AAA", "BBB", "CCC"}))

	reference, pins, err := store.Allocate(ctx, "grp-1", 2)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reference, "codes-"))
	assert.Len(t, pins, 2)

	// Only one code left; asking for two must fail without claiming it.
	_, _, err = store.Allocate(ctx, "grp-1", 2)
	require.Error(t, err)

	_, pins, err = store.Allocate(ctx, "grp-1", 1)
	require.NoError(t, err)
	assert.Len(t, pins, 1)
}

func TestNotesBumpCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateOrder(ctx, models.Order{ID: "ord-1", TenantID: "t1"}))

	require.NoError(t, store.AppendNote(ctx, "ord-1", models.Note{By: "ops", Text: "first"}))
	require.NoError(t, store.AppendNote(ctx, "ord-1", models.Note{By: "engine", Text: "second"}))

	order, err := store.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 2, order.NotesCount)

	notes, err := store.Notes(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "first", notes[0].Text)
	assert.Equal(t, "engine", notes[1].By)
}

func TestRoutingWriteHookFires(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var invalidated []string
	store.OnRoutingWrite(func(tenantID, packageID string) {
		invalidated = append(invalidated, tenantID+"/"+packageID)
	})

	require.NoError(t, store.SaveRouting(ctx, models.PackageRouting{
		ID: "r-1", TenantID: "t1", PackageID: "p1",
		Mode: models.RoutingModeAuto, ProviderType: models.ProviderTypeExternal,
		PrimaryProviderID: "int-1",
	}))
	require.NoError(t, store.DeleteRouting(ctx, "r-1"))

	assert.Equal(t, []string{"t1/p1", "t1/p1"}, invalidated)
}
