package storage_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/storage"
)

func mustCreatePattern(t *testing.T, ws uuid.UUID, tool string) model.ApprovalPattern {
	t.Helper()
	p, err := testDB.CreateApprovalPattern(t.Context(), model.ApprovalPattern{
		WorkspaceID:   ws,
		ToolName:      tool,
		ActionPattern: map[string]any{"method": "GET"},
	})
	require.NoError(t, err)
	return p
}

func TestApprovalPatternDefaults(t *testing.T) {
	ws := uuid.New()
	p := mustCreatePattern(t, ws, "http_request")

	assert.Equal(t, model.TrustProvisional, p.TrustLevel)
	assert.Equal(t, int64(0), p.UsageCount)

	got, err := testDB.GetApprovalPattern(t.Context(), ws, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "http_request", got.ToolName)
	assert.Equal(t, map[string]any{"method": "GET"}, got.ActionPattern)
}

func TestRecordPatternUsagePromotesOnce(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	p := mustCreatePattern(t, ws, "http_request")

	const (
		calls     = 50
		threshold = 10
	)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		promotions int
	)
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			usage, err := testDB.RecordPatternUsage(ctx, ws, p.ID, threshold)
			if err != nil {
				errs <- err
				return
			}
			if usage.Promoted {
				mu.Lock()
				promotions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("record usage: %v", err)
	}

	// Every call counted, and exactly one of them crossed the threshold.
	assert.Equal(t, 1, promotions)
	got, err := testDB.GetApprovalPattern(ctx, ws, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(calls), got.UsageCount)
	assert.Equal(t, model.TrustTrusted, got.TrustLevel)
	assert.NotNil(t, got.LastUsedAt)
}

func TestRevokePatternIsTerminal(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	p := mustCreatePattern(t, ws, "database_query")

	revoked, err := testDB.RevokeApprovalPattern(ctx, ws, p.ID, "admin", "too broad")
	require.NoError(t, err)
	assert.True(t, revoked.Revoked())
	require.NotNil(t, revoked.RevokedBy)
	assert.Equal(t, "admin", *revoked.RevokedBy)

	// Revoked patterns reject further usage, re-revocation, and elevation.
	_, err = testDB.RecordPatternUsage(ctx, ws, p.ID, 10)
	assert.ErrorIs(t, err, storage.ErrPatternRevoked)

	_, err = testDB.RevokeApprovalPattern(ctx, ws, p.ID, "admin", "again")
	assert.ErrorIs(t, err, storage.ErrPatternRevoked)

	_, err = testDB.ElevateApprovalPattern(ctx, ws, p.ID)
	assert.ErrorIs(t, err, storage.ErrPatternRevoked)
}

func TestElevatePattern(t *testing.T) {
	ws := uuid.New()
	p := mustCreatePattern(t, ws, "http_request")

	elevated, err := testDB.ElevateApprovalPattern(t.Context(), ws, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TrustPermanent, elevated.TrustLevel)
}

func TestListActivePatternsFiltersAndOrders(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()

	provisional := mustCreatePattern(t, ws, "http_request")
	permanent := mustCreatePattern(t, ws, "http_request")
	_, err := testDB.ElevateApprovalPattern(ctx, ws, permanent.ID)
	require.NoError(t, err)

	revoked := mustCreatePattern(t, ws, "http_request")
	_, err = testDB.RevokeApprovalPattern(ctx, ws, revoked.ID, "admin", "test")
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	_, err = testDB.CreateApprovalPattern(ctx, model.ApprovalPattern{
		WorkspaceID: ws,
		ToolName:    "http_request",
		ExpiresAt:   &past,
	})
	require.NoError(t, err)

	// Other tools never match.
	mustCreatePattern(t, ws, "database_query")

	active, err := testDB.ListActivePatterns(ctx, ws, "http_request")
	require.NoError(t, err)
	require.Len(t, active, 2)
	// Highest trust first.
	assert.Equal(t, permanent.ID, active[0].ID)
	assert.Equal(t, provisional.ID, active[1].ID)
}

func TestSweepExpiredPatterns(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()

	past := time.Now().UTC().Add(-time.Second)
	p, err := testDB.CreateApprovalPattern(ctx, model.ApprovalPattern{
		WorkspaceID: ws,
		ToolName:    "web_search",
		ExpiresAt:   &past,
	})
	require.NoError(t, err)

	n, err := testDB.SweepExpiredPatterns(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	got, err := testDB.GetApprovalPattern(ctx, ws, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked())
	require.NotNil(t, got.RevokedReason)
	assert.Equal(t, "expired", *got.RevokedReason)
}

func TestRecordPatternUsageMissing(t *testing.T) {
	_, err := testDB.RecordPatternUsage(t.Context(), uuid.New(), uuid.New(), 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
