// Package storagetest holds behaviour checks shared by every storage.Store
// backend.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/leafgate/storage"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("CreateAndLookup", func(t *testing.T) { testCreateAndLookup(t, newStore(t)) })
	t.Run("EmailUniqueCaseInsensitive", func(t *testing.T) { testEmailUnique(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("AnalysesNewestFirst", func(t *testing.T) { testAnalysesOrder(t, newStore(t)) })
	t.Run("AnalysesPagination", func(t *testing.T) { testAnalysesPagination(t, newStore(t)) })
	t.Run("AnalysisRequiresPrincipal", func(t *testing.T) { testAnalysisRequiresPrincipal(t, newStore(t)) })
	t.Run("ConcurrentRegistration", func(t *testing.T) { testConcurrentRegistration(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func createPrincipal(t *testing.T, s storage.Store, email string) *storage.Principal {
	t.Helper()
	p := &storage.Principal{
		Email:          email,
		FirstName:      "Ada",
		LastName:       "Lovelace",
		CredentialHash: "$2a$04$hash",
	}
	require.NoError(t, s.CreatePrincipal(context.Background(), p))
	return p
}

func testCreateAndLookup(t *testing.T, s storage.Store) {
	ctx := context.Background()
	p := createPrincipal(t, s, "  Ada@Example.COM ")
	require.NotEmpty(t, p.ID)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.False(t, p.CreatedAt.IsZero())

	byEmail, err := s.PrincipalByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byEmail.ID)
	assert.Equal(t, "Ada", byEmail.FirstName)
	assert.Equal(t, "Lovelace", byEmail.LastName)
	assert.Equal(t, "$2a$04$hash", byEmail.CredentialHash)

	byID, err := s.PrincipalByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", byID.Email)
	assert.WithinDuration(t, p.CreatedAt, byID.CreatedAt, time.Millisecond)
}

func testEmailUnique(t *testing.T, s storage.Store) {
	createPrincipal(t, s, "a@b.com")
	err := s.CreatePrincipal(context.Background(), &storage.Principal{Email: "A@B.COM", CredentialHash: "x"})
	assert.ErrorIs(t, err, storage.ErrEmailTaken)
}

func testNotFound(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.PrincipalByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.PrincipalByID(ctx, "6f1c1c9e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	recs, total, err := s.ListAnalyses(ctx, "6f1c1c9e-0000-4000-8000-000000000000", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Zero(t, total)
}

func insertAnalyses(t *testing.T, s storage.Store, principalID string, n int) []storage.AnalysisRecord {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]storage.AnalysisRecord, 0, n)
	for i := range n {
		rec := &storage.AnalysisRecord{
			PrincipalID:    principalID,
			PredictedLabel: fmt.Sprintf("label-%d", i),
			Confidence:     0.5,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.InsertAnalysis(context.Background(), rec))
		require.NotEmpty(t, rec.ID)
		out = append(out, *rec)
	}
	return out
}

func testAnalysesOrder(t *testing.T, s storage.Store) {
	p := createPrincipal(t, s, "owner@example.com")
	other := createPrincipal(t, s, "other@example.com")
	insertAnalyses(t, s, p.ID, 3)
	insertAnalyses(t, s, other.ID, 1)

	recs, total, err := s.ListAnalyses(context.Background(), p.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, recs, 3)
	assert.Equal(t, "label-2", recs[0].PredictedLabel)
	assert.Equal(t, "label-0", recs[2].PredictedLabel)
	for _, r := range recs {
		assert.Equal(t, p.ID, r.PrincipalID, "records of other principals must not leak")
		assert.InDelta(t, 0.5, r.Confidence, 1e-9)
	}
}

func testAnalysesPagination(t *testing.T, s storage.Store) {
	p := createPrincipal(t, s, "pager@example.com")
	insertAnalyses(t, s, p.ID, 5)
	ctx := context.Background()

	recs, total, err := s.ListAnalyses(ctx, p.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, recs, 2)
	assert.Equal(t, "label-4", recs[0].PredictedLabel)

	recs, _, err = s.ListAnalyses(ctx, p.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "label-0", recs[0].PredictedLabel)

	recs, total, err = s.ListAnalyses(ctx, p.ID, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, 5, total)
}

func testAnalysisRequiresPrincipal(t *testing.T, s storage.Store) {
	err := s.InsertAnalysis(context.Background(), &storage.AnalysisRecord{
		PrincipalID:    "6f1c1c9e-0000-4000-8000-00000000dead",
		PredictedLabel: "healthy",
		Confidence:     0.9,
	})
	assert.Error(t, err)
}

func testConcurrentRegistration(t *testing.T, s storage.Store) {
	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.CreatePrincipal(context.Background(), &storage.Principal{Email: "race@example.com", CredentialHash: "x"})
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, storage.ErrEmailTaken)
	}
	assert.Equal(t, 1, created)
}
