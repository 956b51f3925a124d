package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market-pipeline/pkg/approval"
	"market-pipeline/pkg/types"
)

func TestLoadingOwnership(t *testing.T) {
	s := New()
	key := LoadingKey{Subject: "1", Kind: types.KindBid}

	require.False(t, s.IsLoading("1", types.KindBid))

	s.BeginLoading(key, 1)
	s.BeginLoading(key, 2)
	require.True(t, s.IsLoading("1", types.KindBid))

	require.False(t, s.EndLoading(key, 1))
	require.True(t, s.IsLoading("1", types.KindBid))

	require.True(t, s.EndLoading(key, 2))
	require.False(t, s.IsLoading("1", types.KindBid))
	require.False(t, s.AnyLoading("1"))
}

func TestConcurrentLoadingUpdatesAreNotLost(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := LoadingKey{Subject: string(rune('a' + i%26)), Kind: types.AllKinds[i%len(types.AllKinds)]}
			s.BeginLoading(key, uint64(i))
		}(i)
	}
	wg.Wait()

	require.Len(t, s.loading, 50)
}

func TestResultsLastWriterWins(t *testing.T) {
	s := New()

	_, ok := s.Result("1")
	require.False(t, ok)

	require.NoError(t, s.SetResult(types.TransactionResult{SubjectID: "1", Status: types.StatusFailed}))
	require.NoError(t, s.SetResult(types.TransactionResult{SubjectID: "1", Status: types.StatusSuccess, Hash: "0xabc"}))

	r, ok := s.Result("1")
	require.True(t, ok)
	require.Equal(t, types.StatusSuccess, r.Status)
	require.Equal(t, "0xabc", r.Hash)
	require.Len(t, s.Results(), 1)
}

func TestApplyApprovalIgnoresOlderEvents(t *testing.T) {
	s := New()
	open := approval.Event{
		Seq:      2,
		Subject:  "1",
		State:    approval.StateAwaitingApproval,
		TicketID: "t2",
		Request:  types.TransactionRequest{Kind: types.KindListFixed},
		Estimate: types.GasEstimate{FeeAmount: decimal.RequireFromString("0.02"), AssetType: "ETH"},
	}
	stale := approval.Event{Seq: 1, Subject: "1", State: approval.StateIdle, TicketID: "t1"}

	s.ApplyApproval(open)
	s.ApplyApproval(stale)

	view, ok := s.Approval("1")
	require.True(t, ok)
	require.True(t, view.Visible)
	require.Equal(t, "t2", view.TicketID)
	require.Equal(t, types.KindListFixed, view.Kind)

	s.ApplyApproval(approval.Event{Seq: 3, Subject: "1", State: approval.StateIdle, TicketID: "t2"})
	view, _ = s.Approval("1")
	require.False(t, view.Visible)
	require.Equal(t, approval.StateIdle, view.State)
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	s, err := NewPersistent(path)
	require.NoError(t, err)
	require.Equal(t, path, s.FilePath())

	completed := time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.SetResult(types.TransactionResult{
		RequestID:   "r1",
		Kind:        types.KindClaim,
		SubjectID:   "9",
		Status:      types.StatusSuccess,
		Hash:        "0xfeed",
		CompletedAt: completed,
	}))

	reloaded, err := NewPersistent(path)
	require.NoError(t, err)
	r, ok := reloaded.Result("9")
	require.True(t, ok)
	require.Equal(t, "0xfeed", r.Hash)
	require.Equal(t, types.KindClaim, r.Kind)
	require.True(t, completed.Equal(r.CompletedAt))
}
