package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market-pipeline/pkg/types"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]State, len(r.events))
	for i, ev := range r.events {
		states[i] = ev.State
	}
	return states
}

func request(subject string) types.TransactionRequest {
	return types.TransactionRequest{ID: subject + "-req", Kind: types.KindListFixed, SubjectID: subject, Amount: decimal.NewFromInt(1)}
}

func estimate(fee string) types.GasEstimate {
	return types.GasEstimate{FeeAmount: decimal.RequireFromString(fee), AssetType: "ETH"}
}

func TestGateConfirmFlow(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec.observe)

	ticket, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)
	require.Equal(t, StateAwaitingApproval, g.State("1"))

	require.NoError(t, g.Confirm("1", ticket.ID))
	require.Equal(t, StateConfirmed, g.State("1"))

	d, err := g.Wait(context.Background(), ticket)
	require.NoError(t, err)
	require.Equal(t, DecisionConfirmed, d)

	require.True(t, g.Close(ticket))
	require.Equal(t, StateIdle, g.State("1"))
	require.Nil(t, g.Current("1"))
	require.Equal(t, []State{StateAwaitingApproval, StateConfirmed, StateIdle}, rec.states())
}

func TestGateRejectFlow(t *testing.T) {
	g := NewGate()

	ticket, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)
	require.NoError(t, g.Reject("1", ticket.ID))
	require.Equal(t, StateRejected, g.State("1"))

	d, err := g.Wait(context.Background(), ticket)
	require.NoError(t, err)
	require.Equal(t, DecisionRejected, d)

	require.ErrorIs(t, g.Confirm("1", ticket.ID), ErrStaleApproval)
	require.True(t, g.Close(ticket))
	require.Equal(t, StateIdle, g.State("1"))
}

func TestGateSupersede(t *testing.T) {
	g := NewGate()

	first, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)
	second, err := g.Open(request("1"), estimate("0.03"))
	require.NoError(t, err)

	d, err := g.Wait(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, DecisionSuperseded, d)

	require.ErrorIs(t, g.Confirm("1", first.ID), ErrStaleApproval)
	require.False(t, g.IsCurrent(first))
	require.False(t, g.Close(first))
	require.Equal(t, StateAwaitingApproval, g.State("1"))

	require.NoError(t, g.Confirm("1", second.ID))
	d, err = g.Wait(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, DecisionConfirmed, d)
	require.True(t, g.Current("1").Estimate.FeeAmount.Equal(decimal.RequireFromString("0.03")))
}

func TestGateSupersedeWithdrawsAwaitingTicket(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec.observe)

	require.NoError(t, g.Supersede("1"))

	ticket, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)
	require.NoError(t, g.Supersede("1"))

	d, err := g.Wait(context.Background(), ticket)
	require.NoError(t, err)
	require.Equal(t, DecisionSuperseded, d)

	require.ErrorIs(t, g.Confirm("1", ticket.ID), ErrStaleApproval)
	require.Equal(t, StateIdle, g.State("1"))
	require.False(t, g.Close(ticket))
	require.Equal(t, []State{StateAwaitingApproval, StateIdle}, rec.states())
}

func TestGateSupersedeKeepsConfirmedTicket(t *testing.T) {
	g := NewGate()

	ticket, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)
	require.NoError(t, g.Confirm("1", ticket.ID))

	require.ErrorIs(t, g.Supersede("1"), ErrSubmissionInFlight)
	require.True(t, g.IsCurrent(ticket))
	require.Equal(t, StateConfirmed, g.State("1"))
}

func TestGateOpenWhileConfirmed(t *testing.T) {
	g := NewGate()

	ticket, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)
	require.NoError(t, g.Confirm("1", ticket.ID))

	_, err = g.Open(request("1"), estimate("0.02"))
	require.ErrorIs(t, err, ErrSubmissionInFlight)
}

func TestGateSubjectsAreIndependent(t *testing.T) {
	g := NewGate()

	a, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)
	b, err := g.Open(request("2"), estimate("0.02"))
	require.NoError(t, err)

	require.NoError(t, g.Reject("1", a.ID))
	require.Equal(t, StateAwaitingApproval, g.State("2"))
	require.NoError(t, g.Confirm("2", b.ID))
}

func TestGateWaitHonoursContext(t *testing.T) {
	g := NewGate()
	ticket, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = g.Wait(ctx, ticket)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateObserverMayDecideSynchronously(t *testing.T) {
	var g *Gate
	g = NewGate(func(ev Event) {
		if ev.State == StateAwaitingApproval {
			require.NoError(t, g.Confirm(ev.Subject, ev.TicketID))
		}
	})

	ticket, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)

	d, err := g.Wait(context.Background(), ticket)
	require.NoError(t, err)
	require.Equal(t, DecisionConfirmed, d)
}

func TestGateEventSequence(t *testing.T) {
	rec := &recorder{}
	g := NewGate(rec.observe)

	ticket, err := g.Open(request("1"), estimate("0.02"))
	require.NoError(t, err)
	require.NoError(t, g.Reject("1", ticket.ID))
	g.Close(ticket)

	require.Len(t, rec.events, 3)
	for i := 1; i < len(rec.events); i++ {
		require.Greater(t, rec.events[i].Seq, rec.events[i-1].Seq)
	}
	require.True(t, rec.events[0].Visible())
	require.False(t, rec.events[2].Visible())
}
