package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"market-pipeline/pkg/types"
)

// State of the approval dialog for one subject
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingApproval State = "awaiting_approval"
	StateConfirmed        State = "confirmed"
	StateRejected         State = "rejected"
)

// Decision resolves a ticket
type Decision string

const (
	DecisionConfirmed  Decision = "confirmed"
	DecisionRejected   Decision = "rejected"
	DecisionSuperseded Decision = "superseded"
)

var (
	// ErrStaleApproval is returned for decisions on a ticket that is no longer current
	ErrStaleApproval = errors.New("stale approval")
	// ErrSubmissionInFlight is returned when a confirmed transaction is still executing
	ErrSubmissionInFlight = errors.New("a confirmed transaction is still executing for this subject")
)

// Ticket is one opened approval request
type Ticket struct {
	ID       string
	Subject  string
	Request  types.TransactionRequest
	Estimate types.GasEstimate
	OpenedAt time.Time

	decision chan Decision
}

// Event is emitted on every state transition
type Event struct {
	Seq      uint64 // Increases with every transition of the gate
	Subject  string
	State    State
	TicketID string
	Request  types.TransactionRequest
	Estimate types.GasEstimate
}

// Visible returns true while the dialog should be shown
func (e Event) Visible() bool {
	return e.State == StateAwaitingApproval
}

// Observer receives gate events. Observers may call back into the gate.
type Observer func(Event)

type entry struct {
	ticket *Ticket
	state  State
}

// Gate tracks at most one approval per subject
type Gate struct {
	mu        sync.Mutex
	entries   map[string]*entry
	seq       uint64
	observers []Observer
	now       func() time.Time
}

// NewGate creates a gate with the given observers
func NewGate(observers ...Observer) *Gate {
	return &Gate{
		entries:   make(map[string]*entry),
		observers: observers,
		now:       time.Now,
	}
}

// Subscribe adds an observer. Must be called before the gate is used.
func (g *Gate) Subscribe(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, o)
}

// Open shows the dialog for a request, superseding any ticket awaiting approval
// for the same subject
func (g *Gate) Open(req types.TransactionRequest, est types.GasEstimate) (*Ticket, error) {
	g.mu.Lock()

	if e, ok := g.entries[req.SubjectID]; ok {
		switch e.state {
		case StateConfirmed:
			g.mu.Unlock()
			return nil, ErrSubmissionInFlight
		case StateAwaitingApproval:
			log.WithFields(log.Fields{
				"subject": req.SubjectID,
				"ticket":  e.ticket.ID,
			}).Debug("approval superseded")
			e.ticket.resolve(DecisionSuperseded)
		}
	}

	t := &Ticket{
		ID:       uuid.New().String(),
		Subject:  req.SubjectID,
		Request:  req,
		Estimate: est,
		OpenedAt: g.now(),
		decision: make(chan Decision, 1),
	}
	g.entries[req.SubjectID] = &entry{ticket: t, state: StateAwaitingApproval}
	ev := g.eventLocked(t, StateAwaitingApproval)
	observers := g.observers
	g.mu.Unlock()

	emit(observers, ev)
	return t, nil
}

// Supersede withdraws the ticket awaiting approval for a subject so a late
// answer to it is stale. It returns ErrSubmissionInFlight when the subject's
// ticket is already confirmed.
func (g *Gate) Supersede(subject string) error {
	g.mu.Lock()

	e, ok := g.entries[subject]
	if !ok {
		g.mu.Unlock()
		return nil
	}

	switch e.state {
	case StateConfirmed:
		g.mu.Unlock()
		return ErrSubmissionInFlight
	case StateAwaitingApproval:
		log.WithFields(log.Fields{
			"subject": subject,
			"ticket":  e.ticket.ID,
		}).Debug("approval withdrawn by a newer request")
		e.ticket.resolve(DecisionSuperseded)
		delete(g.entries, subject)
		ev := g.eventLocked(e.ticket, StateIdle)
		observers := g.observers
		g.mu.Unlock()

		emit(observers, ev)
		return nil
	}

	g.mu.Unlock()
	return nil
}

// Confirm approves the current ticket of a subject
func (g *Gate) Confirm(subject, ticketID string) error {
	return g.decide(subject, ticketID, StateConfirmed, DecisionConfirmed)
}

// Reject declines the current ticket of a subject
func (g *Gate) Reject(subject, ticketID string) error {
	return g.decide(subject, ticketID, StateRejected, DecisionRejected)
}

func (g *Gate) decide(subject, ticketID string, next State, d Decision) error {
	g.mu.Lock()

	e, ok := g.entries[subject]
	if !ok || e.ticket.ID != ticketID || e.state != StateAwaitingApproval {
		g.mu.Unlock()
		return ErrStaleApproval
	}

	e.state = next
	e.ticket.resolve(d)
	ev := g.eventLocked(e.ticket, next)
	observers := g.observers
	g.mu.Unlock()

	emit(observers, ev)
	return nil
}

// Wait blocks until the ticket is decided or ctx is done
func (g *Gate) Wait(ctx context.Context, t *Ticket) (Decision, error) {
	select {
	case d := <-t.decision:
		return d, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close returns the subject to idle if t is still its current ticket
func (g *Gate) Close(t *Ticket) bool {
	if t == nil {
		return false
	}

	g.mu.Lock()
	e, ok := g.entries[t.Subject]
	if !ok || e.ticket != t {
		g.mu.Unlock()
		return false
	}

	delete(g.entries, t.Subject)
	ev := g.eventLocked(t, StateIdle)
	observers := g.observers
	g.mu.Unlock()

	emit(observers, ev)
	return true
}

// IsCurrent returns true if t is the latest ticket of its subject
func (g *Gate) IsCurrent(t *Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[t.Subject]
	return ok && e.ticket == t
}

// State returns the approval state of a subject
func (g *Gate) State(subject string) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[subject]; ok {
		return e.state
	}
	return StateIdle
}

// Current returns the current ticket of a subject, nil when idle
func (g *Gate) Current(subject string) *Ticket {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[subject]; ok {
		return e.ticket
	}
	return nil
}

func (g *Gate) eventLocked(t *Ticket, s State) Event {
	g.seq++
	return Event{
		Seq:      g.seq,
		Subject:  t.Subject,
		State:    s,
		TicketID: t.ID,
		Request:  t.Request,
		Estimate: t.Estimate,
	}
}

func (t *Ticket) resolve(d Decision) {
	select {
	case t.decision <- d:
	default:
	}
}

func emit(observers []Observer, ev Event) {
	for _, o := range observers {
		o(ev)
	}
}
