package pool

import (
	"context"
	"time"

	"wayfare/pkg/conn"
	"wayfare/pkg/model"
)

// ticketResult carries the outcome of a dispatched ticket back to the
// goroutine blocked in Pool.HandleRequest.
type ticketResult struct {
	resp *model.Response
	err  error
}

// Ticket is one request waiting for a connection, tracked through the
// QUEUED -> ASSIGNED -> COMPLETE/FAILED states a scheduling pass
// drives it through.
type Ticket struct {
	origin   model.Origin
	req      *model.Request
	ctx      context.Context
	queuedAt time.Time

	state    model.TicketState
	conn     *conn.Connection
	attempts int

	// reused reports whether conn was picked up from the pool rather
	// than freshly dialed for this ticket; it gates the one-shot
	// transparent resend on a stale keep-alive connection.
	reused       bool
	staleRetried bool

	result chan ticketResult
}

func newTicket(ctx context.Context, origin model.Origin, req *model.Request) *Ticket {
	return &Ticket{
		origin:   origin,
		req:      req,
		ctx:      ctx,
		queuedAt: timeNow(),
		state:    model.TicketQueued,
		result:   make(chan ticketResult, 1),
	}
}

// State returns the ticket's current lifecycle state.
func (t *Ticket) State() model.TicketState {
	return t.state
}

// QueuedAt returns when the ticket entered the queue.
func (t *Ticket) QueuedAt() time.Time {
	return t.queuedAt
}
