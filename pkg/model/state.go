package model

import "time"

// ConnectionState tracks where a pooled connection sits in its
// lifecycle: NEW (never dialed) -> CONNECTING -> ACTIVE (request in
// flight) -> IDLE (keep-alive, reusable) -> CLOSING -> CLOSED.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateActive
	StateIdle
	StateClosing
	StateClosed
)

// String returns the human-readable name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateIdle:
		return "IDLE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TicketState tracks a queued request's position in the scheduler:
// QUEUED (waiting for a connection) -> ASSIGNED (handed to a
// connection) -> COMPLETE or FAILED.
type TicketState int

const (
	TicketQueued TicketState = iota
	TicketAssigned
	TicketComplete
	TicketFailed
)

// String returns the human-readable name of the ticket state.
func (s TicketState) String() string {
	switch s {
	case TicketQueued:
		return "QUEUED"
	case TicketAssigned:
		return "ASSIGNED"
	case TicketComplete:
		return "COMPLETE"
	case TicketFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Stats records per-connection usage, read by the scheduler's
// tie-break rules.
type Stats struct {
	CreatedAt    time.Time
	LastActivity time.Time
	RequestCount int64
}
