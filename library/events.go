package library

import "time"

// EventType identifies an outcome event emitted by the lending service.
type EventType string

const (
	EventBookAdded            EventType = "BookAdded"
	EventLoanCreated          EventType = "LoanCreated"
	EventLoanRenewed          EventType = "LoanRenewed"
	EventLoanReturned         EventType = "LoanReturned"
	EventReservationQueued    EventType = "ReservationQueued"
	EventReservationFulfilled EventType = "ReservationFulfilled"
)

// Event is the notification payload for a completed operation. How events
// are surfaced (toast, email, log line) is up to the installed Notifier.
type Event struct {
	Type       EventType
	BookID     string
	LoanID     string
	MemberID   string
	OccurredAt time.Time
}

// Notifier receives outcome events. Implementations must not block; the
// service calls Notify synchronously inside its critical section.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

// Notify calls the wrapped function.
func (f NotifierFunc) Notify(e Event) { f(e) }
