package library

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ReservationQueue keeps a FIFO queue of claims per unavailable book. A
// member holds at most one place per book.
type ReservationQueue struct {
	mu     sync.RWMutex
	queues map[string][]Reservation
}

// NewReservationQueue creates an empty queue set.
func NewReservationQueue() *ReservationQueue {
	return &ReservationQueue{queues: make(map[string][]Reservation)}
}

// Enqueue appends a reservation for the member at the tail of the book's
// queue.
func (q *ReservationQueue) Enqueue(bookID, memberID string, at time.Time) (Reservation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range q.queues[bookID] {
		if r.MemberID == memberID {
			return Reservation{}, fmt.Errorf("%w: member %s already reserved book %s", ErrConflict, memberID, bookID)
		}
	}
	r := Reservation{BookID: bookID, MemberID: memberID, PlacedAt: at}
	q.queues[bookID] = append(q.queues[bookID], r)
	return r, nil
}

// Cancel removes the member's reservation for the book.
func (q *ReservationQueue) Cancel(bookID, memberID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[bookID]
	for i, r := range queue {
		if r.MemberID == memberID {
			q.queues[bookID] = append(queue[:i], queue[i+1:]...)
			if len(q.queues[bookID]) == 0 {
				delete(q.queues, bookID)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: no reservation for member %s on book %s", ErrNotFound, memberID, bookID)
}

// pop removes and returns the head of the book's queue.
func (q *ReservationQueue) pop(bookID string) (Reservation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[bookID]
	if len(queue) == 0 {
		return Reservation{}, false
	}
	head := queue[0]
	if len(queue) == 1 {
		delete(q.queues, bookID)
	} else {
		q.queues[bookID] = queue[1:]
	}
	return head, true
}

// ForBook returns the book's queue in order.
func (q *ReservationQueue) ForBook(bookID string) []Reservation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	queue := q.queues[bookID]
	out := make([]Reservation, len(queue))
	copy(out, queue)
	return out
}

// ForMember returns every reservation held by the member, ordered by the
// time it was placed.
func (q *ReservationQueue) ForMember(memberID string) []Reservation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []Reservation
	for _, queue := range q.queues {
		for _, r := range queue {
			if r.MemberID == memberID {
				out = append(out, r)
			}
		}
	}
	sortReservations(out)
	return out
}

// All returns every queued reservation, grouped by book id and in queue
// order within each book. The order is deterministic so the persistence
// layer can snapshot and reload queues without reshuffling them.
func (q *ReservationQueue) All() []Reservation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	bookIDs := make([]string, 0, len(q.queues))
	for id := range q.queues {
		bookIDs = append(bookIDs, id)
	}
	sort.Strings(bookIDs)

	var out []Reservation
	for _, id := range bookIDs {
		out = append(out, q.queues[id]...)
	}
	return out
}

func sortReservations(rs []Reservation) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].PlacedAt.Before(rs[j].PlacedAt) })
}

// restoreReservation reinstates a persisted reservation at the tail of its
// queue; callers load them in queue order.
func (q *ReservationQueue) restoreReservation(r Reservation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[r.BookID] = append(q.queues[r.BookID], r)
}

// requeue puts a popped reservation back at the head of its queue, keeping
// the holder's place when fulfillment has to be undone.
func (q *ReservationQueue) requeue(r Reservation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[r.BookID] = append([]Reservation{r}, q.queues[r.BookID]...)
}
