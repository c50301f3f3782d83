package library

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultLoanPeriodDays is how long a borrow or renewal runs when no other
// period is configured.
const DefaultLoanPeriodDays = 30

// Logger is the logging surface of the lending service. *slog.Logger
// satisfies it directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a LendingService.
type Option func(*LendingService)

// WithLoanPeriod overrides the loan period in days.
func WithLoanPeriod(days int) Option {
	return func(s *LendingService) { s.periodDays = days }
}

// WithLogger installs a logger.
func WithLogger(l Logger) Option {
	return func(s *LendingService) { s.logger = l }
}

// WithNotifier installs an outcome event sink.
func WithNotifier(n Notifier) Option {
	return func(s *LendingService) { s.notifier = n }
}

// WithMemberRegistry wires the identity collaborator so the service can
// enforce suspensions. Without it, callers vouch for their identities.
func WithMemberRegistry(r *MemberRegistry) Option {
	return func(s *LendingService) { s.members = r }
}

// WithReservations wires a shared reservation queue, typically the one owned
// by the persisted state, so queued claims survive restarts.
func WithReservations(q *ReservationQueue) Option {
	return func(s *LendingService) { s.reservations = q }
}

// bookCatalog is what the service needs from the catalog. *CatalogStore is
// the production implementation.
type bookCatalog interface {
	AddBook(fields BookFields) (Book, error)
	GetBook(id string) (Book, error)
	UpdateBook(id string, upd BookUpdate) (Book, error)
	ListBooks() []Book
	setAvailability(id string, available bool) error
}

// LendingService is the only writer of catalog and ledger state. All
// mutations run inside a per-book critical section so the availability
// invariant (a book is available iff it has no open loan) is never observed
// broken, and a failed half of a two-step mutation is rolled back.
type LendingService struct {
	catalog      bookCatalog
	ledger       *LoanLedger
	reservations *ReservationQueue
	members      *MemberRegistry

	periodDays int
	logger     Logger
	notifier   Notifier

	mu        sync.Mutex
	bookLocks map[string]*sync.Mutex

	// stateMu guards the cross-store commit regions. Writers hold it
	// exclusively for the loan-write + availability-write pair, readers
	// share it, so a snapshot never shows a half-applied borrow or return.
	stateMu sync.RWMutex
}

// NewLendingService wires the service around the two stores it coordinates.
func NewLendingService(catalog *CatalogStore, ledger *LoanLedger, opts ...Option) *LendingService {
	s := &LendingService{
		catalog:      catalog,
		ledger:       ledger,
		reservations: NewReservationQueue(),
		periodDays:   DefaultLoanPeriodDays,
		logger:       slog.Default(),
		bookLocks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoanPeriodDays reports the configured loan period.
func (s *LendingService) LoanPeriodDays() int { return s.periodDays }

// Reservations exposes the reservation queue for read-side callers.
func (s *LendingService) Reservations() *ReservationQueue { return s.reservations }

func (s *LendingService) lockBook(bookID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.bookLocks[bookID]
	if !ok {
		m = &sync.Mutex{}
		s.bookLocks[bookID] = m
	}
	return m
}

func (s *LendingService) emit(e Event) {
	if s.notifier != nil {
		s.notifier.Notify(e)
	}
}

// checkMayBorrow rejects suspended members when a registry is wired.
func (s *LendingService) checkMayBorrow(ident Identity) error {
	if s.members == nil {
		return nil
	}
	m, err := s.members.GetMember(ident.MemberID)
	if err != nil {
		return err
	}
	if m.Status == MemberSuspended {
		return fmt.Errorf("%w: member %s is suspended", ErrAuthorization, ident.MemberID)
	}
	return nil
}

// AddBook registers a new catalog entry. Admin only.
func (s *LendingService) AddBook(ident Identity, fields BookFields, now time.Time) (Book, error) {
	if ident.Role != RoleAdmin {
		return Book{}, fmt.Errorf("%w: adding books requires the admin role", ErrAuthorization)
	}
	book, err := s.catalog.AddBook(fields)
	if err != nil {
		return Book{}, err
	}
	s.logger.Info("book added", "book_id", book.ID, "title", book.Title, "isbn", book.ISBN)
	s.emit(Event{Type: EventBookAdded, BookID: book.ID, MemberID: ident.MemberID, OccurredAt: now})
	return book, nil
}

// UpdateBook edits catalog metadata. Admin only; availability is untouched.
func (s *LendingService) UpdateBook(ident Identity, bookID string, upd BookUpdate) (Book, error) {
	if ident.Role != RoleAdmin {
		return Book{}, fmt.Errorf("%w: editing books requires the admin role", ErrAuthorization)
	}
	return s.catalog.UpdateBook(bookID, upd)
}

// Borrow opens a loan for the caller and marks the book unavailable, as one
// atomic unit. The unavailable check here is the single borrow-failure
// surface; the ledger's own conflict guard backs it up.
func (s *LendingService) Borrow(ident Identity, bookID string, now time.Time) (Loan, error) {
	if err := s.checkMayBorrow(ident); err != nil {
		return Loan{}, err
	}

	lock := s.lockBook(bookID)
	lock.Lock()
	defer lock.Unlock()

	return s.borrowLocked(ident, bookID, now)
}

// borrowLocked does the actual borrow. The caller holds the book's lock.
func (s *LendingService) borrowLocked(ident Identity, bookID string, now time.Time) (Loan, error) {
	book, err := s.catalog.GetBook(bookID)
	if err != nil {
		return Loan{}, err
	}
	if !book.Available {
		return Loan{}, fmt.Errorf("%w: book %q is currently on loan", ErrConflict, book.Title)
	}

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	loan, err := s.ledger.OpenLoan(bookID, ident.MemberID, now, s.periodDays)
	if err != nil {
		return Loan{}, err
	}

	if err := s.catalog.setAvailability(bookID, false); err != nil {
		if derr := s.ledger.discardLoan(loan.ID); derr != nil {
			s.logger.Error("borrow rollback failed",
				"book_id", bookID, "loan_id", loan.ID, "cause", err, "rollback_error", derr)
			return Loan{}, fmt.Errorf("%w: loan %s opened but availability update failed (%v); rollback failed (%v)",
				ErrConsistency, loan.ID, err, derr)
		}
		s.logger.Warn("borrow rolled back", "book_id", bookID, "loan_id", loan.ID, "cause", err)
		return Loan{}, err
	}

	s.logger.Info("loan created",
		"loan_id", loan.ID, "book_id", bookID, "borrower_id", ident.MemberID, "due_date", loan.DueDate)
	s.emit(Event{Type: EventLoanCreated, BookID: bookID, LoanID: loan.ID, MemberID: ident.MemberID, OccurredAt: now})
	return loan, nil
}

// ReturnBook closes the loan and makes the book available again. If a
// reservation is queued, the book is handed straight to the head of the
// queue instead and stays unavailable.
func (s *LendingService) ReturnBook(ident Identity, loanID string, now time.Time) (Loan, error) {
	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		return Loan{}, err
	}

	lock := s.lockBook(loan.BookID)
	lock.Lock()
	defer lock.Unlock()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	closed, err := s.ledger.CloseLoan(loanID, now)
	if err != nil {
		return Loan{}, err
	}

	if err := s.catalog.setAvailability(closed.BookID, true); err != nil {
		if rerr := s.ledger.reopenLoan(loanID); rerr != nil {
			s.logger.Error("return rollback failed",
				"book_id", closed.BookID, "loan_id", loanID, "cause", err, "rollback_error", rerr)
			return Loan{}, fmt.Errorf("%w: loan %s closed but availability update failed (%v); rollback failed (%v)",
				ErrConsistency, loanID, err, rerr)
		}
		s.logger.Warn("return rolled back", "book_id", closed.BookID, "loan_id", loanID, "cause", err)
		return Loan{}, err
	}

	s.logger.Info("loan returned", "loan_id", loanID, "book_id", closed.BookID, "borrower_id", closed.BorrowerID)
	s.emit(Event{Type: EventLoanReturned, BookID: closed.BookID, LoanID: loanID, MemberID: closed.BorrowerID, OccurredAt: now})

	s.fulfillNextReservation(closed.BookID, now)
	return closed, nil
}

// fulfillNextReservation hands a just-returned book to the head of its
// queue. Runs inside the book's critical section and the exclusive state
// region. A failure leaves the book available and the queue intact.
func (s *LendingService) fulfillNextReservation(bookID string, now time.Time) {
	next, ok := s.reservations.pop(bookID)
	if !ok {
		return
	}
	if err := s.checkMayBorrow(Identity{MemberID: next.MemberID}); err != nil {
		s.logger.Warn("skipping reservation holder", "book_id", bookID, "member_id", next.MemberID, "cause", err)
		s.fulfillNextReservation(bookID, now)
		return
	}

	loan, err := s.ledger.OpenLoan(bookID, next.MemberID, now, s.periodDays)
	if err != nil {
		s.logger.Error("reservation fulfillment failed", "book_id", bookID, "member_id", next.MemberID, "cause", err)
		s.reservations.requeue(next)
		return
	}
	if err := s.catalog.setAvailability(bookID, false); err != nil {
		if derr := s.ledger.discardLoan(loan.ID); derr != nil {
			s.logger.Error("reservation rollback failed",
				"book_id", bookID, "loan_id", loan.ID, "cause", err, "rollback_error", derr)
			return
		}
		s.reservations.requeue(next)
		return
	}

	s.logger.Info("reservation fulfilled", "book_id", bookID, "loan_id", loan.ID, "member_id", next.MemberID)
	s.emit(Event{Type: EventReservationFulfilled, BookID: bookID, LoanID: loan.ID, MemberID: next.MemberID, OccurredAt: now})
}

// Renew extends the caller's loan by the configured period from now. The
// book stays unavailable; overdue loans must be returned first.
func (s *LendingService) Renew(ident Identity, loanID string, now time.Time) (Loan, error) {
	if err := s.checkMayBorrow(ident); err != nil {
		return Loan{}, err
	}

	loan, err := s.ledger.GetLoan(loanID)
	if err != nil {
		return Loan{}, err
	}

	lock := s.lockBook(loan.BookID)
	lock.Lock()
	defer lock.Unlock()

	renewed, err := s.ledger.RenewLoan(loanID, now, s.periodDays)
	if err != nil {
		return Loan{}, err
	}

	s.logger.Info("loan renewed", "loan_id", loanID, "book_id", renewed.BookID, "due_date", renewed.DueDate)
	s.emit(Event{Type: EventLoanRenewed, BookID: renewed.BookID, LoanID: loanID, MemberID: renewed.BorrowerID, OccurredAt: now})
	return renewed, nil
}

// Reserve places a claim on a book. An available book is borrowed
// immediately instead of queued. The book's critical section spans the
// whole check-then-borrow-or-enqueue sequence, so a concurrent return
// cannot slip between the availability check and the enqueue and leave a
// claim nothing will ever fulfill.
func (s *LendingService) Reserve(ident Identity, bookID string, now time.Time) (*Loan, error) {
	if err := s.checkMayBorrow(ident); err != nil {
		return nil, err
	}

	lock := s.lockBook(bookID)
	lock.Lock()
	defer lock.Unlock()

	book, err := s.catalog.GetBook(bookID)
	if err != nil {
		return nil, err
	}

	if book.Available {
		loan, err := s.borrowLocked(ident, bookID, now)
		if err != nil {
			return nil, err
		}
		return &loan, nil
	}

	if open, ok := s.ledger.OpenLoanForBook(bookID); ok && open.BorrowerID == ident.MemberID {
		return nil, fmt.Errorf("%w: member %s already holds book %s", ErrConflict, ident.MemberID, bookID)
	}
	if _, err := s.reservations.Enqueue(bookID, ident.MemberID, now); err != nil {
		return nil, err
	}

	s.logger.Info("reservation queued", "book_id", bookID, "member_id", ident.MemberID)
	s.emit(Event{Type: EventReservationQueued, BookID: bookID, MemberID: ident.MemberID, OccurredAt: now})
	return nil, nil
}

// CancelReservation withdraws the caller's claim on a book.
func (s *LendingService) CancelReservation(ident Identity, bookID string) error {
	return s.reservations.Cancel(bookID, ident.MemberID)
}

// ListBooks returns the catalog snapshot.
func (s *LendingService) ListBooks(ident Identity) []Book {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.catalog.ListBooks()
}

// Search runs a catalog query over the current snapshot.
func (s *LendingService) Search(ident Identity, q Query) []Book {
	s.stateMu.RLock()
	snapshot := s.catalog.ListBooks()
	s.stateMu.RUnlock()
	return SearchBooks(snapshot, q)
}

// ListOpenLoansForBorrower returns a borrower's open loans classified at
// now. Restricted to the caller's own loans unless the caller is an admin.
func (s *LendingService) ListOpenLoansForBorrower(ident Identity, borrowerID string, now time.Time) ([]Loan, error) {
	if ident.Role != RoleAdmin && ident.MemberID != borrowerID {
		return nil, fmt.Errorf("%w: loans of member %s are not visible to member %s", ErrAuthorization, borrowerID, ident.MemberID)
	}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.ledger.ListOpenLoansForBorrower(borrowerID, now), nil
}

// ListAllLoans returns every loan, history included, classified at now.
func (s *LendingService) ListAllLoans(ident Identity, now time.Time) []Loan {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.ledger.ListAllLoans(now)
}

// Snapshot returns the catalog and the classified loan set as one
// consistent view: no in-flight borrow or return is half-visible.
func (s *LendingService) Snapshot(ident Identity, now time.Time) ([]Book, []Loan) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.catalog.ListBooks(), s.ledger.ListAllLoans(now)
}
