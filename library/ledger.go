package library

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LoanLedger owns all Loan records and their lifecycle transitions. The
// stored status only ever holds active or returned; overdue exists purely
// as a classification against a point in time (see Classify), so read paths
// never trust a stale flag.
type LoanLedger struct {
	mu         sync.RWMutex
	loans      map[string]*Loan
	order      []string
	openByBook map[string]string // book id -> id of its single open loan
}

// NewLoanLedger creates an empty ledger.
func NewLoanLedger() *LoanLedger {
	return &LoanLedger{
		loans:      make(map[string]*Loan),
		openByBook: make(map[string]string),
	}
}

// OpenLoan creates an active loan due periodDays after borrowDate. A book
// can carry at most one open loan.
func (l *LoanLedger) OpenLoan(bookID, borrowerID string, borrowDate time.Time, periodDays int) (Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if open, ok := l.openByBook[bookID]; ok {
		return Loan{}, fmt.Errorf("%w: book %s already has open loan %s", ErrConflict, bookID, open)
	}

	loan := &Loan{
		ID:         uuid.NewString(),
		BookID:     bookID,
		BorrowerID: borrowerID,
		BorrowDate: borrowDate,
		DueDate:    borrowDate.AddDate(0, 0, periodDays),
		Status:     LoanActive,
	}
	l.loans[loan.ID] = loan
	l.order = append(l.order, loan.ID)
	l.openByBook[bookID] = loan.ID
	return *loan, nil
}

// GetLoan returns a copy of the loan with its stored status.
func (l *LoanLedger) GetLoan(id string) (Loan, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	loan, ok := l.loans[id]
	if !ok {
		return Loan{}, fmt.Errorf("%w: loan %s", ErrNotFound, id)
	}
	return *loan, nil
}

// CloseLoan terminates the loan. Returned loans stay in history but leave
// the open-loan set.
func (l *LoanLedger) CloseLoan(loanID string, returnDate time.Time) (Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, ok := l.loans[loanID]
	if !ok {
		return Loan{}, fmt.Errorf("%w: loan %s", ErrNotFound, loanID)
	}
	if loan.Status == LoanReturned {
		return Loan{}, fmt.Errorf("%w: loan %s already returned", ErrInvalidState, loanID)
	}

	loan.Status = LoanReturned
	loan.ReturnDate = returnDate
	delete(l.openByBook, loan.BookID)
	return *loan, nil
}

// RenewLoan extends the due date to asOf plus periodDays. Loans that are
// overdue as of asOf cannot renew; they must be returned first.
func (l *LoanLedger) RenewLoan(loanID string, asOf time.Time, periodDays int) (Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, ok := l.loans[loanID]
	if !ok {
		return Loan{}, fmt.Errorf("%w: loan %s", ErrNotFound, loanID)
	}
	if loan.Status == LoanReturned {
		return Loan{}, fmt.Errorf("%w: loan %s already returned", ErrInvalidState, loanID)
	}
	if Classify(*loan, asOf) == LoanOverdue {
		return Loan{}, fmt.Errorf("%w: loan %s is overdue and must be returned before it can renew", ErrInvalidState, loanID)
	}

	loan.DueDate = asOf.AddDate(0, 0, periodDays)
	loan.Status = LoanActive
	return *loan, nil
}

// Classify resolves the effective status of a loan at asOf. Pure: it never
// mutates the stored record, and calling it twice with the same inputs
// yields the same answer.
func Classify(loan Loan, asOf time.Time) LoanStatus {
	if loan.Status == LoanActive && asOf.After(loan.DueDate) {
		return LoanOverdue
	}
	return loan.Status
}

// DaysUntilDue is the ceiling of whole days between asOf and the due date.
// Negative once the loan is past due.
func DaysUntilDue(loan Loan, asOf time.Time) int {
	return int(math.Ceil(loan.DueDate.Sub(asOf).Hours() / 24))
}

// OpenLoanForBook reports the open loan referencing the book, if any.
func (l *LoanLedger) OpenLoanForBook(bookID string) (Loan, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.openByBook[bookID]
	if !ok {
		return Loan{}, false
	}
	return *l.loans[id], true
}

// ListOpenLoansForBorrower returns the borrower's open loans classified at
// asOf, in insertion order.
func (l *LoanLedger) ListOpenLoansForBorrower(borrowerID string, asOf time.Time) []Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Loan
	for _, id := range l.order {
		loan := l.loans[id]
		if loan.BorrowerID != borrowerID || loan.Status == LoanReturned {
			continue
		}
		cp := *loan
		cp.Status = Classify(cp, asOf)
		out = append(out, cp)
	}
	return out
}

// ListAllLoans returns every loan, history included, classified at asOf.
func (l *LoanLedger) ListAllLoans(asOf time.Time) []Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Loan, 0, len(l.order))
	for _, id := range l.order {
		cp := *l.loans[id]
		cp.Status = Classify(cp, asOf)
		out = append(out, cp)
	}
	return out
}

// listStored returns every loan with its stored (unclassified) status, in
// insertion order. The persistence layer snapshots through this.
func (l *LoanLedger) listStored() []Loan {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Loan, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.loans[id])
	}
	return out
}

// discardLoan erases a loan as if it was never created. It exists for the
// lending service's compensating rollback when the availability write of a
// borrow fails after the loan was opened.
func (l *LoanLedger) discardLoan(loanID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, ok := l.loans[loanID]
	if !ok {
		return fmt.Errorf("%w: loan %s", ErrNotFound, loanID)
	}
	delete(l.loans, loanID)
	if l.openByBook[loan.BookID] == loanID {
		delete(l.openByBook, loan.BookID)
	}
	for i, id := range l.order {
		if id == loanID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return nil
}

// reopenLoan undoes a CloseLoan during rollback of a failed return.
func (l *LoanLedger) reopenLoan(loanID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, ok := l.loans[loanID]
	if !ok {
		return fmt.Errorf("%w: loan %s", ErrNotFound, loanID)
	}
	if open, exists := l.openByBook[loan.BookID]; exists && open != loanID {
		return fmt.Errorf("%w: book %s already has open loan %s", ErrConflict, loan.BookID, open)
	}
	loan.Status = LoanActive
	loan.ReturnDate = time.Time{}
	l.openByBook[loan.BookID] = loanID
	return nil
}

// restoreLoan reinstates a persisted loan verbatim. Used when loading state
// from the store.
func (l *LoanLedger) restoreLoan(loan Loan) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := loan
	l.loans[loan.ID] = &cp
	l.order = append(l.order, loan.ID)
	if loan.Status != LoanReturned {
		l.openByBook[loan.BookID] = loan.ID
	}
}
