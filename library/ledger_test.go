package library

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOpenLoanSetsDueDate(t *testing.T) {
	ledger := NewLoanLedger()

	loan, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)

	assert.Equal(t, date(2024, 2, 14), loan.DueDate)
	assert.Equal(t, LoanActive, loan.Status)
	assert.Equal(t, "book-1", loan.BookID)
	assert.Equal(t, "u1", loan.BorrowerID)
}

func TestOpenLoanRejectsDoubleBorrow(t *testing.T) {
	ledger := NewLoanLedger()

	_, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)

	_, err = ledger.OpenLoan("book-1", "u2", date(2024, 1, 16), 30)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCloseLoan(t *testing.T) {
	ledger := NewLoanLedger()
	loan, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)

	closed, err := ledger.CloseLoan(loan.ID, date(2024, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, LoanReturned, closed.Status)
	assert.Equal(t, date(2024, 2, 1), closed.ReturnDate)

	// Closing twice is an illegal transition.
	_, err = ledger.CloseLoan(loan.ID, date(2024, 2, 2))
	assert.ErrorIs(t, err, ErrInvalidState)

	// The book can be borrowed again once the loan is closed.
	_, err = ledger.OpenLoan("book-1", "u2", date(2024, 2, 3), 30)
	assert.NoError(t, err)

	_, err = ledger.CloseLoan("missing", date(2024, 2, 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClassify(t *testing.T) {
	loan := Loan{DueDate: date(2024, 2, 14), Status: LoanActive}

	assert.Equal(t, LoanOverdue, Classify(loan, date(2024, 2, 20)))
	assert.Equal(t, LoanActive, Classify(loan, date(2024, 2, 10)))
	// The due date itself is not overdue yet.
	assert.Equal(t, LoanActive, Classify(loan, date(2024, 2, 14)))

	returned := Loan{DueDate: date(2024, 2, 14), Status: LoanReturned}
	assert.Equal(t, LoanReturned, Classify(returned, date(2024, 3, 1)))
}

func TestClassifyIsIdempotentAndPure(t *testing.T) {
	ledger := NewLoanLedger()
	loan, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)

	asOf := date(2024, 2, 20)
	first := Classify(loan, asOf)
	second := Classify(loan, asOf)
	assert.Equal(t, first, second)

	// The stored record keeps its status; overdue is a view.
	stored, err := ledger.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanActive, stored.Status)
}

func TestRenewLoanExtendsActiveLoan(t *testing.T) {
	ledger := NewLoanLedger()
	loan, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 16), 30)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 15), loan.DueDate)

	renewed, err := ledger.RenewLoan(loan.ID, date(2024, 2, 10), 30)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 10).AddDate(0, 0, 30), renewed.DueDate)
	assert.Equal(t, LoanActive, renewed.Status)
}

func TestRenewLoanRejectsOverdue(t *testing.T) {
	ledger := NewLoanLedger()
	loan, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)

	_, err = ledger.RenewLoan(loan.ID, date(2024, 2, 20), 30)
	assert.ErrorIs(t, err, ErrInvalidState)

	// Due date must be untouched by the failed renewal.
	stored, err := ledger.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 14), stored.DueDate)
}

func TestRenewLoanRejectsReturned(t *testing.T) {
	ledger := NewLoanLedger()
	loan, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)
	_, err = ledger.CloseLoan(loan.ID, date(2024, 1, 20))
	require.NoError(t, err)

	_, err = ledger.RenewLoan(loan.ID, date(2024, 1, 25), 30)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDaysUntilDue(t *testing.T) {
	loan := Loan{DueDate: date(2024, 2, 14), Status: LoanActive}

	assert.Equal(t, 4, DaysUntilDue(loan, date(2024, 2, 10)))
	assert.Equal(t, 0, DaysUntilDue(loan, date(2024, 2, 14)))
	assert.Equal(t, -6, DaysUntilDue(loan, date(2024, 2, 20)))

	// Partial days round up.
	asOf := time.Date(2024, 2, 10, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, 4, DaysUntilDue(loan, asOf))
}

func TestListOpenLoansForBorrower(t *testing.T) {
	ledger := NewLoanLedger()
	l1, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)
	_, err = ledger.OpenLoan("book-2", "u2", date(2024, 1, 16), 30)
	require.NoError(t, err)
	l3, err := ledger.OpenLoan("book-3", "u1", date(2024, 1, 10), 30)
	require.NoError(t, err)
	_, err = ledger.CloseLoan(l3.ID, date(2024, 1, 20))
	require.NoError(t, err)

	loans := ledger.ListOpenLoansForBorrower("u1", date(2024, 3, 1))
	require.Len(t, loans, 1)
	assert.Equal(t, l1.ID, loans[0].ID)
	// Classification applied on read.
	assert.Equal(t, LoanOverdue, loans[0].Status)
}

func TestListAllLoansIncludesHistory(t *testing.T) {
	ledger := NewLoanLedger()
	l1, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)
	_, err = ledger.CloseLoan(l1.ID, date(2024, 1, 20))
	require.NoError(t, err)
	_, err = ledger.OpenLoan("book-1", "u2", date(2024, 1, 21), 30)
	require.NoError(t, err)

	loans := ledger.ListAllLoans(date(2024, 1, 25))
	require.Len(t, loans, 2)
	assert.Equal(t, LoanReturned, loans[0].Status)
	assert.Equal(t, LoanActive, loans[1].Status)
}

func TestDiscardLoan(t *testing.T) {
	ledger := NewLoanLedger()
	loan, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)

	require.NoError(t, ledger.discardLoan(loan.ID))

	// No trace remains: the loan is gone and the book is free to lend.
	_, err = ledger.GetLoan(loan.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, ledger.ListAllLoans(date(2024, 1, 16)))
	_, err = ledger.OpenLoan("book-1", "u2", date(2024, 1, 16), 30)
	assert.NoError(t, err)

	assert.ErrorIs(t, ledger.discardLoan("missing"), ErrNotFound)
}

func TestReopenLoan(t *testing.T) {
	ledger := NewLoanLedger()
	loan, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)
	_, err = ledger.CloseLoan(loan.ID, date(2024, 1, 20))
	require.NoError(t, err)

	require.NoError(t, ledger.reopenLoan(loan.ID))

	stored, err := ledger.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, LoanActive, stored.Status)
	assert.True(t, stored.ReturnDate.IsZero())

	open, ok := ledger.OpenLoanForBook("book-1")
	require.True(t, ok)
	assert.Equal(t, loan.ID, open.ID)

	assert.ErrorIs(t, ledger.reopenLoan("missing"), ErrNotFound)
}

func TestReopenLoanRefusesWhenBookLentAgain(t *testing.T) {
	ledger := NewLoanLedger()
	first, err := ledger.OpenLoan("book-1", "u1", date(2024, 1, 15), 30)
	require.NoError(t, err)
	_, err = ledger.CloseLoan(first.ID, date(2024, 1, 20))
	require.NoError(t, err)
	second, err := ledger.OpenLoan("book-1", "u2", date(2024, 1, 21), 30)
	require.NoError(t, err)

	assert.ErrorIs(t, ledger.reopenLoan(first.ID), ErrConflict)

	// The newer loan keeps the book.
	open, ok := ledger.OpenLoanForBook("book-1")
	require.True(t, ok)
	assert.Equal(t, second.ID, open.ID)
}
